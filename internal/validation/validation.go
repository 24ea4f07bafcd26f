package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/stockledger/internal/apperror"
)

var (
	once     sync.Once
	instance *validator.Validate
)

func get() *validator.Validate {
	once.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return fld.Name
			}
			return name
		})
		v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
			if d, ok := field.Interface().(decimal.Decimal); ok {
				f, _ := d.Float64()
				return f
			}
			return nil
		}, decimal.Decimal{})
		instance = v
	})
	return instance
}

// Struct validates every field of req and reports the first violation.
//
// Violations are ordered by struct declaration order; slices tagged with
// `dive` are visited element by element after the fields declared before them.
func Struct(req any) error {
	err := get().Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperror.Validation("", "invalid", err.Error())
	}

	first := verrs[0]
	return apperror.Validation(fieldPath(first), first.Tag(), describe(first))
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		return ns[idx+1:]
	}
	return fe.Field()
}

func describe(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag())
	}
	return fmt.Sprintf("%s failed %q (%s)", fe.Field(), fe.Tag(), fe.Param())
}

// StructAt validates req as an element nested under prefix, such as "lines[2]".
func StructAt(prefix string, req any) error {
	err := Struct(req)
	var appErr *apperror.Error
	if err == nil || prefix == "" || !errors.As(err, &appErr) {
		return err
	}
	clone := *appErr
	if clone.Field == "" {
		clone.Field = prefix
	} else {
		clone.Field = prefix + "." + clone.Field
	}
	return &clone
}
