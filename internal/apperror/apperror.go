package apperror

import (
	"errors"
	"fmt"
	"strings"
)

// Kind groups errors by how callers are expected to react to them.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindInvariant    Kind = "invariant_violation"
	KindImmutable    Kind = "immutable_state"
	KindRateNotFound Kind = "rate_not_found"
	KindLockConflict Kind = "lock_conflict"
)

// Error is the typed error returned by every mutating operation of the engine.
type Error struct {
	Kind    Kind
	Code    string
	Field   string
	Message string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Code)
	if e.Field != "" {
		b.WriteString(" (")
		b.WriteString(e.Field)
		b.WriteString(")")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// Is matches on code, or on kind alone when the target carries no code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code == "" {
		return t.Kind == e.Kind
	}
	return t.Code == e.Code
}

// With returns a copy of the error carrying a formatted message.
func (e *Error) With(format string, args ...any) *Error {
	clone := *e
	clone.Message = fmt.Sprintf(format, args...)
	return &clone
}

// Kind sentinels, matched with errors.Is.
var (
	ErrValidation         = &Error{Kind: KindValidation}
	ErrInvariantViolation = &Error{Kind: KindInvariant}
	ErrImmutableState     = &Error{Kind: KindImmutable}
)

var (
	ErrUnbalancedEntry         = &Error{Kind: KindInvariant, Code: "unbalanced_entry"}
	ErrNonLeafAccount          = &Error{Kind: KindInvariant, Code: "non_leaf_account"}
	ErrNonContiguousFiscalYear = &Error{Kind: KindInvariant, Code: "non_contiguous_fiscal_year"}
	ErrClosedFiscalPeriod      = &Error{Kind: KindInvariant, Code: "closed_fiscal_period"}
	ErrMissingLotReference     = &Error{Kind: KindInvariant, Code: "missing_lot_reference"}
	ErrSerialCountMismatch     = &Error{Kind: KindInvariant, Code: "serial_count_mismatch"}
	ErrInsufficientCostLayers  = &Error{Kind: KindInvariant, Code: "insufficient_cost_layers"}
	ErrInsufficientStock       = &Error{Kind: KindInvariant, Code: "insufficient_stock"}

	ErrAlreadyPosted    = &Error{Kind: KindImmutable, Code: "already_posted"}
	ErrImmutableEntry   = &Error{Kind: KindImmutable, Code: "immutable_entry"}
	ErrFiscalYearClosed = &Error{Kind: KindImmutable, Code: "fiscal_year_closed"}

	ErrRateNotFound = &Error{Kind: KindRateNotFound, Code: "rate_not_found"}
	ErrLockConflict = &Error{Kind: KindLockConflict, Code: "lock_conflict"}
)

// Validation builds a ValidationError for a single field.
func Validation(field, code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Field: field, Message: message}
}

// KindOf reports the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

// CodeOf reports the code of err, or "" when err is not an *Error.
func CodeOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

func IsInvariant(err error) bool { return errors.Is(err, ErrInvariantViolation) }

func IsImmutable(err error) bool { return errors.Is(err, ErrImmutableState) }
