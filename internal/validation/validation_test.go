package validation

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/stockledger/internal/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lineReq struct {
	Account string          `json:"account" validate:"required"`
	Amount  decimal.Decimal `json:"amount" validate:"gte=0"`
}

type productReq struct {
	SKU          string          `json:"sku" validate:"required"`
	Name         string          `json:"name" validate:"required"`
	StandardCost decimal.Decimal `json:"standard_cost" validate:"gte=0"`
	Lines        []lineReq       `json:"lines" validate:"dive"`
}

func TestStructReportsFirstViolationInDeclarationOrder(t *testing.T) {
	err := Struct(productReq{
		SKU:          "",
		Name:         "",
		StandardCost: decimal.NewFromInt(-5),
	})
	require.Error(t, err)

	var appErr *apperror.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperror.KindValidation, appErr.Kind)
	assert.Equal(t, "sku", appErr.Field)
	assert.Equal(t, "required", appErr.Code)
}

func TestStructNegativeDecimal(t *testing.T) {
	err := Struct(productReq{SKU: "A", Name: "Widget", StandardCost: decimal.RequireFromString("-0.01")})

	var appErr *apperror.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "standard_cost", appErr.Field)
	assert.Equal(t, "gte", appErr.Code)
}

func TestStructDivesIntoSlices(t *testing.T) {
	err := Struct(productReq{
		SKU:  "A",
		Name: "Widget",
		Lines: []lineReq{
			{Account: "1010", Amount: decimal.NewFromInt(1)},
			{Account: "", Amount: decimal.NewFromInt(1)},
		},
	})

	var appErr *apperror.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "lines[1].account", appErr.Field)
}

func TestStructValid(t *testing.T) {
	assert.NoError(t, Struct(productReq{SKU: "A", Name: "Widget"}))
}

func TestStructAtPrefixesField(t *testing.T) {
	err := StructAt("lines[3]", lineReq{Account: "", Amount: decimal.NewFromInt(1)})

	var appErr *apperror.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "lines[3].account", appErr.Field)
	assert.NoError(t, StructAt("lines[0]", lineReq{Account: "1010"}))
}
