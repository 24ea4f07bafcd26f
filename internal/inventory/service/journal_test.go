package service

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalMergesByAccountAndSideInFirstTouchOrder(t *testing.T) {
	j := newJournal()
	j.debit("1300", decimal.NewFromInt(100), nil)
	j.credit("2100", decimal.NewFromInt(100), &foreignAmount{amount: decimal.NewFromInt(90), code: "EUR", rate: decimal.RequireFromString("1.1")})
	j.debit("1300", decimal.NewFromInt(50), nil)
	j.credit("2100", decimal.NewFromInt(50), &foreignAmount{amount: decimal.NewFromInt(45), code: "EUR", rate: decimal.RequireFromString("1.1")})
	j.credit("1300", decimal.NewFromInt(20), nil)
	j.debit("5100", decimal.Zero, nil)

	lines := j.lines()
	require.Len(t, lines, 3)

	assert.Equal(t, "1300", lines[0].AccountCode)
	assert.Equal(t, "150", lines[0].Debit.String())
	assert.Nil(t, lines[0].ForeignAmount)

	assert.Equal(t, "2100", lines[1].AccountCode)
	assert.Equal(t, "150", lines[1].Credit.String())
	require.NotNil(t, lines[1].ForeignAmount)
	assert.Equal(t, "135", lines[1].ForeignAmount.String())
	assert.Equal(t, "EUR", lines[1].ForeignCurrencyCode)

	assert.Equal(t, "1300", lines[2].AccountCode)
	assert.Equal(t, "20", lines[2].Credit.String())
	assert.True(t, lines[2].Debit.IsZero())
}
