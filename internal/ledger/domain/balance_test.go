package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/stockledger/internal/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func line(debit, credit, debitF, creditF string) JournalEntryLine {
	return JournalEntryLine{
		Debit:            decimal.RequireFromString(debit),
		Credit:           decimal.RequireFromString(credit),
		DebitFunctional:  decimal.RequireFromString(debitF),
		CreditFunctional: decimal.RequireFromString(creditF),
	}
}

func TestBalanceAcceptsExactEntry(t *testing.T) {
	lines := []JournalEntryLine{
		line("100", "0", "110", "0"),
		line("0", "100", "0", "110"),
	}
	require.NoError(t, Balance(lines, 2, 2))
}

func TestBalanceRejectsTransactionDifference(t *testing.T) {
	lines := []JournalEntryLine{
		line("100", "0", "100", "0"),
		line("0", "99.98", "0", "99.98"),
	}
	err := Balance(lines, 2, 2)
	assert.True(t, errors.Is(err, apperror.ErrUnbalancedEntry))
	assert.True(t, apperror.IsInvariant(err))
}

func TestBalancePlugsFunctionalResidual(t *testing.T) {
	// three credits of 33.33 converted separately leave one cent behind.
	lines := []JournalEntryLine{
		line("99.99", "0", "100.00", "0"),
		line("0", "33.33", "0", "33.33"),
		line("0", "33.33", "0", "33.33"),
		line("0", "33.33", "0", "33.33"),
	}
	require.NoError(t, Balance(lines, 2, 2))

	totals := SumLines(lines)
	assert.True(t, totals.DebitFunctional.Equal(totals.CreditFunctional))
	assert.Equal(t, "33.34", lines[1].CreditFunctional.StringFixed(2))
}

func TestBalanceRejectsFunctionalOutsideTolerance(t *testing.T) {
	lines := []JournalEntryLine{
		line("100", "0", "15000", "0"),
		line("0", "100", "0", "14998"),
	}
	err := Balance(lines, 2, 0)
	assert.True(t, errors.Is(err, apperror.ErrUnbalancedEntry))
}

func TestFitsPrecision(t *testing.T) {
	assert.True(t, FitsPrecision(decimal.RequireFromString("10.25"), 2))
	assert.False(t, FitsPrecision(decimal.RequireFromString("10.255"), 2))
	assert.True(t, FitsPrecision(decimal.RequireFromString("10"), 0))
}

func TestEntryStatusTransitions(t *testing.T) {
	assert.True(t, EntryStatusDraft.CanTransition(EntryStatusPosted))
	assert.False(t, EntryStatusPosted.CanTransition(EntryStatusDraft))
	assert.False(t, EntryStatusPosted.CanTransition(EntryStatusPosted))
}
