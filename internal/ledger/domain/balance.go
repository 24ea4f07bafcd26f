package domain

import (
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/stockledger/internal/apperror"
)

// MinorUnit is one unit in the last decimal place of a currency with the
// given precision.
func MinorUnit(precision int32) decimal.Decimal {
	return decimal.New(1, -precision)
}

// FitsPrecision reports whether amount has no more than precision decimals.
func FitsPrecision(amount decimal.Decimal, precision int32) bool {
	return amount.Equal(amount.Round(precision))
}

type Totals struct {
	Debit            decimal.Decimal
	Credit           decimal.Decimal
	DebitFunctional  decimal.Decimal
	CreditFunctional decimal.Decimal
}

func SumLines(lines []JournalEntryLine) Totals {
	t := Totals{
		Debit:            decimal.Zero,
		Credit:           decimal.Zero,
		DebitFunctional:  decimal.Zero,
		CreditFunctional: decimal.Zero,
	}
	for _, l := range lines {
		t.Debit = t.Debit.Add(l.Debit)
		t.Credit = t.Credit.Add(l.Credit)
		t.DebitFunctional = t.DebitFunctional.Add(l.DebitFunctional)
		t.CreditFunctional = t.CreditFunctional.Add(l.CreditFunctional)
	}
	return t
}

// Balance checks that both the transaction and functional columns balance
// within one minor unit of their currency. A functional residual inside the
// tolerance is moved onto the largest line of the short side, so functional
// totals always match exactly.
func Balance(lines []JournalEntryLine, txnPrecision, functionalPrecision int32) error {
	t := SumLines(lines)
	if t.Debit.Sub(t.Credit).Abs().GreaterThan(MinorUnit(txnPrecision)) {
		return apperror.ErrUnbalancedEntry.With("debits %s do not equal credits %s", t.Debit, t.Credit)
	}

	diff := t.DebitFunctional.Sub(t.CreditFunctional)
	if diff.Abs().GreaterThan(MinorUnit(functionalPrecision)) {
		return apperror.ErrUnbalancedEntry.With("functional debits %s do not equal functional credits %s", t.DebitFunctional, t.CreditFunctional)
	}
	if diff.IsZero() {
		return nil
	}

	idx := -1
	for i, l := range lines {
		if diff.IsPositive() {
			if l.Debit.IsZero() && (idx < 0 || l.CreditFunctional.GreaterThan(lines[idx].CreditFunctional)) {
				idx = i
			}
			continue
		}
		if l.Credit.IsZero() && (idx < 0 || l.DebitFunctional.GreaterThan(lines[idx].DebitFunctional)) {
			idx = i
		}
	}
	if idx < 0 {
		return apperror.ErrUnbalancedEntry.With("no line can absorb functional residual %s", diff)
	}

	if diff.IsPositive() {
		lines[idx].CreditFunctional = lines[idx].CreditFunctional.Add(diff)
	} else {
		lines[idx].DebitFunctional = lines[idx].DebitFunctional.Add(diff.Neg())
	}
	return nil
}
