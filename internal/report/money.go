package report

import (
	"time"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Money formats amount with the ISO symbol and grouping of code. Codes go-money
// does not know are printed with two decimals and the code as suffix.
func Money(amount decimal.Decimal, code string) string {
	cur := money.GetCurrency(code)
	if cur == nil {
		return amount.StringFixed(2) + " " + code
	}
	minor := amount.Shift(int32(cur.Fraction)).Round(0).IntPart()
	return cur.Formatter().Format(minor)
}

// Amount is Money with zero printed as an empty cell.
func Amount(amount decimal.Decimal, code string) string {
	if amount.IsZero() {
		return ""
	}
	return Money(amount, code)
}

func Quantity(q decimal.Decimal) string {
	return q.String()
}

// Percent prints a 0..1 share as a percentage with two decimals.
func Percent(share decimal.Decimal) string {
	return share.Shift(2).StringFixed(2) + "%"
}

func Date(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
