package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/stockledger/internal/config"
)

const daysPerYear = 365

// shareScale is the number of decimals kept on value shares.
const shareScale = 6

// BucketFor returns the aging bucket holding days. The last bucket absorbs
// anything past the schedule.
func BucketFor(buckets []config.AgingBucket, days int) config.AgingBucket {
	for _, b := range buckets {
		if b.Contains(days) {
			return b
		}
	}
	return buckets[len(buckets)-1]
}

// AgeDays counts whole days from since to asOf, never negative.
func AgeDays(since, asOf time.Time) int {
	if !asOf.After(since) {
		return 0
	}
	return int(asOf.Sub(since).Hours() / 24)
}

// Classify sorts rows by value descending and assigns classes. An item is A
// while the share accumulated before it is below thresholds.A, then B while
// below thresholds.B, then C. With no value every row is C.
func Classify(rows []ABCRow, thresholds config.ABCThresholds) decimal.Decimal {
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].Value.Equal(rows[j].Value) {
			return rows[i].Value.GreaterThan(rows[j].Value)
		}
		return rows[i].SKU < rows[j].SKU
	})

	total := decimal.Zero
	for _, r := range rows {
		total = total.Add(r.Value)
	}

	a := decimal.NewFromFloat(thresholds.A)
	b := decimal.NewFromFloat(thresholds.B)
	cumulative := decimal.Zero
	for i := range rows {
		if !total.IsPositive() {
			rows[i].Share = decimal.Zero
			rows[i].CumulativeShare = decimal.Zero
			rows[i].Class = ClassC
			continue
		}
		before := cumulative
		share := rows[i].Value.DivRound(total, shareScale)
		cumulative = cumulative.Add(share)
		rows[i].Share = share
		rows[i].CumulativeShare = cumulative
		switch {
		case before.LessThan(a):
			rows[i].Class = ClassA
		case before.LessThan(b):
			rows[i].Class = ClassB
		default:
			rows[i].Class = ClassC
		}
	}
	return total
}

// Annualize fills the turnover ratio and days on hand of a row whose COGS,
// opening and closing values are set.
func Annualize(row *TurnoverRow, windowDays int, precision int32) {
	row.AverageInventory = row.OpeningValue.Add(row.ClosingValue).Div(decimal.NewFromInt(2)).RoundBank(precision)
	row.Turnover = decimal.Zero
	row.DaysOnHand = decimal.Zero
	if !row.AverageInventory.IsPositive() || windowDays <= 0 {
		return
	}
	year := decimal.NewFromInt(daysPerYear)
	ratio := row.COGS.Div(row.AverageInventory).Mul(year).Div(decimal.NewFromInt(int64(windowDays)))
	row.Turnover = ratio.Round(4)
	if ratio.IsPositive() {
		row.DaysOnHand = year.Div(ratio).Round(2)
	}
}
