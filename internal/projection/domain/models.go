package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	inventorydomain "github.com/smallbiznis/stockledger/internal/inventory/domain"
)

// ValuationRow is the carried value of one product at one location.
type ValuationRow struct {
	ProductID     snowflake.ID                  `json:"product_id"`
	SKU           string                        `json:"sku"`
	CostingMethod inventorydomain.CostingMethod `json:"costing_method"`
	LocationID    string                        `json:"location_id"`
	Quantity      decimal.Decimal               `json:"quantity"`
	UnitCost      decimal.Decimal               `json:"unit_cost"`
	Value         decimal.Decimal               `json:"value"`
}

type Valuation struct {
	Currency string          `json:"currency"`
	Rows     []ValuationRow  `json:"rows"`
	Total    decimal.Decimal `json:"total"`
}

type AgingRow struct {
	ValuationRow
	OldestLayerAt    *time.Time      `json:"oldest_layer_at,omitempty"`
	AgeDays          int             `json:"age_days"`
	Bucket           string          `json:"bucket"`
	ObsolescenceRate decimal.Decimal `json:"obsolescence_rate"`
	Reserve          decimal.Decimal `json:"reserve"`
}

type AgingBucketTotal struct {
	Label   string          `json:"label"`
	Value   decimal.Decimal `json:"value"`
	Reserve decimal.Decimal `json:"reserve"`
}

type AgingReport struct {
	AsOf         time.Time          `json:"as_of"`
	Currency     string             `json:"currency"`
	Rows         []AgingRow         `json:"rows"`
	Buckets      []AgingBucketTotal `json:"buckets"`
	Total        decimal.Decimal    `json:"total"`
	TotalReserve decimal.Decimal    `json:"total_reserve"`
}

type ABCClass string

const (
	ClassA ABCClass = "A"
	ClassB ABCClass = "B"
	ClassC ABCClass = "C"
)

type ABCRow struct {
	SKU             string          `json:"sku"`
	Value           decimal.Decimal `json:"value"`
	Share           decimal.Decimal `json:"share"`
	CumulativeShare decimal.Decimal `json:"cumulative_share"`
	Class           ABCClass        `json:"class"`
}

type ABCReport struct {
	Currency string          `json:"currency"`
	Rows     []ABCRow        `json:"rows"`
	Total    decimal.Decimal `json:"total"`
}

type TurnoverRow struct {
	SKU              string          `json:"sku"`
	COGS             decimal.Decimal `json:"cogs"`
	OpeningValue     decimal.Decimal `json:"opening_value"`
	ClosingValue     decimal.Decimal `json:"closing_value"`
	AverageInventory decimal.Decimal `json:"average_inventory"`
	Turnover         decimal.Decimal `json:"turnover"`
	DaysOnHand       decimal.Decimal `json:"days_on_hand"`
}

type TurnoverReport struct {
	From       time.Time     `json:"from"`
	To         time.Time     `json:"to"`
	WindowDays int           `json:"window_days"`
	Currency   string        `json:"currency"`
	Rows       []TurnoverRow `json:"rows"`
	Total      TurnoverRow   `json:"total"`
}

// ExposureRow is one non-functional account. Amounts are debit-positive.
type ExposureRow struct {
	AccountCode        string          `json:"account_code"`
	AccountName        string          `json:"account_name"`
	Currency           string          `json:"currency"`
	Native             decimal.Decimal `json:"native"`
	BookedFunctional   decimal.Decimal `json:"booked_functional"`
	Rate               decimal.Decimal `json:"rate"`
	RevaluedFunctional decimal.Decimal `json:"revalued_functional"`
	UnrealizedGainLoss decimal.Decimal `json:"unrealized_gain_loss"`
}

type CurrencyExposure struct {
	Currency           string          `json:"currency"`
	Rate               decimal.Decimal `json:"rate"`
	Native             decimal.Decimal `json:"native"`
	BookedFunctional   decimal.Decimal `json:"booked_functional"`
	RevaluedFunctional decimal.Decimal `json:"revalued_functional"`
	UnrealizedGainLoss decimal.Decimal `json:"unrealized_gain_loss"`
	Accounts           []ExposureRow   `json:"accounts"`
}

type ExposureReport struct {
	AsOf       time.Time          `json:"as_of"`
	Functional string             `json:"functional"`
	Currencies []CurrencyExposure `json:"currencies"`
}

type TrialBalanceRow struct {
	AccountCode string          `json:"account_code"`
	AccountName string          `json:"account_name"`
	AccountType string          `json:"account_type"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
}

type TrialBalance struct {
	AsOf        *time.Time        `json:"as_of,omitempty"`
	Currency    string            `json:"currency"`
	Rows        []TrialBalanceRow `json:"rows"`
	TotalDebit  decimal.Decimal   `json:"total_debit"`
	TotalCredit decimal.Decimal   `json:"total_credit"`
}

// Balanced reports whether functional debits equal functional credits.
func (t TrialBalance) Balanced() bool {
	return t.TotalDebit.Equal(t.TotalCredit)
}

// DriftRow is an account whose stored functional balance differs from the
// signed sum of its posted lines.
type DriftRow struct {
	AccountCode string          `json:"account_code"`
	Stored      decimal.Decimal `json:"stored"`
	Computed    decimal.Decimal `json:"computed"`
}

// PostedMovement is a posted inventory transaction line with its header.
type PostedMovement struct {
	ProductID         snowflake.ID
	TransactionDate   time.Time
	Direction         inventorydomain.Direction
	OffsetAccountCode string
	Quantity          decimal.Decimal
	TotalCost         decimal.Decimal
}

// SignedCost is the movement's effect on inventory value.
func (m PostedMovement) SignedCost() decimal.Decimal {
	if m.Direction == inventorydomain.DirectionDecrease {
		return m.TotalCost.Neg()
	}
	return m.TotalCost
}
