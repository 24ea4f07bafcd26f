package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Currency struct {
	Code         string    `gorm:"primaryKey;type:varchar(8)" json:"code"`
	Name         string    `gorm:"type:varchar(64)" json:"name"`
	Precision    int32     `gorm:"not null" json:"precision"`
	IsFunctional bool      `gorm:"not null;default:false;index" json:"is_functional"`
	CreatedAt    time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time `gorm:"not null" json:"updated_at"`
}

func (Currency) TableName() string { return "currencies" }

// MinorUnit is the smallest representable amount, e.g. 0.01 for precision 2.
func (c Currency) MinorUnit() decimal.Decimal {
	return decimal.New(1, -c.Precision)
}

// ExchangeRate converts one unit of FromCurrency into Rate units of ToCurrency
// from EffectiveAt onwards.
type ExchangeRate struct {
	ID           snowflake.ID    `gorm:"primaryKey" json:"id"`
	FromCurrency string          `gorm:"type:varchar(8);not null;uniqueIndex:ux_exchange_rate,priority:1" json:"from_currency"`
	ToCurrency   string          `gorm:"type:varchar(8);not null;uniqueIndex:ux_exchange_rate,priority:2" json:"to_currency"`
	EffectiveAt  time.Time       `gorm:"not null;uniqueIndex:ux_exchange_rate,priority:3" json:"effective_at"`
	Rate         decimal.Decimal `gorm:"type:decimal(28,12);not null" json:"rate"`
	CreatedAt    time.Time       `gorm:"not null" json:"created_at"`
}

func (ExchangeRate) TableName() string { return "exchange_rates" }

// RateQuote is a resolved rate and how it was obtained.
type RateQuote struct {
	From        string          `json:"from"`
	To          string          `json:"to"`
	Rate        decimal.Decimal `json:"rate"`
	EffectiveAt time.Time       `json:"effective_at"`
	Inverse     bool            `json:"inverse"`
}
