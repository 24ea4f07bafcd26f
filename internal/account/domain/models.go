package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type AccountType string

const (
	AccountTypeAsset         AccountType = "asset"
	AccountTypeLiability     AccountType = "liability"
	AccountTypeEquity        AccountType = "equity"
	AccountTypeRevenue       AccountType = "revenue"
	AccountTypeContraRevenue AccountType = "contra_revenue"
	AccountTypeExpense       AccountType = "expense"
)

type NormalBalance string

const (
	NormalBalanceDebit  NormalBalance = "debit"
	NormalBalanceCredit NormalBalance = "credit"
)

// NormalBalanceFor derives the side on which an account type increases.
func NormalBalanceFor(t AccountType) NormalBalance {
	switch t {
	case AccountTypeAsset, AccountTypeExpense, AccountTypeContraRevenue:
		return NormalBalanceDebit
	default:
		return NormalBalanceCredit
	}
}

// IsNominal reports whether balances of the type are closed into retained
// earnings at year end.
func (t AccountType) IsNominal() bool {
	switch t {
	case AccountTypeRevenue, AccountTypeContraRevenue, AccountTypeExpense:
		return true
	default:
		return false
	}
}

// Account is a chart of accounts node. Balances are kept in normal-balance
// sign: a positive balance sits on the account's normal side.
type Account struct {
	Code              string          `gorm:"primaryKey;type:varchar(32)" json:"code"`
	Name              string          `gorm:"type:varchar(128);not null" json:"name"`
	Type              AccountType     `gorm:"type:varchar(16);not null" json:"type"`
	NormalBalance     NormalBalance   `gorm:"type:varchar(8);not null" json:"normal_balance"`
	CurrencyCode      string          `gorm:"type:varchar(8);not null" json:"currency_code"`
	ParentCode        *string         `gorm:"type:varchar(32);index" json:"parent_code,omitempty"`
	BalanceNative     decimal.Decimal `gorm:"type:decimal(28,8);not null;default:0" json:"balance_native"`
	BalanceFunctional decimal.Decimal `gorm:"type:decimal(28,8);not null;default:0" json:"balance_functional"`
	PostedLines       int64           `gorm:"not null;default:0" json:"posted_lines"`
	CreatedAt         time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"not null" json:"updated_at"`
}

func (Account) TableName() string { return "accounts" }

// Signed turns a debit/credit pair into a delta in the account's normal-balance sign.
func (a Account) Signed(debit, credit decimal.Decimal) decimal.Decimal {
	if a.NormalBalance == NormalBalanceDebit {
		return debit.Sub(credit)
	}
	return credit.Sub(debit)
}

// DebitPositive returns a normal-balance amount as debit-positive.
func (a Account) DebitPositive(amount decimal.Decimal) decimal.Decimal {
	if a.NormalBalance == NormalBalanceDebit {
		return amount
	}
	return amount.Neg()
}

func (a Account) HasActivity() bool { return a.PostedLines > 0 }
