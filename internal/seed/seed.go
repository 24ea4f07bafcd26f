// Package seed loads the reference data a fresh book needs before anything
// can post: currencies, a functional currency, the chart of accounts and the
// inventory transaction types.
package seed

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	accountdomain "github.com/smallbiznis/stockledger/internal/account/domain"
	currencydomain "github.com/smallbiznis/stockledger/internal/currency/domain"
	inventorydomain "github.com/smallbiznis/stockledger/internal/inventory/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const DefaultFunctionalCurrency = "USD"

// Chart codes other packages and the CLI refer to.
const (
	CashAccount             = "1100"
	ReceivableAccount       = "1200"
	InventoryAccount        = "1300"
	PayableAccount          = "2100"
	ReceivedNotBilled       = "2200"
	RetainedEarningsAccount = "3200"
	SalesAccount            = "4100"
	COGSAccount             = "5100"
	PriceVarianceAccount    = "5200"
	ShrinkageAccount        = "5300"
	AdjustmentAccount       = "5400"
)

type Options struct {
	FunctionalCurrency string
}

var currencies = []struct {
	code string
	name string
}{
	{"USD", "US Dollar"},
	{"EUR", "Euro"},
	{"GBP", "Pound Sterling"},
	{"JPY", "Yen"},
	{"IDR", "Rupiah"},
	{"SGD", "Singapore Dollar"},
	{"AUD", "Australian Dollar"},
	{"CAD", "Canadian Dollar"},
	{"CHF", "Swiss Franc"},
	{"CNY", "Yuan Renminbi"},
}

type account struct {
	code   string
	parent string
	typ    accountdomain.AccountType
	name   string
}

// Parents are listed before their children.
var chart = []account{
	{"1000", "", accountdomain.AccountTypeAsset, "Assets"},
	{CashAccount, "1000", accountdomain.AccountTypeAsset, "Cash and bank"},
	{ReceivableAccount, "1000", accountdomain.AccountTypeAsset, "Accounts receivable"},
	{InventoryAccount, "1000", accountdomain.AccountTypeAsset, "Inventory"},

	{"2000", "", accountdomain.AccountTypeLiability, "Liabilities"},
	{PayableAccount, "2000", accountdomain.AccountTypeLiability, "Accounts payable"},
	{ReceivedNotBilled, "2000", accountdomain.AccountTypeLiability, "Goods received not invoiced"},

	{"3000", "", accountdomain.AccountTypeEquity, "Equity"},
	{"3100", "3000", accountdomain.AccountTypeEquity, "Owner capital"},
	{RetainedEarningsAccount, "3000", accountdomain.AccountTypeEquity, "Retained earnings"},

	{"4000", "", accountdomain.AccountTypeRevenue, "Revenue"},
	{SalesAccount, "4000", accountdomain.AccountTypeRevenue, "Sales"},
	{"4200", "4000", accountdomain.AccountTypeContraRevenue, "Sales returns"},

	{"5000", "", accountdomain.AccountTypeExpense, "Expenses"},
	{COGSAccount, "5000", accountdomain.AccountTypeExpense, "Cost of goods sold"},
	{PriceVarianceAccount, "5000", accountdomain.AccountTypeExpense, "Purchase price variance"},
	{ShrinkageAccount, "5000", accountdomain.AccountTypeExpense, "Inventory shrinkage"},
	{AdjustmentAccount, "5000", accountdomain.AccountTypeExpense, "Inventory adjustments"},
}

var transactionTypes = []inventorydomain.TransactionType{
	{Code: "RECEIPT", Name: "Purchase receipt", Direction: inventorydomain.DirectionIncrease, OffsetAccountCode: ReceivedNotBilled},
	{Code: "PURCHASE_RETURN", Name: "Return to supplier", Direction: inventorydomain.DirectionDecrease, OffsetAccountCode: ReceivedNotBilled},
	{Code: "SALE", Name: "Sales issue", Direction: inventorydomain.DirectionDecrease},
	{Code: "CUSTOMER_RETURN", Name: "Customer return", Direction: inventorydomain.DirectionIncrease, OffsetAccountCode: COGSAccount},
	{Code: "SHRINK", Name: "Shrinkage write-off", Direction: inventorydomain.DirectionDecrease, OffsetAccountCode: ShrinkageAccount},
	{Code: "ADJUST_IN", Name: "Count adjustment in", Direction: inventorydomain.DirectionIncrease, OffsetAccountCode: AdjustmentAccount},
	{Code: "ADJUST_OUT", Name: "Count adjustment out", Direction: inventorydomain.DirectionDecrease, OffsetAccountCode: AdjustmentAccount},
}

// Ensure inserts whatever reference rows are missing. Existing rows are left
// as they are, so it is safe to run on every start.
func Ensure(ctx context.Context, conn *gorm.DB, opts Options) error {
	if conn == nil {
		return errors.New("seed database handle is required")
	}
	functional := strings.ToUpper(strings.TrimSpace(opts.FunctionalCurrency))
	if functional == "" {
		functional = DefaultFunctionalCurrency
	}

	return conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		if err := ensureCurrencies(tx, now); err != nil {
			return err
		}
		code, err := ensureFunctional(tx, functional, now)
		if err != nil {
			return err
		}
		if err := ensureChart(tx, code, now); err != nil {
			return err
		}
		return ensureTransactionTypes(tx, now)
	})
}

func ensureCurrencies(tx *gorm.DB, now time.Time) error {
	rows := make([]currencydomain.Currency, 0, len(currencies))
	for _, c := range currencies {
		cur := money.GetCurrency(c.code)
		if cur == nil {
			continue
		}
		rows = append(rows, currencydomain.Currency{
			Code:      c.code,
			Name:      c.name,
			Precision: int32(cur.Fraction),
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

// ensureFunctional keeps an existing functional currency; otherwise code is
// registered if needed and marked functional.
func ensureFunctional(tx *gorm.DB, code string, now time.Time) (string, error) {
	var current currencydomain.Currency
	err := tx.Where("is_functional = ?", true).First(&current).Error
	if err == nil {
		return current.Code, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	precision := int32(2)
	if cur := money.GetCurrency(code); cur != nil {
		precision = int32(cur.Fraction)
	}
	row := currencydomain.Currency{Code: code, Name: code, Precision: precision, CreatedAt: now, UpdatedAt: now}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return "", err
	}
	err = tx.Model(&currencydomain.Currency{}).
		Where("code = ?", code).
		Updates(map[string]any{"is_functional": true, "updated_at": now}).Error
	return code, err
}

func ensureChart(tx *gorm.DB, currency string, now time.Time) error {
	for _, a := range chart {
		row := accountdomain.Account{
			Code:          a.code,
			Name:          a.name,
			Type:          a.typ,
			NormalBalance: accountdomain.NormalBalanceFor(a.typ),
			CurrencyCode:  currency,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if a.parent != "" {
			parent := a.parent
			row.ParentCode = &parent
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

func ensureTransactionTypes(tx *gorm.DB, now time.Time) error {
	rows := make([]inventorydomain.TransactionType, len(transactionTypes))
	copy(rows, transactionTypes)
	for i := range rows {
		rows[i].CreatedAt = now
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}
