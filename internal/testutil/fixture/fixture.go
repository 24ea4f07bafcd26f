// Package fixture assembles the currency, account, ledger and inventory
// services over a testutil environment.
package fixture

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	accountdomain "github.com/smallbiznis/stockledger/internal/account/domain"
	accountrepository "github.com/smallbiznis/stockledger/internal/account/repository"
	accountservice "github.com/smallbiznis/stockledger/internal/account/service"
	currencydomain "github.com/smallbiznis/stockledger/internal/currency/domain"
	currencyrepository "github.com/smallbiznis/stockledger/internal/currency/repository"
	currencyservice "github.com/smallbiznis/stockledger/internal/currency/service"
	inventorydomain "github.com/smallbiznis/stockledger/internal/inventory/domain"
	inventoryrepository "github.com/smallbiznis/stockledger/internal/inventory/repository"
	inventoryservice "github.com/smallbiznis/stockledger/internal/inventory/service"
	ledgerdomain "github.com/smallbiznis/stockledger/internal/ledger/domain"
	ledgerrepository "github.com/smallbiznis/stockledger/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/stockledger/internal/ledger/service"
	"github.com/smallbiznis/stockledger/internal/testutil"
	"github.com/stretchr/testify/require"
)

type Stack struct {
	*testutil.Env
	Currency  currencydomain.Service
	Accounts  accountdomain.Service
	Ledger    ledgerdomain.Service
	Inventory inventorydomain.Service
}

func New(t testing.TB) *Stack {
	t.Helper()
	env := testutil.New(t)
	currencySvc := currencyservice.NewService(currencyservice.Params{
		DB:       env.DB,
		Log:      env.Log,
		GenID:    env.Node,
		Clock:    env.Clock,
		Locker:   env.Locker,
		Repo:     currencyrepository.Provide(),
		AuditSvc: env.Audit,
	})
	accountSvc := accountservice.NewService(accountservice.Params{
		DB:          env.DB,
		Log:         env.Log,
		Clock:       env.Clock,
		Locker:      env.Locker,
		Repo:        accountrepository.Provide(),
		CurrencySvc: currencySvc,
		AuditSvc:    env.Audit,
	})
	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:          env.DB,
		Log:         env.Log,
		GenID:       env.Node,
		Clock:       env.Clock,
		Locker:      env.Locker,
		Repo:        ledgerrepository.Provide(),
		AccountSvc:  accountSvc,
		CurrencySvc: currencySvc,
		AuditSvc:    env.Audit,
	})
	inventorySvc := inventoryservice.NewService(inventoryservice.Params{
		DB:          env.DB,
		Log:         env.Log,
		GenID:       env.Node,
		Clock:       env.Clock,
		Locker:      env.Locker,
		Repo:        inventoryrepository.Provide(),
		AccountSvc:  accountSvc,
		CurrencySvc: currencySvc,
		LedgerSvc:   ledgerSvc,
		AuditSvc:    env.Audit,
	})
	return &Stack{
		Env:       env,
		Currency:  currencySvc,
		Accounts:  accountSvc,
		Ledger:    ledgerSvc,
		Inventory: inventorySvc,
	}
}

// Currencies registers codes and makes the first one functional.
func (s *Stack) Currencies(t testing.TB, functional string, others ...string) {
	t.Helper()
	ctx := context.Background()
	for _, code := range append([]string{functional}, others...) {
		_, err := s.Currency.RegisterCurrency(ctx, currencydomain.RegisterCurrencyRequest{Code: code})
		require.NoError(t, err)
	}
	_, err := s.Currency.SetFunctional(ctx, functional)
	require.NoError(t, err)
}

func (s *Stack) Rate(t testing.TB, from, to string, at time.Time, rate string) {
	t.Helper()
	_, err := s.Currency.RecordRate(context.Background(), currencydomain.RecordRateRequest{
		From:        from,
		To:          to,
		EffectiveAt: at,
		Rate:        decimal.RequireFromString(rate),
	})
	require.NoError(t, err)
}

func (s *Stack) Account(t testing.TB, code string, typ accountdomain.AccountType, currency, parent string) *accountdomain.Account {
	t.Helper()
	account, err := s.Accounts.Register(context.Background(), accountdomain.RegisterRequest{
		Code:         code,
		Name:         code,
		Type:         typ,
		CurrencyCode: currency,
		ParentCode:   parent,
	})
	require.NoError(t, err)
	return account
}

// Chart registers a small USD chart with inventory, receivable, payable,
// sales, COGS, variance and retained earnings leaves.
func (s *Stack) Chart(t testing.TB) {
	t.Helper()
	s.Account(t, "1000", accountdomain.AccountTypeAsset, "USD", "")
	s.Account(t, "1100", accountdomain.AccountTypeAsset, "USD", "1000")
	s.Account(t, "1200", accountdomain.AccountTypeAsset, "USD", "1000")
	s.Account(t, "1300", accountdomain.AccountTypeAsset, "USD", "1000")
	s.Account(t, "2000", accountdomain.AccountTypeLiability, "USD", "")
	s.Account(t, "3000", accountdomain.AccountTypeEquity, "USD", "")
	s.Account(t, "3100", accountdomain.AccountTypeEquity, "USD", "3000")
	s.Account(t, "4000", accountdomain.AccountTypeRevenue, "USD", "")
	s.Account(t, "4100", accountdomain.AccountTypeContraRevenue, "USD", "")
	s.Account(t, "5000", accountdomain.AccountTypeExpense, "USD", "")
	s.Account(t, "5100", accountdomain.AccountTypeExpense, "USD", "")
	s.Account(t, "5200", accountdomain.AccountTypeExpense, "USD", "")
}

// Line builds a request line; a positive amount is a debit and a negative
// one a credit.
func Line(account, amount string) ledgerdomain.LineRequest {
	value := decimal.RequireFromString(amount)
	line := ledgerdomain.LineRequest{AccountCode: account}
	if value.IsNegative() {
		line.Credit = value.Neg()
	} else {
		line.Debit = value
	}
	return line
}

func (s *Stack) Post(t testing.TB, ref string, at time.Time, lines ...ledgerdomain.LineRequest) ledgerdomain.PostResult {
	t.Helper()
	result, err := s.Ledger.PostJournalEntry(context.Background(), ledgerdomain.EntryRequest{
		Ref:             ref,
		TransactionTime: at,
		CurrencyCode:    "USD",
	}, lines)
	require.NoError(t, err)
	return result
}

func (s *Stack) Balance(t testing.TB, code string) decimal.Decimal {
	t.Helper()
	account, err := s.Accounts.Get(context.Background(), code)
	require.NoError(t, err)
	return account.BalanceFunctional
}

// Chart account roles used by the inventory helpers.
const (
	InventoryAccount = "1300"
	PayableAccount   = "2000"
	SalesAccount     = "4000"
	COGSAccount      = "5000"
	VarianceAccount  = "5100"
	ShrinkAccount    = "5200"
)

// TransactionTypes registers RECEIPT against payables, SALE against COGS and
// SHRINK against the shrinkage expense.
func (s *Stack) TransactionTypes(t testing.TB) {
	t.Helper()
	ctx := context.Background()
	for _, req := range []inventorydomain.RegisterTransactionTypeRequest{
		{Code: "RECEIPT", Name: "Purchase receipt", Direction: inventorydomain.DirectionIncrease, OffsetAccountCode: PayableAccount},
		{Code: "SALE", Name: "Sale", Direction: inventorydomain.DirectionDecrease},
		{Code: "SHRINK", Name: "Shrinkage", Direction: inventorydomain.DirectionDecrease, OffsetAccountCode: ShrinkAccount},
	} {
		_, err := s.Inventory.RegisterTransactionType(ctx, req)
		require.NoError(t, err)
	}
}

// Product registers a product on the standard chart.
func (s *Stack) Product(t testing.TB, sku string, method inventorydomain.CostingMethod, opts ...func(*inventorydomain.RegisterProductRequest)) *inventorydomain.Product {
	t.Helper()
	req := inventorydomain.RegisterProductRequest{
		SKU:                  sku,
		Name:                 sku,
		CostingMethod:        method,
		StandardCost:         decimal.Zero,
		InventoryAccountCode: InventoryAccount,
		COGSAccountCode:      COGSAccount,
		SalesAccountCode:     SalesAccount,
	}
	if method == inventorydomain.CostingMethodStandard {
		req.VarianceAccountCode = VarianceAccount
	}
	for _, opt := range opts {
		opt(&req)
	}
	product, err := s.Inventory.RegisterProduct(context.Background(), req)
	require.NoError(t, err)
	return product
}

// Move builds an inventory line for sku at location.
func Move(sku, location, qty, unitCost string) inventorydomain.LineRequest {
	return inventorydomain.LineRequest{
		SKU:        sku,
		LocationID: location,
		Quantity:   decimal.RequireFromString(qty),
		UnitCost:   decimal.RequireFromString(unitCost),
	}
}

// PostMove posts an inventory transaction in the functional currency.
func (s *Stack) PostMove(t testing.TB, ref, typeCode string, at time.Time, lines ...inventorydomain.LineRequest) inventorydomain.PostResult {
	t.Helper()
	result, err := s.Inventory.PostInventoryTransaction(context.Background(), inventorydomain.TransactionRequest{
		ReferenceNumber: ref,
		TypeCode:        typeCode,
		TransactionDate: at,
	}, lines)
	require.NoError(t, err)
	return result
}
