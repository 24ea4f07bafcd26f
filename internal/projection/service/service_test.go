package service_test

import (
	"context"
	"testing"
	"time"

	accountdomain "github.com/smallbiznis/stockledger/internal/account/domain"
	"github.com/smallbiznis/stockledger/internal/config"
	inventorydomain "github.com/smallbiznis/stockledger/internal/inventory/domain"
	ledgerdomain "github.com/smallbiznis/stockledger/internal/ledger/domain"
	ledgerrepository "github.com/smallbiznis/stockledger/internal/ledger/repository"
	projectiondomain "github.com/smallbiznis/stockledger/internal/projection/domain"
	projectionrepository "github.com/smallbiznis/stockledger/internal/projection/repository"
	"github.com/smallbiznis/stockledger/internal/projection/service"
	"github.com/smallbiznis/stockledger/internal/testutil/fixture"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const warehouse = "WH-1"

var (
	jan05 = time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	feb01 = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	jun01 = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
)

func newProjection(t *testing.T) (*fixture.Stack, projectiondomain.Service) {
	t.Helper()
	stack := fixture.New(t)
	stack.Currencies(t, "USD", "EUR")
	stack.Chart(t)
	stack.TransactionTypes(t)
	svc := service.NewService(service.Params{
		DB:          stack.DB,
		Log:         stack.Log,
		Clock:       stack.Clock,
		Reader:      projectionrepository.Provide(stack.DB),
		LedgerRepo:  ledgerrepository.Provide(),
		CurrencySvc: stack.Currency,
		Config:      config.NewStaticProjectionConfigHolder(config.DefaultProjectionConfig()),
	})
	return stack, svc
}

func TestValuationMatchesInventoryAccount(t *testing.T) {
	stack, svc := newProjection(t)
	ctx := context.Background()
	stack.Product(t, "WIDGET", inventorydomain.CostingMethodFIFO)
	stack.PostMove(t, "GRN-1", "RECEIPT", jan05, fixture.Move("WIDGET", warehouse, "100", "1000"))
	stack.PostMove(t, "GRN-2", "RECEIPT", feb01, fixture.Move("WIDGET", warehouse, "50", "1500"))
	stack.PostMove(t, "SO-1", "SALE", feb01.Add(time.Hour), fixture.Move("WIDGET", warehouse, "-120", "0"))

	valuation, err := svc.InventoryValuation(ctx)
	require.NoError(t, err)
	require.Len(t, valuation.Rows, 1)
	assert.Equal(t, "30", valuation.Rows[0].Quantity.String())
	assert.Equal(t, "45000", valuation.Total.String())
	assert.True(t, valuation.Total.Equal(stack.Balance(t, fixture.InventoryAccount)))

	tb, err := svc.TrialBalance(ctx, nil)
	require.NoError(t, err)
	assert.True(t, tb.Balanced())
	assert.Equal(t, "175000", tb.TotalDebit.String())

	asOf := feb01
	early, err := svc.TrialBalance(ctx, &asOf)
	require.NoError(t, err)
	assert.True(t, early.Balanced())
	assert.Equal(t, "100000", early.TotalDebit.String())

	drift, err := svc.BalanceDrift(ctx)
	require.NoError(t, err)
	assert.Empty(t, drift)
}

func TestTrialBalanceStaysBalancedAcrossReversalAndClose(t *testing.T) {
	stack, svc := newProjection(t)
	ctx := context.Background()
	stack.Post(t, "JE-1", jan05, fixture.Line("1100", "500"), fixture.Line("4000", "-500"))
	stack.Post(t, "JE-2", jan05, fixture.Line("5100", "120"), fixture.Line("1100", "-120"))
	_, err := stack.Ledger.Reverse(ctx, "JE-2", ledgerdomain.ReverseRequest{Ref: "JE-2R"})
	require.NoError(t, err)

	year, err := stack.Ledger.OpenFiscalYear(ctx, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	_, err = stack.Ledger.CloseFiscalYear(ctx, year.ID, "3100")
	require.NoError(t, err)

	tb, err := svc.TrialBalance(ctx, nil)
	require.NoError(t, err)
	assert.True(t, tb.Balanced())
	codes := make([]string, 0, len(tb.Rows))
	for _, r := range tb.Rows {
		codes = append(codes, r.AccountCode)
	}
	assert.Equal(t, []string{"1100", "3100"}, codes)

	drift, err := svc.BalanceDrift(ctx)
	require.NoError(t, err)
	assert.Empty(t, drift)
}

func TestAgingUsesOldestHeldReceipt(t *testing.T) {
	stack, svc := newProjection(t)
	ctx := context.Background()
	stack.Product(t, "OLD", inventorydomain.CostingMethodFIFO)
	stack.Product(t, "AVG", inventorydomain.CostingMethodWeightedAverage)
	stack.PostMove(t, "GRN-1", "RECEIPT", jan05,
		fixture.Move("OLD", warehouse, "10", "5"),
		fixture.Move("AVG", warehouse, "10", "2"),
	)
	stack.PostMove(t, "GRN-2", "RECEIPT", jun01, fixture.Move("AVG", warehouse, "10", "2"))
	stack.PostMove(t, "SO-1", "SALE", jun01, fixture.Move("AVG", warehouse, "-10", "0"))

	report, err := svc.Aging(ctx, jan05.AddDate(0, 0, 200))
	require.NoError(t, err)
	require.Len(t, report.Rows, 2)

	avg, old := report.Rows[0], report.Rows[1]
	assert.Equal(t, "AVG", avg.SKU)
	assert.Equal(t, 53, avg.AgeDays)
	assert.Equal(t, "0-90", avg.Bucket)
	assert.True(t, avg.Reserve.IsZero())

	assert.Equal(t, "OLD", old.SKU)
	assert.Equal(t, 200, old.AgeDays)
	assert.Equal(t, "181-365", old.Bucket)
	assert.Equal(t, "12.5", old.Reserve.String())

	assert.Equal(t, "70", report.Total.String())
	assert.Equal(t, "12.5", report.TotalReserve.String())
	require.Len(t, report.Buckets, 4)
	assert.Equal(t, "50", report.Buckets[2].Value.String())
}

func TestABCClassificationAcrossProducts(t *testing.T) {
	stack, svc := newProjection(t)
	stack.Product(t, "X", inventorydomain.CostingMethodFIFO)
	stack.Product(t, "Y", inventorydomain.CostingMethodFIFO)
	stack.Product(t, "Z", inventorydomain.CostingMethodFIFO)
	stack.PostMove(t, "GRN-1", "RECEIPT", jan05,
		fixture.Move("Z", warehouse, "5", "10"),
		fixture.Move("X", warehouse, "80", "10"),
		fixture.Move("Y", "WH-2", "15", "10"),
	)

	report, err := svc.ABCClassification(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Rows, 3)
	assert.Equal(t, "1000", report.Total.String())
	assert.Equal(t, projectiondomain.ClassA, report.Rows[0].Class)
	assert.Equal(t, projectiondomain.ClassB, report.Rows[1].Class)
	assert.Equal(t, projectiondomain.ClassC, report.Rows[2].Class)
}

func TestTurnoverCountsOnlyCostOfSales(t *testing.T) {
	stack, svc := newProjection(t)
	stack.Product(t, "WIDGET", inventorydomain.CostingMethodFIFO)
	stack.PostMove(t, "GRN-1", "RECEIPT", jan05, fixture.Move("WIDGET", warehouse, "100", "10"))
	stack.PostMove(t, "SO-1", "SALE", feb01, fixture.Move("WIDGET", warehouse, "-50", "0"))
	stack.PostMove(t, "SHR-1", "SHRINK", feb01, fixture.Move("WIDGET", warehouse, "-10", "0"))

	report, err := svc.Turnover(context.Background(), time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, report.Rows, 1)
	row := report.Rows[0]
	assert.Equal(t, "500", row.COGS.String())
	assert.True(t, row.OpeningValue.IsZero())
	assert.Equal(t, "400", row.ClosingValue.String())
	assert.Equal(t, "2.5", row.Turnover.String())
	assert.Equal(t, "146", row.DaysOnHand.String())
	assert.Equal(t, "2.5", report.Total.Turnover.String())
}

func TestFXExposureRevaluesAtLatestRate(t *testing.T) {
	stack, svc := newProjection(t)
	ctx := context.Background()
	stack.Account(t, "1400", accountdomain.AccountTypeAsset, "EUR", "")
	stack.Account(t, "2100", accountdomain.AccountTypeLiability, "EUR", "")
	stack.Rate(t, "EUR", "USD", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "1.10")
	stack.Rate(t, "EUR", "USD", feb01, "1.20")

	_, err := stack.Ledger.PostJournalEntry(ctx, ledgerdomain.EntryRequest{Ref: "FX-1", TransactionTime: jan05, CurrencyCode: "EUR"}, []ledgerdomain.LineRequest{
		fixture.Line("1400", "100"),
		fixture.Line("3100", "-100"),
	})
	require.NoError(t, err)
	_, err = stack.Ledger.PostJournalEntry(ctx, ledgerdomain.EntryRequest{Ref: "FX-2", TransactionTime: jan05, CurrencyCode: "EUR"}, []ledgerdomain.LineRequest{
		fixture.Line("5100", "90"),
		fixture.Line("2100", "-90"),
	})
	require.NoError(t, err)

	report, err := svc.FXExposure(ctx, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, report.Currencies, 1)
	eur := report.Currencies[0]
	assert.Equal(t, "1.2", eur.Rate.String())
	require.Len(t, eur.Accounts, 2)

	asset, payable := eur.Accounts[0], eur.Accounts[1]
	assert.Equal(t, "1400", asset.AccountCode)
	assert.Equal(t, "120", asset.RevaluedFunctional.String())
	assert.Equal(t, "10", asset.UnrealizedGainLoss.String())
	assert.Equal(t, "2100", payable.AccountCode)
	assert.Equal(t, "-90", payable.Native.String())
	assert.Equal(t, "-9", payable.UnrealizedGainLoss.String())
	assert.Equal(t, "1", eur.UnrealizedGainLoss.String())
}
