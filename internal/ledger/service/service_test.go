package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	accountdomain "github.com/smallbiznis/stockledger/internal/account/domain"
	"github.com/smallbiznis/stockledger/internal/apperror"
	auditdomain "github.com/smallbiznis/stockledger/internal/audit/domain"
	ledgerdomain "github.com/smallbiznis/stockledger/internal/ledger/domain"
	"github.com/smallbiznis/stockledger/internal/testutil/fixture"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	jan15 = time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	feb10 = time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC)
)

func newStack(t *testing.T) *fixture.Stack {
	t.Helper()
	stack := fixture.New(t)
	stack.Currencies(t, "USD", "EUR", "JPY")
	stack.Chart(t)
	return stack
}

func usd(ref string, at time.Time) ledgerdomain.EntryRequest {
	return ledgerdomain.EntryRequest{Ref: ref, TransactionTime: at, CurrencyCode: "USD"}
}

func TestPostUpdatesBalancesAndIsTerminal(t *testing.T) {
	stack := newStack(t)
	ctx := context.Background()

	draft, err := stack.Ledger.CreateDraft(ctx, usd("JE-1", jan15), []ledgerdomain.LineRequest{
		fixture.Line("1100", "1000"),
		fixture.Line("3100", "-1000"),
	})
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.EntryStatusDraft, draft.Status)
	assert.True(t, stack.Balance(t, "1100").IsZero())

	result, err := stack.Ledger.Post(ctx, "JE-1")
	require.NoError(t, err)
	assert.Equal(t, "JE-1", result.Ref)
	assert.Equal(t, "1000", stack.Balance(t, "1100").String())
	assert.Equal(t, "1000", stack.Balance(t, "3100").String())

	entry, err := stack.Ledger.GetEntry(ctx, "JE-1")
	require.NoError(t, err)
	assert.True(t, entry.IsPosted())
	require.NotNil(t, entry.PostTime)

	_, err = stack.Ledger.Post(ctx, "JE-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrAlreadyPosted))
	assert.Equal(t, "1000", stack.Balance(t, "1100").String())

	err = stack.Ledger.Unpost(ctx, "JE-1")
	assert.True(t, errors.Is(err, apperror.ErrImmutableEntry))
	_, err = stack.Ledger.ReplaceLines(ctx, "JE-1", []ledgerdomain.LineRequest{fixture.Line("1100", "1"), fixture.Line("3100", "-1")})
	assert.True(t, errors.Is(err, apperror.ErrImmutableEntry))
	assert.True(t, errors.Is(stack.Ledger.DeleteDraft(ctx, "JE-1"), apperror.ErrImmutableEntry))

	var count int64
	require.NoError(t, stack.DB.Model(&auditdomain.AuditLog{}).Where("action = ? AND target_id = ?", auditdomain.ActionEntryPosted, "JE-1").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestPostRejectsBrokenEntries(t *testing.T) {
	stack := newStack(t)
	ctx := context.Background()

	_, err := stack.Ledger.PostJournalEntry(ctx, usd("JE-U", jan15), []ledgerdomain.LineRequest{
		fixture.Line("1100", "100"),
		fixture.Line("3100", "-90"),
	})
	assert.True(t, errors.Is(err, apperror.ErrUnbalancedEntry))
	assert.True(t, apperror.IsInvariant(err))

	_, err = stack.Ledger.PostJournalEntry(ctx, usd("JE-P", jan15), []ledgerdomain.LineRequest{
		fixture.Line("1000", "100"),
		fixture.Line("3100", "-100"),
	})
	assert.True(t, errors.Is(err, apperror.ErrNonLeafAccount))

	_, err = stack.Ledger.PostJournalEntry(ctx, usd("JE-1L", jan15), []ledgerdomain.LineRequest{
		fixture.Line("1100", "0"),
	})
	assert.True(t, errors.Is(err, ledgerdomain.ErrInsufficientLines))

	_, err = stack.Ledger.PostJournalEntry(ctx, usd("JE-DC", jan15), []ledgerdomain.LineRequest{
		{AccountCode: "1100", Debit: decimal.NewFromInt(5), Credit: decimal.NewFromInt(5)},
		fixture.Line("3100", "0"),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledgerdomain.ErrDebitAndCredit))
	assert.Equal(t, "lines[0].credit", fieldOf(err))

	_, err = stack.Ledger.PostJournalEntry(ctx, usd("JE-PR", jan15), []ledgerdomain.LineRequest{
		fixture.Line("1100", "10.005"),
		fixture.Line("3100", "-10.005"),
	})
	assert.True(t, errors.Is(err, ledgerdomain.ErrAmountPrecision))

	_, err = stack.Ledger.PostJournalEntry(ctx, usd("JE-NA", jan15), []ledgerdomain.LineRequest{
		fixture.Line("1100", "10"),
		fixture.Line("9999", "-10"),
	})
	assert.True(t, errors.Is(err, accountdomain.ErrAccountNotFound))

	entries, err := stack.Ledger.ListEntries(ctx, ledgerdomain.ListEntriesRequest{})
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.True(t, stack.Balance(t, "1100").IsZero())
}

func TestBalanceEqualsSignedSumOfPostedLines(t *testing.T) {
	stack := newStack(t)
	stack.Post(t, "JE-1", jan15, fixture.Line("1100", "500"), fixture.Line("3100", "-500"))
	stack.Post(t, "JE-2", jan15, fixture.Line("1200", "300"), fixture.Line("4000", "-300"))
	stack.Post(t, "JE-3", feb10, fixture.Line("5000", "120"), fixture.Line("1100", "-120"))

	debits, credits := decimal.Zero, decimal.Zero
	var lines []ledgerdomain.JournalEntryLine
	require.NoError(t, stack.DB.Find(&lines).Error)
	cash := decimal.Zero
	for _, l := range lines {
		debits = debits.Add(l.DebitFunctional)
		credits = credits.Add(l.CreditFunctional)
		if l.AccountCode == "1100" {
			cash = cash.Add(l.DebitFunctional).Sub(l.CreditFunctional)
		}
	}
	assert.True(t, debits.Equal(credits))
	assert.Equal(t, "380", cash.String())
	assert.Equal(t, "380", stack.Balance(t, "1100").String())
	assert.Equal(t, "300", stack.Balance(t, "4000").String())

	account, err := stack.Accounts.Get(context.Background(), "1100")
	require.NoError(t, err)
	assert.Equal(t, int64(2), account.PostedLines)
}

func TestForeignEntryUsesRateAtTransactionTime(t *testing.T) {
	stack := newStack(t)
	stack.Account(t, "1400", accountdomain.AccountTypeAsset, "EUR", "")
	stack.Rate(t, "EUR", "USD", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "1.10")
	stack.Rate(t, "EUR", "USD", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), "1.20")
	ctx := context.Background()

	_, err := stack.Ledger.PostJournalEntry(ctx, ledgerdomain.EntryRequest{Ref: "FX-1", TransactionTime: jan15, CurrencyCode: "EUR"}, []ledgerdomain.LineRequest{
		fixture.Line("1400", "100"),
		fixture.Line("3100", "-100"),
	})
	require.NoError(t, err)

	entry, err := stack.Ledger.GetEntry(ctx, "FX-1")
	require.NoError(t, err)
	assert.Equal(t, "1.1", entry.ExchangeRate.String())

	eur, err := stack.Accounts.Get(ctx, "1400")
	require.NoError(t, err)
	assert.Equal(t, "100", eur.BalanceNative.String())
	assert.Equal(t, "110", eur.BalanceFunctional.String())
	assert.Equal(t, "110", stack.Balance(t, "3100").String())

	_, err = stack.Ledger.PostJournalEntry(ctx, ledgerdomain.EntryRequest{Ref: "FX-2", TransactionTime: jan15, CurrencyCode: "JPY"}, []ledgerdomain.LineRequest{
		fixture.Line("1100", "1000"),
		fixture.Line("3100", "-1000"),
	})
	assert.True(t, errors.Is(err, apperror.ErrRateNotFound))
}

func TestForeignAmountCarriesNativeBalance(t *testing.T) {
	stack := newStack(t)
	stack.Account(t, "2100", accountdomain.AccountTypeLiability, "EUR", "")
	ctx := context.Background()
	foreign := decimal.NewFromInt(90)

	_, err := stack.Ledger.PostJournalEntry(ctx, usd("AP-1", feb10), []ledgerdomain.LineRequest{
		fixture.Line("1300", "100"),
		{AccountCode: "2100", Credit: decimal.NewFromInt(100), ForeignAmount: &foreign, ForeignCurrencyCode: "EUR"},
	})
	require.NoError(t, err)

	payable, err := stack.Accounts.Get(ctx, "2100")
	require.NoError(t, err)
	assert.Equal(t, "90", payable.BalanceNative.String())
	assert.Equal(t, "100", payable.BalanceFunctional.String())
}

func TestReverseMirrorsOriginal(t *testing.T) {
	stack := newStack(t)
	ctx := context.Background()
	stack.Post(t, "JE-1", jan15, fixture.Line("1100", "250"), fixture.Line("4000", "-250"))

	result, err := stack.Ledger.Reverse(ctx, "JE-1", ledgerdomain.ReverseRequest{Ref: "JE-1-R"})
	require.NoError(t, err)
	assert.Equal(t, "JE-1-R", result.Ref)
	assert.True(t, stack.Balance(t, "1100").IsZero())
	assert.True(t, stack.Balance(t, "4000").IsZero())

	reversal, err := stack.Ledger.GetEntry(ctx, "JE-1-R")
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.SourceTypeReversal, reversal.SourceType)
	require.NotNil(t, reversal.ReversalOf)
	assert.Equal(t, "JE-1", *reversal.ReversalOf)
	assert.True(t, reversal.TransactionTime.Equal(jan15))

	_, err = stack.Ledger.Reverse(ctx, "JE-1", ledgerdomain.ReverseRequest{Ref: "JE-1-R2"})
	assert.True(t, errors.Is(err, ledgerdomain.ErrAlreadyReversed))

	_, err = stack.Ledger.CreateDraft(ctx, usd("JE-D", jan15), []ledgerdomain.LineRequest{fixture.Line("1100", "1"), fixture.Line("4000", "-1")})
	require.NoError(t, err)
	_, err = stack.Ledger.Reverse(ctx, "JE-D", ledgerdomain.ReverseRequest{Ref: "JE-D-R"})
	assert.True(t, errors.Is(err, ledgerdomain.ErrEntryNotPosted))
}

func TestDraftLinesCanBeReplacedAndDeleted(t *testing.T) {
	stack := newStack(t)
	ctx := context.Background()

	_, err := stack.Ledger.CreateDraft(ctx, usd("JE-1", jan15), []ledgerdomain.LineRequest{fixture.Line("1100", "10"), fixture.Line("3100", "-20")})
	require.NoError(t, err)
	_, err = stack.Ledger.Post(ctx, "JE-1")
	assert.True(t, errors.Is(err, apperror.ErrUnbalancedEntry))

	rows, err := stack.Ledger.ReplaceLines(ctx, "JE-1", []ledgerdomain.LineRequest{fixture.Line("1100", "20"), fixture.Line("3100", "-20")})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	_, err = stack.Ledger.Post(ctx, "JE-1")
	require.NoError(t, err)

	_, err = stack.Ledger.CreateDraft(ctx, usd("JE-2", jan15), []ledgerdomain.LineRequest{fixture.Line("1100", "1"), fixture.Line("3100", "-1")})
	require.NoError(t, err)
	require.NoError(t, stack.Ledger.DeleteDraft(ctx, "JE-2"))
	_, err = stack.Ledger.GetEntry(ctx, "JE-2")
	assert.True(t, errors.Is(err, ledgerdomain.ErrEntryNotFound))

	_, err = stack.Ledger.CreateDraft(ctx, usd("JE-1", jan15), []ledgerdomain.LineRequest{fixture.Line("1100", "1"), fixture.Line("3100", "-1")})
	assert.True(t, errors.Is(err, ledgerdomain.ErrDuplicateEntry))
}

func TestFiscalYearsMustBeContiguous(t *testing.T) {
	stack := newStack(t)
	ctx := context.Background()
	y2026 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	y2027 := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := stack.Ledger.OpenFiscalYear(ctx, y2026, y2027)
	require.NoError(t, err)

	_, err = stack.Ledger.OpenFiscalYear(ctx, y2027.AddDate(0, 0, 1), y2027.AddDate(1, 0, 0))
	assert.True(t, errors.Is(err, apperror.ErrNonContiguousFiscalYear))

	_, err = stack.Ledger.OpenFiscalYear(ctx, y2027, y2027)
	assert.True(t, errors.Is(err, ledgerdomain.ErrInvalidFiscalRange))

	_, err = stack.Ledger.OpenFiscalYear(ctx, y2027, y2027.AddDate(1, 0, 0))
	require.NoError(t, err)

	years, err := stack.Ledger.ListFiscalYears(ctx)
	require.NoError(t, err)
	assert.Len(t, years, 2)
}

func TestCloseFiscalYearSweepsNominalAccounts(t *testing.T) {
	stack := newStack(t)
	ctx := context.Background()
	begin := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	year, err := stack.Ledger.OpenFiscalYear(ctx, begin, end)
	require.NoError(t, err)

	stack.Post(t, "JE-1", jan15, fixture.Line("1100", "1000"), fixture.Line("4000", "-1000"))
	stack.Post(t, "JE-2", jan15, fixture.Line("4100", "50"), fixture.Line("1100", "-50"))
	stack.Post(t, "JE-3", feb10, fixture.Line("5000", "600"), fixture.Line("1300", "-600"))

	_, err = stack.Ledger.CloseFiscalYear(ctx, year.ID, "3000")
	assert.True(t, errors.Is(err, ledgerdomain.ErrInvalidRetainedEarns))
	_, err = stack.Ledger.CloseFiscalYear(ctx, year.ID, "1100")
	assert.True(t, errors.Is(err, ledgerdomain.ErrInvalidRetainedEarns))

	closed, err := stack.Ledger.CloseFiscalYear(ctx, year.ID, "3100")
	require.NoError(t, err)
	require.NotNil(t, closed.ClosedAt)
	require.NotNil(t, closed.ClosingEntryRef)
	assert.Equal(t, "CLOSE-20260101", *closed.ClosingEntryRef)

	for _, code := range []string{"4000", "4100", "5000"} {
		assert.True(t, stack.Balance(t, code).IsZero(), code)
	}
	assert.Equal(t, "350", stack.Balance(t, "3100").String())

	closing, err := stack.Ledger.GetEntry(ctx, "CLOSE-20260101")
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.SourceTypeClosing, closing.SourceType)
	assert.True(t, closing.TransactionTime.Equal(end.Add(-time.Second)))

	_, err = stack.Ledger.Reverse(ctx, "CLOSE-20260101", ledgerdomain.ReverseRequest{Ref: "CLOSE-20260101-R"})
	assert.True(t, errors.Is(err, ledgerdomain.ErrGeneratedEntry))
	assert.Equal(t, "350", stack.Balance(t, "3100").String())

	_, err = stack.Ledger.PostJournalEntry(ctx, usd("JE-LATE", feb10), []ledgerdomain.LineRequest{fixture.Line("1100", "1"), fixture.Line("3100", "-1")})
	assert.True(t, errors.Is(err, apperror.ErrClosedFiscalPeriod))

	_, err = stack.Ledger.CloseFiscalYear(ctx, year.ID, "3100")
	assert.True(t, errors.Is(err, apperror.ErrFiscalYearClosed))

	_, err = stack.Ledger.PostJournalEntry(ctx, usd("JE-NEXT", end.AddDate(0, 1, 0)), []ledgerdomain.LineRequest{fixture.Line("1100", "1"), fixture.Line("3100", "-1")})
	require.NoError(t, err)
}

func TestCloseFiscalYearZeroesForeignNominalInOwnCurrency(t *testing.T) {
	stack := newStack(t)
	ctx := context.Background()
	stack.Account(t, "1400", accountdomain.AccountTypeAsset, "EUR", "")
	stack.Account(t, "4200", accountdomain.AccountTypeRevenue, "EUR", "")
	stack.Rate(t, "EUR", "USD", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "1.10")
	stack.Rate(t, "EUR", "USD", time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), "1.30")
	year, err := stack.Ledger.OpenFiscalYear(ctx, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	for ref, at := range map[string]time.Time{"EU-1": jan15, "EU-2": time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)} {
		_, err := stack.Ledger.PostJournalEntry(ctx, ledgerdomain.EntryRequest{Ref: ref, TransactionTime: at, CurrencyCode: "EUR"}, []ledgerdomain.LineRequest{
			fixture.Line("1400", "100"),
			fixture.Line("4200", "-100"),
		})
		require.NoError(t, err)
	}

	sales, err := stack.Accounts.Get(ctx, "4200")
	require.NoError(t, err)
	assert.Equal(t, "200", sales.BalanceNative.String())
	assert.Equal(t, "240", sales.BalanceFunctional.String())

	_, err = stack.Ledger.CloseFiscalYear(ctx, year.ID, "3100")
	require.NoError(t, err)

	sales, err = stack.Accounts.Get(ctx, "4200")
	require.NoError(t, err)
	assert.True(t, sales.BalanceNative.IsZero(), sales.BalanceNative.String())
	assert.True(t, sales.BalanceFunctional.IsZero())
	assert.Equal(t, "240", stack.Balance(t, "3100").String())

	lines, err := stack.Ledger.ListLines(ctx, "CLOSE-20260101")
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "4200", lines[0].AccountCode)
	assert.Equal(t, "240", lines[0].Debit.String())
	assert.Equal(t, "200", lines[0].ForeignAmount.Decimal.String())
}

func TestCloseFiscalYearWithoutActivity(t *testing.T) {
	stack := newStack(t)
	ctx := context.Background()
	year, err := stack.Ledger.OpenFiscalYear(ctx, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	closed, err := stack.Ledger.CloseFiscalYear(ctx, year.ID, "3100")
	require.NoError(t, err)
	assert.NotNil(t, closed.ClosedAt)
	assert.Nil(t, closed.ClosingEntryRef)
}

func fieldOf(err error) string {
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return appErr.Field
	}
	return ""
}
