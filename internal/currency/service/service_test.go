package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/stockledger/internal/apperror"
	currencydomain "github.com/smallbiznis/stockledger/internal/currency/domain"
	"github.com/smallbiznis/stockledger/internal/currency/repository"
	"github.com/smallbiznis/stockledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (currencydomain.Service, *testutil.Env) {
	t.Helper()
	env := testutil.New(t)
	svc := NewService(Params{
		DB:       env.DB,
		Log:      env.Log,
		GenID:    env.Node,
		Clock:    env.Clock,
		Locker:   env.Locker,
		Repo:     repository.Provide(),
		AuditSvc: env.Audit,
	})
	return svc, env
}

func register(t *testing.T, svc currencydomain.Service, codes ...string) {
	t.Helper()
	for _, code := range codes {
		_, err := svc.RegisterCurrency(context.Background(), currencydomain.RegisterCurrencyRequest{Code: code})
		require.NoError(t, err)
	}
}

func TestRegisterCurrencyUsesISOPrecision(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	usd, err := svc.RegisterCurrency(ctx, currencydomain.RegisterCurrencyRequest{Code: "usd"})
	require.NoError(t, err)
	assert.Equal(t, "USD", usd.Code)
	assert.Equal(t, int32(2), usd.Precision)

	jpy, err := svc.RegisterCurrency(ctx, currencydomain.RegisterCurrencyRequest{Code: "JPY"})
	require.NoError(t, err)
	assert.Equal(t, int32(0), jpy.Precision)

	_, err = svc.RegisterCurrency(ctx, currencydomain.RegisterCurrencyRequest{Code: "USD"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, currencydomain.ErrDuplicateCurrency))
	assert.True(t, apperror.IsValidation(err))
}

func TestRegisterCurrencyRequiresPrecisionOutsideISO(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.RegisterCurrency(ctx, currencydomain.RegisterCurrencyRequest{Code: "PTS"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, currencydomain.ErrUnknownPrecision))

	four := int32(4)
	pts, err := svc.RegisterCurrency(ctx, currencydomain.RegisterCurrencyRequest{Code: "PTS", Precision: &four})
	require.NoError(t, err)
	assert.Equal(t, int32(4), pts.Precision)

	nine := int32(9)
	_, err = svc.RegisterCurrency(ctx, currencydomain.RegisterCurrencyRequest{Code: "XYZ", Precision: &nine})
	require.Error(t, err)
	assert.Equal(t, "precision", fieldOf(err))
}

func TestSetFunctionalKeepsExactlyOne(t *testing.T) {
	svc, env := newTestService(t)
	ctx := context.Background()
	register(t, svc, "USD", "EUR", "IDR")

	_, err := svc.Functional(ctx)
	assert.True(t, errors.Is(err, currencydomain.ErrFunctionalNotSet))

	for _, code := range []string{"USD", "EUR", "IDR", "EUR"} {
		_, err := svc.SetFunctional(ctx, code)
		require.NoError(t, err)

		var count int64
		require.NoError(t, env.DB.Model(&currencydomain.Currency{}).Where("is_functional = ?", true).Count(&count).Error)
		assert.Equal(t, int64(1), count)

		functional, err := svc.Functional(ctx)
		require.NoError(t, err)
		assert.Equal(t, code, functional.Code)
	}

	_, err = svc.SetFunctional(ctx, "GBP")
	assert.True(t, errors.Is(err, currencydomain.ErrCurrencyNotFound))
}

func TestRateResolvesDirectInverseAndLatest(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	register(t, svc, "USD", "EUR", "GBP")

	jan := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	_, err := svc.RecordRate(ctx, currencydomain.RecordRateRequest{From: "EUR", To: "USD", EffectiveAt: jan, Rate: decimal.RequireFromString("1.10")})
	require.NoError(t, err)
	_, err = svc.RecordRate(ctx, currencydomain.RecordRateRequest{From: "EUR", To: "USD", EffectiveAt: feb, Rate: decimal.RequireFromString("1.25")})
	require.NoError(t, err)

	rate, err := svc.Rate(ctx, "EUR", "USD", jan.AddDate(0, 0, 10))
	require.NoError(t, err)
	assert.Equal(t, "1.1", rate.String())

	rate, err = svc.Rate(ctx, "EUR", "USD", feb.AddDate(0, 0, 10))
	require.NoError(t, err)
	assert.Equal(t, "1.25", rate.String())

	quote, err := svc.Quote(ctx, "USD", "EUR", feb.AddDate(0, 0, 10))
	require.NoError(t, err)
	assert.True(t, quote.Inverse)
	assert.Equal(t, "0.8", quote.Rate.String())

	_, err = svc.Rate(ctx, "EUR", "USD", jan.AddDate(0, 0, -1))
	assert.True(t, errors.Is(err, apperror.ErrRateNotFound))

	_, err = svc.Rate(ctx, "GBP", "USD", feb)
	assert.True(t, errors.Is(err, apperror.ErrRateNotFound))

	same, err := svc.Rate(ctx, "GBP", "GBP", feb)
	require.NoError(t, err)
	assert.True(t, same.Equal(decimal.NewFromInt(1)))
}

func TestRecordRateInvalidatesCachedLookups(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	register(t, svc, "USD", "EUR")

	jan := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	asOf := jan.AddDate(0, 1, 0)
	_, err := svc.RecordRate(ctx, currencydomain.RecordRateRequest{From: "EUR", To: "USD", EffectiveAt: jan, Rate: decimal.RequireFromString("1.10")})
	require.NoError(t, err)

	rate, err := svc.Rate(ctx, "EUR", "USD", asOf)
	require.NoError(t, err)
	assert.Equal(t, "1.1", rate.String())

	_, err = svc.RecordRate(ctx, currencydomain.RecordRateRequest{From: "EUR", To: "USD", EffectiveAt: jan.AddDate(0, 0, 15), Rate: decimal.RequireFromString("1.2")})
	require.NoError(t, err)

	rate, err = svc.Rate(ctx, "EUR", "USD", asOf)
	require.NoError(t, err)
	assert.Equal(t, "1.2", rate.String())
}

func TestRateDistinguishesSubSecondLookups(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	register(t, svc, "USD", "EUR")

	noon := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	_, err := svc.RecordRate(ctx, currencydomain.RecordRateRequest{From: "EUR", To: "USD", EffectiveAt: noon, Rate: decimal.RequireFromString("1.10")})
	require.NoError(t, err)
	_, err = svc.RecordRate(ctx, currencydomain.RecordRateRequest{From: "EUR", To: "USD", EffectiveAt: noon.Add(500 * time.Millisecond), Rate: decimal.RequireFromString("1.20")})
	require.NoError(t, err)

	early, err := svc.Rate(ctx, "EUR", "USD", noon.Add(200*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, "1.1", early.String())

	late, err := svc.Rate(ctx, "EUR", "USD", noon.Add(900*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, "1.2", late.String())

	quote, err := svc.Quote(ctx, "EUR", "USD", noon.Add(900*time.Millisecond))
	require.NoError(t, err)
	assert.True(t, quote.Rate.Equal(late))
}

func TestRecordRateValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	register(t, svc, "USD", "EUR")
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := svc.RecordRate(ctx, currencydomain.RecordRateRequest{From: "EUR", To: "USD", EffectiveAt: at, Rate: decimal.Zero})
	require.Error(t, err)
	assert.Equal(t, "rate", fieldOf(err))

	_, err = svc.RecordRate(ctx, currencydomain.RecordRateRequest{From: "USD", To: "usd", EffectiveAt: at, Rate: decimal.NewFromInt(1)})
	require.Error(t, err)
	assert.Equal(t, "to", fieldOf(err))

	_, err = svc.RecordRate(ctx, currencydomain.RecordRateRequest{From: "EUR", To: "CHF", EffectiveAt: at, Rate: decimal.NewFromInt(1)})
	assert.True(t, errors.Is(err, currencydomain.ErrCurrencyNotFound))

	_, err = svc.RecordRate(ctx, currencydomain.RecordRateRequest{From: "EUR", To: "USD", EffectiveAt: at, Rate: decimal.NewFromInt(1)})
	require.NoError(t, err)
	_, err = svc.RecordRate(ctx, currencydomain.RecordRateRequest{From: "EUR", To: "USD", EffectiveAt: at, Rate: decimal.NewFromInt(2)})
	assert.True(t, errors.Is(err, currencydomain.ErrDuplicateRate))
}

func TestConvertUsesBankersRounding(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	register(t, svc, "USD", "EUR", "JPY")
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := svc.RecordRate(ctx, currencydomain.RecordRateRequest{From: "EUR", To: "USD", EffectiveAt: at, Rate: decimal.RequireFromString("1.1")})
	require.NoError(t, err)

	got, err := svc.Convert(ctx, decimal.RequireFromString("10.95"), "EUR", "USD", at)
	require.NoError(t, err)
	assert.Equal(t, "12.04", got.StringFixed(2))

	got, err = svc.Convert(ctx, decimal.RequireFromString("10.05"), "EUR", "USD", at)
	require.NoError(t, err)
	assert.Equal(t, "11.06", got.StringFixed(2))

	rounded, err := svc.Round(ctx, decimal.RequireFromString("2.5"), "JPY")
	require.NoError(t, err)
	assert.Equal(t, "2", rounded.String())
}

func fieldOf(err error) string {
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return appErr.Field
	}
	return ""
}
