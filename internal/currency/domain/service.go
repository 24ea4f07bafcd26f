package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/stockledger/internal/apperror"
	"gorm.io/gorm"
)

// InversePrecision is the number of decimal places kept when a rate is
// synthesized from the opposite direction.
const InversePrecision = 12

type RegisterCurrencyRequest struct {
	Code      string `json:"code" validate:"required,alpha,min=3,max=8"`
	Name      string `json:"name" validate:"omitempty,max=64"`
	Precision *int32 `json:"precision" validate:"omitempty,gte=0,lte=8"`
}

type RecordRateRequest struct {
	From        string          `json:"from" validate:"required,max=8"`
	To          string          `json:"to" validate:"required,max=8,nefield=From"`
	EffectiveAt time.Time       `json:"effective_at" validate:"required"`
	Rate        decimal.Decimal `json:"rate" validate:"gt=0"`
}

type Repository interface {
	InsertCurrency(ctx context.Context, db *gorm.DB, currency *Currency) error
	FindCurrency(ctx context.Context, db *gorm.DB, code string) (*Currency, error)
	FindFunctional(ctx context.Context, db *gorm.DB) (*Currency, error)
	ListCurrencies(ctx context.Context, db *gorm.DB) ([]Currency, error)
	SetFunctional(ctx context.Context, db *gorm.DB, code string, now time.Time) error
	InsertRate(ctx context.Context, db *gorm.DB, rate *ExchangeRate) error
	LatestRate(ctx context.Context, db *gorm.DB, from, to string, asOf time.Time) (*ExchangeRate, error)
	ListRates(ctx context.Context, db *gorm.DB, from, to string) ([]ExchangeRate, error)
}

type Service interface {
	RegisterCurrency(ctx context.Context, req RegisterCurrencyRequest) (*Currency, error)
	SetFunctional(ctx context.Context, code string) (*Currency, error)
	Functional(ctx context.Context) (*Currency, error)
	Get(ctx context.Context, code string) (*Currency, error)
	List(ctx context.Context) ([]Currency, error)

	RecordRate(ctx context.Context, req RecordRateRequest) (*ExchangeRate, error)
	Quote(ctx context.Context, from, to string, asOf time.Time) (RateQuote, error)
	Rate(ctx context.Context, from, to string, asOf time.Time) (decimal.Decimal, error)
	Convert(ctx context.Context, amount decimal.Decimal, from, to string, asOf time.Time) (decimal.Decimal, error)
	Round(ctx context.Context, amount decimal.Decimal, code string) (decimal.Decimal, error)
}

var (
	ErrDuplicateCurrency = apperror.Validation("code", "duplicate_currency", "currency already registered")
	ErrCurrencyNotFound  = apperror.Validation("code", "currency_not_found", "currency is not registered")
	ErrFunctionalNotSet  = apperror.Validation("", "functional_currency_not_set", "no functional currency is set")
	ErrUnknownPrecision  = apperror.Validation("precision", "unknown_precision", "precision is required for non-ISO currencies")
	ErrDuplicateRate     = apperror.Validation("effective_at", "duplicate_rate", "a rate for this pair and time already exists")
)
