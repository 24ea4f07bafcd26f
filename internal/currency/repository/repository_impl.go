package repository

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/stockledger/internal/currency/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertCurrency(ctx context.Context, db *gorm.DB, currency *domain.Currency) error {
	return db.WithContext(ctx).Create(currency).Error
}

func (r *repo) FindCurrency(ctx context.Context, db *gorm.DB, code string) (*domain.Currency, error) {
	var currency domain.Currency
	err := db.WithContext(ctx).Where("code = ?", code).First(&currency).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &currency, nil
}

func (r *repo) FindFunctional(ctx context.Context, db *gorm.DB) (*domain.Currency, error) {
	var currencies []domain.Currency
	if err := db.WithContext(ctx).Where("is_functional = ?", true).Limit(2).Find(&currencies).Error; err != nil {
		return nil, err
	}
	switch len(currencies) {
	case 0:
		return nil, nil
	case 1:
		return &currencies[0], nil
	default:
		return nil, errors.New("more than one functional currency")
	}
}

func (r *repo) ListCurrencies(ctx context.Context, db *gorm.DB) ([]domain.Currency, error) {
	var currencies []domain.Currency
	err := db.WithContext(ctx).Order("code asc").Find(&currencies).Error
	return currencies, err
}

// SetFunctional demotes every functional currency and promotes code in the
// same statement sequence; callers run it inside a transaction.
func (r *repo) SetFunctional(ctx context.Context, db *gorm.DB, code string, now time.Time) error {
	if err := db.WithContext(ctx).Model(&domain.Currency{}).
		Where("is_functional = ? AND code <> ?", true, code).
		Updates(map[string]any{"is_functional": false, "updated_at": now}).Error; err != nil {
		return err
	}
	return db.WithContext(ctx).Model(&domain.Currency{}).
		Where("code = ?", code).
		Updates(map[string]any{"is_functional": true, "updated_at": now}).Error
}

func (r *repo) InsertRate(ctx context.Context, db *gorm.DB, rate *domain.ExchangeRate) error {
	return db.WithContext(ctx).Create(rate).Error
}

func (r *repo) LatestRate(ctx context.Context, db *gorm.DB, from, to string, asOf time.Time) (*domain.ExchangeRate, error) {
	var rates []domain.ExchangeRate
	err := db.WithContext(ctx).
		Where("from_currency = ? AND to_currency = ? AND effective_at <= ?", from, to, asOf.UTC()).
		Order("effective_at desc").
		Limit(1).
		Find(&rates).Error
	if err != nil {
		return nil, err
	}
	if len(rates) == 0 {
		return nil, nil
	}
	return &rates[0], nil
}

func (r *repo) ListRates(ctx context.Context, db *gorm.DB, from, to string) ([]domain.ExchangeRate, error) {
	var rates []domain.ExchangeRate
	stmt := db.WithContext(ctx).Model(&domain.ExchangeRate{})
	if from != "" {
		stmt = stmt.Where("from_currency = ?", from)
	}
	if to != "" {
		stmt = stmt.Where("to_currency = ?", to)
	}
	err := stmt.Order("from_currency asc, to_currency asc, effective_at asc").Find(&rates).Error
	return rates, err
}
