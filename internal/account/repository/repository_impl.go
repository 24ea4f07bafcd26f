package repository

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/stockledger/internal/account/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, account *domain.Account) error {
	return db.WithContext(ctx).Create(account).Error
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, code string) (*domain.Account, error) {
	var account domain.Account
	err := db.WithContext(ctx).Where("code = ?", code).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repo) FindMany(ctx context.Context, db *gorm.DB, codes []string) ([]domain.Account, error) {
	var accounts []domain.Account
	if len(codes) == 0 {
		return accounts, nil
	}
	err := db.WithContext(ctx).Where("code IN ?", codes).Order("code asc").Find(&accounts).Error
	return accounts, err
}

func (r *repo) List(ctx context.Context, db *gorm.DB) ([]domain.Account, error) {
	var accounts []domain.Account
	err := db.WithContext(ctx).Order("code asc").Find(&accounts).Error
	return accounts, err
}

func (r *repo) ListChildren(ctx context.Context, db *gorm.DB, code string) ([]domain.Account, error) {
	var accounts []domain.Account
	err := db.WithContext(ctx).Where("parent_code = ?", code).Order("code asc").Find(&accounts).Error
	return accounts, err
}

func (r *repo) CountChildren(ctx context.Context, db *gorm.DB, codes []string) (map[string]int64, error) {
	counts := make(map[string]int64, len(codes))
	if len(codes) == 0 {
		return counts, nil
	}

	var rows []struct {
		ParentCode string
		Total      int64
	}
	err := db.WithContext(ctx).Model(&domain.Account{}).
		Select("parent_code, COUNT(*) AS total").
		Where("parent_code IN ?", codes).
		Group("parent_code").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		counts[row.ParentCode] = row.Total
	}
	return counts, nil
}

func (r *repo) UpdateParent(ctx context.Context, db *gorm.DB, code string, parent *string, now time.Time) error {
	return db.WithContext(ctx).Model(&domain.Account{}).
		Where("code = ?", code).
		Updates(map[string]any{"parent_code": parent, "updated_at": now}).Error
}

func (r *repo) SaveBalance(ctx context.Context, db *gorm.DB, account *domain.Account) error {
	return db.WithContext(ctx).Model(&domain.Account{}).
		Where("code = ?", account.Code).
		Updates(map[string]any{
			"balance_native":     account.BalanceNative,
			"balance_functional": account.BalanceFunctional,
			"posted_lines":       account.PostedLines,
			"updated_at":         account.UpdatedAt,
		}).Error
}
