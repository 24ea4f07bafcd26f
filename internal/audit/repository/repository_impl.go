package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/stockledger/internal/audit/domain"
	"github.com/smallbiznis/stockledger/pkg/db/option"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.AuditLog) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Create(entry).Error
}

// List returns at most Limit+1 rows, newest first, so the caller can tell
// whether another page exists.
func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.AuditLog, error) {
	stmt := db.WithContext(ctx).Model(&domain.AuditLog{})
	for _, opt := range listOptions(filter) {
		stmt = opt.Apply(stmt)
	}

	var logs []*domain.AuditLog
	if err := stmt.Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

func listOptions(filter domain.ListFilter) []option.QueryOption {
	var opts []option.QueryOption
	equal := func(column, value string) {
		if value = strings.TrimSpace(value); value != "" {
			opts = append(opts, option.Where(column+" = ?", value))
		}
	}
	equal("action", filter.Action)
	equal("target_type", filter.TargetType)
	equal("target_id", filter.TargetID)
	equal("actor", filter.Actor)
	equal("correlation_id", filter.CorrelationID)

	if filter.StartAt != nil {
		opts = append(opts, option.Where("created_at >= ?", filter.StartAt.UTC()))
	}
	if filter.EndAt != nil {
		opts = append(opts, option.Where("created_at <= ?", filter.EndAt.UTC()))
	}
	if c := filter.Cursor; c != nil {
		opts = append(opts, option.Where("(created_at < ?) OR (created_at = ? AND id < ?)", c.CreatedAt, c.CreatedAt, c.ID))
	}

	opts = append(opts, option.OrderBy("created_at", true), option.OrderBy("id", true))
	if filter.Limit > 0 {
		opts = append(opts, option.Limit(filter.Limit+1))
	}
	return opts
}
