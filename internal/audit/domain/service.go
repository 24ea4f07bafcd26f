package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/stockledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListAuditLogRequest struct {
	pagination.Pagination
	Action        string
	TargetType    string
	TargetID      string
	Actor         string
	CorrelationID string
	StartAt       *time.Time
	EndAt         *time.Time
}

type ListAuditLogResponse struct {
	pagination.PageInfo
	AuditLogs []AuditLog `json:"audit_logs"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*AuditLog, error)
}

// Service records and lists audit entries. AuditLog joins the transaction
// bound to ctx so an entry commits or rolls back with the change it describes.
type Service interface {
	AuditLog(ctx context.Context, action, targetType, targetID string, metadata map[string]any) error
	List(ctx context.Context, req ListAuditLogRequest) (ListAuditLogResponse, error)
}

var (
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrInvalidTimeRange = errors.New("invalid_time_range")
	ErrInvalidAction    = errors.New("invalid_action")
)
