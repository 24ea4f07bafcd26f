package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// AuditLog is an append-only record of a state change in the engine.
type AuditLog struct {
	ID            snowflake.ID      `gorm:"primaryKey" json:"id"`
	Actor         string            `gorm:"type:varchar(64);not null" json:"actor"`
	Action        string            `gorm:"type:varchar(64);not null;index:idx_audit_action" json:"action"`
	TargetType    string            `gorm:"type:varchar(32);not null;index:idx_audit_target,priority:1" json:"target_type"`
	TargetID      string            `gorm:"type:varchar(128);not null;index:idx_audit_target,priority:2" json:"target_id"`
	Metadata      datatypes.JSONMap `json:"metadata"`
	CorrelationID string            `gorm:"type:varchar(32)" json:"correlation_id,omitempty"`
	CreatedAt     time.Time         `gorm:"not null;index:idx_audit_created" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

const (
	ActionCurrencyRegistered        = "currency.registered"
	ActionCurrencyFunctionalChanged = "currency.functional_changed"
	ActionCurrencyRateRecorded      = "currency.rate_recorded"

	ActionAccountRegistered = "account.registered"
	ActionAccountReparented = "account.reparented"

	ActionEntryPosted      = "ledger.entry_posted"
	ActionEntryReversed    = "ledger.entry_reversed"
	ActionFiscalYearOpened = "ledger.fiscal_year_opened"
	ActionFiscalYearClosed = "ledger.fiscal_year_closed"

	ActionProductRegistered    = "inventory.product_registered"
	ActionCostingMethodChanged = "inventory.costing_method_changed"
	ActionTransactionApproved  = "inventory.transaction_approved"
	ActionTransactionPosted    = "inventory.transaction_posted"
	ActionMovementPosted       = "inventory.movement_posted"
)

const (
	TargetCurrency             = "currency"
	TargetExchangeRate         = "exchange_rate"
	TargetAccount              = "account"
	TargetJournalEntry         = "journal_entry"
	TargetFiscalYear           = "fiscal_year"
	TargetProduct              = "product"
	TargetInventoryTransaction = "inventory_transaction"
)

const ActorSystem = "system"

type actorKey struct{}

// WithActor tags ctx with the operator on whose behalf changes are made.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the actor bound to ctx, or ActorSystem.
func ActorFromContext(ctx context.Context) string {
	if ctx != nil {
		if actor, ok := ctx.Value(actorKey{}).(string); ok && actor != "" {
			return actor
		}
	}
	return ActorSystem
}

type AuditCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	Action        string
	TargetType    string
	TargetID      string
	Actor         string
	CorrelationID string
	StartAt       *time.Time
	EndAt         *time.Time
	Cursor        *AuditCursor
	Limit         int
}
