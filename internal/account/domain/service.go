package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/stockledger/internal/apperror"
	"gorm.io/gorm"
)

type RegisterRequest struct {
	Code         string      `json:"code" validate:"required,max=32"`
	Name         string      `json:"name" validate:"required,max=128"`
	Type         AccountType `json:"type" validate:"required,oneof=asset liability equity revenue contra_revenue expense"`
	CurrencyCode string      `json:"currency_code" validate:"required,max=8"`
	ParentCode   string      `json:"parent_code" validate:"omitempty,max=32,nefield=Code"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, account *Account) error
	Find(ctx context.Context, db *gorm.DB, code string) (*Account, error)
	FindMany(ctx context.Context, db *gorm.DB, codes []string) ([]Account, error)
	List(ctx context.Context, db *gorm.DB) ([]Account, error)
	ListChildren(ctx context.Context, db *gorm.DB, code string) ([]Account, error)
	CountChildren(ctx context.Context, db *gorm.DB, codes []string) (map[string]int64, error)
	UpdateParent(ctx context.Context, db *gorm.DB, code string, parent *string, now time.Time) error
	SaveBalance(ctx context.Context, db *gorm.DB, account *Account) error
}

type Service interface {
	Register(ctx context.Context, req RegisterRequest) (*Account, error)
	Reparent(ctx context.Context, code string, newParent string) (*Account, error)
	Get(ctx context.Context, code string) (*Account, error)
	List(ctx context.Context) ([]Account, error)
	Children(ctx context.Context, code string) ([]Account, error)
	IsLeaf(ctx context.Context, code string) (bool, error)
	Tree(ctx context.Context) (Tree, error)

	// ApplyPosting adds signed deltas, in normal-balance sign, to an account's
	// balances. It must run inside the caller's posting transaction.
	ApplyPosting(ctx context.Context, tx *gorm.DB, code string, nativeSigned, functionalSigned decimal.Decimal) error
}

var (
	ErrDuplicateAccount  = apperror.Validation("code", "duplicate_account", "account code already registered")
	ErrAccountNotFound   = apperror.Validation("code", "account_not_found", "account does not exist")
	ErrParentNotFound    = apperror.Validation("parent_code", "parent_not_found", "parent account does not exist")
	ErrParentHasActivity = apperror.Validation("parent_code", "parent_has_activity", "parent account already carries posted lines")
	ErrAccountCycle      = apperror.Validation("parent_code", "account_cycle", "parent chain would contain a cycle")
	ErrUnknownCurrency   = apperror.Validation("currency_code", "account_currency_not_found", "account currency is not registered")
)
