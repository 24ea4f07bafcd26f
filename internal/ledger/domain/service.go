package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/stockledger/internal/apperror"
	"gorm.io/gorm"
)

// EntryRequest describes a journal entry header. A zero ExchangeRate is
// resolved from the currency registry at the transaction time.
type EntryRequest struct {
	Ref             string          `json:"ref" validate:"required,max=64"`
	TransactionTime time.Time       `json:"transaction_time" validate:"required"`
	CurrencyCode    string          `json:"currency_code" validate:"required,max=8"`
	ExchangeRate    decimal.Decimal `json:"exchange_rate_to_functional" validate:"gte=0"`
	Note            string          `json:"note" validate:"max=512"`
	SourceType      SourceType      `json:"source_type" validate:"omitempty,oneof=manual inventory closing reversal"`
	SourceRef       string          `json:"source_ref" validate:"max=64"`
}

type LineRequest struct {
	AccountCode         string           `json:"account_code" validate:"required,max=32"`
	Debit               decimal.Decimal  `json:"debit" validate:"gte=0"`
	Credit              decimal.Decimal  `json:"credit" validate:"gte=0"`
	ForeignAmount       *decimal.Decimal `json:"foreign_amount,omitempty"`
	ForeignCurrencyCode string           `json:"foreign_currency_code,omitempty" validate:"required_with=ForeignAmount,max=8"`
	ForeignRate         *decimal.Decimal `json:"foreign_rate,omitempty"`
	Memo                string           `json:"memo,omitempty" validate:"max=256"`
}

// ReverseRequest names the mirror entry. A zero TransactionTime reuses the
// original entry's time.
type ReverseRequest struct {
	Ref             string    `json:"ref" validate:"required,max=64"`
	TransactionTime time.Time `json:"transaction_time"`
	Note            string    `json:"note" validate:"max=512"`
}

type PostResult struct {
	Ref      string    `json:"ref"`
	PostTime time.Time `json:"post_time"`
}

type ListEntriesRequest struct {
	Status     EntryStatus
	SourceType SourceType
	From       *time.Time
	To         *time.Time
	Limit      int
}

// PostedLine is a posted journal line joined with its entry header.
type PostedLine struct {
	JournalEntryLine
	TransactionTime time.Time
	SourceType      SourceType
	EntryCurrency   string
}

type Repository interface {
	InsertEntry(ctx context.Context, db *gorm.DB, entry *JournalEntry) error
	FindEntry(ctx context.Context, db *gorm.DB, ref string) (*JournalEntry, error)
	FindReversal(ctx context.Context, db *gorm.DB, ref string) (*JournalEntry, error)
	ListEntries(ctx context.Context, db *gorm.DB, req ListEntriesRequest) ([]JournalEntry, error)
	MarkPosted(ctx context.Context, db *gorm.DB, entry *JournalEntry) (bool, error)
	DeleteEntry(ctx context.Context, db *gorm.DB, ref string) error

	InsertLines(ctx context.Context, db *gorm.DB, lines []JournalEntryLine) error
	ListLines(ctx context.Context, db *gorm.DB, ref string) ([]JournalEntryLine, error)
	UpdateFunctional(ctx context.Context, db *gorm.DB, line *JournalEntryLine) error
	DeleteLines(ctx context.Context, db *gorm.DB, ref string) error
	PostedLines(ctx context.Context, db *gorm.DB, accountCodes []string, from, to *time.Time) ([]PostedLine, error)

	InsertFiscalYear(ctx context.Context, db *gorm.DB, year *FiscalYear) error
	FindFiscalYear(ctx context.Context, db *gorm.DB, id snowflake.ID) (*FiscalYear, error)
	FindFiscalYearAt(ctx context.Context, db *gorm.DB, at time.Time) (*FiscalYear, error)
	LastFiscalYear(ctx context.Context, db *gorm.DB) (*FiscalYear, error)
	ListFiscalYears(ctx context.Context, db *gorm.DB) ([]FiscalYear, error)
	CloseFiscalYear(ctx context.Context, db *gorm.DB, year *FiscalYear) error
}

type Service interface {
	CreateDraft(ctx context.Context, entry EntryRequest, lines []LineRequest) (*JournalEntry, error)
	ReplaceLines(ctx context.Context, ref string, lines []LineRequest) ([]JournalEntryLine, error)
	DeleteDraft(ctx context.Context, ref string) error
	Post(ctx context.Context, ref string) (PostResult, error)

	// PostJournalEntry creates and posts an entry in one step. It joins a
	// transaction already bound to ctx.
	PostJournalEntry(ctx context.Context, entry EntryRequest, lines []LineRequest) (PostResult, error)

	// Unpost always fails: posted entries are corrected with Reverse.
	Unpost(ctx context.Context, ref string) error
	Reverse(ctx context.Context, ref string, req ReverseRequest) (PostResult, error)

	GetEntry(ctx context.Context, ref string) (*JournalEntry, error)
	ListLines(ctx context.Context, ref string) ([]JournalEntryLine, error)
	ListEntries(ctx context.Context, req ListEntriesRequest) ([]JournalEntry, error)

	OpenFiscalYear(ctx context.Context, begin, end time.Time) (*FiscalYear, error)
	ListFiscalYears(ctx context.Context) ([]FiscalYear, error)
	CloseFiscalYear(ctx context.Context, id snowflake.ID, retainedEarningsCode string) (*FiscalYear, error)
}

var (
	ErrEntryNotFound        = apperror.Validation("ref", "entry_not_found", "journal entry does not exist")
	ErrDuplicateEntry       = apperror.Validation("ref", "duplicate_entry", "journal entry ref already used")
	ErrInsufficientLines    = apperror.Validation("lines", "entry_lines_required", "a journal entry needs at least two lines")
	ErrDebitAndCredit       = apperror.Validation("credit", "debit_and_credit", "a line carries either a debit or a credit")
	ErrAmountPrecision      = apperror.Validation("debit", "precision_exceeded", "amount has more decimals than the currency allows")
	ErrEntryNotPosted       = apperror.Validation("ref", "entry_not_posted", "only posted entries can be reversed")
	ErrAlreadyReversed      = apperror.Validation("ref", "already_reversed", "entry already has a reversal")
	ErrFiscalYearNotFound   = apperror.Validation("id", "fiscal_year_not_found", "fiscal year does not exist")
	ErrInvalidFiscalRange   = apperror.Validation("end_time", "invalid_fiscal_range", "fiscal year must end after it begins")
	ErrInvalidRetainedEarns = apperror.Validation("retained_earnings_code", "invalid_retained_earnings", "retained earnings must be a leaf equity account")

	// ErrGeneratedEntry rejects reversing entries owned by another posting
	// path: inventory movements keep layers and stock in step with them, and
	// closing entries belong to a closed fiscal year.
	ErrGeneratedEntry = &apperror.Error{Kind: apperror.KindImmutable, Code: "generated_entry", Field: "ref"}
)
