package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// EntryStatus is the journal entry lifecycle. Posted is terminal.
type EntryStatus string

const (
	EntryStatusDraft  EntryStatus = "draft"
	EntryStatusPosted EntryStatus = "posted"
)

// CanTransition reports whether an entry may move from s to next.
func (s EntryStatus) CanTransition(next EntryStatus) bool {
	return s == EntryStatusDraft && next == EntryStatusPosted
}

type SourceType string

const (
	SourceTypeManual    SourceType = "manual"    // operator or collaborator adjustment
	SourceTypeInventory SourceType = "inventory" // cost-layer engine movement
	SourceTypeClosing   SourceType = "closing"   // fiscal year close
	SourceTypeReversal  SourceType = "reversal"  // mirror of a posted entry
)

// Side is the column a journal line amount sits in.
type Side string

const (
	SideDebit  Side = "debit"
	SideCredit Side = "credit"
)

// JournalEntry is the header of a double-entry posting. PostTime and Status
// are set once, together, when the entry is posted.
type JournalEntry struct {
	ID              snowflake.ID    `gorm:"primaryKey" json:"id"`
	Ref             string          `gorm:"type:varchar(64);not null;uniqueIndex" json:"ref"`
	TransactionTime time.Time       `gorm:"not null;index" json:"transaction_time"`
	PostTime        *time.Time      `json:"post_time,omitempty"`
	Status          EntryStatus     `gorm:"type:varchar(16);not null;index" json:"status"`
	Note            string          `gorm:"type:varchar(512)" json:"note,omitempty"`
	CurrencyCode    string          `gorm:"type:varchar(8);not null" json:"currency_code"`
	ExchangeRate    decimal.Decimal `gorm:"type:decimal(28,12);not null;default:0" json:"exchange_rate_to_functional"`
	SourceType      SourceType      `gorm:"type:varchar(16);not null;index" json:"source_type"`
	SourceRef       string          `gorm:"type:varchar(64)" json:"source_ref,omitempty"`
	ReversalOf      *string         `gorm:"type:varchar(64);index" json:"reversal_of,omitempty"`
	CreatedAt       time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"not null" json:"updated_at"`
}

func (JournalEntry) TableName() string { return "journal_entries" }

func (e JournalEntry) IsPosted() bool { return e.Status == EntryStatusPosted }

// JournalEntryLine is one debit or credit of an entry. Debit and Credit are in
// the entry's transaction currency; the functional columns are filled at post.
type JournalEntryLine struct {
	ID                  snowflake.ID        `gorm:"primaryKey" json:"id"`
	EntryRef            string              `gorm:"type:varchar(64);not null;uniqueIndex:ux_journal_entry_line,priority:1" json:"entry_ref"`
	LineNumber          int                 `gorm:"not null;uniqueIndex:ux_journal_entry_line,priority:2" json:"line_number"`
	AccountCode         string              `gorm:"type:varchar(32);not null;index" json:"account_code"`
	Debit               decimal.Decimal     `gorm:"type:decimal(28,8);not null;default:0" json:"debit"`
	Credit              decimal.Decimal     `gorm:"type:decimal(28,8);not null;default:0" json:"credit"`
	DebitFunctional     decimal.Decimal     `gorm:"type:decimal(28,8);not null;default:0" json:"debit_functional"`
	CreditFunctional    decimal.Decimal     `gorm:"type:decimal(28,8);not null;default:0" json:"credit_functional"`
	ForeignAmount       decimal.NullDecimal `gorm:"type:decimal(28,8)" json:"foreign_amount"`
	ForeignCurrencyCode *string             `gorm:"type:varchar(8)" json:"foreign_currency_code,omitempty"`
	ForeignRate         decimal.NullDecimal `gorm:"type:decimal(28,12)" json:"foreign_rate"`
	Memo                string              `gorm:"type:varchar(256)" json:"memo,omitempty"`
	CreatedAt           time.Time           `gorm:"not null" json:"created_at"`
}

func (JournalEntryLine) TableName() string { return "journal_entry_lines" }

func (l JournalEntryLine) Side() Side {
	if l.Credit.IsPositive() {
		return SideCredit
	}
	return SideDebit
}

// FiscalYear covers [BeginTime, EndTime).
type FiscalYear struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id"`
	BeginTime       time.Time    `gorm:"not null;uniqueIndex" json:"begin_time"`
	EndTime         time.Time    `gorm:"not null" json:"end_time"`
	ClosedAt        *time.Time   `json:"closed_at,omitempty"`
	ClosingEntryRef *string      `gorm:"type:varchar(64)" json:"closing_entry_ref,omitempty"`
	CreatedAt       time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time    `gorm:"not null" json:"updated_at"`
}

func (FiscalYear) TableName() string { return "fiscal_years" }

func (y FiscalYear) Contains(t time.Time) bool {
	return !t.Before(y.BeginTime) && t.Before(y.EndTime)
}

func (y FiscalYear) IsClosed() bool { return y.ClosedAt != nil }
