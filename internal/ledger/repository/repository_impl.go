package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stockledger/internal/ledger/domain"
	"github.com/smallbiznis/stockledger/pkg/db/option"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertEntry(ctx context.Context, db *gorm.DB, entry *domain.JournalEntry) error {
	return db.WithContext(ctx).Create(entry).Error
}

func (r *repo) FindEntry(ctx context.Context, db *gorm.DB, ref string) (*domain.JournalEntry, error) {
	var entry domain.JournalEntry
	err := option.ForUpdate().Apply(db.WithContext(ctx)).Where("ref = ?", ref).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repo) FindReversal(ctx context.Context, db *gorm.DB, ref string) (*domain.JournalEntry, error) {
	var entries []domain.JournalEntry
	if err := db.WithContext(ctx).Where("reversal_of = ?", ref).Limit(1).Find(&entries).Error; err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

func (r *repo) ListEntries(ctx context.Context, db *gorm.DB, req domain.ListEntriesRequest) ([]domain.JournalEntry, error) {
	stmt := db.WithContext(ctx).Model(&domain.JournalEntry{})
	if req.Status != "" {
		stmt = stmt.Where("status = ?", req.Status)
	}
	if req.SourceType != "" {
		stmt = stmt.Where("source_type = ?", req.SourceType)
	}
	if req.From != nil {
		stmt = stmt.Where("transaction_time >= ?", req.From.UTC())
	}
	if req.To != nil {
		stmt = stmt.Where("transaction_time < ?", req.To.UTC())
	}
	stmt = option.Limit(req.Limit).Apply(stmt)

	var entries []domain.JournalEntry
	err := stmt.Order("transaction_time asc").Order("ref asc").Find(&entries).Error
	return entries, err
}

// MarkPosted flips a draft to posted. It reports false when the entry was no
// longer a draft.
func (r *repo) MarkPosted(ctx context.Context, db *gorm.DB, entry *domain.JournalEntry) (bool, error) {
	result := db.WithContext(ctx).Model(&domain.JournalEntry{}).
		Where("ref = ? AND status = ?", entry.Ref, domain.EntryStatusDraft).
		Updates(map[string]any{
			"status":        entry.Status,
			"post_time":     entry.PostTime,
			"exchange_rate": entry.ExchangeRate,
			"updated_at":    entry.UpdatedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) DeleteEntry(ctx context.Context, db *gorm.DB, ref string) error {
	return db.WithContext(ctx).Where("ref = ? AND status = ?", ref, domain.EntryStatusDraft).Delete(&domain.JournalEntry{}).Error
}

func (r *repo) InsertLines(ctx context.Context, db *gorm.DB, lines []domain.JournalEntryLine) error {
	if len(lines) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&lines).Error
}

func (r *repo) ListLines(ctx context.Context, db *gorm.DB, ref string) ([]domain.JournalEntryLine, error) {
	var lines []domain.JournalEntryLine
	err := db.WithContext(ctx).Where("entry_ref = ?", ref).Order("line_number asc").Find(&lines).Error
	return lines, err
}

func (r *repo) UpdateFunctional(ctx context.Context, db *gorm.DB, line *domain.JournalEntryLine) error {
	return db.WithContext(ctx).Model(&domain.JournalEntryLine{}).
		Where("id = ?", line.ID).
		Updates(map[string]any{
			"debit_functional":  line.DebitFunctional,
			"credit_functional": line.CreditFunctional,
		}).Error
}

func (r *repo) DeleteLines(ctx context.Context, db *gorm.DB, ref string) error {
	return db.WithContext(ctx).Where("entry_ref = ?", ref).Delete(&domain.JournalEntryLine{}).Error
}

// PostedLines returns posted lines, optionally restricted to accounts and to
// entries dated within [from, to).
func (r *repo) PostedLines(ctx context.Context, db *gorm.DB, accountCodes []string, from, to *time.Time) ([]domain.PostedLine, error) {
	stmt := db.WithContext(ctx).
		Table("journal_entry_lines AS l").
		Select("l.*, e.transaction_time AS transaction_time, e.source_type AS source_type, e.currency_code AS entry_currency").
		Joins("JOIN journal_entries AS e ON e.ref = l.entry_ref").
		Where("e.status = ?", domain.EntryStatusPosted)
	if len(accountCodes) > 0 {
		stmt = stmt.Where("l.account_code IN ?", accountCodes)
	}
	if from != nil {
		stmt = stmt.Where("e.transaction_time >= ?", from.UTC())
	}
	if to != nil {
		stmt = stmt.Where("e.transaction_time < ?", to.UTC())
	}

	var lines []domain.PostedLine
	err := stmt.Order("e.transaction_time asc").Order("l.entry_ref asc").Order("l.line_number asc").Scan(&lines).Error
	return lines, err
}

func (r *repo) InsertFiscalYear(ctx context.Context, db *gorm.DB, year *domain.FiscalYear) error {
	return db.WithContext(ctx).Create(year).Error
}

func (r *repo) FindFiscalYear(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.FiscalYear, error) {
	var year domain.FiscalYear
	err := db.WithContext(ctx).Where("id = ?", id).First(&year).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &year, nil
}

func (r *repo) FindFiscalYearAt(ctx context.Context, db *gorm.DB, at time.Time) (*domain.FiscalYear, error) {
	var years []domain.FiscalYear
	err := db.WithContext(ctx).
		Where("begin_time <= ? AND end_time > ?", at.UTC(), at.UTC()).
		Limit(1).
		Find(&years).Error
	if err != nil {
		return nil, err
	}
	if len(years) == 0 {
		return nil, nil
	}
	return &years[0], nil
}

func (r *repo) LastFiscalYear(ctx context.Context, db *gorm.DB) (*domain.FiscalYear, error) {
	var years []domain.FiscalYear
	if err := db.WithContext(ctx).Order("end_time desc").Limit(1).Find(&years).Error; err != nil {
		return nil, err
	}
	if len(years) == 0 {
		return nil, nil
	}
	return &years[0], nil
}

func (r *repo) ListFiscalYears(ctx context.Context, db *gorm.DB) ([]domain.FiscalYear, error) {
	var years []domain.FiscalYear
	err := db.WithContext(ctx).Order("begin_time asc").Find(&years).Error
	return years, err
}

func (r *repo) CloseFiscalYear(ctx context.Context, db *gorm.DB, year *domain.FiscalYear) error {
	return db.WithContext(ctx).Model(&domain.FiscalYear{}).
		Where("id = ? AND closed_at IS NULL", year.ID).
		Updates(map[string]any{
			"closed_at":         year.ClosedAt,
			"closing_entry_ref": year.ClosingEntryRef,
			"updated_at":        year.UpdatedAt,
		}).Error
}
