package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	accountdomain "github.com/smallbiznis/stockledger/internal/account/domain"
	"github.com/smallbiznis/stockledger/internal/apperror"
	auditdomain "github.com/smallbiznis/stockledger/internal/audit/domain"
	"github.com/smallbiznis/stockledger/internal/clock"
	currencydomain "github.com/smallbiznis/stockledger/internal/currency/domain"
	ledgerdomain "github.com/smallbiznis/stockledger/internal/ledger/domain"
	"github.com/smallbiznis/stockledger/internal/lock"
	obsmetrics "github.com/smallbiznis/stockledger/internal/observability/metrics"
	"github.com/smallbiznis/stockledger/internal/validation"
	"github.com/smallbiznis/stockledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Clock          clock.Clock
	Locker         lock.Locker
	Repo           ledgerdomain.Repository
	AccountSvc     accountdomain.Service
	CurrencySvc    currencydomain.Service
	AuditSvc       auditdomain.Service
	ObsMetrics     *obsmetrics.Metrics        `optional:"true"`
	PostingMetrics *obsmetrics.PostingMetrics `optional:"true"`
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	clock          clock.Clock
	locker         lock.Locker
	repo           ledgerdomain.Repository
	accountSvc     accountdomain.Service
	currencySvc    currencydomain.Service
	auditSvc       auditdomain.Service
	obsMetrics     *obsmetrics.Metrics
	postingMetrics *obsmetrics.PostingMetrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("ledger.service"),
		genID:          p.GenID,
		clock:          p.Clock,
		locker:         p.Locker,
		repo:           p.Repo,
		accountSvc:     p.AccountSvc,
		currencySvc:    p.CurrencySvc,
		auditSvc:       p.AuditSvc,
		obsMetrics:     p.ObsMetrics,
		postingMetrics: p.PostingMetrics,
	}
}

func (s *Service) CreateDraft(ctx context.Context, req ledgerdomain.EntryRequest, lines []ledgerdomain.LineRequest) (*ledgerdomain.JournalEntry, error) {
	entry, rows, err := s.buildDraft(ctx, req, lines)
	if err != nil {
		return nil, err
	}

	ctx, release, err := s.locker.Acquire(ctx, lock.EntryKey(entry.Ref))
	if err != nil {
		return nil, err
	}
	defer release()

	err = db.Transact(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		return s.insertDraft(ctx, tx, entry, rows)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Service) ReplaceLines(ctx context.Context, ref string, lines []ledgerdomain.LineRequest) ([]ledgerdomain.JournalEntryLine, error) {
	ref = strings.TrimSpace(ref)
	ctx, release, err := s.locker.Acquire(ctx, lock.EntryKey(ref))
	if err != nil {
		return nil, err
	}
	defer release()

	var rows []ledgerdomain.JournalEntryLine
	err = db.Transact(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		entry, err := s.repo.FindEntry(ctx, tx, ref)
		if err != nil {
			return err
		}
		if entry == nil {
			return ledgerdomain.ErrEntryNotFound.With("journal entry %s does not exist", ref)
		}
		if entry.IsPosted() {
			return apperror.ErrImmutableEntry.With("journal entry %s is posted", ref)
		}

		currency, err := s.currencySvc.Get(ctx, entry.CurrencyCode)
		if err != nil {
			return err
		}
		rows, err = s.buildLines(entry, lines, currency.Precision)
		if err != nil {
			return err
		}
		if err := s.repo.DeleteLines(ctx, tx, ref); err != nil {
			return err
		}
		return s.repo.InsertLines(ctx, tx, rows)
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Service) DeleteDraft(ctx context.Context, ref string) error {
	ref = strings.TrimSpace(ref)
	ctx, release, err := s.locker.Acquire(ctx, lock.EntryKey(ref))
	if err != nil {
		return err
	}
	defer release()

	return db.Transact(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		entry, err := s.repo.FindEntry(ctx, tx, ref)
		if err != nil {
			return err
		}
		if entry == nil {
			return ledgerdomain.ErrEntryNotFound.With("journal entry %s does not exist", ref)
		}
		if entry.IsPosted() {
			return apperror.ErrImmutableEntry.With("journal entry %s is posted", ref)
		}
		if err := s.repo.DeleteLines(ctx, tx, ref); err != nil {
			return err
		}
		return s.repo.DeleteEntry(ctx, tx, ref)
	})
}

func (s *Service) Unpost(ctx context.Context, ref string) error {
	entry, err := s.GetEntry(ctx, ref)
	if err != nil {
		return err
	}
	if entry.IsPosted() {
		return apperror.ErrImmutableEntry.With("journal entry %s was posted at %s and cannot be unposted", entry.Ref, entry.PostTime.Format(time.RFC3339))
	}
	return apperror.ErrImmutableEntry.With("journal entry %s has no post time to clear", entry.Ref)
}

func (s *Service) GetEntry(ctx context.Context, ref string) (*ledgerdomain.JournalEntry, error) {
	ref = strings.TrimSpace(ref)
	entry, err := s.repo.FindEntry(ctx, db.Conn(ctx, s.db), ref)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, ledgerdomain.ErrEntryNotFound.With("journal entry %s does not exist", ref)
	}
	return entry, nil
}

func (s *Service) ListLines(ctx context.Context, ref string) ([]ledgerdomain.JournalEntryLine, error) {
	entry, err := s.GetEntry(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.repo.ListLines(ctx, db.Conn(ctx, s.db), entry.Ref)
}

func (s *Service) ListEntries(ctx context.Context, req ledgerdomain.ListEntriesRequest) ([]ledgerdomain.JournalEntry, error) {
	return s.repo.ListEntries(ctx, db.Conn(ctx, s.db), req)
}

// buildDraft validates a request and renders it as unsaved rows. Struct
// violations are reported first, header before lines, then currency and
// precision checks.
func (s *Service) buildDraft(ctx context.Context, req ledgerdomain.EntryRequest, lines []ledgerdomain.LineRequest) (*ledgerdomain.JournalEntry, []ledgerdomain.JournalEntryLine, error) {
	req.Ref = strings.TrimSpace(req.Ref)
	req.CurrencyCode = strings.ToUpper(strings.TrimSpace(req.CurrencyCode))
	req.Note = strings.TrimSpace(req.Note)
	if req.SourceType == "" {
		req.SourceType = ledgerdomain.SourceTypeManual
	}
	if err := validation.Struct(req); err != nil {
		return nil, nil, err
	}
	for i, line := range lines {
		if err := validation.StructAt(linePrefix(i), line); err != nil {
			return nil, nil, err
		}
	}

	currency, err := s.currencySvc.Get(ctx, req.CurrencyCode)
	if err != nil {
		return nil, nil, err
	}

	now := s.clock.Now()
	entry := &ledgerdomain.JournalEntry{
		ID:              s.genID.Generate(),
		Ref:             req.Ref,
		TransactionTime: req.TransactionTime.UTC(),
		Status:          ledgerdomain.EntryStatusDraft,
		Note:            req.Note,
		CurrencyCode:    currency.Code,
		ExchangeRate:    req.ExchangeRate,
		SourceType:      req.SourceType,
		SourceRef:       strings.TrimSpace(req.SourceRef),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	rows, err := s.buildLines(entry, lines, currency.Precision)
	if err != nil {
		return nil, nil, err
	}
	return entry, rows, nil
}

func (s *Service) buildLines(entry *ledgerdomain.JournalEntry, lines []ledgerdomain.LineRequest, precision int32) ([]ledgerdomain.JournalEntryLine, error) {
	now := s.clock.Now()
	rows := make([]ledgerdomain.JournalEntryLine, 0, len(lines))
	for i, line := range lines {
		prefix := linePrefix(i)
		if line.Debit.IsPositive() && line.Credit.IsPositive() {
			return nil, fieldErr(ledgerdomain.ErrDebitAndCredit, prefix+".credit", "line %d has both a debit and a credit", i+1)
		}
		if !ledgerdomain.FitsPrecision(line.Debit, precision) {
			return nil, fieldErr(ledgerdomain.ErrAmountPrecision, prefix+".debit", "%s allows %d decimals", entry.CurrencyCode, precision)
		}
		if !ledgerdomain.FitsPrecision(line.Credit, precision) {
			return nil, fieldErr(ledgerdomain.ErrAmountPrecision, prefix+".credit", "%s allows %d decimals", entry.CurrencyCode, precision)
		}
		if line.ForeignRate != nil && !line.ForeignRate.IsPositive() {
			return nil, apperror.Validation(prefix+".foreign_rate", "gt", "foreign rate must be positive")
		}

		row := ledgerdomain.JournalEntryLine{
			ID:          s.genID.Generate(),
			EntryRef:    entry.Ref,
			LineNumber:  i + 1,
			AccountCode: strings.TrimSpace(line.AccountCode),
			Debit:       line.Debit,
			Credit:      line.Credit,
			Memo:        strings.TrimSpace(line.Memo),
			CreatedAt:   now,
		}
		if line.ForeignAmount != nil {
			code := strings.ToUpper(strings.TrimSpace(line.ForeignCurrencyCode))
			row.ForeignAmount = decimal.NewNullDecimal(line.ForeignAmount.Abs())
			row.ForeignCurrencyCode = &code
		}
		if line.ForeignRate != nil {
			row.ForeignRate = decimal.NewNullDecimal(*line.ForeignRate)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *Service) insertDraft(ctx context.Context, tx *gorm.DB, entry *ledgerdomain.JournalEntry, rows []ledgerdomain.JournalEntryLine) error {
	existing, err := s.repo.FindEntry(ctx, tx, entry.Ref)
	if err != nil {
		return err
	}
	if existing != nil {
		return ledgerdomain.ErrDuplicateEntry.With("journal entry %s already exists", entry.Ref)
	}
	if err := s.repo.InsertEntry(ctx, tx, entry); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return ledgerdomain.ErrDuplicateEntry.With("journal entry %s already exists", entry.Ref)
		}
		return err
	}
	return s.repo.InsertLines(ctx, tx, rows)
}

func linePrefix(i int) string { return fmt.Sprintf("lines[%d]", i) }

func fieldErr(base *apperror.Error, field, format string, args ...any) *apperror.Error {
	err := base.With(format, args...)
	err.Field = field
	return err
}

func accountKeys(codes ...[]string) []string {
	seen := map[string]struct{}{}
	var keys []string
	for _, group := range codes {
		for _, code := range group {
			if _, ok := seen[code]; ok {
				continue
			}
			seen[code] = struct{}{}
			keys = append(keys, lock.AccountKey(code))
		}
	}
	sort.Strings(keys)
	return keys
}

func lineAccounts(lines []ledgerdomain.JournalEntryLine) []string {
	codes := make([]string, 0, len(lines))
	for _, l := range lines {
		codes = append(codes, l.AccountCode)
	}
	return codes
}

func requestAccounts(lines []ledgerdomain.LineRequest) []string {
	codes := make([]string, 0, len(lines))
	for _, l := range lines {
		codes = append(codes, strings.TrimSpace(l.AccountCode))
	}
	return codes
}
