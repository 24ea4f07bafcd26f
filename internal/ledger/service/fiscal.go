package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	accountdomain "github.com/smallbiznis/stockledger/internal/account/domain"
	"github.com/smallbiznis/stockledger/internal/apperror"
	auditdomain "github.com/smallbiznis/stockledger/internal/audit/domain"
	currencydomain "github.com/smallbiznis/stockledger/internal/currency/domain"
	ledgerdomain "github.com/smallbiznis/stockledger/internal/ledger/domain"
	"github.com/smallbiznis/stockledger/internal/lock"
	obsmetrics "github.com/smallbiznis/stockledger/internal/observability/metrics"
	"github.com/smallbiznis/stockledger/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenFiscalYear appends [begin, end). Years must chain: begin equals the
// previous year's end unless no year exists yet.
func (s *Service) OpenFiscalYear(ctx context.Context, begin, end time.Time) (*ledgerdomain.FiscalYear, error) {
	begin = begin.UTC()
	end = end.UTC()
	if begin.IsZero() {
		return nil, apperror.Validation("begin_time", "required", "begin_time is required")
	}
	if !end.After(begin) {
		return nil, ledgerdomain.ErrInvalidFiscalRange.With("end %s is not after begin %s", end.Format(time.RFC3339), begin.Format(time.RFC3339))
	}

	ctx, release, err := s.locker.Acquire(ctx, lock.FiscalKey)
	if err != nil {
		return nil, err
	}
	defer release()

	now := s.clock.Now()
	year := &ledgerdomain.FiscalYear{
		ID:        s.genID.Generate(),
		BeginTime: begin,
		EndTime:   end,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = db.Transact(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		last, err := s.repo.LastFiscalYear(ctx, tx)
		if err != nil {
			return err
		}
		if last != nil && !begin.Equal(last.EndTime) {
			return apperror.ErrNonContiguousFiscalYear.With("fiscal year must begin at %s, the end of the previous year, not %s",
				last.EndTime.UTC().Format(time.RFC3339), begin.Format(time.RFC3339))
		}
		if err := s.repo.InsertFiscalYear(ctx, tx, year); err != nil {
			return err
		}
		return s.auditSvc.AuditLog(ctx, auditdomain.ActionFiscalYearOpened, auditdomain.TargetFiscalYear, year.ID.String(), map[string]any{
			"begin_time": begin.Format(time.RFC3339),
			"end_time":   end.Format(time.RFC3339),
		})
	})
	if err != nil {
		return nil, err
	}
	return year, nil
}

func (s *Service) ListFiscalYears(ctx context.Context) ([]ledgerdomain.FiscalYear, error) {
	return s.repo.ListFiscalYears(ctx, db.Conn(ctx, s.db))
}

// CloseFiscalYear zeroes the year's revenue, contra-revenue and expense
// activity into retainedEarningsCode through an ordinary posted entry, then
// marks the year closed.
func (s *Service) CloseFiscalYear(ctx context.Context, id snowflake.ID, retainedEarningsCode string) (closed *ledgerdomain.FiscalYear, err error) {
	retainedEarningsCode = strings.TrimSpace(retainedEarningsCode)
	started := time.Now()
	defer func() {
		s.postingMetrics.ObservePosting(obsmetrics.OperationFiscalClose, time.Since(started), err)
		if err != nil {
			s.obsMetrics.RecordPostingRejected(ctx, obsmetrics.OperationFiscalClose, err)
		}
	}()

	year, err := s.repo.FindFiscalYear(ctx, db.Conn(ctx, s.db), id)
	if err != nil {
		return nil, err
	}
	if year == nil {
		return nil, ledgerdomain.ErrFiscalYearNotFound.With("fiscal year %s does not exist", id)
	}
	retained, err := s.retainedEarnings(ctx, retainedEarningsCode)
	if err != nil {
		return nil, err
	}
	accounts, err := s.accountSvc.List(ctx)
	if err != nil {
		return nil, err
	}
	nominal := make([]string, 0, len(accounts))
	byCode := make(map[string]*accountdomain.Account, len(accounts))
	for i, acc := range accounts {
		if acc.Type.IsNominal() {
			nominal = append(nominal, acc.Code)
			byCode[acc.Code] = &accounts[i]
		}
	}

	ref := closingRef(year)
	keys := append([]string{lock.FiscalKey, lock.EntryKey(ref)}, accountKeys(nominal, []string{retained.Code})...)
	ctx, release, err := s.locker.Acquire(ctx, keys...)
	if err != nil {
		return nil, err
	}
	defer release()

	err = db.Transact(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		current, err := s.repo.FindFiscalYear(ctx, tx, id)
		if err != nil {
			return err
		}
		if current.IsClosed() {
			return apperror.ErrFiscalYearClosed.With("fiscal year %s closed at %s", id, current.ClosedAt.UTC().Format(time.RFC3339))
		}

		functional, err := s.currencySvc.Functional(ctx)
		if err != nil {
			return err
		}

		var lines []ledgerdomain.LineRequest
		if len(nominal) > 0 {
			activity, err := s.repo.PostedLines(ctx, tx, nominal, &current.BeginTime, &current.EndTime)
			if err != nil {
				return err
			}
			native, err := s.foreignActivity(ctx, activity, byCode, functional)
			if err != nil {
				return err
			}
			lines = closingLines(activity, native, retained.Code)
		}

		var closingEntryRef *string
		if len(lines) > 0 {
			entry, rows, err := s.buildDraft(ctx, ledgerdomain.EntryRequest{
				Ref:             ref,
				TransactionTime: current.EndTime.Add(-time.Second),
				CurrencyCode:    functional.Code,
				ExchangeRate:    decimal.NewFromInt(1),
				Note:            "Fiscal year close " + current.BeginTime.Format("2006-01-02"),
				SourceType:      ledgerdomain.SourceTypeClosing,
				SourceRef:       current.ID.String(),
			}, lines)
			if err != nil {
				return err
			}
			if _, err := s.commit(ctx, tx, entry, rows); err != nil {
				return err
			}
			closingEntryRef = &entry.Ref
		}

		now := s.clock.Now()
		current.ClosedAt = &now
		current.ClosingEntryRef = closingEntryRef
		current.UpdatedAt = now
		if err := s.repo.CloseFiscalYear(ctx, tx, current); err != nil {
			return err
		}
		closed = current

		meta := map[string]any{"retained_earnings": retained.Code, "closing_lines": len(lines)}
		if closingEntryRef != nil {
			meta["closing_entry_ref"] = *closingEntryRef
		}
		return s.auditSvc.AuditLog(ctx, auditdomain.ActionFiscalYearClosed, auditdomain.TargetFiscalYear, current.ID.String(), meta)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("fiscal year closed", zap.String("fiscal_year_id", id.String()), zap.String("retained_earnings", retained.Code))
	return closed, nil
}

func (s *Service) retainedEarnings(ctx context.Context, code string) (*accountdomain.Account, error) {
	if code == "" {
		return nil, ledgerdomain.ErrInvalidRetainedEarns.With("retained earnings account is required")
	}
	account, err := s.accountSvc.Get(ctx, code)
	if err != nil {
		if apperror.IsValidation(err) {
			return nil, ledgerdomain.ErrInvalidRetainedEarns.With("account %s does not exist", code)
		}
		return nil, err
	}
	if account.Type != accountdomain.AccountTypeEquity {
		return nil, ledgerdomain.ErrInvalidRetainedEarns.With("account %s is %s, not equity", code, account.Type)
	}
	leaf, err := s.accountSvc.IsLeaf(ctx, code)
	if err != nil {
		return nil, err
	}
	if !leaf {
		return nil, ledgerdomain.ErrInvalidRetainedEarns.With("account %s has children", code)
	}
	return account, nil
}

// foreignNet is a nominal account's debit-positive activity in its own
// currency.
type foreignNet struct {
	currency string
	amount   decimal.Decimal
}

// foreignActivity nets the native activity of nominal accounts kept outside
// the functional currency, expressing each line exactly as it was applied to
// the account balance when posted.
func (s *Service) foreignActivity(ctx context.Context, activity []ledgerdomain.PostedLine, accounts map[string]*accountdomain.Account, functional *currencydomain.Currency) (map[string]foreignNet, error) {
	out := map[string]foreignNet{}
	for _, l := range activity {
		account, ok := accounts[l.AccountCode]
		if !ok || account.CurrencyCode == functional.Code {
			continue
		}
		entry := &ledgerdomain.JournalEntry{CurrencyCode: l.EntryCurrency, TransactionTime: l.TransactionTime}
		debit, credit, err := s.nativeAmounts(ctx, l.JournalEntryLine, account, entry, functional)
		if err != nil {
			return nil, err
		}
		net, ok := out[l.AccountCode]
		if !ok {
			net = foreignNet{currency: account.CurrencyCode, amount: decimal.Zero}
		}
		net.amount = net.amount.Add(debit).Sub(credit)
		out[l.AccountCode] = net
	}
	return out, nil
}

// closingLines nets each nominal account's functional activity and books the
// opposite side, with the sum landing in retained earnings. A foreign account
// also carries its native net so its own-currency balance closes to zero; when
// the native net runs against the functional side it is left to conversion.
func closingLines(activity []ledgerdomain.PostedLine, native map[string]foreignNet, retainedCode string) []ledgerdomain.LineRequest {
	net := map[string]decimal.Decimal{}
	for _, l := range activity {
		current, ok := net[l.AccountCode]
		if !ok {
			current = decimal.Zero
		}
		net[l.AccountCode] = current.Add(l.DebitFunctional).Sub(l.CreditFunctional)
	}

	codes := make([]string, 0, len(net))
	for code, amount := range net {
		if !amount.IsZero() {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	if len(codes) == 0 {
		return nil
	}

	lines := make([]ledgerdomain.LineRequest, 0, len(codes)+1)
	total := decimal.Zero
	for _, code := range codes {
		amount := net[code]
		total = total.Add(amount)
		line := ledgerdomain.LineRequest{AccountCode: code, Memo: "close"}
		if amount.IsPositive() {
			line.Credit = amount
		} else {
			line.Debit = amount.Neg()
		}
		if fn, ok := native[code]; ok && (fn.amount.IsZero() || fn.amount.IsPositive() == amount.IsPositive()) {
			foreign := fn.amount.Abs()
			line.ForeignAmount = &foreign
			line.ForeignCurrencyCode = fn.currency
		}
		lines = append(lines, line)
	}

	retained := ledgerdomain.LineRequest{AccountCode: retainedCode, Memo: "net result"}
	switch {
	case total.IsPositive():
		retained.Debit = total
	case total.IsNegative():
		retained.Credit = total.Neg()
	}
	return append(lines, retained)
}

func closingRef(year *ledgerdomain.FiscalYear) string {
	return "CLOSE-" + year.BeginTime.UTC().Format("20060102")
}
