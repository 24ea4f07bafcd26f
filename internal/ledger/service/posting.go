package service

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	accountdomain "github.com/smallbiznis/stockledger/internal/account/domain"
	"github.com/smallbiznis/stockledger/internal/apperror"
	auditdomain "github.com/smallbiznis/stockledger/internal/audit/domain"
	currencydomain "github.com/smallbiznis/stockledger/internal/currency/domain"
	ledgerdomain "github.com/smallbiznis/stockledger/internal/ledger/domain"
	"github.com/smallbiznis/stockledger/internal/lock"
	"github.com/smallbiznis/stockledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/stockledger/internal/observability/metrics"
	"github.com/smallbiznis/stockledger/internal/observability/tracing"
	"github.com/smallbiznis/stockledger/internal/validation"
	"github.com/smallbiznis/stockledger/pkg/db"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func (s *Service) Post(ctx context.Context, ref string) (result ledgerdomain.PostResult, err error) {
	ref = strings.TrimSpace(ref)
	started := time.Now()
	sourceType := ledgerdomain.SourceTypeManual
	ctx, span := tracing.Start(ctx, "ledger.Post", attribute.String("entry.ref", ref))
	defer func() {
		s.observe(ctx, sourceType, started, err)
		endSpan(span, err)
	}()

	ctx, release, err := s.locker.Acquire(ctx, lock.EntryKey(ref))
	if err != nil {
		return result, err
	}
	defer release()

	draftLines, err := s.repo.ListLines(ctx, db.Conn(ctx, s.db), ref)
	if err != nil {
		return result, err
	}
	ctx, releaseAccounts, err := s.locker.Acquire(ctx, accountKeys(lineAccounts(draftLines))...)
	if err != nil {
		return result, err
	}
	defer releaseAccounts()

	err = db.Transact(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		entry, err := s.repo.FindEntry(ctx, tx, ref)
		if err != nil {
			return err
		}
		if entry == nil {
			return ledgerdomain.ErrEntryNotFound.With("journal entry %s does not exist", ref)
		}
		sourceType = entry.SourceType
		lines, err := s.repo.ListLines(ctx, tx, ref)
		if err != nil {
			return err
		}
		result, err = s.post(ctx, tx, entry, lines)
		return err
	})
	return result, err
}

func (s *Service) PostJournalEntry(ctx context.Context, req ledgerdomain.EntryRequest, lines []ledgerdomain.LineRequest) (result ledgerdomain.PostResult, err error) {
	started := time.Now()
	sourceType := req.SourceType
	if sourceType == "" {
		sourceType = ledgerdomain.SourceTypeManual
	}
	ctx, span := tracing.Start(ctx, "ledger.PostJournalEntry", attribute.String("entry.ref", req.Ref))
	defer func() {
		s.observe(ctx, sourceType, started, err)
		endSpan(span, err)
	}()

	entry, rows, err := s.buildDraft(ctx, req, lines)
	if err != nil {
		return result, err
	}

	keys := append([]string{lock.EntryKey(entry.Ref)}, accountKeys(requestAccounts(lines))...)
	ctx, release, err := s.locker.Acquire(ctx, keys...)
	if err != nil {
		return result, err
	}
	defer release()

	err = db.Transact(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		result, err = s.commit(ctx, tx, entry, rows)
		return err
	})
	return result, err
}

func (s *Service) Reverse(ctx context.Context, ref string, req ledgerdomain.ReverseRequest) (result ledgerdomain.PostResult, err error) {
	ref = strings.TrimSpace(ref)
	req.Ref = strings.TrimSpace(req.Ref)
	started := time.Now()
	ctx, span := tracing.Start(ctx, "ledger.Reverse", attribute.String("entry.ref", ref))
	defer func() {
		s.observe(ctx, ledgerdomain.SourceTypeReversal, started, err)
		endSpan(span, err)
	}()

	if err := validation.Struct(req); err != nil {
		return result, err
	}

	if _, err := s.GetEntry(ctx, ref); err != nil {
		return result, err
	}
	originalLines, err := s.repo.ListLines(ctx, db.Conn(ctx, s.db), ref)
	if err != nil {
		return result, err
	}

	keys := append([]string{lock.EntryKey(ref), lock.EntryKey(req.Ref)}, accountKeys(lineAccounts(originalLines))...)
	ctx, release, err := s.locker.Acquire(ctx, keys...)
	if err != nil {
		return result, err
	}
	defer release()

	err = db.Transact(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		original, err := s.repo.FindEntry(ctx, tx, ref)
		if err != nil {
			return err
		}
		if original == nil {
			return ledgerdomain.ErrEntryNotFound.With("journal entry %s does not exist", ref)
		}
		if !original.IsPosted() {
			return ledgerdomain.ErrEntryNotPosted.With("journal entry %s is still a draft", ref)
		}
		switch original.SourceType {
		case ledgerdomain.SourceTypeInventory, ledgerdomain.SourceTypeClosing:
			return ledgerdomain.ErrGeneratedEntry.With("journal entry %s was generated by a %s posting and cannot be reversed", ref, original.SourceType)
		}
		existing, err := s.repo.FindReversal(ctx, tx, ref)
		if err != nil {
			return err
		}
		if existing != nil {
			return ledgerdomain.ErrAlreadyReversed.With("journal entry %s was reversed by %s", ref, existing.Ref)
		}

		transactionTime := req.TransactionTime
		if transactionTime.IsZero() {
			transactionTime = original.TransactionTime
		}
		note := req.Note
		if note == "" {
			note = "Reversal of " + original.Ref
		}

		now := s.clock.Now()
		reversalOf := original.Ref
		entry := &ledgerdomain.JournalEntry{
			ID:              s.genID.Generate(),
			Ref:             req.Ref,
			TransactionTime: transactionTime.UTC(),
			Status:          ledgerdomain.EntryStatusDraft,
			Note:            note,
			CurrencyCode:    original.CurrencyCode,
			ExchangeRate:    original.ExchangeRate,
			SourceType:      ledgerdomain.SourceTypeReversal,
			SourceRef:       original.Ref,
			ReversalOf:      &reversalOf,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		rows := make([]ledgerdomain.JournalEntryLine, 0, len(originalLines))
		for _, l := range originalLines {
			rows = append(rows, ledgerdomain.JournalEntryLine{
				ID:                  s.genID.Generate(),
				EntryRef:            entry.Ref,
				LineNumber:          l.LineNumber,
				AccountCode:         l.AccountCode,
				Debit:               l.Credit,
				Credit:              l.Debit,
				ForeignAmount:       l.ForeignAmount,
				ForeignCurrencyCode: l.ForeignCurrencyCode,
				ForeignRate:         l.ForeignRate,
				Memo:                l.Memo,
				CreatedAt:           now,
			})
		}

		result, err = s.commit(ctx, tx, entry, rows)
		if err != nil {
			return err
		}
		return s.auditSvc.AuditLog(ctx, auditdomain.ActionEntryReversed, auditdomain.TargetJournalEntry, original.Ref, map[string]any{
			"reversal_ref": entry.Ref,
		})
	})
	return result, err
}

// commit inserts a draft and posts it in the same transaction. Callers hold
// the entry and account locks.
func (s *Service) commit(ctx context.Context, tx *gorm.DB, entry *ledgerdomain.JournalEntry, rows []ledgerdomain.JournalEntryLine) (ledgerdomain.PostResult, error) {
	if err := s.insertDraft(ctx, tx, entry, rows); err != nil {
		return ledgerdomain.PostResult{}, err
	}
	return s.post(ctx, tx, entry, rows)
}

// post runs every posting rule against entry and, when all pass, applies the
// balance deltas and flips the entry to posted. Nothing is written before the
// last check succeeds.
func (s *Service) post(ctx context.Context, tx *gorm.DB, entry *ledgerdomain.JournalEntry, lines []ledgerdomain.JournalEntryLine) (ledgerdomain.PostResult, error) {
	if !entry.Status.CanTransition(ledgerdomain.EntryStatusPosted) {
		return ledgerdomain.PostResult{}, apperror.ErrAlreadyPosted.With("journal entry %s is already posted", entry.Ref)
	}
	if len(lines) < 2 {
		return ledgerdomain.PostResult{}, ledgerdomain.ErrInsufficientLines.With("journal entry %s has %d lines", entry.Ref, len(lines))
	}

	accounts := make(map[string]*accountdomain.Account, len(lines))
	for i, l := range lines {
		if _, ok := accounts[l.AccountCode]; ok {
			continue
		}
		account, err := s.accountSvc.Get(ctx, l.AccountCode)
		if err != nil {
			if apperror.IsValidation(err) {
				return ledgerdomain.PostResult{}, fieldErr(accountdomain.ErrAccountNotFound, linePrefix(i)+".account_code", "account %s does not exist", l.AccountCode)
			}
			return ledgerdomain.PostResult{}, err
		}
		leaf, err := s.accountSvc.IsLeaf(ctx, l.AccountCode)
		if err != nil {
			return ledgerdomain.PostResult{}, err
		}
		if !leaf {
			return ledgerdomain.PostResult{}, apperror.ErrNonLeafAccount.With("account %s has children and is not postable", l.AccountCode)
		}
		accounts[l.AccountCode] = account
	}

	functional, err := s.currencySvc.Functional(ctx)
	if err != nil {
		return ledgerdomain.PostResult{}, err
	}
	txnCurrency, err := s.currencySvc.Get(ctx, entry.CurrencyCode)
	if err != nil {
		return ledgerdomain.PostResult{}, err
	}
	rate, err := s.resolveRate(ctx, entry, functional)
	if err != nil {
		return ledgerdomain.PostResult{}, err
	}

	for i := range lines {
		lines[i].DebitFunctional = lines[i].Debit.Mul(rate).RoundBank(functional.Precision)
		lines[i].CreditFunctional = lines[i].Credit.Mul(rate).RoundBank(functional.Precision)
	}
	if err := ledgerdomain.Balance(lines, txnCurrency.Precision, functional.Precision); err != nil {
		return ledgerdomain.PostResult{}, err
	}

	year, err := s.repo.FindFiscalYearAt(ctx, tx, entry.TransactionTime)
	if err != nil {
		return ledgerdomain.PostResult{}, err
	}
	if year != nil && year.IsClosed() {
		return ledgerdomain.PostResult{}, apperror.ErrClosedFiscalPeriod.With("journal entry %s is dated %s inside a closed fiscal year", entry.Ref, entry.TransactionTime.Format(time.RFC3339))
	}

	type delta struct{ native, functional decimal.Decimal }
	deltas := make([]delta, len(lines))
	for i, l := range lines {
		account := accounts[l.AccountCode]
		nativeDebit, nativeCredit, err := s.nativeAmounts(ctx, l, account, entry, functional)
		if err != nil {
			return ledgerdomain.PostResult{}, err
		}
		deltas[i] = delta{
			native:     account.Signed(nativeDebit, nativeCredit),
			functional: account.Signed(l.DebitFunctional, l.CreditFunctional),
		}
	}

	for i := range lines {
		if err := s.repo.UpdateFunctional(ctx, tx, &lines[i]); err != nil {
			return ledgerdomain.PostResult{}, err
		}
		if err := s.accountSvc.ApplyPosting(ctx, tx, lines[i].AccountCode, deltas[i].native, deltas[i].functional); err != nil {
			return ledgerdomain.PostResult{}, err
		}
	}

	now := s.clock.Now()
	entry.Status = ledgerdomain.EntryStatusPosted
	entry.PostTime = &now
	entry.ExchangeRate = rate
	entry.UpdatedAt = now
	updated, err := s.repo.MarkPosted(ctx, tx, entry)
	if err != nil {
		return ledgerdomain.PostResult{}, err
	}
	if !updated {
		return ledgerdomain.PostResult{}, apperror.ErrAlreadyPosted.With("journal entry %s is already posted", entry.Ref)
	}

	totals := ledgerdomain.SumLines(lines)
	if err := s.auditSvc.AuditLog(ctx, auditdomain.ActionEntryPosted, auditdomain.TargetJournalEntry, entry.Ref, map[string]any{
		"source_type":         string(entry.SourceType),
		"source_ref":          entry.SourceRef,
		"currency":            entry.CurrencyCode,
		"functional_currency": functional.Code,
		"exchange_rate":       rate.String(),
		"total_debit":         totals.Debit.String(),
		"total_functional":    totals.DebitFunctional.String(),
		"transaction_time":    entry.TransactionTime.Format(time.RFC3339),
	}); err != nil {
		return ledgerdomain.PostResult{}, err
	}

	logger.WithEntity(logger.WithContext(ctx, s.log), "journal_entry", entry.Ref).Info("journal entry posted",
		zap.String("source_type", string(entry.SourceType)),
		zap.Int("lines", len(lines)),
	)
	return ledgerdomain.PostResult{Ref: entry.Ref, PostTime: now}, nil
}

func (s *Service) resolveRate(ctx context.Context, entry *ledgerdomain.JournalEntry, functional *currencydomain.Currency) (decimal.Decimal, error) {
	if entry.CurrencyCode == functional.Code {
		return decimal.NewFromInt(1), nil
	}
	if entry.ExchangeRate.IsPositive() {
		return entry.ExchangeRate, nil
	}
	return s.currencySvc.Rate(ctx, entry.CurrencyCode, functional.Code, entry.TransactionTime)
}

// nativeAmounts expresses a line in the account's own currency: the entry
// amount when currencies match, the functional amount for functional
// accounts, the line's foreign amount when it is quoted in the account
// currency, and a conversion at the transaction time otherwise.
func (s *Service) nativeAmounts(ctx context.Context, l ledgerdomain.JournalEntryLine, account *accountdomain.Account, entry *ledgerdomain.JournalEntry, functional *currencydomain.Currency) (decimal.Decimal, decimal.Decimal, error) {
	switch {
	case account.CurrencyCode == entry.CurrencyCode:
		return l.Debit, l.Credit, nil
	case account.CurrencyCode == functional.Code:
		return l.DebitFunctional, l.CreditFunctional, nil
	case l.ForeignCurrencyCode != nil && *l.ForeignCurrencyCode == account.CurrencyCode && l.ForeignAmount.Valid:
		if l.Side() == ledgerdomain.SideCredit {
			return decimal.Zero, l.ForeignAmount.Decimal, nil
		}
		return l.ForeignAmount.Decimal, decimal.Zero, nil
	}

	debit, err := s.currencySvc.Convert(ctx, l.Debit, entry.CurrencyCode, account.CurrencyCode, entry.TransactionTime)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	credit, err := s.currencySvc.Convert(ctx, l.Credit, entry.CurrencyCode, account.CurrencyCode, entry.TransactionTime)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return debit, credit, nil
}

// observe records outcomes of top-level postings only; an entry posted inside
// a caller's transaction is counted by the caller.
func (s *Service) observe(ctx context.Context, sourceType ledgerdomain.SourceType, started time.Time, err error) {
	if _, inTx := db.TxFromContext(ctx); inTx {
		return
	}
	s.postingMetrics.ObservePosting(obsmetrics.OperationJournalPost, time.Since(started), err)
	if err != nil {
		s.obsMetrics.RecordPostingRejected(ctx, obsmetrics.OperationJournalPost, err)
		return
	}
	s.obsMetrics.RecordJournalPosted(ctx, string(sourceType))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
