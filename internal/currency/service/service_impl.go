package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/stockledger/internal/apperror"
	auditdomain "github.com/smallbiznis/stockledger/internal/audit/domain"
	"github.com/smallbiznis/stockledger/internal/cache"
	"github.com/smallbiznis/stockledger/internal/clock"
	currencydomain "github.com/smallbiznis/stockledger/internal/currency/domain"
	"github.com/smallbiznis/stockledger/internal/lock"
	"github.com/smallbiznis/stockledger/internal/validation"
	"github.com/smallbiznis/stockledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Locker    lock.Locker
	Repo      currencydomain.Repository
	AuditSvc  auditdomain.Service
	RateCache cache.RateCache `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	locker   lock.Locker
	repo     currencydomain.Repository
	auditSvc auditdomain.Service
	rates    cache.RateCache
}

func NewService(p Params) currencydomain.Service {
	rates := p.RateCache
	if rates == nil {
		rates = cache.NewRateCache()
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("currency.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		locker:   p.Locker,
		repo:     p.Repo,
		auditSvc: p.AuditSvc,
		rates:    rates,
	}
}

func (s *Service) RegisterCurrency(ctx context.Context, req currencydomain.RegisterCurrencyRequest) (*currencydomain.Currency, error) {
	req.Code = normalizeCode(req.Code)
	req.Name = strings.TrimSpace(req.Name)
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	precision, err := resolvePrecision(req)
	if err != nil {
		return nil, err
	}
	name := req.Name
	if name == "" {
		name = req.Code
	}

	now := s.clock.Now()
	currency := &currencydomain.Currency{
		Code:      req.Code,
		Name:      name,
		Precision: precision,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = db.Transact(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		existing, err := s.repo.FindCurrency(ctx, tx, req.Code)
		if err != nil {
			return err
		}
		if existing != nil {
			return currencydomain.ErrDuplicateCurrency.With("currency %s already registered", req.Code)
		}
		if err := s.repo.InsertCurrency(ctx, tx, currency); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return currencydomain.ErrDuplicateCurrency.With("currency %s already registered", req.Code)
			}
			return err
		}
		return s.auditSvc.AuditLog(ctx, auditdomain.ActionCurrencyRegistered, auditdomain.TargetCurrency, currency.Code, map[string]any{
			"precision": currency.Precision,
		})
	})
	if err != nil {
		return nil, err
	}
	return currency, nil
}

// SetFunctional makes code the single functional currency.
func (s *Service) SetFunctional(ctx context.Context, code string) (*currencydomain.Currency, error) {
	code = normalizeCode(code)
	ctx, release, err := s.locker.Acquire(ctx, lock.FunctionalCurrencyKey)
	if err != nil {
		return nil, err
	}
	defer release()

	var result *currencydomain.Currency
	err = db.Transact(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		target, err := s.repo.FindCurrency(ctx, tx, code)
		if err != nil {
			return err
		}
		if target == nil {
			return currencydomain.ErrCurrencyNotFound.With("currency %s is not registered", code)
		}
		previous, err := s.repo.FindFunctional(ctx, tx)
		if err != nil {
			return err
		}
		if previous != nil && previous.Code == code {
			result = previous
			return nil
		}

		now := s.clock.Now()
		if err := s.repo.SetFunctional(ctx, tx, code, now); err != nil {
			return err
		}
		target.IsFunctional = true
		target.UpdatedAt = now
		result = target

		meta := map[string]any{"functional": code}
		if previous != nil {
			meta["previous"] = previous.Code
		}
		return s.auditSvc.AuditLog(ctx, auditdomain.ActionCurrencyFunctionalChanged, auditdomain.TargetCurrency, code, meta)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("functional currency set", zap.String("code", code))
	return result, nil
}

func (s *Service) Functional(ctx context.Context) (*currencydomain.Currency, error) {
	currency, err := s.repo.FindFunctional(ctx, db.Conn(ctx, s.db))
	if err != nil {
		return nil, err
	}
	if currency == nil {
		return nil, currencydomain.ErrFunctionalNotSet
	}
	return currency, nil
}

func (s *Service) Get(ctx context.Context, code string) (*currencydomain.Currency, error) {
	code = normalizeCode(code)
	currency, err := s.repo.FindCurrency(ctx, db.Conn(ctx, s.db), code)
	if err != nil {
		return nil, err
	}
	if currency == nil {
		return nil, currencydomain.ErrCurrencyNotFound.With("currency %s is not registered", code)
	}
	return currency, nil
}

func (s *Service) List(ctx context.Context) ([]currencydomain.Currency, error) {
	return s.repo.ListCurrencies(ctx, db.Conn(ctx, s.db))
}

func (s *Service) RecordRate(ctx context.Context, req currencydomain.RecordRateRequest) (*currencydomain.ExchangeRate, error) {
	req.From = normalizeCode(req.From)
	req.To = normalizeCode(req.To)
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	rate := &currencydomain.ExchangeRate{
		ID:           s.genID.Generate(),
		FromCurrency: req.From,
		ToCurrency:   req.To,
		EffectiveAt:  req.EffectiveAt.UTC(),
		Rate:         req.Rate,
		CreatedAt:    s.clock.Now(),
	}

	err := db.Transact(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		for _, code := range []string{req.From, req.To} {
			currency, err := s.repo.FindCurrency(ctx, tx, code)
			if err != nil {
				return err
			}
			if currency == nil {
				return currencydomain.ErrCurrencyNotFound.With("currency %s is not registered", code)
			}
		}
		if err := s.repo.InsertRate(ctx, tx, rate); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return currencydomain.ErrDuplicateRate.With("rate %s/%s at %s already recorded", req.From, req.To, rate.EffectiveAt.Format(time.RFC3339))
			}
			return err
		}
		return s.auditSvc.AuditLog(ctx, auditdomain.ActionCurrencyRateRecorded, auditdomain.TargetExchangeRate, rate.ID.String(), map[string]any{
			"from":         rate.FromCurrency,
			"to":           rate.ToCurrency,
			"rate":         rate.Rate.String(),
			"effective_at": rate.EffectiveAt.Format(time.RFC3339),
		})
	})
	s.rates.Invalidate()
	if err != nil {
		return nil, err
	}
	return rate, nil
}

// Quote resolves the latest rate at or before asOf, falling back to the
// inverse of the opposite direction.
func (s *Service) Quote(ctx context.Context, from, to string, asOf time.Time) (currencydomain.RateQuote, error) {
	from = normalizeCode(from)
	to = normalizeCode(to)
	if from == to {
		return currencydomain.RateQuote{From: from, To: to, Rate: decimal.NewFromInt(1), EffectiveAt: asOf}, nil
	}

	conn := db.Conn(ctx, s.db)
	direct, err := s.repo.LatestRate(ctx, conn, from, to, asOf)
	if err != nil {
		return currencydomain.RateQuote{}, err
	}
	if direct != nil {
		return currencydomain.RateQuote{From: from, To: to, Rate: direct.Rate, EffectiveAt: direct.EffectiveAt}, nil
	}

	opposite, err := s.repo.LatestRate(ctx, conn, to, from, asOf)
	if err != nil {
		return currencydomain.RateQuote{}, err
	}
	if opposite != nil && opposite.Rate.IsPositive() {
		return currencydomain.RateQuote{
			From:        from,
			To:          to,
			Rate:        decimal.NewFromInt(1).DivRound(opposite.Rate, currencydomain.InversePrecision),
			EffectiveAt: opposite.EffectiveAt,
			Inverse:     true,
		}, nil
	}

	return currencydomain.RateQuote{}, apperror.ErrRateNotFound.With("no rate %s/%s at or before %s", from, to, asOf.UTC().Format(time.RFC3339))
}

func (s *Service) Rate(ctx context.Context, from, to string, asOf time.Time) (decimal.Decimal, error) {
	_, inTx := db.TxFromContext(ctx)
	generation := s.rates.Generation()
	if !inTx {
		if rate, ok := s.rates.Get(from, to, asOf); ok {
			return rate, nil
		}
	}

	quote, err := s.Quote(ctx, from, to, asOf)
	if err != nil {
		return decimal.Zero, err
	}
	if !inTx {
		s.rates.Set(from, to, asOf, quote.Rate, generation)
	}
	return quote.Rate, nil
}

// Convert applies the resolved rate and rounds half-to-even to the target
// currency's precision.
func (s *Service) Convert(ctx context.Context, amount decimal.Decimal, from, to string, asOf time.Time) (decimal.Decimal, error) {
	target, err := s.Get(ctx, to)
	if err != nil {
		return decimal.Zero, err
	}
	rate, err := s.Rate(ctx, from, to, asOf)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(rate).RoundBank(target.Precision), nil
}

func (s *Service) Round(ctx context.Context, amount decimal.Decimal, code string) (decimal.Decimal, error) {
	currency, err := s.Get(ctx, code)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.RoundBank(currency.Precision), nil
}

func resolvePrecision(req currencydomain.RegisterCurrencyRequest) (int32, error) {
	if req.Precision != nil {
		return *req.Precision, nil
	}
	iso := money.GetCurrency(req.Code)
	if iso == nil {
		return 0, currencydomain.ErrUnknownPrecision.With("currency %s has no ISO precision; precision is required", req.Code)
	}
	if iso.Fraction < 0 || iso.Fraction > 8 {
		return 0, fmt.Errorf("unsupported ISO fraction %d for %s", iso.Fraction, req.Code)
	}
	return int32(iso.Fraction), nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
