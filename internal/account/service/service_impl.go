package service

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	accountdomain "github.com/smallbiznis/stockledger/internal/account/domain"
	auditdomain "github.com/smallbiznis/stockledger/internal/audit/domain"
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

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	Locker      lock.Locker
	Repo        accountdomain.Repository
	CurrencySvc currencydomain.Service
	AuditSvc    auditdomain.Service
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	locker      lock.Locker
	repo        accountdomain.Repository
	currencySvc currencydomain.Service
	auditSvc    auditdomain.Service
}

func NewService(p Params) accountdomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("account.service"),
		clock:       p.Clock,
		locker:      p.Locker,
		repo:        p.Repo,
		currencySvc: p.CurrencySvc,
		auditSvc:    p.AuditSvc,
	}
}

func (s *Service) Register(ctx context.Context, req accountdomain.RegisterRequest) (*accountdomain.Account, error) {
	req.Code = strings.TrimSpace(req.Code)
	req.Name = strings.TrimSpace(req.Name)
	req.CurrencyCode = strings.ToUpper(strings.TrimSpace(req.CurrencyCode))
	req.ParentCode = strings.TrimSpace(req.ParentCode)
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	keys := []string{lock.AccountKey(req.Code)}
	if req.ParentCode != "" {
		keys = append(keys, lock.AccountKey(req.ParentCode))
	}
	ctx, release, err := s.locker.Acquire(ctx, keys...)
	if err != nil {
		return nil, err
	}
	defer release()

	now := s.clock.Now()
	account := &accountdomain.Account{
		Code:              req.Code,
		Name:              req.Name,
		Type:              req.Type,
		NormalBalance:     accountdomain.NormalBalanceFor(req.Type),
		CurrencyCode:      req.CurrencyCode,
		BalanceNative:     decimal.Zero,
		BalanceFunctional: decimal.Zero,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if req.ParentCode != "" {
		parent := req.ParentCode
		account.ParentCode = &parent
	}

	err = db.Transact(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		existing, err := s.repo.Find(ctx, tx, req.Code)
		if err != nil {
			return err
		}
		if existing != nil {
			return accountdomain.ErrDuplicateAccount.With("account %s already registered", req.Code)
		}
		if _, err := s.currencySvc.Get(ctx, req.CurrencyCode); err != nil {
			if errors.Is(err, currencydomain.ErrCurrencyNotFound) {
				return accountdomain.ErrUnknownCurrency.With("currency %s is not registered", req.CurrencyCode)
			}
			return err
		}
		if account.ParentCode != nil {
			if err := s.checkParent(ctx, tx, req.Code, *account.ParentCode); err != nil {
				return err
			}
		}

		if err := s.repo.Insert(ctx, tx, account); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return accountdomain.ErrDuplicateAccount.With("account %s already registered", req.Code)
			}
			return err
		}
		return s.auditSvc.AuditLog(ctx, auditdomain.ActionAccountRegistered, auditdomain.TargetAccount, account.Code, map[string]any{
			"type":     string(account.Type),
			"currency": account.CurrencyCode,
			"parent":   req.ParentCode,
		})
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// Reparent moves code under newParent, or to the root when newParent is empty.
func (s *Service) Reparent(ctx context.Context, code string, newParent string) (*accountdomain.Account, error) {
	code = strings.TrimSpace(code)
	newParent = strings.TrimSpace(newParent)

	keys := []string{lock.AccountKey(code)}
	if newParent != "" {
		keys = append(keys, lock.AccountKey(newParent))
	}
	ctx, release, err := s.locker.Acquire(ctx, keys...)
	if err != nil {
		return nil, err
	}
	defer release()

	var result *accountdomain.Account
	err = db.Transact(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		account, err := s.repo.Find(ctx, tx, code)
		if err != nil {
			return err
		}
		if account == nil {
			return accountdomain.ErrAccountNotFound.With("account %s does not exist", code)
		}

		previous := ""
		if account.ParentCode != nil {
			previous = *account.ParentCode
		}
		if previous == newParent {
			result = account
			return nil
		}

		var parent *string
		if newParent != "" {
			if err := s.checkParent(ctx, tx, code, newParent); err != nil {
				return err
			}
			parent = &newParent
		}

		now := s.clock.Now()
		if err := s.repo.UpdateParent(ctx, tx, code, parent, now); err != nil {
			return err
		}
		account.ParentCode = parent
		account.UpdatedAt = now
		result = account

		return s.auditSvc.AuditLog(ctx, auditdomain.ActionAccountReparented, auditdomain.TargetAccount, code, map[string]any{
			"previous_parent": previous,
			"parent":          newParent,
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// checkParent verifies that parentCode can take code as a child.
func (s *Service) checkParent(ctx context.Context, tx *gorm.DB, code, parentCode string) error {
	if parentCode == code {
		return accountdomain.ErrAccountCycle.With("account %s cannot be its own parent", code)
	}
	parent, err := s.repo.Find(ctx, tx, parentCode)
	if err != nil {
		return err
	}
	if parent == nil {
		return accountdomain.ErrParentNotFound.With("parent account %s does not exist", parentCode)
	}
	if parent.HasActivity() {
		return accountdomain.ErrParentHasActivity.With("account %s has %d posted lines", parentCode, parent.PostedLines)
	}

	accounts, err := s.repo.List(ctx, tx)
	if err != nil {
		return err
	}
	tree := accountdomain.BuildTree(accounts)
	if tree.IsAncestor(code, parentCode) {
		return accountdomain.ErrAccountCycle.With("account %s is an ancestor of %s", code, parentCode)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, code string) (*accountdomain.Account, error) {
	account, err := s.repo.Find(ctx, db.Conn(ctx, s.db), strings.TrimSpace(code))
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, accountdomain.ErrAccountNotFound.With("account %s does not exist", code)
	}
	return account, nil
}

func (s *Service) List(ctx context.Context) ([]accountdomain.Account, error) {
	return s.repo.List(ctx, db.Conn(ctx, s.db))
}

func (s *Service) Children(ctx context.Context, code string) ([]accountdomain.Account, error) {
	if _, err := s.Get(ctx, code); err != nil {
		return nil, err
	}
	return s.repo.ListChildren(ctx, db.Conn(ctx, s.db), strings.TrimSpace(code))
}

func (s *Service) IsLeaf(ctx context.Context, code string) (bool, error) {
	if _, err := s.Get(ctx, code); err != nil {
		return false, err
	}
	counts, err := s.repo.CountChildren(ctx, db.Conn(ctx, s.db), []string{strings.TrimSpace(code)})
	if err != nil {
		return false, err
	}
	return counts[strings.TrimSpace(code)] == 0, nil
}

func (s *Service) Tree(ctx context.Context) (accountdomain.Tree, error) {
	accounts, err := s.repo.List(ctx, db.Conn(ctx, s.db))
	if err != nil {
		return accountdomain.Tree{}, err
	}
	return accountdomain.BuildTree(accounts), nil
}

func (s *Service) ApplyPosting(ctx context.Context, tx *gorm.DB, code string, nativeSigned, functionalSigned decimal.Decimal) error {
	if tx == nil {
		return errors.New("account balances can only change inside a posting transaction")
	}
	account, err := s.repo.Find(ctx, tx, code)
	if err != nil {
		return err
	}
	if account == nil {
		return accountdomain.ErrAccountNotFound.With("account %s does not exist", code)
	}

	account.BalanceNative = account.BalanceNative.Add(nativeSigned)
	account.BalanceFunctional = account.BalanceFunctional.Add(functionalSigned)
	account.PostedLines++
	account.UpdatedAt = s.clock.Now()
	return s.repo.SaveBalance(ctx, tx, account)
}
