package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	accountdomain "github.com/smallbiznis/stockledger/internal/account/domain"
	"github.com/smallbiznis/stockledger/internal/apperror"
	auditdomain "github.com/smallbiznis/stockledger/internal/audit/domain"
	"github.com/smallbiznis/stockledger/internal/clock"
	currencydomain "github.com/smallbiznis/stockledger/internal/currency/domain"
	inventorydomain "github.com/smallbiznis/stockledger/internal/inventory/domain"
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
	Repo           inventorydomain.Repository
	AccountSvc     accountdomain.Service
	CurrencySvc    currencydomain.Service
	LedgerSvc      ledgerdomain.Service
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
	repo           inventorydomain.Repository
	accountSvc     accountdomain.Service
	currencySvc    currencydomain.Service
	ledgerSvc      ledgerdomain.Service
	auditSvc       auditdomain.Service
	obsMetrics     *obsmetrics.Metrics
	postingMetrics *obsmetrics.PostingMetrics
}

func NewService(p Params) inventorydomain.Service {
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("inventory.service"),
		genID:          p.GenID,
		clock:          p.Clock,
		locker:         p.Locker,
		repo:           p.Repo,
		accountSvc:     p.AccountSvc,
		currencySvc:    p.CurrencySvc,
		ledgerSvc:      p.LedgerSvc,
		auditSvc:       p.AuditSvc,
		obsMetrics:     p.ObsMetrics,
		postingMetrics: p.PostingMetrics,
	}
}

func (s *Service) RegisterProduct(ctx context.Context, req inventorydomain.RegisterProductRequest) (*inventorydomain.Product, error) {
	req.SKU = strings.TrimSpace(req.SKU)
	req.Name = strings.TrimSpace(req.Name)
	req.CostingMethod = inventorydomain.CostingMethod(strings.ToUpper(strings.TrimSpace(string(req.CostingMethod))))
	req.InventoryAccountCode = strings.TrimSpace(req.InventoryAccountCode)
	req.COGSAccountCode = strings.TrimSpace(req.COGSAccountCode)
	req.SalesAccountCode = strings.TrimSpace(req.SalesAccountCode)
	req.VarianceAccountCode = strings.TrimSpace(req.VarianceAccountCode)
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	linked := []struct{ field, code string }{
		{"inventory_account_code", req.InventoryAccountCode},
		{"cogs_account_code", req.COGSAccountCode},
		{"sales_account_code", req.SalesAccountCode},
		{"variance_account_code", req.VarianceAccountCode},
	}
	for _, l := range linked {
		if l.code == "" {
			continue
		}
		if _, err := s.accountSvc.Get(ctx, l.code); err != nil {
			if errors.Is(err, accountdomain.ErrAccountNotFound) {
				e := inventorydomain.ErrUnknownAccount.With("account %s does not exist", l.code)
				e.Field = l.field
				return nil, e
			}
			return nil, err
		}
	}

	now := s.clock.Now()
	product := &inventorydomain.Product{
		ID:                   s.genID.Generate(),
		SKU:                  req.SKU,
		Name:                 req.Name,
		CostingMethod:        req.CostingMethod,
		StandardCost:         req.StandardCost,
		InventoryAccountCode: req.InventoryAccountCode,
		COGSAccountCode:      req.COGSAccountCode,
		SalesAccountCode:     req.SalesAccountCode,
		LotTracked:           req.LotTracked,
		Serialized:           req.Serialized,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if req.VarianceAccountCode != "" {
		code := req.VarianceAccountCode
		product.VarianceAccountCode = &code
	}

	err := db.Transact(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		existing, err := s.repo.FindProductBySKU(ctx, tx, req.SKU)
		if err != nil {
			return err
		}
		if existing != nil {
			return inventorydomain.ErrDuplicateSKU.With("sku %s already registered", req.SKU)
		}
		if err := s.repo.InsertProduct(ctx, tx, product); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return inventorydomain.ErrDuplicateSKU.With("sku %s already registered", req.SKU)
			}
			return err
		}
		return s.auditSvc.AuditLog(ctx, auditdomain.ActionProductRegistered, auditdomain.TargetProduct, product.SKU, map[string]any{
			"costing_method": string(product.CostingMethod),
			"standard_cost":  product.StandardCost.String(),
			"lot_tracked":    product.LotTracked,
			"serialized":     product.Serialized,
		})
	})
	if err != nil {
		return nil, err
	}
	return product, nil
}

func (s *Service) GetProduct(ctx context.Context, sku string) (*inventorydomain.Product, error) {
	product, err := s.repo.FindProductBySKU(ctx, db.Conn(ctx, s.db), strings.TrimSpace(sku))
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, inventorydomain.ErrProductNotFound.With("product %s does not exist", sku)
	}
	return product, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]inventorydomain.Product, error) {
	return s.repo.ListProducts(ctx, db.Conn(ctx, s.db))
}

// ChangeCostingMethod switches how the next movement of the product is
// costed. Layers are realigned with on-hand stock when moving into FIFO or
// LIFO, since averaged issues never draw layers down.
func (s *Service) ChangeCostingMethod(ctx context.Context, sku string, method inventorydomain.CostingMethod, reason string) (*inventorydomain.Product, error) {
	method = inventorydomain.CostingMethod(strings.ToUpper(strings.TrimSpace(string(method))))
	if !method.IsValid() {
		return nil, inventorydomain.ErrCostingMethodUnknown.With("unknown costing method %q", method)
	}
	if len(reason) > 256 {
		return nil, apperror.Validation("reason", "max", "reason is longer than 256 characters")
	}

	product, err := s.GetProduct(ctx, sku)
	if err != nil {
		return nil, err
	}
	if method == inventorydomain.CostingMethodStandard && product.VarianceAccountCode == nil {
		return nil, inventorydomain.ErrVarianceAccount.With("product %s has no variance account", product.SKU)
	}
	if product.CostingMethod == method {
		return product, nil
	}

	stocks, err := s.repo.ListStocks(ctx, db.Conn(ctx, s.db), product.ID)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(stocks))
	for _, st := range stocks {
		keys = append(keys, lock.StockKey(product.ID.Int64(), st.LocationID))
	}
	ctx, release, err := s.locker.Acquire(ctx, keys...)
	if err != nil {
		return nil, err
	}
	defer release()

	functional, err := s.currencySvc.Functional(ctx)
	if err != nil {
		return nil, err
	}

	err = db.Transact(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		current, err := s.repo.FindProduct(ctx, tx, product.ID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		change := &inventorydomain.CostingMethodChange{
			ID:        s.genID.Generate(),
			ProductID: current.ID,
			OldMethod: current.CostingMethod,
			NewMethod: method,
			Reason:    strings.TrimSpace(reason),
			ChangedAt: now,
		}

		engine := s.engine(tx, functional)
		for _, st := range stocks {
			if err := engine.Realign(ctx, current, st.LocationID, current.CostingMethod, method); err != nil {
				return err
			}
		}

		current.CostingMethod = method
		current.UpdatedAt = now
		if err := s.repo.UpdateCostingMethod(ctx, tx, current); err != nil {
			return err
		}
		if err := s.repo.InsertCostingChange(ctx, tx, change); err != nil {
			return err
		}
		product = current
		return s.auditSvc.AuditLog(ctx, auditdomain.ActionCostingMethodChanged, auditdomain.TargetProduct, current.SKU, map[string]any{
			"old_method": string(change.OldMethod),
			"new_method": string(change.NewMethod),
			"reason":     change.Reason,
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("costing method changed", zap.String("sku", product.SKU), zap.String("method", string(method)))
	return product, nil
}

func (s *Service) CostingHistory(ctx context.Context, sku string) ([]inventorydomain.CostingMethodChange, error) {
	product, err := s.GetProduct(ctx, sku)
	if err != nil {
		return nil, err
	}
	return s.repo.ListCostingChanges(ctx, db.Conn(ctx, s.db), product.ID)
}

func (s *Service) RegisterTransactionType(ctx context.Context, req inventorydomain.RegisterTransactionTypeRequest) (*inventorydomain.TransactionType, error) {
	req.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	req.Name = strings.TrimSpace(req.Name)
	req.Direction = inventorydomain.Direction(strings.ToLower(strings.TrimSpace(string(req.Direction))))
	req.OffsetAccountCode = strings.TrimSpace(req.OffsetAccountCode)
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if req.OffsetAccountCode != "" {
		if _, err := s.accountSvc.Get(ctx, req.OffsetAccountCode); err != nil {
			if errors.Is(err, accountdomain.ErrAccountNotFound) {
				e := inventorydomain.ErrUnknownAccount.With("account %s does not exist", req.OffsetAccountCode)
				e.Field = "offset_account_code"
				return nil, e
			}
			return nil, err
		}
	}

	txnType := &inventorydomain.TransactionType{
		Code:              req.Code,
		Name:              req.Name,
		Direction:         req.Direction,
		OffsetAccountCode: req.OffsetAccountCode,
		CreatedAt:         s.clock.Now(),
	}
	err := db.Transact(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		existing, err := s.repo.FindType(ctx, tx, req.Code)
		if err != nil {
			return err
		}
		if existing != nil {
			return inventorydomain.ErrDuplicateType.With("transaction type %s already registered", req.Code)
		}
		return s.repo.InsertType(ctx, tx, txnType)
	})
	if err != nil {
		return nil, err
	}
	return txnType, nil
}

func (s *Service) ListTransactionTypes(ctx context.Context) ([]inventorydomain.TransactionType, error) {
	return s.repo.ListTypes(ctx, db.Conn(ctx, s.db))
}

func (s *Service) CreateTransaction(ctx context.Context, req inventorydomain.TransactionRequest, lines []inventorydomain.LineRequest) (*inventorydomain.Transaction, error) {
	d, err := s.prepare(ctx, req, lines)
	if err != nil {
		return nil, err
	}

	ctx, release, err := s.locker.Acquire(ctx, lock.InventoryTxnKey(d.txn.ReferenceNumber))
	if err != nil {
		return nil, err
	}
	defer release()

	err = db.Transact(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		return s.insertDraft(ctx, tx, d)
	})
	if err != nil {
		return nil, err
	}
	return d.txn, nil
}

func (s *Service) Approve(ctx context.Context, id snowflake.ID) (*inventorydomain.Transaction, error) {
	txn, err := s.findTransaction(ctx, db.Conn(ctx, s.db), id)
	if err != nil {
		return nil, err
	}
	ctx, release, err := s.locker.Acquire(ctx, lock.InventoryTxnKey(txn.ReferenceNumber))
	if err != nil {
		return nil, err
	}
	defer release()

	err = db.Transact(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		current, err := s.findTransaction(ctx, tx, id)
		if err != nil {
			return err
		}
		switch current.Status {
		case inventorydomain.TransactionStatusPosted:
			return apperror.ErrAlreadyPosted.With("inventory transaction %s is already posted", current.ReferenceNumber)
		case inventorydomain.TransactionStatusApproved:
			return inventorydomain.ErrInvalidTransition.With("inventory transaction %s is already approved", current.ReferenceNumber)
		}

		now := s.clock.Now()
		from := current.Status
		current.Status = inventorydomain.TransactionStatusApproved
		current.ApprovedAt = &now
		current.UpdatedAt = now
		updated, err := s.repo.UpdateStatus(ctx, tx, current, from)
		if err != nil {
			return err
		}
		if !updated {
			return inventorydomain.ErrInvalidTransition.With("inventory transaction %s changed concurrently", current.ReferenceNumber)
		}
		txn = current
		return s.auditSvc.AuditLog(ctx, auditdomain.ActionTransactionApproved, auditdomain.TargetInventoryTransaction, current.ReferenceNumber, nil)
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

func (s *Service) GetTransaction(ctx context.Context, id snowflake.ID) (*inventorydomain.Transaction, []inventorydomain.TransactionLine, error) {
	conn := db.Conn(ctx, s.db)
	txn, err := s.findTransaction(ctx, conn, id)
	if err != nil {
		return nil, nil, err
	}
	lines, err := s.repo.ListLines(ctx, conn, id)
	if err != nil {
		return nil, nil, err
	}
	return txn, lines, nil
}

func (s *Service) ListTransactions(ctx context.Context, req inventorydomain.ListTransactionsRequest) ([]inventorydomain.Transaction, error) {
	return s.repo.ListTransactions(ctx, db.Conn(ctx, s.db), req)
}

func (s *Service) Layers(ctx context.Context, sku, location string) ([]inventorydomain.CostLayer, error) {
	product, err := s.GetProduct(ctx, sku)
	if err != nil {
		return nil, err
	}
	return s.repo.ListLayers(ctx, db.Conn(ctx, s.db), product.ID, strings.TrimSpace(location))
}

// Stock returns the on-hand position, or a zero position when nothing was
// ever received at the location.
func (s *Service) Stock(ctx context.Context, sku, location string) (*inventorydomain.Stock, error) {
	product, err := s.GetProduct(ctx, sku)
	if err != nil {
		return nil, err
	}
	location = strings.TrimSpace(location)
	stock, err := s.repo.FindStock(ctx, db.Conn(ctx, s.db), product.ID, location)
	if err != nil {
		return nil, err
	}
	if stock == nil {
		return &inventorydomain.Stock{ProductID: product.ID, LocationID: location, QuantityOnHand: decimal.Zero, UnitCost: decimal.Zero}, nil
	}
	return stock, nil
}

func (s *Service) findTransaction(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*inventorydomain.Transaction, error) {
	txn, err := s.repo.FindTransaction(ctx, conn, id)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, inventorydomain.ErrTransactionNotFound.With("inventory transaction %s does not exist", id)
	}
	return txn, nil
}

func (s *Service) engine(tx *gorm.DB, functional *currencydomain.Currency) *CostEngine {
	return &CostEngine{
		tx:        tx,
		repo:      s.repo,
		genID:     s.genID,
		clock:     s.clock,
		precision: functional.Precision,
		currency:  functional.Code,
	}
}
