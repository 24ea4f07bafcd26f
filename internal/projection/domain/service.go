package domain

import (
	"context"
	"time"

	accountdomain "github.com/smallbiznis/stockledger/internal/account/domain"
	inventorydomain "github.com/smallbiznis/stockledger/internal/inventory/domain"
)

// Reader loads the committed state projections are computed from.
type Reader interface {
	Products(ctx context.Context) ([]*inventorydomain.Product, error)
	Stocks(ctx context.Context) ([]*inventorydomain.Stock, error)
	OpenLayers(ctx context.Context) ([]*inventorydomain.CostLayer, error)
	Accounts(ctx context.Context) ([]*accountdomain.Account, error)
	PostedMovements(ctx context.Context, to time.Time) ([]PostedMovement, error)
}

// Service computes read-only views. No method writes.
type Service interface {
	InventoryValuation(ctx context.Context) (*Valuation, error)
	// Zero asOf dates mean now.
	Aging(ctx context.Context, asOf time.Time) (*AgingReport, error)
	ABCClassification(ctx context.Context) (*ABCReport, error)
	Turnover(ctx context.Context, asOf time.Time) (*TurnoverReport, error)
	FXExposure(ctx context.Context, asOf time.Time) (*ExposureReport, error)

	// TrialBalance uses stored balances when asOf is nil and sums posted
	// lines dated before asOf otherwise.
	TrialBalance(ctx context.Context, asOf *time.Time) (*TrialBalance, error)
	BalanceDrift(ctx context.Context) ([]DriftRow, error)
}
