package repository

import (
	"context"
	"time"

	accountdomain "github.com/smallbiznis/stockledger/internal/account/domain"
	inventorydomain "github.com/smallbiznis/stockledger/internal/inventory/domain"
	"github.com/smallbiznis/stockledger/internal/projection/domain"
	"github.com/smallbiznis/stockledger/pkg/db"
	"github.com/smallbiznis/stockledger/pkg/db/option"
	"github.com/smallbiznis/stockledger/pkg/repository"
	"gorm.io/gorm"
)

type reader struct {
	db       *gorm.DB
	products repository.Repository[inventorydomain.Product]
	stocks   repository.Repository[inventorydomain.Stock]
	layers   repository.Repository[inventorydomain.CostLayer]
	accounts repository.Repository[accountdomain.Account]
}

func Provide(conn *gorm.DB) domain.Reader {
	return &reader{
		db:       conn,
		products: repository.ProvideStore[inventorydomain.Product](conn),
		stocks:   repository.ProvideStore[inventorydomain.Stock](conn),
		layers:   repository.ProvideStore[inventorydomain.CostLayer](conn),
		accounts: repository.ProvideStore[accountdomain.Account](conn),
	}
}

func (r *reader) Products(ctx context.Context) ([]*inventorydomain.Product, error) {
	return r.products.Find(ctx, nil, option.OrderBy("sku", false))
}

func (r *reader) Stocks(ctx context.Context) ([]*inventorydomain.Stock, error) {
	return r.stocks.Find(ctx, nil,
		option.Where("quantity_on_hand <> ?", 0),
		option.OrderBy("product_id", false),
		option.OrderBy("location_id", false),
	)
}

func (r *reader) OpenLayers(ctx context.Context) ([]*inventorydomain.CostLayer, error) {
	return r.layers.Find(ctx, nil,
		option.Where("quantity_remaining > ?", 0),
		option.OrderBy("received_at", false),
		option.OrderBy("id", false),
	)
}

func (r *reader) Accounts(ctx context.Context) ([]*accountdomain.Account, error) {
	return r.accounts.Find(ctx, nil, option.OrderBy("code", false))
}

// PostedMovements returns posted inventory lines dated at or before to.
func (r *reader) PostedMovements(ctx context.Context, to time.Time) ([]domain.PostedMovement, error) {
	var rows []domain.PostedMovement
	err := db.Conn(ctx, r.db).
		Table("inventory_transaction_lines AS l").
		Select("l.product_id AS product_id, t.transaction_date AS transaction_date, y.direction AS direction, "+
			"y.offset_account_code AS offset_account_code, l.quantity AS quantity, l.total_cost AS total_cost").
		Joins("JOIN inventory_transactions AS t ON t.id = l.transaction_id").
		Joins("JOIN inventory_transaction_types AS y ON y.code = t.type_code").
		Where("t.status = ?", inventorydomain.TransactionStatusPosted).
		Where("t.transaction_date <= ?", to.UTC()).
		Order("t.transaction_date asc").
		Order("l.line_number asc").
		Scan(&rows).Error
	return rows, err
}
