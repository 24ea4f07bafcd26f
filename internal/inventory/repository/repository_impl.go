package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stockledger/internal/inventory/domain"
	"github.com/smallbiznis/stockledger/pkg/db/option"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func first[T any](stmt *gorm.DB) (*T, error) {
	var row T
	err := stmt.First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repo) InsertProduct(ctx context.Context, db *gorm.DB, product *domain.Product) error {
	return db.WithContext(ctx).Create(product).Error
}

func (r *repo) FindProduct(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Product, error) {
	return first[domain.Product](db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) FindProductBySKU(ctx context.Context, db *gorm.DB, sku string) (*domain.Product, error) {
	return first[domain.Product](db.WithContext(ctx).Where("sku = ?", sku))
}

func (r *repo) ListProducts(ctx context.Context, db *gorm.DB) ([]domain.Product, error) {
	var products []domain.Product
	err := db.WithContext(ctx).Order("sku asc").Find(&products).Error
	return products, err
}

func (r *repo) UpdateCostingMethod(ctx context.Context, db *gorm.DB, product *domain.Product) error {
	return db.WithContext(ctx).Model(&domain.Product{}).
		Where("id = ?", product.ID).
		Updates(map[string]any{
			"costing_method": product.CostingMethod,
			"updated_at":     product.UpdatedAt,
		}).Error
}

func (r *repo) InsertCostingChange(ctx context.Context, db *gorm.DB, change *domain.CostingMethodChange) error {
	return db.WithContext(ctx).Create(change).Error
}

func (r *repo) ListCostingChanges(ctx context.Context, db *gorm.DB, productID snowflake.ID) ([]domain.CostingMethodChange, error) {
	var changes []domain.CostingMethodChange
	err := db.WithContext(ctx).Where("product_id = ?", productID).Order("changed_at asc").Order("id asc").Find(&changes).Error
	return changes, err
}

func (r *repo) InsertType(ctx context.Context, db *gorm.DB, txnType *domain.TransactionType) error {
	return db.WithContext(ctx).Create(txnType).Error
}

func (r *repo) FindType(ctx context.Context, db *gorm.DB, code string) (*domain.TransactionType, error) {
	return first[domain.TransactionType](db.WithContext(ctx).Where("code = ?", code))
}

func (r *repo) ListTypes(ctx context.Context, db *gorm.DB) ([]domain.TransactionType, error) {
	var types []domain.TransactionType
	err := db.WithContext(ctx).Order("code asc").Find(&types).Error
	return types, err
}

func (r *repo) InsertTransaction(ctx context.Context, db *gorm.DB, txn *domain.Transaction) error {
	return db.WithContext(ctx).Create(txn).Error
}

func (r *repo) FindTransaction(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Transaction, error) {
	return first[domain.Transaction](option.ForUpdate().Apply(db.WithContext(ctx)).Where("id = ?", id))
}

func (r *repo) FindTransactionByRef(ctx context.Context, db *gorm.DB, ref string) (*domain.Transaction, error) {
	return first[domain.Transaction](db.WithContext(ctx).Where("reference_number = ?", ref))
}

func (r *repo) ListTransactions(ctx context.Context, db *gorm.DB, req domain.ListTransactionsRequest) ([]domain.Transaction, error) {
	stmt := db.WithContext(ctx).Model(&domain.Transaction{})
	if req.Status != "" {
		stmt = stmt.Where("status = ?", req.Status)
	}
	if req.TypeCode != "" {
		stmt = stmt.Where("type_code = ?", req.TypeCode)
	}
	if req.From != nil {
		stmt = stmt.Where("transaction_date >= ?", req.From.UTC())
	}
	if req.To != nil {
		stmt = stmt.Where("transaction_date < ?", req.To.UTC())
	}
	stmt = option.Limit(req.Limit).Apply(stmt)

	var txns []domain.Transaction
	err := stmt.Order("transaction_date asc").Order("reference_number asc").Find(&txns).Error
	return txns, err
}

// UpdateStatus moves txn out of status from. It reports false when another
// caller moved it first.
func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, txn *domain.Transaction, from domain.TransactionStatus) (bool, error) {
	result := db.WithContext(ctx).Model(&domain.Transaction{}).
		Where("id = ? AND status = ?", txn.ID, from).
		Updates(map[string]any{
			"status":            txn.Status,
			"approved_at":       txn.ApprovedAt,
			"posted_at":         txn.PostedAt,
			"journal_entry_ref": txn.JournalEntryRef,
			"updated_at":        txn.UpdatedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) InsertLines(ctx context.Context, db *gorm.DB, lines []domain.TransactionLine) error {
	if len(lines) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&lines).Error
}

func (r *repo) ListLines(ctx context.Context, db *gorm.DB, txnID snowflake.ID) ([]domain.TransactionLine, error) {
	var lines []domain.TransactionLine
	err := db.WithContext(ctx).Where("transaction_id = ?", txnID).Order("line_number asc").Find(&lines).Error
	return lines, err
}

func (r *repo) UpdateLineCost(ctx context.Context, db *gorm.DB, line *domain.TransactionLine) error {
	return db.WithContext(ctx).Model(&domain.TransactionLine{}).
		Where("id = ?", line.ID).
		Updates(map[string]any{
			"unit_cost":  line.UnitCost,
			"total_cost": line.TotalCost,
		}).Error
}

func (r *repo) InsertLayer(ctx context.Context, db *gorm.DB, layer *domain.CostLayer) error {
	return db.WithContext(ctx).Create(layer).Error
}

// ListOpenLayers returns layers with quantity left, oldest first. A non-nil
// lot restricts the result to that lot.
func (r *repo) ListOpenLayers(ctx context.Context, db *gorm.DB, productID snowflake.ID, location string, lot *string) ([]domain.CostLayer, error) {
	stmt := option.ForUpdate().Apply(db.WithContext(ctx)).
		Where("product_id = ? AND location_id = ? AND quantity_remaining > 0", productID, location)
	if lot != nil {
		stmt = stmt.Where("lot_number = ?", *lot)
	}
	var layers []domain.CostLayer
	err := stmt.Order("received_at asc").Order("id asc").Find(&layers).Error
	return layers, err
}

func (r *repo) ListLayers(ctx context.Context, db *gorm.DB, productID snowflake.ID, location string) ([]domain.CostLayer, error) {
	stmt := db.WithContext(ctx).Where("product_id = ?", productID)
	if location != "" {
		stmt = stmt.Where("location_id = ?", location)
	}
	var layers []domain.CostLayer
	err := stmt.Order("received_at asc").Order("id asc").Find(&layers).Error
	return layers, err
}

func (r *repo) UpdateLayerRemaining(ctx context.Context, db *gorm.DB, layer *domain.CostLayer) error {
	return db.WithContext(ctx).Model(&domain.CostLayer{}).
		Where("id = ?", layer.ID).
		Update("quantity_remaining", layer.QuantityRemaining).Error
}

func (r *repo) FindStock(ctx context.Context, db *gorm.DB, productID snowflake.ID, location string) (*domain.Stock, error) {
	return first[domain.Stock](option.ForUpdate().Apply(db.WithContext(ctx)).
		Where("product_id = ? AND location_id = ?", productID, location))
}

func (r *repo) ListStocks(ctx context.Context, db *gorm.DB, productID snowflake.ID) ([]domain.Stock, error) {
	var stocks []domain.Stock
	err := db.WithContext(ctx).Where("product_id = ?", productID).Order("location_id asc").Find(&stocks).Error
	return stocks, err
}

// SaveStock upserts on (product, location).
func (r *repo) SaveStock(ctx context.Context, db *gorm.DB, stock *domain.Stock) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "product_id"}, {Name: "location_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"quantity_on_hand", "unit_cost", "updated_at"}),
	}).Create(stock).Error
}

func (r *repo) FindSerials(ctx context.Context, db *gorm.DB, productID snowflake.ID, serials []string) ([]domain.Serial, error) {
	if len(serials) == 0 {
		return nil, nil
	}
	var rows []domain.Serial
	err := db.WithContext(ctx).Where("product_id = ? AND serial_number IN ?", productID, serials).Find(&rows).Error
	return rows, err
}

func (r *repo) SaveSerial(ctx context.Context, db *gorm.DB, serial *domain.Serial) error {
	return db.WithContext(ctx).Save(serial).Error
}
