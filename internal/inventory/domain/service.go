package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/stockledger/internal/apperror"
	"gorm.io/gorm"
)

type RegisterProductRequest struct {
	SKU                  string          `json:"sku" validate:"required,max=64"`
	Name                 string          `json:"name" validate:"required,max=128"`
	CostingMethod        CostingMethod   `json:"costing_method" validate:"required,oneof=FIFO LIFO WEIGHTED_AVERAGE STANDARD"`
	StandardCost         decimal.Decimal `json:"standard_cost" validate:"gte=0"`
	InventoryAccountCode string          `json:"inventory_account_code" validate:"required,max=32"`
	COGSAccountCode      string          `json:"cogs_account_code" validate:"required,max=32"`
	SalesAccountCode     string          `json:"sales_account_code" validate:"required,max=32"`
	VarianceAccountCode  string          `json:"variance_account_code" validate:"required_if=CostingMethod STANDARD,max=32"`
	LotTracked           bool            `json:"lot_tracked"`
	Serialized           bool            `json:"serialized"`
}

type RegisterTransactionTypeRequest struct {
	Code              string    `json:"code" validate:"required,max=32"`
	Name              string    `json:"name" validate:"required,max=128"`
	Direction         Direction `json:"direction" validate:"required,oneof=increase decrease"`
	OffsetAccountCode string    `json:"offset_account_code" validate:"required_if=Direction increase,max=32"`
}

// TransactionRequest is an inventory movement header. An empty CurrencyCode
// means the functional currency.
type TransactionRequest struct {
	ReferenceNumber string    `json:"reference_number" validate:"required,max=60"`
	TypeCode        string    `json:"type_code" validate:"required,max=32"`
	TransactionDate time.Time `json:"transaction_date" validate:"required"`
	CurrencyCode    string    `json:"currency_code" validate:"max=8"`
	Note            string    `json:"note" validate:"max=512"`
}

// LineRequest moves Quantity units of a product. The sign of Quantity must
// match the direction of the transaction type. UnitCost is only read on
// receipts, in the transaction currency.
type LineRequest struct {
	SKU           string          `json:"sku" validate:"required,max=64"`
	LocationID    string          `json:"location_id" validate:"required,max=64"`
	Quantity      decimal.Decimal `json:"quantity" validate:"ne=0"`
	UnitCost      decimal.Decimal `json:"unit_cost" validate:"gte=0"`
	LotNumber     string          `json:"lot_number,omitempty" validate:"max=64"`
	SerialNumbers []string        `json:"serial_numbers,omitempty" validate:"dive,required,max=64"`
}

type PostResult struct {
	ID              snowflake.ID    `json:"id"`
	ReferenceNumber string          `json:"reference_number"`
	PostedTime      time.Time       `json:"posted_time"`
	JournalEntryRef string          `json:"journal_entry_ref,omitempty"`
	TotalCost       decimal.Decimal `json:"total_cost"`
}

type ListTransactionsRequest struct {
	Status   TransactionStatus
	TypeCode string
	From     *time.Time
	To       *time.Time
	Limit    int
}

type Repository interface {
	InsertProduct(ctx context.Context, db *gorm.DB, product *Product) error
	FindProduct(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Product, error)
	FindProductBySKU(ctx context.Context, db *gorm.DB, sku string) (*Product, error)
	ListProducts(ctx context.Context, db *gorm.DB) ([]Product, error)
	UpdateCostingMethod(ctx context.Context, db *gorm.DB, product *Product) error
	InsertCostingChange(ctx context.Context, db *gorm.DB, change *CostingMethodChange) error
	ListCostingChanges(ctx context.Context, db *gorm.DB, productID snowflake.ID) ([]CostingMethodChange, error)

	InsertType(ctx context.Context, db *gorm.DB, txnType *TransactionType) error
	FindType(ctx context.Context, db *gorm.DB, code string) (*TransactionType, error)
	ListTypes(ctx context.Context, db *gorm.DB) ([]TransactionType, error)

	InsertTransaction(ctx context.Context, db *gorm.DB, txn *Transaction) error
	FindTransaction(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Transaction, error)
	FindTransactionByRef(ctx context.Context, db *gorm.DB, ref string) (*Transaction, error)
	ListTransactions(ctx context.Context, db *gorm.DB, req ListTransactionsRequest) ([]Transaction, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, txn *Transaction, from TransactionStatus) (bool, error)
	InsertLines(ctx context.Context, db *gorm.DB, lines []TransactionLine) error
	ListLines(ctx context.Context, db *gorm.DB, txnID snowflake.ID) ([]TransactionLine, error)
	UpdateLineCost(ctx context.Context, db *gorm.DB, line *TransactionLine) error

	InsertLayer(ctx context.Context, db *gorm.DB, layer *CostLayer) error
	ListOpenLayers(ctx context.Context, db *gorm.DB, productID snowflake.ID, location string, lot *string) ([]CostLayer, error)
	ListLayers(ctx context.Context, db *gorm.DB, productID snowflake.ID, location string) ([]CostLayer, error)
	UpdateLayerRemaining(ctx context.Context, db *gorm.DB, layer *CostLayer) error

	FindStock(ctx context.Context, db *gorm.DB, productID snowflake.ID, location string) (*Stock, error)
	ListStocks(ctx context.Context, db *gorm.DB, productID snowflake.ID) ([]Stock, error)
	SaveStock(ctx context.Context, db *gorm.DB, stock *Stock) error

	FindSerials(ctx context.Context, db *gorm.DB, productID snowflake.ID, serials []string) ([]Serial, error)
	SaveSerial(ctx context.Context, db *gorm.DB, serial *Serial) error
}

type Service interface {
	RegisterProduct(ctx context.Context, req RegisterProductRequest) (*Product, error)
	GetProduct(ctx context.Context, sku string) (*Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
	ChangeCostingMethod(ctx context.Context, sku string, method CostingMethod, reason string) (*Product, error)
	CostingHistory(ctx context.Context, sku string) ([]CostingMethodChange, error)

	RegisterTransactionType(ctx context.Context, req RegisterTransactionTypeRequest) (*TransactionType, error)
	ListTransactionTypes(ctx context.Context) ([]TransactionType, error)

	// CreateTransaction stores a draft. Lot and serial data are only checked
	// when the transaction is posted.
	CreateTransaction(ctx context.Context, req TransactionRequest, lines []LineRequest) (*Transaction, error)
	Approve(ctx context.Context, id snowflake.ID) (*Transaction, error)
	Post(ctx context.Context, id snowflake.ID) (PostResult, error)

	// PostInventoryTransaction creates and posts a transaction atomically.
	PostInventoryTransaction(ctx context.Context, req TransactionRequest, lines []LineRequest) (PostResult, error)

	GetTransaction(ctx context.Context, id snowflake.ID) (*Transaction, []TransactionLine, error)
	ListTransactions(ctx context.Context, req ListTransactionsRequest) ([]Transaction, error)
	Layers(ctx context.Context, sku, location string) ([]CostLayer, error)
	Stock(ctx context.Context, sku, location string) (*Stock, error)
}

var (
	ErrDuplicateSKU         = apperror.Validation("sku", "duplicate_sku", "sku already registered")
	ErrProductNotFound      = apperror.Validation("sku", "product_not_found", "product does not exist")
	ErrUnknownAccount       = apperror.Validation("inventory_account_code", "product_account_not_found", "linked account does not exist")
	ErrDuplicateType        = apperror.Validation("code", "duplicate_transaction_type", "transaction type already registered")
	ErrTypeNotFound         = apperror.Validation("type_code", "transaction_type_not_found", "transaction type does not exist")
	ErrDuplicateReference   = apperror.Validation("reference_number", "duplicate_reference", "reference number already used")
	ErrTransactionNotFound  = apperror.Validation("id", "transaction_not_found", "inventory transaction does not exist")
	ErrQuantitySign         = apperror.Validation("quantity", "quantity_sign", "quantity sign does not match the transaction type")
	ErrDuplicateSerial      = apperror.Validation("serial_numbers", "duplicate_serial", "serial number already on hand")
	ErrSerialNotOnHand      = apperror.Validation("serial_numbers", "serial_not_on_hand", "serial number is not on hand at the location")
	ErrInvalidTransition    = apperror.Validation("status", "invalid_transition", "transaction cannot move to the requested status")
	ErrCostingMethodUnknown = apperror.Validation("costing_method", "oneof", "costing method must be FIFO, LIFO, WEIGHTED_AVERAGE or STANDARD")
	ErrVarianceAccount      = apperror.Validation("variance_account_code", "required_if", "standard costing needs a variance account")
)
