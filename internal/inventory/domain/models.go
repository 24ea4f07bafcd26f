package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type CostingMethod string

const (
	CostingMethodFIFO            CostingMethod = "FIFO"
	CostingMethodLIFO            CostingMethod = "LIFO"
	CostingMethodWeightedAverage CostingMethod = "WEIGHTED_AVERAGE"
	CostingMethodStandard        CostingMethod = "STANDARD"
)

// UsesLayers reports whether issues draw down cost layers.
func (m CostingMethod) UsesLayers() bool {
	return m == CostingMethodFIFO || m == CostingMethodLIFO
}

func (m CostingMethod) IsValid() bool {
	switch m {
	case CostingMethodFIFO, CostingMethodLIFO, CostingMethodWeightedAverage, CostingMethodStandard:
		return true
	default:
		return false
	}
}

type Product struct {
	ID                   snowflake.ID    `gorm:"primaryKey" json:"id"`
	SKU                  string          `gorm:"type:varchar(64);not null;uniqueIndex" json:"sku"`
	Name                 string          `gorm:"type:varchar(128);not null" json:"name"`
	CostingMethod        CostingMethod   `gorm:"type:varchar(24);not null" json:"costing_method"`
	StandardCost         decimal.Decimal `gorm:"type:decimal(28,8);not null;default:0" json:"standard_cost"`
	InventoryAccountCode string          `gorm:"type:varchar(32);not null" json:"inventory_account_code"`
	COGSAccountCode      string          `gorm:"column:cogs_account_code;type:varchar(32);not null" json:"cogs_account_code"`
	SalesAccountCode     string          `gorm:"type:varchar(32);not null" json:"sales_account_code"`
	VarianceAccountCode  *string         `gorm:"type:varchar(32)" json:"variance_account_code,omitempty"`
	LotTracked           bool            `gorm:"not null;default:false" json:"lot_tracked"`
	Serialized           bool            `gorm:"not null;default:false" json:"serialized"`
	CreatedAt            time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt            time.Time       `gorm:"not null" json:"updated_at"`
}

func (Product) TableName() string { return "products" }

// CostingMethodChange is an append-only history row.
type CostingMethodChange struct {
	ID        snowflake.ID  `gorm:"primaryKey" json:"id"`
	ProductID snowflake.ID  `gorm:"not null;index" json:"product_id"`
	OldMethod CostingMethod `gorm:"type:varchar(24);not null" json:"old_method"`
	NewMethod CostingMethod `gorm:"type:varchar(24);not null" json:"new_method"`
	Reason    string        `gorm:"type:varchar(256)" json:"reason,omitempty"`
	ChangedAt time.Time     `gorm:"not null" json:"changed_at"`
}

func (CostingMethodChange) TableName() string { return "costing_method_changes" }

// CostLayer is a received batch kept at its own cost. Exhausted layers stay
// for audit and are skipped by later issues.
type CostLayer struct {
	ID                snowflake.ID    `gorm:"primaryKey" json:"id"`
	ProductID         snowflake.ID    `gorm:"not null;index:ix_cost_layer_queue,priority:1" json:"product_id"`
	LocationID        string          `gorm:"type:varchar(64);not null;index:ix_cost_layer_queue,priority:2" json:"location_id"`
	ReceivedAt        time.Time       `gorm:"not null;index:ix_cost_layer_queue,priority:3" json:"received_at"`
	QuantityReceived  decimal.Decimal `gorm:"type:decimal(28,8);not null" json:"quantity_received"`
	QuantityRemaining decimal.Decimal `gorm:"type:decimal(28,8);not null" json:"quantity_remaining"`
	UnitCost          decimal.Decimal `gorm:"type:decimal(28,8);not null" json:"unit_cost"`
	CurrencyCode      string          `gorm:"type:varchar(8);not null" json:"currency_code"`
	SourceRef         string          `gorm:"type:varchar(64);not null;index" json:"source_ref"`
	LotNumber         *string         `gorm:"type:varchar(64);index" json:"lot_number,omitempty"`
	CreatedAt         time.Time       `gorm:"not null" json:"created_at"`
}

func (CostLayer) TableName() string { return "inventory_cost_layers" }

func (l CostLayer) IsExhausted() bool { return !l.QuantityRemaining.IsPositive() }

func (l CostLayer) RemainingValue() decimal.Decimal {
	return l.QuantityRemaining.Mul(l.UnitCost)
}

type Direction string

const (
	DirectionIncrease Direction = "increase"
	DirectionDecrease Direction = "decrease"
)

// TransactionType declares the direction of a movement and the account on
// the other side of the inventory account. An empty offset on a decrease
// means the product's COGS account.
type TransactionType struct {
	Code              string    `gorm:"primaryKey;type:varchar(32)" json:"code"`
	Name              string    `gorm:"type:varchar(128);not null" json:"name"`
	Direction         Direction `gorm:"type:varchar(16);not null" json:"direction"`
	OffsetAccountCode string    `gorm:"type:varchar(32)" json:"offset_account_code,omitempty"`
	CreatedAt         time.Time `gorm:"not null" json:"created_at"`
}

func (TransactionType) TableName() string { return "inventory_transaction_types" }

type TransactionStatus string

const (
	TransactionStatusDraft    TransactionStatus = "draft"
	TransactionStatusApproved TransactionStatus = "approved"
	TransactionStatusPosted   TransactionStatus = "posted"
)

// CanTransition allows draft → approved → posted and draft → posted.
func (s TransactionStatus) CanTransition(next TransactionStatus) bool {
	switch s {
	case TransactionStatusDraft:
		return next == TransactionStatusApproved || next == TransactionStatusPosted
	case TransactionStatusApproved:
		return next == TransactionStatusPosted
	default:
		return false
	}
}

type Transaction struct {
	ID              snowflake.ID      `gorm:"primaryKey" json:"id"`
	ReferenceNumber string            `gorm:"type:varchar(64);not null;uniqueIndex" json:"reference_number"`
	TypeCode        string            `gorm:"type:varchar(32);not null;index" json:"type_code"`
	TransactionDate time.Time         `gorm:"not null;index" json:"transaction_date"`
	CurrencyCode    string            `gorm:"type:varchar(8);not null" json:"currency_code"`
	Status          TransactionStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	Note            string            `gorm:"type:varchar(512)" json:"note,omitempty"`
	ApprovedAt      *time.Time        `json:"approved_at,omitempty"`
	PostedAt        *time.Time        `json:"posted_at,omitempty"`
	JournalEntryRef *string           `gorm:"type:varchar(64)" json:"journal_entry_ref,omitempty"`
	CreatedAt       time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time         `gorm:"not null" json:"updated_at"`
}

func (Transaction) TableName() string { return "inventory_transactions" }

type TransactionLine struct {
	ID            snowflake.ID                `gorm:"primaryKey" json:"id"`
	TransactionID snowflake.ID                `gorm:"not null;uniqueIndex:ux_inventory_txn_line,priority:1" json:"transaction_id"`
	LineNumber    int                         `gorm:"not null;uniqueIndex:ux_inventory_txn_line,priority:2" json:"line_number"`
	ProductID     snowflake.ID                `gorm:"not null;index" json:"product_id"`
	LocationID    string                      `gorm:"type:varchar(64);not null" json:"location_id"`
	Quantity      decimal.Decimal             `gorm:"type:decimal(28,8);not null" json:"quantity"`
	UnitCost      decimal.Decimal             `gorm:"type:decimal(28,8);not null;default:0" json:"unit_cost"`
	TotalCost     decimal.Decimal             `gorm:"type:decimal(28,8);not null;default:0" json:"total_cost"`
	LotNumber     *string                     `gorm:"type:varchar(64)" json:"lot_number,omitempty"`
	SerialNumbers datatypes.JSONSlice[string] `json:"serial_numbers,omitempty"`
	CreatedAt     time.Time                   `gorm:"not null" json:"created_at"`
}

func (TransactionLine) TableName() string { return "inventory_transaction_lines" }

// Stock is the on-hand position of a product at a location. UnitCost is the
// running weighted average.
type Stock struct {
	ID             snowflake.ID    `gorm:"primaryKey" json:"id"`
	ProductID      snowflake.ID    `gorm:"not null;uniqueIndex:ux_inventory_stock,priority:1" json:"product_id"`
	LocationID     string          `gorm:"type:varchar(64);not null;uniqueIndex:ux_inventory_stock,priority:2" json:"location_id"`
	QuantityOnHand decimal.Decimal `gorm:"type:decimal(28,8);not null;default:0" json:"quantity_on_hand"`
	UnitCost       decimal.Decimal `gorm:"type:decimal(28,8);not null;default:0" json:"unit_cost"`
	UpdatedAt      time.Time       `gorm:"not null" json:"updated_at"`
}

func (Stock) TableName() string { return "inventory_stocks" }

func (s Stock) Value() decimal.Decimal { return s.QuantityOnHand.Mul(s.UnitCost) }

// Serial tracks one serialized unit from receipt to issue.
type Serial struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	ProductID    snowflake.ID `gorm:"not null;uniqueIndex:ux_inventory_serial,priority:1" json:"product_id"`
	SerialNumber string       `gorm:"type:varchar(64);not null;uniqueIndex:ux_inventory_serial,priority:2" json:"serial_number"`
	LocationID   string       `gorm:"type:varchar(64);not null" json:"location_id"`
	OnHand       bool         `gorm:"not null;index" json:"on_hand"`
	ReceivedRef  string       `gorm:"type:varchar(64);not null" json:"received_ref"`
	IssuedRef    *string      `gorm:"type:varchar(64)" json:"issued_ref,omitempty"`
	UpdatedAt    time.Time    `gorm:"not null" json:"updated_at"`
}

func (Serial) TableName() string { return "inventory_serials" }
