package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/stockledger/internal/apperror"
	"github.com/smallbiznis/stockledger/internal/clock"
	inventorydomain "github.com/smallbiznis/stockledger/internal/inventory/domain"
	"gorm.io/gorm"
)

// unitCostScale matches the decimal(28,8) cost columns.
const unitCostScale = 8

// Movement is the costed result of one receipt or issue, in functional
// currency. InventoryValue is booked on the inventory account and
// OffsetValue on the other side; they differ only by a standard cost
// variance.
type Movement struct {
	Quantity       decimal.Decimal
	UnitCost       decimal.Decimal
	InventoryValue decimal.Decimal
	OffsetValue    decimal.Decimal
	Variance       decimal.Decimal
	LayersConsumed int
}

// CostEngine mutates layers and stock inside one posting transaction. The
// costing method is read from the product passed to each call.
type CostEngine struct {
	tx        *gorm.DB
	repo      inventorydomain.Repository
	genID     *snowflake.Node
	clock     clock.Clock
	precision int32
	currency  string
}

// PostReceipt adds a layer and folds the receipt into the running average.
// unitCost is in functional currency.
func (e *CostEngine) PostReceipt(ctx context.Context, product *inventorydomain.Product, location string, qty, unitCost decimal.Decimal, lot *string, date time.Time, ref string) (Movement, error) {
	if !qty.IsPositive() {
		return Movement{}, apperror.Validation("quantity", "gt", "receipt quantity must be positive")
	}

	layerCost := unitCost.Round(unitCostScale)
	if product.CostingMethod == inventorydomain.CostingMethodStandard {
		layerCost = product.StandardCost
	}

	now := e.clock.Now()
	layer := &inventorydomain.CostLayer{
		ID:                e.genID.Generate(),
		ProductID:         product.ID,
		LocationID:        location,
		ReceivedAt:        date.UTC(),
		QuantityReceived:  qty,
		QuantityRemaining: qty,
		UnitCost:          layerCost,
		CurrencyCode:      e.currency,
		SourceRef:         ref,
		LotNumber:         lot,
		CreatedAt:         now,
	}
	if err := e.repo.InsertLayer(ctx, e.tx, layer); err != nil {
		return Movement{}, err
	}

	stock, err := e.stock(ctx, product, location)
	if err != nil {
		return Movement{}, err
	}
	if product.CostingMethod == inventorydomain.CostingMethodStandard {
		stock.UnitCost = product.StandardCost
	} else {
		stock.UnitCost = inventorydomain.WeightedAverage(stock.QuantityOnHand, stock.UnitCost, qty, layerCost, e.precision)
	}
	stock.QuantityOnHand = stock.QuantityOnHand.Add(qty)
	stock.UpdatedAt = now
	if err := e.repo.SaveStock(ctx, e.tx, stock); err != nil {
		return Movement{}, err
	}

	inventoryValue := qty.Mul(layerCost).RoundBank(e.precision)
	offsetValue := inventoryValue
	if product.CostingMethod == inventorydomain.CostingMethodStandard {
		offsetValue = qty.Mul(unitCost).RoundBank(e.precision)
	}
	return Movement{
		Quantity:       qty,
		UnitCost:       layerCost,
		InventoryValue: inventoryValue,
		OffsetValue:    offsetValue,
		Variance:       offsetValue.Sub(inventoryValue),
	}, nil
}

// PostIssue removes qty units. FIFO and LIFO draw layers down in receipt
// order; weighted average and standard cost issue at the stock or standard
// unit cost and leave layers untouched. A non-nil lot restricts consumption
// to that lot's layers.
func (e *CostEngine) PostIssue(ctx context.Context, product *inventorydomain.Product, location string, qty decimal.Decimal, lot *string) (Movement, error) {
	if !qty.IsPositive() {
		return Movement{}, apperror.Validation("quantity", "gt", "issue quantity must be positive")
	}

	stock, err := e.stock(ctx, product, location)
	if err != nil {
		return Movement{}, err
	}

	var cost decimal.Decimal
	consumed := 0
	switch product.CostingMethod {
	case inventorydomain.CostingMethodFIFO, inventorydomain.CostingMethodLIFO:
		layers, err := e.repo.ListOpenLayers(ctx, e.tx, product.ID, location, lot)
		if err != nil {
			return Movement{}, err
		}
		inventorydomain.OrderLayers(layers, product.CostingMethod)
		parts, total, err := inventorydomain.ConsumeLayers(layers, qty)
		if err != nil {
			return Movement{}, err
		}
		if stock.QuantityOnHand.LessThan(qty) {
			return Movement{}, insufficientStock(product, location, qty, stock.QuantityOnHand)
		}
		for _, part := range parts {
			layer := &layers[part.Layer]
			layer.QuantityRemaining = layer.QuantityRemaining.Sub(part.Quantity)
			if err := e.repo.UpdateLayerRemaining(ctx, e.tx, layer); err != nil {
				return Movement{}, err
			}
		}
		cost = total.RoundBank(e.precision)
		consumed = len(parts)

		remaining, err := e.repo.ListOpenLayers(ctx, e.tx, product.ID, location, nil)
		if err != nil {
			return Movement{}, err
		}
		stock.UnitCost = inventorydomain.LayerAverage(remaining, e.precision)
	case inventorydomain.CostingMethodStandard:
		if stock.QuantityOnHand.LessThan(qty) {
			return Movement{}, insufficientStock(product, location, qty, stock.QuantityOnHand)
		}
		cost = qty.Mul(product.StandardCost).RoundBank(e.precision)
	default:
		if stock.QuantityOnHand.LessThan(qty) {
			return Movement{}, insufficientStock(product, location, qty, stock.QuantityOnHand)
		}
		cost = qty.Mul(stock.UnitCost).RoundBank(e.precision)
	}

	stock.QuantityOnHand = stock.QuantityOnHand.Sub(qty)
	stock.UpdatedAt = e.clock.Now()
	if err := e.repo.SaveStock(ctx, e.tx, stock); err != nil {
		return Movement{}, err
	}

	return Movement{
		Quantity:       qty,
		UnitCost:       cost.DivRound(qty, unitCostScale),
		InventoryValue: cost,
		OffsetValue:    cost,
		LayersConsumed: consumed,
	}, nil
}

// Realign trims the oldest layers of a location so they hold no more than
// the quantity on hand. Averaged and standard issues leave layers at their
// received quantities, which FIFO and LIFO would otherwise draw on.
func (e *CostEngine) Realign(ctx context.Context, product *inventorydomain.Product, location string, from, to inventorydomain.CostingMethod) error {
	if from.UsesLayers() || !to.UsesLayers() {
		return nil
	}
	stock, err := e.stock(ctx, product, location)
	if err != nil {
		return err
	}
	layers, err := e.repo.ListOpenLayers(ctx, e.tx, product.ID, location, nil)
	if err != nil {
		return err
	}

	held := decimal.Zero
	for _, l := range layers {
		held = held.Add(l.QuantityRemaining)
	}
	excess := held.Sub(stock.QuantityOnHand)
	if !excess.IsPositive() {
		return nil
	}

	inventorydomain.OrderLayers(layers, inventorydomain.CostingMethodFIFO)
	parts, _, err := inventorydomain.ConsumeLayers(layers, excess)
	if err != nil {
		return err
	}
	for _, part := range parts {
		layer := &layers[part.Layer]
		layer.QuantityRemaining = layer.QuantityRemaining.Sub(part.Quantity)
		if err := e.repo.UpdateLayerRemaining(ctx, e.tx, layer); err != nil {
			return err
		}
	}
	return nil
}

func (e *CostEngine) stock(ctx context.Context, product *inventorydomain.Product, location string) (*inventorydomain.Stock, error) {
	stock, err := e.repo.FindStock(ctx, e.tx, product.ID, location)
	if err != nil {
		return nil, err
	}
	if stock == nil {
		stock = &inventorydomain.Stock{
			ID:             e.genID.Generate(),
			ProductID:      product.ID,
			LocationID:     location,
			QuantityOnHand: decimal.Zero,
			UnitCost:       decimal.Zero,
		}
	}
	return stock, nil
}

func insufficientStock(product *inventorydomain.Product, location string, need, onHand decimal.Decimal) error {
	return apperror.ErrInsufficientStock.With("%s at %s: need %s, on hand %s", product.SKU, location, need, onHand)
}
