package domain

import (
	"sort"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/stockledger/internal/apperror"
)

// Consumption is the part of one layer taken by an issue.
type Consumption struct {
	Layer    int
	Quantity decimal.Decimal
	Cost     decimal.Decimal
}

// OrderLayers sorts layers into consumption order: oldest first for FIFO,
// newest first for LIFO. Ties fall back to creation order.
func OrderLayers(layers []CostLayer, method CostingMethod) {
	sort.SliceStable(layers, func(i, j int) bool {
		a, b := layers[i], layers[j]
		if !a.ReceivedAt.Equal(b.ReceivedAt) {
			if method == CostingMethodLIFO {
				return a.ReceivedAt.After(b.ReceivedAt)
			}
			return a.ReceivedAt.Before(b.ReceivedAt)
		}
		if method == CostingMethodLIFO {
			return a.ID > b.ID
		}
		return a.ID < b.ID
	})
}

// ConsumeLayers walks ordered layers until need is covered. Exhausted layers
// are skipped and the last layer touched may be consumed partially. Nothing
// is consumed when the layers cannot cover need.
func ConsumeLayers(layers []CostLayer, need decimal.Decimal) ([]Consumption, decimal.Decimal, error) {
	available := decimal.Zero
	for _, l := range layers {
		if l.QuantityRemaining.IsPositive() {
			available = available.Add(l.QuantityRemaining)
		}
	}
	if available.LessThan(need) {
		return nil, decimal.Zero, apperror.ErrInsufficientCostLayers.With("need %s, layers hold %s", need, available)
	}

	var out []Consumption
	cost := decimal.Zero
	remaining := need
	for i, l := range layers {
		if !remaining.IsPositive() {
			break
		}
		if !l.QuantityRemaining.IsPositive() {
			continue
		}
		take := decimal.Min(l.QuantityRemaining, remaining)
		amount := take.Mul(l.UnitCost)
		out = append(out, Consumption{Layer: i, Quantity: take, Cost: amount})
		cost = cost.Add(amount)
		remaining = remaining.Sub(take)
	}
	return out, cost, nil
}

// WeightedAverage folds a receipt into a running average cost.
func WeightedAverage(oldQty, oldCost, qty, unitCost decimal.Decimal, precision int32) decimal.Decimal {
	total := oldQty.Add(qty)
	if !total.IsPositive() {
		return unitCost.RoundBank(precision)
	}
	value := oldQty.Mul(oldCost).Add(qty.Mul(unitCost))
	return value.DivRound(total, 16).RoundBank(precision)
}

// LayerAverage is the unit cost of the quantity still held in layers.
func LayerAverage(layers []CostLayer, precision int32) decimal.Decimal {
	qty, value := decimal.Zero, decimal.Zero
	for _, l := range layers {
		if !l.QuantityRemaining.IsPositive() {
			continue
		}
		qty = qty.Add(l.QuantityRemaining)
		value = value.Add(l.RemainingValue())
	}
	if !qty.IsPositive() {
		return decimal.Zero
	}
	return value.DivRound(qty, 16).RoundBank(precision)
}
