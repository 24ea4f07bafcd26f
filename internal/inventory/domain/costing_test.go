package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/stockledger/internal/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func layer(id int64, day int, qty, cost string) CostLayer {
	return CostLayer{
		ID:                snowflake.ID(id),
		ReceivedAt:        time.Date(2026, 1, day, 0, 0, 0, 0, time.UTC),
		QuantityReceived:  decimal.RequireFromString(qty),
		QuantityRemaining: decimal.RequireFromString(qty),
		UnitCost:          decimal.RequireFromString(cost),
	}
}

func TestOrderLayers(t *testing.T) {
	layers := []CostLayer{layer(3, 5, "1", "30"), layer(1, 2, "1", "10"), layer(2, 2, "1", "20")}

	OrderLayers(layers, CostingMethodFIFO)
	assert.Equal(t, []int64{1, 2, 3}, ids(layers))

	OrderLayers(layers, CostingMethodLIFO)
	assert.Equal(t, []int64{3, 2, 1}, ids(layers))
}

func TestConsumeLayersFIFO(t *testing.T) {
	layers := []CostLayer{layer(1, 1, "100", "1000"), layer(2, 2, "50", "1500")}
	OrderLayers(layers, CostingMethodFIFO)

	parts, cost, err := ConsumeLayers(layers, decimal.NewFromInt(120))
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Equal(t, "100", parts[0].Quantity.String())
	assert.Equal(t, "20", parts[1].Quantity.String())
	assert.Equal(t, "130000", cost.String())
}

func TestConsumeLayersLIFO(t *testing.T) {
	layers := []CostLayer{layer(1, 1, "100", "1000"), layer(2, 2, "50", "1500")}
	OrderLayers(layers, CostingMethodLIFO)

	_, cost, err := ConsumeLayers(layers, decimal.NewFromInt(120))
	require.NoError(t, err)
	assert.Equal(t, "145000", cost.String())
}

func TestConsumeLayersSkipsExhaustedAndRefusesShortfall(t *testing.T) {
	empty := layer(1, 1, "10", "5")
	empty.QuantityRemaining = decimal.Zero
	layers := []CostLayer{empty, layer(2, 2, "4", "7")}

	parts, cost, err := ConsumeLayers(layers, decimal.NewFromInt(3))
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, 1, parts[0].Layer)
	assert.Equal(t, "21", cost.String())

	parts, _, err = ConsumeLayers(layers, decimal.NewFromInt(5))
	assert.True(t, errors.Is(err, apperror.ErrInsufficientCostLayers))
	assert.Empty(t, parts)
}

func TestWeightedAverage(t *testing.T) {
	avg := WeightedAverage(decimal.NewFromInt(100), decimal.NewFromInt(1000), decimal.NewFromInt(50), decimal.NewFromInt(1200), 2)
	assert.Equal(t, "1066.67", avg.String())

	first := WeightedAverage(decimal.Zero, decimal.Zero, decimal.NewFromInt(3), decimal.RequireFromString("9.995"), 2)
	assert.Equal(t, "10", first.String())
}

func TestLayerAverageIgnoresExhaustedLayers(t *testing.T) {
	spent := layer(1, 1, "100", "1000")
	spent.QuantityRemaining = decimal.Zero
	rest := layer(2, 2, "50", "1500")
	rest.QuantityRemaining = decimal.NewFromInt(30)

	assert.Equal(t, "1500", LayerAverage([]CostLayer{spent, rest}, 2).String())
	assert.True(t, LayerAverage(nil, 2).IsZero())
}

func TestTransactionStatusTransitions(t *testing.T) {
	assert.True(t, TransactionStatusDraft.CanTransition(TransactionStatusApproved))
	assert.True(t, TransactionStatusDraft.CanTransition(TransactionStatusPosted))
	assert.True(t, TransactionStatusApproved.CanTransition(TransactionStatusPosted))
	assert.False(t, TransactionStatusApproved.CanTransition(TransactionStatusApproved))
	assert.False(t, TransactionStatusPosted.CanTransition(TransactionStatusPosted))
}

func ids(layers []CostLayer) []int64 {
	out := make([]int64, 0, len(layers))
	for _, l := range layers {
		out = append(out, l.ID.Int64())
	}
	return out
}
