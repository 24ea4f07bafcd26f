package metrics

import (
	"context"
	"testing"

	"github.com/smallbiznis/stockledger/internal/apperror"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("source_type", "inventory"),
		attribute.String("entry_ref", "JE-1"),
		attribute.String("costing_method", "FIFO"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	if attrs[0].Key != "source_type" && attrs[1].Key != "source_type" {
		t.Fatalf("expected source_type to be retained")
	}
	if attrs[0].Key != "costing_method" && attrs[1].Key != "costing_method" {
		t.Fatalf("expected costing_method to be retained")
	}
}

func TestRecordOnNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "stockledger"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	ctx := context.Background()
	m.RecordJournalPosted(ctx, "manual")
	m.RecordInventoryPosted(ctx, "RECEIPT")
	m.RecordPostingRejected(ctx, "ledger.post", apperror.ErrUnbalancedEntry)
	m.RecordCostLayersConsumed(ctx, "FIFO", 2)

	var nilMetrics *Metrics
	nilMetrics.RecordJournalPosted(ctx, "manual")
}
