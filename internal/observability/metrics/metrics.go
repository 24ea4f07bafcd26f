package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes engine-level instruments.
type Metrics struct {
	journalPosted    metric.Int64Counter
	inventoryPosted  metric.Int64Counter
	postingRejected  metric.Int64Counter
	costLayerConsume metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the engine metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "stockledger"
	}
	meter := provider.Meter(name)

	journalPosted, err := meter.Int64Counter("stockledger_journal_entries_posted_total")
	if err != nil {
		return nil, err
	}
	inventoryPosted, err := meter.Int64Counter("stockledger_inventory_transactions_posted_total")
	if err != nil {
		return nil, err
	}
	postingRejected, err := meter.Int64Counter("stockledger_postings_rejected_total")
	if err != nil {
		return nil, err
	}
	costLayerConsume, err := meter.Int64Counter("stockledger_cost_layers_consumed_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		journalPosted:    journalPosted,
		inventoryPosted:  inventoryPosted,
		postingRejected:  postingRejected,
		costLayerConsume: costLayerConsume,
	}, nil
}

// RecordJournalPosted increments posted journal entry counts.
func (m *Metrics) RecordJournalPosted(ctx context.Context, sourceType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("source_type", strings.TrimSpace(sourceType)))
	m.journalPosted.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordInventoryPosted increments posted inventory transaction counts.
func (m *Metrics) RecordInventoryPosted(ctx context.Context, transactionType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("transaction_type", strings.TrimSpace(transactionType)))
	m.inventoryPosted.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPostingRejected counts failed postings by operation and classified reason.
func (m *Metrics) RecordPostingRejected(ctx context.Context, operation string, err error) {
	if m == nil || err == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("operation", strings.TrimSpace(operation)),
		attribute.String("reason", ClassifyPostingReason(err)),
	)
	m.postingRejected.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCostLayersConsumed counts layers touched by an issue.
func (m *Metrics) RecordCostLayersConsumed(ctx context.Context, costingMethod string, layers int) {
	if m == nil || layers <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("costing_method", strings.TrimSpace(costingMethod)))
	m.costLayerConsume.Add(ctx, int64(layers), metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"source_type":      {},
	"transaction_type": {},
	"costing_method":   {},
	"operation":        {},
	"reason":           {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
