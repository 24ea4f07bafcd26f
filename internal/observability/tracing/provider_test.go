package tracing

import (
	"context"
	"testing"

	"github.com/smallbiznis/stockledger/pkg/telemetry/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

func TestCorrelationSpanProcessorTagsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(&correlationSpanProcessor{}),
		sdktrace.WithSpanProcessor(recorder),
	)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx := correlation.ContextWithCorrelationID(context.Background(), "cid-42")
	_, span := tp.Tracer("test").Start(ctx, "ledger.post")
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Contains(t, spans[0].Attributes(), attribute.String("correlation_id", "cid-42"))
}

func TestNewProviderDisabled(t *testing.T) {
	tp, err := NewProvider(nil, Config{ServiceName: "stockledger", SamplingRatio: 1}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := Start(context.Background(), "noop")
	defer span.End()
	assert.True(t, span.SpanContext().IsValid())
}

func TestNewExporterRejectsUnknownProtocol(t *testing.T) {
	_, err := newExporter("carrier-pigeon", "")
	require.Error(t, err)
}
