package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestMetrics_CompressionLifecycle(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	prevMP, prevTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetMeterProvider(prevMP)
		otel.SetTracerProvider(prevTP)
	})

	m, err := NewMetrics()
	require.NoError(t, err)

	ctx := context.Background()
	attrs := CompressionAttrs{ConversationID: "c1", Strategy: "smart", TargetRatio: 0.5, PreserveRecent: 3}

	ctx, span := m.StartCompression(ctx, attrs)
	m.EndCompression(ctx, span, attrs, CompressionOutcome{
		OriginalTokens: 100, CompressedTokens: 40, Ratio: 0.4, Duration: 3 * time.Millisecond,
	})

	_, span = m.StartCompression(ctx, attrs)
	m.EndCompression(ctx, span, attrs, CompressionOutcome{Err: errors.New("boom")})

	m.RecordToolCall(ctx, "count_tokens", time.Millisecond, true)

	spans := recorder.Ended()
	require.Len(t, spans, 3)
	assert.Equal(t, "tokenbudget.compress", spans[0].Name())
	assert.Equal(t, "tokenbudget.tool_call", spans[2].Name())

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			names[md.Name] = true
		}
	}
	assert.True(t, names["tokenbudget.compression.total"])
	assert.True(t, names["tokenbudget.compression.tokens_saved"])
	assert.True(t, names["tokenbudget.tool_call.total"])
}
