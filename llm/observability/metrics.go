package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/BaSui01/tokenbudget/llm"

// Metrics 压缩与工具调用的 OTel 指标收集器
type Metrics struct {
	tracer trace.Tracer
	meter  metric.Meter
	// 计数器
	compressionTotal metric.Int64Counter
	tokensSavedTotal metric.Int64Counter
	toolCallTotal    metric.Int64Counter
	// 直方图
	compressionDuration metric.Float64Histogram
	compressionRatio    metric.Float64Histogram
	// 活跃数
	activeCompressions metric.Int64UpDownCounter
}

// NewMetrics 创建指标收集器
func NewMetrics() (*Metrics, error) {
	tracer := otel.Tracer(instrumentationName)
	meter := otel.Meter(instrumentationName)

	m := &Metrics{
		tracer: tracer,
		meter:  meter,
	}

	var err error

	m.compressionTotal, err = meter.Int64Counter("tokenbudget.compression.total",
		metric.WithDescription("Total number of compression runs"),
		metric.WithUnit("{run}"))
	if err != nil {
		return nil, err
	}

	m.tokensSavedTotal, err = meter.Int64Counter("tokenbudget.compression.tokens_saved",
		metric.WithDescription("Tokens removed by compression"),
		metric.WithUnit("{token}"))
	if err != nil {
		return nil, err
	}

	m.toolCallTotal, err = meter.Int64Counter("tokenbudget.tool_call.total",
		metric.WithDescription("Total number of MCP tool calls"),
		metric.WithUnit("{call}"))
	if err != nil {
		return nil, err
	}

	m.compressionDuration, err = meter.Float64Histogram("tokenbudget.compression.duration",
		metric.WithDescription("Compression duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5))
	if err != nil {
		return nil, err
	}

	m.compressionRatio, err = meter.Float64Histogram("tokenbudget.compression.ratio",
		metric.WithDescription("compressed / original tokens"),
		metric.WithExplicitBucketBoundaries(0.1, 0.2, 0.3, 0.5, 0.7, 0.9, 1))
	if err != nil {
		return nil, err
	}

	m.activeCompressions, err = meter.Int64UpDownCounter("tokenbudget.compression.active",
		metric.WithDescription("Number of in-flight compressions"),
		metric.WithUnit("{run}"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// CompressionAttrs 压缩请求属性
type CompressionAttrs struct {
	ConversationID string
	Strategy       string
	Model          string
	TargetRatio    float64
	PreserveRecent int
	MessageCount   int
}

// CompressionOutcome 压缩结果属性
type CompressionOutcome struct {
	OriginalTokens   int
	CompressedTokens int
	Ratio            float64
	FromCache        bool
	Duration         time.Duration
	Err              error
}

// StartCompression 开始压缩追踪
func (m *Metrics) StartCompression(ctx context.Context, attrs CompressionAttrs) (context.Context, trace.Span) {
	ctx, span := m.tracer.Start(ctx, "tokenbudget.compress",
		trace.WithAttributes(
			attribute.String("conversation.id", attrs.ConversationID),
			attribute.String("compression.strategy", attrs.Strategy),
			attribute.String("llm.model", attrs.Model),
			attribute.Float64("compression.target_ratio", attrs.TargetRatio),
			attribute.Int("compression.preserve_recent", attrs.PreserveRecent),
			attribute.Int("compression.message_count", attrs.MessageCount),
		))

	m.activeCompressions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("strategy", attrs.Strategy)))

	return ctx, span
}

// EndCompression 结束压缩追踪
func (m *Metrics) EndCompression(ctx context.Context, span trace.Span, attrs CompressionAttrs, out CompressionOutcome) {
	defer span.End()

	source := "computed"
	if out.FromCache {
		source = "cache"
	}
	status := "ok"
	if out.Err != nil {
		status = "error"
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, out.Err.Error())
	}

	commonAttrs := []attribute.KeyValue{
		attribute.String("strategy", attrs.Strategy),
		attribute.String("source", source),
		attribute.String("status", status),
	}

	m.activeCompressions.Add(ctx, -1,
		metric.WithAttributes(attribute.String("strategy", attrs.Strategy)))

	m.compressionTotal.Add(ctx, 1, metric.WithAttributes(commonAttrs...))
	m.compressionDuration.Record(ctx, out.Duration.Seconds(), metric.WithAttributes(commonAttrs...))

	if out.Err == nil {
		m.compressionRatio.Record(ctx, out.Ratio, metric.WithAttributes(commonAttrs...))
		if saved := out.OriginalTokens - out.CompressedTokens; saved > 0 && !out.FromCache {
			m.tokensSavedTotal.Add(ctx, int64(saved), metric.WithAttributes(
				attribute.String("strategy", attrs.Strategy)))
		}
	}

	span.SetAttributes(
		attribute.Bool("compression.from_cache", out.FromCache),
		attribute.Int("compression.tokens.original", out.OriginalTokens),
		attribute.Int("compression.tokens.compressed", out.CompressedTokens),
		attribute.Float64("compression.ratio", out.Ratio),
		attribute.Float64("compression.duration_ms", float64(out.Duration.Milliseconds())))
}

// RecordToolCall 记录工具调用
func (m *Metrics) RecordToolCall(ctx context.Context, toolName string, duration time.Duration, success bool) {
	_, span := m.tracer.Start(ctx, "tokenbudget.tool_call",
		trace.WithAttributes(
			attribute.String("tool.name", toolName),
			attribute.Bool("tool.success", success),
			attribute.Float64("tool.duration_ms", float64(duration.Milliseconds()))))
	defer span.End()

	m.toolCallTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", toolName),
		attribute.Bool("success", success)))
}

// Tracer 获取 Tracer
func (m *Metrics) Tracer() trace.Tracer {
	return m.tracer
}
