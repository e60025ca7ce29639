// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/tokenbudget/types"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。同时实现 tokenizer.Observer、cache.Recorder
// 与压缩流水线的 Recorder。
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// Token 计数指标
	tokenCountsTotal *prometheus.CounterVec
	tokensCounted    *prometheus.CounterVec

	// 缓存指标
	cacheOperations *prometheus.CounterVec
	cacheEvictions  prometheus.Counter

	// 压缩指标
	compressionsTotal *prometheus.CounterVec
	compressionRatio  *prometheus.HistogramVec
	tokensSaved       *prometheus.CounterVec

	// MCP 工具指标
	toolCallsTotal *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// Token 计数指标
	c.tokenCountsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_counts_total",
			Help:      "Total number of token counting calls",
		},
		[]string{"family", "method"}, // method: exact, encoder, encoder_default, heuristic
	)

	c.tokensCounted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_counted_total",
			Help:      "Total number of tokens counted",
		},
		[]string{"family", "method"},
	)

	// 缓存指标
	c.cacheOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_operations_total",
			Help:      "Total number of cache operations",
		},
		[]string{"operation", "result"},
	)

	c.cacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Total number of cache entries evicted by LRU",
		},
	)

	// 压缩指标
	c.compressionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compressions_total",
			Help:      "Total number of compression requests",
		},
		[]string{"strategy", "source"}, // source: computed, cache
	)

	c.compressionRatio = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compression_ratio",
			Help:      "Compressed tokens divided by original tokens",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		},
		[]string{"strategy"},
	)

	c.tokensSaved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compression_tokens_saved_total",
			Help:      "Total number of tokens saved by compression",
		},
		[]string{"strategy"},
	)

	c.toolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mcp_tool_calls_total",
			Help:      "Total number of MCP tool calls",
		},
		[]string{"tool", "status"},
	)

	// 数据库指标
	c.dbConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🔢 Token 计数指标记录
// =============================================================================

// ObserveTokenCount 记录一次文本计数
func (c *Collector) ObserveTokenCount(family types.Family, method string, tokens int) {
	c.tokenCountsTotal.WithLabelValues(string(family), method).Inc()
	c.tokensCounted.WithLabelValues(string(family), method).Add(float64(tokens))
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCacheOperation 记录缓存操作，result 如 hit、miss、ok、error
func (c *Collector) RecordCacheOperation(operation, result string) {
	c.cacheOperations.WithLabelValues(operation, result).Inc()
}

// RecordCacheEviction 记录 LRU 淘汰条数
func (c *Collector) RecordCacheEviction(count int) {
	if count <= 0 {
		return
	}
	c.cacheEvictions.Add(float64(count))
}

// =============================================================================
// 🗜️ 压缩指标记录
// =============================================================================

// RecordCompression 记录一次压缩。命中缓存时不累计节省量。
func (c *Collector) RecordCompression(strategy, source string, ratio float64, tokensSaved int) {
	c.compressionsTotal.WithLabelValues(strategy, source).Inc()
	if source == "cache" {
		return
	}
	c.compressionRatio.WithLabelValues(strategy).Observe(ratio)
	if tokensSaved > 0 {
		c.tokensSaved.WithLabelValues(strategy).Add(float64(tokensSaved))
	}
}

// RecordToolCall 记录 MCP 工具调用
func (c *Collector) RecordToolCall(tool string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	c.toolCallsTotal.WithLabelValues(tool, status).Inc()
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
