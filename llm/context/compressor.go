package context

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/tokenbudget/internal/cache"
	llmcache "github.com/BaSui01/tokenbudget/llm/cache"
	"github.com/BaSui01/tokenbudget/llm/observability"
	"github.com/BaSui01/tokenbudget/types"
)

// ResultTTL 压缩结果的缓存时长
const ResultTTL = 30 * time.Minute

// Request 压缩请求。参数不做裁剪，由外层校验。
type Request struct {
	ConversationID string          `json:"conversation_id,omitempty"`
	Messages       []types.Message `json:"messages,omitempty"`
	Strategy       string          `json:"strategy,omitempty"`
	TargetRatio    float64         `json:"target_ratio"`
	PreserveRecent int             `json:"preserve_recent"`
	Model          string          `json:"model,omitempty"`
}

// Result 压缩结果，返回后不可变。
type Result struct {
	OriginalTokens         int             `json:"original_tokens"`
	CompressedTokens       int             `json:"compressed_tokens"`
	TokensSaved            int             `json:"tokens_saved"`
	CompressionRatio       float64         `json:"compression_ratio"`
	OriginalMessageCount   int             `json:"original_message_count"`
	CompressedMessageCount int             `json:"compressed_message_count"`
	Strategy               Strategy        `json:"strategy"`
	TargetTokens           int             `json:"target_tokens"`
	Messages               []types.Message `json:"compressed_messages"`
	FromCache              bool            `json:"from_cache"`
}

// MessageSource 提供会话消息。压缩流水线只读不写。
type MessageSource interface {
	ListMessages(ctx context.Context, conversationID string) ([]types.Message, error)
}

// Recorder 记录压缩运行情况
type Recorder interface {
	RecordCompression(strategy, source string, ratio float64, tokensSaved int)
}

// Compressor 压缩流水线的顶层入口
type Compressor struct {
	counter  TokenCounter
	cache    *cache.Manager
	source   MessageSource
	recorder Recorder
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// CompressorOption 配置 Compressor
type CompressorOption func(*Compressor)

// WithCache 启用结果缓存
func WithCache(m *cache.Manager) CompressorOption {
	return func(c *Compressor) { c.cache = m }
}

// WithMessageSource 请求未携带消息时按会话 ID 加载
func WithMessageSource(s MessageSource) CompressorOption {
	return func(c *Compressor) { c.source = s }
}

// WithRecorder 设置指标记录器
func WithRecorder(r Recorder) CompressorOption {
	return func(c *Compressor) { c.recorder = r }
}

// WithMetrics 设置 OTel 埋点
func WithMetrics(m *observability.Metrics) CompressorOption {
	return func(c *Compressor) { c.metrics = m }
}

// NewCompressor 创建压缩器
func NewCompressor(counter TokenCounter, logger *zap.Logger, opts ...CompressorOption) *Compressor {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Compressor{
		counter: counter,
		logger:  logger.With(zap.String("component", "compressor")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compress 执行压缩。启用缓存时先按 (会话, 策略, 压缩比) 查找，命中则原样
// 返回并标记 FromCache。缓存写入失败会返回错误。
func (c *Compressor) Compress(ctx context.Context, req Request) (result *Result, err error) {
	strategy, err := ParseStrategy(req.Strategy)
	if err != nil {
		return nil, types.NewInvalidRequestError(err.Error())
	}

	msgs, err := c.resolveMessages(ctx, req)
	if err != nil {
		return nil, err
	}

	if c.metrics != nil {
		attrs := observability.CompressionAttrs{
			ConversationID: req.ConversationID,
			Strategy:       string(strategy),
			Model:          req.Model,
			TargetRatio:    req.TargetRatio,
			PreserveRecent: req.PreserveRecent,
			MessageCount:   len(msgs),
		}
		start := time.Now()
		spanCtx, span := c.metrics.StartCompression(ctx, attrs)
		ctx = spanCtx
		defer func() {
			out := observability.CompressionOutcome{Duration: time.Since(start), Err: err}
			if result != nil {
				out.OriginalTokens = result.OriginalTokens
				out.CompressedTokens = result.CompressedTokens
				out.Ratio = result.CompressionRatio
				out.FromCache = result.FromCache
			}
			c.metrics.EndCompression(ctx, span, attrs, out)
		}()
	}

	compute := func(ctx context.Context) (Result, error) {
		return c.run(ctx, msgs, strategy, req), nil
	}

	if c.cache == nil {
		res, _ := compute(ctx)
		c.record(&res)
		return &res, nil
	}

	id := req.ConversationID
	if id == "" {
		id = llmcache.MessagesKey(req.Model, msgs)
	}
	key := llmcache.CompressionKey(id, string(strategy), req.TargetRatio)

	cr, err := cache.GetOrCompute(ctx, c.cache, key, compute,
		cache.WithTTL(ResultTTL), cache.WithModel(req.Model))
	if err != nil {
		c.logger.Error("compression cache write failed",
			zap.String("key", key), zap.Error(err))
		return nil, types.NewError(types.ErrCompressionFailed, "failed to cache compression result").
			WithCause(err).WithHTTPStatus(500)
	}

	res := cr.Value
	res.FromCache = cr.FromCache
	c.record(&res)
	return &res, nil
}

func (c *Compressor) resolveMessages(ctx context.Context, req Request) ([]types.Message, error) {
	if len(req.Messages) > 0 || req.ConversationID == "" || c.source == nil {
		return req.Messages, nil
	}
	msgs, err := c.source.ListMessages(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// run 执行策略并计算派生字段。预览消息的 Token 数按其当前内容重新计算。
func (c *Compressor) run(ctx context.Context, msgs []types.Message, strategy Strategy, req Request) Result {
	original := c.counter.CountMessages(ctx, msgs, req.Model).Tokens

	var compressed []types.Message
	switch strategy {
	case StrategySummarize:
		compressed = Summarize(msgs, req.PreserveRecent)
	case StrategyRemoveOld:
		compressed = RemoveOld(msgs, req.PreserveRecent)
	case StrategyCompressSimilar:
		compressed = CompressSimilar(msgs)
	default:
		compressed = Smart(ctx, c.counter, msgs, req.TargetRatio, req.PreserveRecent, req.Model)
	}

	preview := types.CloneMessages(compressed)
	for i := range preview {
		preview[i].Tokens = c.counter.Count(ctx, preview[i].Content, req.Model).Tokens
	}
	compressedTokens := c.counter.CountMessages(ctx, preview, req.Model).Tokens

	ratio := 0.0
	if original > 0 {
		ratio = float64(compressedTokens) / float64(original)
	}

	c.logger.Debug("compression completed",
		zap.String("strategy", string(strategy)),
		zap.Int("original_tokens", original),
		zap.Int("compressed_tokens", compressedTokens),
		zap.Int("original_messages", len(msgs)),
		zap.Int("compressed_messages", len(preview)))

	return Result{
		OriginalTokens:         original,
		CompressedTokens:       compressedTokens,
		TokensSaved:            original - compressedTokens,
		CompressionRatio:       ratio,
		OriginalMessageCount:   len(msgs),
		CompressedMessageCount: len(preview),
		Strategy:               strategy,
		TargetTokens:           TargetTokens(original, req.TargetRatio),
		Messages:               preview,
	}
}

func (c *Compressor) record(res *Result) {
	if c.recorder == nil {
		return
	}
	source := "computed"
	if res.FromCache {
		source = "cache"
	}
	c.recorder.RecordCompression(string(res.Strategy), source, res.CompressionRatio, res.TokensSaved)
}
