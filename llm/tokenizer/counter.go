package tokenizer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/tokenbudget/types"
)

// 计数方式，用于指标标签。
const (
	MethodExact          = "exact"
	MethodEncoder        = "encoder"
	MethodEncoderDefault = "encoder_default"
	MethodHeuristic      = "heuristic"
)

// 每条消息与每个会话的固定开销。
const (
	primaryMessageOverhead   = 4
	secondaryMessageOverhead = 7
	secondaryReplyPriming    = 3
	genericMessageOverhead   = 4
)

// Observer receives one callback per counted text.
type Observer interface {
	ObserveTokenCount(family types.Family, method string, tokens int)
}

// Counter 是模型感知的 Token 计数器，进程启动时构造一次后注入各处。
type Counter struct {
	exact    ExactCounter
	encoder  Encoder
	limits   *Limits
	observer Observer
	logger   *zap.Logger
}

// Option configures a Counter.
type Option func(*Counter)

// WithExactCounter sets the primary-family counter. Without it primary
// models fall back to the heuristic.
func WithExactCounter(e ExactCounter) Option {
	return func(c *Counter) { c.exact = e }
}

// WithEncoder overrides the secondary-family encoder.
func WithEncoder(e Encoder) Option {
	return func(c *Counter) { c.encoder = e }
}

// WithLimits overrides the context-window table.
func WithLimits(l *Limits) Option {
	return func(c *Counter) { c.limits = l }
}

// WithObserver registers a metrics observer.
func WithObserver(o Observer) Option {
	return func(c *Counter) { c.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Counter) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCounter creates a Counter. The secondary encoder defaults to tiktoken.
func NewCounter(opts ...Option) *Counter {
	c := &Counter{
		encoder: NewTiktokenEncoder(),
		limits:  NewLimits(nil),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "token_counter"))
	return c
}

// Count returns the token count of text for model. It never fails.
func (c *Counter) Count(ctx context.Context, text, model string) types.TokenCount {
	family := types.DetectFamily(model)
	return types.TokenCount{
		Tokens: c.countText(ctx, family, text, model),
		Model:  model,
		Family: family,
	}
}

// CountTokens implements types.TokenCounter with the generic family.
func (c *Counter) CountTokens(text string) int {
	return EstimateTokens(text)
}

// CountMessages counts a message sequence including framing overhead.
func (c *Counter) CountMessages(ctx context.Context, messages []types.Message, model string) types.TokenCount {
	family := types.DetectFamily(model)

	total := 0
	for _, msg := range messages {
		total += c.countText(ctx, family, msg.Content, model) + messageOverhead(family)
	}
	if family == types.FamilySecondary {
		total += secondaryReplyPriming
	}

	return types.TokenCount{Tokens: total, Model: model, Family: family}
}

func messageOverhead(family types.Family) int {
	switch family {
	case types.FamilyPrimary:
		return primaryMessageOverhead
	case types.FamilySecondary:
		return secondaryMessageOverhead
	default:
		return genericMessageOverhead
	}
}

// Limit returns the context window for model.
func (c *Counter) Limit(model string) int {
	return c.limits.Lookup(model)
}

// PercentageOfLimit returns tokens / limit * 100.
func (c *Counter) PercentageOfLimit(tokens int, model string) float64 {
	return float64(tokens) / float64(c.Limit(model)) * 100
}

// Recommend returns the compression recommendation for tokens under model.
func (c *Counter) Recommend(tokens int, model string) Recommendation {
	rec := RecommendForPercentage(c.PercentageOfLimit(tokens, model))
	rec.Tokens = tokens
	rec.Limit = c.Limit(model)
	return rec
}

func (c *Counter) countText(ctx context.Context, family types.Family, text, model string) int {
	if text == "" {
		return 0
	}

	switch family {
	case types.FamilyPrimary:
		if c.exact != nil {
			n, err := guard(func() (int, error) { return c.exact.CountTokens(ctx, model, text) })
			if err == nil && n >= 0 {
				return c.observe(family, MethodExact, n)
			}
			c.logger.Debug("exact count failed, using heuristic",
				zap.String("model", model), zap.Error(err))
		}

	case types.FamilySecondary:
		if c.encoder != nil {
			encoding := EncodingForModel(model)
			n, err := guard(func() (int, error) { return c.encoder.Count(encoding, text) })
			if err == nil {
				return c.observe(family, MethodEncoder, n)
			}
			c.logger.Debug("encoding failed, retrying with default",
				zap.String("model", model), zap.String("encoding", encoding), zap.Error(err))

			n, err = guard(func() (int, error) { return c.encoder.Count(DefaultEncoding, text) })
			if err == nil {
				return c.observe(family, MethodEncoderDefault, n)
			}
			c.logger.Debug("default encoding failed, using heuristic",
				zap.String("model", model), zap.Error(err))
		}
	}

	return c.observe(family, MethodHeuristic, EstimateTokens(text))
}

func (c *Counter) observe(family types.Family, method string, tokens int) int {
	if c.observer != nil {
		c.observer.ObserveTokenCount(family, method, tokens)
	}
	return tokens
}

// guard 把外部计数器的 panic 转换为错误，保证计数路径不会中断调用方。
func guard(fn func() (int, error)) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("counter panic: %v", r)
		}
	}()
	return fn()
}
