package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/tokenbudget/api"
	"github.com/BaSui01/tokenbudget/llm/tokenizer"
	"github.com/BaSui01/tokenbudget/types"
)

// maxBatchTexts 单次批量计数的文本数上限
const maxBatchTexts = 256

// TokenCounter 计数接口所需的能力，*tokenizer.Counter 满足它
type TokenCounter interface {
	Count(ctx context.Context, text, model string) types.TokenCount
	CountMessages(ctx context.Context, messages []types.Message, model string) types.TokenCount
	Limit(model string) int
	PercentageOfLimit(tokens int, model string) float64
	Recommend(tokens int, model string) tokenizer.Recommendation
}

// =============================================================================
// 🔢 Token 计数 Handler
// =============================================================================

// TokenHandler Token 计数处理器
type TokenHandler struct {
	counter      TokenCounter
	defaultModel string
	concurrency  int
	logger       *zap.Logger
}

// NewTokenHandler 创建计数处理器。请求未指定模型时使用 defaultModel。
func NewTokenHandler(counter TokenCounter, defaultModel string, logger *zap.Logger) *TokenHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenHandler{
		counter:      counter,
		defaultModel: defaultModel,
		concurrency:  8,
		logger:       logger.With(zap.String("component", "token_handler")),
	}
}

func (h *TokenHandler) model(m string) string {
	if m == "" {
		return h.defaultModel
	}
	return m
}

// HandleCount 处理单段文本或消息序列的计数
// @Summary Token 计数
// @Tags 计数
// @Accept json
// @Produce json
// @Param request body api.CountTokensRequest true "计数请求"
// @Success 200 {object} api.CountTokensResponse
// @Failure 400 {object} Response "无效请求"
// @Security ApiKeyAuth
// @Router /v1/tokens/count [post]
func (h *TokenHandler) HandleCount(w http.ResponseWriter, r *http.Request) {
	var req api.CountTokensRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}
	if err := validateMessages(req.Messages); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	model := h.model(req.Model)
	var count types.TokenCount
	if len(req.Messages) > 0 {
		count = h.counter.CountMessages(r.Context(), req.Messages, model)
	} else {
		count = h.counter.Count(r.Context(), req.Text, model)
	}

	WriteSuccess(w, api.CountTokensResponse{
		Tokens:       count.Tokens,
		Model:        count.Model,
		Family:       count.Family,
		MessageCount: len(req.Messages),
		Limit:        h.counter.Limit(model),
		Percentage:   h.counter.PercentageOfLimit(count.Tokens, model),
	})
}

// HandleCountBatch 并发计数多段文本，结果顺序与请求一致
// @Summary 批量 Token 计数
// @Tags 计数
// @Accept json
// @Produce json
// @Param request body api.BatchCountRequest true "批量计数请求"
// @Success 200 {object} api.BatchCountResponse
// @Security ApiKeyAuth
// @Router /v1/tokens/count/batch [post]
func (h *TokenHandler) HandleCountBatch(w http.ResponseWriter, r *http.Request) {
	var req api.BatchCountRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}
	if len(req.Texts) > maxBatchTexts {
		WriteError(w, types.NewInvalidRequestError("too many texts in one batch"), h.logger)
		return
	}

	model := h.model(req.Model)
	counts := make([]types.TokenCount, len(req.Texts))

	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(h.concurrency)
	for i, text := range req.Texts {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			counts[i] = h.counter.Count(ctx, text, model)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		WriteError(w, types.NewError(types.ErrTimeout, "batch count cancelled").
			WithCause(err).WithHTTPStatus(http.StatusRequestTimeout), h.logger)
		return
	}

	total := 0
	for _, c := range counts {
		total += c.Tokens
	}
	WriteSuccess(w, api.BatchCountResponse{Counts: counts, TotalTokens: total})
}

// HandleRecommendation 根据 Token 数返回用量分级建议
// @Summary 用量建议
// @Tags 计数
// @Accept json
// @Produce json
// @Param request body api.RecommendationRequest true "建议请求"
// @Success 200 {object} api.RecommendationResponse
// @Security ApiKeyAuth
// @Router /v1/tokens/recommendation [post]
func (h *TokenHandler) HandleRecommendation(w http.ResponseWriter, r *http.Request) {
	var req api.RecommendationRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}
	if req.Tokens < 0 {
		WriteError(w, types.NewInvalidRequestError("tokens must not be negative"), h.logger)
		return
	}

	WriteSuccess(w, h.counter.Recommend(req.Tokens, h.model(req.Model)))
}
