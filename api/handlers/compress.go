package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/tokenbudget/api"
	"github.com/BaSui01/tokenbudget/config"
	llmcontext "github.com/BaSui01/tokenbudget/llm/context"
	"github.com/BaSui01/tokenbudget/types"
)

// Compressor 压缩流水线，*llmcontext.Compressor 满足它
type Compressor interface {
	Compress(ctx context.Context, req llmcontext.Request) (*llmcontext.Result, error)
}

// MessageReplacer 持久化压缩结果
type MessageReplacer interface {
	ReplaceMessages(ctx context.Context, conversationID string, msgs []types.Message) error
}

// =============================================================================
// 🗜️ 压缩 Handler
// =============================================================================

// CompressHandler 上下文压缩处理器
type CompressHandler struct {
	compressor   Compressor
	replacer     MessageReplacer
	defaults     config.CompressionConfig
	defaultModel string
	logger       *zap.Logger
}

// NewCompressHandler 创建压缩处理器。replacer 为 nil 时不支持 persist。
func NewCompressHandler(compressor Compressor, replacer MessageReplacer, defaults config.CompressionConfig, defaultModel string, logger *zap.Logger) *CompressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CompressHandler{
		compressor:   compressor,
		replacer:     replacer,
		defaults:     defaults,
		defaultModel: defaultModel,
		logger:       logger.With(zap.String("component", "compress_handler")),
	}
}

// HandleCompress 压缩消息序列或已存储的会话
// @Summary 压缩上下文
// @Tags 压缩
// @Accept json
// @Produce json
// @Param request body api.CompressRequest true "压缩请求"
// @Success 200 {object} llmcontext.Result
// @Failure 400 {object} Response "无效请求"
// @Failure 404 {object} Response "会话不存在"
// @Security ApiKeyAuth
// @Router /v1/compress [post]
func (h *CompressHandler) HandleCompress(w http.ResponseWriter, r *http.Request) {
	var body api.CompressRequest
	if !decodeJSON(w, r, &body, h.logger) {
		return
	}

	req, verr := h.buildRequest(body)
	if verr != nil {
		WriteError(w, verr, h.logger)
		return
	}

	result, err := h.compressor.Compress(r.Context(), req)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}

	if body.Persist {
		if err := h.replacer.ReplaceMessages(r.Context(), body.ConversationID, result.Messages); err != nil {
			WriteServiceError(w, err, h.logger)
			return
		}
		h.logger.Info("compressed conversation persisted",
			zap.String("conversation_id", body.ConversationID),
			zap.Int("messages", len(result.Messages)),
			zap.Int("tokens_saved", result.TokensSaved))
	}

	WriteSuccess(w, result)
}

// buildRequest 校验参数并补齐默认值
func (h *CompressHandler) buildRequest(body api.CompressRequest) (llmcontext.Request, *types.Error) {
	if len(body.Messages) == 0 && body.ConversationID == "" {
		return llmcontext.Request{}, types.NewInvalidRequestError("messages or conversation_id is required")
	}
	if err := validateMessages(body.Messages); err != nil {
		return llmcontext.Request{}, err
	}
	if body.Persist {
		if body.ConversationID == "" {
			return llmcontext.Request{}, types.NewInvalidRequestError("persist requires conversation_id")
		}
		if h.replacer == nil {
			return llmcontext.Request{}, types.NewInvalidRequestError("persist is not supported without a conversation store")
		}
	}

	strategy := body.Strategy
	if strategy == "" {
		strategy = h.defaults.DefaultStrategy
	}
	if _, err := llmcontext.ParseStrategy(strategy); err != nil {
		return llmcontext.Request{}, types.NewInvalidRequestError(err.Error())
	}

	ratio := h.defaults.TargetRatio
	if body.TargetRatio != nil {
		ratio = *body.TargetRatio
	}
	if ratio <= 0 || ratio >= 1 {
		return llmcontext.Request{}, types.NewInvalidRequestError("target_ratio must be between 0 and 1 (exclusive)")
	}

	preserve := h.defaults.PreserveRecent
	if body.PreserveRecent != nil {
		preserve = *body.PreserveRecent
	}
	if preserve < 0 {
		return llmcontext.Request{}, types.NewInvalidRequestError("preserve_recent must not be negative")
	}

	model := body.Model
	if model == "" {
		model = h.defaultModel
	}

	return llmcontext.Request{
		ConversationID: body.ConversationID,
		Messages:       body.Messages,
		Strategy:       strategy,
		TargetRatio:    ratio,
		PreserveRecent: preserve,
		Model:          model,
	}, nil
}
