package handlers

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/tokenbudget/api"
	"github.com/BaSui01/tokenbudget/internal/store"
	llmcontext "github.com/BaSui01/tokenbudget/llm/context"
	"github.com/BaSui01/tokenbudget/types"
)

// maxListLimit 会话列表单页上限
const maxListLimit = 200

// ConversationStore 会话存储，*store.ConversationStore 满足它
type ConversationStore interface {
	CreateConversation(ctx context.Context, title, model string) (*store.Conversation, error)
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	ListConversations(ctx context.Context, limit, offset int) ([]store.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]types.Message, error)
	AppendMessages(ctx context.Context, conversationID string, msgs []types.Message) ([]types.Message, error)
	DeleteConversation(ctx context.Context, conversationID string) error
}

// BudgetEvaluator 计算消息序列的预算，*llmcontext.Budget 满足它
type BudgetEvaluator interface {
	Evaluate(ctx context.Context, msgs []types.Message, model string) *llmcontext.BudgetStatus
}

// ConversationResponse 会话详情
type ConversationResponse struct {
	*store.Conversation
	Messages []types.Message `json:"messages,omitempty"`
}

// =============================================================================
// 💬 会话 Handler
// =============================================================================

// ConversationHandler 会话管理处理器
type ConversationHandler struct {
	store        ConversationStore
	budget       BudgetEvaluator
	defaultModel string
	logger       *zap.Logger
}

// NewConversationHandler 创建会话处理器
func NewConversationHandler(s ConversationStore, budget BudgetEvaluator, defaultModel string, logger *zap.Logger) *ConversationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversationHandler{
		store:        s,
		budget:       budget,
		defaultModel: defaultModel,
		logger:       logger.With(zap.String("component", "conversation_handler")),
	}
}

// HandleCreate 创建会话，可附带初始消息
// @Summary 创建会话
// @Tags 会话
// @Accept json
// @Produce json
// @Param request body api.CreateConversationRequest true "创建请求"
// @Success 201 {object} ConversationResponse
// @Security ApiKeyAuth
// @Router /v1/conversations [post]
func (h *ConversationHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req api.CreateConversationRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}
	if err := validateMessages(req.Messages); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	model := req.Model
	if model == "" {
		model = h.defaultModel
	}

	conv, err := h.store.CreateConversation(r.Context(), req.Title, model)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}

	resp := ConversationResponse{Conversation: conv}
	if len(req.Messages) > 0 {
		stored, err := h.store.AppendMessages(r.Context(), conv.ID, req.Messages)
		if err != nil {
			WriteServiceError(w, err, h.logger)
			return
		}
		resp.Messages = stored
		conv.MessageCount = int64(len(stored))
	}

	h.logger.Info("conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("model", model),
		zap.Int("messages", len(resp.Messages)))

	WriteStatus(w, http.StatusCreated, resp)
}

// HandleList 分页列出会话
// @Summary 列出会话
// @Tags 会话
// @Produce json
// @Param limit query int false "每页数量" default(50)
// @Param offset query int false "偏移量" default(0)
// @Success 200 {array} store.Conversation
// @Security ApiKeyAuth
// @Router /v1/conversations [get]
func (h *ConversationHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	if limit <= 0 || limit > maxListLimit {
		WriteError(w, types.NewInvalidRequestError("limit must be between 1 and "+strconv.Itoa(maxListLimit)), h.logger)
		return
	}
	if offset < 0 {
		WriteError(w, types.NewInvalidRequestError("offset must not be negative"), h.logger)
		return
	}

	convs, serr := h.store.ListConversations(r.Context(), limit, offset)
	if serr != nil {
		WriteServiceError(w, serr, h.logger)
		return
	}
	if convs == nil {
		convs = []store.Conversation{}
	}
	WriteSuccess(w, convs)
}

// HandleGet 获取会话及其消息
// @Summary 获取会话
// @Tags 会话
// @Produce json
// @Param id path string true "会话 ID"
// @Success 200 {object} ConversationResponse
// @Failure 404 {object} Response "会话不存在"
// @Security ApiKeyAuth
// @Router /v1/conversations/{id} [get]
func (h *ConversationHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	conv, err := h.store.GetConversation(r.Context(), id)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	msgs, err := h.store.ListMessages(r.Context(), id)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}

	WriteSuccess(w, ConversationResponse{Conversation: conv, Messages: msgs})
}

// HandleListMessages 按顺序列出会话消息
// @Summary 列出会话消息
// @Tags 会话
// @Produce json
// @Param id path string true "会话 ID"
// @Success 200 {array} types.Message
// @Security ApiKeyAuth
// @Router /v1/conversations/{id}/messages [get]
func (h *ConversationHandler) HandleListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.store.ListMessages(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	if msgs == nil {
		msgs = []types.Message{}
	}
	WriteSuccess(w, msgs)
}

// HandleAppend 追加消息并返回追加后的预算
// @Summary 追加消息
// @Tags 会话
// @Accept json
// @Produce json
// @Param id path string true "会话 ID"
// @Param request body api.AppendMessagesRequest true "消息"
// @Success 200 {object} api.AppendMessagesResponse
// @Security ApiKeyAuth
// @Router /v1/conversations/{id}/messages [post]
func (h *ConversationHandler) HandleAppend(w http.ResponseWriter, r *http.Request) {
	var req api.AppendMessagesRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}
	if len(req.Messages) == 0 {
		WriteError(w, types.NewInvalidRequestError("messages is required"), h.logger)
		return
	}
	if err := validateMessages(req.Messages); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	id := r.PathValue("id")
	stored, err := h.store.AppendMessages(r.Context(), id, req.Messages)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}

	budget, err := h.status(r.Context(), id, "")
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}

	WriteSuccess(w, api.AppendMessagesResponse{Messages: stored, Budget: budget})
}

// HandleDelete 删除会话及其消息
// @Summary 删除会话
// @Tags 会话
// @Param id path string true "会话 ID"
// @Success 204 "已删除"
// @Security ApiKeyAuth
// @Router /v1/conversations/{id} [delete]
func (h *ConversationHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.store.DeleteConversation(r.Context(), id); err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	h.logger.Info("conversation deleted", zap.String("conversation_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// HandleBudget 返回会话当前的 Token 预算
// @Summary 会话预算
// @Tags 会话
// @Produce json
// @Param id path string true "会话 ID"
// @Param model query string false "按指定模型计算，默认使用会话模型"
// @Success 200 {object} llmcontext.BudgetStatus
// @Security ApiKeyAuth
// @Router /v1/conversations/{id}/budget [get]
func (h *ConversationHandler) HandleBudget(w http.ResponseWriter, r *http.Request) {
	st, err := h.status(r.Context(), r.PathValue("id"), r.URL.Query().Get("model"))
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, st)
}

// Status 计算会话预算。model 为空时依次使用会话模型和默认模型。
func (h *ConversationHandler) Status(ctx context.Context, conversationID, model string) (*llmcontext.BudgetStatus, error) {
	return h.status(ctx, conversationID, model)
}

func (h *ConversationHandler) status(ctx context.Context, conversationID, model string) (*llmcontext.BudgetStatus, error) {
	conv, err := h.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = conv.Model
	}
	if model == "" {
		model = h.defaultModel
	}

	msgs, err := h.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	st := h.budget.Evaluate(ctx, msgs, model)
	st.ConversationID = conversationID
	return st, nil
}

// queryInt 读取整数 query 参数
func queryInt(r *http.Request, name string, def int) (int, *types.Error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, types.NewInvalidRequestError(name + " must be an integer")
	}
	return v, nil
}
