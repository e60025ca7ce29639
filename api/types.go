package api

import (
	llmcontext "github.com/BaSui01/tokenbudget/llm/context"
	"github.com/BaSui01/tokenbudget/llm/tokenizer"
	"github.com/BaSui01/tokenbudget/types"
)

// =============================================================================
// Token 计数类型
// =============================================================================

// CountTokensRequest 计数请求。Text 与 Messages 二选一，Messages 优先。
// @Description Token 计数请求结构
type CountTokensRequest struct {
	// 单段文本
	Text string `json:"text,omitempty" example:"Hello, world"`
	// 消息序列（计入每条消息的固定开销）
	Messages []types.Message `json:"messages,omitempty"`
	// 模型名称，为空时使用服务默认模型
	Model string `json:"model,omitempty" example:"claude-sonnet-4"`
}

// CountTokensResponse 计数结果
// @Description Token 计数结果结构
type CountTokensResponse struct {
	Tokens       int          `json:"tokens" example:"4"`
	Model        string       `json:"model" example:"claude-sonnet-4"`
	Family       types.Family `json:"family" example:"primary"`
	MessageCount int          `json:"message_count,omitempty"`
	// 模型上下文上限
	Limit int `json:"limit" example:"200000"`
	// 占上限的百分比
	Percentage float64 `json:"percentage" example:"0.002"`
}

// BatchCountRequest 批量计数请求
// @Description 批量文本计数请求结构
type BatchCountRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model,omitempty"`
}

// BatchCountResponse 批量计数结果，顺序与请求一致
type BatchCountResponse struct {
	Counts      []types.TokenCount `json:"counts"`
	TotalTokens int                `json:"total_tokens"`
}

// RecommendationRequest 用量建议请求
// @Description 用量建议请求结构
type RecommendationRequest struct {
	Tokens int    `json:"tokens" example:"150000"`
	Model  string `json:"model,omitempty" example:"claude-sonnet-4"`
}

// RecommendationResponse 用量建议
type RecommendationResponse = tokenizer.Recommendation

// =============================================================================
// 压缩类型
// =============================================================================

// CompressRequest 压缩请求。TargetRatio/PreserveRecent 为空时使用服务默认值。
// @Description 上下文压缩请求结构
type CompressRequest struct {
	// 会话 ID；未提供 Messages 时从会话存储加载
	ConversationID string `json:"conversation_id,omitempty"`
	// 待压缩消息
	Messages []types.Message `json:"messages,omitempty"`
	// 策略：smart、summarize、remove_old、compress_similar
	Strategy string `json:"strategy,omitempty" example:"smart"`
	// 目标压缩比，取值 (0, 1)
	TargetRatio *float64 `json:"target_ratio,omitempty" example:"0.5"`
	// 保留最近消息数
	PreserveRecent *int `json:"preserve_recent,omitempty" example:"5"`
	// 模型名称
	Model string `json:"model,omitempty"`
	// 是否用结果替换会话中的消息（需要 conversation_id）
	Persist bool `json:"persist,omitempty"`
}

// =============================================================================
// 会话类型
// =============================================================================

// CreateConversationRequest 创建会话请求
// @Description 创建会话请求结构
type CreateConversationRequest struct {
	Title string `json:"title,omitempty" example:"design review"`
	Model string `json:"model,omitempty" example:"claude-sonnet-4"`
	// 初始消息（可选）
	Messages []types.Message `json:"messages,omitempty"`
}

// AppendMessagesRequest 追加消息请求
type AppendMessagesRequest struct {
	Messages []types.Message `json:"messages"`
}

// AppendMessagesResponse 追加结果，附带追加后的预算
type AppendMessagesResponse struct {
	Messages []types.Message          `json:"messages"`
	Budget   *llmcontext.BudgetStatus `json:"budget,omitempty"`
}

// =============================================================================
// 缓存类型
// =============================================================================

// CacheCleanResponse 过期条目清理结果
type CacheCleanResponse struct {
	Deleted int64 `json:"deleted"`
}

// =============================================================================
// WebSocket 预算推送
// =============================================================================

// BudgetSubscribe 客户端订阅消息
// @Description /ws/budget 订阅消息
type BudgetSubscribe struct {
	ConversationID string `json:"conversation_id"`
	Model          string `json:"model,omitempty"`
}

// BudgetEvent 服务端推送的预算事件。Type 为 "budget" 或 "error"。
type BudgetEvent struct {
	Type   string                   `json:"type"`
	Budget *llmcontext.BudgetStatus `json:"budget,omitempty"`
	Error  string                   `json:"error,omitempty"`
}
