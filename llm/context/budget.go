package context

import (
	"context"

	"github.com/BaSui01/tokenbudget/llm/tokenizer"
	"github.com/BaSui01/tokenbudget/types"
)

// BudgetCounter 预算计算依赖的计数能力
type BudgetCounter interface {
	CountMessages(ctx context.Context, messages []types.Message, model string) types.TokenCount
	Recommend(tokens int, model string) tokenizer.Recommendation
}

// BudgetStatus 会话的 Token 预算快照
type BudgetStatus struct {
	ConversationID string                   `json:"conversation_id"`
	Model          string                   `json:"model"`
	MessageCount   int                      `json:"message_count"`
	Tokens         int                      `json:"tokens"`
	Limit          int                      `json:"limit"`
	Remaining      int                      `json:"remaining"`
	Percentage     float64                  `json:"percentage"`
	Family         types.Family             `json:"family"`
	Recommendation tokenizer.Recommendation `json:"recommendation"`
}

// Budget 追踪会话的 Token 用量
type Budget struct {
	source  MessageSource
	counter BudgetCounter
}

// NewBudget 创建预算追踪器
func NewBudget(source MessageSource, counter BudgetCounter) *Budget {
	return &Budget{source: source, counter: counter}
}

// Status 加载会话消息并计算当前用量。
func (b *Budget) Status(ctx context.Context, conversationID, model string) (*BudgetStatus, error) {
	msgs, err := b.source.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	st := b.Evaluate(ctx, msgs, model)
	st.ConversationID = conversationID
	return st, nil
}

// Evaluate 计算给定消息序列的用量。
func (b *Budget) Evaluate(ctx context.Context, msgs []types.Message, model string) *BudgetStatus {
	count := b.counter.CountMessages(ctx, msgs, model)
	rec := b.counter.Recommend(count.Tokens, model)

	return &BudgetStatus{
		Model:          model,
		MessageCount:   len(msgs),
		Tokens:         count.Tokens,
		Limit:          rec.Limit,
		Remaining:      max(rec.Limit-count.Tokens, 0),
		Percentage:     rec.Percentage,
		Family:         count.Family,
		Recommendation: rec,
	}
}
