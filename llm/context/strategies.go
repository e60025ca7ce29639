package context

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/BaSui01/tokenbudget/types"
)

// Strategy 压缩策略
type Strategy string

const (
	StrategySummarize       Strategy = "summarize"
	StrategyRemoveOld       Strategy = "remove_old"
	StrategyCompressSimilar Strategy = "compress_similar"
	StrategySmart           Strategy = "smart"
)

// Strategies lists every supported strategy.
var Strategies = []Strategy{StrategySmart, StrategySummarize, StrategyRemoveOld, StrategyCompressSimilar}

// ParseStrategy parses s. An empty string selects smart.
func ParseStrategy(s string) (Strategy, error) {
	if s == "" {
		return StrategySmart, nil
	}
	for _, st := range Strategies {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown compression strategy: %q", s)
}

const (
	// 话题词最短长度（字符数需大于该值）
	minTopicRunes = 5
	// 每条消息最多提取的话题数
	topicsPerMessage = 3
	// 摘要正文与关键话题的展示数量
	renderedTopics = 5
	keyTopics      = 3

	// 连续同角色消息超过该数量才合并
	similarRunThreshold = 2
	// 合并内容的最大字符数
	combinedContentLimit = 500
)

// TokenCounter is the counting contract the pipeline depends on.
type TokenCounter interface {
	Count(ctx context.Context, text, model string) types.TokenCount
	CountMessages(ctx context.Context, messages []types.Message, model string) types.TokenCount
}

// =============================================================================
// 📝 summarize
// =============================================================================

// extractTopics 从 user 消息中提取话题词：按空白切分，保留长度大于 5 的词，
// 每条消息取前 3 个，按首次出现顺序去重。
func extractTopics(msgs []types.Message) []string {
	seen := make(map[string]struct{})
	var topics []string
	for _, msg := range msgs {
		if msg.Role != types.RoleUser {
			continue
		}
		taken := 0
		for _, word := range strings.Fields(msg.Content) {
			if taken == topicsPerMessage {
				break
			}
			if utf8.RuneCountInString(word) <= minTopicRunes {
				continue
			}
			taken++
			if _, ok := seen[word]; ok {
				continue
			}
			seen[word] = struct{}{}
			topics = append(topics, word)
		}
	}
	return topics
}

// renderSummary 使用固定模板；没有话题时两个列表为空。
func renderSummary(n int, topics []string) string {
	return fmt.Sprintf("Summary of %d messages: Discussed %s. Key topics: %s",
		n,
		strings.Join(topics[:min(renderedTopics, len(topics))], ", "),
		strings.Join(topics[:min(keyTopics, len(topics))], ", "),
	)
}

func summaryMessage(msgs []types.Message) types.Message {
	return types.Message{
		Role:      types.RoleSystem,
		Content:   renderSummary(len(msgs), extractTopics(msgs)),
		IsSummary: true,
	}
}

// tail returns the last n messages; n <= 0 yields none.
func tail(msgs []types.Message, n int) []types.Message {
	if n <= 0 {
		return nil
	}
	if n >= len(msgs) {
		return msgs
	}
	return msgs[len(msgs)-n:]
}

// Summarize 将整段对话渲染为一条摘要系统消息，后接最近 preserveRecent 条原消息。
func Summarize(msgs []types.Message, preserveRecent int) []types.Message {
	out := make([]types.Message, 0, 1+max(preserveRecent, 0))
	out = append(out, summaryMessage(msgs))
	return append(out, tail(msgs, preserveRecent)...)
}

// =============================================================================
// ✂️ remove_old
// =============================================================================

// RemoveOld 摘要保留窗口之前的消息。len <= preserveRecent 时原样返回。
func RemoveOld(msgs []types.Message, preserveRecent int) []types.Message {
	if len(msgs) <= preserveRecent {
		return types.CloneMessages(msgs)
	}
	split := len(msgs) - max(preserveRecent, 0)

	out := make([]types.Message, 0, 1+len(msgs)-split)
	out = append(out, summaryMessage(msgs[:split]))
	return append(out, msgs[split:]...)
}

// =============================================================================
// 🔗 compress_similar
// =============================================================================

// CompressSimilar 将长度大于 2 的连续同角色消息合并为一条。
func CompressSimilar(msgs []types.Message) []types.Message {
	out := make([]types.Message, 0, len(msgs))
	for i := 0; i < len(msgs); {
		j := i + 1
		for j < len(msgs) && msgs[j].Role == msgs[i].Role {
			j++
		}

		run := msgs[i:j]
		if len(run) > similarRunThreshold {
			out = append(out, combine(run))
		} else {
			out = append(out, run...)
		}
		i = j
	}
	return out
}

func combine(run []types.Message) types.Message {
	parts := make([]string, len(run))
	for i, m := range run {
		parts[i] = m.Content
	}
	return types.Message{
		Role:         run[0].Role,
		Content:      fmt.Sprintf("[%d messages combined]\n%s", len(run), truncate(strings.Join(parts, "\n\n"), combinedContentLimit)),
		IsCompressed: true,
	}
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "..."
}

// =============================================================================
// 🧠 smart
// =============================================================================

// TargetTokens returns ceil(original * ratio).
func TargetTokens(original int, ratio float64) int {
	return int(math.Ceil(float64(original) * ratio))
}

// Smart 组合策略：
//  1. 消息数超过 2p 时先按 2p 窗口 remove_old；
//  2. 再 compress_similar；
//  3. 仍超过目标时，每轮把保留窗口收缩一条并重新 remove_old，
//     直到 Token 数不超过目标或消息数不超过 p。
//
// p <= 0 时不做保护，结果可能被收缩为空序列。
func Smart(ctx context.Context, counter TokenCounter, msgs []types.Message, ratio float64, preserveRecent int, model string) []types.Message {
	original := counter.CountMessages(ctx, msgs, model).Tokens
	target := TargetTokens(original, ratio)

	base := types.CloneMessages(msgs)
	if len(base) > 2*preserveRecent {
		base = RemoveOld(base, 2*preserveRecent)
	}
	base = CompressSimilar(base)

	result := base
	current := counter.CountMessages(ctx, result, model).Tokens
	for shrink := 1; current > target && len(result) > preserveRecent; shrink++ {
		window := len(base) - shrink
		if window < 0 {
			result = []types.Message{}
			break
		}
		result = RemoveOld(base, window)
		current = counter.CountMessages(ctx, result, model).Tokens
	}
	return result
}
