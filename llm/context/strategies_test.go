package context

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/tokenbudget/llm/tokenizer"
	"github.com/BaSui01/tokenbudget/types"
)

const genericModel = "local-model"

func alternating(n, size int) []types.Message {
	msgs := make([]types.Message, n)
	for i := range msgs {
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleAssistant
		}
		msgs[i] = types.NewMessage(role, fmt.Sprintf("%03d %s", i, strings.Repeat("z", size)))
	}
	return msgs
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{"", StrategySmart, false},
		{"smart", StrategySmart, false},
		{"summarize", StrategySummarize, false},
		{"remove_old", StrategyRemoveOld, false},
		{"compress_similar", StrategyCompressSimilar, false},
		{"SMART", "", true},
		{"truncate", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStrategy(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractTopics(t *testing.T) {
	msgs := []types.Message{
		types.NewUserMessage("hello wonderful world of programming languages everywhere"),
		types.NewAssistantMessage("assistant mentions databases constantly"),
		types.NewUserMessage("programming puzzles tonight"),
		types.NewSystemMessage("systemic"),
	}

	got := extractTopics(msgs)
	// 每条最多 3 个，"hello" 长度为 5 不计入，重复词只保留首次
	assert.Equal(t, []string{"wonderful", "programming", "languages", "puzzles", "tonight"}, got)
}

func TestExtractTopics_CountsRunes(t *testing.T) {
	got := extractTopics([]types.Message{types.NewUserMessage("数据库连接池 缓存")})
	assert.Equal(t, []string{"数据库连接池"}, got)
}

func TestSummarize(t *testing.T) {
	msgs := []types.Message{
		types.NewUserMessage("wonderful programming"),
		types.NewAssistantMessage("anything else here"),
		types.NewUserMessage("ok"),
	}

	out := Summarize(msgs, 1)
	require.Len(t, out, 2)
	assert.Equal(t, types.RoleSystem, out[0].Role)
	assert.True(t, out[0].IsSummary)
	assert.Equal(t, "Summary of 3 messages: Discussed wonderful, programming. Key topics: wonderful, programming", out[0].Content)
	assert.Equal(t, msgs[2], out[1])
}

func TestSummarize_LimitsRenderedTopics(t *testing.T) {
	msgs := []types.Message{
		types.NewUserMessage("alpha111 bravo222 charlie3"),
		types.NewUserMessage("delta444 echo55555 foxtrot6"),
	}
	out := Summarize(msgs, 0)
	require.Len(t, out, 1)
	assert.Equal(t,
		"Summary of 2 messages: Discussed alpha111, bravo222, charlie3, delta444, echo55555. Key topics: alpha111, bravo222, charlie3",
		out[0].Content)
}

func TestSummarize_NoTopics(t *testing.T) {
	out := Summarize([]types.Message{types.NewAssistantMessage("elaborate explanation")}, 0)
	require.Len(t, out, 1)
	assert.Equal(t, "Summary of 1 messages: Discussed . Key topics: ", out[0].Content)
}

func TestRemoveOld(t *testing.T) {
	msgs := alternating(12, 10)

	out := RemoveOld(msgs, 5)
	require.Len(t, out, 6)
	assert.True(t, out[0].IsSummary)
	assert.Contains(t, out[0].Content, "Summary of 7 messages")
	assert.Equal(t, msgs[7:], out[1:])
}

func TestRemoveOld_ShortSequenceUnchanged(t *testing.T) {
	msgs := alternating(4, 10)

	out := RemoveOld(msgs, 4)
	assert.Equal(t, msgs, out)

	out[0].Content = "mutated"
	assert.NotEqual(t, "mutated", msgs[0].Content)
}

func TestRemoveOld_NonPositiveWindow(t *testing.T) {
	msgs := alternating(3, 10)

	out := RemoveOld(msgs, 0)
	require.Len(t, out, 1)
	assert.Contains(t, out[0].Content, "Summary of 3 messages")

	out = RemoveOld(msgs, -2)
	require.Len(t, out, 1)
}

func TestCompressSimilar(t *testing.T) {
	t.Run("alternating roles pass through", func(t *testing.T) {
		msgs := alternating(6, 10)
		assert.Equal(t, msgs, CompressSimilar(msgs))
	})

	t.Run("run of two passes through", func(t *testing.T) {
		msgs := []types.Message{
			types.NewUserMessage("a"),
			types.NewUserMessage("b"),
			types.NewAssistantMessage("c"),
		}
		assert.Equal(t, msgs, CompressSimilar(msgs))
	})

	t.Run("run of three collapses", func(t *testing.T) {
		msgs := []types.Message{
			types.NewSystemMessage("s"),
			types.NewUserMessage("a"),
			types.NewUserMessage("b"),
			types.NewUserMessage("c"),
			types.NewAssistantMessage("d"),
		}
		out := CompressSimilar(msgs)
		require.Len(t, out, 3)
		assert.Equal(t, types.RoleUser, out[1].Role)
		assert.True(t, out[1].IsCompressed)
		assert.Equal(t, "[3 messages combined]\na\n\nb\n\nc", out[1].Content)
	})

	t.Run("combined content truncated", func(t *testing.T) {
		long := strings.Repeat("x", 300)
		msgs := []types.Message{
			types.NewAssistantMessage(long),
			types.NewAssistantMessage(long),
			types.NewAssistantMessage(long),
		}
		out := CompressSimilar(msgs)
		require.Len(t, out, 1)
		// 截断作用于拼接后的文本，分隔的空行也计入 500 个字符
		want := strings.Repeat("x", 300) + "\n\n" + strings.Repeat("x", 198) + "..."
		assert.Equal(t, "[3 messages combined]\n"+want, out[0].Content)
	})
}

func TestTargetTokens(t *testing.T) {
	assert.Equal(t, 51, TargetTokens(101, 0.5))
	assert.Equal(t, 0, TargetTokens(0, 0.5))
	assert.Equal(t, 100, TargetTokens(100, 1))
	assert.Equal(t, 0, TargetTokens(100, 0))
}

func TestSmart_ReachesTarget(t *testing.T) {
	ctx := context.Background()
	counter := tokenizer.NewCounter()
	msgs := alternating(20, 300)

	original := counter.CountMessages(ctx, msgs, genericModel).Tokens
	target := TargetTokens(original, 0.3)

	out := Smart(ctx, counter, msgs, 0.3, 3, genericModel)
	got := counter.CountMessages(ctx, out, genericModel).Tokens

	assert.True(t, got <= target || len(out) <= 3, "tokens=%d target=%d len=%d", got, target, len(out))
	assert.Less(t, got, original)
	assert.True(t, out[0].IsSummary)
}

func TestSmart_StopsAtPreserveFloor(t *testing.T) {
	ctx := context.Background()
	counter := tokenizer.NewCounter()
	msgs := alternating(10, 400)

	// 目标为 0 时只能收缩到保留下限
	out := Smart(ctx, counter, msgs, 0, 2, genericModel)
	assert.LessOrEqual(t, len(out), 2)
}

func TestSmart_WithinTargetUntouched(t *testing.T) {
	ctx := context.Background()
	counter := tokenizer.NewCounter()
	msgs := alternating(4, 50)

	out := Smart(ctx, counter, msgs, 1, 5, genericModel)
	assert.Equal(t, msgs, out)
}

func TestSmart_NonPositivePreserve(t *testing.T) {
	ctx := context.Background()
	counter := tokenizer.NewCounter()

	out := Smart(ctx, counter, alternating(6, 100), 0, 0, genericModel)
	assert.Empty(t, out)

	out = Smart(ctx, counter, nil, 0.5, -1, genericModel)
	assert.Empty(t, out)
}
