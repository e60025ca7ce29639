package tokenizer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/tokenbudget/types"
)

type fakeExact struct {
	n     int
	err   error
	calls int
}

func (f *fakeExact) CountTokens(_ context.Context, _, text string) (int, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return f.n, nil
}

// fakeEncoder 按编码名返回固定结果，记录调用顺序。
type fakeEncoder struct {
	results map[string]int
	panicOn string
	calls   []string
}

func (f *fakeEncoder) Count(encoding, text string) (int, error) {
	f.calls = append(f.calls, encoding)
	if encoding == f.panicOn {
		panic("boom")
	}
	n, ok := f.results[encoding]
	if !ok {
		return 0, errors.New("no such encoding")
	}
	return n, nil
}

type recordingObserver struct {
	mu      sync.Mutex
	methods []string
}

func (r *recordingObserver) ObserveTokenCount(_ types.Family, method string, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.methods = append(r.methods, method)
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 400), 100},
		{"你好", 2}, // 6 bytes
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EstimateTokens(tt.text), "text=%q", tt.text)
	}
}

func TestCounter_Primary(t *testing.T) {
	ctx := context.Background()

	t.Run("exact", func(t *testing.T) {
		exact := &fakeExact{n: 7}
		obs := &recordingObserver{}
		c := NewCounter(WithExactCounter(exact), WithObserver(obs))

		got := c.Count(ctx, "hello there", "claude-3-5-sonnet")
		assert.Equal(t, types.TokenCount{Tokens: 7, Model: "claude-3-5-sonnet", Family: types.FamilyPrimary}, got)
		assert.Equal(t, []string{MethodExact}, obs.methods)
	})

	t.Run("fallback on error", func(t *testing.T) {
		exact := &fakeExact{err: errors.New("401")}
		c := NewCounter(WithExactCounter(exact))

		got := c.Count(ctx, "hello there", "claude-3-opus")
		assert.Equal(t, 3, got.Tokens)
		assert.Equal(t, 1, exact.calls)
	})

	t.Run("no exact counter configured", func(t *testing.T) {
		c := NewCounter()
		assert.Equal(t, 3, c.Count(ctx, "hello there", "anthropic-default").Tokens)
	})

	t.Run("empty text skips the external call", func(t *testing.T) {
		exact := &fakeExact{n: 99}
		c := NewCounter(WithExactCounter(exact))
		assert.Equal(t, 0, c.Count(ctx, "", "claude").Tokens)
		assert.Zero(t, exact.calls)
	})
}

func TestCounter_SecondaryFallbackChain(t *testing.T) {
	ctx := context.Background()

	t.Run("model encoding", func(t *testing.T) {
		enc := &fakeEncoder{results: map[string]int{"o200k_base": 5}}
		c := NewCounter(WithEncoder(enc))

		got := c.Count(ctx, "some text here", "gpt-4o-mini")
		assert.Equal(t, 5, got.Tokens)
		assert.Equal(t, types.FamilySecondary, got.Family)
		assert.Equal(t, []string{"o200k_base"}, enc.calls)
	})

	t.Run("retry with default encoding", func(t *testing.T) {
		enc := &fakeEncoder{results: map[string]int{DefaultEncoding: 6}}
		obs := &recordingObserver{}
		c := NewCounter(WithEncoder(enc), WithObserver(obs))

		got := c.Count(ctx, "some text here", "gpt-4o")
		assert.Equal(t, 6, got.Tokens)
		assert.Equal(t, []string{"o200k_base", DefaultEncoding}, enc.calls)
		assert.Equal(t, []string{MethodEncoderDefault}, obs.methods)
	})

	t.Run("heuristic after both fail", func(t *testing.T) {
		enc := &fakeEncoder{results: map[string]int{}}
		c := NewCounter(WithEncoder(enc))

		got := c.Count(ctx, "some text here", "gpt-4")
		assert.Equal(t, EstimateTokens("some text here"), got.Tokens)
		assert.Len(t, enc.calls, 2)
	})

	t.Run("panicking encoder degrades", func(t *testing.T) {
		enc := &fakeEncoder{results: map[string]int{DefaultEncoding: 4}, panicOn: "o200k_base"}
		c := NewCounter(WithEncoder(enc))

		require.NotPanics(t, func() {
			assert.Equal(t, 4, c.Count(ctx, "abc", "gpt-4o").Tokens)
		})
	})
}

func TestCounter_GenericNeverCallsExternal(t *testing.T) {
	exact := &fakeExact{n: 1000}
	enc := &fakeEncoder{results: map[string]int{DefaultEncoding: 1000}}
	c := NewCounter(WithExactCounter(exact), WithEncoder(enc))

	got := c.Count(context.Background(), "twelve chars", "llama-3")
	assert.Equal(t, 3, got.Tokens)
	assert.Equal(t, types.FamilyGeneric, got.Family)
	assert.Zero(t, exact.calls)
	assert.Empty(t, enc.calls)
}

func TestCounter_CountMessagesOverhead(t *testing.T) {
	ctx := context.Background()
	msgs := []types.Message{
		types.NewUserMessage("abcdefgh"),  // 2 heuristic tokens
		types.NewAssistantMessage("abcd"), // 1
		types.NewSystemMessage(""),        // 0
	}

	enc := &fakeEncoder{results: map[string]int{}}
	c := NewCounter(WithEncoder(enc))

	tests := []struct {
		model string
		want  int
	}{
		{"claude-3-haiku", 3 + 3*4},
		{"gpt-3.5-turbo", 3 + 3*7 + 3},
		{"mistral-large", 3 + 3*4},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, c.CountMessages(ctx, msgs, tt.model).Tokens)
		})
	}

	t.Run("empty sequence", func(t *testing.T) {
		assert.Equal(t, 0, c.CountMessages(ctx, nil, "claude").Tokens)
		assert.Equal(t, 3, c.CountMessages(ctx, nil, "gpt-4o").Tokens)
		assert.Equal(t, 0, c.CountMessages(ctx, nil, "").Tokens)
	})
}

func TestCounter_LimitsAndPercentage(t *testing.T) {
	c := NewCounter()

	tests := []struct {
		model string
		limit int
	}{
		{"claude-3-5-sonnet-20241022", 200000},
		{"anthropic.claude-v2", 200000},
		{"gpt-4o", 128000},
		{"gpt-4o-mini", 128000},
		{"gpt-4-turbo-preview", 128000},
		{"gpt-4-32k-0613", 32768},
		{"gpt-4", 32768},
		{"gpt-3.5-turbo-0125", 16385},
		{"openai/gpt-4o", 128000},
		{"llama-3", DefaultLimit},
		{"", DefaultLimit},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.limit, c.Limit(tt.model), "model=%s", tt.model)
	}

	assert.InDelta(t, 50.0, c.PercentageOfLimit(100000, "claude-3"), 1e-9)
	assert.InDelta(t, 25.0, c.PercentageOfLimit(25000, "unknown"), 1e-9)

	custom := NewCounter(WithLimits(NewLimits(map[string]int{"llama-3": 8192})))
	assert.Equal(t, 8192, custom.Limit("llama-3-8b"))
}

func TestRecommendationBands(t *testing.T) {
	tests := []struct {
		pct      float64
		status   Status
		urgent   bool
		compress bool
	}{
		{0, StatusSafe, false, false},
		{49.999, StatusSafe, false, false},
		{50.0, StatusWarning, false, true},
		{74.999, StatusWarning, false, true},
		{75.0, StatusCritical, false, true},
		{89.999, StatusCritical, false, true},
		{90.0, StatusCritical, true, true},
		{250, StatusCritical, true, true},
	}
	for _, tt := range tests {
		rec := RecommendForPercentage(tt.pct)
		assert.Equal(t, tt.status, rec.Status, "pct=%v", tt.pct)
		assert.Equal(t, tt.urgent, rec.Urgent, "pct=%v", tt.pct)
		assert.Equal(t, tt.compress, rec.ShouldCompress, "pct=%v", tt.pct)
		assert.NotEmpty(t, rec.Action)
	}
}

func TestCounter_RecommendAtTokenBoundaries(t *testing.T) {
	c := NewCounter()
	model := "unknown-model" // limit 100000

	assert.Equal(t, StatusSafe, c.Recommend(49999, model).Status)
	assert.Equal(t, StatusWarning, c.Recommend(50000, model).Status)
	assert.Equal(t, StatusWarning, c.Recommend(74999, model).Status)
	assert.Equal(t, StatusCritical, c.Recommend(75000, model).Status)
	assert.False(t, c.Recommend(89999, model).Urgent)

	rec := c.Recommend(90000, model)
	assert.True(t, rec.Urgent)
	assert.Equal(t, 90000, rec.Tokens)
	assert.Equal(t, 100000, rec.Limit)
}
