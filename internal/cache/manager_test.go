package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/tokenbudget/llm/tokenizer"
	"github.com/BaSui01/tokenbudget/types"
)

// =============================================================================
// 🧪 Manager 测试
// =============================================================================

func setupManager(t *testing.T, store Store, maxSize int) (*Manager, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	m := NewManager(store, tokenizer.NewCounter(), Config{MaxSize: maxSize, DefaultTTL: time.Minute}, zap.NewNop(),
		WithClock(clock.Now))
	return m, clock
}

func TestManager_SetAndGet(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			m, clock := setupManager(t, factory(t), 0)

			require.NoError(t, m.Set(ctx, "greeting", "hello world", 10*time.Second))

			res := m.Get(ctx, "greeting")
			require.True(t, res.Hit)
			assert.JSONEq(t, `"hello world"`, string(res.Value))
			// "\"hello world\"" = 13 bytes
			assert.Equal(t, 4, res.TokensSaved)

			var s string
			_, err := m.GetJSON(ctx, "greeting", &s)
			require.NoError(t, err)
			assert.Equal(t, "hello world", s)

			clock.Advance(10 * time.Second)
			assert.False(t, m.Get(ctx, "greeting").Hit, "expiresAt == now is dead")

			_, err = m.GetJSON(ctx, "greeting", &s)
			assert.True(t, IsCacheMiss(err))
		})
	}
}

func TestManager_GetIncrementsHitCount(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t)
			m, clock := setupManager(t, store, 0)

			require.NoError(t, m.Set(ctx, "k", map[string]int{"n": 1}, time.Minute))

			for i := 1; i <= 3; i++ {
				clock.Advance(time.Second)
				res := m.Get(ctx, "k")
				require.True(t, res.Hit)
				assert.Equal(t, int64(i), res.HitCount)

				e, err := store.Find(ctx, "k", clock.Now().UnixMilli())
				require.NoError(t, err)
				assert.Equal(t, int64(i), e.HitCount)
				assert.Equal(t, clock.Now().UnixMilli(), e.LastAccessed)
			}
		})
	}
}

func TestManager_NonPositiveTTLIsDeadOnArrival(t *testing.T) {
	ctx := context.Background()
	store := setupGormStore(t)
	m, clock := setupManager(t, store, 0)

	require.NoError(t, m.Set(ctx, "k", 1, 0))
	assert.False(t, m.Get(ctx, "k").Hit)

	// 行已写入，只是 expiresAt == now
	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	removed, err := m.CleanExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	require.NoError(t, m.Set(ctx, "neg", 1, -time.Second))
	_, err = store.Find(ctx, "neg", clock.Now().UnixMilli()-time.Second.Milliseconds()-1)
	require.NoError(t, err, "expiresAt = now + ttl even for negative ttl")
	assert.False(t, m.Get(ctx, "neg").Hit)
}

func TestGetOrCompute_DefaultTTL(t *testing.T) {
	ctx := context.Background()
	store := setupGormStore(t)
	m, clock := setupManager(t, store, 0)

	_, err := GetOrCompute(ctx, m, "k", func(context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)

	e, err := store.Find(ctx, "k", 0)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().UnixMilli()+time.Minute.Milliseconds(), e.ExpiresAt)
}

func TestManager_InvalidateUnknownKeyLeavesNoRow(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t)
			m, _ := setupManager(t, store, 0)

			require.NoError(t, m.Invalidate(ctx, "never-set"))

			n, err := store.Count(ctx)
			require.NoError(t, err)
			assert.Zero(t, n)

			st, err := m.Stats(ctx)
			require.NoError(t, err)
			assert.Zero(t, st.TotalEntries)
			assert.False(t, m.Get(ctx, "never-set").Hit)
		})
	}
}

func TestManager_EvictsLeastRecentlyAccessed(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t)
			m, clock := setupManager(t, store, 2)

			require.NoError(t, m.Set(ctx, "a", "A", time.Hour))
			clock.Advance(time.Millisecond)
			require.NoError(t, m.Set(ctx, "b", "B", time.Hour))
			clock.Advance(time.Millisecond)
			require.True(t, m.Get(ctx, "a").Hit)
			clock.Advance(time.Millisecond)
			require.NoError(t, m.Set(ctx, "c", "C", time.Hour))

			assert.True(t, m.Get(ctx, "a").Hit)
			assert.False(t, m.Get(ctx, "b").Hit)
			assert.True(t, m.Get(ctx, "c").Hit)

			live, err := store.ListLive(ctx, clock.Now().UnixMilli())
			require.NoError(t, err)
			assert.Len(t, live, 2)

			// 被淘汰的行仍然在存储中
			n, err := store.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(3), n)
		})
	}
}

func TestManager_InvalidateIsSoft(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t)
			m, _ := setupManager(t, store, 0)

			require.NoError(t, m.Set(ctx, "k", "v", time.Hour))
			require.NoError(t, m.Set(ctx, "other", "v", time.Hour))
			require.NoError(t, m.Invalidate(ctx, "k"))

			assert.False(t, m.Get(ctx, "k").Hit)
			assert.True(t, m.Get(ctx, "other").Hit)

			n, err := store.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(2), n, "row survives until swept")

			removed, err := m.CleanExpired(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(1), removed)

			n, err = store.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)

			// 清扫是幂等的
			removed, err = m.CleanExpired(ctx)
			require.NoError(t, err)
			assert.Zero(t, removed)
		})
	}
}

func TestManager_Clear(t *testing.T) {
	ctx := context.Background()
	store := setupGormStore(t)
	m, _ := setupManager(t, store, 0)

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, m.Set(ctx, k, k, time.Hour))
	}
	require.NoError(t, m.Clear(ctx))

	for _, k := range []string{"a", "b", "c"} {
		assert.False(t, m.Get(ctx, k).Hit)
	}

	st, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.TotalEntries)
	assert.Equal(t, int64(0), st.LiveEntries)
	assert.Equal(t, int64(3), st.ExpiredEntries)
}

func TestManager_CorruptPayloadIsMiss(t *testing.T) {
	ctx := context.Background()
	store := setupGormStore(t)
	m, clock := setupManager(t, store, 0)

	now := clock.Now().UnixMilli()
	require.NoError(t, store.Upsert(ctx, &Entry{Key: "bad", Value: "{not json", LastAccessed: now, ExpiresAt: now + 1000}))

	assert.False(t, m.Get(ctx, "bad").Hit)

	e, err := store.Find(ctx, "bad", now)
	require.NoError(t, err)
	assert.Zero(t, e.HitCount)

	// 类型不兼容同样按未命中处理
	require.NoError(t, m.Set(ctx, "num", 42, time.Minute))
	var s string
	_, err = m.GetJSON(ctx, "num", &s)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestManager_StorageErrors(t *testing.T) {
	ctx := context.Background()
	m := NewManager(failingStore{err: errStoreDown}, nil, Config{}, nil)

	res := m.Get(ctx, "k")
	assert.False(t, res.Hit, "read errors become misses")

	err := m.Set(ctx, "k", "v", time.Minute)
	require.Error(t, err)
	assert.ErrorIs(t, err, errStoreDown)

	assert.ErrorIs(t, m.Invalidate(ctx, "k"), errStoreDown)
	assert.ErrorIs(t, m.Clear(ctx), errStoreDown)
	_, err = m.CleanExpired(ctx)
	assert.ErrorIs(t, err, errStoreDown)
	_, err = m.Stats(ctx)
	assert.ErrorIs(t, err, errStoreDown)
}

type modelCounter struct{ models []string }

func (c *modelCounter) Count(_ context.Context, text, model string) types.TokenCount {
	c.models = append(c.models, model)
	return types.TokenCount{Tokens: len(text), Model: model, Family: types.DetectFamily(model)}
}

func TestManager_TokensSavedUsesRequestedModel(t *testing.T) {
	ctx := context.Background()
	counter := &modelCounter{}
	m := NewManager(setupGormStore(t), counter, Config{}, zap.NewNop())

	require.NoError(t, m.Set(ctx, "a", "xyz", time.Minute))
	require.NoError(t, m.Set(ctx, "b", "xyz", time.Minute, WithModel("gpt-4o")))

	assert.Equal(t, []string{"", "gpt-4o"}, counter.models)
	assert.Equal(t, 5, m.Get(ctx, "a").TokensSaved)
}

func TestGetOrCompute(t *testing.T) {
	ctx := context.Background()
	m, _ := setupManager(t, setupGormStore(t), 0)

	type payload struct {
		N    int    `json:"n"`
		Text string `json:"text"`
	}

	calls := 0
	fn := func(context.Context) (payload, error) {
		calls++
		return payload{N: 7, Text: "computed"}, nil
	}

	first, err := GetOrCompute(ctx, m, "p", fn, WithTTL(time.Minute))
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, payload{N: 7, Text: "computed"}, first.Value)

	second, err := GetOrCompute(ctx, m, "p", fn)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Value, second.Value)
	assert.Positive(t, second.TokensSaved)
	assert.Equal(t, 1, calls)

	_, err = GetOrCompute(ctx, m, "err", func(context.Context) (payload, error) {
		return payload{}, errors.New("compute failed")
	})
	require.Error(t, err)
	assert.False(t, m.Get(ctx, "err").Hit)
}

func TestGetOrCompute_DeduplicatesConcurrentMisses(t *testing.T) {
	ctx := context.Background()
	m, _ := setupManager(t, setupGormStore(t), 0)

	var calls atomic.Int32
	release := make(chan struct{})
	fn := func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 99, nil
	}

	var wg sync.WaitGroup
	results := make([]int, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := GetOrCompute(ctx, m, "slow", fn)
			if err == nil {
				results[i] = r.Value
			}
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, v := range results {
		assert.Equal(t, 99, v)
	}
	assert.LessOrEqual(t, calls.Load(), int32(4))
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
}

func TestManager_Stats(t *testing.T) {
	ctx := context.Background()
	m, _ := setupManager(t, setupGormStore(t), 5)

	require.NoError(t, m.Set(ctx, "a", "aaaa", time.Minute))
	m.Get(ctx, "a")
	m.Get(ctx, "a")
	m.Get(ctx, "missing")

	st, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.LiveEntries)
	assert.Equal(t, int64(2), st.TotalHits)
	assert.Equal(t, int64(2), st.ProcessHits)
	assert.Equal(t, int64(1), st.ProcessMisses)
	assert.Equal(t, 5, st.MaxSize)
	// "\"aaaa\"" = 6 bytes = 2 tokens, 2 hits
	assert.Equal(t, int64(4), st.TotalTokensSaved)
}
