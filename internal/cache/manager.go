package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/tokenbudget/llm/tokenizer"
	"github.com/BaSui01/tokenbudget/types"
)

// =============================================================================
// 💾 缓存管理器
// =============================================================================

// Config 缓存配置
type Config struct {
	// 存储后端：sql 或 redis
	Backend string `yaml:"backend" env:"BACKEND" json:"backend"`

	// 存活条目上限，<= 0 表示不限制
	MaxSize int `yaml:"max_size" env:"MAX_SIZE" json:"max_size"`

	// 默认过期时间
	DefaultTTL time.Duration `yaml:"default_ttl" env:"DEFAULT_TTL" json:"default_ttl"`

	// 启动时清扫一次失效行
	CleanOnStart bool `yaml:"clean_on_start" env:"CLEAN_ON_START" json:"clean_on_start"`
}

// DefaultConfig 返回默认缓存配置
func DefaultConfig() Config {
	return Config{
		Backend:    "sql",
		MaxSize:    1000,
		DefaultTTL: time.Hour,
	}
}

// TokenCounter computes tokensSaved on writes.
type TokenCounter interface {
	Count(ctx context.Context, text, model string) types.TokenCount
}

// Recorder receives cache metrics.
type Recorder interface {
	RecordCacheOperation(operation, result string)
	RecordCacheEviction(count int)
}

// Manager 缓存管理器。hitCount/lastAccessed 的读改写没有进程内锁，
// 并发 Get 同一键时计数可能丢失；淘汰与并发 Set 也不做事务隔离。
type Manager struct {
	store    Store
	counter  TokenCounter
	config   Config
	logger   *zap.Logger
	recorder Recorder
	now      func() time.Time
	group    singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithRecorder registers a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// NewManager 创建缓存管理器
func NewManager(store Store, counter TokenCounter, config Config, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if counter == nil {
		counter = tokenizer.NewCounter(tokenizer.WithLogger(logger))
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = DefaultConfig().DefaultTTL
	}

	m := &Manager{
		store:   store,
		counter: counter,
		config:  config,
		logger:  logger.With(zap.String("component", "cache")),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Result 是一次 Get 的结果。Value 为序列化后的原始 JSON。
type Result struct {
	Hit         bool            `json:"hit"`
	Value       json.RawMessage `json:"value,omitempty"`
	TokensSaved int             `json:"tokens_saved"`
	HitCount    int64           `json:"hit_count"`
}

func (m *Manager) nowMillis() int64 {
	return m.now().UnixMilli()
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// Get 获取缓存值。命中时 hitCount+1 并刷新 lastAccessed；存储错误与
// 反序列化失败都按未命中处理。
func (m *Manager) Get(ctx context.Context, key string) Result {
	return m.lookup(ctx, key, func(raw []byte) error {
		if !json.Valid(raw) {
			return errors.New("invalid json payload")
		}
		return nil
	})
}

// GetJSON 获取并解码缓存值，未命中返回 ErrCacheMiss。
func (m *Manager) GetJSON(ctx context.Context, key string, dest any) (Result, error) {
	res := m.lookup(ctx, key, func(raw []byte) error {
		return json.Unmarshal(raw, dest)
	})
	if !res.Hit {
		return res, ErrCacheMiss
	}
	return res, nil
}

func (m *Manager) lookup(ctx context.Context, key string, decode func([]byte) error) Result {
	now := m.nowMillis()

	entry, err := m.store.Find(ctx, key, now)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			m.logger.Warn("cache read failed, treating as miss", zap.String("key", key), zap.Error(err))
			m.record("get", "error")
		} else {
			m.record("get", "miss")
		}
		m.misses.Add(1)
		return Result{}
	}

	if err := decode([]byte(entry.Value)); err != nil {
		m.logger.Warn("cache payload decode failed, treating as miss", zap.String("key", key), zap.Error(err))
		m.record("get", "corrupt")
		m.misses.Add(1)
		return Result{}
	}

	hitCount := entry.HitCount + 1
	if err := m.store.Touch(ctx, key, hitCount, now); err != nil {
		m.logger.Warn("cache touch failed", zap.String("key", key), zap.Error(err))
	}

	m.record("get", "hit")
	m.hits.Add(1)
	return Result{
		Hit:         true,
		Value:       json.RawMessage(entry.Value),
		TokensSaved: entry.TokensSaved,
		HitCount:    hitCount,
	}
}

// SetOption configures Set and GetOrCompute.
type SetOption func(*setOptions)

type setOptions struct {
	model string
	ttl   time.Duration
}

// WithModel counts tokensSaved with the model's family instead of generic.
func WithModel(model string) SetOption {
	return func(o *setOptions) { o.model = model }
}

// WithTTL sets the TTL used by GetOrCompute. Without it the configured
// DefaultTTL applies.
func WithTTL(ttl time.Duration) SetOption {
	return func(o *setOptions) { o.ttl = ttl }
}

// Set 序列化并写入缓存，expiresAt = now + ttl，随后执行容量检查。
// ttl <= 0 的条目写入即失效。存储写入错误会返回给调用方。
func (m *Manager) Set(ctx context.Context, key string, value any, ttl time.Duration, opts ...SetOption) error {
	o := setOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}

	now := m.nowMillis()
	entry := &Entry{
		Key:          key,
		Value:        string(data),
		TokensSaved:  m.counter.Count(ctx, string(data), o.model).Tokens,
		CreatedAt:    now,
		LastAccessed: now,
		ExpiresAt:    now + ttl.Milliseconds(),
	}

	if err := m.store.Upsert(ctx, entry); err != nil {
		m.logger.Error("cache set failed", zap.String("key", key), zap.Error(err))
		m.record("set", "error")
		return fmt.Errorf("cache set failed: %w", err)
	}
	m.record("set", "ok")

	if _, err := m.EvictIfNeeded(ctx); err != nil {
		return err
	}
	return nil
}

// Invalidate 软过期单个键（expiresAt = 0），行保留到 CleanExpired。
func (m *Manager) Invalidate(ctx context.Context, key string) error {
	if err := m.store.Expire(ctx, []string{key}, 0); err != nil {
		return fmt.Errorf("cache invalidate failed: %w", err)
	}
	m.record("invalidate", "ok")
	return nil
}

// Clear 软过期所有条目。
func (m *Manager) Clear(ctx context.Context) error {
	if err := m.store.ExpireAll(ctx, 0); err != nil {
		return fmt.Errorf("cache clear failed: %w", err)
	}
	m.record("clear", "ok")
	m.logger.Info("cache cleared")
	return nil
}

// CleanExpired 物理删除 expiresAt <= now 的行，返回删除数量。
func (m *Manager) CleanExpired(ctx context.Context) (int64, error) {
	n, err := m.store.DeleteExpired(ctx, m.nowMillis())
	if err != nil {
		return 0, fmt.Errorf("cache clean failed: %w", err)
	}
	m.record("clean", "ok")
	if n > 0 {
		m.logger.Info("expired cache entries removed", zap.Int64("count", n))
	}
	return n, nil
}

// EvictIfNeeded 存活条目超过 MaxSize 时，按 lastAccessed 升序软过期最旧的
// count - MaxSize 个条目，返回淘汰数量。
func (m *Manager) EvictIfNeeded(ctx context.Context) (int, error) {
	if m.config.MaxSize <= 0 {
		return 0, nil
	}

	live, err := m.store.ListLive(ctx, m.nowMillis())
	if err != nil {
		return 0, fmt.Errorf("cache eviction scan failed: %w", err)
	}

	excess := len(live) - m.config.MaxSize
	if excess <= 0 {
		return 0, nil
	}

	sortByLastAccessed(live)
	keys := make([]string, excess)
	for i := range keys {
		keys[i] = live[i].Key
	}

	if err := m.store.Expire(ctx, keys, 0); err != nil {
		return 0, fmt.Errorf("cache eviction failed: %w", err)
	}

	if m.recorder != nil {
		m.recorder.RecordCacheEviction(excess)
	}
	m.logger.Debug("cache entries evicted",
		zap.Int("count", excess),
		zap.Int("max_size", m.config.MaxSize),
	)
	return excess, nil
}

func sortByLastAccessed(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].LastAccessed < entries[j].LastAccessed
	})
}

// =============================================================================
// 🔁 GetOrCompute
// =============================================================================

// ComputeResult 是 GetOrCompute 的结果。
type ComputeResult[T any] struct {
	Value       T    `json:"value"`
	FromCache   bool `json:"from_cache"`
	TokensSaved int  `json:"tokens_saved"`
}

// GetOrCompute 先查缓存，未命中时调用 fn 并写回。同一进程内同一键的并发
// 未命中只计算一次。
func GetOrCompute[T any](ctx context.Context, m *Manager, key string, fn func(context.Context) (T, error), opts ...SetOption) (ComputeResult[T], error) {
	var cached T
	if res, err := m.GetJSON(ctx, key, &cached); err == nil {
		return ComputeResult[T]{Value: cached, FromCache: true, TokensSaved: res.TokensSaved}, nil
	}

	o := setOptions{ttl: m.config.DefaultTTL}
	for _, opt := range opts {
		opt(&o)
	}
	if o.ttl <= 0 {
		o.ttl = m.config.DefaultTTL
	}

	v, err, _ := m.group.Do(key, func() (any, error) {
		value, err := fn(ctx)
		if err != nil {
			return value, err
		}
		if err := m.Set(ctx, key, value, o.ttl, opts...); err != nil {
			return value, err
		}
		return value, nil
	})
	value, _ := v.(T)
	return ComputeResult[T]{Value: value}, err
}

// =============================================================================
// 📊 统计信息
// =============================================================================

// Stats 缓存统计信息
type Stats struct {
	TotalEntries     int64 `json:"total_entries"`
	LiveEntries      int64 `json:"live_entries"`
	ExpiredEntries   int64 `json:"expired_entries"`
	TotalHits        int64 `json:"total_hits"`
	TotalTokensSaved int64 `json:"total_tokens_saved"`
	MaxSize          int   `json:"max_size"`
	ProcessHits      int64 `json:"process_hits"`
	ProcessMisses    int64 `json:"process_misses"`
}

// Stats 获取缓存统计信息
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	st, err := m.store.Stats(ctx, m.nowMillis())
	if err != nil {
		return nil, err
	}
	return &Stats{
		TotalEntries:     st.Total,
		LiveEntries:      st.Live,
		ExpiredEntries:   st.Total - st.Live,
		TotalHits:        st.Hits,
		TotalTokensSaved: st.TokensSaved,
		MaxSize:          m.config.MaxSize,
		ProcessHits:      m.hits.Load(),
		ProcessMisses:    m.misses.Load(),
	}, nil
}

// Ping 检查存储连接
func (m *Manager) Ping(ctx context.Context) error {
	return m.store.Ping(ctx)
}

// Close 关闭底层存储
func (m *Manager) Close() error {
	m.logger.Info("closing cache manager")
	return m.store.Close()
}

func (m *Manager) record(op, result string) {
	if m.recorder != nil {
		m.recorder.RecordCacheOperation(op, result)
	}
}
