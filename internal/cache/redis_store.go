package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BaSui01/tokenbudget/internal/tlsutil"
)

// =============================================================================
// 🔴 Redis 存储
// =============================================================================

// RedisConfig Redis 连接配置
type RedisConfig struct {
	// Redis 地址
	Addr string `yaml:"addr" env:"ADDR" json:"addr"`

	// 密码
	Password string `yaml:"password" env:"PASSWORD" json:"-"`

	// 数据库编号
	DB int `yaml:"db" env:"DB" json:"db"`

	// 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX" json:"key_prefix"`

	// 最大重试次数
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES" json:"max_retries"`

	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE" json:"pool_size"`

	// 最小空闲连接数
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS" json:"min_idle_conns"`

	// 是否启用 TLS
	TLS bool `yaml:"tls" env:"TLS" json:"tls"`
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		KeyPrefix:    "tokenbudget:",
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// NewRedisClient 创建并探测 Redis 客户端。
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	}
	if cfg.TLS {
		opts.TLSConfig = tlsutil.DefaultTLSConfig()
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// RedisStore 将每个条目存为一个 Hash，并用一个 ZSet（score = expires_at）做过期索引。
// 不使用 Redis 原生 TTL：软过期的行在清扫前必须仍可检查。
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a store on client. prefix namespaces every key.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) entryKey(key string) string {
	return s.prefix + "entry:" + key
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "expires"
}

func (s *RedisStore) Find(ctx context.Context, key string, now int64) (*Entry, error) {
	res := s.client.HGetAll(ctx, s.entryKey(key))
	fields, err := res.Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	var e Entry
	if err := res.Scan(&e); err != nil {
		return nil, fmt.Errorf("decode cache hash: %w", err)
	}
	if !e.Live(now) {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (s *RedisStore) Upsert(ctx context.Context, e *Entry) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.entryKey(e.Key), map[string]any{
			"key":           e.Key,
			"payload":       e.Value,
			"tokens_saved":  e.TokensSaved,
			"hit_count":     e.HitCount,
			"created_at":    e.CreatedAt,
			"last_accessed": e.LastAccessed,
			"expires_at":    e.ExpiresAt,
		})
		p.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(e.ExpiresAt), Member: e.Key})
		return nil
	})
	return err
}

func (s *RedisStore) Touch(ctx context.Context, key string, hitCount, lastAccessed int64) error {
	n, err := s.client.Exists(ctx, s.entryKey(key)).Result()
	if err != nil || n == 0 {
		return err
	}
	return s.client.HSet(ctx, s.entryKey(key),
		"hit_count", hitCount,
		"last_accessed", lastAccessed,
	).Err()
}

// expireScript 只改写已存在的条目，不存在的键不会留下半截 Hash 或索引成员。
// KEYS[1] 为过期索引，KEYS[i] (i>=2) 为条目 Hash；ARGV[1] 为 expires_at，ARGV[i] 为索引成员。
var expireScript = redis.NewScript(`
local n = 0
for i = 2, #KEYS do
	if redis.call('EXISTS', KEYS[i]) == 1 then
		redis.call('HSET', KEYS[i], 'expires_at', ARGV[1])
		redis.call('ZADD', KEYS[1], ARGV[1], ARGV[i])
		n = n + 1
	end
end
return n
`)

func (s *RedisStore) Expire(ctx context.Context, keys []string, expiresAt int64) error {
	if len(keys) == 0 {
		return nil
	}
	redisKeys := make([]string, 0, len(keys)+1)
	args := make([]any, 0, len(keys)+1)
	redisKeys = append(redisKeys, s.indexKey())
	args = append(args, expiresAt)
	for _, k := range keys {
		redisKeys = append(redisKeys, s.entryKey(k))
		args = append(args, k)
	}
	return expireScript.Run(ctx, s.client, redisKeys, args...).Err()
}

func (s *RedisStore) ExpireAll(ctx context.Context, expiresAt int64) error {
	keys, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return err
	}
	return s.Expire(ctx, keys, expiresAt)
}

func (s *RedisStore) ListLive(ctx context.Context, now int64) ([]Entry, error) {
	keys, err := s.client.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}
	entries, err := s.load(ctx, keys)
	if err != nil {
		return nil, err
	}

	live := entries[:0]
	for _, e := range entries {
		if e.Live(now) {
			live = append(live, e)
		}
	}
	sortByLastAccessed(live)
	return live, nil
}

func (s *RedisStore) load(ctx context.Context, keys []string) ([]Entry, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = p.HGetAll(ctx, s.entryKey(k))
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	entries := make([]Entry, 0, len(keys))
	for _, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		var e Entry
		if err := cmd.Scan(&e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *RedisStore) DeleteExpired(ctx context.Context, now int64) (int64, error) {
	keys, err := s.client.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now, 10),
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	entryKeys := make([]string, len(keys))
	members := make([]any, len(keys))
	for i, k := range keys {
		entryKeys[i] = s.entryKey(k)
		members[i] = k
	}

	var deleted *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		deleted = p.Del(ctx, entryKeys...)
		p.ZRem(ctx, s.indexKey(), members...)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted.Val(), nil
}

func (s *RedisStore) Count(ctx context.Context) (int64, error) {
	return s.client.ZCard(ctx, s.indexKey()).Result()
}

func (s *RedisStore) Stats(ctx context.Context, now int64) (StoreStats, error) {
	keys, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return StoreStats{}, err
	}
	entries, err := s.load(ctx, keys)
	if err != nil {
		return StoreStats{}, err
	}

	st := StoreStats{Total: int64(len(entries))}
	for _, e := range entries {
		if e.Live(now) {
			st.Live++
		}
		st.Hits += e.HitCount
		st.TokensSaved += int64(e.TokensSaved) * e.HitCount
	}
	return st, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
