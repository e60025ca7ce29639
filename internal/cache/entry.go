package cache

import (
	"context"
	"errors"
	"fmt"
)

// ErrCacheMiss 缓存未命中错误
var ErrCacheMiss = fmt.Errorf("cache miss")

// ErrNotFound is returned by a Store when no live row matches.
var ErrNotFound = errors.New("cache entry not found")

// IsCacheMiss 判断是否为缓存未命中错误
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// Entry is one cache row. All timestamps are Unix milliseconds.
type Entry struct {
	Key          string `gorm:"column:cache_key;primaryKey;size:255" json:"key" redis:"key"`
	Value        string `gorm:"column:payload;type:text;not null" json:"value" redis:"payload"`
	TokensSaved  int    `gorm:"column:tokens_saved;not null" json:"tokens_saved" redis:"tokens_saved"`
	HitCount     int64  `gorm:"column:hit_count;not null" json:"hit_count" redis:"hit_count"`
	CreatedAt    int64  `gorm:"column:created_at;not null;autoCreateTime:false" json:"created_at" redis:"created_at"`
	LastAccessed int64  `gorm:"column:last_accessed;not null;index" json:"last_accessed" redis:"last_accessed"`
	ExpiresAt    int64  `gorm:"column:expires_at;not null;index" json:"expires_at" redis:"expires_at"`
}

// TableName 返回表名
func (Entry) TableName() string {
	return "cache_entries"
}

// Live reports whether the entry is alive at now.
func (e Entry) Live(now int64) bool {
	return e.ExpiresAt > now
}

// StoreStats are aggregate row statistics, dead rows included.
type StoreStats struct {
	Total       int64 `json:"total"`
	Live        int64 `json:"live"`
	Hits        int64 `json:"hits"`
	TokensSaved int64 `json:"tokens_saved"`
}

// Store is the persistent key-value store behind the Manager.
type Store interface {
	// Find returns the live entry for key or ErrNotFound.
	Find(ctx context.Context, key string, now int64) (*Entry, error)
	// Upsert inserts or fully overwrites the entry with the same key.
	Upsert(ctx context.Context, e *Entry) error
	// Touch writes hitCount and lastAccessed for key.
	Touch(ctx context.Context, key string, hitCount, lastAccessed int64) error
	// Expire sets expiresAt for the given keys.
	Expire(ctx context.Context, keys []string, expiresAt int64) error
	// ExpireAll sets expiresAt on every row.
	ExpireAll(ctx context.Context, expiresAt int64) error
	// ListLive returns entries with expiresAt > now, oldest access first.
	ListLive(ctx context.Context, now int64) ([]Entry, error)
	// DeleteExpired physically removes rows with expiresAt <= now.
	DeleteExpired(ctx context.Context, now int64) (int64, error)
	// Count returns the number of stored rows, live or dead.
	Count(ctx context.Context) (int64, error)
	// Stats returns aggregate statistics.
	Stats(ctx context.Context, now int64) (StoreStats, error)
	Ping(ctx context.Context) error
	Close() error
}
