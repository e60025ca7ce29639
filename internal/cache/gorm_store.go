package cache

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// =============================================================================
// 🗄️ SQL 存储（gorm）
// =============================================================================

// GormStore 基于 gorm 的缓存存储，适配 SQLite / PostgreSQL / MySQL。
// 不持有连接的生命周期，Close 为空操作。
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a store on db.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// AutoMigrate 创建或更新 cache_entries 表（测试与开发环境使用，生产走 migrate 命令）。
func (s *GormStore) AutoMigrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&Entry{})
}

func (s *GormStore) Find(ctx context.Context, key string, now int64) (*Entry, error) {
	var e Entry
	err := s.db.WithContext(ctx).
		Where("cache_key = ? AND expires_at > ?", key, now).
		Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *GormStore) Upsert(ctx context.Context, e *Entry) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "cache_key"}},
			UpdateAll: true,
		}).
		Create(e).Error
}

func (s *GormStore) Touch(ctx context.Context, key string, hitCount, lastAccessed int64) error {
	return s.db.WithContext(ctx).Model(&Entry{}).
		Where("cache_key = ?", key).
		Updates(map[string]any{
			"hit_count":     hitCount,
			"last_accessed": lastAccessed,
		}).Error
}

func (s *GormStore) Expire(ctx context.Context, keys []string, expiresAt int64) error {
	if len(keys) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&Entry{}).
		Where("cache_key IN ?", keys).
		Update("expires_at", expiresAt).Error
}

func (s *GormStore) ExpireAll(ctx context.Context, expiresAt int64) error {
	return s.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Model(&Entry{}).
		Update("expires_at", expiresAt).Error
}

func (s *GormStore) ListLive(ctx context.Context, now int64) ([]Entry, error) {
	var entries []Entry
	err := s.db.WithContext(ctx).
		Where("expires_at > ?", now).
		Order("last_accessed ASC").
		Find(&entries).Error
	return entries, err
}

func (s *GormStore) DeleteExpired(ctx context.Context, now int64) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&Entry{})
	return res.RowsAffected, res.Error
}

func (s *GormStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Entry{}).Count(&n).Error
	return n, err
}

func (s *GormStore) Stats(ctx context.Context, now int64) (StoreStats, error) {
	var st StoreStats
	err := s.db.WithContext(ctx).Model(&Entry{}).
		Select(`COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN expires_at > ? THEN 1 ELSE 0 END), 0) AS live,
			COALESCE(SUM(hit_count), 0) AS hits,
			COALESCE(SUM(tokens_saved * hit_count), 0) AS tokens_saved`, now).
		Scan(&st).Error
	if err != nil {
		return StoreStats{}, fmt.Errorf("cache stats query failed: %w", err)
	}
	return st, nil
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) Close() error {
	return nil
}
