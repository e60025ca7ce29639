package cache

import (
	"context"
	"sync"
)

// MemoryStore 进程内存储，用于开发环境与离线命令。进程退出即丢失。
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Find(_ context.Context, key string, now int64) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok || !e.Live(now) {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (s *MemoryStore) Upsert(_ context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.Key] = *e
	return nil
}

func (s *MemoryStore) Touch(_ context.Context, key string, hitCount, lastAccessed int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		e.HitCount = hitCount
		e.LastAccessed = lastAccessed
		s.entries[key] = e
	}
	return nil
}

func (s *MemoryStore) Expire(_ context.Context, keys []string, expiresAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		if e, ok := s.entries[k]; ok {
			e.ExpiresAt = expiresAt
			s.entries[k] = e
		}
	}
	return nil
}

func (s *MemoryStore) ExpireAll(_ context.Context, expiresAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.entries {
		e.ExpiresAt = expiresAt
		s.entries[k] = e
	}
	return nil
}

func (s *MemoryStore) ListLive(_ context.Context, now int64) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	live := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.Live(now) {
			live = append(live, e)
		}
	}
	sortByLastAccessed(live)
	return live, nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, now int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, e := range s.entries {
		if !e.Live(now) {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.entries)), nil
}

func (s *MemoryStore) Stats(_ context.Context, now int64) (StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := StoreStats{Total: int64(len(s.entries))}
	for _, e := range s.entries {
		if e.Live(now) {
			st.Live++
		}
		st.Hits += e.HitCount
		st.TokensSaved += int64(e.TokensSaved) * e.HitCount
	}
	return st, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
