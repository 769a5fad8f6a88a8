package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryCache keeps snapshots in process. Used when no Redis address is configured.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

type memoryEntry struct {
	snapshot  Snapshot
	expiresAt time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (m *MemoryCache) Get(_ context.Context, userID string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[userID]
	if !ok || !m.now().Before(e.expiresAt) {
		return nil, ErrCacheMiss
	}
	s := e.snapshot
	s.Records = append(s.Records[:0:0], e.snapshot.Records...)
	return &s, nil
}

func (m *MemoryCache) Set(_ context.Context, userID string, snapshot *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := *snapshot
	s.Records = append(s.Records[:0:0], snapshot.Records...)
	m.entries[userID] = memoryEntry{snapshot: s, expiresAt: m.now().Add(m.ttl)}
	return nil
}

func (m *MemoryCache) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, userID)
	return nil
}
