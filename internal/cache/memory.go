package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// FastLayer is the volatile first tier of the result cache. Implementations
// are an in-process TTL map for single-node deployments and Redis when a
// shared tier is configured.
type FastLayer interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) error
	Stats() LayerStats
	Ping(ctx context.Context) error
	Close() error
}

// LayerStats carries hit accounting for the health surface.
type LayerStats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Entries   int     `json:"entries"`
	HitRate   float64 `json:"hit_rate"`
}

type memoryEntry struct {
	value      []byte
	expiresAt  time.Time
	lastAccess time.Time
}

// MemoryLayer is a TTL cache with LRU eviction under a size cap. Expired
// entries are reaped by a background loop and lazily on read.
type MemoryLayer struct {
	mu         sync.RWMutex
	entries    map[string]*memoryEntry
	maxEntries int

	hits      int64
	misses    int64
	evictions int64

	stop chan struct{}
	once sync.Once
}

// NewMemoryLayer creates an in-process fast layer holding at most maxEntries.
func NewMemoryLayer(maxEntries int) *MemoryLayer {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	m := &MemoryLayer{
		entries:    make(map[string]*memoryEntry),
		maxEntries: maxEntries,
		stop:       make(chan struct{}),
	}
	go m.reapLoop()
	return m
}

func (m *MemoryLayer) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		m.misses++
		return nil, false, nil
	}
	if time.Now().After(e.expiresAt) {
		delete(m.entries, key)
		m.misses++
		return nil, false, nil
	}
	e.lastAccess = time.Now()
	m.hits++
	return e.value, true, nil
}

func (m *MemoryLayer) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.entries) >= m.maxEntries {
		if _, exists := m.entries[key]; !exists {
			m.evictOldestLocked()
		}
	}
	now := time.Now()
	m.entries[key] = &memoryEntry{value: value, expiresAt: now.Add(ttl), lastAccess: now}
	return nil
}

func (m *MemoryLayer) DeletePrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
		}
	}
	return nil
}

func (m *MemoryLayer) Stats() LayerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := LayerStats{
		Hits:      m.hits,
		Misses:    m.misses,
		Evictions: m.evictions,
		Entries:   len(m.entries),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

func (m *MemoryLayer) Ping(context.Context) error { return nil }

func (m *MemoryLayer) Close() error {
	m.once.Do(func() { close(m.stop) })
	return nil
}

// evictOldestLocked drops the least recently accessed entry. Caller holds
// the write lock.
func (m *MemoryLayer) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for k, e := range m.entries {
		if oldestKey == "" || e.lastAccess.Before(oldest) {
			oldestKey = k
			oldest = e.lastAccess
		}
	}
	if oldestKey != "" {
		delete(m.entries, oldestKey)
		m.evictions++
	}
}

func (m *MemoryLayer) reapLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.reapExpired()
		}
	}
}

func (m *MemoryLayer) reapExpired() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, k)
		}
	}
}
