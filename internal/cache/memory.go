package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// DefaultMaxEntries bounds a MemoryProvider created without an explicit size.
const DefaultMaxEntries = 1024

// MemoryProvider is an in-process Provider with per-key TTLs and a bounded
// entry count. The least recently used entry is evicted when full.
type MemoryProvider struct {
	mu    sync.Mutex
	items *simplelru.LRU[string, memoryItem]
	now   func() time.Time
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryProvider creates a cache holding at most maxEntries keys. A
// non-positive maxEntries uses DefaultMaxEntries.
func NewMemoryProvider(maxEntries int) *MemoryProvider {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	// NewLRU only fails for a non-positive size.
	items, _ := simplelru.NewLRU[string, memoryItem](maxEntries, nil)
	return &MemoryProvider{items: items, now: time.Now}
}

// Get returns a copy of the cached value or ErrCacheMiss.
func (m *MemoryProvider) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	if m.expired(it) {
		m.items.Remove(key)
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), it.value...), nil
}

// Set stores value under key. A non-positive ttl never expires.
func (m *MemoryProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(key, value, ttl)
	return nil
}

// Len reports the number of stored keys, including expired ones not yet evicted.
func (m *MemoryProvider) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items.Len()
}

// Close drops every entry.
func (m *MemoryProvider) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items.Purge()
	return nil
}

func (m *MemoryProvider) setLocked(key string, value []byte, ttl time.Duration) {
	var expires time.Time
	if ttl > 0 {
		expires = m.now().Add(ttl)
	}
	m.items.Add(key, memoryItem{value: append([]byte(nil), value...), expiresAt: expires})
}

func (m *MemoryProvider) expired(it memoryItem) bool {
	return !it.expiresAt.IsZero() && !m.now().Before(it.expiresAt)
}
