package fetch

import (
	"context"
	"sync"
	"time"
)

// Provider response cache TTLs
const (
	GLEIFCacheTTL      = 14 * 24 * time.Hour
	PDLCompanyCacheTTL = 7 * 24 * time.Hour
	PitchBookCacheTTL  = 7 * 24 * time.Hour
	ApolloCacheTTL     = 7 * 24 * time.Hour
	RegistryCacheTTL   = 7 * 24 * time.Hour
	ExaCacheTTL        = 24 * time.Hour
)

// ResponseCache stores successful provider responses by request key.
// The database store implements it over the provider_cache table.
type ResponseCache interface {
	GetCachedResponse(ctx context.Context, key string) ([]byte, bool, error)
	PutCachedResponse(ctx context.Context, key, namespace string, body []byte, ttl time.Duration) error
}

type memoryEntry struct {
	body      []byte
	expiresAt time.Time
}

// MemoryCache is an in-process ResponseCache for runs without a database.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty in-memory cache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

// GetCachedResponse returns a fresh entry
func (m *MemoryCache) GetCachedResponse(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok || !m.now().Before(e.expiresAt) {
		return nil, false, nil
	}
	return e.body, true, nil
}

// PutCachedResponse stores an entry until ttl elapses
func (m *MemoryCache) PutCachedResponse(_ context.Context, key, _ string, body []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{body: append([]byte(nil), body...), expiresAt: m.now().Add(ttl)}
	return nil
}

// Prune drops expired entries and returns how many were removed
func (m *MemoryCache) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	removed := 0
	for k, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, k)
			removed++
		}
	}
	return removed
}
