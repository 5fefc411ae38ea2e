package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value   string
	expires time.Time
}

// MemoryCache keeps entries in process. Expired entries are dropped on read.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

func (mc *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	e, ok := mc.entries[key]
	if !ok {
		return "", false, nil
	}
	if !e.expires.IsZero() && !mc.now().Before(e.expires) {
		delete(mc.entries, key)
		return "", false, nil
	}
	return e.value, true, nil
}

// Set stores value. A non-positive ttl never expires.
func (mc *MemoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	e := entry{value: value}
	if ttl > 0 {
		e.expires = mc.now().Add(ttl)
	}
	mc.entries[key] = e
	return nil
}

func (mc *MemoryCache) Close() error {
	return nil
}
