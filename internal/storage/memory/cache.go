package memory

import (
	"context"
	"sync"
	"time"

	"github.com/pagevault/extractor/internal/extraction"
)

type cacheEntry struct {
	result    extraction.Result
	expiresAt time.Time
}

// Cache is a TTL result cache backed by a map. Expired entries are dropped
// lazily on read.
type Cache struct {
	clock extraction.Clock

	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewCache constructs a Cache.
func NewCache(clock extraction.Clock) *Cache {
	return &Cache{clock: clock, entries: make(map[string]cacheEntry)}
}

// Get returns the cached result for key, if present and unexpired.
func (c *Cache) Get(_ context.Context, key string) (*extraction.Result, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && !c.clock.Now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	result := entry.result
	return &result, true, nil
}

// Set stores a result under key. A non-positive ttl stores it without
// expiry.
func (c *Cache) Set(_ context.Context, key string, result *extraction.Result, ttl time.Duration) error {
	entry := cacheEntry{result: *result}
	if ttl > 0 {
		entry.expiresAt = c.clock.Now().Add(ttl)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry
	return nil
}
