// Package redis provides Redis-backed storage providers: the TTL result
// cache and the dead-letter queue.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pagevault/extractor/internal/extraction"
)

const cacheKeyPrefix = "extractor:result:"

// Cache memoizes extraction results in Redis as JSON values with a TTL
// enforced by the server.
type Cache struct {
	client *redis.Client
}

// NewCache constructs a Cache.
func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Get returns the cached result for key, if present.
func (c *Cache) Get(ctx context.Context, key string) (*extraction.Result, bool, error) {
	data, err := c.client.Get(ctx, cacheKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cached result: %w", err)
	}
	var result extraction.Result
	if unmarshalErr := json.Unmarshal(data, &result); unmarshalErr != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached result: %w", unmarshalErr)
	}
	return &result, true, nil
}

// Set stores a result under key. A non-positive ttl stores it without
// expiry.
func (c *Cache) Set(ctx context.Context, key string, result *extraction.Result, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if ttl < 0 {
		ttl = 0
	}
	if setErr := c.client.Set(ctx, cacheKeyPrefix+key, data, ttl).Err(); setErr != nil {
		return fmt.Errorf("failed to set cached result: %w", setErr)
	}
	return nil
}
