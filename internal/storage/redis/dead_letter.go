package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pagevault/extractor/internal/extraction"
)

const deadLetterKey = "extractor:dead-letter"

// DeadLetterStore keeps permanently failed jobs in a Redis sorted set,
// scored by failure time so that listing and purging stay cheap.
type DeadLetterStore struct {
	client *redis.Client
	clock  extraction.Clock
}

// NewDeadLetterStore constructs a DeadLetterStore.
func NewDeadLetterStore(client *redis.Client, clock extraction.Clock) *DeadLetterStore {
	return &DeadLetterStore{client: client, clock: clock}
}

// Enqueue appends an entry.
func (s *DeadLetterStore) Enqueue(ctx context.Context, entry extraction.DeadLetterEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal dead-letter entry: %w", err)
	}
	member := redis.Z{
		Score:  float64(entry.FailedAt.UnixNano()),
		Member: data,
	}
	if addErr := s.client.ZAdd(ctx, deadLetterKey, member).Err(); addErr != nil {
		return fmt.Errorf("failed to enqueue dead-letter entry: %w", addErr)
	}
	return nil
}

// List returns entries newest first.
func (s *DeadLetterStore) List(ctx context.Context, limit, offset int) ([]extraction.DeadLetterEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	stop := int64(-1)
	if limit > 0 {
		stop = int64(offset + limit - 1)
	}
	raw, err := s.client.ZRevRange(ctx, deadLetterKey, int64(offset), stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dead-letter entries: %w", err)
	}
	entries := make([]extraction.DeadLetterEntry, 0, len(raw))
	for _, item := range raw {
		var entry extraction.DeadLetterEntry
		if unmarshalErr := json.Unmarshal([]byte(item), &entry); unmarshalErr != nil {
			return nil, fmt.Errorf("failed to unmarshal dead-letter entry: %w", unmarshalErr)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// PurgeOlderThan removes entries that failed more than age ago and reports
// how many were dropped.
func (s *DeadLetterStore) PurgeOlderThan(ctx context.Context, age time.Duration) (int, error) {
	cutoff := s.clock.Now().Add(-age).UnixNano()
	max := strconv.FormatInt(cutoff, 10)
	removed, err := s.client.ZRemRangeByScore(ctx, deadLetterKey, "-inf", "("+max).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to purge dead-letter entries: %w", err)
	}
	return int(removed), nil
}
