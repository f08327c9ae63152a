package memory

import (
	"context"
	"sync"
	"time"

	"github.com/pagevault/extractor/internal/extraction"
)

// DeadLetterStore keeps permanently failed jobs in memory.
type DeadLetterStore struct {
	clock extraction.Clock

	mu      sync.RWMutex
	entries []extraction.DeadLetterEntry
}

// NewDeadLetterStore constructs a DeadLetterStore.
func NewDeadLetterStore(clock extraction.Clock) *DeadLetterStore {
	return &DeadLetterStore{clock: clock}
}

// Enqueue appends an entry.
func (s *DeadLetterStore) Enqueue(_ context.Context, entry extraction.DeadLetterEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// List returns entries newest first.
func (s *DeadLetterStore) List(_ context.Context, limit, offset int) ([]extraction.DeadLetterEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]extraction.DeadLetterEntry, 0, len(s.entries))
	for i := len(s.entries) - 1; i >= 0; i-- {
		out = append(out, s.entries[i])
	}
	if offset > 0 {
		if offset >= len(out) {
			return nil, nil
		}
		out = out[offset:]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PurgeOlderThan removes entries that failed more than age ago and reports
// how many were dropped.
func (s *DeadLetterStore) PurgeOlderThan(_ context.Context, age time.Duration) (int, error) {
	cutoff := s.clock.Now().Add(-age)
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0]
	removed := 0
	for _, entry := range s.entries {
		if entry.FailedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	s.entries = kept
	return removed, nil
}
