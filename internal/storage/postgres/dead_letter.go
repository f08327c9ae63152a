package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pagevault/extractor/internal/extraction"
)

// DeadLetterStore keeps permanently failed jobs in the dead_letters table.
type DeadLetterStore struct {
	pool  dbPool
	clock extraction.Clock
}

// NewDeadLetterStore creates a Postgres-backed DeadLetterStore.
func NewDeadLetterStore(ctx context.Context, cfg PoolConfig, clock extraction.Clock) (*DeadLetterStore, error) {
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &DeadLetterStore{pool: pool, clock: clock}, nil
}

// NewDeadLetterStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewDeadLetterStoreWithPool(pool dbPool, clock extraction.Clock) (*DeadLetterStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &DeadLetterStore{pool: pool, clock: clock}, nil
}

// Close releases the underlying pool resources.
func (s *DeadLetterStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Enqueue appends an entry.
func (s *DeadLetterStore) Enqueue(ctx context.Context, entry extraction.DeadLetterEntry) error {
	jobJSON, err := json.Marshal(entry.Job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	attemptsJSON, err := json.Marshal(entry.Attempts)
	if err != nil {
		return fmt.Errorf("marshal attempts: %w", err)
	}
	query := `
INSERT INTO dead_letters (
	job_id,
	job,
	attempts,
	failed_at
) VALUES (
	$1,$2,$3,$4
)`
	if _, err := s.pool.Exec(ctx, query, entry.JobID, jobJSON, attemptsJSON, entry.FailedAt); err != nil {
		return fmt.Errorf("insert dead-letter entry: %w", err)
	}
	return nil
}

// List returns entries newest first.
func (s *DeadLetterStore) List(ctx context.Context, limit, offset int) ([]extraction.DeadLetterEntry, error) {
	query := `
SELECT job_id, job, attempts, failed_at
FROM dead_letters
ORDER BY failed_at DESC, job_id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	if offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, len(args)+1)
		args = append(args, offset)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select dead-letter entries: %w", err)
	}
	defer rows.Close()

	var entries []extraction.DeadLetterEntry
	for rows.Next() {
		var (
			entry        extraction.DeadLetterEntry
			jobJSON      []byte
			attemptsJSON []byte
		)
		if err := rows.Scan(&entry.JobID, &jobJSON, &attemptsJSON, &entry.FailedAt); err != nil {
			return nil, fmt.Errorf("scan dead-letter entry: %w", err)
		}
		if err := json.Unmarshal(jobJSON, &entry.Job); err != nil {
			return nil, fmt.Errorf("unmarshal job: %w", err)
		}
		if len(attemptsJSON) > 0 {
			if err := json.Unmarshal(attemptsJSON, &entry.Attempts); err != nil {
				return nil, fmt.Errorf("unmarshal attempts: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead-letter entries: %w", err)
	}
	return entries, nil
}

// PurgeOlderThan removes entries that failed more than age ago and reports
// how many were dropped.
func (s *DeadLetterStore) PurgeOlderThan(ctx context.Context, age time.Duration) (int, error) {
	cutoff := s.clock.Now().Add(-age)
	tag, err := s.pool.Exec(ctx, `DELETE FROM dead_letters WHERE failed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge dead-letter entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
