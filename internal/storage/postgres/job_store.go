// Package postgres provides Postgres-backed persistence for jobs and the
// dead-letter queue.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pagevault/extractor/internal/extraction"
)

// PoolConfig controls the Postgres connection pool.
type PoolConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// NewPool builds a pgx pool from config.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// JobStore persists jobs in the jobs table.
type JobStore struct {
	pool dbPool
}

// NewJobStore creates a Postgres-backed JobStore using the provided config.
func NewJobStore(ctx context.Context, cfg PoolConfig) (*JobStore, error) {
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &JobStore{pool: pool}, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewJobStoreWithPool(pool dbPool) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const jobColumns = `
	id,
	job_type,
	priority,
	status,
	parameters,
	scheduled_at,
	started_at,
	completed_at,
	progress,
	retry_count,
	max_retries,
	estimated_memory,
	estimated_duration,
	error_text,
	attempts`

// CreateJob inserts a job row.
func (s *JobStore) CreateJob(ctx context.Context, job extraction.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	args, err := jobArgs(job)
	if err != nil {
		return err
	}
	query := `
INSERT INTO jobs (` + jobColumns + `
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
)`
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJob replaces the stored row for a job.
func (s *JobStore) UpdateJob(ctx context.Context, job extraction.Job) error {
	args, err := jobArgs(job)
	if err != nil {
		return err
	}
	query := `
UPDATE jobs SET
	job_type = $2,
	priority = $3,
	status = $4,
	parameters = $5,
	scheduled_at = $6,
	started_at = $7,
	completed_at = $8,
	progress = $9,
	retry_count = $10,
	max_retries = $11,
	estimated_memory = $12,
	estimated_duration = $13,
	error_text = $14,
	attempts = $15
WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return extraction.ErrJobNotFound
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (extraction.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	row := s.pool.QueryRow(ctx, query, jobID)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return extraction.Job{}, extraction.ErrJobNotFound
	}
	if err != nil {
		return extraction.Job{}, fmt.Errorf("select job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs filtered by status, ordered by scheduled time. An
// empty status matches every job; limit <= 0 means no limit.
func (s *JobStore) ListJobs(ctx context.Context, status extraction.JobStatus, limit int) ([]extraction.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY scheduled_at, id`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select jobs: %w", err)
	}
	defer rows.Close()

	var jobs []extraction.Job
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan job: %w", scanErr)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

func jobArgs(job extraction.Job) ([]any, error) {
	paramsJSON, err := json.Marshal(job.Parameters)
	if err != nil {
		return nil, fmt.Errorf("marshal parameters: %w", err)
	}
	attemptsJSON, err := json.Marshal(job.Attempts)
	if err != nil {
		return nil, fmt.Errorf("marshal attempts: %w", err)
	}
	return []any{
		job.ID,
		string(job.Type),
		int(job.Priority),
		string(job.Status),
		paramsJSON,
		job.ScheduledAt,
		job.StartedAt,
		job.CompletedAt,
		job.Progress,
		job.RetryCount,
		job.MaxRetries,
		int64(job.EstimatedMemory),
		int64(job.EstimatedDuration),
		job.ErrorText,
		attemptsJSON,
	}, nil
}

func scanJob(row pgx.Row) (extraction.Job, error) {
	var (
		job               extraction.Job
		jobType           string
		priority          int
		status            string
		paramsJSON        []byte
		estimatedMemory   int64
		estimatedDuration int64
		attemptsJSON      []byte
	)
	err := row.Scan(
		&job.ID,
		&jobType,
		&priority,
		&status,
		&paramsJSON,
		&job.ScheduledAt,
		&job.StartedAt,
		&job.CompletedAt,
		&job.Progress,
		&job.RetryCount,
		&job.MaxRetries,
		&estimatedMemory,
		&estimatedDuration,
		&job.ErrorText,
		&attemptsJSON,
	)
	if err != nil {
		return extraction.Job{}, err
	}
	job.Type = extraction.JobType(jobType)
	job.Priority = extraction.Priority(priority)
	job.Status = extraction.JobStatus(status)
	job.EstimatedMemory = uint64(estimatedMemory)
	job.EstimatedDuration = time.Duration(estimatedDuration)
	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &job.Parameters); err != nil {
			return extraction.Job{}, fmt.Errorf("unmarshal parameters: %w", err)
		}
	}
	if len(attemptsJSON) > 0 {
		if err := json.Unmarshal(attemptsJSON, &job.Attempts); err != nil {
			return extraction.Job{}, fmt.Errorf("unmarshal attempts: %w", err)
		}
	}
	return job, nil
}
