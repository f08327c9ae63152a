// Package memory provides in-memory storage providers for development and
// tests.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/pagevault/extractor/internal/extraction"
)

// JobStore provides an in-memory implementation for development/testing.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]extraction.Job
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]extraction.Job)}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job extraction.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJob replaces the stored record for a job.
func (s *JobStore) UpdateJob(_ context.Context, job extraction.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return extraction.ErrJobNotFound
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (extraction.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return extraction.Job{}, extraction.ErrJobNotFound
	}
	return job, nil
}

// ListJobs returns jobs filtered by status, ordered by scheduled time.
// An empty status matches every job; limit <= 0 means no limit.
func (s *JobStore) ListJobs(_ context.Context, status extraction.JobStatus, limit int) ([]extraction.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]extraction.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if status != "" && job.Status != status {
			continue
		}
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ScheduledAt.Before(out[j].ScheduledAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
