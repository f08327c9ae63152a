package extraction

import (
	"context"
	"time"
)

// Strategy is one extraction algorithm in the fallback chain.
type Strategy interface {
	Name() string
	Extract(ctx context.Context, page Page) (*Result, error)
}

// Fetcher retrieves an archived page over the network.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (Page, error)
}

// Cache memoizes extraction results keyed by content fingerprint.
type Cache interface {
	Get(ctx context.Context, key string) (*Result, bool, error)
	Set(ctx context.Context, key string, result *Result, ttl time.Duration) error
}

// JobStore persists job metadata.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListJobs(ctx context.Context, status JobStatus, limit int) ([]Job, error)
}

// DeadLetterStore is the append-only log of permanently failed jobs.
type DeadLetterStore interface {
	Enqueue(ctx context.Context, entry DeadLetterEntry) error
	List(ctx context.Context, limit, offset int) ([]DeadLetterEntry, error)
	PurgeOlderThan(ctx context.Context, age time.Duration) (int, error)
}

// BlobStore writes raw captures and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Hasher computes digests for fingerprinting and deduplication.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
