package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagevault/extractor/internal/extraction"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()

	job := extraction.Job{
		ID:       "job-1",
		Type:     extraction.JobTypeContentExtraction,
		Status:   extraction.JobStatusPending,
		Priority: extraction.PriorityNormal,
	}
	require.NoError(t, store.CreateJob(ctx, job))
	require.Error(t, store.CreateJob(ctx, job), "duplicate IDs must be rejected")

	job.Status = extraction.JobStatusRunning
	require.NoError(t, store.UpdateJob(ctx, job))

	got, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, extraction.JobStatusRunning, got.Status)

	_, err = store.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, extraction.ErrJobNotFound)

	err = store.UpdateJob(ctx, extraction.Job{ID: "missing"})
	assert.ErrorIs(t, err, extraction.ErrJobNotFound)
}

func TestJobStoreListFiltersAndOrders(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	for _, job := range []extraction.Job{
		{ID: "c", Status: extraction.JobStatusPending, ScheduledAt: base.Add(2 * time.Minute)},
		{ID: "a", Status: extraction.JobStatusPending, ScheduledAt: base},
		{ID: "b", Status: extraction.JobStatusCompleted, ScheduledAt: base.Add(time.Minute)},
	} {
		require.NoError(t, store.CreateJob(ctx, job))
	}

	pending, err := store.ListJobs(ctx, extraction.JobStatusPending, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "a", pending[0].ID)
	assert.Equal(t, "c", pending[1].ID)

	all, err := store.ListJobs(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, all, 2, "limit must apply")
}

func TestDeadLetterStoreListAndPurge(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := NewDeadLetterStore(clock)
	ctx := context.Background()

	old := extraction.DeadLetterEntry{JobID: "old", FailedAt: clock.Now().Add(-48 * time.Hour)}
	recent := extraction.DeadLetterEntry{JobID: "recent", FailedAt: clock.Now()}
	require.NoError(t, store.Enqueue(ctx, old))
	require.NoError(t, store.Enqueue(ctx, recent))

	entries, err := store.List(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "recent", entries[0].JobID, "newest first")

	page, err := store.List(ctx, 10, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "old", page[0].JobID)

	removed, err := store.PurgeOlderThan(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	entries, err = store.List(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "recent", entries[0].JobID)
}

func TestCacheHonorsTTL(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cache := NewCache(clock)
	ctx := context.Background()

	result := &extraction.Result{URL: "https://example.com", Title: "Example", WordCount: 120}
	require.NoError(t, cache.Set(ctx, "fp-1", result, time.Hour))

	got, ok, err := cache.Get(ctx, "fp-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Example", got.Title)

	clock.Advance(time.Hour)
	_, ok, err = cache.Get(ctx, "fp-1")
	require.NoError(t, err)
	assert.False(t, ok, "entry must expire once the TTL elapses")

	_, ok, err = cache.Get(ctx, "never-set")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBlobStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	ctx := context.Background()

	uri, err := store.PutObject(ctx, "captures/a.html", "text/html", []byte("<html></html>"))
	require.NoError(t, err)
	assert.Equal(t, "mem://captures/a.html", uri)

	data, ok := store.GetObject(ctx, "captures/a.html")
	require.True(t, ok)
	assert.Equal(t, []byte("<html></html>"), data)

	_, ok = store.GetObject(ctx, "captures/missing.html")
	assert.False(t, ok)
}
