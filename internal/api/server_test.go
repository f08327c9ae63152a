package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pagevault/extractor/internal/breaker"
	"github.com/pagevault/extractor/internal/config"
	"github.com/pagevault/extractor/internal/extraction"
	"github.com/pagevault/extractor/internal/resource"
	"github.com/pagevault/extractor/internal/storage/memory"
)

type fakeJobs struct {
	jobs      map[string]extraction.Job
	scheduled []extraction.Job
	cancelled []string
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: make(map[string]extraction.Job)}
}

func (f *fakeJobs) Schedule(_ context.Context, job extraction.Job) (string, error) {
	job.ID = "job-1"
	job.Status = extraction.JobStatusPending
	f.jobs[job.ID] = job
	f.scheduled = append(f.scheduled, job)
	return job.ID, nil
}

func (f *fakeJobs) Cancel(_ context.Context, jobID string) (bool, error) {
	if _, ok := f.jobs[jobID]; !ok {
		return false, nil
	}
	f.cancelled = append(f.cancelled, jobID)
	return true, nil
}

func (f *fakeJobs) Status(_ context.Context, jobID string) (extraction.Job, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return extraction.Job{}, extraction.ErrJobNotFound
	}
	return job, nil
}

func (f *fakeJobs) Stats() (int, int) { return 2, 1 }

type fakeResources struct {
	paused  bool
	hasSnap bool
	snap    resource.Snapshot
}

func (f *fakeResources) Snapshot() (resource.Snapshot, bool) { return f.snap, f.hasSnap }
func (f *fakeResources) History() []resource.Snapshot {
	if !f.hasSnap {
		return nil
	}
	return []resource.Snapshot{f.snap}
}
func (f *fakeResources) Paused() bool { return f.paused }

type fakeBreakers struct {
	snapshots []breaker.Snapshot
}

func (f *fakeBreakers) Snapshots() []breaker.Snapshot { return f.snapshots }

type testClock struct{ now time.Time }

func (c testClock) Now() time.Time { return c.now }

type serverFixture struct {
	server    *Server
	jobs      *fakeJobs
	cache     *memory.Cache
	dlq       *memory.DeadLetterStore
	resources *fakeResources
}

func newFixture(t *testing.T, cfg config.Config) *serverFixture {
	t.Helper()
	clock := testClock{now: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}
	jobs := newFakeJobs()
	cache := memory.NewCache(clock)
	dlq := memory.NewDeadLetterStore(clock)
	resources := &fakeResources{}
	breakers := &fakeBreakers{snapshots: []breaker.Snapshot{
		{Name: "readability", State: breaker.StateClosed},
	}}
	server := NewServer(jobs, cache, dlq, resources, breakers, cfg, zap.NewNop())
	return &serverFixture{
		server:    server,
		jobs:      jobs,
		cache:     cache,
		dlq:       dlq,
		resources: resources,
	}
}

func doRequest(t *testing.T, server *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestSubmitJobAccepted(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.Config{})
	rec := doRequest(t, f.server, http.MethodPost, "/v1/jobs", map[string]any{
		"url":                "https://example.com/article",
		"snapshot_timestamp": "20240115023000",
		"priority":           "high",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "job-1", resp["job_id"])

	require.Len(t, f.jobs.scheduled, 1)
	job := f.jobs.scheduled[0]
	assert.Equal(t, extraction.JobTypeContentExtraction, job.Type)
	assert.Equal(t, extraction.PriorityHigh, job.Priority)
	assert.Equal(t, "https://example.com/article", job.Parameters.URL)
	assert.Equal(t, "20240115023000", job.Parameters.SnapshotTimestamp)
}

func TestSubmitJobValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.Config{})

	rec := doRequest(t, f.server, http.MethodPost, "/v1/jobs", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing url")

	rec = doRequest(t, f.server, http.MethodPost, "/v1/jobs", map[string]any{"url": "not a url"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "malformed url")

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewReader([]byte("{")))
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "invalid JSON")
}

func TestJobStatusEndpoint(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.Config{})
	f.jobs.jobs["job-7"] = extraction.Job{ID: "job-7", Status: extraction.JobStatusRunning}

	rec := doRequest(t, f.server, http.MethodGet, "/v1/jobs/job-7/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"running"`)

	rec = doRequest(t, f.server, http.MethodGet, "/v1/jobs/missing/status", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobResultEndpoint(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.Config{})
	params := extraction.JobParameters{
		URL:               "https://example.com/article",
		SnapshotTimestamp: "20240115023000",
	}
	f.jobs.jobs["running"] = extraction.Job{
		ID:         "running",
		Type:       extraction.JobTypeContentExtraction,
		Status:     extraction.JobStatusRunning,
		Parameters: params,
	}
	f.jobs.jobs["done"] = extraction.Job{
		ID:         "done",
		Type:       extraction.JobTypeContentExtraction,
		Status:     extraction.JobStatusCompleted,
		Parameters: params,
	}
	f.jobs.jobs["batch"] = extraction.Job{
		ID:     "batch",
		Type:   extraction.JobTypeAnalyticsBatch,
		Status: extraction.JobStatusCompleted,
	}

	rec := doRequest(t, f.server, http.MethodGet, "/v1/jobs/running/result", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "result only available once completed")

	rec = doRequest(t, f.server, http.MethodGet, "/v1/jobs/done/result", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "nothing cached yet")

	rec = doRequest(t, f.server, http.MethodGet, "/v1/jobs/batch/result", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "produces no result")

	fingerprint, err := extraction.Fingerprint(params.URL, params.SnapshotTimestamp)
	require.NoError(t, err)
	result := &extraction.Result{URL: params.URL, Title: "Archived Article", WordCount: 200}
	require.NoError(t, f.cache.Set(context.Background(), fingerprint, result, time.Hour))

	rec = doRequest(t, f.server, http.MethodGet, "/v1/jobs/done/result", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Archived Article")
}

func TestCancelJobEndpoint(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.Config{})
	f.jobs.jobs["job-9"] = extraction.Job{ID: "job-9", Status: extraction.JobStatusPending}

	rec := doRequest(t, f.server, http.MethodPost, "/v1/jobs/job-9/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"job-9"}, f.jobs.cancelled)

	rec = doRequest(t, f.server, http.MethodPost, "/v1/jobs/missing/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDeadLetterEndpoints(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.Config{})
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	require.NoError(t, f.dlq.Enqueue(context.Background(), extraction.DeadLetterEntry{
		JobID:    "job-1",
		FailedAt: now.Add(-48 * time.Hour),
	}))
	require.NoError(t, f.dlq.Enqueue(context.Background(), extraction.DeadLetterEntry{
		JobID:    "job-2",
		FailedAt: now,
	}))

	rec := doRequest(t, f.server, http.MethodGet, "/v1/dlq?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listResp struct {
		Entries []extraction.DeadLetterEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listResp))
	require.Len(t, listResp.Entries, 2)
	assert.Equal(t, "job-2", listResp.Entries[0].JobID)

	rec = doRequest(t, f.server, http.MethodPost, "/v1/dlq/purge", map[string]string{"older_than": "24h"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"removed":1`)

	rec = doRequest(t, f.server, http.MethodPost, "/v1/dlq/purge", map[string]string{"older_than": "soon"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSystemEndpoints(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.Config{})
	f.resources.hasSnap = true
	f.resources.snap = resource.Snapshot{CPUPercent: 42, MemoryPercent: 60}

	rec := doRequest(t, f.server, http.MethodGet, "/v1/system/resources", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"queued":2`)
	assert.Contains(t, rec.Body.String(), `"running":1`)

	rec = doRequest(t, f.server, http.MethodGet, "/v1/system/breakers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "readability")
}

func TestReadyzReportsPaused(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.Config{})
	rec := doRequest(t, f.server, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	f.resources.paused = true
	rec = doRequest(t, f.server, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = "secret"
	f := newFixture(t, cfg)

	rec := doRequest(t, f.server, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
