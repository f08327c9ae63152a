package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pagevault/extractor/internal/clock/system"
	"github.com/pagevault/extractor/internal/hash/sha256"
	"github.com/pagevault/extractor/internal/storage/memory"
)

func newTestFetcher(t *testing.T, blobs *memory.BlobStore) *CollyFetcher {
	t.Helper()
	var fetcher *CollyFetcher
	var err error
	if blobs != nil {
		fetcher, err = NewCollyFetcher(Config{}, sha256.New(), blobs, system.New(), zap.NewNop())
	} else {
		fetcher, err = NewCollyFetcher(Config{}, sha256.New(), nil, system.New(), zap.NewNop())
	}
	require.NoError(t, err)
	return fetcher
}

func TestFetchReturnsPage(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body>archived page</body></html>"))
	}))
	defer server.Close()

	fetcher := newTestFetcher(t, nil)
	page, err := fetcher.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, server.URL, page.URL)
	assert.Contains(t, string(page.Body), "archived page")
	assert.Contains(t, page.ContentType, "text/html")
	assert.NotEmpty(t, page.ContentHash)
	assert.False(t, page.FetchedAt.IsZero())
	assert.Empty(t, page.BlobURI, "no blob store configured")
}

func TestFetchArchivesCapture(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html><body>kept forever</body></html>"))
	}))
	defer server.Close()

	blobs := memory.NewBlobStore()
	fetcher := newTestFetcher(t, blobs)
	page, err := fetcher.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	require.NotEmpty(t, page.BlobURI)
	assert.Equal(t, "mem://captures/"+page.ContentHash+".html", page.BlobURI)

	stored, ok := blobs.GetObject(context.Background(), "captures/"+page.ContentHash+".html")
	require.True(t, ok)
	assert.Equal(t, page.Body, stored)
}

func TestFetchReportsHTTPErrors(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	fetcher := newTestFetcher(t, nil)
	_, err := fetcher.Fetch(context.Background(), server.URL)
	require.Error(t, err)
}

func TestFetchHonorsCancelledContext(t *testing.T) {
	t.Parallel()

	fetcher := newTestFetcher(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fetcher.Fetch(ctx, "http://127.0.0.1:1/unreachable")
	require.Error(t, err)
}

func TestLimiterThrottlesPerDomain(t *testing.T) {
	t.Parallel()

	limiter := NewLimiter(RateLimitConfig{RPS: 50, Burst: 1})
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, limiter.Wait(ctx, "https://example.com/a"))
	require.NoError(t, limiter.Wait(ctx, "https://example.com/b"))
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond,
		"second request to the same domain must wait for a token")

	// A different domain has its own bucket.
	start = time.Now()
	require.NoError(t, limiter.Wait(ctx, "https://other.example.org/a"))
	assert.Less(t, time.Since(start), 10*time.Millisecond)
}

func TestLimiterUnlimitedByDefault(t *testing.T) {
	t.Parallel()

	limiter := NewLimiter(RateLimitConfig{})
	ctx := context.Background()
	start := time.Now()
	for range 10 {
		require.NoError(t, limiter.Wait(ctx, "https://example.com"))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}
