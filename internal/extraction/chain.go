package extraction

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pagevault/extractor/internal/metrics"
)

// Breakers gates strategy attempts. Implemented by the breaker registry; a
// consumer-side interface keeps the chain testable with a stub.
type Breakers interface {
	Allow(strategy string) bool
	RecordSuccess(strategy string)
	RecordFailure(strategy string)
	Cancel(strategy string)
}

// ChainConfig controls chain behavior.
type ChainConfig struct {
	// AttemptTimeout bounds a single strategy attempt.
	AttemptTimeout time.Duration
	// MinWordCount is the quality bar; output below it cascades as failure.
	MinWordCount int
	// CacheTTL is how long extraction results stay memoized.
	CacheTTL time.Duration
}

func (c ChainConfig) withDefaults() ChainConfig {
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 15 * time.Second
	}
	if c.MinWordCount <= 0 {
		c.MinWordCount = 50
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 24 * time.Hour
	}
	return c
}

// Chain runs extraction strategies in fixed priority order, skipping any
// whose breaker is open and falling back down the list on failure.
type Chain struct {
	fetcher    Fetcher
	strategies []Strategy
	breakers   Breakers
	cache      Cache
	cfg        ChainConfig
	logger     *zap.Logger
}

// NewChain constructs a Chain. The strategy slice is the closed, ordered
// fallback list; fastest and highest quality first.
func NewChain(
	fetcher Fetcher,
	strategies []Strategy,
	breakers Breakers,
	cache Cache,
	cfg ChainConfig,
	logger *zap.Logger,
) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{
		fetcher:    fetcher,
		strategies: strategies,
		breakers:   breakers,
		cache:      cache,
		cfg:        cfg.withDefaults(),
		logger:     logger,
	}
}

// Extract fetches the archived page for rawURL and runs the strategy chain
// over it. A warm cache returns the memoized result without re-fetching.
// When every strategy fails or is unavailable it returns *ExhaustedError
// carrying the per-strategy attempts. Malformed URLs and unreachable
// snapshots fail fast without consuming strategy attempts.
func (c *Chain) Extract(ctx context.Context, rawURL, snapshotTimestamp string) (*Result, error) {
	fingerprint, err := Fingerprint(rawURL, snapshotTimestamp)
	if err != nil {
		return nil, err
	}

	if cached, ok, cacheErr := c.cache.Get(ctx, fingerprint); cacheErr != nil {
		c.logger.Warn("cache lookup failed", zap.String("url", rawURL), zap.Error(cacheErr))
	} else if ok {
		metrics.IncCacheLookup("hit")
		return cached, nil
	} else {
		metrics.IncCacheLookup("miss")
	}

	page, err := c.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}

	attempts := make([]Attempt, 0, len(c.strategies))
	for _, strategy := range c.strategies {
		name := strategy.Name()
		if !c.breakers.Allow(name) {
			c.logger.Debug("strategy skipped, breaker open",
				zap.String("url", rawURL),
				zap.String("strategy", name))
			metrics.IncExtractionAttempt(name, "skipped")
			continue
		}

		result, attemptErr := c.attempt(ctx, strategy, page)
		if attemptErr != nil {
			if ctx.Err() != nil {
				// A cancelled attempt records neither success nor failure.
				c.breakers.Cancel(name)
				return nil, ctx.Err()
			}
			c.breakers.RecordFailure(name)
			metrics.IncExtractionAttempt(name, "failure")
			c.logger.Warn("strategy attempt failed",
				zap.String("url", rawURL),
				zap.String("strategy", name),
				zap.Error(attemptErr))
			attempts = append(attempts, Attempt{
				Strategy: name,
				Error:    attemptErr.Error(),
				At:       time.Now().UTC(),
			})
			continue
		}

		c.breakers.RecordSuccess(name)
		metrics.IncExtractionAttempt(name, "success")
		metrics.ObserveExtractionDuration(name, result.ExtractionTime)
		if ScriptRendered(page.Body) {
			result.Warnings = append(result.Warnings,
				"page appears script-rendered; the archived snapshot may be missing content")
		}
		if err := c.cache.Set(ctx, fingerprint, result, c.cfg.CacheTTL); err != nil {
			c.logger.Warn("cache store failed", zap.String("url", rawURL), zap.Error(err))
		}
		return result, nil
	}

	return nil, &ExhaustedError{URL: rawURL, Attempts: attempts}
}

// attempt runs one strategy under the attempt timeout. The strategy runs in
// its own goroutine so a wedged parser cannot stall the chain past the
// deadline.
func (c *Chain) attempt(ctx context.Context, strategy Strategy, page Page) (*Result, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
	defer cancel()

	type outcome struct {
		result *Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := strategy.Extract(attemptCtx, page)
		done <- outcome{result: result, err: err}
	}()

	select {
	case <-attemptCtx.Done():
		return nil, fmt.Errorf("strategy %s: %w", strategy.Name(), attemptCtx.Err())
	case out := <-done:
		if out.err != nil {
			return nil, out.err
		}
		if out.result.WordCount < c.cfg.MinWordCount {
			c.logger.Debug("partial content below quality bar",
				zap.String("url", page.URL),
				zap.String("strategy", strategy.Name()),
				zap.Int("word_count", out.result.WordCount))
			return nil, fmt.Errorf("%w: %d words", ErrLowQuality, out.result.WordCount)
		}
		return out.result, nil
	}
}
