// Package fetch retrieves archived pages over HTTP with per-domain
// politeness and optional raw-capture archiving.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/pagevault/extractor/internal/extraction"
	"github.com/pagevault/extractor/internal/metrics"
)

// Config controls the HTTP fetcher.
type Config struct {
	UserAgent      string          `mapstructure:"user_agent"`
	RequestTimeout time.Duration   `mapstructure:"request_timeout"`
	MaxBodySize    int             `mapstructure:"max_body_size"`
	Concurrency    int             `mapstructure:"concurrency"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit"`
}

func (c Config) withDefaults() Config {
	if c.UserAgent == "" {
		c.UserAgent = "pagevault-extractor/1.0"
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.MaxBodySize <= 0 {
		c.MaxBodySize = 10 << 20
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	return c
}

// CollyFetcher implements extraction.Fetcher using the Colly collector.
// Each fetch runs on a clone of the base collector so per-request handlers
// never leak between calls.
type CollyFetcher struct {
	baseCollector *colly.Collector
	limiter       *Limiter
	hasher        extraction.Hasher
	blobs         extraction.BlobStore
	clock         extraction.Clock
	logger        *zap.Logger
}

// NewCollyFetcher constructs a configured Colly-based fetcher. The blob
// store is optional; when present every fetched body is archived and the
// page carries its blob URI.
func NewCollyFetcher(
	cfg Config,
	hasher extraction.Hasher,
	blobs extraction.BlobStore,
	clock extraction.Clock,
	logger *zap.Logger,
) (*CollyFetcher, error) {
	cfg = cfg.withDefaults()
	base := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.MaxBodySize(cfg.MaxBodySize),
	)
	base.AllowURLRevisit = true
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          128,
		MaxIdleConnsPerHost:   32,
		MaxConnsPerHost:       cfg.Concurrency * 2,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.RequestTimeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(cfg.RequestTimeout)

	return &CollyFetcher{
		baseCollector: base,
		limiter:       NewLimiter(cfg.RateLimit),
		hasher:        hasher,
		blobs:         blobs,
		clock:         clock,
		logger:        logger,
	}, nil
}

type fetchResult struct {
	page       extraction.Page
	statusCode int
	err        error
}

// Fetch retrieves a page, hashes its body, and archives the raw capture
// when a blob store is configured.
func (f *CollyFetcher) Fetch(ctx context.Context, rawURL string) (extraction.Page, error) {
	if err := f.limiter.Wait(ctx, rawURL); err != nil {
		return extraction.Page{}, err
	}

	start := time.Now()
	collector := f.baseCollector.Clone()
	resultCh := make(chan fetchResult, 1)
	var once sync.Once
	send := func(res fetchResult) {
		once.Do(func() {
			resultCh <- res
		})
	}

	collector.OnResponse(func(r *colly.Response) {
		contentType := ""
		if r.Headers != nil {
			contentType = r.Headers.Get("Content-Type")
		}
		page := extraction.Page{
			URL:         rawURL,
			Body:        append([]byte{}, r.Body...),
			ContentType: contentType,
			FetchedAt:   f.clock.Now(),
		}
		send(fetchResult{page: page, statusCode: r.StatusCode})
	})

	collector.OnError(func(r *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		statusCode := 0
		if r != nil {
			statusCode = r.StatusCode
		}
		send(fetchResult{statusCode: statusCode, err: err})
	})

	if err := collector.Visit(rawURL); err != nil {
		metrics.ObserveFetch("error", time.Since(start))
		return extraction.Page{}, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	collector.Wait()

	var res fetchResult
	select {
	case res = <-resultCh:
	default:
		return extraction.Page{}, errors.New("fetch produced no result")
	}
	metrics.ObserveFetch(statusLabel(res.statusCode), time.Since(start))

	if err := ctx.Err(); err != nil {
		return extraction.Page{}, err
	}
	if res.err != nil {
		return extraction.Page{}, fmt.Errorf("fetch %s: %w", rawURL, res.err)
	}

	page := res.page
	if f.hasher != nil {
		hash, err := f.hasher.Hash(page.Body)
		if err != nil {
			return extraction.Page{}, fmt.Errorf("hash body: %w", err)
		}
		page.ContentHash = hash
	}
	if f.blobs != nil && page.ContentHash != "" {
		uri, err := f.blobs.PutObject(ctx, capturePath(page), page.ContentType, page.Body)
		if err != nil {
			// The extraction can still proceed from the in-memory body.
			f.logger.Warn("archive capture failed",
				zap.String("url", rawURL),
				zap.Error(err))
		} else {
			page.BlobURI = uri
		}
	}
	return page, nil
}

func capturePath(page extraction.Page) string {
	return "captures/" + page.ContentHash + ".html"
}

func statusLabel(code int) string {
	if code == 0 {
		return "error"
	}
	return strconv.Itoa(code)
}
