// Package app initializes and holds long-lived application services, acting
// as the composition root for the extraction service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pagevault/extractor/internal/api"
	"github.com/pagevault/extractor/internal/breaker"
	"github.com/pagevault/extractor/internal/clock/system"
	"github.com/pagevault/extractor/internal/config"
	"github.com/pagevault/extractor/internal/events"
	"github.com/pagevault/extractor/internal/events/sinks"
	"github.com/pagevault/extractor/internal/extraction"
	"github.com/pagevault/extractor/internal/fetch"
	"github.com/pagevault/extractor/internal/hash/sha256"
	"github.com/pagevault/extractor/internal/id/uuid"
	"github.com/pagevault/extractor/internal/logging"
	"github.com/pagevault/extractor/internal/metrics"
	"github.com/pagevault/extractor/internal/resource"
	"github.com/pagevault/extractor/internal/scheduler"
	gcsstore "github.com/pagevault/extractor/internal/storage/gcs"
	"github.com/pagevault/extractor/internal/storage/local"
	"github.com/pagevault/extractor/internal/storage/memory"
	pgstore "github.com/pagevault/extractor/internal/storage/postgres"
	redisstore "github.com/pagevault/extractor/internal/storage/redis"
)

// App holds all the shared, long-lived services for the extraction service.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	scheduler *scheduler.Scheduler
	monitor   *resource.Monitor
	hub       *events.Hub
	registry  *breaker.Registry
	chain     *extraction.Chain
	server    *api.Server
	closers   []func()
}

// New builds the full service graph from configuration. It fails fast if
// any provider cannot be initialized.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	metrics.Init()

	a := &App{cfg: cfg, logger: logger}
	clock := system.New()
	idGen := uuid.New()
	hasher := sha256.New()

	var redisClient *goredis.Client
	if cfg.Cache.Provider == "redis" {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		a.closers = append(a.closers, func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("close redis client", zap.Error(err))
			}
		})
	}

	var cache extraction.Cache
	switch cfg.Cache.Provider {
	case "redis":
		logger.Info("using redis result cache", zap.String("addr", cfg.Cache.RedisAddr))
		cache = redisstore.NewCache(redisClient)
	default:
		cache = memory.NewCache(clock)
	}

	var (
		jobStore extraction.JobStore
		dlq      extraction.DeadLetterStore
	)
	switch cfg.Storage.JobsProvider {
	case "postgres":
		logger.Info("using postgres job storage")
		poolCfg := pgstore.PoolConfig{
			DSN:             cfg.DB.DSN,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: cfg.DB.MaxConnLifetime,
		}
		pool, poolErr := pgstore.NewPool(ctx, poolCfg)
		if poolErr != nil {
			return nil, fmt.Errorf("initialize postgres: %w", poolErr)
		}
		a.closers = append(a.closers, pool.Close)
		pgJobs, storeErr := pgstore.NewJobStoreWithPool(pool)
		if storeErr != nil {
			return nil, storeErr
		}
		pgDLQ, dlqErr := pgstore.NewDeadLetterStoreWithPool(pool, clock)
		if dlqErr != nil {
			return nil, dlqErr
		}
		jobStore, dlq = pgJobs, pgDLQ
	default:
		jobStore = memory.NewJobStore()
		if redisClient != nil {
			// Redis is already around for the cache; prefer it over a
			// process-local DLQ so entries survive restarts.
			dlq = redisstore.NewDeadLetterStore(redisClient, clock)
		} else {
			dlq = memory.NewDeadLetterStore(clock)
		}
	}

	var blobs extraction.BlobStore
	switch cfg.Storage.BlobProvider {
	case "none":
		blobs = nil
	case "memory":
		blobs = memory.NewBlobStore()
	case "local":
		localStore, localErr := local.New(local.Config{BaseDir: cfg.Storage.LocalBaseDir})
		if localErr != nil {
			return nil, fmt.Errorf("initialize local blob store: %w", localErr)
		}
		blobs = localStore
	case "gcs":
		client, gcsErr := storage.NewClient(ctx)
		if gcsErr != nil {
			return nil, fmt.Errorf("initialize gcs client: %w", gcsErr)
		}
		a.closers = append(a.closers, func() {
			if err := client.Close(); err != nil {
				logger.Warn("close gcs client", zap.Error(err))
			}
		})
		gcsBlobs, gcsErr := gcsstore.New(client, gcsstore.Config{Bucket: cfg.Storage.GCSBucket})
		if gcsErr != nil {
			return nil, gcsErr
		}
		blobs = gcsBlobs
	}

	eventSinks := []events.Sink{
		sinks.NewLogSink(logger),
		sinks.NewPrometheusSink(),
	}
	if cfg.PubSub.Enabled {
		client, psErr := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if psErr != nil {
			return nil, fmt.Errorf("initialize pubsub client: %w", psErr)
		}
		a.closers = append(a.closers, func() {
			if err := client.Close(); err != nil {
				logger.Warn("close pubsub client", zap.Error(err))
			}
		})
		logger.Info("publishing job completions to pubsub",
			zap.String("topic", cfg.PubSub.TopicName))
		eventSinks = append(eventSinks, sinks.NewPubSubSink(client.Topic(cfg.PubSub.TopicName)))
	}
	a.hub = events.NewHub(events.Config{Logger: logger}, eventSinks...)

	a.registry = breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Cooldown:         cfg.Breaker.Cooldown,
		MaxCooldown:      cfg.Breaker.MaxCooldown,
		Clock:            clock,
	}, func(name string, from, to breaker.State) {
		a.hub.Emit(events.Event{
			Kind:     events.KindBreakerTransition,
			Strategy: name,
			From:     string(from),
			To:       string(to),
		})
	})

	fetcher, err := fetch.NewCollyFetcher(fetch.Config{
		UserAgent:      cfg.Fetch.UserAgent,
		RequestTimeout: cfg.Fetch.RequestTimeout,
		MaxBodySize:    cfg.Fetch.MaxBodySize,
		Concurrency:    cfg.Fetch.Concurrency,
		RateLimit: fetch.RateLimitConfig{
			RPS:   cfg.Fetch.RateLimitRPS,
			Burst: cfg.Fetch.RateLimitBurst,
		},
	}, hasher, blobs, clock, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize fetcher: %w", err)
	}

	strategies, err := buildStrategies(cfg.Extraction.Strategies)
	if err != nil {
		return nil, err
	}
	a.chain = extraction.NewChain(fetcher, strategies, a.registry, cache, extraction.ChainConfig{
		AttemptTimeout: cfg.Extraction.AttemptTimeout,
		MinWordCount:   cfg.Extraction.MinWordCount,
		CacheTTL:       cfg.Extraction.CacheTTL,
	}, logger)

	a.monitor = resource.NewMonitor(
		resource.NewSystemSampler(cfg.Resource.DiskPath),
		resource.Config{
			Interval:    cfg.Resource.Interval,
			HistorySize: cfg.Resource.HistorySize,
			Thresholds: resource.Thresholds{
				MaxMemoryPercent:      cfg.Resource.MaxMemoryPercent,
				MaxCPUPercent:         cfg.Resource.MaxCPUPercent,
				MemoryHeadroomFactor:  cfg.Resource.MemoryHeadroomFactor,
				MinDiskFree:           cfg.Resource.MinDiskFree,
				CriticalMemoryPercent: cfg.Resource.CriticalMemoryPercent,
				CriticalDiskFree:      cfg.Resource.CriticalDiskFree,
				RecoveryMemoryPercent: cfg.Resource.RecoveryMemoryPercent,
				RecoveryDiskFree:      cfg.Resource.RecoveryDiskFree,
			},
		},
		logger,
	)

	autoJobs := make(map[extraction.JobType]time.Duration, len(cfg.Scheduler.AutoJobs))
	for name, cooldown := range cfg.Scheduler.AutoJobs {
		autoJobs[extraction.JobType(name)] = cooldown
	}
	a.scheduler = scheduler.New(jobStore, dlq, a.monitor, clock, idGen, a.hub, scheduler.Config{
		Concurrency:          cfg.Scheduler.Concurrency,
		PollInterval:         cfg.Scheduler.PollInterval,
		JobTimeout:           cfg.Scheduler.JobTimeout,
		TimeoutCheckInterval: cfg.Scheduler.TimeoutCheckInterval,
		MaxRetryDelay:        cfg.Scheduler.MaxRetryDelay,
		DefaultMaxRetries:    cfg.Scheduler.DefaultMaxRetries,
		AutoJobs:             autoJobs,
		AutoCheckInterval:    cfg.Scheduler.AutoCheckInterval,
		ShutdownGrace:        cfg.Scheduler.ShutdownGrace,
	}, logger)
	registerExecutors(a.scheduler, a.chain, jobStore, dlq, logger)

	a.server = api.NewServer(a.scheduler, cache, dlq, a.monitor, a.registry, cfg, logger)
	return a, nil
}

func buildStrategies(names []string) ([]extraction.Strategy, error) {
	if len(names) == 0 {
		names = []string{"readability", "dom", "plaintext"}
	}
	strategies := make([]extraction.Strategy, 0, len(names))
	for _, name := range names {
		switch name {
		case "readability":
			strategies = append(strategies, extraction.NewReadabilityStrategy())
		case "dom":
			strategies = append(strategies, extraction.NewDOMStrategy())
		case "plaintext":
			strategies = append(strategies, extraction.NewTextStrategy())
		default:
			return nil, fmt.Errorf("unknown extraction strategy %q", name)
		}
	}
	return strategies, nil
}

// Run starts the monitor, scheduler, and HTTP server, blocking until ctx is
// cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.monitor.Run(runCtx)

	schedDone := make(chan struct{})
	go func() {
		a.scheduler.Run(runCtx)
		close(schedDone)
	}()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", zap.Int("port", a.cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case runErr = <-errCh:
		cancel()
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown", zap.Error(err))
	}
	<-schedDone
	if err := a.hub.Close(shutdownCtx); err != nil {
		a.logger.Warn("event hub shutdown", zap.Error(err))
	}
	return runErr
}

// Close releases provider resources. Call after Run returns.
func (a *App) Close() {
	for _, fn := range a.closers {
		fn()
	}
	if err := a.logger.Sync(); err != nil {
		// Best effort; stdout sync fails on some platforms.
		_ = err
	}
}

// Handler exposes the HTTP handler (primarily for testing).
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}
