package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pagevault/extractor/internal/extraction"
	"github.com/pagevault/extractor/internal/scheduler"
)

// deadLetterRetention bounds how long permanently failed jobs stay listable
// before the recurring analytics batch reaps them.
const deadLetterRetention = 30 * 24 * time.Hour

func registerExecutors(
	s *scheduler.Scheduler,
	chain *extraction.Chain,
	jobs extraction.JobStore,
	dlq extraction.DeadLetterStore,
	logger *zap.Logger,
) {
	s.RegisterExecutor(extraction.JobTypeContentExtraction, &extractExecutor{chain: chain})
	s.RegisterExecutor(extraction.JobTypeAnalyticsBatch, &analyticsExecutor{dlq: dlq, logger: logger})
	s.RegisterExecutor(extraction.JobTypeSystemEvent, &heartbeatExecutor{jobs: jobs, logger: logger})
}

// extractExecutor runs the strategy chain for one archived page. The chain
// caches its result keyed by content fingerprint; the API reads it back
// from there.
type extractExecutor struct {
	chain *extraction.Chain
}

func (e *extractExecutor) Execute(ctx context.Context, job extraction.Job) error {
	_, err := e.chain.Extract(ctx, job.Parameters.URL, job.Parameters.SnapshotTimestamp)
	return err
}

// analyticsExecutor is the recurring maintenance batch: it reaps aged
// dead-letter entries so the queue stays bounded.
type analyticsExecutor struct {
	dlq    extraction.DeadLetterStore
	logger *zap.Logger
}

func (e *analyticsExecutor) Execute(ctx context.Context, _ extraction.Job) error {
	removed, err := e.dlq.PurgeOlderThan(ctx, deadLetterRetention)
	if err != nil {
		return err
	}
	if removed > 0 {
		e.logger.Info("reaped aged dead-letter entries", zap.Int("removed", removed))
	}
	return nil
}

// heartbeatExecutor logs a queue census for operators watching the logs
// rather than the metrics endpoint.
type heartbeatExecutor struct {
	jobs   extraction.JobStore
	logger *zap.Logger
}

func (e *heartbeatExecutor) Execute(ctx context.Context, _ extraction.Job) error {
	census := make(map[string]int)
	for _, status := range []extraction.JobStatus{
		extraction.JobStatusPending,
		extraction.JobStatusRunning,
		extraction.JobStatusCompleted,
		extraction.JobStatusFailed,
		extraction.JobStatusCancelled,
	} {
		listed, err := e.jobs.ListJobs(ctx, status, 0)
		if err != nil {
			return err
		}
		census[string(status)] = len(listed)
	}
	e.logger.Info("job census",
		zap.Int("pending", census["pending"]),
		zap.Int("running", census["running"]),
		zap.Int("completed", census["completed"]),
		zap.Int("failed", census["failed"]),
		zap.Int("cancelled", census["cancelled"]))
	return nil
}
