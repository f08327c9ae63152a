package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pagevault/extractor/internal/events"
	"github.com/pagevault/extractor/internal/extraction"
	"github.com/pagevault/extractor/internal/metrics"
)

// Executor runs one job to completion. Implementations must honor ctx
// cancellation promptly; a cancelled execution aborts in-flight I/O.
type Executor interface {
	Execute(ctx context.Context, job extraction.Job) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, job extraction.Job) error

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, job extraction.Job) error {
	return f(ctx, job)
}

// Admission gates job dispatch on resource headroom.
type Admission interface {
	HasCapacityFor(job extraction.Job) bool
	Paused() bool
}

// Cancellation causes distinguished when a running job's context ends.
var (
	errCancelledByCaller = errors.New("job cancelled")
	errTimedOut          = errors.New("job timed out")
	errShuttingDown      = errors.New("scheduler shutting down")
)

// Config controls scheduler behavior.
type Config struct {
	// Concurrency bounds the number of jobs running at once.
	Concurrency int
	// PollInterval is the dispatch loop tick.
	PollInterval time.Duration
	// JobTimeout is the global running-time limit enforced by the timeout
	// monitor. Exceeding it counts as a failure for retry purposes.
	JobTimeout time.Duration
	// TimeoutCheckInterval is the timeout monitor tick.
	TimeoutCheckInterval time.Duration
	// MaxRetryDelay caps the exponential retry backoff.
	MaxRetryDelay time.Duration
	// DefaultMaxRetries applies to jobs submitted without a retry budget.
	DefaultMaxRetries int
	// AutoJobs maps job types to the cooldown between recurring auto-runs.
	AutoJobs map[extraction.JobType]time.Duration
	// AutoCheckInterval is the auto-scheduler tick.
	AutoCheckInterval time.Duration
	// ShutdownGrace bounds the wait for running jobs during shutdown.
	ShutdownGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 10 * time.Minute
	}
	if c.TimeoutCheckInterval <= 0 {
		c.TimeoutCheckInterval = 15 * time.Second
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = 30 * time.Minute
	}
	if c.DefaultMaxRetries <= 0 {
		c.DefaultMaxRetries = 3
	}
	if c.AutoCheckInterval <= 0 {
		c.AutoCheckInterval = time.Minute
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 30 * time.Second
	}
	return c
}

type runningJob struct {
	job       extraction.Job
	cancel    context.CancelCauseFunc
	startedAt time.Time
}

// Scheduler owns the job queue and the three periodic loops: dispatch,
// timeout monitoring, and recurring auto-scheduling. The queue and running
// set are the only shared mutable state; both live behind one mutex.
type Scheduler struct {
	cfg       Config
	store     extraction.JobStore
	dlq       extraction.DeadLetterStore
	admission Admission
	clock     extraction.Clock
	idGen     extraction.IDGenerator
	emitter   events.Emitter
	logger    *zap.Logger

	mu          sync.Mutex
	queue       *jobQueue
	running     map[string]*runningJob
	lastAutoRun map[extraction.JobType]time.Time
	executors   map[extraction.JobType]Executor
	draining    bool

	wg sync.WaitGroup
}

// New constructs a Scheduler. Register executors before calling Run.
func New(
	store extraction.JobStore,
	dlq extraction.DeadLetterStore,
	admission Admission,
	clock extraction.Clock,
	idGen extraction.IDGenerator,
	emitter events.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:         cfg.withDefaults(),
		store:       store,
		dlq:         dlq,
		admission:   admission,
		clock:       clock,
		idGen:       idGen,
		emitter:     emitter,
		logger:      logger,
		queue:       newJobQueue(),
		running:     make(map[string]*runningJob),
		lastAutoRun: make(map[extraction.JobType]time.Time),
		executors:   make(map[extraction.JobType]Executor),
	}
}

// RegisterExecutor binds an executor to a job type. Not safe to call after
// Run has started.
func (s *Scheduler) RegisterExecutor(jobType extraction.JobType, executor Executor) {
	s.executors[jobType] = executor
}

// Schedule validates and enqueues a job, returning its ID. Zero-valued
// fields receive defaults; ScheduledAt in the future delays dispatch.
func (s *Scheduler) Schedule(ctx context.Context, job extraction.Job) (string, error) {
	if job.Type == "" {
		return "", errors.New("job type is required")
	}
	if job.ID == "" {
		id, err := s.idGen.NewID()
		if err != nil {
			return "", fmt.Errorf("generate job id: %w", err)
		}
		job.ID = id
	}
	if job.Priority == 0 {
		job.Priority = extraction.PriorityNormal
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = s.cfg.DefaultMaxRetries
	}
	now := s.clock.Now()
	if job.ScheduledAt.IsZero() {
		job.ScheduledAt = now
	}
	job.Status = extraction.JobStatusPending
	job.RetryCount = 0
	job.Progress = 0

	if err := s.store.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("persist job: %w", err)
	}

	s.mu.Lock()
	s.queue.Add(job)
	depth := s.queue.Len()
	s.mu.Unlock()
	metrics.SetQueueDepth(depth)

	s.logger.Info("job scheduled",
		zap.String("job_id", job.ID),
		zap.String("type", string(job.Type)),
		zap.String("priority", job.Priority.String()),
		zap.Time("scheduled_at", job.ScheduledAt))
	return job.ID, nil
}

// Status returns the current job record.
func (s *Scheduler) Status(ctx context.Context, jobID string) (extraction.Job, error) {
	return s.store.GetJob(ctx, jobID)
}

// Cancel cancels a job. Pending jobs leave the queue immediately; running
// jobs are flagged and their workers observe the cancellation within the
// executor's polling bounds. Returns false if the job is unknown or already
// terminal.
func (s *Scheduler) Cancel(ctx context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	if job, ok := s.queue.Remove(jobID); ok {
		depth := s.queue.Len()
		s.mu.Unlock()
		metrics.SetQueueDepth(depth)
		if _, err := s.finalize(ctx, job, extraction.JobStatusCancelled, ""); err != nil {
			return false, err
		}
		return true, nil
	}
	if rj, ok := s.running[jobID]; ok {
		rj.cancel(errCancelledByCaller)
		s.mu.Unlock()
		return true, nil
	}
	s.mu.Unlock()
	return false, nil
}

// Stats reports queue depth and running-job count for the ops surface.
func (s *Scheduler) Stats() (queued, running int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len(), len(s.running)
}

// Run starts the dispatch, timeout-monitor, and auto-schedule loops and
// blocks until ctx finishes, then drains running jobs within the shutdown
// grace period.
func (s *Scheduler) Run(ctx context.Context) {
	var loops sync.WaitGroup
	loops.Add(3)
	go func() {
		defer loops.Done()
		s.loop(ctx, s.cfg.PollInterval, s.dispatchOnce)
	}()
	go func() {
		defer loops.Done()
		s.loop(ctx, s.cfg.TimeoutCheckInterval, s.checkTimeouts)
	}()
	go func() {
		defer loops.Done()
		s.loop(ctx, s.cfg.AutoCheckInterval, s.autoScheduleOnce)
	}()

	<-ctx.Done()
	loops.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
	defer cancel()
	s.Shutdown(shutdownCtx)
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	fn(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// Shutdown waits for running jobs up to the ctx deadline, then forcibly
// cancels the remainder.
func (s *Scheduler) Shutdown(ctx context.Context) {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return
	case <-ctx.Done():
	}

	s.mu.Lock()
	for _, rj := range s.running {
		rj.cancel(errShuttingDown)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// dispatchOnce starts as many eligible jobs as the concurrency limit and
// resource headroom allow. It never blocks waiting for a job to finish.
func (s *Scheduler) dispatchOnce(ctx context.Context) {
	for {
		if s.admission != nil && s.admission.Paused() {
			return
		}
		now := s.clock.Now()

		s.mu.Lock()
		if s.draining || len(s.running) >= s.cfg.Concurrency {
			s.mu.Unlock()
			return
		}
		job, ok := s.queue.PopEligible(now)
		if !ok {
			s.mu.Unlock()
			return
		}
		if s.admission != nil && !s.admission.HasCapacityFor(job) {
			// Not enough headroom; put it back and wait for the next tick.
			s.queue.Add(job)
			s.mu.Unlock()
			return
		}
		depth := s.queue.Len()
		s.mu.Unlock()
		metrics.SetQueueDepth(depth)

		s.start(ctx, job)
	}
}

func (s *Scheduler) start(ctx context.Context, job extraction.Job) {
	now := s.clock.Now()
	if err := ValidateTransition(job.Status, extraction.JobStatusRunning); err != nil {
		s.logger.Error("refusing dispatch", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	from := job.Status
	job.Status = extraction.JobStatusRunning
	job.StartedAt = &now
	if err := s.store.UpdateJob(ctx, job); err != nil {
		s.logger.Error("update job status", zap.String("job_id", job.ID), zap.Error(err))
	}
	s.emitJob(job, from)

	jobCtx, cancel := context.WithCancelCause(context.Background())
	rj := &runningJob{job: job, cancel: cancel, startedAt: now}

	s.mu.Lock()
	s.running[job.ID] = rj
	s.mu.Unlock()

	s.wg.Add(1)
	metrics.IncRunningJobs()
	go func() {
		defer s.wg.Done()
		defer metrics.DecRunningJobs()
		defer cancel(nil)
		s.runJob(jobCtx, job)
	}()
}

func (s *Scheduler) runJob(ctx context.Context, job extraction.Job) {
	err := s.execute(ctx, job)

	s.mu.Lock()
	delete(s.running, job.ID)
	s.mu.Unlock()

	// Detached from the job context: finalization must proceed even when the
	// job was cancelled or timed out.
	finalCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, errCancelledByCaller), errors.Is(cause, errShuttingDown):
		if _, err := s.finalize(finalCtx, job, extraction.JobStatusCancelled, ""); err != nil {
			s.logger.Error("finalize cancelled job", zap.String("job_id", job.ID), zap.Error(err))
		}
	case errors.Is(cause, errTimedOut):
		// Distinguished from an execution failure in logging only.
		s.logger.Warn("job exceeded global timeout", zap.String("job_id", job.ID))
		s.handleFailure(finalCtx, job, errTimedOut)
	case err != nil:
		s.handleFailure(finalCtx, job, err)
	default:
		job.Progress = 1
		if _, err := s.finalize(finalCtx, job, extraction.JobStatusCompleted, ""); err != nil {
			s.logger.Error("finalize completed job", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, job extraction.Job) error {
	executor, ok := s.executors[job.Type]
	if !ok {
		return fmt.Errorf("no executor registered for job type %s", job.Type)
	}
	return executor.Execute(ctx, job)
}

// handleFailure applies the retry policy: re-enter the queue with backoff
// while budget remains, otherwise fail terminally and push to the DLQ.
func (s *Scheduler) handleFailure(ctx context.Context, job extraction.Job, cause error) {
	job.Attempts = appendAttempts(job.Attempts, cause, s.clock.Now())

	failed, err := s.finalize(ctx, job, extraction.JobStatusFailed, cause.Error())
	if err != nil {
		s.logger.Error("finalize failed job", zap.String("job_id", job.ID), zap.Error(err))
	}
	job = failed
	job.Status = extraction.JobStatusFailed

	if job.RetryCount >= job.MaxRetries {
		s.pushDeadLetter(ctx, job)
		return
	}

	job.RetryCount++
	delay := retryDelay(job.RetryCount, s.cfg.MaxRetryDelay)
	from := job.Status
	job.Status = extraction.JobStatusPending
	job.ScheduledAt = s.clock.Now().Add(delay)
	job.StartedAt = nil
	job.CompletedAt = nil
	if err := s.store.UpdateJob(ctx, job); err != nil {
		s.logger.Error("update retried job", zap.String("job_id", job.ID), zap.Error(err))
	}
	s.emitJob(job, from)

	s.mu.Lock()
	s.queue.Add(job)
	depth := s.queue.Len()
	s.mu.Unlock()
	metrics.SetQueueDepth(depth)

	s.logger.Info("job retry scheduled",
		zap.String("job_id", job.ID),
		zap.Int("retry", job.RetryCount),
		zap.Int("max_retries", job.MaxRetries),
		zap.Duration("delay", delay))
}

func (s *Scheduler) pushDeadLetter(ctx context.Context, job extraction.Job) {
	entry := extraction.DeadLetterEntry{
		JobID:    job.ID,
		Job:      job,
		Attempts: job.Attempts,
		FailedAt: s.clock.Now(),
	}
	if err := s.dlq.Enqueue(ctx, entry); err != nil {
		s.logger.Error("dead-letter enqueue failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	metrics.IncDeadLetter()
	s.logger.Warn("job moved to dead-letter queue",
		zap.String("job_id", job.ID),
		zap.Int("attempts", len(job.Attempts)))
}

// finalize applies a terminal transition and persists it, returning the
// updated job so callers keep working with the finalized copy.
func (s *Scheduler) finalize(ctx context.Context, job extraction.Job, to extraction.JobStatus, errText string) (extraction.Job, error) {
	if err := ValidateTransition(job.Status, to); err != nil {
		return job, err
	}
	from := job.Status
	job.Status = to
	job.ErrorText = errText
	now := s.clock.Now()
	if job.Terminal() && job.CompletedAt == nil {
		job.CompletedAt = &now
	}
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return job, fmt.Errorf("update job %s: %w", job.ID, err)
	}
	s.emitJob(job, from)
	return job, nil
}

// checkTimeouts forcibly fails running jobs that exceeded the global
// timeout rather than leaving them running indefinitely.
func (s *Scheduler) checkTimeouts(context.Context) {
	now := s.clock.Now()
	s.mu.Lock()
	for _, rj := range s.running {
		if now.Sub(rj.startedAt) > s.cfg.JobTimeout {
			rj.cancel(errTimedOut)
		}
	}
	s.mu.Unlock()
}

// autoScheduleOnce injects recurring jobs whose per-type cooldown has
// elapsed since the last auto-run.
func (s *Scheduler) autoScheduleOnce(ctx context.Context) {
	now := s.clock.Now()
	due := make([]extraction.JobType, 0, len(s.cfg.AutoJobs))
	s.mu.Lock()
	for jobType, cooldown := range s.cfg.AutoJobs {
		if last, ok := s.lastAutoRun[jobType]; ok && now.Sub(last) < cooldown {
			continue
		}
		due = append(due, jobType)
	}
	s.mu.Unlock()

	for _, jobType := range due {
		job := extraction.Job{
			Type:     jobType,
			Priority: extraction.PriorityLow,
			Parameters: extraction.JobParameters{
				Tags: map[string]string{"origin": "auto"},
			},
		}
		if _, err := s.Schedule(ctx, job); err != nil {
			// Leave the type unstamped so the next check retries instead of
			// waiting out a full cooldown.
			s.logger.Error("auto-schedule failed", zap.String("type", string(jobType)), zap.Error(err))
			continue
		}
		s.mu.Lock()
		s.lastAutoRun[jobType] = now
		s.mu.Unlock()
	}
}

func (s *Scheduler) emitJob(job extraction.Job, from extraction.JobStatus) {
	if s.emitter == nil {
		return
	}
	s.emitter.Emit(events.Event{
		Kind:    events.KindJobTransition,
		JobID:   job.ID,
		JobType: string(job.Type),
		From:    string(from),
		To:      string(job.Status),
		Note:    job.ErrorText,
	})
}

// appendAttempts folds the failure into the job's attempt history. An
// exhausted extraction contributes its per-strategy attempts; any other
// failure contributes a single record.
func appendAttempts(attempts []extraction.Attempt, cause error, now time.Time) []extraction.Attempt {
	var exhausted *extraction.ExhaustedError
	if errors.As(cause, &exhausted) && len(exhausted.Attempts) > 0 {
		return append(attempts, exhausted.Attempts...)
	}
	return append(attempts, extraction.Attempt{Error: cause.Error(), At: now})
}
