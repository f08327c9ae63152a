package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pagevault/extractor/internal/breaker"
	"github.com/pagevault/extractor/internal/config"
	"github.com/pagevault/extractor/internal/extraction"
	"github.com/pagevault/extractor/internal/metrics"
	"github.com/pagevault/extractor/internal/resource"
)

// Jobs is the scheduler surface the API depends on.
type Jobs interface {
	Schedule(ctx context.Context, job extraction.Job) (string, error)
	Cancel(ctx context.Context, jobID string) (bool, error)
	Status(ctx context.Context, jobID string) (extraction.Job, error)
	Stats() (queued, running int)
}

// ResourceStatus reports system utilization for the ops endpoints.
type ResourceStatus interface {
	Snapshot() (resource.Snapshot, bool)
	History() []resource.Snapshot
	Paused() bool
}

// BreakerStatus reports per-strategy circuit breaker state.
type BreakerStatus interface {
	Snapshots() []breaker.Snapshot
}

// Server wires HTTP handlers to the scheduler and stores.
type Server struct {
	router    chi.Router
	jobs      Jobs
	cache     extraction.Cache
	dlq       extraction.DeadLetterStore
	resources ResourceStatus
	breakers  BreakerStatus
	cfg       config.Config
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobs Jobs,
	cache extraction.Cache,
	dlq extraction.DeadLetterStore,
	resources ResourceStatus,
	breakers BreakerStatus,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobs:      jobs,
		cache:     cache,
		dlq:       dlq,
		resources: resources,
		breakers:  breakers,
		cfg:       cfg,
		logger:    logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/status", s.getJobStatus)
				r.Get("/result", s.getJobResult)
				r.Post("/cancel", s.cancelJob)
			})
		})
		r.Route("/dlq", func(r chi.Router) {
			r.Get("/", s.listDeadLetters)
			r.Post("/purge", s.purgeDeadLetters)
		})
		r.Route("/system", func(r chi.Router) {
			r.Get("/resources", s.systemResources)
			r.Get("/breakers", s.systemBreakers)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.resources != nil && s.resources.Paused() {
		writeError(s.logger, w, http.StatusServiceUnavailable, "dispatch paused: system resources exhausted")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitJobRequest struct {
	URL               string            `json:"url"`
	SnapshotTimestamp string            `json:"snapshot_timestamp"`
	Type              string            `json:"type"`
	Priority          string            `json:"priority"`
	MaxRetries        int               `json:"max_retries"`
	ScheduledAt       *time.Time        `json:"scheduled_at"`
	EstimatedMemory   uint64            `json:"estimated_memory"`
	Tags              map[string]string `json:"tags"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	job, err := s.toJob(req)
	if err != nil {
		writeError(s.logger, w, http.StatusBadRequest, err.Error())
		return
	}
	jobID, err := s.jobs.Schedule(r.Context(), job)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusRequestTimeout
		}
		writeError(s.logger, w, status, err.Error())
		return
	}
	writeJSON(s.logger, w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) toJob(req submitJobRequest) (extraction.Job, error) {
	jobType := extraction.JobType(req.Type)
	if req.Type == "" {
		jobType = extraction.JobTypeContentExtraction
	}
	if jobType == extraction.JobTypeContentExtraction {
		if req.URL == "" {
			return extraction.Job{}, errors.New("url is required")
		}
		if _, err := extraction.NormalizeURL(req.URL); err != nil {
			return extraction.Job{}, fmt.Errorf("invalid url: %w", err)
		}
	}
	job := extraction.Job{
		Type:     jobType,
		Priority: extraction.ParsePriority(req.Priority),
		Parameters: extraction.JobParameters{
			URL:               req.URL,
			SnapshotTimestamp: req.SnapshotTimestamp,
			Tags:              req.Tags,
		},
		MaxRetries:      req.MaxRetries,
		EstimatedMemory: req.EstimatedMemory,
	}
	if req.ScheduledAt != nil {
		job.ScheduledAt = *req.ScheduledAt
	}
	return job, nil
}

func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.Status(r.Context(), jobID)
	if err != nil {
		writeError(s.logger, w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) getJobResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.Status(r.Context(), jobID)
	if err != nil {
		writeError(s.logger, w, http.StatusNotFound, "job not found")
		return
	}
	if job.Status != extraction.JobStatusCompleted {
		writeError(s.logger, w, http.StatusConflict,
			fmt.Sprintf("job is %s, result available once completed", job.Status))
		return
	}
	if job.Type != extraction.JobTypeContentExtraction {
		writeError(s.logger, w, http.StatusNotFound,
			fmt.Sprintf("job type %s produces no result", job.Type))
		return
	}
	fingerprint, err := extraction.Fingerprint(job.Parameters.URL, job.Parameters.SnapshotTimestamp)
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "compute fingerprint")
		return
	}
	result, ok, err := s.cache.Get(r.Context(), fingerprint)
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "fetch result")
		return
	}
	if !ok {
		writeError(s.logger, w, http.StatusNotFound, "result expired from cache")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"job_id": jobID, "result": result})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	ok, err := s.jobs.Cancel(r.Context(), jobID)
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(s.logger, w, http.StatusConflict, "job not found or already finished")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"job_id": jobID, "status": "cancelling"})
}

func (s *Server) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", 50)
	offset := intQuery(r, "offset", 0)
	entries, err := s.dlq.List(r.Context(), limit, offset)
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "list dead-letter entries")
		return
	}
	if entries == nil {
		entries = []extraction.DeadLetterEntry{}
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"entries": entries})
}

type purgeRequest struct {
	OlderThan string `json:"older_than"`
}

func (s *Server) purgeDeadLetters(w http.ResponseWriter, r *http.Request) {
	var req purgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	age, err := time.ParseDuration(req.OlderThan)
	if err != nil || age <= 0 {
		writeError(s.logger, w, http.StatusBadRequest, "older_than must be a positive duration")
		return
	}
	removed, err := s.dlq.PurgeOlderThan(r.Context(), age)
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "purge dead-letter entries")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) systemResources(w http.ResponseWriter, _ *http.Request) {
	queued, running := s.jobs.Stats()
	payload := map[string]any{
		"paused":  s.resources.Paused(),
		"queued":  queued,
		"running": running,
	}
	if snapshot, ok := s.resources.Snapshot(); ok {
		payload["current"] = snapshot
	}
	payload["history"] = s.resources.History()
	writeJSON(s.logger, w, http.StatusOK, payload)
}

func (s *Server) systemBreakers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"breakers": s.breakers.Snapshots()})
}

func intQuery(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	var out int
	if _, err := fmt.Sscanf(raw, "%d", &out); err != nil || out < 0 {
		return def
	}
	return out
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(logger, w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(zap.NewNop(), w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(logger *zap.Logger, w http.ResponseWriter, status int, msg string) {
	writeJSON(logger, w, status, map[string]string{"error": msg})
}
