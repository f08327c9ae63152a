// Package metrics exposes Prometheus collectors for the extraction service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	extractionAttemptsTotal    *prometheus.CounterVec
	extractionDurationSeconds  *prometheus.HistogramVec
	cacheLookupsTotal          *prometheus.CounterVec
	breakerState               *prometheus.GaugeVec
	breakerTransitionsTotal    *prometheus.CounterVec
	jobsTotal                  *prometheus.CounterVec
	runningJobs                prometheus.Gauge
	queueDepth                 prometheus.Gauge
	dispatchPaused             prometheus.Gauge
	resourceUtilizationPercent *prometheus.GaugeVec
	deadLetterTotal            prometheus.Counter
	fetchDurationSeconds       *prometheus.HistogramVec
	rateLimitDelaySeconds      *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		extractionAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extractor_attempts_total",
				Help: "Total extraction attempts, labeled by strategy and outcome.",
			},
			[]string{"strategy", "outcome"},
		)

		extractionDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "extractor_extraction_duration_seconds",
				Help:    "Histogram of successful extraction durations per strategy.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
			},
			[]string{"strategy"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extractor_cache_lookups_total",
				Help: "Total result-cache lookups, labeled by hit or miss.",
			},
			[]string{"result"},
		)

		breakerState = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "extractor_breaker_state",
				Help: "Circuit breaker state per strategy (0=closed, 1=half_open, 2=open).",
			},
			[]string{"strategy"},
		)

		breakerTransitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extractor_breaker_transitions_total",
				Help: "Circuit breaker state transitions, labeled by strategy and edge.",
			},
			[]string{"strategy", "from", "to"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extractor_jobs_total",
				Help: "Total jobs reaching a state, labeled by type and status.",
			},
			[]string{"type", "status"},
		)

		runningJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "extractor_running_jobs",
				Help: "Number of jobs currently executing.",
			},
		)

		queueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "extractor_queue_depth",
				Help: "Number of pending jobs in the scheduler queue.",
			},
		)

		dispatchPaused = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "extractor_dispatch_paused",
				Help: "1 while dispatch is paused for resource exhaustion, else 0.",
			},
		)

		resourceUtilizationPercent = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "extractor_resource_utilization_percent",
				Help: "Latest sampled utilization per resource (cpu, memory).",
			},
			[]string{"resource"},
		)

		deadLetterTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "extractor_dead_letter_total",
				Help: "Total jobs pushed to the dead-letter queue.",
			},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "extractor_fetch_duration_seconds",
				Help:    "Histogram of archived-page fetch latencies, labeled by status.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"status"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "extractor_rate_limit_delay_seconds",
				Help:    "Histogram of per-domain rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncExtractionAttempt increments the attempt counter for a strategy.
func IncExtractionAttempt(strategy, outcome string) {
	if extractionAttemptsTotal != nil {
		extractionAttemptsTotal.WithLabelValues(strategy, outcome).Inc()
	}
}

// ObserveExtractionDuration records the duration of a successful extraction.
func ObserveExtractionDuration(strategy string, duration time.Duration) {
	if extractionDurationSeconds != nil {
		extractionDurationSeconds.WithLabelValues(strategy).Observe(duration.Seconds())
	}
}

// IncCacheLookup increments the cache lookup counter ("hit" or "miss").
func IncCacheLookup(result string) {
	if cacheLookupsTotal != nil {
		cacheLookupsTotal.WithLabelValues(result).Inc()
	}
}

// SetBreakerState records the numeric breaker state for a strategy
// (0=closed, 1=half_open, 2=open).
func SetBreakerState(strategy string, state float64) {
	if breakerState != nil {
		breakerState.WithLabelValues(strategy).Set(state)
	}
}

// IncBreakerTransition counts one breaker state transition.
func IncBreakerTransition(strategy, from, to string) {
	if breakerTransitionsTotal != nil {
		breakerTransitionsTotal.WithLabelValues(strategy, from, to).Inc()
	}
}

// ObserveJob increments the job counter for the given type and status.
func ObserveJob(jobType, status string) {
	if jobsTotal != nil {
		jobsTotal.WithLabelValues(jobType, status).Inc()
	}
}

// IncRunningJobs increments the running jobs gauge.
func IncRunningJobs() {
	if runningJobs != nil {
		runningJobs.Inc()
	}
}

// DecRunningJobs decrements the running jobs gauge.
func DecRunningJobs() {
	if runningJobs != nil {
		runningJobs.Dec()
	}
}

// SetQueueDepth records the current pending-queue depth.
func SetQueueDepth(depth int) {
	if queueDepth != nil {
		queueDepth.Set(float64(depth))
	}
}

// SetDispatchPaused flips the dispatch pause gauge.
func SetDispatchPaused(paused bool) {
	if dispatchPaused == nil {
		return
	}
	if paused {
		dispatchPaused.Set(1)
	} else {
		dispatchPaused.Set(0)
	}
}

// SetResourceUtilization records the latest sampled utilization percentage.
func SetResourceUtilization(resource string, percent float64) {
	if resourceUtilizationPercent != nil {
		resourceUtilizationPercent.WithLabelValues(resource).Set(percent)
	}
}

// IncDeadLetter counts one job pushed to the DLQ.
func IncDeadLetter() {
	if deadLetterTotal != nil {
		deadLetterTotal.Inc()
	}
}

// ObserveFetch records the duration of an archived-page fetch.
func ObserveFetch(status string, duration time.Duration) {
	if fetchDurationSeconds != nil {
		fetchDurationSeconds.WithLabelValues(status).Observe(duration.Seconds())
	}
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	if rateLimitDelaySeconds != nil {
		rateLimitDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
	}
}
