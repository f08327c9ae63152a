package resource

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pagevault/extractor/internal/extraction"
	"github.com/pagevault/extractor/internal/metrics"
)

const (
	gigabyte = uint64(1) << 30

	defaultHistorySize = 120
)

// Thresholds are the admission-control limits. Dispatch-time checks reuse the
// latest snapshot rather than re-sampling per job.
type Thresholds struct {
	// MaxMemoryPercent blocks admission above this memory utilization.
	MaxMemoryPercent float64
	// MaxCPUPercent blocks admission above this CPU utilization.
	MaxCPUPercent float64
	// MemoryHeadroomFactor requires available memory to exceed this multiple
	// of the job's estimate.
	MemoryHeadroomFactor float64
	// MinDiskFree blocks admission below this free-disk floor.
	MinDiskFree uint64

	// CriticalMemoryPercent and CriticalDiskFree put the monitor into the
	// paused state, stopping all dispatch.
	CriticalMemoryPercent float64
	CriticalDiskFree      uint64
	// RecoveryMemoryPercent and RecoveryDiskFree must both be satisfied to
	// leave the paused state. Keeping them apart from the critical limits
	// prevents pause/resume flapping around a single threshold.
	RecoveryMemoryPercent float64
	RecoveryDiskFree      uint64
}

func (t Thresholds) withDefaults() Thresholds {
	if t.MaxMemoryPercent <= 0 {
		t.MaxMemoryPercent = 85
	}
	if t.MaxCPUPercent <= 0 {
		t.MaxCPUPercent = 80
	}
	if t.MemoryHeadroomFactor <= 0 {
		t.MemoryHeadroomFactor = 1.5
	}
	if t.MinDiskFree == 0 {
		t.MinDiskFree = gigabyte
	}
	if t.CriticalMemoryPercent <= 0 {
		t.CriticalMemoryPercent = 95
	}
	if t.CriticalDiskFree == 0 {
		t.CriticalDiskFree = gigabyte / 2
	}
	if t.RecoveryMemoryPercent <= 0 {
		t.RecoveryMemoryPercent = 90
	}
	if t.RecoveryDiskFree == 0 {
		t.RecoveryDiskFree = t.MinDiskFree
	}
	return t
}

// Config controls the Monitor.
type Config struct {
	// Interval between samples (default 30s).
	Interval time.Duration
	// HistorySize bounds the snapshot ring buffer kept for trend analysis.
	HistorySize int
	Thresholds  Thresholds
}

// Monitor runs the sampling loop and answers admission checks from the latest
// published snapshot.
type Monitor struct {
	sampler    Sampler
	cfg        Config
	thresholds Thresholds
	logger     *zap.Logger

	mu        sync.RWMutex
	latest    Snapshot
	hasLatest bool
	paused    bool
	history   *ring
}

// NewMonitor constructs a Monitor. Call Run to start sampling.
func NewMonitor(sampler Sampler, cfg Config, logger *zap.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		sampler:    sampler,
		cfg:        cfg,
		thresholds: cfg.Thresholds.withDefaults(),
		logger:     logger,
		history:    newRing(cfg.HistorySize),
	}
}

// Run samples on the configured interval until the context finishes. It
// takes an initial sample immediately so admission checks have data before
// the first tick.
func (m *Monitor) Run(ctx context.Context) {
	m.Sample(ctx)
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sample(ctx)
		}
	}
}

// Sample takes one sample immediately, outside the periodic loop.
func (m *Monitor) Sample(ctx context.Context) {
	snap, err := m.sampler.Sample(ctx)
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Warn("resource sample failed", zap.Error(err))
		}
		return
	}

	pausedNow, changed := m.store(snap)
	metrics.SetResourceUtilization("cpu", snap.CPUPercent)
	metrics.SetResourceUtilization("memory", snap.MemoryPercent)
	metrics.SetDispatchPaused(pausedNow)
	if !changed {
		return
	}
	if pausedNow {
		m.logger.Warn("critical resource pressure, dispatch paused",
			zap.Float64("memory_percent", snap.MemoryPercent),
			zap.Uint64("disk_free", snap.DiskFree))
	} else {
		m.logger.Info("resource pressure recovered, dispatch resumed",
			zap.Float64("memory_percent", snap.MemoryPercent),
			zap.Uint64("disk_free", snap.DiskFree))
	}
}

// store publishes the snapshot and applies the pause hysteresis. It returns
// the resulting pause flag and whether it flipped.
func (m *Monitor) store(snap Snapshot) (paused, changed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest = snap
	m.hasLatest = true
	m.history.push(snap)

	t := m.thresholds
	was := m.paused
	if m.paused {
		// Hysteresis: recovery requires dropping below the lower recovery
		// thresholds, not merely below the critical trigger.
		if snap.MemoryPercent < t.RecoveryMemoryPercent && snap.DiskFree > t.RecoveryDiskFree {
			m.paused = false
		}
	} else if snap.MemoryPercent > t.CriticalMemoryPercent || snap.DiskFree < t.CriticalDiskFree {
		m.paused = true
	}
	return m.paused, m.paused != was
}

// Snapshot returns the latest published snapshot. The boolean is false until
// the first sample lands.
func (m *Monitor) Snapshot() (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest, m.hasLatest
}

// History returns the retained snapshots, oldest first.
func (m *Monitor) History() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.history.slice()
}

// Paused reports whether the system is in the critical state and dispatch
// should stop entirely.
func (m *Monitor) Paused() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paused
}

// HasCapacityFor reports whether the latest snapshot has headroom for the
// job. With no snapshot yet it admits optimistically; Run takes its first
// sample before the dispatch loop starts.
func (m *Monitor) HasCapacityFor(job extraction.Job) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.hasLatest {
		return true
	}
	if m.paused {
		return false
	}
	t := m.thresholds
	snap := m.latest
	if snap.MemoryPercent >= t.MaxMemoryPercent {
		return false
	}
	if snap.CPUPercent >= t.MaxCPUPercent {
		return false
	}
	if snap.DiskFree <= t.MinDiskFree {
		return false
	}
	required := uint64(float64(job.EstimatedMemory) * t.MemoryHeadroomFactor)
	return snap.AvailableMemory > required
}
