// Package breaker implements per-strategy circuit breakers that isolate
// failing extraction strategies from the rest of the chain.
package breaker

import (
	"sync"
	"time"

	"github.com/pagevault/extractor/internal/extraction"
)

// State is the circuit breaker state.
type State string

// Breaker states.
const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Snapshot is an observable copy of a breaker's state.
type Snapshot struct {
	Name            string    `json:"name"`
	State           State     `json:"state"`
	FailureCount    int       `json:"failure_count"`
	SuccessCount    int       `json:"success_count"`
	LastFailureTime time.Time `json:"last_failure_time,omitzero"`
}

// Config tunes a breaker. Thresholds and cooldowns are deployment-specific;
// the defaults match the stress-test values observed in production.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips a
	// closed breaker open.
	FailureThreshold int
	// Cooldown is how long an open breaker rejects calls before permitting
	// a half-open trial.
	Cooldown time.Duration
	// MaxCooldown caps the exponential cooldown growth applied when a
	// half-open trial fails. Zero disables growth.
	MaxCooldown time.Duration
	// Clock supplies time; defaults to the wall clock.
	Clock extraction.Clock
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.MaxCooldown < c.Cooldown {
		c.MaxCooldown = c.Cooldown
	}
	if c.Clock == nil {
		c.Clock = wallClock{}
	}
	return c
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

// Breaker is the failure-isolation state machine for one strategy. All state
// transitions go through its mutex; breakers for different strategies never
// share state.
type Breaker struct {
	name string
	cfg  Config

	mu            sync.Mutex
	state         State
	failures      int
	successes     int
	lastFailure   time.Time
	openedAt      time.Time
	cooldown      time.Duration
	trialInFlight bool

	onTransition func(name string, from, to State)
}

func newBreaker(name string, cfg Config, onTransition func(string, State, State)) *Breaker {
	return &Breaker{
		name:         name,
		cfg:          cfg,
		state:        StateClosed,
		cooldown:     cfg.Cooldown,
		onTransition: onTransition,
	}
}

// Allow reports whether a call against this strategy may proceed. In the
// half-open state it reserves the single trial slot for the caller; the
// caller must follow up with RecordSuccess, RecordFailure, or Cancel.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	var notify func()
	allowed := false
	switch b.state {
	case StateClosed:
		allowed = true
	case StateOpen:
		if b.cfg.Clock.Now().Sub(b.openedAt) >= b.cooldown {
			notify = b.transitionLocked(StateHalfOpen)
			b.trialInFlight = true
			allowed = true
		}
	case StateHalfOpen:
		if !b.trialInFlight {
			b.trialInFlight = true
			allowed = true
		}
	}
	b.mu.Unlock()
	if notify != nil {
		notify()
	}
	return allowed
}

// RecordSuccess registers a successful call. A half-open trial success closes
// the breaker and resets its counters and cooldown.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	var notify func()
	b.successes++
	b.trialInFlight = false
	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		notify = b.transitionLocked(StateClosed)
		b.failures = 0
		b.cooldown = b.cfg.Cooldown
	}
	b.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// RecordFailure registers a failed call. Crossing the consecutive-failure
// threshold trips a closed breaker; a half-open trial failure reopens it with
// a grown cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	var notify func()
	now := b.cfg.Clock.Now()
	b.failures++
	b.lastFailure = now
	b.trialInFlight = false
	switch b.state {
	case StateClosed:
		if b.failures >= b.cfg.FailureThreshold {
			notify = b.transitionLocked(StateOpen)
			b.openedAt = now
		}
	case StateHalfOpen:
		notify = b.transitionLocked(StateOpen)
		b.openedAt = now
		grown := b.cooldown * 2
		if grown > b.cfg.MaxCooldown {
			grown = b.cfg.MaxCooldown
		}
		b.cooldown = grown
	}
	b.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// Cancel releases a reserved half-open trial without recording an outcome.
// Cancelled attempts count as neither success nor failure.
func (b *Breaker) Cancel() {
	b.mu.Lock()
	b.trialInFlight = false
	b.mu.Unlock()
}

// Snapshot returns an observable copy of the breaker state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:            b.name,
		State:           b.state,
		FailureCount:    b.failures,
		SuccessCount:    b.successes,
		LastFailureTime: b.lastFailure,
	}
}

// transitionLocked flips the state and returns the observer callback to run
// once the lock is released, so observers never block breaker calls.
func (b *Breaker) transitionLocked(to State) func() {
	from := b.state
	b.state = to
	if b.onTransition == nil || from == to {
		return nil
	}
	name := b.name
	fn := b.onTransition
	return func() { fn(name, from, to) }
}
