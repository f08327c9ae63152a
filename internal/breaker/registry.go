package breaker

import (
	"sync"
)

// TransitionFunc observes breaker state changes. It is invoked outside the
// breaker lock and must be safe for concurrent use.
type TransitionFunc func(name string, from, to State)

// Registry holds one independent breaker per strategy. It is constructed
// explicitly and injected wherever breakers are consulted; there is no
// package-level instance.
type Registry struct {
	cfg       Config
	mu        sync.RWMutex
	breakers  map[string]*Breaker
	observers []TransitionFunc
}

// NewRegistry creates a Registry whose breakers all share cfg.
func NewRegistry(cfg Config, observers ...TransitionFunc) *Registry {
	return &Registry{
		cfg:       cfg.withDefaults(),
		breakers:  make(map[string]*Breaker),
		observers: observers,
	}
}

// Allow reports whether a call against the named strategy may proceed,
// reserving the half-open trial slot when applicable.
func (r *Registry) Allow(name string) bool {
	return r.breaker(name).Allow()
}

// RecordSuccess registers a successful call against the named strategy.
func (r *Registry) RecordSuccess(name string) {
	r.breaker(name).RecordSuccess()
}

// RecordFailure registers a failed call against the named strategy.
func (r *Registry) RecordFailure(name string) {
	r.breaker(name).RecordFailure()
}

// Cancel releases a reserved trial for the named strategy without recording
// an outcome.
func (r *Registry) Cancel(name string) {
	r.breaker(name).Cancel()
}

// Snapshot returns the observable state of the named strategy's breaker.
func (r *Registry) Snapshot(name string) Snapshot {
	return r.breaker(name).Snapshot()
}

// Snapshots returns the state of every breaker the registry has created.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Snapshot())
	}
	return out
}

func (r *Registry) breaker(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[name]; ok {
		return b
	}
	b = newBreaker(name, r.cfg, r.notify)
	r.breakers[name] = b
	return b
}

func (r *Registry) notify(name string, from, to State) {
	for _, fn := range r.observers {
		fn(name, from, to)
	}
}
