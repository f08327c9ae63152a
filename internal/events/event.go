// Package events fans lifecycle events out to registered sinks without ever
// blocking the emitters. Job and breaker transitions flow through here so
// monitoring stays decoupled from the scheduler and chain hot paths.
package events

import (
	"context"
	"time"
)

// Kind denotes the type of lifecycle transition an Event records.
type Kind string

// Supported event kinds.
const (
	KindJobTransition     Kind = "JOB_TRANSITION"
	KindBreakerTransition Kind = "BREAKER_TRANSITION"
)

// Event captures a single observable state transition.
type Event struct {
	// Kind denotes which transition occurred.
	Kind Kind
	// At is the UTC timestamp recorded by the emitter.
	At time.Time
	// JobID and JobType are set for job transitions.
	JobID   string
	JobType string
	// Strategy is set for breaker transitions.
	Strategy string
	// From and To are the state names on either side of the transition.
	From string
	To   string
	// Note carries optional free-form context (error text, timeout marker).
	Note string
}

// Sink consumes events. Implementations must honor ctx deadlines and may be
// invoked from the hub's single delivery goroutine only.
type Sink interface {
	Consume(ctx context.Context, evt Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Hub satisfies this interface so the
// scheduler and chain stay agnostic about buffering and delivery.
type Emitter interface {
	Emit(evt Event)
}
