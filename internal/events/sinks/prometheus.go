package sinks

import (
	"context"

	"github.com/pagevault/extractor/internal/events"
	"github.com/pagevault/extractor/internal/metrics"
)

// breakerStateValues maps breaker state names to the gauge encoding.
var breakerStateValues = map[string]float64{
	"closed":    0,
	"half_open": 1,
	"open":      2,
}

// PrometheusSink reflects lifecycle transitions into the Prometheus
// collectors.
type PrometheusSink struct{}

// NewPrometheusSink constructs the sink. metrics.Init must have run.
func NewPrometheusSink() *PrometheusSink {
	return &PrometheusSink{}
}

// Consume updates the collectors for the event.
func (s *PrometheusSink) Consume(_ context.Context, evt events.Event) error {
	switch evt.Kind {
	case events.KindJobTransition:
		metrics.ObserveJob(evt.JobType, evt.To)
	case events.KindBreakerTransition:
		metrics.IncBreakerTransition(evt.Strategy, evt.From, evt.To)
		if v, ok := breakerStateValues[evt.To]; ok {
			metrics.SetBreakerState(evt.Strategy, v)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
