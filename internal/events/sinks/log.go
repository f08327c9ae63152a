// Package sinks provides event sink implementations for the hub.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/pagevault/extractor/internal/events"
)

// LogSink emits structured logs for lifecycle transitions.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs the event using structured fields.
func (s *LogSink) Consume(_ context.Context, evt events.Event) error {
	fields := []zap.Field{
		zap.String("kind", string(evt.Kind)),
		zap.Time("at", evt.At),
		zap.String("from", evt.From),
		zap.String("to", evt.To),
	}
	switch evt.Kind {
	case events.KindJobTransition:
		fields = append(fields, zap.String("job_id", evt.JobID), zap.String("job_type", evt.JobType))
	case events.KindBreakerTransition:
		fields = append(fields, zap.String("strategy", evt.Strategy))
	}
	if evt.Note != "" {
		fields = append(fields, zap.String("note", evt.Note))
	}
	s.logger.Info("lifecycle event", fields...)
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
