package sinks

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/pagevault/extractor/internal/events"
)

// terminal job states worth announcing downstream.
var terminalStates = map[string]bool{
	"completed": true,
	"failed":    true,
	"cancelled": true,
}

// PubSubSink publishes terminal job transitions to a Pub/Sub topic so
// downstream analytics and notification consumers see completions without
// polling the job store.
type PubSubSink struct {
	topic *pubsub.Topic
}

// NewPubSubSink wraps a Pub/Sub topic. The caller owns the client lifecycle.
func NewPubSubSink(topic *pubsub.Topic) *PubSubSink {
	return &PubSubSink{topic: topic}
}

// Consume publishes terminal job transitions; other events are ignored.
func (s *PubSubSink) Consume(ctx context.Context, evt events.Event) error {
	if s.topic == nil {
		return fmt.Errorf("pubsub topic is not configured")
	}
	if evt.Kind != events.KindJobTransition || !terminalStates[evt.To] {
		return nil
	}
	data, err := json.Marshal(map[string]string{
		"job_id":   evt.JobID,
		"job_type": evt.JobType,
		"status":   evt.To,
		"at":       evt.At.Format("2006-01-02T15:04:05Z07:00"),
		"note":     evt.Note,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	result := s.topic.Publish(ctx, &pubsub.Message{Data: data})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Close stops the topic's publish goroutines.
func (s *PubSubSink) Close(context.Context) error {
	if s.topic != nil {
		s.topic.Stop()
	}
	return nil
}
