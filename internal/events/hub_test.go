package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type capturingSink struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

func (s *capturingSink) Consume(_ context.Context, evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

func (s *capturingSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *capturingSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func TestHub_DeliversToAllSinks(t *testing.T) {
	t.Parallel()
	first := &capturingSink{}
	second := &capturingSink{}
	hub := NewHub(Config{}, first, second)

	hub.Emit(Event{Kind: KindJobTransition, JobID: "job-1", JobType: "content-extraction", From: "pending", To: "running"})
	hub.Emit(Event{Kind: KindBreakerTransition, Strategy: "readability", From: "closed", To: "open"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, hub.Close(ctx))

	require.Len(t, first.snapshot(), 2)
	require.Len(t, second.snapshot(), 2)
	require.True(t, first.closed)
}

func TestHub_CloseDrainsBufferedEvents(t *testing.T) {
	t.Parallel()
	sink := &capturingSink{}
	hub := NewHub(Config{BufferSize: 16}, sink)

	for i := 0; i < 10; i++ {
		hub.Emit(Event{Kind: KindJobTransition, JobID: "job", To: "completed"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, hub.Close(ctx))
	require.Len(t, sink.snapshot(), 10)
}

func TestHub_EmitAfterCloseIsIgnored(t *testing.T) {
	t.Parallel()
	sink := &capturingSink{}
	hub := NewHub(Config{}, sink)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, hub.Close(ctx))

	hub.Emit(Event{Kind: KindJobTransition, JobID: "late"})
	require.Empty(t, sink.snapshot())
}

func TestHub_StampsEmitTime(t *testing.T) {
	t.Parallel()
	sink := &capturingSink{}
	hub := NewHub(Config{}, sink)

	hub.Emit(Event{Kind: KindJobTransition, JobID: "job-1", To: "running"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, hub.Close(ctx))

	got := sink.snapshot()
	require.Len(t, got, 1)
	require.False(t, got[0].At.IsZero())
}
