package breaker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRegistry(clock *fakeClock, observers ...TransitionFunc) *Registry {
	return NewRegistry(Config{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		MaxCooldown:      2 * time.Minute,
		Clock:            clock,
	}, observers...)
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry(newFakeClock())

	for i := 0; i < 4; i++ {
		require.True(t, reg.Allow("readability"))
		reg.RecordFailure("readability")
	}
	require.Equal(t, StateClosed, reg.Snapshot("readability").State)

	require.True(t, reg.Allow("readability"))
	reg.RecordFailure("readability")

	snap := reg.Snapshot("readability")
	require.Equal(t, StateOpen, snap.State)
	require.Equal(t, 5, snap.FailureCount)
	require.False(t, reg.Allow("readability"), "open breaker must reject calls")
}

func TestBreaker_SuccessResetsConsecutiveFailures(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry(newFakeClock())

	for i := 0; i < 4; i++ {
		reg.RecordFailure("dom")
	}
	reg.RecordSuccess("dom")
	require.Equal(t, 0, reg.Snapshot("dom").FailureCount)

	for i := 0; i < 4; i++ {
		reg.RecordFailure("dom")
	}
	require.Equal(t, StateClosed, reg.Snapshot("dom").State)
}

func TestBreaker_HalfOpenSingleTrial(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	reg := newTestRegistry(clock)

	for i := 0; i < 5; i++ {
		reg.RecordFailure("readability")
	}
	require.False(t, reg.Allow("readability"))

	clock.Advance(31 * time.Second)
	require.True(t, reg.Allow("readability"), "cooldown elapsed, one trial permitted")
	require.Equal(t, StateHalfOpen, reg.Snapshot("readability").State)
	require.False(t, reg.Allow("readability"), "second concurrent trial must be rejected")

	reg.RecordSuccess("readability")
	snap := reg.Snapshot("readability")
	require.Equal(t, StateClosed, snap.State)
	require.Equal(t, 0, snap.FailureCount)
	require.True(t, reg.Allow("readability"))
}

func TestBreaker_HalfOpenFailureGrowsCooldown(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	reg := newTestRegistry(clock)

	for i := 0; i < 5; i++ {
		reg.RecordFailure("readability")
	}

	clock.Advance(31 * time.Second)
	require.True(t, reg.Allow("readability"))
	reg.RecordFailure("readability")
	require.Equal(t, StateOpen, reg.Snapshot("readability").State)

	// Cooldown doubled to 60s: the original 30s is no longer enough.
	clock.Advance(31 * time.Second)
	require.False(t, reg.Allow("readability"))
	clock.Advance(30 * time.Second)
	require.True(t, reg.Allow("readability"))
}

func TestBreaker_CancelReleasesTrialWithoutCounting(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	reg := newTestRegistry(clock)

	for i := 0; i < 5; i++ {
		reg.RecordFailure("readability")
	}
	clock.Advance(31 * time.Second)
	require.True(t, reg.Allow("readability"))

	before := reg.Snapshot("readability")
	reg.Cancel("readability")
	after := reg.Snapshot("readability")

	require.Equal(t, StateHalfOpen, after.State)
	require.Equal(t, before.FailureCount, after.FailureCount)
	require.Equal(t, before.SuccessCount, after.SuccessCount)
	require.True(t, reg.Allow("readability"), "cancelled trial must free the slot")
}

func TestRegistry_StrategiesAreIndependent(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry(newFakeClock())

	for i := 0; i < 5; i++ {
		reg.RecordFailure("readability")
	}
	require.Equal(t, StateOpen, reg.Snapshot("readability").State)
	require.True(t, reg.Allow("dom"), "one strategy's failures never affect another")
	require.Equal(t, StateClosed, reg.Snapshot("dom").State)
}

func TestRegistry_ObserverSeesTransitions(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()

	var mu sync.Mutex
	var transitions []string
	reg := newTestRegistry(clock, func(name string, from, to State) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, name+":"+string(from)+"->"+string(to))
	})

	for i := 0; i < 5; i++ {
		reg.RecordFailure("readability")
	}
	clock.Advance(31 * time.Second)
	reg.Allow("readability")
	reg.RecordSuccess("readability")

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{
		"readability:closed->open",
		"readability:open->half_open",
		"readability:half_open->closed",
	}, transitions)
}
