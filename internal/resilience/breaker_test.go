package resilience

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/registrolabs/renec-harvester/internal/registry"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0).UTC()}
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

func testBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConsecutiveFailures: 5,
		WindowSize:          10,
		FailureRate:         0.5,
		Cooldown:            30 * time.Second,
		CooldownGrowth:      2,
		MaxCooldown:         5 * time.Minute,
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	b := NewBreaker(testBreakerConfig(), clock)

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Allow())
		b.Record(false)
	}

	require.Equal(t, StateOpen, b.State())
	require.ErrorIs(t, b.Allow(), registry.ErrBreakerOpen)
}

func TestBreaker_OpensOnWindowFailureRate(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	b := NewBreaker(testBreakerConfig(), clock)

	// Alternate so consecutive failures never reach 5, but the full
	// window still fails half the time.
	for i := 0; i < 10; i++ {
		require.NoError(t, b.Allow())
		b.Record(i%2 == 0)
	}

	require.Equal(t, StateOpen, b.State())
}

func TestBreaker_HalfOpenAllowsSingleProbe(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	b := NewBreaker(testBreakerConfig(), clock)
	for i := 0; i < 5; i++ {
		b.Record(false)
	}
	require.Equal(t, StateOpen, b.State())

	// Before cooldown: denied.
	require.ErrorIs(t, b.Allow(), registry.ErrBreakerOpen)

	clock.Advance(31 * time.Second)
	require.NoError(t, b.Allow())
	require.Equal(t, StateHalfOpen, b.State())

	// Second caller while the probe is in flight: denied.
	require.ErrorIs(t, b.Allow(), registry.ErrBreakerOpen)
}

func TestBreaker_ProbeSuccessCloses(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	b := NewBreaker(testBreakerConfig(), clock)
	for i := 0; i < 5; i++ {
		b.Record(false)
	}
	clock.Advance(31 * time.Second)
	require.NoError(t, b.Allow())

	b.Record(true)
	require.Equal(t, StateClosed, b.State())
	require.NoError(t, b.Allow())
}

func TestBreaker_ProbeFailureReopensWithBackoff(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	b := NewBreaker(testBreakerConfig(), clock)
	for i := 0; i < 5; i++ {
		b.Record(false)
	}
	clock.Advance(31 * time.Second)
	require.NoError(t, b.Allow())

	b.Record(false)
	require.Equal(t, StateOpen, b.State())

	// The base cooldown has doubled, so 31s is no longer enough.
	clock.Advance(31 * time.Second)
	require.ErrorIs(t, b.Allow(), registry.ErrBreakerOpen)

	clock.Advance(30 * time.Second)
	require.NoError(t, b.Allow())
	require.Equal(t, StateHalfOpen, b.State())
}

func TestBreaker_AbandonedProbeSlotIsReclaimed(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	b := NewBreaker(testBreakerConfig(), clock)
	for i := 0; i < 5; i++ {
		b.Record(false)
	}
	clock.Advance(31 * time.Second)

	// The probe winner goes away without ever recording an outcome.
	require.NoError(t, b.Allow())
	require.Equal(t, StateHalfOpen, b.State())
	require.ErrorIs(t, b.Allow(), registry.ErrBreakerOpen)

	// After a further cooldown the slot is handed to the next caller
	// instead of staying claimed forever.
	clock.Advance(31 * time.Second)
	require.NoError(t, b.Allow())
	require.Equal(t, StateHalfOpen, b.State())
	require.ErrorIs(t, b.Allow(), registry.ErrBreakerOpen)

	b.Record(true)
	require.Equal(t, StateClosed, b.State())
}

func TestBreaker_OnlyOneWinnerUnderContention(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	b := NewBreaker(testBreakerConfig(), clock)
	for i := 0; i < 5; i++ {
		b.Record(false)
	}
	clock.Advance(time.Minute)

	var wg sync.WaitGroup
	var allowed int64
	var mu sync.Mutex
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.Allow() == nil {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, allowed)
}
