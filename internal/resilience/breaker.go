// Package resilience guards outbound registry requests with a per-host
// circuit breaker, adaptive inter-request delay, and a bounded retry
// policy.
package resilience

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/registrolabs/renec-harvester/internal/registry"
)

// BreakerState is the circuit state for one upstream host.
type BreakerState int32

// Breaker states, ordered for the metrics gauge.
const (
	StateClosed BreakerState = iota
	StateHalfOpen
	StateOpen
)

// String renders the state for logs.
func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	}
	return "unknown"
}

// BreakerConfig tunes one host's circuit.
type BreakerConfig struct {
	// ConsecutiveFailures trips the circuit regardless of the window.
	ConsecutiveFailures int
	// WindowSize is the rolling request window examined for FailureRate.
	WindowSize int
	// FailureRate trips the circuit once the full window exceeds it.
	FailureRate float64
	// Cooldown is the initial open interval before a half-open probe.
	Cooldown time.Duration
	// CooldownGrowth multiplies the cooldown after a failed probe.
	CooldownGrowth float64
	// MaxCooldown caps cooldown growth.
	MaxCooldown time.Duration
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.ConsecutiveFailures <= 0 {
		c.ConsecutiveFailures = 5
	}
	if c.WindowSize <= 0 {
		c.WindowSize = 10
	}
	if c.FailureRate <= 0 {
		c.FailureRate = 0.5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.CooldownGrowth < 1 {
		c.CooldownGrowth = 2
	}
	if c.MaxCooldown <= 0 {
		c.MaxCooldown = 10 * time.Minute
	}
	return c
}

// Breaker is a three-state circuit for a single host. State reads and
// the open->half-open probe handoff use atomic compare-and-swap, since
// every worker touching the host races through here.
type Breaker struct {
	cfg   BreakerConfig
	clock registry.Clock
	state atomic.Int32

	mu           sync.Mutex
	window       []bool
	windowNext   int
	windowFilled int
	consecFails  int
	openedAt     time.Time
	probeAt      time.Time
	cooldown     time.Duration
}

// NewBreaker creates a closed Breaker.
func NewBreaker(cfg BreakerConfig, clock registry.Clock) *Breaker {
	cfg = cfg.withDefaults()
	return &Breaker{
		cfg:      cfg,
		clock:    clock,
		window:   make([]bool, cfg.WindowSize),
		cooldown: cfg.Cooldown,
	}
}

// State returns the current circuit state.
func (b *Breaker) State() BreakerState {
	return BreakerState(b.state.Load())
}

// Allow reports whether a request may proceed. When the circuit is open
// it fails fast with ErrBreakerOpen and no network call happens. Once
// the cooldown elapses exactly one caller wins the half-open probe slot.
// A probe holder that never reports an outcome (canceled before the
// request went out) releases the slot implicitly: after a further
// cooldown the slot is reclaimed by the next caller.
func (b *Breaker) Allow() error {
	switch b.State() {
	case StateClosed:
		return nil
	case StateHalfOpen:
		now := b.clock.Now()
		b.mu.Lock()
		if now.Sub(b.probeAt) >= b.cooldown {
			b.probeAt = now
			b.mu.Unlock()
			return nil
		}
		b.mu.Unlock()
		// Probe already in flight.
		return registry.ErrBreakerOpen
	case StateOpen:
		b.mu.Lock()
		deadline := b.openedAt.Add(b.cooldown)
		b.mu.Unlock()
		if b.clock.Now().Before(deadline) {
			return registry.ErrBreakerOpen
		}
		// Stamp before the CAS so a concurrent caller never observes a
		// half-open circuit with a stale probe time.
		b.mu.Lock()
		b.probeAt = b.clock.Now()
		b.mu.Unlock()
		if b.state.CompareAndSwap(int32(StateOpen), int32(StateHalfOpen)) {
			return nil
		}
		return registry.ErrBreakerOpen
	}
	return registry.ErrBreakerOpen
}

// Record feeds one request outcome into the circuit.
func (b *Breaker) Record(success bool) {
	switch b.State() {
	case StateHalfOpen:
		if success {
			b.reset()
			return
		}
		b.reopen(true)
	case StateClosed:
		b.mu.Lock()
		b.push(success)
		if success {
			b.consecFails = 0
			b.mu.Unlock()
			return
		}
		b.consecFails++
		tripped := b.consecFails >= b.cfg.ConsecutiveFailures ||
			(b.windowFilled == len(b.window) && b.failureRate() >= b.cfg.FailureRate)
		b.mu.Unlock()
		if tripped {
			b.reopen(false)
		}
	case StateOpen:
		// Late results from requests issued before the trip are dropped.
	}
}

func (b *Breaker) push(success bool) {
	b.window[b.windowNext] = success
	b.windowNext = (b.windowNext + 1) % len(b.window)
	if b.windowFilled < len(b.window) {
		b.windowFilled++
	}
}

func (b *Breaker) failureRate() float64 {
	if b.windowFilled == 0 {
		return 0
	}
	failures := 0
	for i := 0; i < b.windowFilled; i++ {
		if !b.window[i] {
			failures++
		}
	}
	return float64(failures) / float64(b.windowFilled)
}

// reopen trips the circuit. A failed probe restarts the cooldown with
// backoff growth; a fresh trip starts from the configured base.
func (b *Breaker) reopen(probeFailed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if probeFailed {
		grown := time.Duration(float64(b.cooldown) * b.cfg.CooldownGrowth)
		if grown > b.cfg.MaxCooldown {
			grown = b.cfg.MaxCooldown
		}
		b.cooldown = grown
	} else {
		b.cooldown = b.cfg.Cooldown
	}
	b.openedAt = b.clock.Now()
	b.state.Store(int32(StateOpen))
}

func (b *Breaker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.window {
		b.window[i] = false
	}
	b.windowNext = 0
	b.windowFilled = 0
	b.consecFails = 0
	b.cooldown = b.cfg.Cooldown
	b.state.Store(int32(StateClosed))
}
