package resilience

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DelayConfig tunes the adaptive inter-request delay for one host.
type DelayConfig struct {
	// Floor is the minimum inter-request delay; the hard politeness
	// limit enforced with a token bucket.
	Floor time.Duration
	// Ceiling caps delay growth under sustained slowness.
	Ceiling time.Duration
	// Initial is the starting delay for a fresh host.
	Initial time.Duration
	// SlowLatency is the latency above which a success still grows the delay.
	SlowLatency time.Duration
}

func (c DelayConfig) withDefaults() DelayConfig {
	if c.Floor <= 0 {
		c.Floor = 250 * time.Millisecond
	}
	if c.Ceiling <= 0 {
		c.Ceiling = 30 * time.Second
	}
	if c.Initial < c.Floor {
		c.Initial = c.Floor
	}
	if c.Initial > c.Ceiling {
		c.Initial = c.Ceiling
	}
	if c.SlowLatency <= 0 {
		c.SlowLatency = 2 * time.Second
	}
	return c
}

// Growth factors for the advisory delay schedule.
const (
	delayGrowFactor   = 1.5
	delayShrinkFactor = 0.9
)

// delayScheduler adjusts the inter-request delay toward upstream
// behavior: quick successes shrink it toward the floor, failures and
// slow responses grow it toward the ceiling. Advisory throttling only;
// the breaker provides the hard stop.
type delayScheduler struct {
	cfg     DelayConfig
	limiter *rate.Limiter

	mu      sync.Mutex
	current time.Duration
}

func newDelayScheduler(cfg DelayConfig) *delayScheduler {
	cfg = cfg.withDefaults()
	return &delayScheduler{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.Floor), 1),
		current: cfg.Initial,
	}
}

// Wait blocks for the current delay (or until the context finishes) and
// then takes a token from the floor limiter. Returns the time actually
// spent waiting.
func (d *delayScheduler) Wait(ctx context.Context) (time.Duration, error) {
	d.mu.Lock()
	delay := d.current
	d.mu.Unlock()

	start := time.Now()
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return time.Since(start), ctx.Err()
		case <-timer.C:
		}
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return time.Since(start), err
	}
	return time.Since(start), nil
}

// Observe feeds one request outcome back into the schedule.
func (d *delayScheduler) Observe(latency time.Duration, success bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if success && latency < d.cfg.SlowLatency {
		d.current = time.Duration(float64(d.current) * delayShrinkFactor)
		if d.current < d.cfg.Floor {
			d.current = d.cfg.Floor
		}
		return
	}
	d.current = time.Duration(float64(d.current) * delayGrowFactor)
	if d.current > d.cfg.Ceiling {
		d.current = d.cfg.Ceiling
	}
}

// Current returns the present delay setting.
func (d *delayScheduler) Current() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}
