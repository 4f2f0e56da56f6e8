package resilience

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/registrolabs/renec-harvester/internal/metrics"
	"github.com/registrolabs/renec-harvester/internal/registry"
)

// Config tunes the Governor. Both sections apply per host.
type Config struct {
	Breaker BreakerConfig
	Delay   DelayConfig
}

// Governor gates every outbound registry request: the breaker provides
// the hard stop, the delay scheduler the advisory throttle. Shared
// process-wide across harvest runs.
type Governor struct {
	cfg    Config
	clock  registry.Clock
	logger *zap.Logger

	mu    sync.Mutex
	hosts map[string]*hostState
}

type hostState struct {
	breaker *Breaker
	delay   *delayScheduler
}

// NewGovernor creates a Governor.
func NewGovernor(cfg Config, clock registry.Clock, logger *zap.Logger) *Governor {
	return &Governor{
		cfg:    cfg,
		clock:  clock,
		logger: logger,
		hosts:  make(map[string]*hostState),
	}
}

func (g *Governor) host(host string) *hostState {
	key := strings.ToLower(host)
	g.mu.Lock()
	defer g.mu.Unlock()
	state, ok := g.hosts[key]
	if !ok {
		state = &hostState{
			breaker: NewBreaker(g.cfg.Breaker, g.clock),
			delay:   newDelayScheduler(g.cfg.Delay),
		}
		g.hosts[key] = state
	}
	return state
}

// Acquire blocks until the host may be contacted. Fails fast with
// ErrBreakerOpen when the circuit is open; otherwise waits out the
// adaptive delay.
func (g *Governor) Acquire(ctx context.Context, host string) error {
	state := g.host(host)
	if err := state.breaker.Allow(); err != nil {
		metrics.ObserveBreakerFastFail(host)
		g.logger.Debug("breaker denied request",
			zap.String("host", host),
			zap.String("state", state.breaker.State().String()),
		)
		return err
	}
	waited, err := state.delay.Wait(ctx)
	if waited > time.Millisecond {
		metrics.ObserveDelay(host, waited)
	}
	if err != nil {
		return err
	}
	return nil
}

// Report feeds the outcome of a permitted request back into the host
// state. A nil err counts as success; ErrBreakerOpen results must not
// be reported since no request happened.
func (g *Governor) Report(host string, latency time.Duration, err error) {
	state := g.host(host)
	before := state.breaker.State()
	success := err == nil

	state.breaker.Record(success)
	state.delay.Observe(latency, success)

	after := state.breaker.State()
	metrics.SetBreakerState(host, int(after))

	if before != after {
		g.logger.Warn("breaker state changed",
			zap.String("host", host),
			zap.String("from", before.String()),
			zap.String("to", after.String()),
		)
	}
}

// State exposes the breaker state for a host. The worker consults it
// when deciding whether an open circuit has outlasted the run's grace.
func (g *Governor) State(host string) BreakerState {
	return g.host(host).breaker.State()
}

// Delay exposes the current advisory delay for a host.
func (g *Governor) Delay(host string) time.Duration {
	return g.host(host).delay.Current()
}
