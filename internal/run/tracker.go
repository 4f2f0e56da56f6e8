// Package run implements the harvest run lifecycle state machine.
package run

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/registrolabs/renec-harvester/internal/metrics"
	"github.com/registrolabs/renec-harvester/internal/registry"
)

// Tracker owns the audit row for one harvest execution. Counters are
// simple atomics: a run has exactly one tracker and never shares them
// with other runs. The terminal transition happens exactly once.
type Tracker struct {
	id     string
	clock  registry.Clock
	store  registry.RunStore
	logger *zap.Logger
	start  time.Time

	seen      atomic.Int64
	created   atomic.Int64
	unchanged atomic.Int64
	versioned atomic.Int64
	errored   atomic.Int64

	mu     sync.Mutex
	errs   []registry.RunError
	status registry.RunStatus
	end    *time.Time
}

// Start creates a Tracker and persists the initial Running row.
func Start(ctx context.Context, id string, clock registry.Clock, store registry.RunStore, logger *zap.Logger) (*Tracker, error) {
	t := &Tracker{
		id:     id,
		clock:  clock,
		store:  store,
		logger: logger,
		start:  clock.Now(),
		status: registry.RunRunning,
	}
	if err := store.CreateRun(ctx, t.Snapshot()); err != nil {
		return nil, fmt.Errorf("create run %s: %w", id, err)
	}
	logger.Info("harvest run started", zap.String("run_id", id))
	return t, nil
}

// ID returns the run identifier.
func (t *Tracker) ID() string { return t.id }

// RecordOutcome counts one successfully stored record.
func (t *Tracker) RecordOutcome(outcome registry.UpsertOutcome) {
	t.seen.Add(1)
	switch outcome {
	case registry.OutcomeCreated:
		t.created.Add(1)
	case registry.OutcomeUnchanged:
		t.unchanged.Add(1)
	case registry.OutcomeVersioned:
		t.versioned.Add(1)
	}
}

// RecordError counts one rejected or failed record and appends a
// structured entry to the run's error log. Never changes run status.
func (t *Tracker) RecordError(stage string, kind registry.EntityKind, key string, err error) {
	t.seen.Add(1)
	t.errored.Add(1)

	entry := registry.RunError{
		Stage:      stage,
		Kind:       kind,
		NaturalKey: key,
		Message:    err.Error(),
		At:         t.clock.Now(),
	}
	t.mu.Lock()
	t.errs = append(t.errs, entry)
	t.mu.Unlock()

	t.logger.Warn("record rejected",
		zap.String("run_id", t.id),
		zap.String("stage", stage),
		zap.String("kind", string(kind)),
		zap.String("natural_key", key),
		zap.Error(err),
	)
}

// Stats returns the current counter values.
func (t *Tracker) Stats() registry.RunStats {
	return registry.RunStats{
		Seen:      t.seen.Load(),
		Created:   t.created.Load(),
		Unchanged: t.unchanged.Load(),
		Versioned: t.versioned.Load(),
		Errored:   t.errored.Load(),
	}
}

// Snapshot returns the run row as it stands.
func (t *Tracker) Snapshot() registry.Run {
	t.mu.Lock()
	status := t.status
	end := t.end
	errs := append([]registry.RunError(nil), t.errs...)
	t.mu.Unlock()

	return registry.Run{
		ID:        t.id,
		StartTime: t.start,
		EndTime:   end,
		Status:    status,
		Stats:     t.Stats(),
		Errors:    errs,
	}
}

// Complete closes the run as Completed.
func (t *Tracker) Complete(ctx context.Context) error {
	return t.close(ctx, registry.RunCompleted, nil)
}

// Fail closes the run as Failed with a reason recorded in the error log.
func (t *Tracker) Fail(ctx context.Context, reason error) error {
	if reason != nil {
		entry := registry.RunError{
			Stage:   "run",
			Message: reason.Error(),
			At:      t.clock.Now(),
		}
		t.mu.Lock()
		t.errs = append(t.errs, entry)
		t.mu.Unlock()
	}
	return t.close(ctx, registry.RunFailed, reason)
}

func (t *Tracker) close(ctx context.Context, status registry.RunStatus, reason error) error {
	t.mu.Lock()
	if t.status.Terminal() {
		current := t.status
		t.mu.Unlock()
		return fmt.Errorf("run %s already %s", t.id, current)
	}
	now := t.clock.Now()
	t.status = status
	t.end = &now
	t.mu.Unlock()

	if err := t.store.CloseRun(ctx, t.Snapshot()); err != nil {
		return fmt.Errorf("close run %s: %w", t.id, err)
	}
	metrics.ObserveRun(string(status))

	fields := []zap.Field{
		zap.String("run_id", t.id),
		zap.String("status", string(status)),
		zap.Int64("seen", t.seen.Load()),
		zap.Int64("created", t.created.Load()),
		zap.Int64("unchanged", t.unchanged.Load()),
		zap.Int64("versioned", t.versioned.Load()),
		zap.Int64("errored", t.errored.Load()),
	}
	if reason != nil {
		fields = append(fields, zap.Error(reason))
	}
	t.logger.Info("harvest run closed", fields...)
	return nil
}
