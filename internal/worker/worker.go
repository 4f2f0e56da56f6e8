// Package worker implements the harvest execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/registrolabs/renec-harvester/internal/metrics"
	"github.com/registrolabs/renec-harvester/internal/pipeline"
	"github.com/registrolabs/renec-harvester/internal/registry"
	"github.com/registrolabs/renec-harvester/internal/resilience"
	"github.com/registrolabs/renec-harvester/internal/run"
)

// Task describes one registry page to harvest.
type Task struct {
	Kind registry.EntityKind
	URL  string
}

// Config controls Worker behavior.
type Config struct {
	Concurrency    int
	Topic          string
	SnapshotPrefix string
	UserAgent      string
	ContentType    string
	MaxRetries     int
	// BreakerGrace is how long a host's circuit may stay open before
	// the run aborts as unable to make progress. Zero disables the
	// escalation.
	BreakerGrace time.Duration
	// BreakerState reports the circuit state for a host, normally the
	// governor's. When nil every breaker denial counts toward the grace.
	BreakerState func(host string) resilience.BreakerState
}

// Hasher digests page bodies for snapshot addressing.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Worker drains harvest tasks through the fetch-extract-process-persist
// pipeline with a bounded pool of goroutines.
type Worker struct {
	fetcher   registry.Fetcher
	extractor registry.Extractor
	pipe      *pipeline.Pipeline
	store     registry.EntityStore
	archiver  registry.Archiver
	publisher registry.Publisher
	retry     *resilience.RetryPolicy
	hasher    Hasher
	clock     registry.Clock
	cfg       Config
	logger    *zap.Logger

	openMu    sync.Mutex
	openSince map[string]time.Time
}

// New constructs a Worker.
func New(
	fetcher registry.Fetcher,
	extractor registry.Extractor,
	pipe *pipeline.Pipeline,
	store registry.EntityStore,
	archiver registry.Archiver,
	publisher registry.Publisher,
	retry *resilience.RetryPolicy,
	hasher Hasher,
	clock registry.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if retry == nil {
		retry = resilience.NewRetryPolicy(cfg.MaxRetries)
	}
	return &Worker{
		fetcher:   fetcher,
		extractor: extractor,
		pipe:      pipe,
		store:     store,
		archiver:  archiver,
		publisher: publisher,
		retry:     retry,
		hasher:    hasher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
		openSince: make(map[string]time.Time),
	}
}

// Run drains tasks until the channel closes or the context finishes.
// Per-record failures are recorded on the tracker and the harvest moves
// on; a storage failure that survives its retries aborts the whole run.
// Cancellation stops new fetches while in-flight writes complete.
func (w *Worker) Run(ctx context.Context, tracker *run.Tracker, tasks <-chan Task) error {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		fatalErr error
	)
	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			metrics.IncActiveWorkers()
			defer metrics.DecActiveWorkers()
			for {
				select {
				case <-workCtx.Done():
					return
				case task, ok := <-tasks:
					if !ok {
						return
					}
					if err := w.processTask(workCtx, tracker, task); err != nil {
						mu.Lock()
						if fatalErr == nil {
							fatalErr = err
						}
						mu.Unlock()
						cancel()
						return
					}
				}
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if fatalErr != nil {
		return fatalErr
	}
	return ctx.Err()
}

// processTask runs one page through the harvest. Only storage failures
// propagate; everything else lands on the tracker.
func (w *Worker) processTask(ctx context.Context, tracker *run.Tracker, task Task) error {
	resp, err := w.fetchWithRetry(ctx, task)
	if err != nil {
		tracker.RecordError("fetch", task.Kind, "", err)
		w.logger.Warn("page fetch failed",
			zap.String("url", task.URL),
			zap.String("kind", string(task.Kind)),
			zap.Error(err),
		)
		return w.checkBreakerGrace(task.URL, err)
	}
	w.markHostHealthy(task.URL)

	snapshotURI := w.archiveSnapshot(ctx, task, resp)

	raws, err := w.extractor.Extract(resp)
	if err != nil {
		tracker.RecordError("extract", task.Kind, "", err)
		w.logger.Warn("page extraction failed", zap.String("url", task.URL), zap.Error(err))
		return nil
	}

	for _, raw := range raws {
		if err := w.processRecord(ctx, tracker, raw, snapshotURI); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) fetchWithRetry(ctx context.Context, task Task) (registry.FetchResponse, error) {
	req := registry.FetchRequest{URL: task.URL, UserAgent: w.cfg.UserAgent}
	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, err := w.fetcher.Fetch(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !w.retry.ShouldRetry(err, attempt) {
			break
		}
		select {
		case <-ctx.Done():
			return registry.FetchResponse{}, ctx.Err()
		case <-time.After(w.retry.Backoff(attempt)):
		}
	}
	return registry.FetchResponse{}, lastErr
}

// checkBreakerGrace tracks how long a host's circuit has been denying
// requests. The first denial starts the grace window; once a later
// denial falls outside it with the circuit still open, the run cannot
// cover the registry and aborts.
func (w *Worker) checkBreakerGrace(rawURL string, err error) error {
	if w.cfg.BreakerGrace <= 0 || !errors.Is(err, registry.ErrBreakerOpen) {
		return nil
	}
	host := taskHost(rawURL)
	if w.cfg.BreakerState != nil && w.cfg.BreakerState(host) != resilience.StateOpen {
		// A probe is in flight; the circuit may still recover.
		return nil
	}
	now := w.clock.Now()
	w.openMu.Lock()
	since, seen := w.openSince[host]
	if !seen {
		w.openSince[host] = now
		w.openMu.Unlock()
		return nil
	}
	w.openMu.Unlock()
	if open := now.Sub(since); open >= w.cfg.BreakerGrace {
		return fmt.Errorf("host %s circuit open for %s: %w", host, open, registry.ErrBreakerOpen)
	}
	return nil
}

func (w *Worker) markHostHealthy(rawURL string) {
	w.openMu.Lock()
	delete(w.openSince, taskHost(rawURL))
	w.openMu.Unlock()
}

func taskHost(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		return u.Hostname()
	}
	return rawURL
}

func (w *Worker) archiveSnapshot(ctx context.Context, task Task, resp registry.FetchResponse) string {
	if w.archiver == nil || w.hasher == nil {
		return ""
	}
	hash, err := w.hasher.Hash(resp.Body)
	if err != nil {
		w.logger.Warn("snapshot hash failed", zap.String("url", task.URL), zap.Error(err))
		return ""
	}
	uri, err := w.archiver.Archive(ctx, w.buildSnapshotPath(task.Kind, hash), w.cfg.ContentType, resp.Body)
	if err != nil {
		// Provenance is best effort; the observation still lands.
		w.logger.Warn("snapshot archive failed", zap.String("url", task.URL), zap.Error(err))
		return ""
	}
	return uri
}

func (w *Worker) buildSnapshotPath(kind registry.EntityKind, hash string) string {
	prefix := strings.Trim(w.cfg.SnapshotPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", kind, hash)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, kind, hash)
}

func (w *Worker) processRecord(ctx context.Context, tracker *run.Tracker, raw registry.RawRecord, snapshotURI string) error {
	rec, err := w.pipe.Process(raw)
	if err != nil {
		tracker.RecordError(stageFor(err), raw.Kind, raw.NaturalKey, err)
		return nil
	}

	outcome, err := w.upsertWithRetry(ctx, rec, snapshotURI)
	if err != nil {
		tracker.RecordError("store", rec.Kind, rec.NaturalKey, err)
		return fmt.Errorf("upsert %s %s: %w", rec.Kind, rec.NaturalKey, err)
	}

	tracker.RecordOutcome(outcome)
	metrics.ObserveRecord(string(rec.Kind), string(outcome))

	if outcome == registry.OutcomeCreated || outcome == registry.OutcomeVersioned {
		w.publishInvalidation(ctx, tracker.ID(), rec, outcome)
	}
	w.recordRelationships(ctx, tracker.ID(), rec)
	return nil
}

// upsertWithRetry completes the write even when the run is being
// canceled; a record already fetched should not be lost to shutdown.
func (w *Worker) upsertWithRetry(ctx context.Context, rec registry.Record, snapshotURI string) (registry.UpsertOutcome, error) {
	writeCtx := context.WithoutCancel(ctx)
	observedAt := w.clock.Now()
	var lastErr error
	for attempt := 0; attempt < w.cfg.MaxRetries; attempt++ {
		outcome, err := w.store.Upsert(writeCtx, rec, observedAt, snapshotURI)
		if err == nil {
			return outcome, nil
		}
		lastErr = err
		var storageErr *registry.StorageError
		if !errors.As(err, &storageErr) {
			break
		}
		time.Sleep(w.retry.Backoff(attempt))
	}
	return "", lastErr
}

func (w *Worker) publishInvalidation(ctx context.Context, runID string, rec registry.Record, outcome registry.UpsertOutcome) {
	if w.publisher == nil || w.cfg.Topic == "" {
		return
	}
	event := registry.InvalidationEvent{
		Kind:       rec.Kind,
		NaturalKey: rec.NaturalKey,
		Outcome:    outcome,
		RunID:      runID,
		TS:         w.clock.Now(),
	}
	if _, err := w.publisher.Publish(context.WithoutCancel(ctx), w.cfg.Topic, event); err != nil {
		w.logger.Warn("invalidation publish failed",
			zap.String("kind", string(rec.Kind)),
			zap.String("natural_key", rec.NaturalKey),
			zap.Error(err),
		)
		return
	}
	metrics.ObserveInvalidation(string(rec.Kind))
}

func (w *Worker) recordRelationships(ctx context.Context, runID string, rec registry.Record) {
	rels := deriveRelationships(rec, runID, w.clock.Now())
	writeCtx := context.WithoutCancel(ctx)
	for _, rel := range rels {
		if err := w.store.AddRelationship(writeCtx, rel); err != nil {
			w.logger.Warn("relationship write failed",
				zap.String("kind", string(rel.Kind)),
				zap.String("from", rel.FromKey),
				zap.String("to", rel.ToKey),
				zap.Error(err),
			)
		}
	}
}

func stageFor(err error) string {
	var (
		validationErr    *registry.ValidationError
		normalizationErr *registry.NormalizationError
	)
	switch {
	case errors.As(err, &validationErr):
		return "validate"
	case errors.As(err, &normalizationErr):
		return "normalize"
	default:
		return "pipeline"
	}
}
