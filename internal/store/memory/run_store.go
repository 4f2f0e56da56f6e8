package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/registrolabs/renec-harvester/internal/registry"
)

// RunStore keeps harvest run rows in memory.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]registry.Run
}

// NewRunStore creates an empty RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]registry.Run)}
}

// CreateRun stores the initial run row.
func (s *RunStore) CreateRun(_ context.Context, run registry.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return nil
}

// CloseRun replaces the run row with its terminal form.
func (s *RunStore) CloseRun(_ context.Context, run registry.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return nil
}

// GetRun fetches one run row.
func (s *RunStore) GetRun(_ context.Context, runID string) (registry.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return registry.Run{}, registry.ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs ordered by start time, newest first.
func (s *RunStore) ListRuns(_ context.Context, limit, offset int) ([]registry.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]registry.Run, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartTime.After(runs[j].StartTime)
	})

	if offset >= len(runs) {
		return nil, nil
	}
	runs = runs[offset:]
	if limit > 0 && limit < len(runs) {
		runs = runs[:limit]
	}
	return runs, nil
}
