package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/registrolabs/renec-harvester/internal/registry"
)

// RunStore persists harvest run audit rows in Postgres.
type RunStore struct {
	pool dbPool
}

// NewRunStore creates a Postgres-backed RunStore.
func NewRunStore(ctx context.Context, dsn string) (*RunStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RunStore{pool: pool}, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(pool dbPool) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateRun inserts the initial running row for a harvest run.
func (s *RunStore) CreateRun(ctx context.Context, run registry.Run) error {
	statsJSON, errsJSON, err := marshalRunDetails(run)
	if err != nil {
		return &registry.StorageError{Op: "create_run", Err: err}
	}
	query := `
INSERT INTO harvest_runs (id, start_time, end_time, status, stats, errors)
VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := s.pool.Exec(ctx, query, run.ID, run.StartTime, run.EndTime, run.Status, statsJSON, errsJSON); err != nil {
		return &registry.StorageError{Op: "create_run", Err: err}
	}
	return nil
}

// CloseRun writes the terminal state of a harvest run.
func (s *RunStore) CloseRun(ctx context.Context, run registry.Run) error {
	statsJSON, errsJSON, err := marshalRunDetails(run)
	if err != nil {
		return &registry.StorageError{Op: "close_run", Err: err}
	}
	query := `
UPDATE harvest_runs
SET end_time = $1, status = $2, stats = $3, errors = $4
WHERE id = $5`
	tag, err := s.pool.Exec(ctx, query, run.EndTime, run.Status, statsJSON, errsJSON, run.ID)
	if err != nil {
		return &registry.StorageError{Op: "close_run", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return registry.ErrNotFound
	}
	return nil
}

// GetRun retrieves a single harvest run by ID.
func (s *RunStore) GetRun(ctx context.Context, runID string) (registry.Run, error) {
	query := `
SELECT id, start_time, end_time, status, stats, errors
FROM harvest_runs
WHERE id = $1`
	run, err := scanRun(s.pool.QueryRow(ctx, query, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return registry.Run{}, registry.ErrNotFound
		}
		return registry.Run{}, &registry.StorageError{Op: "get_run", Err: err}
	}
	return run, nil
}

// ListRuns retrieves harvest runs ordered newest first.
func (s *RunStore) ListRuns(ctx context.Context, limit, offset int) ([]registry.Run, error) {
	query := `
SELECT id, start_time, end_time, status, stats, errors
FROM harvest_runs
ORDER BY start_time DESC
LIMIT $1 OFFSET $2`
	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, &registry.StorageError{Op: "list_runs", Err: err}
	}
	defer rows.Close()

	var runs []registry.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, &registry.StorageError{Op: "list_runs", Err: err}
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, &registry.StorageError{Op: "list_runs", Err: err}
	}
	return runs, nil
}

func marshalRunDetails(run registry.Run) (stats, errs []byte, err error) {
	stats, err = json.Marshal(run.Stats)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal stats: %w", err)
	}
	if run.Errors == nil {
		errs = []byte("[]")
		return stats, errs, nil
	}
	errs, err = json.Marshal(run.Errors)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal errors: %w", err)
	}
	return stats, errs, nil
}

func scanRun(row pgx.Row) (registry.Run, error) {
	var (
		run        registry.Run
		statsJSON  []byte
		errorsJSON []byte
	)
	err := row.Scan(&run.ID, &run.StartTime, &run.EndTime, &run.Status, &statsJSON, &errorsJSON)
	if err != nil {
		return registry.Run{}, err
	}
	if len(statsJSON) > 0 {
		if err := json.Unmarshal(statsJSON, &run.Stats); err != nil {
			return registry.Run{}, fmt.Errorf("unmarshal stats: %w", err)
		}
	}
	if len(errorsJSON) > 0 {
		if err := json.Unmarshal(errorsJSON, &run.Errors); err != nil {
			return registry.Run{}, fmt.Errorf("unmarshal errors: %w", err)
		}
	}
	return run, nil
}
