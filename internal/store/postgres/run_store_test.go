package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/registrolabs/renec-harvester/internal/registry"
)

func TestCreateRunInsertsRunningRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock)
	require.NoError(t, err)

	start := time.Unix(1700000000, 0).UTC()
	run := registry.Run{
		ID:        "run-1",
		StartTime: start,
		Status:    registry.RunRunning,
	}

	mock.ExpectExec("INSERT INTO harvest_runs").
		WithArgs(
			run.ID,
			run.StartTime,
			run.EndTime,
			run.Status,
			[]byte(`{"seen":0,"created":0,"unchanged":0,"versioned":0,"errored":0}`),
			[]byte(`[]`),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateRun(context.Background(), run))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCloseRunWritesTerminalState(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock)
	require.NoError(t, err)

	start := time.Unix(1700000000, 0).UTC()
	end := start.Add(10 * time.Minute)
	run := registry.Run{
		ID:        "run-1",
		StartTime: start,
		EndTime:   &end,
		Status:    registry.RunCompleted,
		Stats:     registry.RunStats{Seen: 4, Created: 1, Unchanged: 2, Versioned: 1},
	}

	mock.ExpectExec("UPDATE harvest_runs").
		WithArgs(
			run.EndTime,
			run.Status,
			[]byte(`{"seen":4,"created":1,"unchanged":2,"versioned":1,"errored":0}`),
			[]byte(`[]`),
			run.ID,
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.CloseRun(context.Background(), run))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCloseRunUnknownIDIsNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock)
	require.NoError(t, err)

	end := time.Unix(1700000000, 0).UTC()
	run := registry.Run{ID: "run-missing", EndTime: &end, Status: registry.RunFailed}

	mock.ExpectExec("UPDATE harvest_runs").
		WithArgs(
			run.EndTime,
			run.Status,
			[]byte(`{"seen":0,"created":0,"unchanged":0,"versioned":0,"errored":0}`),
			[]byte(`[]`),
			run.ID,
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = store.CloseRun(context.Background(), run)
	require.ErrorIs(t, err, registry.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunDecodesStatsAndErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock)
	require.NoError(t, err)

	start := time.Unix(1700000000, 0).UTC()
	end := start.Add(time.Minute)

	mock.ExpectQuery("SELECT id, start_time, end_time, status, stats, errors").
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "start_time", "end_time", "status", "stats", "errors"}).
			AddRow(
				"run-1",
				start,
				&end,
				registry.RunCompleted,
				[]byte(`{"seen":3,"created":1,"unchanged":1,"versioned":0,"errored":1}`),
				[]byte(`[{"stage":"normalize","kind":"standard","natural_key":"EC0005","message":"parse date \"pronto\"","at":"2023-11-14T22:13:20Z"}]`),
			))

	run, err := store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, registry.RunCompleted, run.Status)
	require.NotNil(t, run.EndTime)
	require.Equal(t, int64(3), run.Stats.Seen)
	require.Equal(t, int64(1), run.Stats.Errored)
	require.Len(t, run.Errors, 1)
	require.Equal(t, "normalize", run.Errors[0].Stage)
	require.Equal(t, "EC0005", run.Errors[0].NaturalKey)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunUnknownIDIsNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT id, start_time, end_time, status, stats, errors").
		WithArgs("run-missing").
		WillReturnError(pgx.ErrNoRows)

	_, err = store.GetRun(context.Background(), "run-missing")
	require.ErrorIs(t, err, registry.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRunsNewestFirst(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock)
	require.NoError(t, err)

	t0 := time.Unix(1700000000, 0).UTC()
	t1 := t0.Add(time.Hour)

	mock.ExpectQuery("SELECT id, start_time, end_time, status, stats, errors").
		WithArgs(10, 0).
		WillReturnRows(pgxmock.NewRows([]string{"id", "start_time", "end_time", "status", "stats", "errors"}).
			AddRow("run-2", t1, (*time.Time)(nil), registry.RunRunning, []byte(`{}`), []byte(`[]`)).
			AddRow("run-1", t0, &t0, registry.RunFailed, []byte(`{}`), []byte(`[]`)))

	runs, err := store.ListRuns(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "run-2", runs[0].ID)
	require.Equal(t, registry.RunRunning, runs[0].Status)
	require.Nil(t, runs[0].EndTime)
	require.NoError(t, mock.ExpectationsWereMet())
}
