package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/registrolabs/renec-harvester/internal/registry"
)

func record(title string) registry.Record {
	return registry.Record{
		Kind:        registry.KindStandard,
		NaturalKey:  "EC0217",
		Fields:      map[string]any{"title": title},
		SourceURL:   "https://conocer.gob.mx/renec?ec=EC0217",
		ContentHash: "hash-" + title,
	}
}

func TestStore_UpsertLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()
	t0 := time.Unix(1_700_000_000, 0).UTC()

	// First observation of EC0217 with title "A".
	outcome, err := s.Upsert(ctx, record("A"), t0, "")
	require.NoError(t, err)
	require.Equal(t, registry.OutcomeCreated, outcome)

	// Identical re-observation: only last_seen advances.
	outcome, err = s.Upsert(ctx, record("A"), t0.Add(time.Hour), "")
	require.NoError(t, err)
	require.Equal(t, registry.OutcomeUnchanged, outcome)

	current, err := s.Current(ctx, registry.KindStandard, "EC0217")
	require.NoError(t, err)
	require.Equal(t, t0, current.FirstSeen)
	require.Equal(t, t0.Add(time.Hour), current.LastSeen)
	require.Equal(t, "A", current.Fields["title"])

	// Changed content: a new row supersedes; history keeps title "A".
	outcome, err = s.Upsert(ctx, record("B"), t0.Add(2*time.Hour), "")
	require.NoError(t, err)
	require.Equal(t, registry.OutcomeVersioned, outcome)

	current, err = s.Current(ctx, registry.KindStandard, "EC0217")
	require.NoError(t, err)
	require.Equal(t, "B", current.Fields["title"])
	require.Equal(t, t0.Add(2*time.Hour), current.FirstSeen)

	history, err := s.History(ctx, registry.KindStandard, "EC0217")
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "A", history[0].Fields["title"])
	require.Equal(t, t0, history[0].FirstSeen)
	require.True(t, history[0].FirstSeen.Before(history[1].FirstSeen))
}

func TestStore_FirstSeenNeverMoves(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()
	t0 := time.Unix(1_700_000_000, 0).UTC()

	_, err := s.Upsert(ctx, record("A"), t0, "")
	require.NoError(t, err)
	for i := 1; i <= 5; i++ {
		_, err = s.Upsert(ctx, record("A"), t0.Add(time.Duration(i)*time.Minute), "")
		require.NoError(t, err)
	}

	current, err := s.Current(ctx, registry.KindStandard, "EC0217")
	require.NoError(t, err)
	require.Equal(t, t0, current.FirstSeen)
	require.Equal(t, t0.Add(5*time.Minute), current.LastSeen)
}

func TestStore_ConcurrentUpsertsSameKeyProduceOneCurrent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()
	base := time.Unix(1_700_000_000, 0).UTC()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			rec := record(fmt.Sprintf("v%d", n%4))
			_, err := s.Upsert(ctx, rec, base.Add(time.Duration(n)*time.Millisecond), "")
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()

	history, err := s.History(ctx, registry.KindStandard, "EC0217")
	require.NoError(t, err)

	// Exactly one row holds the maximal first_seen.
	maxFirst := history[0].FirstSeen
	for _, row := range history {
		if row.FirstSeen.After(maxFirst) {
			maxFirst = row.FirstSeen
		}
	}
	count := 0
	for _, row := range history {
		require.False(t, row.FirstSeen.After(row.LastSeen))
		if row.FirstSeen.Equal(maxFirst) {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestStore_ListCurrentPaginates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()
	t0 := time.Unix(1_700_000_000, 0).UTC()

	for i := 0; i < 5; i++ {
		rec := registry.Record{
			Kind:        registry.KindSector,
			NaturalKey:  fmt.Sprintf("%d", i+1),
			Fields:      map[string]any{"name": fmt.Sprintf("Sector %d", i+1)},
			ContentHash: fmt.Sprintf("h%d", i),
		}
		_, err := s.Upsert(ctx, rec, t0, "")
		require.NoError(t, err)
	}

	page, err := s.ListCurrent(ctx, registry.KindSector, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, "1", page[0].NaturalKey)

	rest, err := s.ListCurrent(ctx, registry.KindSector, 10, 4)
	require.NoError(t, err)
	require.Len(t, rest, 1)

	empty, err := s.ListCurrent(ctx, registry.KindSector, 10, 50)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestStore_RelationshipsUniquePerPair(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()
	rel := registry.Relationship{
		Kind:      registry.RelCertifierStandard,
		FromKey:   "ECE081-13",
		ToKey:     "EC0217",
		RunID:     "run-1",
		CreatedAt: time.Unix(1_700_000_000, 0).UTC(),
	}
	require.NoError(t, s.AddRelationship(ctx, rel))

	replay := rel
	replay.RunID = "run-2"
	require.NoError(t, s.AddRelationship(ctx, replay))

	rels := s.Relationships(registry.RelCertifierStandard)
	require.Len(t, rels, 1)
	// First observation wins; links are never updated.
	require.Equal(t, "run-1", rels[0].RunID)
}

func TestStore_NotFound(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()
	_, err := s.Current(ctx, registry.KindStandard, "EC0000")
	require.ErrorIs(t, err, registry.ErrNotFound)
	_, err = s.History(ctx, registry.KindStandard, "EC0000")
	require.ErrorIs(t, err, registry.ErrNotFound)
}
