package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/registrolabs/renec-harvester/internal/registry"
)

func TestPublishRecordsInvalidations(t *testing.T) {
	t.Parallel()

	p := New()

	id1, err := p.Publish(context.Background(), "invalidations", registry.InvalidationEvent{
		Kind:       registry.KindStandard,
		NaturalKey: "EC0217",
		Outcome:    registry.OutcomeCreated,
	})
	require.NoError(t, err)
	require.Equal(t, "inv-1", id1)

	id2, err := p.Publish(context.Background(), "invalidations", registry.InvalidationEvent{
		Kind:       registry.KindStandard,
		NaturalKey: "EC0305",
		Outcome:    registry.OutcomeVersioned,
	})
	require.NoError(t, err)
	require.Equal(t, "inv-2", id2)

	events := p.Events()
	require.Len(t, events, 2)
	require.Equal(t, "invalidations", events[0].Topic)
	require.Equal(t, "EC0217", events[0].Invalidation.NaturalKey)

	byKey := p.EventsFor(registry.KindStandard, "EC0305")
	require.Len(t, byKey, 1)
	require.Equal(t, registry.OutcomeVersioned, byKey[0].Outcome)
}

func TestPublishRejectsForeignPayloads(t *testing.T) {
	t.Parallel()

	p := New()
	_, err := p.Publish(context.Background(), "invalidations", map[string]any{"natural_key": "EC0217"})
	require.Error(t, err)
	require.Empty(t, p.Events())
}
