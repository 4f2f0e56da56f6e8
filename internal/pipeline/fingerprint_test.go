package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/registrolabs/renec-harvester/internal/registry"
)

func TestFingerprinter_Deterministic(t *testing.T) {
	t.Parallel()

	fp := NewFingerprinter()
	rec := registry.RawRecord{
		Kind:       registry.KindStandard,
		NaturalKey: "EC0217",
		Fields: map[string]any{
			"title": "Imparticion de cursos",
			"level": "3",
			"elements": []any{
				map[string]any{"code": "E0771"},
			},
		},
		SourceURL: "https://conocer.gob.mx/a",
	}

	first, err := fp.Fingerprint(rec)
	require.NoError(t, err)
	second, err := fp.Fingerprint(rec)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Len(t, first, 64)
}

func TestFingerprinter_IgnoresProvenance(t *testing.T) {
	t.Parallel()

	fp := NewFingerprinter()
	rec := registry.RawRecord{
		Kind:       registry.KindStandard,
		NaturalKey: "EC0217",
		Fields:     map[string]any{"title": "A"},
		SourceURL:  "https://conocer.gob.mx/a",
	}
	moved := rec
	moved.SourceURL = "https://CONOCER.gob.mx/mirror/b"

	a, err := fp.Fingerprint(rec)
	require.NoError(t, err)
	b, err := fp.Fingerprint(moved)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestFingerprinter_HashesFieldsOnly(t *testing.T) {
	t.Parallel()

	fp := NewFingerprinter()
	fields := map[string]any{"name": "Comercio"}

	a, err := fp.Fingerprint(registry.RawRecord{
		Kind:       registry.KindSector,
		NaturalKey: "3",
		Fields:     fields,
	})
	require.NoError(t, err)
	b, err := fp.Fingerprint(registry.RawRecord{
		Kind:       registry.KindCommittee,
		NaturalKey: "417",
		Fields:     fields,
	})
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestFingerprinter_DetectsContentDrift(t *testing.T) {
	t.Parallel()

	fp := NewFingerprinter()
	rec := registry.RawRecord{
		Kind:       registry.KindStandard,
		NaturalKey: "EC0217",
		Fields:     map[string]any{"title": "A"},
	}
	changed := registry.RawRecord{
		Kind:       registry.KindStandard,
		NaturalKey: "EC0217",
		Fields:     map[string]any{"title": "B"},
	}

	a, err := fp.Fingerprint(rec)
	require.NoError(t, err)
	b, err := fp.Fingerprint(changed)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}
