package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/registrolabs/renec-harvester/internal/config"
)

// Mutates the package-level cfg and logger, so no t.Parallel.
func TestRunHarvestCanceledContextFailsRun(t *testing.T) {
	loaded, err := config.Load("")
	require.NoError(t, err)
	loaded.Archive.Backend = "memory"
	cfg = loaded
	logger = zap.NewNop()

	harvest := newHarvestCmd()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	harvest.SetContext(ctx)

	// A canceled run never covered the registry; it must surface the
	// cancellation instead of exiting clean with a completed run row.
	err = runHarvest(harvest, nil)
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)
}
