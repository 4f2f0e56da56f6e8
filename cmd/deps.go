package cmd

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	gcsclient "cloud.google.com/go/storage"

	archivegcs "github.com/registrolabs/renec-harvester/internal/archive/gcs"
	archivelocal "github.com/registrolabs/renec-harvester/internal/archive/local"
	archivemem "github.com/registrolabs/renec-harvester/internal/archive/memory"
	pubsubpublisher "github.com/registrolabs/renec-harvester/internal/publisher/pubsub"
	"github.com/registrolabs/renec-harvester/internal/registry"
	storemem "github.com/registrolabs/renec-harvester/internal/store/memory"
	storepg "github.com/registrolabs/renec-harvester/internal/store/postgres"
)

// deps holds the wired backends for a command plus their teardown.
type deps struct {
	entities registry.EntityStore
	runs     registry.RunStore
	closers  []func()
}

func (d *deps) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

// buildStores picks Postgres when a DSN is configured and falls back to
// the in-memory stores otherwise.
func buildStores(ctx context.Context) (*deps, error) {
	d := &deps{}
	if cfg.DB.DSN == "" {
		d.entities = storemem.NewStore()
		d.runs = storemem.NewRunStore()
		return d, nil
	}

	entityStore, err := storepg.NewEntityStore(ctx, storepg.EntityStoreConfig{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(cfg.DB.ConnLifetimeSec) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("init entity store: %w", err)
	}
	d.entities = entityStore
	d.closers = append(d.closers, entityStore.Close)

	runStore, err := storepg.NewRunStore(ctx, cfg.DB.DSN)
	if err != nil {
		d.close()
		return nil, fmt.Errorf("init run store: %w", err)
	}
	d.runs = runStore
	d.closers = append(d.closers, runStore.Close)
	return d, nil
}

func buildArchiver(ctx context.Context, d *deps) (registry.Archiver, error) {
	switch cfg.Archive.Backend {
	case "memory":
		return archivemem.New(), nil
	case "local":
		return archivelocal.New(archivelocal.Config{BaseDir: cfg.Archive.LocalDir})
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		d.closers = append(d.closers, func() { _ = client.Close() })
		return archivegcs.New(client, archivegcs.Config{Bucket: cfg.Archive.GCSBucket})
	default:
		return nil, fmt.Errorf("unknown archive backend %q", cfg.Archive.Backend)
	}
}

func buildPublisher(ctx context.Context, d *deps) (registry.Publisher, error) {
	if !cfg.PubSub.Enabled {
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("init pubsub client: %w", err)
	}
	d.closers = append(d.closers, func() { _ = client.Close() })
	return pubsubpublisher.New(client), nil
}
