package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/registrolabs/renec-harvester/internal/clock/system"
	"github.com/registrolabs/renec-harvester/internal/extractor/renec"
	collyfetcher "github.com/registrolabs/renec-harvester/internal/fetcher/colly"
	"github.com/registrolabs/renec-harvester/internal/hash/sha256"
	"github.com/registrolabs/renec-harvester/internal/id/uuid"
	"github.com/registrolabs/renec-harvester/internal/pipeline"
	"github.com/registrolabs/renec-harvester/internal/registry"
	"github.com/registrolabs/renec-harvester/internal/resilience"
	"github.com/registrolabs/renec-harvester/internal/run"
	"github.com/registrolabs/renec-harvester/internal/worker"
)

// kindSections maps entity kinds to their registry URL sections, the
// inverse of what the extractor recognizes.
var kindSections = map[registry.EntityKind]string{
	registry.KindStandard:  "estandares",
	registry.KindCertifier: "certificadores",
	registry.KindCenter:    "centros",
	registry.KindSector:    "sectores",
	registry.KindCommittee: "comites",
}

func newHarvestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "harvest",
		Short: "Runs one full harvest of the registry",
		Long: `Walks every section of the registry once, upserting each observed
entity into versioned storage and recording the run's outcome.`,
		RunE: runHarvest,
	}
}

func runHarvest(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := buildStores(ctx)
	if err != nil {
		return err
	}
	defer d.close()

	archiver, err := buildArchiver(ctx, d)
	if err != nil {
		return err
	}
	publisher, err := buildPublisher(ctx, d)
	if err != nil {
		return err
	}

	clock := system.New()
	governor := resilience.NewGovernor(resilience.Config{
		Breaker: resilience.BreakerConfig{
			ConsecutiveFailures: cfg.Resilience.ConsecutiveFailures,
			WindowSize:          cfg.Resilience.FailureWindow,
			FailureRate:         cfg.Resilience.FailureRate,
			Cooldown:            cfg.Cooldown(),
		},
		Delay: resilience.DelayConfig{
			Floor:   cfg.DelayFloor(),
			Ceiling: cfg.DelayCeiling(),
		},
	}, clock, logger)

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Harvest.UserAgent,
		Timeout:   cfg.FetchTimeout(),
	}, governor)

	topic := ""
	if publisher != nil {
		topic = cfg.PubSub.TopicName
	}
	w := worker.New(
		fetcher,
		renec.New(),
		pipeline.Default(),
		d.entities,
		archiver,
		publisher,
		resilience.NewRetryPolicy(cfg.Resilience.MaxRetries),
		sha256.New(),
		clock,
		worker.Config{
			Concurrency:    cfg.Harvest.Concurrency,
			Topic:          topic,
			SnapshotPrefix: cfg.Archive.Prefix,
			UserAgent:      cfg.Harvest.UserAgent,
			ContentType:    cfg.Archive.ContentType,
			MaxRetries:     cfg.Resilience.MaxRetries,
			BreakerGrace:   cfg.BreakerGrace(),
			BreakerState:   governor.State,
		},
		logger,
	)

	runID, err := uuid.New().NewID()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}
	tracker, err := run.Start(ctx, runID, clock, d.runs, logger)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}

	tasks := seedTasks()
	logger.Info("harvest starting",
		zap.String("run_id", runID),
		zap.Int("tasks", len(tasks)),
		zap.Int("concurrency", cfg.Harvest.Concurrency),
	)

	ch := make(chan worker.Task, len(tasks))
	for _, task := range tasks {
		ch <- task
	}
	close(ch)

	// Cancellation is a failure: the run did not cover the registry, so
	// the audit row must say failed with the reason, not completed.
	runErr := w.Run(ctx, tracker, ch)
	if runErr != nil {
		if failErr := tracker.Fail(context.WithoutCancel(ctx), runErr); failErr != nil {
			logger.Error("run close failed", zap.Error(failErr))
		}
		return fmt.Errorf("harvest run %s: %w", runID, runErr)
	}
	if err := tracker.Complete(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("complete run %s: %w", runID, err)
	}
	return nil
}

// seedTasks lists every section page to visit, in harvest order.
func seedTasks() []worker.Task {
	base := strings.TrimRight(cfg.Harvest.BaseURL, "/")
	pages := cfg.Harvest.MaxPages
	if pages <= 0 {
		pages = 1
	}
	var tasks []worker.Task
	for _, kind := range registry.Kinds() {
		section := kindSections[kind]
		for page := 1; page <= pages; page++ {
			tasks = append(tasks, worker.Task{
				Kind: kind,
				URL:  fmt.Sprintf("%s/%s?page=%d", base, section, page),
			})
		}
	}
	return tasks
}
