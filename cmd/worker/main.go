package main

import (
	"context"
	"log"
	"log/slog"
	"time"

	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
	"go.temporal.io/sdk/worker"

	natsadapter "github.com/samirrijal/riskgrid/internal/adapters/nats"
	"github.com/samirrijal/riskgrid/internal/adapters/postgres"
	"github.com/samirrijal/riskgrid/internal/adapters/valkey"
	"github.com/samirrijal/riskgrid/internal/core/ports"
	"github.com/samirrijal/riskgrid/internal/core/usecases"
	"github.com/samirrijal/riskgrid/internal/pkg/config"
	"github.com/samirrijal/riskgrid/internal/pkg/logging"
	"github.com/samirrijal/riskgrid/internal/workflows"
)

const refreshWorkflowID = "grid-refresh"

func main() {
	cfg, err := config.Load("riskgrid-worker")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	var cacheSvc ports.CacheService
	cache, err := valkey.New(cfg.Valkey.Addr)
	if err != nil {
		slog.Warn("valkey unavailable, refreshed grids will not be shared", "error", err)
	} else {
		defer cache.Close()
		cacheSvc = cache
	}

	var publisher ports.EventPublisher
	pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats unavailable, grid updates and alerts disabled", "error", err)
	} else {
		defer pub.Close()
		publisher = pub
	}

	heatmap := usecases.NewHeatmapService(postgres.NewObservationRepo(db), cacheSvc, publisher, usecases.HeatmapOptions{
		DefaultResolution: cfg.Engine.DefaultResolution,
		MaxResolution:     cfg.Engine.MaxResolution,
		Radius:            cfg.Engine.InterpolationRadius,
		ConfidencePenalty: cfg.Engine.ConfidencePenalty,
		CacheTTLSeconds:   cfg.Engine.CacheTTL,
		MaxAlertCells:     cfg.Engine.MaxAlertCells,
		MaxTrackedGrids:   cfg.Engine.MaxTrackedGrids,
	})
	defer heatmap.Close()

	c, err := client.Dial(client.Options{
		HostPort: cfg.Temporal.HostPort,
		Logger:   tlog.NewStructuredLogger(slog.Default()),
	})
	if err != nil {
		log.Fatalf("temporal client: %v", err)
	}
	defer c.Close()

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})
	w.RegisterWorkflow(workflows.GridRefreshWorkflow)
	w.RegisterActivity(&workflows.GridActivities{
		Heatmap:   heatmap,
		Publisher: publisher,
	})

	if cfg.Temporal.RefreshCron != "" {
		startCtx, startCancel := context.WithTimeout(ctx, 10*time.Second)
		run, err := c.ExecuteWorkflow(startCtx, client.StartWorkflowOptions{
			ID:           refreshWorkflowID,
			TaskQueue:    cfg.Temporal.TaskQueue,
			CronSchedule: cfg.Temporal.RefreshCron,
		}, workflows.GridRefreshWorkflow, workflows.GridRefreshInput{
			Resolutions: []int{cfg.Engine.DefaultResolution},
		})
		startCancel()
		if err != nil {
			log.Fatalf("schedule grid refresh: %v", err)
		}
		slog.Info("grid refresh scheduled", "cron", cfg.Temporal.RefreshCron, "run_id", run.GetRunID())
	}

	slog.Info("grid refresh worker started", "task_queue", cfg.Temporal.TaskQueue)
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("worker: %v", err)
	}
}
