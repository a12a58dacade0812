package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/samirrijal/riskgrid/internal/adapters/http"
	natsadapter "github.com/samirrijal/riskgrid/internal/adapters/nats"
	"github.com/samirrijal/riskgrid/internal/adapters/postgres"
	"github.com/samirrijal/riskgrid/internal/adapters/valkey"
	"github.com/samirrijal/riskgrid/internal/core/domain"
	"github.com/samirrijal/riskgrid/internal/core/ports"
	"github.com/samirrijal/riskgrid/internal/core/usecases"
	"github.com/samirrijal/riskgrid/internal/pkg/config"
	"github.com/samirrijal/riskgrid/internal/pkg/logging"
	"github.com/samirrijal/riskgrid/internal/pkg/telemetry"
)

func main() {
	cfg, err := config.Load("riskgrid-api")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.TempoAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	// Database
	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()
	go db.ReportPoolStats(ctx, 15*time.Second)

	// Cache (optional)
	var cacheSvc ports.CacheService
	cache, err := valkey.New(cfg.Valkey.Addr)
	if err != nil {
		slog.Warn("valkey unavailable, grids will not be shared across replicas", "error", err)
	} else {
		defer cache.Close()
		cacheSvc = cache
	}

	// NATS (optional)
	var publisher ports.EventPublisher
	pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats unavailable, events disabled", "error", err)
	} else {
		defer pub.Close()
		publisher = pub
	}

	repo := postgres.NewObservationRepo(db)
	heatmap := usecases.NewHeatmapService(repo, cacheSvc, publisher, usecases.HeatmapOptions{
		DefaultResolution: cfg.Engine.DefaultResolution,
		MaxResolution:     cfg.Engine.MaxResolution,
		Radius:            cfg.Engine.InterpolationRadius,
		ConfidencePenalty: cfg.Engine.ConfidencePenalty,
		CacheTTLSeconds:   cfg.Engine.CacheTTL,
		MaxAlertCells:     cfg.Engine.MaxAlertCells,
		MaxTrackedGrids:   cfg.Engine.MaxTrackedGrids,
	})
	defer heatmap.Close()
	observations := usecases.NewObservationService(repo, publisher)

	// New observations from any producer trigger rebuilds here.
	rebuildOnWrite := true
	if publisher != nil {
		sub, err := natsadapter.NewSubscriber(cfg.NATS.URL)
		if err != nil {
			slog.Warn("nats subscriber unavailable", "error", err)
		} else if err := sub.SubscribeObservations(ctx, heatmap.OnObservation); err != nil {
			slog.Warn("subscribe observations failed", "error", err)
			sub.Close()
		} else {
			defer sub.Close()
			rebuildOnWrite = false
		}
	}

	deps := &http.Dependencies{
		Heatmap:        heatmap,
		Observations:   observations,
		DB:             db,
		Cache:          cache,
		RebuildOnWrite: rebuildOnWrite,
	}
	if pub != nil {
		// WebSocket relay and readiness share the publisher's connection.
		deps.NATS = pub.Conn()
	}

	// Fiber
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    4 * 1024 * 1024, // batch uploads
		AppName:      "RiskGrid API",
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     "http://localhost:3000, http://localhost:5173",
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, If-None-Match",
		ExposeHeaders:    "ETag, Link, Deprecation, Sunset",
		AllowCredentials: false,
		MaxAge:           3600,
	}))

	http.SetupRoutes(app, deps)

	// Warm the default grid so the first request does not pay for the build.
	go func() {
		if res := <-heatmap.Rebuild(domain.BuildParams{}); res.Err != nil {
			slog.Warn("initial grid build failed", "error", res.Err)
		}
	}()

	// Graceful shutdown
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr)
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, draining connections...", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	slog.Info("server stopped")
}
