package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	natsadapter "github.com/samirrijal/riskgrid/internal/adapters/nats"
	"github.com/samirrijal/riskgrid/internal/adapters/postgres"
	"github.com/samirrijal/riskgrid/internal/core/domain"
	"github.com/samirrijal/riskgrid/internal/core/ports"
	"github.com/samirrijal/riskgrid/internal/core/usecases"
	"github.com/samirrijal/riskgrid/internal/pkg/config"
	"github.com/samirrijal/riskgrid/internal/pkg/logging"
)

const batchSize = 500

func main() {
	cfg, err := config.Load("riskgrid-ingestor")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	if len(os.Args) < 2 {
		log.Fatalf("usage: %s <file.csv|url> [...]", filepath.Base(os.Args[0]))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	// Announcing observations lets running API replicas rebuild their grids.
	var publisher ports.EventPublisher
	pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats unavailable, observations will not be announced", "error", err)
	} else {
		defer pub.Close()
		publisher = pub
	}

	svc := usecases.NewObservationService(postgres.NewObservationRepo(db), publisher)
	client := &http.Client{Timeout: 120 * time.Second}

	slog.Info("riskgrid ingestor starting", "files", len(os.Args)-1)

	var (
		wg     sync.WaitGroup
		failed atomic.Int32
	)
	sem := make(chan struct{}, 4) // max 4 concurrent files

	for _, src := range os.Args[1:] {
		wg.Add(1)
		go func(src string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if err := ingestFile(ctx, svc, client, src); err != nil {
				slog.Error("ingest failed", "source", src, "error", err)
				failed.Add(1)
			}
		}(src)
	}

	wg.Wait()
	if n := failed.Load(); n > 0 {
		log.Fatalf("ingestion finished with %d failed file(s)", n)
	}
	slog.Info("ingestion complete")
}

func ingestFile(ctx context.Context, svc *usecases.ObservationService, client *http.Client, src string) error {
	start := time.Now()

	rc, err := openSource(ctx, client, src)
	if err != nil {
		return err
	}
	defer rc.Close()

	var stored int
	stats, err := readObservations(rc, sourceName(src), batchSize, func(batch []domain.Observation) error {
		if err := svc.RecordBatch(ctx, batch); err != nil {
			return fmt.Errorf("store batch after %d rows: %w", stored, err)
		}
		stored += len(batch)
		return nil
	})
	if err != nil {
		return err
	}

	slog.Info("file ingested",
		"source", src,
		"rows", stats.Rows,
		"stored", stored,
		"skipped", stats.Skipped,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return nil
}

// openSource opens a local path or downloads an http(s) URL.
func openSource(ctx context.Context, client *http.Client, src string) (io.ReadCloser, error) {
	if !isURL(src) {
		f, err := os.Open(src)
		if err != nil {
			return nil, fmt.Errorf("open: %w", err)
		}
		return f, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("download: HTTP %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func isURL(src string) bool {
	u, err := url.Parse(src)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https")
}

// sourceName labels rows that carry no source column, e.g. "feed" for
// feed.csv or https://host/path/feed.csv?x=1.
func sourceName(src string) string {
	p := src
	if u, err := url.Parse(src); err == nil && isURL(src) {
		p = u.Path
	}
	name := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
	if name == "" || name == "." || name == "/" {
		return "ingestor"
	}
	return name
}
