package usecases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/samirrijal/riskgrid/internal/core/domain"
	"github.com/samirrijal/riskgrid/internal/core/ports"
	"github.com/samirrijal/riskgrid/internal/pkg/logging"
	"github.com/samirrijal/riskgrid/internal/pkg/metrics"
	"github.com/samirrijal/riskgrid/internal/pkg/riskgrid"
	"github.com/samirrijal/riskgrid/internal/pkg/telemetry"
)

// HeatmapOptions carries the engine settings from config.
type HeatmapOptions struct {
	DefaultResolution int
	MaxResolution     int
	Radius            int
	ConfidencePenalty float64
	CacheTTLSeconds   int
	MaxAlertCells     int
	// MaxTrackedGrids caps how many distinct grids are kept published and
	// rebuilt on new data. The least recently requested one is dropped.
	MaxTrackedGrids int
}

// DefaultMaxTrackedGrids applies when HeatmapOptions.MaxTrackedGrids is unset.
const DefaultMaxTrackedGrids = 64

// DefaultHeatmapOptions mirrors the config defaults.
func DefaultHeatmapOptions() HeatmapOptions {
	return HeatmapOptions{
		DefaultResolution: 32,
		MaxResolution:     256,
		Radius:            riskgrid.DefaultRadius,
		ConfidencePenalty: riskgrid.DefaultConfidencePenalty,
		CacheTTLSeconds:   300,
		MaxAlertCells:     50,
		MaxTrackedGrids:   DefaultMaxTrackedGrids,
	}
}

// Snapshot is a published grid together with what produced it.
type Snapshot struct {
	Key     string             `json:"key"`
	Version string             `json:"version"`
	Grid    *domain.Grid       `json:"grid"`
	Report  domain.BuildReport `json:"report"`
	BuiltAt time.Time          `json:"built_at"`
}

// RebuildResult is delivered once a background rebuild finishes.
type RebuildResult struct {
	Snapshot *Snapshot
	Err      error
}

// slot tracks the published grid and the in-flight rebuild for one key.
// Every build takes a generation from the service before it reads the
// repository version, so a higher generation never saw older data.
type slot struct {
	params  domain.BuildParams
	current atomic.Pointer[Snapshot]

	// guarded by HeatmapService.mu
	cancel  context.CancelFunc
	pending uint64 // generation of the latest Rebuild
	gen     uint64 // generation of current
}

// HeatmapService builds risk grids from the stored observations. Grids are
// published once per key with an atomic swap; a newer rebuild of the same
// key cancels the one it supersedes.
type HeatmapService struct {
	obs       ports.ObservationRepository
	cache     ports.CacheService
	publisher ports.EventPublisher
	opts      HeatmapOptions

	mu    sync.Mutex
	slots *lru.Cache[string, *slot]
	gen   uint64
	wg    sync.WaitGroup
	base  context.Context
	stop  context.CancelFunc
}

// NewHeatmapService creates a new HeatmapService. cache and publisher may be nil.
func NewHeatmapService(obs ports.ObservationRepository, cache ports.CacheService, publisher ports.EventPublisher, opts HeatmapOptions) *HeatmapService {
	if opts.MaxTrackedGrids <= 0 {
		opts.MaxTrackedGrids = DefaultMaxTrackedGrids
	}
	// Eviction runs inside slots.Add, which is only called with mu held.
	slots, _ := lru.NewWithEvict(opts.MaxTrackedGrids, func(_ string, sl *slot) {
		if sl.cancel != nil {
			sl.cancel()
			sl.cancel = nil
		}
	})
	base, stop := context.WithCancel(context.Background())
	return &HeatmapService{
		obs:       obs,
		cache:     cache,
		publisher: publisher,
		opts:      opts,
		slots:     slots,
		base:      base,
		stop:      stop,
	}
}

// Normalize fills defaults and checks the resolution against the limits.
func (s *HeatmapService) Normalize(p domain.BuildParams) (domain.BuildParams, error) {
	if p.Resolution == 0 {
		p.Resolution = s.opts.DefaultResolution
	}
	if p.Resolution < 2 {
		return p, fmt.Errorf("%w: %w: got %d", ErrInvalidInput, riskgrid.ErrInvalidResolution, p.Resolution)
	}
	if s.opts.MaxResolution > 0 && p.Resolution > s.opts.MaxResolution {
		return p, fmt.Errorf("%w: resolution %d exceeds maximum %d", ErrInvalidInput, p.Resolution, s.opts.MaxResolution)
	}
	if p.Radius == 0 {
		p.Radius = s.opts.Radius
	}
	if p.ConfidencePenalty == 0 {
		p.ConfidencePenalty = s.opts.ConfidencePenalty
	}
	if err := p.Filter.Validate(); err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return p, nil
}

// Grid returns the grid for p, building it if the published one is stale.
// Lookup order: published snapshot, cache, fresh build.
func (s *HeatmapService) Grid(ctx context.Context, p domain.BuildParams) (*Snapshot, error) {
	p, err := s.Normalize(p)
	if err != nil {
		return nil, err
	}
	sl, gen := s.track(p)
	version, err := s.obs.Version(ctx)
	if err != nil {
		return nil, fmt.Errorf("observation version: %w", err)
	}

	if snap := sl.current.Load(); snap != nil && snap.Version == version {
		metrics.CacheHits.WithLabelValues("heatmap_memory").Inc()
		return snap, nil
	}

	cacheKey := "heatmap:" + version + ":" + p.Key()
	if snap := s.fromCache(ctx, cacheKey); snap != nil {
		return s.offer(sl, snap, gen), nil
	}

	snap, err := s.build(ctx, p, version)
	if err != nil {
		return nil, err
	}
	s.toCache(ctx, cacheKey, snap)
	return s.offer(sl, snap, gen), nil
}

// Current returns the last published grid for p without building.
func (s *HeatmapService) Current(p domain.BuildParams) (*Snapshot, bool) {
	p, err := s.Normalize(p)
	if err != nil {
		return nil, false
	}
	s.mu.Lock()
	sl, ok := s.slots.Peek(p.Key())
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	snap := sl.current.Load()
	return snap, snap != nil
}

// Rebuild starts a background build for p, cancelling any rebuild of the
// same key still in flight. The returned channel receives exactly one
// result; a superseded build reports context.Canceled.
func (s *HeatmapService) Rebuild(p domain.BuildParams) <-chan RebuildResult {
	out := make(chan RebuildResult, 1)
	p, err := s.Normalize(p)
	if err != nil {
		out <- RebuildResult{Err: err}
		return out
	}

	s.mu.Lock()
	sl, gen := s.trackLocked(p)
	if sl.cancel != nil {
		sl.cancel()
	}
	ctx, cancel := context.WithCancel(s.base)
	sl.cancel = cancel
	sl.pending = gen
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()

		snap, err := s.rebuild(ctx, p)
		if err == nil && !s.publish(sl, snap, gen, true) {
			err = context.Canceled
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				logging.FromContext(ctx).Debug("superseded grid rebuild dropped", "key", p.Key())
			} else {
				logging.FromContext(ctx).Error("grid rebuild failed", "key", p.Key(), "error", err)
			}
			out <- RebuildResult{Err: err}
			return
		}
		s.announce(ctx, snap)
		out <- RebuildResult{Snapshot: snap}
	}()
	return out
}

// Refresh builds p synchronously, publishes it, and announces the update.
// If a newer build was published meanwhile, that one is announced instead.
// Used by the scheduled refresh workflow.
func (s *HeatmapService) Refresh(ctx context.Context, p domain.BuildParams) (*domain.GridUpdate, error) {
	p, err := s.Normalize(p)
	if err != nil {
		return nil, err
	}
	sl, gen := s.track(p)
	snap, err := s.rebuild(ctx, p)
	if err != nil {
		return nil, err
	}
	snap = s.offer(sl, snap, gen)
	s.announce(ctx, snap)
	return gridUpdate(snap), nil
}

// OnObservation rebuilds every tracked grid whose date filter covers the
// observation's timestamp.
func (s *HeatmapService) OnObservation(ctx context.Context, o *domain.Observation) error {
	return s.OnObservations(ctx, []domain.Observation{*o})
}

// OnObservations rebuilds every tracked grid whose date filter covers at
// least one of the observations. Each grid is rebuilt once per call.
func (s *HeatmapService) OnObservations(ctx context.Context, batch []domain.Observation) error {
	if len(batch) == 0 {
		return nil
	}
	s.mu.Lock()
	var params []domain.BuildParams
	for _, key := range s.slots.Keys() {
		sl, ok := s.slots.Peek(key)
		if !ok {
			continue
		}
		for i := range batch {
			if sl.params.Filter.Contains(batch[i].Timestamp) {
				params = append(params, sl.params)
				break
			}
		}
	}
	s.mu.Unlock()

	for _, p := range params {
		s.Rebuild(p)
	}
	logging.FromContext(ctx).Debug("observations triggered rebuilds", "observations", len(batch), "grids", len(params))
	return nil
}

// CriticalAlert collects the critical cells of the published grid for p.
func (s *HeatmapService) CriticalAlert(ctx context.Context, p domain.BuildParams) (*domain.CriticalAlert, error) {
	snap, err := s.Grid(ctx, p)
	if err != nil {
		return nil, err
	}
	alert := &domain.CriticalAlert{Key: snap.Key, BuiltAt: snap.BuiltAt}
	for _, c := range snap.Grid.Cells {
		if c.Filled() && c.RiskLevel == domain.RiskCritical {
			alert.Total++
			if s.opts.MaxAlertCells <= 0 || len(alert.Cells) < s.opts.MaxAlertCells {
				alert.Cells = append(alert.Cells, c)
			}
		}
	}
	return alert, nil
}

// Close cancels in-flight rebuilds and waits for them to exit.
func (s *HeatmapService) Close() {
	s.stop()
	s.wg.Wait()
}

// track returns the slot for p, marking it most recently used, and a fresh
// build generation.
func (s *HeatmapService) track(p domain.BuildParams) (*slot, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trackLocked(p)
}

func (s *HeatmapService) trackLocked(p domain.BuildParams) (*slot, uint64) {
	key := p.Key()
	sl, ok := s.slots.Get(key)
	if !ok {
		sl = &slot{params: p}
		s.slots.Add(key, sl)
	}
	s.gen++
	return sl, s.gen
}

// publish swaps snap in unless a build of a later generation is already
// published. A rebuild must also still be the latest one started for the
// slot.
func (s *HeatmapService) publish(sl *slot, snap *Snapshot, gen uint64, rebuild bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rebuild {
		if sl.pending != gen {
			return false
		}
		sl.cancel = nil
	}
	if gen < sl.gen {
		return false
	}
	sl.gen = gen
	sl.current.Store(snap)
	return true
}

// offer publishes snap and returns it, or returns the newer snapshot that
// won instead.
func (s *HeatmapService) offer(sl *slot, snap *Snapshot, gen uint64) *Snapshot {
	if s.publish(sl, snap, gen, false) {
		return snap
	}
	if cur := sl.current.Load(); cur != nil {
		return cur
	}
	return snap
}

func (s *HeatmapService) rebuild(ctx context.Context, p domain.BuildParams) (*Snapshot, error) {
	version, err := s.obs.Version(ctx)
	if err != nil {
		return nil, fmt.Errorf("observation version: %w", err)
	}
	snap, err := s.build(ctx, p, version)
	if err != nil {
		return nil, err
	}
	s.toCache(ctx, "heatmap:"+version+":"+p.Key(), snap)
	return snap, nil
}

func (s *HeatmapService) build(ctx context.Context, p domain.BuildParams, version string) (*Snapshot, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "heatmap.build")
	defer span.End()
	span.SetAttributes(
		attribute.Int("riskgrid.resolution", p.Resolution),
		attribute.String("riskgrid.filter", p.Filter.Key()),
	)

	observations, err := s.obs.List(ctx, p.Filter)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("list observations: %w", err)
	}

	grid, report, err := riskgrid.Build(ctx, observations, p)
	if err != nil {
		outcome := "error"
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			outcome = "cancelled"
		}
		metrics.EngineBuilds.WithLabelValues(outcome).Inc()
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("build grid: %w", err)
	}

	metrics.EngineBuilds.WithLabelValues("ok").Inc()
	metrics.EngineBuildDuration.Observe(report.Duration.Seconds())
	metrics.EngineCellsInterpolated.Add(float64(report.Interpolated))
	metrics.EngineObservationsSkipped.Add(float64(report.Skipped))
	span.SetAttributes(
		attribute.Int("riskgrid.observations", report.Observations),
		attribute.Int("riskgrid.measured_cells", report.Measured),
		attribute.Int("riskgrid.interpolated_cells", report.Interpolated),
	)

	logging.FromContext(ctx).Info("grid built",
		"key", p.Key(),
		"observations", report.Observations,
		"measured", report.Measured,
		"interpolated", report.Interpolated,
		"empty", report.Empty,
		"duration", report.Duration.String(),
	)

	return &Snapshot{
		Key:     p.Key(),
		Version: version,
		Grid:    grid,
		Report:  report,
		BuiltAt: time.Now().UTC(),
	}, nil
}

func (s *HeatmapService) fromCache(ctx context.Context, key string) *Snapshot {
	if s.cache == nil {
		return nil
	}
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		metrics.CacheMisses.WithLabelValues("heatmap").Inc()
		return nil
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil || snap.Grid == nil {
		metrics.CacheMisses.WithLabelValues("heatmap").Inc()
		return nil
	}
	if err := snap.Grid.CheckShape(); err != nil {
		logging.FromContext(ctx).Warn("discarding malformed cached grid", "key", key, "error", err)
		metrics.CacheMisses.WithLabelValues("heatmap").Inc()
		return nil
	}
	metrics.CacheHits.WithLabelValues("heatmap").Inc()
	return &snap
}

func (s *HeatmapService) toCache(ctx context.Context, key string, snap *Snapshot) {
	if s.cache == nil || s.opts.CacheTTLSeconds <= 0 {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, s.opts.CacheTTLSeconds); err != nil {
		logging.FromContext(ctx).Warn("cache grid failed", "key", key, "error", err)
	}
}

func (s *HeatmapService) announce(ctx context.Context, snap *Snapshot) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishGridUpdated(ctx, gridUpdate(snap)); err != nil {
		logging.FromContext(ctx).Warn("publish grid update failed", "key", snap.Key, "error", err)
	}
}

func gridUpdate(snap *Snapshot) *domain.GridUpdate {
	return &domain.GridUpdate{
		Key:        snap.Key,
		Resolution: snap.Grid.Resolution,
		Bounds:     snap.Grid.Bounds,
		Levels:     snap.Grid.Levels(),
		Report:     snap.Report,
		BuiltAt:    snap.BuiltAt,
	}
}
