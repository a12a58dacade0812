package usecases

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/samirrijal/riskgrid/internal/core/domain"
	"github.com/samirrijal/riskgrid/internal/core/ports"
	"github.com/samirrijal/riskgrid/internal/pkg/geospatial"
	"github.com/samirrijal/riskgrid/internal/pkg/logging"
	"github.com/samirrijal/riskgrid/internal/pkg/metrics"
)

// ErrInvalidInput marks caller mistakes that map to 400 responses.
var ErrInvalidInput = errors.New("invalid input")

// ObservationService handles intake and lookup of risk observations.
type ObservationService struct {
	obs       ports.ObservationRepository
	publisher ports.EventPublisher
	now       func() time.Time
}

// NewObservationService creates a new ObservationService. publisher may be nil.
func NewObservationService(obs ports.ObservationRepository, publisher ports.EventPublisher) *ObservationService {
	return &ObservationService{obs: obs, publisher: publisher, now: time.Now}
}

// Record validates, stores and announces a single observation.
func (s *ObservationService) Record(ctx context.Context, o *domain.Observation) error {
	if err := s.prepare(o); err != nil {
		return err
	}
	if err := s.obs.Insert(ctx, o); err != nil {
		return fmt.Errorf("insert observation: %w", err)
	}
	metrics.ObservationsIngested.WithLabelValues(sourceLabel(o.Source)).Inc()

	if s.publisher != nil {
		if err := s.publisher.PublishObservation(ctx, o); err != nil {
			logging.FromContext(ctx).Warn("publish observation failed", "id", o.ID, "error", err)
		}
	}
	return nil
}

// RecordBatch stores many observations at once. Nothing is stored if any
// of them is malformed.
func (s *ObservationService) RecordBatch(ctx context.Context, batch []domain.Observation) error {
	if len(batch) == 0 {
		return nil
	}
	for i := range batch {
		if err := s.prepare(&batch[i]); err != nil {
			return fmt.Errorf("observation %d: %w", i, err)
		}
	}
	if err := s.obs.InsertBatch(ctx, batch); err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	for i := range batch {
		metrics.ObservationsIngested.WithLabelValues(sourceLabel(batch[i].Source)).Inc()
	}

	// Consumers rebuild the grids whose date filter covers an event, so one
	// event per distinct timestamp reaches every affected grid.
	if s.publisher != nil {
		seen := make(map[time.Time]bool)
		for i := range batch {
			ts := batch[i].Timestamp.UTC()
			if seen[ts] {
				continue
			}
			seen[ts] = true
			if err := s.publisher.PublishObservation(ctx, &batch[i]); err != nil {
				logging.FromContext(ctx).Warn("publish observation batch failed", "size", len(batch), "error", err)
				break
			}
		}
	}
	return nil
}

// List returns a page of observations in the date range.
func (s *ObservationService) List(ctx context.Context, r domain.DateRange, offset, limit int) ([]domain.Observation, int, error) {
	if err := r.Validate(); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.obs.ListPage(ctx, r, offset, limit)
}

// NearbyObservation pairs an observation with its distance from the query point.
type NearbyObservation struct {
	domain.Observation
	DistanceMeters float64 `json:"distance_meters"`
}

// FindNearby returns observations within radiusMeters of a point, nearest first.
func (s *ObservationService) FindNearby(ctx context.Context, lat, lon, radiusMeters float64, limit int) ([]NearbyObservation, error) {
	center := domain.GeoPoint{Lat: lat, Lon: lon}
	if !center.Valid() {
		return nil, fmt.Errorf("%w: coordinate (%v, %v) out of range", ErrInvalidInput, lat, lon)
	}
	if radiusMeters <= 0 {
		return nil, fmt.Errorf("%w: radius must be positive", ErrInvalidInput)
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	out := make([]NearbyObservation, 0)
	seen := make(map[string]bool)
	for _, box := range geospatial.RadiusBounds(center, radiusMeters) {
		candidates, err := s.obs.InBox(ctx, box, 0)
		if err != nil {
			return nil, err
		}
		// The boxes over-select at their corners.
		for _, o := range candidates {
			if seen[o.ID] {
				continue
			}
			seen[o.ID] = true
			d := geospatial.Distance(center, o.Location)
			if d <= radiusMeters {
				out = append(out, NearbyObservation{Observation: o, DistanceMeters: d})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceMeters < out[j].DistanceMeters })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *ObservationService) prepare(o *domain.Observation) error {
	if err := o.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Timestamp.IsZero() {
		o.Timestamp = s.now().UTC()
	}
	return nil
}

func sourceLabel(src string) string {
	if src == "" {
		return "unknown"
	}
	return src
}
