package riskgrid

import (
	"context"
	"fmt"
	"time"

	"github.com/samirrijal/riskgrid/internal/core/domain"
)

// Build runs the whole pipeline over an observation snapshot and returns a
// freshly allocated grid. The grid is only returned when every stage
// completed; on any error, including cancellation, the partial grid is
// dropped.
func Build(ctx context.Context, obs []domain.Observation, p domain.BuildParams) (*domain.Grid, domain.BuildReport, error) {
	start := time.Now()
	report := domain.BuildReport{Observations: len(obs)}

	if p.Resolution < 2 {
		return nil, report, fmt.Errorf("%w: got %d", ErrInvalidResolution, p.Resolution)
	}
	if err := p.Filter.Validate(); err != nil {
		return nil, report, err
	}
	opts, err := InterpolateOptions{Radius: p.Radius, ConfidencePenalty: p.ConfidencePenalty}.withDefaults()
	if err != nil {
		return nil, report, err
	}

	snapshot, err := Filter(obs, p.Filter)
	if err != nil {
		return nil, report, err
	}
	report.Filtered = len(obs) - len(snapshot)

	g, err := NewGrid(ComputeBounds(snapshot), p.Resolution)
	if err != nil {
		return nil, report, err
	}

	agg, err := Aggregate(ctx, g, snapshot)
	if err != nil {
		return nil, report, fmt.Errorf("aggregate: %w", err)
	}
	report.Skipped = agg.Skipped
	for _, c := range g.Cells {
		if c.SampleCount > 0 {
			report.Measured++
		}
	}

	filled, err := Interpolate(ctx, g, opts)
	if err != nil {
		return nil, report, fmt.Errorf("interpolate: %w", err)
	}
	report.Interpolated = filled
	report.Empty = len(g.Cells) - report.Measured - filled

	ClassifyGrid(g)
	report.Duration = time.Since(start)
	return g, report, nil
}

// Filter drops observations outside the date range and rejects malformed ones.
func Filter(obs []domain.Observation, r domain.DateRange) ([]domain.Observation, error) {
	out := make([]domain.Observation, 0, len(obs))
	for i := range obs {
		if err := obs[i].Validate(); err != nil {
			return nil, fmt.Errorf("%w at index %d: %v", ErrInvalidObservation, i, err)
		}
		if r.Contains(obs[i].Timestamp) {
			out = append(out, obs[i])
		}
	}
	return out, nil
}
