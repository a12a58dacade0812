package riskgrid

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/samirrijal/riskgrid/internal/core/domain"
)

const (
	// DefaultRadius is the Chebyshev neighbourhood searched around an empty cell.
	DefaultRadius = 2

	// DefaultConfidencePenalty scales the confidence of interpolated cells.
	DefaultConfidencePenalty = 0.7
)

// InterpolateOptions tunes gap filling. Zero values select the defaults, so
// a penalty of exactly 0 cannot be requested: interpolated cells always keep
// some confidence. Valid penalties lie in (0, 1].
type InterpolateOptions struct {
	Radius            int
	ConfidencePenalty float64
}

func (o InterpolateOptions) withDefaults() (InterpolateOptions, error) {
	if o.Radius < 0 {
		return o, fmt.Errorf("%w: radius %d", ErrInvalidOptions, o.Radius)
	}
	if math.IsNaN(o.ConfidencePenalty) || o.ConfidencePenalty < 0 || o.ConfidencePenalty > 1 {
		return o, fmt.Errorf("%w: confidence penalty %v", ErrInvalidOptions, o.ConfidencePenalty)
	}
	if o.Radius == 0 {
		o.Radius = DefaultRadius
	}
	if o.ConfidencePenalty == 0 {
		o.ConfidencePenalty = DefaultConfidencePenalty
	}
	return o, nil
}

// Interpolate fills every empty cell that has at least one measured
// neighbour within the radius. The filled cell takes the plain average of
// those neighbours, its confidence is scaled by the penalty, and it is
// marked with SampleCount 1 and Interpolated.
//
// Only cells measured by Aggregate act as sources, so the result does not
// depend on scan order and filled cells never feed each other. Cells with
// no measured neighbour keep their zero value. It returns the number of
// cells filled.
func Interpolate(ctx context.Context, g *domain.Grid, opts InterpolateOptions) (int, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return 0, err
	}

	n := g.Resolution
	measured := make([]bool, len(g.Cells))
	for i, c := range g.Cells {
		measured[i] = c.Measured()
	}

	// Scratch buffers shared across cells.
	side := 2*opts.Radius + 1
	risk := make([]float64, 0, side*side)
	conf := make([]float64, 0, side*side)
	pop := make([]float64, 0, side*side)

	filled := 0
	for row := 0; row < n; row++ {
		for col := 0; col < n; col++ {
			if err := ctx.Err(); err != nil {
				return filled, err
			}
			idx := row*n + col
			if g.Cells[idx].SampleCount > 0 {
				continue
			}

			risk, conf, pop = risk[:0], conf[:0], pop[:0]
			for r := max(0, row-opts.Radius); r <= min(n-1, row+opts.Radius); r++ {
				for c := max(0, col-opts.Radius); c <= min(n-1, col+opts.Radius); c++ {
					j := r*n + c
					if j == idx || !measured[j] {
						continue
					}
					nb := g.Cells[j]
					risk = append(risk, nb.RiskScore)
					conf = append(conf, nb.Confidence)
					pop = append(pop, float64(nb.PopulationAtRisk))
				}
			}
			if len(risk) == 0 {
				continue
			}

			cell := &g.Cells[idx]
			cell.RiskScore = clampUnit(stat.Mean(risk, nil))
			cell.Confidence = clampUnit(stat.Mean(conf, nil) * opts.ConfidencePenalty)
			cell.PopulationAtRisk = int(math.Round(stat.Mean(pop, nil)))
			cell.SampleCount = 1
			cell.Interpolated = true
			filled++
		}
	}
	return filled, nil
}
