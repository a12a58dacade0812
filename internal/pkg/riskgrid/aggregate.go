package riskgrid

import (
	"context"

	"github.com/samirrijal/riskgrid/internal/core/domain"
)

// AggregateStats reports what Aggregate did with its input.
type AggregateStats struct {
	Folded  int
	Skipped int
}

// Aggregate bins each observation into its nearest cell and folds it into
// that cell's running statistics. Risk score and confidence keep an
// unweighted running mean, population is summed. Observations outside the
// grid bounds are skipped.
//
// ctx is checked before every observation; on cancellation the grid is left
// partially aggregated and must be discarded.
func Aggregate(ctx context.Context, g *domain.Grid, obs []domain.Observation) (AggregateStats, error) {
	var st AggregateStats
	for i := range obs {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		row, col, ok := g.Locate(obs[i].Location)
		if !ok {
			st.Skipped++
			continue
		}
		fold(&g.Cells[g.Index(row, col)], &obs[i])
		st.Folded++
	}
	return st, nil
}

func fold(c *domain.Cell, o *domain.Observation) {
	n := float64(c.SampleCount)
	c.RiskScore = clampUnit((c.RiskScore*n + o.RiskScore) / (n + 1))
	c.Confidence = clampUnit((c.Confidence*n + o.Confidence) / (n + 1))
	c.PopulationAtRisk += o.PopulationAtRisk
	c.SampleCount++
}

func clampUnit(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
