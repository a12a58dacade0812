package riskgrid_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samirrijal/riskgrid/internal/core/domain"
	"github.com/samirrijal/riskgrid/internal/pkg/riskgrid"
)

func obsAt(lat, lon, score float64, pop int, conf float64) domain.Observation {
	return domain.Observation{
		Location:         domain.GeoPoint{Lat: lat, Lon: lon},
		RiskScore:        score,
		PopulationAtRisk: pop,
		Confidence:       conf,
		Timestamp:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

// --- Bounds ---

func TestComputeBounds_Empty(t *testing.T) {
	b := riskgrid.ComputeBounds(nil)
	assert.Equal(t, riskgrid.DefaultBounds(), b)
	assert.False(t, b.Degenerate())
}

func TestComputeBounds_PadsTenPercent(t *testing.T) {
	b := riskgrid.ComputeBounds([]domain.Observation{
		obsAt(40, -4, 0.1, 1, 1),
		obsAt(42, 0, 0.1, 1, 1),
	})
	assert.InDelta(t, 39.8, b.MinLat, 1e-9)
	assert.InDelta(t, 42.2, b.MaxLat, 1e-9)
	assert.InDelta(t, -4.4, b.MinLon, 1e-9)
	assert.InDelta(t, 0.4, b.MaxLon, 1e-9)
}

func TestComputeBounds_CoincidentPointsNotDegenerate(t *testing.T) {
	b := riskgrid.ComputeBounds([]domain.Observation{
		obsAt(43.26, -2.93, 0.5, 1, 1),
		obsAt(43.26, -2.93, 0.7, 1, 1),
	})
	require.False(t, b.Degenerate())
	assert.InDelta(t, 43.26-riskgrid.MinPadding, b.MinLat, 1e-9)
	assert.InDelta(t, -2.93+riskgrid.MinPadding, b.MaxLon, 1e-9)
}

func TestComputeBounds_ClampsToGlobe(t *testing.T) {
	b := riskgrid.ComputeBounds([]domain.Observation{
		obsAt(90, 180, 0.5, 1, 1),
		obsAt(80, 170, 0.5, 1, 1),
	})
	assert.Equal(t, 90.0, b.MaxLat)
	assert.Equal(t, 180.0, b.MaxLon)
	assert.False(t, b.Degenerate())
}

// --- Grid ---

func TestNewGrid_RejectsSmallResolution(t *testing.T) {
	for _, n := range []int{-1, 0, 1} {
		_, err := riskgrid.NewGrid(riskgrid.DefaultBounds(), n)
		assert.ErrorIs(t, err, riskgrid.ErrInvalidResolution, "n=%d", n)
	}
}

func TestNewGrid_RejectsDegenerateBounds(t *testing.T) {
	_, err := riskgrid.NewGrid(domain.Bounds{MinLat: 1, MaxLat: 1, MinLon: 0, MaxLon: 2}, 4)
	assert.ErrorIs(t, err, riskgrid.ErrDegenerateBounds)
}

func TestNewGrid_ShapeAndCoordinates(t *testing.T) {
	b := domain.Bounds{MinLat: 10, MaxLat: 20, MinLon: -5, MaxLon: 5}
	for _, n := range []int{2, 3, 7, 16} {
		g, err := riskgrid.NewGrid(b, n)
		require.NoError(t, err)
		require.Len(t, g.Cells, n*n)
		for _, c := range g.Cells {
			assert.True(t, b.Contains(c.Location), "cell %+v outside bounds", c.Location)
			assert.Equal(t, domain.RiskLow, c.RiskLevel)
			assert.Zero(t, c.SampleCount)
			assert.Zero(t, c.Confidence)
		}
		first, _ := g.At(0, 0)
		last, _ := g.At(n-1, n-1)
		assert.Equal(t, domain.GeoPoint{Lat: 10, Lon: -5}, first.Location)
		assert.InDelta(t, 20, last.Location.Lat, 1e-9)
		assert.InDelta(t, 5, last.Location.Lon, 1e-9)
	}
}

func TestNewGrid_RowMajorLayout(t *testing.T) {
	g, err := riskgrid.NewGrid(domain.Bounds{MinLat: 0, MaxLat: 2, MinLon: 0, MaxLon: 4}, 3)
	require.NoError(t, err)
	c, ok := g.At(1, 2)
	require.True(t, ok)
	assert.Equal(t, domain.GeoPoint{Lat: 1, Lon: 4}, c.Location)
	assert.Equal(t, 5, g.Index(1, 2))
	assert.Equal(t, -1, g.Index(3, 0))
}

// --- Aggregate ---

func TestAggregate_SingleObservationExact(t *testing.T) {
	g, err := riskgrid.NewGrid(domain.Bounds{MinLat: 0, MaxLat: 1, MinLon: 0, MaxLon: 1}, 5)
	require.NoError(t, err)

	o := obsAt(0.5, 0.25, 0.37, 42, 0.91)
	st, err := riskgrid.Aggregate(context.Background(), g, []domain.Observation{o})
	require.NoError(t, err)
	assert.Equal(t, 1, st.Folded)

	c, ok := g.At(2, 1)
	require.True(t, ok)
	assert.Equal(t, 0.37, c.RiskScore)
	assert.Equal(t, 0.91, c.Confidence)
	assert.Equal(t, 42, c.PopulationAtRisk)
	assert.Equal(t, 1, c.SampleCount)
}

func TestAggregate_RunningMeanAndSum(t *testing.T) {
	g, err := riskgrid.NewGrid(domain.Bounds{MinLat: 0, MaxLat: 1, MinLon: 0, MaxLon: 1}, 2)
	require.NoError(t, err)

	obs := []domain.Observation{
		obsAt(0.01, 0.01, 0.2, 10, 0.5),
		obsAt(0.02, 0.02, 0.6, 30, 0.9),
		obsAt(0.03, 0.00, 0.4, 5, 0.1),
	}
	_, err = riskgrid.Aggregate(context.Background(), g, obs)
	require.NoError(t, err)

	c, _ := g.At(0, 0)
	assert.InDelta(t, 0.4, c.RiskScore, 1e-12)
	assert.InDelta(t, 0.5, c.Confidence, 1e-12)
	assert.Equal(t, 45, c.PopulationAtRisk)
	assert.Equal(t, 3, c.SampleCount)
}

func TestAggregate_OrderIndependent(t *testing.T) {
	b := domain.Bounds{MinLat: 0, MaxLat: 1, MinLon: 0, MaxLon: 1}
	obs := []domain.Observation{
		obsAt(0.9, 0.9, 0.13, 3, 0.2),
		obsAt(0.95, 0.92, 0.77, 8, 0.6),
		obsAt(0.97, 0.99, 0.51, 1, 0.95),
		obsAt(0.91, 0.94, 0.02, 0, 0.33),
	}
	orders := [][]int{{0, 1, 2, 3}, {3, 2, 1, 0}, {2, 0, 3, 1}, {1, 3, 0, 2}}

	var ref domain.Cell
	for i, order := range orders {
		g, err := riskgrid.NewGrid(b, 4)
		require.NoError(t, err)
		shuffled := make([]domain.Observation, len(order))
		for j, k := range order {
			shuffled[j] = obs[k]
		}
		_, err = riskgrid.Aggregate(context.Background(), g, shuffled)
		require.NoError(t, err)

		c, _ := g.At(3, 3)
		if i == 0 {
			ref = c
			continue
		}
		assert.InDelta(t, ref.RiskScore, c.RiskScore, 1e-12)
		assert.InDelta(t, ref.Confidence, c.Confidence, 1e-12)
		assert.Equal(t, ref.PopulationAtRisk, c.PopulationAtRisk)
		assert.Equal(t, ref.SampleCount, c.SampleCount)
	}
}

func TestAggregate_SkipsOutOfBounds(t *testing.T) {
	g, err := riskgrid.NewGrid(domain.Bounds{MinLat: 0, MaxLat: 1, MinLon: 0, MaxLon: 1}, 3)
	require.NoError(t, err)

	st, err := riskgrid.Aggregate(context.Background(), g, []domain.Observation{
		obsAt(5, 5, 0.9, 1, 1),
		obsAt(0.5, 0.5, 0.9, 1, 1),
		obsAt(-0.1, 0.5, 0.9, 1, 1),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, st.Folded)
	assert.Equal(t, 2, st.Skipped)
}

func TestAggregate_SampleCountMatchesInBoundsObservations(t *testing.T) {
	obs := []domain.Observation{
		obsAt(43.1, -2.9, 0.1, 1, 0.2),
		obsAt(43.2, -2.8, 0.2, 2, 0.3),
		obsAt(43.2, -2.8, 0.3, 3, 0.4),
		obsAt(43.5, -2.1, 0.9, 4, 0.5),
		obsAt(42.9, -3.0, 0.5, 5, 0.6),
	}
	g, err := riskgrid.NewGrid(riskgrid.ComputeBounds(obs), 8)
	require.NoError(t, err)
	st, err := riskgrid.Aggregate(context.Background(), g, obs)
	require.NoError(t, err)

	total := 0
	for _, c := range g.Cells {
		total += c.SampleCount
	}
	assert.Equal(t, len(obs), st.Folded)
	assert.Equal(t, len(obs), total)
}

func TestAggregate_Cancelled(t *testing.T) {
	g, err := riskgrid.NewGrid(riskgrid.DefaultBounds(), 2)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = riskgrid.Aggregate(ctx, g, []domain.Observation{obsAt(0, 0, 0.5, 1, 1)})
	assert.ErrorIs(t, err, context.Canceled)
}

// --- Interpolate ---

func TestInterpolate_FillsWithinRadius(t *testing.T) {
	g, err := riskgrid.NewGrid(domain.Bounds{MinLat: 0, MaxLat: 9, MinLon: 0, MaxLon: 9}, 10)
	require.NoError(t, err)
	_, err = riskgrid.Aggregate(context.Background(), g, []domain.Observation{
		obsAt(0, 0, 0.8, 100, 1.0),
		obsAt(0, 2, 0.4, 51, 0.5),
	})
	require.NoError(t, err)

	filled, err := riskgrid.Interpolate(context.Background(), g, riskgrid.InterpolateOptions{})
	require.NoError(t, err)
	assert.Positive(t, filled)

	// (0,1) sees both sources.
	c, _ := g.At(0, 1)
	assert.True(t, c.Interpolated)
	assert.Equal(t, 1, c.SampleCount)
	assert.InDelta(t, 0.6, c.RiskScore, 1e-12)
	assert.InDelta(t, 0.75*riskgrid.DefaultConfidencePenalty, c.Confidence, 1e-12)
	assert.Equal(t, 76, c.PopulationAtRisk)

	// (0,4) only sees (0,2).
	c, _ = g.At(0, 4)
	assert.InDelta(t, 0.4, c.RiskScore, 1e-12)

	// (0,5) is three columns from the nearest source.
	c, _ = g.At(0, 5)
	assert.False(t, c.Filled())
	assert.Zero(t, c.Confidence)

	// Sources are untouched.
	c, _ = g.At(0, 0)
	assert.False(t, c.Interpolated)
	assert.Equal(t, 0.8, c.RiskScore)
}

func TestInterpolate_DoesNotChainFromFilledCells(t *testing.T) {
	g, err := riskgrid.NewGrid(domain.Bounds{MinLat: 0, MaxLat: 1, MinLon: 0, MaxLon: 9}, 10)
	require.NoError(t, err)
	_, err = riskgrid.Aggregate(context.Background(), g, []domain.Observation{obsAt(0, 0, 0.5, 1, 1)})
	require.NoError(t, err)

	_, err = riskgrid.Interpolate(context.Background(), g, riskgrid.InterpolateOptions{Radius: 1})
	require.NoError(t, err)

	c, _ := g.At(0, 1)
	assert.True(t, c.Filled())
	c, _ = g.At(0, 2)
	assert.False(t, c.Filled(), "filled cells must not act as sources")
}

func TestInterpolate_SecondPassIsNoop(t *testing.T) {
	g, err := riskgrid.NewGrid(domain.Bounds{MinLat: 0, MaxLat: 5, MinLon: 0, MaxLon: 5}, 6)
	require.NoError(t, err)
	_, err = riskgrid.Aggregate(context.Background(), g, []domain.Observation{obsAt(2, 2, 0.9, 10, 0.9)})
	require.NoError(t, err)
	_, err = riskgrid.Interpolate(context.Background(), g, riskgrid.InterpolateOptions{})
	require.NoError(t, err)
	before := g.Clone()

	filled, err := riskgrid.Interpolate(context.Background(), g, riskgrid.InterpolateOptions{})
	require.NoError(t, err)
	assert.Zero(t, filled)
	assert.Equal(t, before.Cells, g.Cells)
}

func TestInterpolate_ConfidenceNeverExceedsNeighbourAverage(t *testing.T) {
	obs := []domain.Observation{
		obsAt(1, 1, 0.3, 4, 0.9),
		obsAt(1, 3, 0.7, 6, 0.4),
		obsAt(4, 4, 0.95, 9, 0.6),
		obsAt(2, 0, 0.1, 1, 1.0),
	}
	g, err := riskgrid.NewGrid(domain.Bounds{MinLat: 0, MaxLat: 5, MinLon: 0, MaxLon: 5}, 6)
	require.NoError(t, err)
	_, err = riskgrid.Aggregate(context.Background(), g, obs)
	require.NoError(t, err)
	measured := g.Clone()

	_, err = riskgrid.Interpolate(context.Background(), g, riskgrid.InterpolateOptions{})
	require.NoError(t, err)

	n := g.Resolution
	for row := 0; row < n; row++ {
		for col := 0; col < n; col++ {
			c, _ := g.At(row, col)
			if !c.Interpolated {
				continue
			}
			var sum float64
			var cnt int
			for r := max(0, row-2); r <= min(n-1, row+2); r++ {
				for cc := max(0, col-2); cc <= min(n-1, col+2); cc++ {
					if nb, _ := measured.At(r, cc); nb.SampleCount > 0 {
						sum += nb.Confidence
						cnt++
					}
				}
			}
			require.Positive(t, cnt)
			assert.LessOrEqual(t, c.Confidence, sum/float64(cnt)+1e-12)
		}
	}
}

func TestInterpolate_Cancelled(t *testing.T) {
	g, err := riskgrid.NewGrid(domain.Bounds{MinLat: 0, MaxLat: 3, MinLon: 0, MaxLon: 3}, 4)
	require.NoError(t, err)
	_, err = riskgrid.Aggregate(context.Background(), g, []domain.Observation{obsAt(0, 0, 0.5, 1, 1)})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	filled, err := riskgrid.Interpolate(ctx, g, riskgrid.InterpolateOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, filled)
	c, _ := g.At(0, 1)
	assert.False(t, c.Filled(), "no cell is filled once the context is done")
}

func TestInterpolate_ZeroPenaltySelectsDefault(t *testing.T) {
	g, err := riskgrid.NewGrid(domain.Bounds{MinLat: 0, MaxLat: 1, MinLon: 0, MaxLon: 1}, 2)
	require.NoError(t, err)
	_, err = riskgrid.Aggregate(context.Background(), g, []domain.Observation{obsAt(0, 0, 0.5, 1, 1)})
	require.NoError(t, err)

	_, err = riskgrid.Interpolate(context.Background(), g, riskgrid.InterpolateOptions{Radius: 1, ConfidencePenalty: 0})
	require.NoError(t, err)
	c, _ := g.At(1, 1)
	assert.InDelta(t, riskgrid.DefaultConfidencePenalty, c.Confidence, 1e-12)
}

func TestInterpolate_RejectsBadOptions(t *testing.T) {
	g, _ := riskgrid.NewGrid(riskgrid.DefaultBounds(), 2)
	_, err := riskgrid.Interpolate(context.Background(), g, riskgrid.InterpolateOptions{Radius: -1})
	assert.ErrorIs(t, err, riskgrid.ErrInvalidOptions)
	_, err = riskgrid.Interpolate(context.Background(), g, riskgrid.InterpolateOptions{ConfidencePenalty: 1.5})
	assert.ErrorIs(t, err, riskgrid.ErrInvalidOptions)
}

// --- Classify ---

func TestClassify_Boundaries(t *testing.T) {
	tests := []struct {
		score float64
		want  domain.RiskLevel
	}{
		{0, domain.RiskLow},
		{0.29999, domain.RiskLow},
		{0.3, domain.RiskMedium},
		{0.59999, domain.RiskMedium},
		{0.6, domain.RiskHigh},
		{0.79999, domain.RiskHigh},
		{0.8, domain.RiskCritical},
		{1, domain.RiskCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, riskgrid.Classify(tt.score), "score %v", tt.score)
	}
}
