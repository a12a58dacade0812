package riskgrid

import (
	"fmt"

	"github.com/samirrijal/riskgrid/internal/core/domain"
)

// NewGrid allocates an n×n grid of zeroed cells spread evenly over bounds.
// Cell (row, col) sits at MinLat + row/(n-1)·latSpan, MinLon + col/(n-1)·lonSpan.
func NewGrid(bounds domain.Bounds, n int) (*domain.Grid, error) {
	if n < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidResolution, n)
	}
	if bounds.Degenerate() {
		return nil, fmt.Errorf("%w: %+v", ErrDegenerateBounds, bounds)
	}

	g := &domain.Grid{
		Resolution: n,
		Bounds:     bounds,
		Cells:      make([]domain.Cell, n*n),
	}
	step := float64(n - 1)
	for row := 0; row < n; row++ {
		lat := bounds.MinLat + float64(row)/step*bounds.LatSpan()
		for col := 0; col < n; col++ {
			g.Cells[row*n+col].Location = domain.GeoPoint{
				Lat: lat,
				Lon: bounds.MinLon + float64(col)/step*bounds.LonSpan(),
			}
		}
	}
	return g, nil
}
