package riskgrid

import (
	"math"

	"github.com/paulmach/orb"

	"github.com/samirrijal/riskgrid/internal/core/domain"
)

const (
	// PaddingFraction widens each axis by this share of its span.
	PaddingFraction = 0.10

	// MinPadding is the smallest padding in degrees applied to an axis, so a
	// single point (or a tight cluster) still yields a box with width.
	MinPadding = 0.01

	// DefaultHalfSpan is the half-width of the box returned for no observations.
	DefaultHalfSpan = 1.0
)

// DefaultBounds is the unit box around the origin used when there is nothing
// to bound.
func DefaultBounds() domain.Bounds {
	return domain.Bounds{
		MinLat: -DefaultHalfSpan, MaxLat: DefaultHalfSpan,
		MinLon: -DefaultHalfSpan, MaxLon: DefaultHalfSpan,
	}
}

// ComputeBounds returns the padded bounding box of the observations.
func ComputeBounds(obs []domain.Observation) domain.Bounds {
	if len(obs) == 0 {
		return DefaultBounds()
	}

	first := orb.Point{obs[0].Location.Lon, obs[0].Location.Lat}
	box := orb.Bound{Min: first, Max: first}
	for _, o := range obs[1:] {
		box = box.Extend(orb.Point{o.Location.Lon, o.Location.Lat})
	}

	minLat, maxLat := pad(box.Bottom(), box.Top(), -90, 90)
	minLon, maxLon := pad(box.Left(), box.Right(), -180, 180)
	return domain.Bounds{MinLat: minLat, MaxLat: maxLat, MinLon: minLon, MaxLon: maxLon}
}

// pad expands [lo, hi] on both sides and keeps the result inside [floor, ceil].
func pad(lo, hi, floor, ceil float64) (float64, float64) {
	p := math.Max((hi-lo)*PaddingFraction, MinPadding)
	lo, hi = math.Max(lo-p, floor), math.Min(hi+p, ceil)
	return lo, hi
}
