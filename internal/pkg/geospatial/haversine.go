package geospatial

import (
	"math"

	"github.com/samirrijal/riskgrid/internal/core/domain"
)

const (
	earthRadiusMeters = 6371000.0
	metersPerDegree   = 111320.0
)

// Distance returns the great-circle distance in meters between two points.
func Distance(a, b domain.GeoPoint) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// RadiusBounds returns boxes that together contain every point within
// radiusMeters of center. Latitudes are clamped to the poles; near a pole,
// or when the radius wraps the globe, one box spans all longitudes. A box
// crossing the antimeridian is split in two.
func RadiusBounds(center domain.GeoPoint, radiusMeters float64) []domain.Bounds {
	latDelta := radiusMeters / metersPerDegree
	b := domain.Bounds{
		MinLat: math.Max(center.Lat-latDelta, -90),
		MaxLat: math.Min(center.Lat+latDelta, 90),
		MinLon: -180,
		MaxLon: 180,
	}
	if b.MinLat == -90 || b.MaxLat == 90 {
		return []domain.Bounds{b}
	}

	// Meridians converge, so the widest longitude span is at the edge
	// farthest from the equator.
	cos := math.Cos(toRad(math.Max(math.Abs(b.MinLat), math.Abs(b.MaxLat))))
	if cos < 1e-6 {
		return []domain.Bounds{b}
	}
	lonDelta := radiusMeters / (metersPerDegree * cos)
	if lonDelta >= 180 {
		return []domain.Bounds{b}
	}

	west, east := center.Lon-lonDelta, center.Lon+lonDelta
	switch {
	case west < -180:
		wrapped := b
		wrapped.MinLon = west + 360
		b.MaxLon = east
		return []domain.Bounds{b, wrapped}
	case east > 180:
		wrapped := b
		wrapped.MaxLon = east - 360
		b.MinLon = west
		return []domain.Bounds{b, wrapped}
	}
	b.MinLon, b.MaxLon = west, east
	return []domain.Bounds{b}
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
