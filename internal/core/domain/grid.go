package domain

import (
	"fmt"
	"math"
	"strings"
)

// RiskLevel is the ordinal classification of a continuous risk score.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

var riskLevelNames = [...]string{"low", "medium", "high", "critical"}

func (l RiskLevel) String() string {
	if l < RiskLow || l > RiskCritical {
		return fmt.Sprintf("RiskLevel(%d)", int(l))
	}
	return riskLevelNames[l]
}

// ParseRiskLevel is the inverse of String.
func ParseRiskLevel(s string) (RiskLevel, error) {
	for i, name := range riskLevelNames {
		if strings.EqualFold(s, name) {
			return RiskLevel(i), nil
		}
	}
	return RiskLow, fmt.Errorf("unknown risk level %q", s)
}

func (l RiskLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *RiskLevel) UnmarshalText(b []byte) error {
	v, err := ParseRiskLevel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// Cell holds the aggregated (or interpolated) statistics of one grid unit.
type Cell struct {
	Location         GeoPoint  `json:"location"`
	RiskScore        float64   `json:"risk_score"`
	RiskLevel        RiskLevel `json:"risk_level"`
	PopulationAtRisk int       `json:"population_at_risk"`
	Confidence       float64   `json:"confidence"`
	SampleCount      int       `json:"sample_count"`
	Interpolated     bool      `json:"interpolated,omitempty"`
}

// Filled is true for measured and interpolated cells alike.
func (c Cell) Filled() bool { return c.SampleCount > 0 }

// Measured is true only for cells that received observations directly.
func (c Cell) Measured() bool { return c.SampleCount > 0 && !c.Interpolated }

// Grid is an N×N arena of cells stored row-major. A Grid handed out by
// the engine is never modified again.
type Grid struct {
	Resolution int    `json:"resolution"`
	Bounds     Bounds `json:"bounds"`
	Cells      []Cell `json:"cells"`
}

// Index returns the arena offset of (row, col), or -1 if out of range.
func (g *Grid) Index(row, col int) int {
	if row < 0 || col < 0 || row >= g.Resolution || col >= g.Resolution {
		return -1
	}
	return row*g.Resolution + col
}

// At returns the cell at (row, col).
func (g *Grid) At(row, col int) (Cell, bool) {
	i := g.Index(row, col)
	if i < 0 {
		return Cell{}, false
	}
	return g.Cells[i], true
}

// Locate maps a coordinate to its nearest cell using the same rounding the
// aggregator applies. ok is false when p lies outside the bounds.
func (g *Grid) Locate(p GeoPoint) (row, col int, ok bool) {
	if g.Resolution < 2 || !g.Bounds.Contains(p) {
		return 0, 0, false
	}
	n := float64(g.Resolution - 1)
	row = clampIndex(math.Round((p.Lat-g.Bounds.MinLat)/g.Bounds.LatSpan()*n), g.Resolution)
	col = clampIndex(math.Round((p.Lon-g.Bounds.MinLon)/g.Bounds.LonSpan()*n), g.Resolution)
	return row, col, true
}

// CellFor is the hit-test used by renderers: coordinate to cell.
func (g *Grid) CellFor(p GeoPoint) (Cell, bool) {
	row, col, ok := g.Locate(p)
	if !ok {
		return Cell{}, false
	}
	return g.At(row, col)
}

// Levels counts cells per risk level. Unfilled cells are counted separately.
func (g *Grid) Levels() LevelCounts {
	var lc LevelCounts
	for _, c := range g.Cells {
		if !c.Filled() {
			lc.Unfilled++
			continue
		}
		switch c.RiskLevel {
		case RiskCritical:
			lc.Critical++
		case RiskHigh:
			lc.High++
		case RiskMedium:
			lc.Medium++
		default:
			lc.Low++
		}
	}
	return lc
}

// Clone returns a deep copy that callers may modify freely.
func (g *Grid) Clone() *Grid {
	cp := *g
	cp.Cells = append([]Cell(nil), g.Cells...)
	return &cp
}

// CheckShape verifies that a grid decoded from outside the engine has a
// full N×N arena over non-degenerate bounds.
func (g *Grid) CheckShape() error {
	if g.Resolution < 2 {
		return fmt.Errorf("grid resolution %d below 2", g.Resolution)
	}
	if len(g.Cells) != g.Resolution*g.Resolution {
		return fmt.Errorf("grid arena has %d cells, want %d", len(g.Cells), g.Resolution*g.Resolution)
	}
	if !(g.Bounds.MinLat < g.Bounds.MaxLat && g.Bounds.MinLon < g.Bounds.MaxLon) {
		return fmt.Errorf("grid bounds %+v are degenerate", g.Bounds)
	}
	return nil
}

// LevelCounts is a histogram of risk levels over a grid.
type LevelCounts struct {
	Low      int `json:"low"`
	Medium   int `json:"medium"`
	High     int `json:"high"`
	Critical int `json:"critical"`
	Unfilled int `json:"unfilled"`
}

func clampIndex(v float64, n int) int {
	i := int(v)
	if i < 0 {
		return 0
	}
	if i > n-1 {
		return n - 1
	}
	return i
}
