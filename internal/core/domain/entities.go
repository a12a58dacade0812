package domain

import (
	"fmt"
	"math"
	"time"
)

// Observation is a single geo-tagged risk measurement supplied by the
// upstream analytics feed.
type Observation struct {
	ID               string    `json:"id"`
	Location         GeoPoint  `json:"location"`
	RiskScore        float64   `json:"risk_score"`
	PopulationAtRisk int       `json:"population_at_risk"`
	Confidence       float64   `json:"confidence"`
	Timestamp        time.Time `json:"timestamp"`
	Source           string    `json:"source,omitempty"`
}

// Validate checks field ranges.
func (o *Observation) Validate() error {
	if !o.Location.Valid() {
		return fmt.Errorf("location (%v, %v) out of range", o.Location.Lat, o.Location.Lon)
	}
	if !unit(o.RiskScore) {
		return fmt.Errorf("risk_score %v not in [0,1]", o.RiskScore)
	}
	if !unit(o.Confidence) {
		return fmt.Errorf("confidence %v not in [0,1]", o.Confidence)
	}
	if o.PopulationAtRisk < 0 {
		return fmt.Errorf("population_at_risk %d is negative", o.PopulationAtRisk)
	}
	return nil
}

func unit(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

// DateRange filters observations by timestamp. A zero From or To leaves
// that side unbounded.
type DateRange struct {
	From time.Time `json:"from,omitempty"`
	To   time.Time `json:"to,omitempty"`
}

// Contains reports whether t falls inside the range, both ends inclusive.
func (r DateRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}

// Validate rejects an inverted range.
func (r DateRange) Validate() error {
	if !r.From.IsZero() && !r.To.IsZero() && r.To.Before(r.From) {
		return fmt.Errorf("date range end %s before start %s",
			r.To.Format(time.RFC3339), r.From.Format(time.RFC3339))
	}
	return nil
}

// Key is a stable textual form used in cache keys and subjects.
func (r DateRange) Key() string {
	f, t := "-", "-"
	if !r.From.IsZero() {
		f = r.From.UTC().Format(time.RFC3339)
	}
	if !r.To.IsZero() {
		t = r.To.UTC().Format(time.RFC3339)
	}
	return f + ".." + t
}

// BuildParams selects what grid to build from an observation snapshot.
// A zero Radius or ConfidencePenalty selects the engine default.
type BuildParams struct {
	Resolution        int       `json:"resolution"`
	Filter            DateRange `json:"filter"`
	Radius            int       `json:"radius,omitempty"`
	ConfidencePenalty float64   `json:"confidence_penalty,omitempty"`
}

// Key identifies the grid these params produce.
func (p BuildParams) Key() string {
	return fmt.Sprintf("r%d:%s:n%d:p%.3f", p.Resolution, p.Filter.Key(), p.Radius, p.ConfidencePenalty)
}

// BuildReport summarises one run of the aggregation pipeline.
type BuildReport struct {
	Observations int           `json:"observations"`
	Filtered     int           `json:"filtered"`
	Skipped      int           `json:"skipped"`
	Measured     int           `json:"measured_cells"`
	Interpolated int           `json:"interpolated_cells"`
	Empty        int           `json:"empty_cells"`
	Duration     time.Duration `json:"duration"`
}

// GridUpdate is the event emitted once a rebuilt grid has been published.
type GridUpdate struct {
	Key        string      `json:"key"`
	Resolution int         `json:"resolution"`
	Bounds     Bounds      `json:"bounds"`
	Levels     LevelCounts `json:"levels"`
	Report     BuildReport `json:"report"`
	BuiltAt    time.Time   `json:"built_at"`
}

// CriticalAlert lists the cells of a freshly built grid that reached the
// critical band.
type CriticalAlert struct {
	Key     string    `json:"key"`
	Cells   []Cell    `json:"cells"`
	Total   int       `json:"total"`
	BuiltAt time.Time `json:"built_at"`
}
