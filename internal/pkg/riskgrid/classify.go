package riskgrid

import "github.com/samirrijal/riskgrid/internal/core/domain"

// Lower bounds of each band, inclusive.
const (
	CriticalThreshold = 0.8
	HighThreshold     = 0.6
	MediumThreshold   = 0.3
)

// Classify maps a risk score to its level.
func Classify(score float64) domain.RiskLevel {
	switch {
	case score >= CriticalThreshold:
		return domain.RiskCritical
	case score >= HighThreshold:
		return domain.RiskHigh
	case score >= MediumThreshold:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// ClassifyGrid sets RiskLevel on every cell.
func ClassifyGrid(g *domain.Grid) {
	for i := range g.Cells {
		g.Cells[i].RiskLevel = Classify(g.Cells[i].RiskScore)
	}
}
