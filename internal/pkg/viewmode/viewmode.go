// Package viewmode projects grid cells onto a display scale for one of the
// heat-map view modes. It only reads cells; painting, legends and tooltips
// live in the rendering layer.
package viewmode

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/samirrijal/riskgrid/internal/core/domain"
)

// Mode selects which cell statistic drives the display.
type Mode string

const (
	RiskLevel  Mode = "risk_level"
	RiskScore  Mode = "risk_score"
	Population Mode = "population"
	Confidence Mode = "confidence"
)

// Modes lists every supported mode in display order.
var Modes = []Mode{RiskLevel, RiskScore, Population, Confidence}

// Parse accepts the mode names case-insensitively; "" means RiskLevel.
func Parse(s string) (Mode, error) {
	if s == "" {
		return RiskLevel, nil
	}
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Modes {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown view mode %q", s)
}

// Projection is what a renderer needs to paint one cell.
type Projection struct {
	Intensity float64 `json:"intensity"`
	ColorKey  string  `json:"color_key"`
}

// ColorMapper projects a single cell.
type ColorMapper interface {
	Project(c domain.Cell) Projection
}

// ColorMapperFunc adapts a function to ColorMapper.
type ColorMapperFunc func(c domain.Cell) Projection

func (f ColorMapperFunc) Project(c domain.Cell) Projection { return f(c) }

// ForGrid returns the mapper for mode. Modes that normalise against the
// whole grid (population) read g once here.
func ForGrid(mode Mode, g *domain.Grid) (ColorMapper, error) {
	switch mode {
	case RiskLevel:
		return ColorMapperFunc(projectLevel), nil
	case RiskScore:
		return ColorMapperFunc(projectScore), nil
	case Population:
		return populationMapper{max: maxPopulation(g)}, nil
	case Confidence:
		return ColorMapperFunc(projectConfidence), nil
	}
	return nil, fmt.Errorf("unknown view mode %q", mode)
}

// ProjectGrid projects every cell of g in arena order.
func ProjectGrid(mode Mode, g *domain.Grid) ([]Projection, error) {
	m, err := ForGrid(mode, g)
	if err != nil {
		return nil, err
	}
	out := make([]Projection, len(g.Cells))
	for i, c := range g.Cells {
		out[i] = m.Project(c)
	}
	return out, nil
}

// Color keys are looked up by the renderer's palette.
const (
	KeyUnfilled = "unfilled"
	KeyRamp     = "ramp"
)

func projectLevel(c domain.Cell) Projection {
	if !c.Filled() {
		return Projection{ColorKey: KeyUnfilled}
	}
	return Projection{
		Intensity: float64(c.RiskLevel-domain.RiskLow+1) / float64(domain.RiskCritical-domain.RiskLow+1),
		ColorKey:  c.RiskLevel.String(),
	}
}

func projectScore(c domain.Cell) Projection {
	if !c.Filled() {
		return Projection{ColorKey: KeyUnfilled}
	}
	return Projection{Intensity: c.RiskScore, ColorKey: KeyRamp}
}

func projectConfidence(c domain.Cell) Projection {
	if c.Confidence == 0 {
		return Projection{ColorKey: KeyUnfilled}
	}
	return Projection{Intensity: c.Confidence, ColorKey: KeyRamp}
}

type populationMapper struct {
	max float64
}

func (m populationMapper) Project(c domain.Cell) Projection {
	if !c.Filled() {
		return Projection{ColorKey: KeyUnfilled}
	}
	if m.max <= 0 {
		return Projection{ColorKey: KeyRamp}
	}
	return Projection{Intensity: float64(c.PopulationAtRisk) / m.max, ColorKey: KeyRamp}
}

func maxPopulation(g *domain.Grid) float64 {
	if g == nil || len(g.Cells) == 0 {
		return 0
	}
	pops := make([]float64, len(g.Cells))
	for i, c := range g.Cells {
		pops[i] = float64(c.PopulationAtRisk)
	}
	return floats.Max(pops)
}
