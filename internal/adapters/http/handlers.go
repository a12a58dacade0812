package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/riskgrid/internal/core/domain"
	"github.com/samirrijal/riskgrid/internal/core/usecases"
	"github.com/samirrijal/riskgrid/internal/pkg/logging"
	"github.com/samirrijal/riskgrid/internal/pkg/viewmode"
)

const maxBatchSize = 1000

// CellView is one grid cell as rendered for a view mode.
type CellView struct {
	Row int `json:"row"`
	Col int `json:"col"`
	domain.Cell
	viewmode.Projection
}

// HeatmapResponse is the body of GET /v1/heatmap.
type HeatmapResponse struct {
	Key        string             `json:"key"`
	Version    string             `json:"version"`
	Mode       viewmode.Mode      `json:"mode"`
	Resolution int                `json:"resolution"`
	Bounds     domain.Bounds      `json:"bounds"`
	Levels     domain.LevelCounts `json:"levels"`
	Report     domain.BuildReport `json:"report"`
	BuiltAt    time.Time          `json:"built_at"`
	Cells      []CellView         `json:"cells"`
}

// SummaryResponse is the body of GET /v1/heatmap/summary.
type SummaryResponse struct {
	Key        string             `json:"key"`
	Resolution int                `json:"resolution"`
	Bounds     domain.Bounds      `json:"bounds"`
	Levels     domain.LevelCounts `json:"levels"`
	Report     domain.BuildReport `json:"report"`
	BuiltAt    time.Time          `json:"built_at"`
}

// CellResponse is the body of GET /v1/heatmap/cell.
type CellResponse struct {
	Row  int         `json:"row"`
	Col  int         `json:"col"`
	Cell domain.Cell `json:"cell"`
}

// HeatmapHandler returns the full grid projected for the requested view mode.
func HeatmapHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := parseBuildParams(c)
		if err != nil {
			return errBadRequest(c, err.Error())
		}
		mode := viewmode.RiskLevel
		if raw := c.Query("mode"); raw != "" {
			if mode, err = viewmode.Parse(raw); err != nil {
				return errBadRequest(c, err.Error())
			}
		}

		snap, err := deps.Heatmap.Grid(c.UserContext(), p)
		if err != nil {
			return serviceError(c, err)
		}
		mapper, err := viewmode.ForGrid(mode, snap.Grid)
		if err != nil {
			return errInternal(c, err.Error())
		}

		g := snap.Grid
		cells := make([]CellView, len(g.Cells))
		for i, cell := range g.Cells {
			cells[i] = CellView{
				Row:        i / g.Resolution,
				Col:        i % g.Resolution,
				Cell:       cell,
				Projection: mapper.Project(cell),
			}
		}

		setSnapshotETag(c, snap, string(mode))
		return c.JSON(HeatmapResponse{
			Key:        snap.Key,
			Version:    snap.Version,
			Mode:       mode,
			Resolution: g.Resolution,
			Bounds:     g.Bounds,
			Levels:     g.Levels(),
			Report:     snap.Report,
			BuiltAt:    snap.BuiltAt,
			Cells:      cells,
		})
	}
}

// HeatmapCellHandler returns the cell containing lat/lon.
func HeatmapCellHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		lat, err := queryCoord(c, "lat")
		if err != nil {
			return errBadRequest(c, err.Error())
		}
		lon, err := queryCoord(c, "lon")
		if err != nil {
			return errBadRequest(c, err.Error())
		}
		pt := domain.GeoPoint{Lat: lat, Lon: lon}
		if !pt.Valid() {
			return errBadRequest(c, "lat must be in [-90,90] and lon in [-180,180]")
		}
		p, err := parseBuildParams(c)
		if err != nil {
			return errBadRequest(c, err.Error())
		}

		snap, err := deps.Heatmap.Grid(c.UserContext(), p)
		if err != nil {
			return serviceError(c, err)
		}
		row, col, ok := snap.Grid.Locate(pt)
		if !ok {
			return errNotFound(c, "point lies outside the grid bounds")
		}
		cell, _ := snap.Grid.At(row, col)

		setSnapshotETag(c, snap, "cell")
		return c.JSON(CellResponse{Row: row, Col: col, Cell: cell})
	}
}

// HeatmapSummaryHandler returns level counts and the build report.
func HeatmapSummaryHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := parseBuildParams(c)
		if err != nil {
			return errBadRequest(c, err.Error())
		}
		snap, err := deps.Heatmap.Grid(c.UserContext(), p)
		if err != nil {
			return serviceError(c, err)
		}

		setSnapshotETag(c, snap, "summary")
		return c.JSON(SummaryResponse{
			Key:        snap.Key,
			Resolution: snap.Grid.Resolution,
			Bounds:     snap.Grid.Bounds,
			Levels:     snap.Grid.Levels(),
			Report:     snap.Report,
			BuiltAt:    snap.BuiltAt,
		})
	}
}

// CreateObservationHandler stores one observation, or a JSON array of them.
func CreateObservationHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		body := bytes.TrimSpace(c.Body())
		if len(body) == 0 {
			return errBadRequest(c, "request body is required")
		}
		ctx := c.UserContext()

		if body[0] == '[' {
			var batch []domain.Observation
			if err := json.Unmarshal(body, &batch); err != nil {
				return errBadRequest(c, "invalid JSON array of observations")
			}
			if len(batch) > maxBatchSize {
				return errBadRequest(c, "batch too large (max 1000 observations)")
			}
			if err := deps.Observations.RecordBatch(ctx, batch); err != nil {
				return serviceError(c, err)
			}
			if deps.RebuildOnWrite {
				_ = deps.Heatmap.OnObservations(ctx, batch)
			}
			return c.Status(fiber.StatusCreated).JSON(fiber.Map{"accepted": len(batch)})
		}

		var o domain.Observation
		if err := json.Unmarshal(body, &o); err != nil {
			return errBadRequest(c, "invalid JSON observation")
		}
		if err := deps.Observations.Record(ctx, &o); err != nil {
			return serviceError(c, err)
		}
		if deps.RebuildOnWrite {
			_ = deps.Heatmap.OnObservation(ctx, &o)
		}
		return c.Status(fiber.StatusCreated).JSON(o)
	}
}

// ListObservationsHandler returns a page of observations in a date range.
func ListObservationsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		r, err := parseDateRange(c)
		if err != nil {
			return errBadRequest(c, err.Error())
		}
		offset := c.QueryInt("offset", 0)
		limit := c.QueryInt("limit", 100)
		if offset < 0 {
			offset = 0
		}
		if limit <= 0 || limit > 500 {
			limit = 100
		}

		obs, total, err := deps.Observations.List(c.UserContext(), r, offset, limit)
		if err != nil {
			return serviceError(c, err)
		}
		if obs == nil {
			obs = []domain.Observation{}
		}

		pg := Pagination{Offset: offset, Limit: limit, Total: total}
		SetLinkHeaders(c, pg)
		c.Set("Cache-Control", "no-cache")
		return c.JSON(PaginatedResponse{Data: obs, Pagination: pg})
	}
}

// NearbyObservationsHandler returns observations within a radius of a point.
func NearbyObservationsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		lat, err := queryCoord(c, "lat")
		if err != nil {
			return errBadRequest(c, err.Error())
		}
		lon, err := queryCoord(c, "lon")
		if err != nil {
			return errBadRequest(c, err.Error())
		}
		radius := c.QueryFloat("radius", 500)
		limit := c.QueryInt("limit", 50)

		if radius <= 0 || radius > 50000 {
			return errBadRequest(c, "radius must be between 1 and 50000 meters")
		}

		obs, err := deps.Observations.FindNearby(c.UserContext(), lat, lon, radius, limit)
		if err != nil {
			return serviceError(c, err)
		}
		if obs == nil {
			obs = []usecases.NearbyObservation{}
		}
		return c.JSON(obs)
	}
}

// serviceError maps usecase errors onto the API error envelope.
func serviceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, usecases.ErrInvalidInput):
		return errBadRequest(c, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return errUnavailable(c, "grid build did not finish in time")
	default:
		logging.FromContext(c.UserContext()).Error("request failed", "path", c.Path(), "error", err)
		return errInternal(c, err.Error())
	}
}
