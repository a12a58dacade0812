package http

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/riskgrid/internal/core/domain"
)

const dateOnly = "2006-01-02"

// parseBuildParams reads resolution, from and to. Missing values are left
// zero for the service to default.
func parseBuildParams(c *fiber.Ctx) (domain.BuildParams, error) {
	var p domain.BuildParams

	if raw := c.Query("resolution"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return p, fmt.Errorf("resolution must be an integer, got %q", raw)
		}
		if n < 2 {
			return p, fmt.Errorf("resolution must be at least 2, got %d", n)
		}
		p.Resolution = n
	}

	r, err := parseDateRange(c)
	if err != nil {
		return p, err
	}
	p.Filter = r
	return p, nil
}

func parseDateRange(c *fiber.Ctx) (domain.DateRange, error) {
	var r domain.DateRange
	var err error
	if r.From, err = parseTime(c.Query("from"), false); err != nil {
		return r, fmt.Errorf("from: %w", err)
	}
	if r.To, err = parseTime(c.Query("to"), true); err != nil {
		return r, fmt.Errorf("to: %w", err)
	}
	if err := r.Validate(); err != nil {
		return r, err
	}
	return r, nil
}

// parseTime accepts RFC 3339 or a bare date. A bare upper bound covers the
// whole day.
func parseTime(raw string, endOfDay bool) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(dateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC 3339 or YYYY-MM-DD, got %q", raw)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

// queryCoord reads a required coordinate query parameter.
func queryCoord(c *fiber.Ctx, name string) (float64, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number, got %q", name, raw)
	}
	return v, nil
}
