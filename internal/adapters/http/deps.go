package http

import (
	"github.com/nats-io/nats.go"

	"github.com/samirrijal/riskgrid/internal/adapters/postgres"
	"github.com/samirrijal/riskgrid/internal/adapters/valkey"
	"github.com/samirrijal/riskgrid/internal/core/usecases"
)

// Dependencies holds all services needed by HTTP handlers.
type Dependencies struct {
	Heatmap      *usecases.HeatmapService
	Observations *usecases.ObservationService
	NATS         *nats.Conn
	DB           *postgres.DB
	Cache        *valkey.Cache

	// RebuildOnWrite makes POST /v1/observations trigger grid rebuilds
	// directly. Set when no NATS consumer does it.
	RebuildOnWrite bool
}
