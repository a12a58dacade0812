package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/timeout"
	"github.com/gofiber/websocket/v2"

	"github.com/samirrijal/riskgrid/internal/pkg/metrics"
)

// gridTimeout bounds a request that may have to build a grid.
const gridTimeout = 30 * time.Second

// legacyGridSunset is when GET /v1/grid goes away.
var legacyGridSunset = time.Date(2027, 6, 30, 0, 0, 0, 0, time.UTC)

// SetupRoutes registers all REST, GraphQL, and WebSocket routes.
func SetupRoutes(app *fiber.App, deps *Dependencies) {
	app.Use(metrics.Middleware())
	app.Get("/metrics", metrics.Handler())

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	app.Use(requestid.New())
	app.Use(RequestIDLogMiddleware())
	app.Use(AccessLogMiddleware())

	// 300 requests per minute per IP
	app.Use(limiter.New(limiter.Config{
		Max:        300,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return newError(c, fiber.StatusTooManyRequests, "rate_limited", "too many requests, please try again later")
		},
	}))

	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("X-API-Version", "1.0.0")
		return c.Next()
	})

	app.Use(ETagMiddleware())
	app.Use(CachingMiddleware())
	app.Use(DeprecationMiddleware([]DeprecatedRoute{
		{Path: "/v1/grid", SunsetDate: legacyGridSunset, Alternative: "/v1/heatmap"},
	}))

	// Health & readiness (no timeout)
	app.Get("/v1/health", HealthHandler(deps))
	app.Get("/v1/ready", ReadyHandler(deps))

	v1 := app.Group("/v1")
	v1.Get("/heatmap", timeout.NewWithContext(HeatmapHandler(deps), gridTimeout))
	v1.Get("/heatmap/cell", timeout.NewWithContext(HeatmapCellHandler(deps), gridTimeout))
	v1.Get("/heatmap/summary", timeout.NewWithContext(HeatmapSummaryHandler(deps), gridTimeout))
	v1.Post("/observations", timeout.NewWithContext(CreateObservationHandler(deps), 15*time.Second))
	v1.Get("/observations", timeout.NewWithContext(ListObservationsHandler(deps), 15*time.Second))
	v1.Get("/observations/nearby", timeout.NewWithContext(NearbyObservationsHandler(deps), 15*time.Second))

	// Deprecated alias of /v1/heatmap
	v1.Get("/grid", timeout.NewWithContext(HeatmapHandler(deps), gridTimeout))

	app.Post("/graphql", GraphQLHandler(deps))

	SetupDocs(app, DefaultSpecPath)

	if deps.NATS != nil {
		app.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		app.Get("/ws", websocket.New(WebSocketHandler(deps.NATS)))
	}
}
