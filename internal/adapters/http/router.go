package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/timeout"
	"github.com/gofiber/websocket/v2"

	"github.com/samirrijal/bilbotrack/internal/pkg/metrics"
)

const requestTimeout = 15 * time.Second

// SetupRoutes registers all REST, GraphQL, and WebSocket routes.
func SetupRoutes(app *fiber.App, deps *Dependencies) {
	// Prometheus metrics
	app.Use(metrics.Middleware())
	app.Get("/metrics", metrics.Handler())

	// WebSocket sits before compression and the body-rewriting middleware.
	app.Use("/ws", WebSocketUpgrade(deps))
	app.Get("/ws", websocket.New(WebSocketHandler(deps)))

	// Response compression (gzip)
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	// Request ID
	app.Use(requestid.New())

	// Request span and request-scoped logger
	app.Use(RequestIDLogMiddleware())

	// Access logs (structured HTTP request logging)
	app.Use(AccessLogMiddleware())

	// Rate limiting: 600 requests per minute per IP. Drivers report often.
	app.Use(limiter.New(limiter.Config{
		Max:        600,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return newError(c, fiber.StatusTooManyRequests, "rate_limited", "too many requests, please try again later")
		},
	}))

	// Security headers + API version
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("X-API-Version", "1.0.0")
		return c.Next()
	})

	// ETag for conditional caching
	app.Use(ETagMiddleware())

	// Default Cache-Control headers
	app.Use(CachingMiddleware())

	// Health & readiness (no auth, no timeout)
	app.Get("/v1/health", HealthHandler(deps))
	app.Get("/v1/ready", ReadyHandler(deps))

	// Public GTFS-Realtime feed
	app.Get("/v1/feeds/vehicle-positions", timeout.NewWithContext(VehiclePositionsFeedHandler(deps), requestTimeout))

	// API documentation (Swagger UI)
	SetupDocs(app)

	// Authenticated REST API v1
	v1 := app.Group("/v1", AuthMiddleware(deps))
	operator := RequireOperator()

	v1.Post("/simulations", operator, timeout.NewWithContext(StartSimulationHandler(deps), requestTimeout))
	v1.Get("/simulations", operator, ListSimulationsHandler(deps))
	v1.Get("/simulations/:trip_id", GetSimulationHandler(deps))
	v1.Delete("/simulations/:trip_id", operator, StopSimulationHandler(deps))

	v1.Post("/trips/:id/locations", timeout.NewWithContext(ReportLocationHandler(deps), requestTimeout))
	v1.Get("/trips/:id/locations", timeout.NewWithContext(LocationHistoryHandler(deps), requestTimeout))
	v1.Get("/trips/:id/location", timeout.NewWithContext(LatestLocationHandler(deps), requestTimeout))
	v1.Get("/trips/:id/analytics", timeout.NewWithContext(AnalyticsHandler(deps), requestTimeout))
	v1.Post("/trips/:id/status", operator, timeout.NewWithContext(TripStatusHandler(deps), requestTimeout))
	v1.Post("/trips/:id/delay", operator, timeout.NewWithContext(DelayHandler(deps), requestTimeout))
	v1.Post("/users/:id/notifications", operator, timeout.NewWithContext(NotifyUserHandler(deps), requestTimeout))

	// GraphQL
	app.Post("/graphql", AuthMiddleware(deps), GraphQLHandler(deps))
}
