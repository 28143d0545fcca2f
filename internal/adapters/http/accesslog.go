package http

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
)

// AccessLogMiddleware logs one structured line per request through the
// request-scoped logger. Health and metrics probes log at debug.
func AccessLogMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		path := c.Path()
		method := c.Method()

		// Run the rest of the chain
		err := c.Next()

		// Response details
		status := c.Response().StatusCode()
		attrs := []slog.Attr{
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", status),
			slog.Duration("latency", time.Since(start)),
			slog.Int("bytes_out", len(c.Response().Body())),
		}
		// Matched route pattern, e.g. /v1/trips/:id/location
		if route := c.Route(); route != nil && route.Path != "" {
			attrs = append(attrs, slog.String("route", route.Path))
		}
		// Set by AuthMiddleware on authenticated routes
		if who := identityFrom(c); who.UserID != "" {
			attrs = append(attrs, slog.String("user_id", who.UserID))
		}

		// Level by outcome; probes stay quiet
		level := slog.LevelInfo
		switch {
		case err != nil:
			attrs = append(attrs, slog.String("error", err.Error()))
			level = slog.LevelError
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		case path == "/v1/health" || path == "/v1/ready" || path == "/metrics":
			level = slog.LevelDebug
		}

		// Request-scoped logger carries request_id and trace_id
		LoggerFromCtx(c.UserContext()).LogAttrs(c.UserContext(), level, method+" "+path, attrs...)
		return err
	}
}
