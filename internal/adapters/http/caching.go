package http

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// CachingMiddleware sets Cache-Control headers on GET responses based on
// endpoint, unless the handler already set one. Tracking data changes every
// tick, so most of it must not be cached by shared caches.
func CachingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()

		// Only GET responses are cacheable
		if c.Method() != fiber.MethodGet {
			return err
		}
		// Handler already decided
		if existing := c.GetRespHeader(fiber.HeaderCacheControl); existing != "" {
			return err
		}

		path := c.Path()
		var ttl string

		// Defaults by endpoint
		switch {
		case path == "/v1/health" || path == "/v1/ready":
			ttl = "no-cache" // probes must see live state

		case path == "/metrics":
			ttl = "no-cache" // scraped live

		case strings.HasPrefix(path, "/docs"):
			ttl = "public, max-age=3600" // embedded, changes only on deploy

		case strings.HasSuffix(path, "/analytics"):
			ttl = "private, max-age=5" // aggregates shift every tick

		case strings.HasSuffix(path, "/locations"):
			ttl = "private, max-age=2" // paged history, short reuse only

		case strings.HasPrefix(path, "/v1/"):
			ttl = "private, no-cache" // revalidate through ETag
		}

		if ttl != "" {
			c.Set(fiber.HeaderCacheControl, ttl)
		}

		return err
	}
}
