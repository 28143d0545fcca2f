package http

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/bilbotrack/internal/core/domain"
)

const identityKey = "identity"

// bearerToken extracts the token from the Authorization header, falling
// back to the token query parameter browsers must use for WebSockets.
func bearerToken(c *fiber.Ctx) string {
	if h := c.Get(fiber.HeaderAuthorization); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	return c.Query("token")
}

// AuthMiddleware verifies the caller's token and stores the identity in
// the request locals.
func AuthMiddleware(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		who, err := deps.Auth.VerifyIdentity(c.UserContext(), bearerToken(c))
		if err != nil {
			return errUnauthorized(c, "missing or invalid token")
		}
		c.Locals(identityKey, *who)
		return c.Next()
	}
}

// RequireOperator rejects callers that are not operators or admins.
func RequireOperator() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !identityFrom(c).IsOperator() {
			return errForbidden(c, "operator role required")
		}
		return c.Next()
	}
}

func identityFrom(c *fiber.Ctx) domain.Identity {
	who, _ := c.Locals(identityKey).(domain.Identity)
	return who
}

// authorizeTrip checks the caller may read a trip's data, using the same
// rule as joining the trip channel.
func authorizeTrip(c *fiber.Ctx, deps *Dependencies, tripID string) error {
	return deps.Tracking.AuthorizeChannel(c.UserContext(), identityFrom(c), domain.TripChannel(tripID))
}
