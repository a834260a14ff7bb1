package api

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// NewCronAuthMiddleware guards the trigger endpoint with a shared bearer
// secret. An unset secret rejects every request.
func NewCronAuthMiddleware(secret string, logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if secret == "" {
			logger.Warn().Str("path", c.Path()).Msg("trigger rejected: CRON_SECRET not set")
			return problemResponse(c, fiber.StatusUnauthorized,
				"unauthorized", "Unauthorized",
				"Trigger secret is not configured")
		}

		authHeader := c.Get(fiber.HeaderAuthorization)
		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			logger.Warn().
				Str("path", c.Path()).
				Str("ip", c.IP()).
				Msg("unauthorized trigger request")
			return problemResponse(c, fiber.StatusUnauthorized,
				"unauthorized", "Unauthorized",
				"Invalid or missing bearer token")
		}
		return c.Next()
	}
}

// problemResponse returns an RFC 7807 Problem Detail error response.
func problemResponse(c *fiber.Ctx, status int, errType, title, detail string) error {
	return c.Status(status).JSON(ProblemDetail{
		Type:     errType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Path(),
	})
}
