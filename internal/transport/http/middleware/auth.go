package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/meshforge/studio/internal/config"
	"github.com/meshforge/studio/internal/transport/http/dto"
)

// APITokenAuth guards routes with the configured API token. The token may
// come as a bearer token, in X-API-Token, or as ?token= for websocket clients
// that cannot set headers. An empty token disables the check.
func APITokenAuth(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := cfg.Auth.APIToken
		if token == "" {
			return c.Next()
		}

		presented := c.Get("X-API-Token")
		if presented == "" {
			auth := c.Get("Authorization")
			const prefix = "Bearer "
			if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
				presented = auth[len(prefix):]
			}
		}
		if presented == "" {
			presented = c.Query("token")
		}

		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error: "unauthorized",
			})
		}

		return c.Next()
	}
}
