// middleware/gateway.go
package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// ServiceTokenHeader is accepted alongside "Authorization: Bearer <token>".
const ServiceTokenHeader = "X-Service-Token"

// GatewayAuthMiddleware guards internal REST routes with the shared service token.
func GatewayAuthMiddleware(expectedToken string, logger *zap.SugaredLogger) fiber.Handler {
	if expectedToken == "" {
		logger.Fatal("❌ GAME_SERVICE_TOKEN is not set, service cannot authenticate callers")
	}

	return func(c *fiber.Ctx) error {
		token := c.Get(ServiceTokenHeader)
		if token == "" {
			authHeader := c.Get(fiber.HeaderAuthorization)
			if authHeader == "" {
				logger.Warnf("🚫 [GATEWAY_AUTH] Missing service token for %s", c.Path())
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "service authentication token missing",
				})
			}
			// "Bearer <token>", or the raw value
			token = strings.TrimPrefix(authHeader, "Bearer ")
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
			logger.Warnf("❌ [GATEWAY_AUTH] Invalid token for %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid service authentication token",
			})
		}

		logger.Debugf("✅ [GATEWAY_AUTH] Request accepted for %s", c.Path())
		return c.Next()
	}
}
