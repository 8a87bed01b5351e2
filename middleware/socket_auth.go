// middleware/socket_auth.go
package middleware

import (
	"strings"

	fiberws "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"pong-tournament/apperrors"
	"pong-tournament/services"
)

// Locals keys set by SocketAuthMiddleware.
const (
	PrincipalLocalsKey = "principal"
	AuthErrorLocalsKey = "auth_error"
)

// SocketAuthMiddleware validates `token` from the query of a websocket upgrade.
//
// A failed check on an upgrade request still lets the upgrade through with the error in
// Locals, so the socket handler can close with 1008 "invalid token". Plain HTTP requests
// are answered with 401, or 426 when the token is fine.
//
// Usage:
//
//	app.Get("/ws/lobby", middleware.SocketAuthMiddleware(verifier, log), fiberws.New(gw.ServeLobby))
func SocketAuthMiddleware(verifier services.TokenVerifier, logger *zap.SugaredLogger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := strings.TrimSpace(c.Query("token"))

		principal, err := verifier.Verify(c.UserContext(), token)
		if !fiberws.IsWebSocketUpgrade(c) {
			if err != nil {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": apperrors.MessageOf(err)})
			}
			return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{"error": "websocket upgrade required"})
		}

		if err != nil {
			logger.Warnf("[SocketAuth] ❌ Rejecting socket on %s from %s: %v", c.Path(), c.IP(), err)
			c.Locals(AuthErrorLocalsKey, err)
			return c.Next()
		}

		c.Locals(PrincipalLocalsKey, principal)
		logger.Debugf("[SocketAuth] ✅ Authenticated user %s (%s) on %s", principal.UserID, principal.Alias, c.Path())
		return c.Next()
	}
}
