package handlers

import (
	fiberws "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"pong-tournament/apperrors"
	"pong-tournament/gateway"
	"pong-tournament/middleware"
	"pong-tournament/services"
)

// SetupGatewayRoutes mounts the client websockets and the lobby room lookup.
// Sockets authenticate with ?token=; the lookup requires the service token.
func SetupGatewayRoutes(app *fiber.App, gw *gateway.Gateway, lobby *services.LobbyService, verifier services.TokenVerifier, serviceToken string, logger *zap.SugaredLogger) {
	socketAuth := middleware.SocketAuthMiddleware(verifier, logger)

	ws := app.Group("/ws")
	ws.Get("/lobby", socketAuth, fiberws.New(gw.ServeLobby))
	ws.Get("/game", socketAuth, fiberws.New(gw.ServeGame))

	// 🔐 Room lookups are for internal callers only
	app.Get("/lobby/:name", middleware.GatewayAuthMiddleware(serviceToken, logger), func(c *fiber.Ctx) error {
		room, ok := lobby.Room(c.Params("name"))
		if !ok {
			return apperrors.New(apperrors.CodeNotFound, "room not found")
		}
		return c.JSON(room)
	})
}
