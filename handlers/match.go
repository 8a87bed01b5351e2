package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"pong-tournament/middleware"
	"pong-tournament/services"
)

// SetupMatchRoutes mounts the bracket REST surface. Every route requires the shared service token.
func SetupMatchRoutes(app *fiber.App, h *services.MatchHandler, serviceToken string, logger *zap.SugaredLogger) {
	// 🔐 Only the gateway and the engine talk to the bracket
	match := app.Group("/match", middleware.GatewayAuthMiddleware(serviceToken, logger))

	match.Post("/new", h.CreateMatch)
	match.Post("/result", h.RecordResult)

	match.Get("/:id", h.GetMatch)
	match.Get("/:id/players", h.GetMatchPlayers)
	match.Get("/:id/games", h.GetMatchGames)
}
