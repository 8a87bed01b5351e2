package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"pong-tournament/apperrors"
)

// ErrorHandler renders handler errors as {"error": message}, using the apperrors code for the status.
func ErrorHandler(logger *zap.SugaredLogger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
		}

		code := apperrors.CodeOf(err)
		if code == apperrors.CodeInternal {
			logger.Errorw("request failed", "method", c.Method(), "path", c.Path(), "error", err)
		}
		return c.Status(code.HTTPStatus()).JSON(fiber.Map{"error": apperrors.MessageOf(err)})
	}
}
