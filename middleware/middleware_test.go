package middleware

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"pong-tournament/apperrors"
	"pong-tournament/services"
)

type stubVerifier struct{}

func (stubVerifier) Verify(_ context.Context, token string) (*services.Principal, error) {
	if token != "good" {
		return nil, apperrors.New(apperrors.CodeAuth, "invalid token")
	}
	return &services.Principal{UserID: "u1", Alias: "ann"}, nil
}

func newTestApp() *fiber.App {
	log := zap.NewNop().Sugar()
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(log)})
	app.Post("/internal", GatewayAuthMiddleware("svc-token", log), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	app.Get("/ws", SocketAuthMiddleware(stubVerifier{}, log), func(c *fiber.Ctx) error {
		return c.SendString("upgraded")
	})
	app.Get("/boom/:code", func(c *fiber.Ctx) error {
		return apperrors.New(apperrors.Code(c.Params("code")), "boom")
	})
	return app
}

func TestGatewayAuthMiddleware(t *testing.T) {
	app := newTestApp()

	cases := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"missing", "", "", fiber.StatusUnauthorized},
		{"bearer", fiber.HeaderAuthorization, "Bearer svc-token", fiber.StatusOK},
		{"raw", fiber.HeaderAuthorization, "svc-token", fiber.StatusOK},
		{"service header", ServiceTokenHeader, "svc-token", fiber.StatusOK},
		{"wrong", fiber.HeaderAuthorization, "Bearer nope", fiber.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/internal", nil)
			if tc.header != "" {
				req.Header.Set(tc.header, tc.value)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			if resp.StatusCode != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, resp.StatusCode)
			}
		})
	}
}

func TestSocketAuthRejectsPlainHTTP(t *testing.T) {
	app := newTestApp()

	resp, err := app.Test(httptest.NewRequest("GET", "/ws?token=bad", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad token, got %d", resp.StatusCode)
	}

	resp, err = app.Test(httptest.NewRequest("GET", "/ws?token=good", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != fiber.StatusUpgradeRequired {
		t.Fatalf("expected 426 without an upgrade, got %d", resp.StatusCode)
	}
}

func TestErrorHandlerMapsCodes(t *testing.T) {
	app := newTestApp()

	cases := map[apperrors.Code]int{
		apperrors.CodeValidation:    fiber.StatusBadRequest,
		apperrors.CodeStateConflict: fiber.StatusConflict,
		apperrors.CodeNotFound:      fiber.StatusNotFound,
		apperrors.CodeInternal:      fiber.StatusInternalServerError,
	}
	for code, want := range cases {
		resp, err := app.Test(httptest.NewRequest("GET", "/boom/"+string(code), nil))
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		if resp.StatusCode != want {
			t.Fatalf("%s: expected %d, got %d", code, want, resp.StatusCode)
		}
		var body map[string]string
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body["error"] != "boom" {
			t.Fatalf("%s: unexpected body %v (%v)", code, body, err)
		}
	}
}
