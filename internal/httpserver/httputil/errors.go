package httputil

import (
	"context"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/voice_translator/internal/auth"
)

// WriteError standardizes JSON error responses for both admin and public APIs.
func WriteError(c *fiber.Ctx, status int, msg string) error {
	if msg == "" {
		msg = http.StatusText(status)
		if msg == "" {
			msg = "unknown error"
		}
	}
	return c.Status(status).JSON(fiber.Map{
		"error": msg,
	})
}

// AuthStatus maps a token verification error to 401 or 403.
func AuthStatus(err error) int {
	if errors.Is(err, auth.ErrWrongSubject) {
		return fiber.StatusForbidden
	}
	return fiber.StatusUnauthorized
}

// UserContext returns the request-scoped context, never nil.
func UserContext(c *fiber.Ctx) context.Context {
	if c == nil {
		return context.Background()
	}
	if uc := c.UserContext(); uc != nil {
		return uc
	}
	return context.Background()
}
