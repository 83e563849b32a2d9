package public

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/voice_translator/internal/app"
	"github.com/ncecere/voice_translator/internal/httpserver/httputil"
)

// authorizeUser enforces that the bearer token belongs to userID. It writes the
// error response itself and reports whether the handler may continue.
func authorizeUser(c *fiber.Ctx, container *app.Container, userID string) (bool, error) {
	if container.Tokens == nil || strings.TrimSpace(userID) == "" {
		return true, nil
	}
	if err := container.Tokens.Authorize(c.Get(fiber.HeaderAuthorization), userID); err != nil {
		return false, httputil.WriteError(c, httputil.AuthStatus(err), err.Error())
	}
	return true, nil
}
