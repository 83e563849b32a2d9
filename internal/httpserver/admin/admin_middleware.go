package admin

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/voice_translator/internal/app"
	"github.com/ncecere/voice_translator/internal/httpserver/httputil"
)

const adminAuthHeaderPrefix = "bearer "

// adminAuthMiddleware admits bearer tokens whose subject is a configured admin
// user. Without a JWT secret the routes are open, matching the public API.
func adminAuthMiddleware(container *app.Container) fiber.Handler {
	admins := make(map[string]struct{}, len(container.Config.Ledger.AdminUserIDs))
	for _, id := range container.Config.Ledger.AdminUserIDs {
		admins[id] = struct{}{}
	}
	return func(c *fiber.Ctx) error {
		if container.Tokens == nil {
			return c.Next()
		}
		raw := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
		token := ""
		if strings.HasPrefix(strings.ToLower(raw), adminAuthHeaderPrefix) {
			token = strings.TrimSpace(raw[len(adminAuthHeaderPrefix):])
		}
		if token == "" {
			return httputil.WriteError(c, fiber.StatusUnauthorized, "admin authorization required")
		}
		subject, err := container.Tokens.Verify(token)
		if err != nil {
			return httputil.WriteError(c, fiber.StatusUnauthorized, "invalid or expired token")
		}
		if _, ok := admins[subject]; !ok {
			return httputil.WriteError(c, fiber.StatusForbidden, "admin access required")
		}
		c.Locals("adminUserID", subject)
		return c.Next()
	}
}
