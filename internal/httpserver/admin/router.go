package admin

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/voice_translator/internal/app"
)

// Register wires the runtime configuration and system analytics routes.
func Register(app *fiber.App, container *app.Container) {
	requireAdmin := adminAuthMiddleware(container)

	handler := &settingsHandler{container: container}
	app.Get("/config", handler.getConfig)
	app.Post("/config", requireAdmin, handler.updateConfig)

	usage := &usageHandler{container: container}
	app.Get("/api/analytics/system", requireAdmin, usage.systemSummary)
}
