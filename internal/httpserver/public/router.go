package public

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/voice_translator/internal/app"
)

const idempotencyHeader = "Idempotency-Key"

// Register wires the client-facing translation and credit routes.
func Register(app *fiber.App, container *app.Container) {
	app.Get("/languages", listLanguages)

	api := app.Group("/api")
	translate := &translateHandler{container: container}
	api.Post("/translate", translate.translate)
	api.Post("/translate-file", translate.translateFile)

	credits := &creditsHandler{container: container}
	api.Get("/credits/:user_id", credits.get)
	api.Post("/add-credits", credits.add)

	usage := &usageHandler{container: container}
	api.Get("/analytics/usage/:user_id", usage.summary)
}
