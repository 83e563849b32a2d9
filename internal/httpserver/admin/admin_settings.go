package admin

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/voice_translator/internal/app"
	"github.com/ncecere/voice_translator/internal/httpserver/httputil"
	"github.com/ncecere/voice_translator/internal/models"
)

type settingsHandler struct {
	container *app.Container
}

func (h *settingsHandler) getConfig(c *fiber.Ctx) error {
	return c.JSON(h.container.Pricing.Snapshot())
}

func (h *settingsHandler) updateConfig(c *fiber.Ctx) error {
	var payload models.ServiceConfigUpdate
	if err := c.BodyParser(&payload); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if payload.QualityTier == nil && payload.EnablePrompting == nil && payload.EnableFallback == nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "no configuration fields provided")
	}
	updated, err := h.container.Pricing.Update(payload)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, err.Error())
	}
	actor, _ := c.Locals("adminUserID").(string)
	h.container.Logger.Info("service config updated",
		slog.String("actor", actor),
		slog.String("quality_tier", updated.QualityTier),
		slog.Bool("enable_prompting", updated.EnablePrompting),
		slog.Bool("enable_fallback", updated.EnableFallback),
	)
	return c.JSON(fiber.Map{
		"success": true,
		"config":  updated,
	})
}
