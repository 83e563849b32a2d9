package admin

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/voice_translator/internal/app"
	"github.com/ncecere/voice_translator/internal/httpserver/httputil"
	"github.com/ncecere/voice_translator/internal/timeutil"
)

type usageHandler struct {
	container *app.Container
}

func (h *usageHandler) systemSummary(c *fiber.Ctx) error {
	period := strings.TrimSpace(c.Query("period"))
	if period == "" {
		period = strings.TrimSpace(c.Query("days"))
	}
	summary, err := h.container.Usage.SystemSummary(httputil.UserContext(c), period, h.container.Pricing.Snapshot())
	switch {
	case err == nil:
		return c.JSON(summary)
	case errors.Is(err, timeutil.ErrInvalidPeriod):
		return httputil.WriteError(c, fiber.StatusBadRequest, err.Error())
	default:
		h.container.Logger.Error("system usage summary", "error", err)
		return httputil.WriteError(c, fiber.StatusInternalServerError, "failed to get system analytics")
	}
}
