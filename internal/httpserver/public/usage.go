package public

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/voice_translator/internal/app"
	"github.com/ncecere/voice_translator/internal/httpserver/httputil"
	usagesvc "github.com/ncecere/voice_translator/internal/services/usage"
	"github.com/ncecere/voice_translator/internal/timeutil"
)

type usageHandler struct {
	container *app.Container
}

// summary accepts ?period=7d or the older ?days=7.
func (h *usageHandler) summary(c *fiber.Ctx) error {
	userID := c.Params("user_id")
	if ok, err := authorizeUser(c, h.container, userID); !ok {
		return err
	}
	period := strings.TrimSpace(c.Query("period"))
	if period == "" {
		period = strings.TrimSpace(c.Query("days"))
	}
	summary, err := h.container.Usage.Summarize(httputil.UserContext(c), userID, period)
	switch {
	case err == nil:
		return c.JSON(summary)
	case errors.Is(err, timeutil.ErrInvalidPeriod), errors.Is(err, usagesvc.ErrInvalidUser):
		return httputil.WriteError(c, fiber.StatusBadRequest, err.Error())
	default:
		h.container.Logger.Error("usage summary", "error", err)
		return httputil.WriteError(c, fiber.StatusInternalServerError, "failed to load usage")
	}
}
