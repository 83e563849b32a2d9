package public

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/voice_translator/internal/app"
	"github.com/ncecere/voice_translator/internal/httpserver/httputil"
	"github.com/ncecere/voice_translator/internal/models"
	translationsvc "github.com/ncecere/voice_translator/internal/services/translation"
)

type creditsHandler struct {
	container *app.Container
}

func (h *creditsHandler) get(c *fiber.Ctx) error {
	userID := c.Params("user_id")
	if ok, err := authorizeUser(c, h.container, userID); !ok {
		return err
	}
	credits, err := h.container.Translation.Credits(httputil.UserContext(c), userID)
	if err != nil {
		if errors.Is(err, translationsvc.ErrValidation) {
			return httputil.WriteError(c, fiber.StatusBadRequest, err.Error())
		}
		h.container.Logger.Error("load credits", "error", err)
		return httputil.WriteError(c, fiber.StatusInternalServerError, "failed to load credits")
	}
	return c.JSON(credits)
}

func (h *creditsHandler) add(c *fiber.Ctx) error {
	var req models.AddCreditsRequest
	if err := c.BodyParser(&req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if ok, err := authorizeUser(c, h.container, req.UserID); !ok {
		return err
	}
	resp, err := h.container.Translation.AddCredits(httputil.UserContext(c), req)
	switch {
	case err == nil:
		return c.JSON(resp)
	case errors.Is(err, translationsvc.ErrValidation):
		return c.Status(fiber.StatusBadRequest).JSON(resp)
	default:
		h.container.Logger.Error("add credits", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(resp)
	}
}
