package public

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/voice_translator/internal/app"
	"github.com/ncecere/voice_translator/internal/httpserver/httputil"
	"github.com/ncecere/voice_translator/internal/models"
	translationsvc "github.com/ncecere/voice_translator/internal/services/translation"
)

type translateHandler struct {
	container *app.Container
}

func (h *translateHandler) translate(c *fiber.Ctx) error {
	var req models.TranslateRequest
	if err := c.BodyParser(&req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.RequestID == "" {
		req.RequestID = strings.TrimSpace(c.Get(idempotencyHeader))
	}
	if ok, err := authorizeUser(c, h.container, req.UserID); !ok {
		return err
	}
	resp, err := h.container.Translation.Translate(httputil.UserContext(c), req)
	return c.Status(translateStatus(err)).JSON(resp)
}

func translateStatus(err error) int {
	switch {
	case err == nil:
		return fiber.StatusOK
	case errors.Is(err, translationsvc.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, translationsvc.ErrInsufficientCredits):
		return fiber.StatusPaymentRequired
	case errors.Is(err, translationsvc.ErrInProgress):
		return fiber.StatusConflict
	case errors.Is(err, translationsvc.ErrPayloadTooLarge):
		return fiber.StatusRequestEntityTooLarge
	case errors.Is(err, translationsvc.ErrRateLimited):
		return fiber.StatusTooManyRequests
	case errors.Is(err, translationsvc.ErrEngineUnavailable):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}
