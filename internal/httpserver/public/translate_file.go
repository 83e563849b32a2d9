package public

import (
	"encoding/base64"
	"io"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/voice_translator/internal/httpserver/httputil"
	"github.com/ncecere/voice_translator/internal/models"
	translationsvc "github.com/ncecere/voice_translator/internal/services/translation"
)

const uploadField = "file"

// translateFile accepts a multipart upload of the recording with the request
// fields as form values and runs it through the same path as /api/translate.
func (h *translateHandler) translateFile(c *fiber.Ctx) error {
	upload, err := c.FormFile(uploadField)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "audio file is required")
	}
	if !strings.HasPrefix(strings.ToLower(upload.Header.Get(fiber.HeaderContentType)), "audio/") {
		return httputil.WriteError(c, fiber.StatusBadRequest, "File must be an audio file")
	}
	if limit := h.container.Config.Server.MaxAudioMB; limit > 0 && upload.Size > int64(limit)<<20 {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(models.TranslateResponse{Error: translationsvc.ErrPayloadTooLarge.Error()})
	}

	file, err := upload.Open()
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "unreadable audio file")
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "unreadable audio file")
	}

	req := models.TranslateRequest{
		AudioBase64:        base64.StdEncoding.EncodeToString(data),
		UserID:             c.FormValue("user_id"),
		SourceLanguage:     c.FormValue("source_language", "tr"),
		TargetLanguage:     c.FormValue("target_language", "en"),
		SourceLanguageName: c.FormValue("source_language_name", "Turkish"),
		TargetLanguageName: c.FormValue("target_language_name", "English"),
		QualityTier:        c.FormValue("quality_tier"),
		RequestID:          strings.TrimSpace(c.FormValue("request_id")),
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
