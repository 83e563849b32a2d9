package public

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/voice_translator/internal/languages"
	"github.com/ncecere/voice_translator/internal/models"
)

func listLanguages(c *fiber.Ctx) error {
	codes := languages.Codes()
	out := make([]models.Language, 0, len(codes))
	for _, code := range codes {
		out = append(out, models.Language{
			Code:   code,
			Name:   languages.Name(code),
			Locale: languages.Locale(code),
		})
	}
	return c.JSON(models.LanguagesResponse{Languages: out, Count: len(out)})
}
