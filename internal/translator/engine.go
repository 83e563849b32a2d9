// Package translator turns recorded speech into translated text using an
// upstream speech and language model provider.
package translator

import (
	"context"
	"errors"
	"fmt"

	"github.com/ncecere/voice_translator/internal/models"
)

var (
	// ErrAudioTooShort is returned when the provider rejects a clip as too short to transcribe.
	ErrAudioTooShort = errors.New("audio too short")

	// ErrUnavailable wraps provider failures that leave the request uncharged.
	ErrUnavailable = errors.New("translation engine unavailable")

	ErrEmptyTranscript = errors.New("no speech detected in recording")
)

// Engine performs the two upstream steps of a translation.
type Engine interface {
	Transcribe(ctx context.Context, req models.TranscriptionRequest) (models.TranscriptionResponse, error)
	Translate(ctx context.Context, req models.TextTranslationRequest) (models.TextTranslationResponse, error)
	HealthCheck(ctx context.Context) error
}

var transcriptionPrompts = map[string]string{
	"tr": "Bu Türkçe bir konuşmadır. Lütfen noktalama işaretlerini doğru kullanın ve özel isimleri dikkatli yazın.",
	"en": "This is an English conversation. Please use proper punctuation and capitalization.",
	"es": "Esta es una conversación en español. Use puntuación y mayúsculas correctas.",
	"fr": "Ceci est une conversation en français. Utilisez la ponctuation et les majuscules appropriées.",
	"de": "Dies ist ein deutsches Gespräch. Verwenden Sie korrekte Interpunktion und Großschreibung.",
	"zh": "这是中文对话。请使用正确的标点符号。",
	"ja": "これは日本語の会話です。適切な句読点を使用してください。",
	"ar": "هذه محادثة باللغة العربية. يرجى استخدام علامات الترقيم المناسبة.",
}

// TranscriptionPrompt returns the punctuation hint sent with prompted models.
func TranscriptionPrompt(code, name string) string {
	if p, ok := transcriptionPrompts[code]; ok {
		return p
	}
	return fmt.Sprintf("This is a conversation in %s. Please use proper punctuation.", name)
}

func systemPrompt(source, target string) string {
	return fmt.Sprintf(`You are a professional translator specializing in %s to %s translation.
Translate the text accurately while preserving:
- Original meaning and context
- Tone and style
- Technical terms appropriately
- Cultural nuances when relevant

Provide only the translation, no explanations.`, source, target)
}

func userPrompt(source, target, text string) string {
	return fmt.Sprintf("Translate this %s text to %s:\n\n%s", source, target, text)
}
