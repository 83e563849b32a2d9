package translator

import (
	"strings"
	"unicode"

	"github.com/pemistahl/lingua-go"
)

var detectable = map[lingua.Language]string{
	lingua.Afrikaans:   "af",
	lingua.Albanian:    "sq",
	lingua.Arabic:      "ar",
	lingua.Armenian:    "hy",
	lingua.Azerbaijani: "az",
	lingua.Belarusian:  "be",
	lingua.Bokmal:      "no",
	lingua.Bosnian:     "bs",
	lingua.Bulgarian:   "bg",
	lingua.Catalan:     "ca",
	lingua.Chinese:     "zh",
	lingua.Croatian:    "hr",
	lingua.Czech:       "cs",
	lingua.Danish:      "da",
	lingua.Dutch:       "nl",
	lingua.English:     "en",
	lingua.Estonian:    "et",
	lingua.Finnish:     "fi",
	lingua.French:      "fr",
	lingua.Georgian:    "ka",
	lingua.German:      "de",
	lingua.Greek:       "el",
	lingua.Hebrew:      "he",
	lingua.Hindi:       "hi",
	lingua.Hungarian:   "hu",
	lingua.Icelandic:   "is",
	lingua.Indonesian:  "id",
	lingua.Italian:     "it",
	lingua.Japanese:    "ja",
	lingua.Kazakh:      "kk",
	lingua.Korean:      "ko",
	lingua.Latvian:     "lv",
	lingua.Lithuanian:  "lt",
	lingua.Macedonian:  "mk",
	lingua.Malay:       "ms",
	lingua.Maori:       "mi",
	lingua.Marathi:     "mr",
	lingua.Persian:     "fa",
	lingua.Polish:      "pl",
	lingua.Portuguese:  "pt",
	lingua.Romanian:    "ro",
	lingua.Russian:     "ru",
	lingua.Serbian:     "sr",
	lingua.Slovak:      "sk",
	lingua.Slovene:     "sl",
	lingua.Spanish:     "es",
	lingua.Swahili:     "sw",
	lingua.Swedish:     "sv",
	lingua.Tagalog:     "tl",
	lingua.Tamil:       "ta",
	lingua.Thai:        "th",
	lingua.Turkish:     "tr",
	lingua.Ukrainian:   "uk",
	lingua.Urdu:        "ur",
	lingua.Vietnamese:  "vi",
	lingua.Welsh:       "cy",
}

// Detector guesses the language of a transcript.
type Detector struct {
	detector   lingua.LanguageDetector
	minLetters int
}

// NewDetector builds a detector over every language the service accepts. Low
// accuracy mode keeps only trigram models resident. Transcripts with fewer than minLetters letters are not classified.
func NewDetector(minLetters int) *Detector {
	langs := make([]lingua.Language, 0, len(detectable))
	for lang := range detectable {
		langs = append(langs, lang)
	}
	if minLetters <= 0 {
		minLetters = 12
	}
	return &Detector{
		detector: lingua.NewLanguageDetectorBuilder().
			FromLanguages(langs...).
			WithMinimumRelativeDistance(0.25).
			WithLowAccuracyMode().
			Build(),
		minLetters: minLetters,
	}
}

// Detect returns the ISO 639-1 code of text, or "" when it cannot tell.
func (d *Detector) Detect(text string) string {
	if d == nil {
		return ""
	}
	text = strings.TrimSpace(text)
	letters := 0
	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
		}
	}
	// CJK scripts carry more signal per rune.
	if letters < d.minLetters && !hasHan(text) {
		return ""
	}
	lang, ok := d.detector.DetectLanguageOf(text)
	if !ok {
		return ""
	}
	return detectable[lang]
}

func hasHan(text string) bool {
	for _, r := range text {
		if unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r) {
			return true
		}
	}
	return false
}
