// Package languages lists the language codes the translator accepts along with
// their speech locales and English display names.
package languages

import (
	"sort"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

var locales = map[string]string{
	"en": "en-US", "tr": "tr-TR", "es": "es-ES", "fr": "fr-FR", "de": "de-DE",
	"it": "it-IT", "pt": "pt-PT", "ru": "ru-RU", "zh": "zh-CN", "ja": "ja-JP",
	"ko": "ko-KR", "ar": "ar-SA", "hi": "hi-IN", "af": "af-ZA", "sq": "sq-AL",
	"hy": "hy-AM", "az": "az-AZ", "be": "be-BY", "bs": "bs-BA", "bg": "bg-BG",
	"ca": "ca-ES", "hr": "hr-HR", "cs": "cs-CZ", "da": "da-DK", "nl": "nl-NL",
	"et": "et-EE", "fi": "fi-FI", "gl": "gl-ES", "ka": "ka-GE", "el": "el-GR",
	"he": "he-IL", "hu": "hu-HU", "is": "is-IS", "id": "id-ID", "kn": "kn-IN",
	"kk": "kk-KZ", "lv": "lv-LV", "lt": "lt-LT", "mk": "mk-MK", "ms": "ms-MY",
	"mr": "mr-IN", "mi": "mi-NZ", "ne": "ne-NP", "no": "no-NO", "fa": "fa-IR",
	"pl": "pl-PL", "ro": "ro-RO", "sr": "sr-RS", "sk": "sk-SK", "sl": "sl-SI",
	"sw": "sw-KE", "sv": "sv-SE", "tl": "tl-PH", "ta": "ta-IN", "th": "th-TH",
	"uk": "uk-UA", "ur": "ur-PK", "vi": "vi-VN", "cy": "cy-GB",
}

var namer = display.English.Languages()

// Normalize lowercases and trims a language code.
func Normalize(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// Supported reports whether code is one of the accepted languages.
func Supported(code string) bool {
	_, ok := locales[Normalize(code)]
	return ok
}

// Locale returns the speech locale for code, or "" when unsupported.
func Locale(code string) string {
	return locales[Normalize(code)]
}

// Name returns the English display name for code. Unsupported codes return
// the code itself.
func Name(code string) string {
	code = Normalize(code)
	if _, ok := locales[code]; !ok {
		return code
	}
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := namer.Name(tag); name != "" {
		return name
	}
	return code
}

// Codes returns the supported codes sorted alphabetically.
func Codes() []string {
	out := make([]string, 0, len(locales))
	for code := range locales {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// Count is the number of supported languages.
func Count() int { return len(locales) }

// Set is a lookup used by components that accept an injected language list.
type Set interface {
	Supported(code string) bool
	Name(code string) string
}

type defaultSet struct{}

func (defaultSet) Supported(code string) bool { return Supported(code) }
func (defaultSet) Name(code string) string    { return Name(code) }

// Default is the built-in language set.
var Default Set = defaultSet{}
