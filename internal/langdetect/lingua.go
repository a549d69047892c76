package langdetect

import (
	"strings"
	"sync"
	"unicode"

	lingua "github.com/pemistahl/lingua-go"
)

var (
	detectorOnce sync.Once
	detector     lingua.LanguageDetector
)

// Insurer coverage is Brazilian, but wire copy arrives in English and
// Spanish too. A narrow language set keeps the detector small and fast.
var candidateLanguages = []lingua.Language{
	lingua.Portuguese,
	lingua.English,
	lingua.Spanish,
}

// DetectISO6391 returns the two-letter code of the text's language, or "" when
// the sample is too short or the detector is unsure.
func DetectISO6391(text string) string {
	sample := strings.TrimSpace(text)
	if sample == "" {
		return ""
	}

	letterCount := 0
	for _, r := range sample {
		if unicode.IsLetter(r) {
			letterCount++
		}
	}
	if letterCount < 6 {
		return ""
	}

	language, exists := getDetector().DetectLanguageOf(sample)
	if !exists {
		return ""
	}

	code := strings.ToLower(language.IsoCode639_1().String())
	if len(code) != 2 {
		return ""
	}
	return code
}

// PromptLanguage picks the instruction language for a model prompt. A fixed
// preference ("pt", "en-US") wins; "auto" or "" detects from text and falls
// back to Portuguese.
func PromptLanguage(preference, text string) string {
	switch code := NormalizeCode(preference); code {
	case "pt", "en":
		return code
	case "", "auto":
	default:
		return "pt"
	}

	if DetectISO6391(text) == "en" {
		return "en"
	}
	return "pt"
}

// NormalizeCode returns the primary subtag of a language tag ("pt" from
// "pt_BR"), or "" for blank or malformed input.
func NormalizeCode(raw string) string {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	trimmed = strings.ReplaceAll(trimmed, "_", "-")
	if dash := strings.IndexByte(trimmed, '-'); dash >= 0 {
		trimmed = trimmed[:dash]
	}
	for _, r := range trimmed {
		if r < 'a' || r > 'z' {
			return ""
		}
	}
	return trimmed
}

func getDetector() lingua.LanguageDetector {
	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().
			FromLanguages(candidateLanguages...).
			WithMinimumRelativeDistance(0.1).
			Build()
	})
	return detector
}
