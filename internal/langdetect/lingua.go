package langdetect

import (
	"strings"
	"sync"
	"unicode"

	lingua "github.com/pemistahl/lingua-go"

	"horse.fit/modtrans/internal/language"
)

var (
	detectorOnce sync.Once
	detector     lingua.LanguageDetector
)

// DetectISO6391 returns the two letter code of the text's language, or "".
func DetectISO6391(text string) string {
	sample := strings.TrimSpace(text)
	if sample == "" {
		return ""
	}

	if countLetters(sample) < 6 {
		return ""
	}

	detected, exists := getDetector().DetectLanguageOf(sample)
	if !exists {
		return ""
	}

	code := strings.ToLower(detected.IsoCode639_1().String())
	if len(code) != 2 {
		return ""
	}
	return code
}

const sampleLimit = 2000

// DetectSample guesses the language shared by a batch of short strings by
// detecting over their concatenation.
func DetectSample(texts []string) string {
	var b strings.Builder
	for _, text := range texts {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if b.Len()+len(text) > sampleLimit {
			break
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	return DetectISO6391(b.String())
}

func getDetector() lingua.LanguageDetector {
	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().
			FromAllLanguages().
			WithPreloadedLanguageModels().
			Build()
	})
	return detector
}

var (
	languagesOnce  sync.Once
	languagesByISO map[string]lingua.Language
)

// Scorer rates how confidently a text reads as a given language. It is
// used to flag translations that came back in the wrong language.
type Scorer struct {
	// MinLetters below which a text is not scored; defaults to 6.
	MinLetters int
}

// Score returns a value in [0,1] for the text being written in lang, which
// may be a tag ("zh-hans") or a game language name ("simp_chinese"). The
// boolean is false when the text is too short or the language is unknown.
func (s Scorer) Score(text, lang string) (float64, bool) {
	sample := strings.TrimSpace(text)
	minLetters := s.MinLetters
	if minLetters <= 0 {
		minLetters = 6
	}
	if countLetters(sample) < minLetters {
		return 0, false
	}

	target, ok := linguaLanguage(lang)
	if !ok {
		return 0, false
	}
	return getDetector().ComputeLanguageConfidence(sample, target), true
}

func linguaLanguage(raw string) (lingua.Language, bool) {
	code := language.NormalizeCode(language.Resolve(raw))
	if code == "" {
		return lingua.Unknown, false
	}
	languagesOnce.Do(func() {
		languagesByISO = make(map[string]lingua.Language)
		for _, lang := range lingua.AllLanguages() {
			iso := strings.ToLower(lang.IsoCode639_1().String())
			languagesByISO[iso] = lang
		}
	})
	lang, ok := languagesByISO[code]
	return lang, ok
}

func countLetters(sample string) int {
	letters := 0
	for _, r := range sample {
		if unicode.IsLetter(r) {
			letters++
		}
	}
	return letters
}
