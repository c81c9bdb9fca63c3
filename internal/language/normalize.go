package language

import "strings"

// gameLanguage pairs a Paradox localisation folder name (l_<name> in file
// headers) with its BCP 47 tag.
type gameLanguage struct {
	name string
	tag  string
}

var gameLanguages = []gameLanguage{
	{name: "english", tag: "en"},
	{name: "simp_chinese", tag: "zh-hans"},
	{name: "trad_chinese", tag: "zh-hant"},
	{name: "japanese", tag: "ja"},
	{name: "korean", tag: "ko"},
	{name: "french", tag: "fr"},
	{name: "german", tag: "de"},
	{name: "spanish", tag: "es"},
	{name: "russian", tag: "ru"},
	{name: "polish", tag: "pl"},
	{name: "braz_por", tag: "pt-br"},
	{name: "turkish", tag: "tr"},
}

// primaryFallback covers bare codes whose game folder carries a region or
// script.
var primaryFallback = map[string]string{
	"zh": "simp_chinese",
	"pt": "braz_por",
}

// Resolve accepts a language tag, a game language name or an l_<name>
// header and returns a normalized tag. It returns "" for anything else.
func Resolve(raw string) string {
	key := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(raw)), "l_")
	if key == "" {
		return ""
	}
	for _, lang := range gameLanguages {
		if lang.name == key {
			return lang.tag
		}
	}
	return NormalizeTag(key)
}

// GameName maps a tag back to its game folder name, trying the full tag
// before the primary subtag.
func GameName(tag string) string {
	normalized := NormalizeTag(tag)
	if normalized == "" {
		return ""
	}
	code := NormalizeCode(normalized)
	for _, want := range []string{normalized, code} {
		for _, lang := range gameLanguages {
			if lang.tag == want {
				return lang.name
			}
		}
		if want == code {
			return primaryFallback[code]
		}
	}
	return ""
}

// NormalizeTag lowercases a tag and joins its subtags with "-". Empty
// subtags collapse; anything but ASCII letters makes the tag invalid ("").
func NormalizeTag(raw string) string {
	fields := strings.FieldsFunc(strings.ToLower(raw), func(r rune) bool {
		return r == '-' || r == '_' || r == ' ' || r == '\t'
	})
	for _, field := range fields {
		if strings.TrimLeft(field, "abcdefghijklmnopqrstuvwxyz") != "" {
			return ""
		}
	}
	return strings.Join(fields, "-")
}

// NormalizeCode returns the primary subtag, "en" for "en-US".
func NormalizeCode(raw string) string {
	code, _, _ := strings.Cut(NormalizeTag(raw), "-")
	return code
}
