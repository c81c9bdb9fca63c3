package translation

import (
	"sort"
	"strings"

	"horse.fit/modtrans/internal/language"
)

type LanguageOption struct {
	Code     string `json:"code"`
	Label    string `json:"label"`
	Native   string `json:"native,omitempty"`
	GameName string `json:"game_name,omitempty"`
}

type languageLabel struct {
	english string
	chinese string
}

var translationLanguageLabels = map[string]languageLabel{
	"ar":      {english: "Arabic", chinese: "阿拉伯语"},
	"de":      {english: "German", chinese: "德语"},
	"en":      {english: "English", chinese: "英语"},
	"es":      {english: "Spanish", chinese: "西班牙语"},
	"fr":      {english: "French", chinese: "法语"},
	"id":      {english: "Indonesian", chinese: "印度尼西亚语"},
	"it":      {english: "Italian", chinese: "意大利语"},
	"ja":      {english: "Japanese", chinese: "日语"},
	"ko":      {english: "Korean", chinese: "韩语"},
	"pl":      {english: "Polish", chinese: "波兰语"},
	"pt":      {english: "Portuguese", chinese: "葡萄牙语"},
	"ru":      {english: "Russian", chinese: "俄语"},
	"th":      {english: "Thai", chinese: "泰语"},
	"tr":      {english: "Turkish", chinese: "土耳其语"},
	"vi":      {english: "Vietnamese", chinese: "越南语"},
	"zh":      {english: "Simplified Chinese", chinese: "简体中文"},
	"zh-hant": {english: "Traditional Chinese", chinese: "繁体中文"},
}

func SupportedTranslationLanguageCodes() []string {
	codes := make([]string, 0, len(translationLanguageLabels))
	for code := range translationLanguageLabels {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func TranslationLanguageOptions(registry *Registry) []LanguageOption {
	supported := map[string]struct{}{}

	for code := range translationLanguageLabels {
		supported[code] = struct{}{}
	}

	if registry != nil {
		for _, provider := range registry.providers {
			for _, code := range provider.SupportedLanguages() {
				normalized := normalizeLangCode(code)
				if normalized == "" {
					continue
				}
				supported[normalized] = struct{}{}
			}
		}
	}

	codes := make([]string, 0, len(supported))
	for code := range supported {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	options := make([]LanguageOption, 0, len(codes))
	for _, code := range codes {
		option := LanguageOption{
			Code:     code,
			Label:    strings.ToUpper(code),
			GameName: language.GameName(code),
		}
		if labels, ok := translationLanguageLabels[code]; ok {
			option.Label = labels.english
			option.Native = labels.chinese
		}
		options = append(options, option)
	}

	return options
}

// normalizeLangCode resolves tags and game language names to the label keys
// above, keeping a script subtag only where it has its own label.
func normalizeLangCode(raw string) string {
	tag := language.Resolve(raw)
	if tag == "" {
		return ""
	}
	if _, ok := translationLanguageLabels[tag]; ok {
		return tag
	}
	return language.NormalizeCode(tag)
}

func targetLanguageLabel(lang string) languageLabel {
	normalized := normalizeLangCode(lang)
	if labels, ok := translationLanguageLabels[normalized]; ok {
		return labels
	}
	fallback := strings.TrimSpace(lang)
	if fallback == "" {
		fallback = "English"
	}
	return languageLabel{english: fallback, chinese: fallback}
}

func isChineseLanguage(lang string) bool {
	return strings.HasPrefix(normalizeLangCode(lang), "zh")
}
