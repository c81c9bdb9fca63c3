package translation

import (
	"fmt"
	"regexp"
	"strings"
)

var finalAnswerPattern = regexp.MustCompile(`(?s)\$\$\s*(.*?)\s*\$\$`)

// buildLLMPrompt asks a general chat model for a single wrapped answer. Marker
// runes from the placeholder protector must pass through untouched.
func buildLLMPrompt(req TranslateRequest) string {
	source := targetLanguageLabel(req.SourceLang)
	target := targetLanguageLabel(req.TargetLang)
	style := strings.TrimSpace(req.StyleHint)

	var b strings.Builder
	if chineseEnglishPair(req.SourceLang, req.TargetLang) {
		fmt.Fprintf(&b, "你是一位专业的双语翻译专家，精通%s与%s互译，擅长保持游戏本地化文本的风格。\n", source.chinese, target.chinese)
		if style != "" {
			fmt.Fprintf(&b, "游戏/Mod风格提示: %s\n", style)
		}
		if hint := strings.TrimSpace(req.Context); hint != "" {
			fmt.Fprintf(&b, "条目标识: %s\n", hint)
		}
		b.WriteString("原文中的私用区标记字符必须原样保留，不得增删、拆分或改变顺序以外的任何内容。\n")
		fmt.Fprintf(&b, "\n原文 (%s):\n%s\n\n", source.chinese, req.Text)
		fmt.Fprintf(&b, "只输出最终的%s译文，并用 $$ 包裹，例如: $$译文$$。不要输出任何解释。\n", target.chinese)
		return b.String()
	}

	fmt.Fprintf(&b, "As a professional bilingual translator fluent in %s and %s, translate the text below.\n", source.english, target.english)
	if style == "" {
		style = "General"
	}
	fmt.Fprintf(&b, "Game/Mod style: %s\n", style)
	if hint := strings.TrimSpace(req.Context); hint != "" {
		fmt.Fprintf(&b, "Entry key: %s\n", hint)
	}
	b.WriteString("The text contains private-use marker characters. Keep every marker exactly as it is; you may move one if grammar requires it.\n")
	fmt.Fprintf(&b, "\nOriginal text (%s):\n%s\n\n", source.english, req.Text)
	fmt.Fprintf(&b, "Reply with ONLY the final %s translation wrapped in double dollar signs, for example: $$translated text$$\n", target.english)
	return b.String()
}

// extractFinalAnswer takes the first $$-wrapped block, or the whole reply when
// the model ignored the wrapping instruction.
func extractFinalAnswer(reply string) string {
	if match := finalAnswerPattern.FindStringSubmatch(reply); len(match) == 2 {
		return strings.TrimSpace(match[1])
	}
	return strings.TrimSpace(reply)
}

func chineseEnglishPair(sourceLang, targetLang string) bool {
	source := normalizeLangCode(sourceLang)
	target := normalizeLangCode(targetLang)
	return (isChineseLanguage(source) && target == "en") || (source == "en" && isChineseLanguage(target))
}
