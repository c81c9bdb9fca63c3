package placeholder

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Sentinel runes live in the Unicode private-use area. Natural text never
// carries them, and any private-use run already present in a source string is
// protected as a placeholder of its own.
const (
	sentinelOpen  = '\uE000'
	sentinelClose = '\uE001'
	sentinelDigit = '\uE010' // digits 0-9 map to U+E010..U+E019
)

// DefaultPatterns are the format markers recognised in Paradox-style
// localisation strings, tried leftmost-first in this order.
var DefaultPatterns = []string{
	`[\x{E000}-\x{F8FF}]+`,   // private-use runs already in the source
	`\$[^$\n]*\$`,            // $VARIABLE$ and $VAR|Y$
	`\[[^\]\n]*\]`,           // [Root.GetName] scripted localisation
	`@\w+!`,                  // @icon!
	`#!`,                     // format close
	`#[A-Za-z_]\w*(?:;\w+)*`, // #Y or #bold;italic format open
	`§[A-Za-z0-9!]`,          // legacy colour codes
}

var (
	ErrPlaceholderMismatch = errors.New("placeholder mismatch")

	tokenPattern    = regexp.MustCompile(`\x{E000}[\x{E010}-\x{E019}]+\x{E001}`)
	sentinelPattern = regexp.MustCompile(`[\x{E000}\x{E001}\x{E010}-\x{E019}]`)
)

// Pair binds one sentinel token to the substring it replaced.
type Pair struct {
	Token    string `json:"token"`
	Original string `json:"original"`
}

// Map is the task-scoped, ordered list of protected substrings.
type Map struct {
	pairs []Pair
}

func (m Map) Len() int {
	return len(m.pairs)
}

// Pairs returns a copy of the pairs in encounter order.
func (m Map) Pairs() []Pair {
	out := make([]Pair, len(m.pairs))
	copy(out, m.pairs)
	return out
}

func (m Map) lookup() map[string]string {
	index := make(map[string]string, len(m.pairs))
	for _, pair := range m.pairs {
		index[pair.Token] = pair.Original
	}
	return index
}

// MismatchError describes how a translated string lost its placeholders.
type MismatchError struct {
	Missing    []string // originals whose token never came back
	Duplicated []string // originals whose token came back more than once
	Unknown    []string // well-formed tokens that were never issued
	Stray      bool     // partial sentinel runes left behind
}

func (e *MismatchError) Error() string {
	parts := make([]string, 0, 4)
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing %s", strings.Join(e.Missing, ", ")))
	}
	if len(e.Duplicated) > 0 {
		parts = append(parts, fmt.Sprintf("duplicated %s", strings.Join(e.Duplicated, ", ")))
	}
	if len(e.Unknown) > 0 {
		parts = append(parts, fmt.Sprintf("%d unknown token(s)", len(e.Unknown)))
	}
	if e.Stray {
		parts = append(parts, "corrupted sentinel characters")
	}
	if len(parts) == 0 {
		return ErrPlaceholderMismatch.Error()
	}
	return fmt.Sprintf("%s: %s", ErrPlaceholderMismatch, strings.Join(parts, "; "))
}

func (e *MismatchError) Is(target error) bool {
	return target == ErrPlaceholderMismatch
}

// Protector swaps format markers for sentinel tokens and back.
type Protector struct {
	pattern *regexp.Regexp
}

// New compiles the default patterns followed by any extra ones.
func New(extraPatterns ...string) (*Protector, error) {
	patterns := make([]string, 0, len(DefaultPatterns)+len(extraPatterns))
	patterns = append(patterns, DefaultPatterns...)
	for i, raw := range extraPatterns {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		if _, err := regexp.Compile(trimmed); err != nil {
			return nil, fmt.Errorf("compile placeholder pattern %d (%q): %w", i, trimmed, err)
		}
		patterns = append(patterns, trimmed)
	}

	groups := make([]string, len(patterns))
	for i, p := range patterns {
		groups[i] = "(?:" + p + ")"
	}
	combined, err := regexp.Compile(strings.Join(groups, "|"))
	if err != nil {
		return nil, fmt.Errorf("compile placeholder patterns: %w", err)
	}
	return &Protector{pattern: combined}, nil
}

// MustNew is New for static pattern sets.
func MustNew(extraPatterns ...string) *Protector {
	p, err := New(extraPatterns...)
	if err != nil {
		panic(err)
	}
	return p
}

// Protect replaces every recognised marker with a unique sentinel token.
func (p *Protector) Protect(text string) (string, Map) {
	matches := p.pattern.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return text, Map{}
	}

	var b strings.Builder
	b.Grow(len(text))
	pairs := make([]Pair, 0, len(matches))
	last := 0
	for _, loc := range matches {
		if loc[1] <= loc[0] {
			continue
		}
		token := Token(len(pairs))
		b.WriteString(text[last:loc[0]])
		b.WriteString(token)
		pairs = append(pairs, Pair{Token: token, Original: text[loc[0]:loc[1]]})
		last = loc[1]
	}
	b.WriteString(text[last:])

	return b.String(), Map{pairs: pairs}
}

// Restore puts the original substrings back. Every token must come back
// exactly once; their order may differ from the source.
func (p *Protector) Restore(translated string, m Map) (string, error) {
	if m.Len() == 0 {
		if sentinelPattern.MatchString(translated) {
			return "", &MismatchError{Stray: true}
		}
		return translated, nil
	}

	index := m.lookup()
	counts := make(map[string]int, len(index))
	mismatch := &MismatchError{}
	for _, token := range tokenPattern.FindAllString(translated, -1) {
		if _, ok := index[token]; !ok {
			mismatch.Unknown = append(mismatch.Unknown, token)
			continue
		}
		counts[token]++
	}
	for _, pair := range m.pairs {
		switch n := counts[pair.Token]; {
		case n == 0:
			mismatch.Missing = append(mismatch.Missing, pair.Original)
		case n > 1:
			mismatch.Duplicated = append(mismatch.Duplicated, pair.Original)
		}
	}
	if sentinelPattern.MatchString(tokenPattern.ReplaceAllString(translated, "")) {
		mismatch.Stray = true
	}
	if len(mismatch.Missing) > 0 || len(mismatch.Duplicated) > 0 || len(mismatch.Unknown) > 0 || mismatch.Stray {
		return "", mismatch
	}

	return tokenPattern.ReplaceAllStringFunc(translated, func(token string) string {
		return index[token]
	}), nil
}

// RestoreLenient restores whatever tokens survived and drops leftover
// sentinel runes. Used to show a reviewer the closest readable candidate.
func (p *Protector) RestoreLenient(translated string, m Map) string {
	index := m.lookup()
	restored := tokenPattern.ReplaceAllStringFunc(translated, func(token string) string {
		if original, ok := index[token]; ok {
			return original
		}
		return ""
	})
	return sentinelPattern.ReplaceAllString(restored, "")
}

// Token renders the sentinel for the i-th placeholder of a string.
func Token(i int) string {
	digits := fmt.Sprintf("%d", i)
	var b strings.Builder
	b.Grow(len(digits)*3 + 6)
	b.WriteRune(sentinelOpen)
	for _, d := range digits {
		b.WriteRune(sentinelDigit + (d - '0'))
	}
	b.WriteRune(sentinelClose)
	return b.String()
}

// StripTokens removes every sentinel token, leaving the translatable prose.
func StripTokens(sanitized string) string {
	return tokenPattern.ReplaceAllString(sanitized, "")
}
