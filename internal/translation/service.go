package translation

import "context"

// Provider translates free-form text between languages.
type Provider interface {
	Translate(ctx context.Context, req TranslateRequest) (*TranslateResponse, error)
	Name() string
	SupportedLanguages() []string
}

// TranslateRequest describes one translation request.
type TranslateRequest struct {
	Text       string
	SourceLang string // ISO 639-1 (for example: "zh", "en")
	TargetLang string
	StyleHint  string // free-form tone/setting hint, e.g. "grand strategy, medieval"
	Context    string // per-entry hint such as the localisation key
	APIKey     string // credential leased for this call; empty for keyless endpoints
}

// TranslateResponse contains translated text and provider metadata.
type TranslateResponse struct {
	Text         string
	SourceLang   string
	TargetLang   string
	ProviderName string
	ModelName    string
	Confidence   *float64 // nil when the provider gives no signal
	LatencyMs    int64
}
