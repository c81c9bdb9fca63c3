package translation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.0-flash"

// GeminiProvider translates through the Gemini API. One client is kept per
// API key since keys rotate between calls.
type GeminiProvider struct {
	model      string
	httpClient *http.Client

	mu      sync.Mutex
	clients map[string]*genai.Client
}

func NewGeminiProvider(model string) *GeminiProvider {
	trimmedModel := strings.TrimSpace(model)
	if trimmedModel == "" {
		trimmedModel = DefaultGeminiModel
	}
	return &GeminiProvider{
		model:      trimmedModel,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		clients:    make(map[string]*genai.Client),
	}
}

func (p *GeminiProvider) Name() string {
	return "gemini"
}

func (p *GeminiProvider) ModelName() string {
	if p == nil {
		return ""
	}
	return p.model
}

func (p *GeminiProvider) SupportedLanguages() []string {
	return SupportedTranslationLanguageCodes()
}

func (p *GeminiProvider) Translate(ctx context.Context, req TranslateRequest) (*TranslateResponse, error) {
	if p == nil {
		return nil, fmt.Errorf("gemini provider is nil")
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, newError(p.Name(), KindMalformed, fmt.Errorf("text is required"))
	}
	targetLang := normalizeLangCode(req.TargetLang)
	if targetLang == "" {
		return nil, newError(p.Name(), KindMalformed, fmt.Errorf("target language is required"))
	}
	if strings.TrimSpace(req.APIKey) == "" {
		return nil, newError(p.Name(), KindAuth, fmt.Errorf("API_KEY_MISSING"))
	}

	client, err := p.client(ctx, req.APIKey)
	if err != nil {
		return nil, newError(p.Name(), KindAuth, fmt.Errorf("create gemini client: %w", err))
	}

	started := time.Now()
	resp, err := client.Models.GenerateContent(ctx, p.model, genai.Text(buildLLMPrompt(req)), &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0.3),
	})
	if err != nil {
		return nil, p.classify(err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return nil, newError(p.Name(), KindMalformed, fmt.Errorf("content blocked: %s", resp.PromptFeedback.BlockReason))
		}
		return nil, newError(p.Name(), KindService, fmt.Errorf("no candidates returned"))
	}

	translated := extractFinalAnswer(resp.Text())
	if translated == "" {
		return nil, newError(p.Name(), KindService, fmt.Errorf("could not extract final translation"))
	}

	return &TranslateResponse{
		Text:         translated,
		SourceLang:   normalizeLangCode(req.SourceLang),
		TargetLang:   targetLang,
		ProviderName: p.Name(),
		ModelName:    p.model,
		LatencyMs:    time.Since(started).Milliseconds(),
	}, nil
}

func (p *GeminiProvider) client(ctx context.Context, apiKey string) (*genai.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[apiKey]; ok {
		return c, nil
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: p.httpClient,
	})
	if err != nil {
		return nil, err
	}
	p.clients[apiKey] = c
	return c, nil
}

func (p *GeminiProvider) classify(err error) *Error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return p.classifyAPIError(apiErr, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return p.classifyAPIError(*apiErrPtr, err)
	}
	return transportError(p.Name(), err)
}

func (p *GeminiProvider) classifyAPIError(apiErr genai.APIError, err error) *Error {
	kind := kindForStatus(apiErr.Code)
	message := apiErr.Message
	switch {
	case strings.Contains(message, "API_KEY_INVALID"), strings.Contains(message, "API key not valid"):
		kind = KindAuth
	case apiErr.Status == "RESOURCE_EXHAUSTED", strings.Contains(strings.ToLower(message), "quota"):
		kind = KindRateLimited
	case apiErr.Status == "DEADLINE_EXCEEDED":
		kind = KindTimeout
	}
	return &Error{Kind: kind, Provider: p.Name(), StatusCode: apiErr.Code, Err: err}
}
