package translation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = openai.GPT4oMini

// OpenAIProvider translates through the OpenAI chat completions API, or any
// server speaking it when a base URL is configured.
type OpenAIProvider struct {
	baseURL string
	model   string

	mu      sync.Mutex
	clients map[string]*openai.Client
}

func NewOpenAIProvider(baseURL, model string) *OpenAIProvider {
	trimmedModel := strings.TrimSpace(model)
	if trimmedModel == "" {
		trimmedModel = DefaultOpenAIModel
	}
	return &OpenAIProvider{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		model:   trimmedModel,
		clients: make(map[string]*openai.Client),
	}
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

func (p *OpenAIProvider) ModelName() string {
	if p == nil {
		return ""
	}
	return p.model
}

func (p *OpenAIProvider) SupportedLanguages() []string {
	return SupportedTranslationLanguageCodes()
}

func (p *OpenAIProvider) Translate(ctx context.Context, req TranslateRequest) (*TranslateResponse, error) {
	if p == nil {
		return nil, fmt.Errorf("openai provider is nil")
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, newError(p.Name(), KindMalformed, fmt.Errorf("text is required"))
	}
	targetLang := normalizeLangCode(req.TargetLang)
	if targetLang == "" {
		return nil, newError(p.Name(), KindMalformed, fmt.Errorf("target language is required"))
	}
	if strings.TrimSpace(req.APIKey) == "" {
		return nil, newError(p.Name(), KindAuth, fmt.Errorf("OpenAI API key not provided"))
	}

	started := time.Now()
	resp, err := p.client(req.APIKey).CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildLLMPrompt(req),
			},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return nil, p.classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, newError(p.Name(), KindService, fmt.Errorf("no translation returned"))
	}

	translated := extractFinalAnswer(resp.Choices[0].Message.Content)
	if translated == "" {
		return nil, newError(p.Name(), KindService, fmt.Errorf("translation response was empty"))
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

func (p *OpenAIProvider) client(apiKey string) *openai.Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[apiKey]; ok {
		return c
	}
	cfg := openai.DefaultConfig(apiKey)
	if p.baseURL != "" {
		cfg.BaseURL = p.baseURL
	}
	c := openai.NewClientWithConfig(cfg)
	p.clients[apiKey] = c
	return c
}

func (p *OpenAIProvider) classify(err error) *Error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		kind := kindForStatus(apiErr.HTTPStatusCode)
		if apiErr.Code == "invalid_api_key" {
			kind = KindAuth
		}
		return &Error{Kind: kind, Provider: p.Name(), StatusCode: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &Error{Kind: kindForStatus(reqErr.HTTPStatusCode), Provider: p.Name(), StatusCode: reqErr.HTTPStatusCode, Err: err}
	}
	return transportError(p.Name(), err)
}
