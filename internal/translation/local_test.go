package translation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestLocalProviderTranslate(t *testing.T) {
	t.Parallel()

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")

		var body localChatRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(body.Messages) != 1 || !strings.Contains(body.Messages[0].Content, "Hello") {
			t.Errorf("unexpected request messages: %+v", body.Messages)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  Hallo  "}}]}`))
	}))
	defer srv.Close()

	provider := NewLocalProvider(srv.URL, "test-model")
	resp, err := provider.Translate(context.Background(), TranslateRequest{
		Text:       "Hello",
		SourceLang: "english",
		TargetLang: "de",
		APIKey:     "secret",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "Hallo" {
		t.Fatalf("unexpected text: %q", resp.Text)
	}
	if resp.SourceLang != "en" || resp.TargetLang != "de" {
		t.Fatalf("unexpected languages: %s -> %s", resp.SourceLang, resp.TargetLang)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("unexpected authorization header: %q", gotAuth)
	}
}

func TestLocalProviderClassifiesStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status     int
		retryAfter string
		want       Kind
	}{
		{status: http.StatusTooManyRequests, retryAfter: "7", want: KindRateLimited},
		{status: http.StatusUnauthorized, want: KindAuth},
		{status: http.StatusForbidden, want: KindAuth},
		{status: http.StatusBadRequest, want: KindMalformed},
		{status: http.StatusBadGateway, want: KindService},
		{status: http.StatusGatewayTimeout, want: KindTimeout},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tc.retryAfter != "" {
				w.Header().Set("Retry-After", tc.retryAfter)
			}
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(`{"error":{"message":"nope"}}`))
		}))

		_, err := NewLocalProvider(srv.URL, "").Translate(context.Background(), TranslateRequest{Text: "x", TargetLang: "de"})
		srv.Close()

		var typed *Error
		if !errors.As(err, &typed) {
			t.Fatalf("status %d: expected *Error, got %v", tc.status, err)
		}
		if typed.Kind != tc.want {
			t.Fatalf("status %d: unexpected kind: got %s want %s", tc.status, typed.Kind, tc.want)
		}
		if !strings.Contains(typed.Error(), "nope") {
			t.Fatalf("status %d: expected endpoint message in error, got %q", tc.status, typed.Error())
		}
		if tc.retryAfter != "" && typed.RetryAfter != 7*time.Second {
			t.Fatalf("unexpected retry after: %s", typed.RetryAfter)
		}
	}
}

func TestLocalProviderTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := NewLocalProvider(srv.URL, "").Translate(ctx, TranslateRequest{Text: "x", TargetLang: "de"})
	if got := Classify(err); got != KindTimeout {
		t.Fatalf("unexpected kind: got %s want %s (%v)", got, KindTimeout, err)
	}
}

func TestLocalProviderRejectsEmptyText(t *testing.T) {
	t.Parallel()

	_, err := NewLocalProvider("", "").Translate(context.Background(), TranslateRequest{Text: "  ", TargetLang: "de"})
	if got := Classify(err); got != KindMalformed {
		t.Fatalf("unexpected kind: got %s want %s", got, KindMalformed)
	}
}

func TestChatCompletionsURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"127.0.0.1:8845":                        "http://127.0.0.1:8845/v1/chat/completions",
		"http://host/v1":                        "http://host/v1/chat/completions",
		"https://host/api/v1/chat/completions/": "https://host/api/v1/chat/completions",
		"https://host/custom":                   "https://host/custom/v1/chat/completions",
	}
	for input, want := range cases {
		if got := chatCompletionsURL(normalizeEndpoint(input)); got != want {
			t.Fatalf("unexpected url for %q: got %q want %q", input, got, want)
		}
	}
}

func TestHYMTPromptCarriesHintsAndMarkerRule(t *testing.T) {
	t.Parallel()

	plain := buildHYMTPrompt(TranslateRequest{Text: "Hello \uE000\uE010\uE001"}, "en", "fr")
	if strings.Contains(plain, "Entry key") || !strings.Contains(plain, "private-use marker") {
		t.Fatalf("unexpected plain prompt: %q", plain)
	}
	if !strings.HasSuffix(plain, "Hello \uE000\uE010\uE001") {
		t.Fatalf("prompt should end with the text: %q", plain)
	}

	hinted := buildHYMTPrompt(TranslateRequest{Text: "Hello", StyleHint: "grim medieval", Context: "event_1.t"}, "en", "fr")
	if !strings.Contains(hinted, "Game/Mod style: grim medieval") || !strings.Contains(hinted, "Entry key: event_1.t") {
		t.Fatalf("unexpected hinted prompt: %q", hinted)
	}

	chinese := buildHYMTPrompt(TranslateRequest{Text: "Hello", Context: "event_1.t"}, "en", "zh-hans")
	if !strings.Contains(chinese, "条目标识: event_1.t") || !strings.Contains(chinese, "私用区标记") {
		t.Fatalf("unexpected chinese prompt: %q", chinese)
	}
}
