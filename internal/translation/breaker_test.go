package translation

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

type scriptedProvider struct {
	calls int32
	err   error
}

func (p *scriptedProvider) Name() string                 { return "scripted" }
func (p *scriptedProvider) SupportedLanguages() []string { return nil }
func (p *scriptedProvider) Translate(ctx context.Context, req TranslateRequest) (*TranslateResponse, error) {
	atomic.AddInt32(&p.calls, 1)
	if p.err != nil {
		return nil, p.err
	}
	return &TranslateResponse{Text: req.Text, ProviderName: p.Name()}, nil
}

func TestBreakerTripsOnTransientFailures(t *testing.T) {
	t.Parallel()

	inner := &scriptedProvider{err: &Error{Kind: KindService, Err: fmt.Errorf("503")}}
	provider := NewBreakerProvider(inner, BreakerOptions{ConsecutiveFailures: 3, OpenTimeout: time.Hour})

	for i := 0; i < 3; i++ {
		if _, err := provider.Translate(context.Background(), TranslateRequest{Text: "x"}); err == nil {
			t.Fatalf("expected failure on call %d", i)
		}
	}
	if provider.State() != "open" {
		t.Fatalf("unexpected breaker state: %s", provider.State())
	}

	_, err := provider.Translate(context.Background(), TranslateRequest{Text: "x"})
	if got := Classify(err); got != KindService {
		t.Fatalf("unexpected kind while open: got %s want %s", got, KindService)
	}
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("refused call should wrap ErrCircuitOpen: %v", err)
	}
	if calls := atomic.LoadInt32(&inner.calls); calls != 3 {
		t.Fatalf("unexpected inner call count: got %d want 3", calls)
	}
}

func TestBreakerIgnoresAuthFailures(t *testing.T) {
	t.Parallel()

	inner := &scriptedProvider{err: &Error{Kind: KindAuth, Err: errors.New("bad key")}}
	provider := NewBreakerProvider(inner, BreakerOptions{ConsecutiveFailures: 2, OpenTimeout: time.Hour})

	for i := 0; i < 5; i++ {
		_, err := provider.Translate(context.Background(), TranslateRequest{Text: "x"})
		if got := Classify(err); got != KindAuth {
			t.Fatalf("unexpected kind on call %d: got %s want %s", i, got, KindAuth)
		}
	}
	if provider.State() != "closed" {
		t.Fatalf("unexpected breaker state: %s", provider.State())
	}
}

func TestBreakerPassesThroughSuccess(t *testing.T) {
	t.Parallel()

	provider := NewBreakerProvider(&scriptedProvider{}, BreakerOptions{})
	resp, err := provider.Translate(context.Background(), TranslateRequest{Text: "ok"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "ok" || provider.Name() != "scripted" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}
