package translation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen marks a call the breaker refused without reaching the
// provider.
var ErrCircuitOpen = errors.New("circuit breaker refused the call")

type BreakerOptions struct {
	// ConsecutiveFailures trips the breaker; default 8.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open; default 30s.
	OpenTimeout time.Duration
	// HalfOpenRequests are let through while probing; default 1.
	HalfOpenRequests uint32
	OnStateChange    func(provider string, from, to string)
}

// BreakerProvider stops hammering a provider that keeps failing with
// transient errors. Auth, malformed and rate-limit answers do not count: the
// service is up, the request or the key is the problem.
type BreakerProvider struct {
	inner Provider
	cb    *gobreaker.CircuitBreaker
}

func NewBreakerProvider(inner Provider, opts BreakerOptions) *BreakerProvider {
	threshold := opts.ConsecutiveFailures
	if threshold == 0 {
		threshold = 8
	}
	timeout := opts.OpenTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	halfOpen := opts.HalfOpenRequests
	if halfOpen == 0 {
		halfOpen = 1
	}

	settings := gobreaker.Settings{
		Name:        inner.Name(),
		MaxRequests: halfOpen,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			switch Classify(err) {
			case KindNetwork, KindTimeout, KindService:
				return false
			default:
				return true
			}
		},
	}
	if opts.OnStateChange != nil {
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			opts.OnStateChange(name, from.String(), to.String())
		}
	}

	return &BreakerProvider{
		inner: inner,
		cb:    gobreaker.NewCircuitBreaker(settings),
	}
}

func (p *BreakerProvider) Name() string {
	return p.inner.Name()
}

func (p *BreakerProvider) SupportedLanguages() []string {
	return p.inner.SupportedLanguages()
}

// ModelName forwards to the wrapped provider when it exposes one.
func (p *BreakerProvider) ModelName() string {
	if named, ok := p.inner.(interface{ ModelName() string }); ok {
		return named.ModelName()
	}
	return ""
}

// State reports the breaker state ("closed", "half-open", "open").
func (p *BreakerProvider) State() string {
	return p.cb.State().String()
}

func (p *BreakerProvider) Translate(ctx context.Context, req TranslateRequest) (*TranslateResponse, error) {
	result, err := p.cb.Execute(func() (interface{}, error) {
		return p.inner.Translate(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, newError(p.Name(), KindService, fmt.Errorf("%w: %w", ErrCircuitOpen, err))
		}
		return nil, err
	}
	resp, ok := result.(*TranslateResponse)
	if !ok || resp == nil {
		return nil, newError(p.Name(), KindService, fmt.Errorf("provider returned no response"))
	}
	return resp, nil
}
