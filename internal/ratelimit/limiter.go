package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

type Options struct {
	// Delay is the minimum spacing between two calls on the same credential.
	Delay time.Duration
	// GlobalInFlight caps concurrent calls across all credentials; 0 disables it.
	GlobalInFlight int
}

// Limiter hands out call permits scoped to a credential.
type Limiter struct {
	opts Options

	mu       sync.Mutex
	perCred  map[string]*rate.Limiter
	inFlight *semaphore.Weighted
}

func New(opts Options) *Limiter {
	l := &Limiter{
		opts:    opts,
		perCred: make(map[string]*rate.Limiter),
	}
	if opts.GlobalInFlight > 0 {
		l.inFlight = semaphore.NewWeighted(int64(opts.GlobalInFlight))
	}
	return l
}

// Acquire blocks until the credential's spacing has elapsed and a global slot
// is free. The returned release must be called once the call finishes.
func (l *Limiter) Acquire(ctx context.Context, credentialID string) (func(), error) {
	if l == nil {
		return func() {}, nil
	}

	if err := l.limiterFor(credentialID).Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for rate limit on %s: %w", credentialID, err)
	}

	if l.inFlight == nil {
		return func() {}, nil
	}
	if err := l.inFlight.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for global in-flight slot: %w", err)
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.inFlight.Release(1) })
	}, nil
}

func (l *Limiter) limiterFor(credentialID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.perCred[credentialID]
	if !ok {
		limit := rate.Inf
		if l.opts.Delay > 0 {
			limit = rate.Every(l.opts.Delay)
		}
		lim = rate.NewLimiter(limit, 1)
		l.perCred[credentialID] = lim
	}
	return lim
}

func (l *Limiter) Delay() time.Duration {
	if l == nil {
		return 0
	}
	return l.opts.Delay
}
