package credential

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"horse.fit/modtrans/internal/globaltime"
)

var (
	ErrNoCredentials   = errors.New("no credentials configured")
	ErrPoolExhausted   = errors.New("credential pool exhausted")
	ErrUnknownStrategy = errors.New("unknown rotation strategy")
)

// Health is the externally visible state of one credential.
type Health string

const (
	HealthHealthy     Health = "healthy"
	HealthRateLimited Health = "rate_limited"
	HealthExhausted   Health = "exhausted"
	HealthInvalid     Health = "invalid"
)

// Strategy picks among qualifying credentials.
type Strategy string

const (
	StrategyRoundRobin   Strategy = "round_robin"
	StrategyLoadBalanced Strategy = "load_balanced"
	StrategyPriority     Strategy = "priority"
)

// ParseStrategy accepts the configured strategy name; blank means round robin.
func ParseStrategy(raw string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", StrategyRoundRobin:
		return StrategyRoundRobin, nil
	case StrategyLoadBalanced:
		return StrategyLoadBalanced, nil
	case StrategyPriority:
		return StrategyPriority, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, raw)
	}
}

// Outcome classifies how a leased credential fared.
type Outcome int

const (
	// OutcomeNeutral frees the slot without touching health, e.g. the call was
	// never made or the request itself was malformed.
	OutcomeNeutral Outcome = iota
	OutcomeSuccess
	OutcomeRateLimited
	OutcomeAuthFailure
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeAuthFailure:
		return "auth_failure"
	case OutcomeFailure:
		return "failure"
	default:
		return "neutral"
	}
}

// Report is handed back with a lease.
type Report struct {
	Outcome    Outcome
	RetryAfter time.Duration // only for OutcomeRateLimited; zero uses the pool cooldown
}

type Options struct {
	Strategy          Strategy
	MaxConcurrentUses int           // per credential, default 1
	RateLimitCooldown time.Duration // default 30s, doubled per consecutive rate limit
	MaxCooldown       time.Duration // default 5m
	FailureThreshold  int           // consecutive transient failures before exhaustion, default 5
	ExhaustedCooldown time.Duration // default 2m
}

func (o Options) withDefaults() Options {
	if o.Strategy == "" {
		o.Strategy = StrategyRoundRobin
	}
	if o.MaxConcurrentUses <= 0 {
		o.MaxConcurrentUses = 1
	}
	if o.RateLimitCooldown <= 0 {
		o.RateLimitCooldown = 30 * time.Second
	}
	if o.MaxCooldown <= 0 {
		o.MaxCooldown = 5 * time.Minute
	}
	if o.MaxCooldown < o.RateLimitCooldown {
		o.MaxCooldown = o.RateLimitCooldown
	}
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 5
	}
	if o.ExhaustedCooldown <= 0 {
		o.ExhaustedCooldown = 2 * time.Minute
	}
	return o
}

// Credential is a read-only snapshot; the secret is never included.
type Credential struct {
	ID                  string     `json:"id"`
	Label               string     `json:"label"`
	Health              Health     `json:"health"`
	RateLimitedUntil    *time.Time `json:"rate_limited_until,omitempty"`
	ExhaustedUntil      *time.Time `json:"exhausted_until,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastUsed            *time.Time `json:"last_used,omitempty"`
	InUse               int        `json:"in_use"`
	Usage               int        `json:"usage"`
	Successes           int        `json:"successes"`
	Failures            int        `json:"failures"`
}

// Summary mirrors a key performance overview.
type Summary struct {
	Total       int     `json:"total"`
	Available   int     `json:"available"`
	Invalid     int     `json:"invalid"`
	Usage       int     `json:"usage"`
	Successes   int     `json:"successes"`
	Failures    int     `json:"failures"`
	SuccessRate float64 `json:"success_rate"`
}

type entry struct {
	id     string
	secret string
	label  string

	invalid          bool
	rateLimitedUntil time.Time
	exhaustedUntil   time.Time
	consecutive      int
	consecutiveLimit int
	lastUsed         time.Time
	inUse            int

	usage     int
	successes int
	failures  int
}

func (e *entry) health(now time.Time) Health {
	switch {
	case e.invalid:
		return HealthInvalid
	case now.Before(e.rateLimitedUntil):
		return HealthRateLimited
	case now.Before(e.exhaustedUntil):
		return HealthExhausted
	default:
		return HealthHealthy
	}
}

// Lease is one checked-out use of a credential.
type Lease struct {
	ID     string
	Secret string

	entry    *entry
	released bool
}

// Pool owns the rotating credentials of one run.
type Pool struct {
	opts Options

	mu      sync.Mutex
	entries []*entry
	byID    map[string]*entry
	next    int
	changed chan struct{}
}

func NewPool(secrets []string, opts Options) (*Pool, error) {
	strategy, err := ParseStrategy(string(opts.Strategy))
	if err != nil {
		return nil, err
	}
	opts.Strategy = strategy

	p := &Pool{
		opts:    opts.withDefaults(),
		byID:    make(map[string]*entry),
		changed: make(chan struct{}),
	}
	for _, secret := range secrets {
		if _, err := p.add(secret); err != nil && !errors.Is(err, errDuplicate) {
			return nil, err
		}
	}
	if len(p.entries) == 0 {
		return nil, ErrNoCredentials
	}
	return p, nil
}

var errDuplicate = errors.New("duplicate credential")

// Add appends a replacement credential and wakes stalled waiters.
func (p *Pool) Add(secret string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id, err := p.add(secret)
	if err != nil {
		if errors.Is(err, errDuplicate) {
			return id, nil
		}
		return "", err
	}
	p.broadcastLocked()
	return id, nil
}

func (p *Pool) add(secret string) (string, error) {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return "", fmt.Errorf("credential secret is empty")
	}
	id := Fingerprint(trimmed)
	if _, exists := p.byID[id]; exists {
		return id, errDuplicate
	}
	e := &entry{
		id:     id,
		secret: trimmed,
		label:  Mask(trimmed),
	}
	p.entries = append(p.entries, e)
	p.byID[id] = e
	return id, nil
}

// Acquire returns the next healthy credential with a free slot.
func (p *Pool) Acquire() (*Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := globaltime.Now()
	candidates := make([]int, 0, len(p.entries))
	for i, e := range p.entries {
		if e.health(now) != HealthHealthy {
			continue
		}
		if e.inUse >= p.opts.MaxConcurrentUses {
			continue
		}
		candidates = append(candidates, i)
	}
	if len(candidates) == 0 {
		return nil, ErrPoolExhausted
	}

	var picked int
	switch p.opts.Strategy {
	case StrategyPriority:
		picked = candidates[0]
	case StrategyLoadBalanced:
		picked = candidates[0]
		for _, i := range candidates[1:] {
			if p.entries[i].usage < p.entries[picked].usage {
				picked = i
			}
		}
	default:
		picked = candidates[0]
		for _, i := range candidates {
			if i >= p.next {
				picked = i
				break
			}
		}
		p.next = picked + 1
	}

	e := p.entries[picked]
	e.inUse++
	e.usage++
	e.lastUsed = now
	return &Lease{ID: e.id, Secret: e.secret, entry: e}, nil
}

// Release returns a lease and records its outcome. Releasing twice is a no-op.
func (p *Pool) Release(lease *Lease, report Report) {
	if lease == nil || lease.entry == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if lease.released {
		return
	}
	lease.released = true

	e := lease.entry
	if e.inUse > 0 {
		e.inUse--
	}

	now := globaltime.Now()
	switch report.Outcome {
	case OutcomeSuccess:
		e.successes++
		e.consecutive = 0
		e.consecutiveLimit = 0
	case OutcomeRateLimited:
		e.failures++
		e.consecutiveLimit++
		wait := report.RetryAfter
		if wait <= 0 {
			wait = p.opts.RateLimitCooldown
			for i := 1; i < e.consecutiveLimit && wait < p.opts.MaxCooldown; i++ {
				wait *= 2
			}
			if wait > p.opts.MaxCooldown {
				wait = p.opts.MaxCooldown
			}
		}
		if until := now.Add(wait); until.After(e.rateLimitedUntil) {
			e.rateLimitedUntil = until
		}
	case OutcomeAuthFailure:
		e.failures++
		e.invalid = true
	case OutcomeFailure:
		e.failures++
		e.consecutive++
		if e.consecutive >= p.opts.FailureThreshold {
			e.exhaustedUntil = now.Add(p.opts.ExhaustedCooldown)
			e.consecutive = 0
		}
	}

	p.broadcastLocked()
}

// Wait blocks until the pool state changes or the earliest health deadline
// passes. Callers retry Acquire afterwards.
func (p *Pool) Wait(ctx context.Context) error {
	return p.WaitChange(ctx, p.Changed())
}

// Changed returns a channel closed on the next release or add. Take it
// before Acquire so a release racing with a failed Acquire is not missed.
func (p *Pool) Changed() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.changed
}

// WaitChange is Wait against a channel obtained from Changed.
func (p *Pool) WaitChange(ctx context.Context, changed <-chan struct{}) error {
	p.mu.Lock()
	now := globaltime.Now()
	var deadline time.Time
	for _, e := range p.entries {
		if e.invalid {
			continue
		}
		for _, until := range []time.Time{e.rateLimitedUntil, e.exhaustedUntil} {
			if until.After(now) && (deadline.IsZero() || until.Before(deadline)) {
				deadline = until
			}
		}
	}
	p.mu.Unlock()

	var timer <-chan time.Time
	if !deadline.IsZero() {
		t := time.NewTimer(deadline.Sub(now))
		defer t.Stop()
		timer = t.C
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-changed:
		return nil
	case <-timer:
		return nil
	}
}

// Usable reports whether any credential is healthy right now, busy or not.
func (p *Pool) Usable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := globaltime.Now()
	for _, e := range p.entries {
		if e.health(now) == HealthHealthy {
			return true
		}
	}
	return false
}

// Recoverable is false once every credential is invalid; only Add can help then.
func (p *Pool) Recoverable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, e := range p.entries {
		if !e.invalid {
			return true
		}
	}
	return false
}

func (p *Pool) Snapshot() []Credential {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := globaltime.Now()
	out := make([]Credential, 0, len(p.entries))
	for _, e := range p.entries {
		c := Credential{
			ID:                  e.id,
			Label:               e.label,
			Health:              e.health(now),
			ConsecutiveFailures: e.consecutive,
			InUse:               e.inUse,
			Usage:               e.usage,
			Successes:           e.successes,
			Failures:            e.failures,
		}
		if e.rateLimitedUntil.After(now) {
			until := e.rateLimitedUntil
			c.RateLimitedUntil = &until
		}
		if e.exhaustedUntil.After(now) {
			until := e.exhaustedUntil
			c.ExhaustedUntil = &until
		}
		if !e.lastUsed.IsZero() {
			last := e.lastUsed
			c.LastUsed = &last
		}
		out = append(out, c)
	}
	return out
}

func (p *Pool) Summary() Summary {
	creds := p.Snapshot()
	s := Summary{Total: len(creds)}
	for _, c := range creds {
		switch c.Health {
		case HealthHealthy:
			s.Available++
		case HealthInvalid:
			s.Invalid++
		}
		s.Usage += c.Usage
		s.Successes += c.Successes
		s.Failures += c.Failures
	}
	if s.Usage > 0 {
		s.SuccessRate = float64(s.Successes) / float64(s.Usage) * 100
	}
	return s
}

// IDs lists credential ids in configured order.
func (p *Pool) IDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]string, len(p.entries))
	for i, e := range p.entries {
		ids[i] = e.id
	}
	return ids
}

func (p *Pool) broadcastLocked() {
	close(p.changed)
	p.changed = make(chan struct{})
}

// Fingerprint derives a stable, non-reversible credential id.
func Fingerprint(secret string) string {
	sum := blake2b.Sum256([]byte(secret))
	return "cred_" + hex.EncodeToString(sum[:6])
}

// Mask keeps just enough of a secret to tell keys apart in logs.
func Mask(secret string) string {
	runes := []rune(strings.TrimSpace(secret))
	if len(runes) <= 8 {
		return strings.Repeat("*", len(runes))
	}
	return string(runes[:4]) + "..." + string(runes[len(runes)-4:])
}
