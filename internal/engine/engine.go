package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"horse.fit/modtrans/internal/credential"
	"horse.fit/modtrans/internal/globaltime"
	"horse.fit/modtrans/internal/memory"
	"horse.fit/modtrans/internal/placeholder"
	"horse.fit/modtrans/internal/ratelimit"
	"horse.fit/modtrans/internal/review"
	"horse.fit/modtrans/internal/translation"
)

var (
	ErrRunNotFound  = errors.New("run not found")
	ErrRunExists    = errors.New("run id already in use")
	ErrInvalidEntry = errors.New("invalid entry")
)

// Engine starts and tracks translation runs.
type Engine struct {
	provider translation.Provider
	logger   zerolog.Logger
	memory   memory.Store
	scorer   Scorer
	recorder Recorder

	mu    sync.Mutex
	runs  map[string]*Run
	order []string
	seq   int
}

type Option func(*Engine)

// WithMemory consults and fills a translation memory.
func WithMemory(store memory.Store) Option {
	return func(e *Engine) { e.memory = store }
}

// WithScorer enables the low-confidence check against a language scorer.
func WithScorer(scorer Scorer) Option {
	return func(e *Engine) { e.scorer = scorer }
}

func WithRecorder(recorder Recorder) Option {
	return func(e *Engine) { e.recorder = recorder }
}

func New(provider translation.Provider, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		provider: provider,
		logger:   logger,
		runs:     make(map[string]*Run),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Job describes one run.
type Job struct {
	ID         string
	Entries    []Entry
	SourceLang string
	TargetLang string
	Settings   Settings
	// Provider overrides the engine's provider for this run.
	Provider translation.Provider
}

// Submit validates the job and starts the run in the background. ctx only
// scopes the submission; use Run.Cancel or Engine.Cancel to stop the run.
func (e *Engine) Submit(ctx context.Context, job Job) (*Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	provider := job.Provider
	if provider == nil {
		provider = e.provider
	}
	if provider == nil {
		return nil, fmt.Errorf("no translation provider configured")
	}
	if strings.TrimSpace(job.TargetLang) == "" {
		return nil, fmt.Errorf("target language is required")
	}

	settings := job.Settings.withDefaults()
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	seen := make(map[string]struct{}, len(job.Entries))
	for i, entry := range job.Entries {
		if strings.TrimSpace(entry.Key) == "" {
			return nil, fmt.Errorf("%w: entry %d has no key", ErrInvalidEntry, i)
		}
		if _, dup := seen[entry.Key]; dup {
			return nil, fmt.Errorf("%w: duplicate key %q", ErrInvalidEntry, entry.Key)
		}
		seen[entry.Key] = struct{}{}
	}

	mode, _ := review.ParseMode(string(settings.ReviewMode))
	strategy, _ := credential.ParseStrategy(string(settings.RotationStrategy))
	pool, err := credential.NewPool(settings.Credentials, credential.Options{
		Strategy:          strategy,
		MaxConcurrentUses: settings.MaxConcurrentUses,
		RateLimitCooldown: settings.RateLimitCooldown,
	})
	if err != nil {
		return nil, fmt.Errorf("build credential pool: %w", err)
	}
	protector, err := placeholder.New(settings.PlaceholderPatterns...)
	if err != nil {
		return nil, fmt.Errorf("build placeholder protector: %w", err)
	}

	e.mu.Lock()
	id := strings.TrimSpace(job.ID)
	if id == "" {
		e.seq++
		id = fmt.Sprintf("run_%s_%03d", globaltime.UTC().Format("20060102T150405"), e.seq)
	}
	if _, exists := e.runs[id]; exists {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrRunExists, id)
	}

	run := newRun(runParams{
		id:        id,
		job:       job,
		settings:  settings,
		provider:  provider,
		logger:    e.logger.With().Str("run_id", id).Logger(),
		memory:    e.memory,
		scorer:    e.scorer,
		recorder:  e.recorder,
		pool:      pool,
		limiter:   ratelimit.New(ratelimit.Options{Delay: settings.RateLimitDelay, GlobalInFlight: settings.GlobalInFlight}),
		protector: protector,
		gate:      review.NewGate(mode),
	})
	e.runs[id] = run
	e.order = append(e.order, id)
	e.mu.Unlock()

	run.logger.Info().
		Int("entries", len(job.Entries)).
		Str("provider", provider.Name()).
		Str("target_lang", job.TargetLang).
		Int("workers", settings.Workers).
		Int("credentials", len(pool.IDs())).
		Str("review_mode", string(mode)).
		Msg("run submitted")

	go run.execute()
	return run, nil
}

func (e *Engine) Run(id string) (*Run, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	run, ok := e.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, nil
}

// Runs lists runs in submission order.
func (e *Engine) Runs() []*Run {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Run, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.runs[id])
	}
	return out
}

func (e *Engine) Cancel(id string) error {
	run, err := e.Run(id)
	if err != nil {
		return err
	}
	run.Cancel()
	return nil
}

// Shutdown cancels every active run and waits for them to wind down.
func (e *Engine) Shutdown(ctx context.Context) error {
	runs := e.Runs()
	for _, run := range runs {
		run.Cancel()
	}
	for _, run := range runs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-run.Done():
		}
	}
	return nil
}
