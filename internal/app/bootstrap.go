package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/modtrans/internal/cli"
	"horse.fit/modtrans/internal/config"
	"horse.fit/modtrans/internal/db"
	"horse.fit/modtrans/internal/engine"
	"horse.fit/modtrans/internal/langdetect"
	"horse.fit/modtrans/internal/logging"
	"horse.fit/modtrans/internal/memory"
	"horse.fit/modtrans/internal/translation"
)

// loadEnvironment runs the shared command setup: .env, config, logger.
func loadEnvironment(envLoader *cli.EnvLoader) (*config.Config, zerolog.Logger, error) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("initialize logger: %w", err)
	}
	return cfg, logger, nil
}

// loadProfile prefers the flag, then MODTRANS_PROFILE, then modtrans.* in
// the working directory.
func loadProfile(cfg *config.Config, flagPath string) (*config.Profile, error) {
	path := strings.TrimSpace(flagPath)
	if path == "" && cfg != nil {
		path = strings.TrimSpace(cfg.ProfilePath)
	}
	return config.LoadProfile(path)
}

// backends are the optional stores behind a run: the Postgres pool for run
// history and the translation memory.
type backends struct {
	pool   *db.Pool
	memory memory.Store
}

func openBackends(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*backends, error) {
	b := &backends{}
	if cfg.HasDatabase() {
		dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		pool, err := db.NewPool(dbCtx, cfg)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		b.pool = pool
	}

	store, err := memory.Open(cfg, b.pool)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("open translation memory: %w", err)
	}
	b.memory = store

	logger.Debug().
		Bool("database", b.pool != nil).
		Str("memory_backend", cfg.MemoryBackend).
		Msg("backends ready")
	return b, nil
}

func (b *backends) Close() {
	if b == nil {
		return
	}
	if b.memory != nil {
		_ = b.memory.Close()
	}
	if b.pool != nil {
		_ = b.pool.Close()
	}
}

// engineOptions wires the backends and the confidence scorer into an engine.
func (b *backends) engineOptions(profile *config.Profile) []engine.Option {
	var opts []engine.Option
	if b != nil && b.memory != nil {
		opts = append(opts, engine.WithMemory(b.memory))
	}
	if b != nil && b.pool != nil {
		pool := b.pool
		opts = append(opts, engine.WithRecorder(engine.RecorderFunc(func(ctx context.Context, summary engine.Summary) error {
			return pool.InsertRun(ctx, runRecord(summary))
		})))
	}
	if profile != nil && profile.ConfidenceThreshold > 0 {
		opts = append(opts, engine.WithScorer(langdetect.Scorer{}))
	}
	return opts
}

func newRegistry(cfg *config.Config, logger zerolog.Logger) *translation.Registry {
	return translation.NewRegistryFromConfig(cfg, translation.BreakerOptions{
		OnStateChange: func(provider, from, to string) {
			logger.Warn().
				Str("provider", provider).
				Str("from", from).
				Str("to", to).
				Msg("provider circuit breaker changed state")
		},
	})
}

// runRecord maps a finished run onto its history row.
func runRecord(summary engine.Summary) *db.TranslationRun {
	row := &db.TranslationRun{
		RunID:        summary.RunID,
		Status:       string(summary.Status),
		ProviderName: summary.Provider,
		SourceLang:   summary.SourceLang,
		TargetLang:   summary.TargetLang,
		Total:        summary.Total,
		Succeeded:    summary.Succeeded,
		Failed:       summary.Failed,
		NeedsReview:  summary.NeedsReview,
		Pending:      summary.Pending + summary.InFlight,
		MemoryHits:   summary.MemoryHits,
		Stalls:       summary.Stalls,
		StartedAt:    summary.StartedAt,
		FinishedAt:   summary.FinishedAt,
	}
	if msg := strings.TrimSpace(summary.Error); msg != "" {
		row.ErrorMessage = &msg
	}
	return row
}
