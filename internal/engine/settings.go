package engine

import (
	"fmt"
	"slices"
	"time"

	"horse.fit/modtrans/internal/config"
	"horse.fit/modtrans/internal/credential"
	"horse.fit/modtrans/internal/review"
)

// Settings is the configuration snapshot of one run. It is copied at submit
// and never changes while the run is active.
type Settings struct {
	Credentials []string

	Workers        int
	RateLimitDelay time.Duration
	GlobalInFlight int

	MaxAttempts  int
	Backoff      Backoff
	CallTimeout  time.Duration
	StallTimeout time.Duration

	ReviewMode          review.Mode
	ConfidenceThreshold float64

	RotationStrategy  credential.Strategy
	MaxConcurrentUses int
	RateLimitCooldown time.Duration

	PlaceholderPatterns []string
	StyleHint           string
}

func DefaultSettings() Settings {
	return Settings{
		Workers:           4,
		RateLimitDelay:    500 * time.Millisecond,
		MaxAttempts:       3,
		Backoff:           DefaultBackoff(),
		CallTimeout:       time.Minute,
		ReviewMode:        review.ModeSync,
		RotationStrategy:  credential.StrategyRoundRobin,
		MaxConcurrentUses: 1,
		RateLimitCooldown: 30 * time.Second,
	}
}

// SettingsFromProfile maps a loaded run profile onto engine settings.
func SettingsFromProfile(p *config.Profile) Settings {
	s := DefaultSettings()
	if p == nil {
		return s
	}
	s.Credentials = slices.Clone(p.Credentials)
	s.Workers = p.Workers
	s.RateLimitDelay = p.RateLimitDelay
	s.GlobalInFlight = p.GlobalInFlight
	s.MaxAttempts = p.MaxAttempts
	s.Backoff = Backoff{Base: p.BackoffBase, Factor: p.BackoffFactor, Max: p.BackoffMax}
	s.CallTimeout = p.CallTimeout
	s.StallTimeout = p.StallTimeout
	s.ReviewMode = review.Mode(p.ReviewMode)
	s.ConfidenceThreshold = p.ConfidenceThreshold
	s.RotationStrategy = credential.Strategy(p.RotationStrategy)
	s.MaxConcurrentUses = p.MaxConcurrentUses
	s.RateLimitCooldown = p.RateLimitCooldown
	s.PlaceholderPatterns = slices.Clone(p.PlaceholderPatterns)
	s.StyleHint = p.StyleHint
	return s
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.Workers <= 0 {
		s.Workers = d.Workers
	}
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = d.MaxAttempts
	}
	if s.Backoff.Base <= 0 {
		s.Backoff.Base = d.Backoff.Base
	}
	if s.Backoff.Factor <= 0 {
		s.Backoff.Factor = d.Backoff.Factor
	}
	if s.Backoff.Max <= 0 {
		s.Backoff.Max = d.Backoff.Max
	}
	if s.CallTimeout <= 0 {
		s.CallTimeout = d.CallTimeout
	}
	if s.ReviewMode == "" {
		s.ReviewMode = d.ReviewMode
	}
	if s.RotationStrategy == "" {
		s.RotationStrategy = d.RotationStrategy
	}
	if s.MaxConcurrentUses <= 0 {
		s.MaxConcurrentUses = d.MaxConcurrentUses
	}
	if s.RateLimitCooldown <= 0 {
		s.RateLimitCooldown = d.RateLimitCooldown
	}
	s.Credentials = slices.Clone(s.Credentials)
	s.PlaceholderPatterns = slices.Clone(s.PlaceholderPatterns)
	return s
}

func (s Settings) Validate() error {
	if len(s.Credentials) == 0 {
		return credential.ErrNoCredentials
	}
	if s.RateLimitDelay < 0 || s.StallTimeout < 0 || s.GlobalInFlight < 0 {
		return fmt.Errorf("rate limit delay, stall timeout and global in-flight must not be negative")
	}
	if s.Backoff.Factor < 1 {
		return fmt.Errorf("backoff factor must be >= 1")
	}
	if s.ConfidenceThreshold < 0 || s.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be between 0 and 1")
	}
	if _, err := review.ParseMode(string(s.ReviewMode)); err != nil {
		return err
	}
	if _, err := credential.ParseStrategy(string(s.RotationStrategy)); err != nil {
		return err
	}
	return nil
}
