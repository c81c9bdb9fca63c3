package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultProfileName is searched for in the working directory when no
// profile path is given.
const DefaultProfileName = "modtrans"

// Profile is the per-run configuration snapshot: credentials, concurrency,
// retry and review settings.
type Profile struct {
	Credentials []string `mapstructure:"credentials"`
	Provider    string   `mapstructure:"provider"`
	SourceLang  string   `mapstructure:"source_lang"`
	TargetLang  string   `mapstructure:"target_lang"`
	StyleHint   string   `mapstructure:"style_hint"`

	Workers        int           `mapstructure:"workers"`
	RateLimitDelay time.Duration `mapstructure:"rate_limit_delay"`
	GlobalInFlight int           `mapstructure:"global_in_flight"`

	MaxAttempts   int           `mapstructure:"max_attempts"`
	BackoffBase   time.Duration `mapstructure:"backoff_base"`
	BackoffFactor float64       `mapstructure:"backoff_factor"`
	BackoffMax    time.Duration `mapstructure:"backoff_max"`
	CallTimeout   time.Duration `mapstructure:"call_timeout"`
	StallTimeout  time.Duration `mapstructure:"stall_timeout"`

	ReviewMode          string  `mapstructure:"review_mode"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	DetectLanguage      bool    `mapstructure:"detect_language"`

	RotationStrategy  string        `mapstructure:"rotation_strategy"`
	MaxConcurrentUses int           `mapstructure:"max_concurrent_uses"`
	RateLimitCooldown time.Duration `mapstructure:"rate_limit_cooldown"`

	PlaceholderPatterns []string `mapstructure:"placeholder_patterns"`
}

var profileDefaults = map[string]any{
	"credentials":          []string{},
	"provider":             "",
	"source_lang":          "en",
	"target_lang":          "",
	"style_hint":           "",
	"workers":              4,
	"rate_limit_delay":     "500ms",
	"global_in_flight":     0,
	"max_attempts":         3,
	"backoff_base":         "2s",
	"backoff_factor":       2.0,
	"backoff_max":          "60s",
	"call_timeout":         "60s",
	"stall_timeout":        "0s",
	"review_mode":          "sync",
	"confidence_threshold": 0.0,
	"detect_language":      false,
	"rotation_strategy":    "round_robin",
	"max_concurrent_uses":  1,
	"rate_limit_cooldown":  "30s",
	"placeholder_patterns": []string{},
}

// LoadProfile reads a YAML, JSON or TOML profile. An empty path looks for
// modtrans.{yaml,json,toml} in the working directory and falls back to
// defaults when none exists. MODTRANS_* environment variables override file
// values (MODTRANS_WORKERS, MODTRANS_CREDENTIALS=a,b, ...).
func LoadProfile(path string) (*Profile, error) {
	v := viper.New()
	for key, value := range profileDefaults {
		v.SetDefault(key, value)
	}

	explicit := strings.TrimSpace(path) != ""
	if explicit {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(DefaultProfileName)
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("MODTRANS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read profile: %w", err)
		}
	}

	var profile Profile
	if err := v.Unmarshal(&profile); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	profile.normalize()
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("profile validation failed: %w", err)
	}
	return &profile, nil
}

func (p *Profile) normalize() {
	credentials := make([]string, 0, len(p.Credentials))
	for _, raw := range p.Credentials {
		// env overrides arrive as one comma separated value
		for _, part := range strings.Split(raw, ",") {
			if secret := strings.TrimSpace(part); secret != "" {
				credentials = append(credentials, secret)
			}
		}
	}
	p.Credentials = credentials
	p.Provider = strings.ToLower(strings.TrimSpace(p.Provider))
	p.ReviewMode = strings.ToLower(strings.TrimSpace(p.ReviewMode))
	p.RotationStrategy = strings.ToLower(strings.TrimSpace(p.RotationStrategy))
	p.SourceLang = strings.TrimSpace(p.SourceLang)
	p.TargetLang = strings.TrimSpace(p.TargetLang)
}

func (p *Profile) Validate() error {
	if p.Workers < 1 {
		return fmt.Errorf("workers must be >= 1")
	}
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1")
	}
	if p.RateLimitDelay < 0 {
		return fmt.Errorf("rate_limit_delay must be >= 0")
	}
	if p.GlobalInFlight < 0 {
		return fmt.Errorf("global_in_flight must be >= 0")
	}
	if p.BackoffBase < 0 || p.BackoffMax < 0 {
		return fmt.Errorf("backoff_base and backoff_max must be >= 0")
	}
	if p.BackoffFactor < 1 {
		return fmt.Errorf("backoff_factor must be >= 1")
	}
	if p.CallTimeout <= 0 {
		return fmt.Errorf("call_timeout must be > 0")
	}
	if p.StallTimeout < 0 {
		return fmt.Errorf("stall_timeout must be >= 0")
	}
	if p.MaxConcurrentUses < 1 {
		return fmt.Errorf("max_concurrent_uses must be >= 1")
	}
	if p.ConfidenceThreshold < 0 || p.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be between 0 and 1")
	}
	switch p.ReviewMode {
	case "sync", "batched":
	default:
		return fmt.Errorf("review_mode must be sync or batched (got %q)", p.ReviewMode)
	}
	switch p.RotationStrategy {
	case "round_robin", "load_balanced", "priority":
	default:
		return fmt.Errorf("rotation_strategy must be round_robin, load_balanced or priority (got %q)", p.RotationStrategy)
	}
	for _, pattern := range p.PlaceholderPatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("placeholder_patterns entry %q: %w", pattern, err)
		}
	}
	return nil
}
