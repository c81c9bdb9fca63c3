package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeProfile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write profile: %v", err)
	}
	return path
}

func TestLoadProfileFromYAML(t *testing.T) {
	path := writeProfile(t, "profile.yaml", `
credentials:
  - key-one
  - key-two
provider: OpenAI
target_lang: simp_chinese
workers: 2
rate_limit_delay: 250ms
max_attempts: 5
backoff_base: 1s
backoff_factor: 3
review_mode: batched
rotation_strategy: load_balanced
placeholder_patterns:
  - '\{\w+\}'
`)

	profile, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Join(profile.Credentials, ",") != "key-one,key-two" {
		t.Fatalf("unexpected credentials: %v", profile.Credentials)
	}
	if profile.Provider != "openai" || profile.TargetLang != "simp_chinese" {
		t.Fatalf("unexpected provider/target: %q %q", profile.Provider, profile.TargetLang)
	}
	if profile.Workers != 2 || profile.MaxAttempts != 5 || profile.BackoffFactor != 3 {
		t.Fatalf("unexpected numeric settings: %+v", profile)
	}
	if profile.RateLimitDelay != 250*time.Millisecond || profile.BackoffBase != time.Second {
		t.Fatalf("unexpected durations: %s %s", profile.RateLimitDelay, profile.BackoffBase)
	}
	if profile.BackoffMax != time.Minute || profile.CallTimeout != time.Minute {
		t.Fatalf("expected defaults for unset durations, got %s %s", profile.BackoffMax, profile.CallTimeout)
	}
	if profile.ReviewMode != "batched" || profile.RotationStrategy != "load_balanced" {
		t.Fatalf("unexpected modes: %q %q", profile.ReviewMode, profile.RotationStrategy)
	}
	if len(profile.PlaceholderPatterns) != 1 {
		t.Fatalf("unexpected placeholder patterns: %v", profile.PlaceholderPatterns)
	}
}

func TestLoadProfileEnvOverrides(t *testing.T) {
	path := writeProfile(t, "profile.yaml", "workers: 2\n")
	t.Setenv("MODTRANS_WORKERS", "6")
	t.Setenv("MODTRANS_CREDENTIALS", "env-a, env-b")

	profile, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile.Workers != 6 {
		t.Fatalf("unexpected workers: got %d want 6", profile.Workers)
	}
	if strings.Join(profile.Credentials, ",") != "env-a,env-b" {
		t.Fatalf("unexpected credentials: %v", profile.Credentials)
	}
}

func TestLoadProfileDefaultsWithoutFile(t *testing.T) {
	profile, err := LoadProfile("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile.Workers != 4 || profile.MaxAttempts != 3 || profile.ReviewMode != "sync" {
		t.Fatalf("unexpected defaults: %+v", profile)
	}
	if profile.BackoffBase != 2*time.Second || profile.BackoffFactor != 2 {
		t.Fatalf("unexpected backoff defaults: %s x%.1f", profile.BackoffBase, profile.BackoffFactor)
	}
}

func TestLoadProfileErrors(t *testing.T) {
	if _, err := LoadProfile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected missing explicit profile to fail")
	}

	bad := writeProfile(t, "bad.yaml", "review_mode: immediate\n")
	if _, err := LoadProfile(bad); err == nil || !strings.Contains(err.Error(), "review_mode") {
		t.Fatalf("unexpected error for bad review mode: %v", err)
	}

	badPattern := writeProfile(t, "pattern.yaml", "placeholder_patterns: ['(']\n")
	if _, err := LoadProfile(badPattern); err == nil || !strings.Contains(err.Error(), "placeholder_patterns") {
		t.Fatalf("unexpected error for bad pattern: %v", err)
	}
}
