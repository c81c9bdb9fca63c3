package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" default:""`
	DBMinConns  int32  `envconfig:"MODTRANS_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"MODTRANS_DB_MAX_CONNS" default:"8"`

	TranslationProvider string `envconfig:"TRANSLATION_PROVIDER" default:"gemini"`
	TranslationEndpoint string `envconfig:"TRANSLATION_ENDPOINT" default:""`
	TranslationModel    string `envconfig:"TRANSLATION_MODEL" default:""`
	OpenAIBaseURL       string `envconfig:"OPENAI_BASE_URL" default:""`
	OpenAIModel         string `envconfig:"OPENAI_MODEL" default:""`
	GeminiModel         string `envconfig:"GEMINI_MODEL" default:""`

	MemoryBackend    string `envconfig:"MEMORY_BACKEND" default:"none"`
	MemorySQLitePath string `envconfig:"MEMORY_SQLITE_PATH" default:"modtrans-memory.db"`

	CORSAllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:""`
	ProfilePath        string `envconfig:"MODTRANS_PROFILE" default:""`
}

const (
	MemoryNone     = "none"
	MemoryInMemory = "memory"
	MemorySQLite   = "sqlite"
	MemoryPostgres = "postgres"
)

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBMinConns < 0 {
		return fmt.Errorf("MODTRANS_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("MODTRANS_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("MODTRANS_DB_MIN_CONNS (%d) cannot exceed MODTRANS_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}

	c.MemoryBackend = strings.ToLower(strings.TrimSpace(c.MemoryBackend))
	switch c.MemoryBackend {
	case "", MemoryNone:
		c.MemoryBackend = MemoryNone
	case MemoryInMemory:
	case MemorySQLite:
		if strings.TrimSpace(c.MemorySQLitePath) == "" {
			return fmt.Errorf("MEMORY_SQLITE_PATH is required when MEMORY_BACKEND=sqlite")
		}
	case MemoryPostgres:
		if !c.HasDatabase() {
			return fmt.Errorf("DATABASE_URL is required when MEMORY_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("MEMORY_BACKEND must be one of none, memory, sqlite, postgres (got %q)", c.MemoryBackend)
	}
	return nil
}

// HasDatabase reports whether a Postgres database is configured.
func (c *Config) HasDatabase() bool {
	return c != nil && strings.TrimSpace(c.DatabaseURL) != ""
}

func (c *Config) CORSAllowedOriginsList() []string {
	if c == nil {
		return nil
	}

	parts := strings.Split(c.CORSAllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		if _, exists := seen[origin]; exists {
			continue
		}
		seen[origin] = struct{}{}
		origins = append(origins, origin)
	}
	return origins
}
