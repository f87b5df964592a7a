// internal/config/config.go
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds every runtime knob of the service, parsed from the
// environment. A .env file is loaded by godotenv autoload in main.
type Config struct {
	HTTPPort    string `env:"PORT" envDefault:"8080"`
	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`

	// PostgresDSN selects the Postgres document store; empty runs the
	// in-memory store (single node only).
	PostgresDSN string `env:"POSTGRES_DSN"`

	// RedisAddr enables the audit-trail publisher; empty disables it.
	RedisAddr string `env:"REDIS_ADDR"`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	// RecognizerURL points at the external transcript recognizer; empty
	// means every transcript yields an ignore proposal.
	RecognizerURL string `env:"RECOGNIZER_URL"`

	StartingPoints      int64   `env:"STARTING_POINTS" envDefault:"100"`
	AutomationThreshold float64 `env:"AUTOMATION_CONFIDENCE_THRESHOLD" envDefault:"0.5"`
	UniqueNicknames     bool    `env:"UNIQUE_NICKNAMES" envDefault:"false"`

	// TokenExpire is a duration string, or "never"/"0"/empty for
	// non-expiring capability tokens.
	TokenExpire string `env:"TOKEN_EXPIRE_TIME"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if cfg.AutomationThreshold < 0 || cfg.AutomationThreshold > 1 {
		return Config{}, fmt.Errorf("config: AUTOMATION_CONFIDENCE_THRESHOLD must be in [0,1], got %v", cfg.AutomationThreshold)
	}
	if cfg.StartingPoints < 0 {
		return Config{}, fmt.Errorf("config: STARTING_POINTS must be non-negative, got %d", cfg.StartingPoints)
	}
	return cfg, nil
}
