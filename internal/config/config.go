package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is shared by the relay server and the console client.
// Values come from the environment without a prefix (PORT, REDIS_URL, ...).
type Config struct {
	Port        string     `envconfig:"PORT" default:"8080"`
	Environment string     `envconfig:"ENVIRONMENT" default:"development"`
	LogLevelRaw string     `envconfig:"LOG_LEVEL" default:"info"`
	LogLevel    slog.Level `ignored:"true"`

	// Relay server
	DataDir           string        `envconfig:"DATA_DIR" default:"./data"`
	BackupDir         string        `envconfig:"BACKUP_DIR" default:"./data/backups"`
	BackupGenerations int           `envconfig:"BACKUP_GENERATIONS" default:"30"`
	RedisURL          string        `envconfig:"REDIS_URL" default:"redis://localhost:6379"`
	UpstreamTimeout   time.Duration `envconfig:"UPSTREAM_TIMEOUT" default:"120s"`

	// Console client
	RelayURL  string `envconfig:"RELAY_URL" default:"http://localhost:8080"`
	SessionID string `envconfig:"SESSION_ID"`
	LogFile   string `envconfig:"LOG_FILE" default:"storyloom-console.log"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	cfg.LogLevel = parseLogLevel(cfg.LogLevelRaw)

	if cfg.BackupGenerations < 1 {
		return nil, fmt.Errorf("BACKUP_GENERATIONS must be at least 1, got %d", cfg.BackupGenerations)
	}
	if cfg.UpstreamTimeout <= 0 {
		return nil, fmt.Errorf("UPSTREAM_TIMEOUT must be positive, got %s", cfg.UpstreamTimeout)
	}
	return &cfg, nil
}

// IsProduction reports whether logs should be emitted as JSON.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
