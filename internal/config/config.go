package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

const (
	StoreBackendFile     = "file"
	StoreBackendPostgres = "postgres"
)

type Config struct {
	Port                   int    `env:"PORT" envDefault:"8080"`
	LogLevel               string `env:"LOG_LEVEL" envDefault:"info"`
	DataDir                string `env:"DATA_DIR" envDefault:"data"`
	DatabaseFile           string `env:"DATABASE_FILE" envDefault:"database.json"`
	SettingsFile           string `env:"SETTINGS_FILE" envDefault:"bot_settings.json"`
	HistoryFile            string `env:"HISTORY_FILE" envDefault:"chat_history.json"`
	BotsDir                string `env:"BOTS_DIR" envDefault:"user_bots"`
	StoreBackend           string `env:"STORE_BACKEND" envDefault:"file"`
	DatabaseURL            string `env:"DATABASE_URL"`
	RedisURL               string `env:"REDIS_URL"`
	AIAPIURL               string `env:"AI_API_URL" envDefault:"http://api.onlysq.ru/ai/v2"`
	AIAPIKey               string `env:"AI_API_KEY" envDefault:"openai"`
	AITimeoutSeconds       int    `env:"AI_TIMEOUT_SECONDS" envDefault:"60"`
	DefaultModel           string `env:"DEFAULT_MODEL" envDefault:"gpt-4o-mini"`
	ModelsFile             string `env:"MODELS_FILE"`
	BotInterpreter         string `env:"BOT_INTERPRETER" envDefault:"python3"`
	StopGraceSeconds       int    `env:"STOP_GRACE_SECONDS" envDefault:"5"`
	ServiceToken           string `env:"SERVICE_TOKEN"`
	AdminToken             string `env:"ADMIN_TOKEN"`
	SweepIntervalMinutes   int    `env:"SWEEP_INTERVAL_MINUTES" envDefault:"60"`
	UserRateLimitPerMinute int    `env:"USER_RATE_LIMIT_PER_MINUTE" envDefault:"20"`
	HistoryLimit           int    `env:"HISTORY_LIMIT" envDefault:"20"`
}

func (c *Config) AITimeout() time.Duration {
	return time.Duration(c.AITimeoutSeconds) * time.Second
}

func (c *Config) StopGrace() time.Duration {
	return time.Duration(c.StopGraceSeconds) * time.Second
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMinutes) * time.Minute
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, c.DatabaseFile)
}

func (c *Config) SettingsPath() string {
	return filepath.Join(c.DataDir, c.SettingsFile)
}

func (c *Config) HistoryPath() string {
	return filepath.Join(c.DataDir, c.HistoryFile)
}

func (c *Config) BotsPath() string {
	return filepath.Join(c.DataDir, c.BotsDir)
}

func (c *Config) Validate(isProduction bool) error {
	switch c.StoreBackend {
	case StoreBackendFile:
	case StoreBackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND=%s", StoreBackendPostgres)
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	if c.AITimeoutSeconds <= 0 {
		return fmt.Errorf("AI_TIMEOUT_SECONDS must be positive, got %d", c.AITimeoutSeconds)
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("HISTORY_LIMIT must be positive, got %d", c.HistoryLimit)
	}

	if c.ServiceToken == "" {
		log.Warn().Msg("SERVICE_TOKEN is empty: user API is unauthenticated")
	}
	if c.AdminToken == "" {
		log.Warn().Msg("ADMIN_TOKEN is empty: admin API is disabled")
	}
	if c.RedisURL == "" {
		log.Warn().Msg("REDIS_URL is empty: per-user rate limiting and process journal disabled")
	}

	if isProduction {
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
		if c.AIAPIKey == "openai" {
			log.Warn().Msg("AI_API_KEY uses the public default key in production")
		}
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
