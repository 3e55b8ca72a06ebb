// Package config loads runtime settings from the environment (and an optional
// .env file), then clamps them to safe defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

// RateLimitConfig defines the parameters for per-connection inbound frame throttling.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port           string `env:"SERVER_PORT,default=:8080"`
	AllowedOrigins string `env:"ALLOWED_ORIGINS,default=http://localhost:8080"`
	MaxMessageSize int64  `env:"MAX_MESSAGE_SIZE,default=512"`
	SendBufferSize int    `env:"SEND_BUFFER_SIZE,default=256"`

	RateLimitBurst          int           `env:"RATE_LIMIT_BURST,default=5"`
	RateLimitRefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL,default=1s"`

	JWTSecret string        `env:"JWT_SECRET,default=change-me-in-production"`
	TokenTTL  time.Duration `env:"TOKEN_TTL,default=168h"`

	StorageDriver string `env:"STORAGE_DRIVER,default=badger"`
	BadgerPath    string `env:"BADGER_PATH,default=data/badger"`
	SQLitePath    string `env:"SQLITE_PATH,default=data/livechat.db"`
	HistoryLimit  int    `env:"HISTORY_LIMIT,default=500"`

	NatsURL         string        `env:"NATS_URL"`
	LogLevel        string        `env:"LOG_LEVEL,default=INFO"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
}

const (
	StorageBadger = "badger"
	StorageSQLite = "sqlite"
)

// Default returns a Config populated with default values for all settings.
func Default() Config {
	return Sanitize(Config{AllowedOrigins: "http://localhost:8080"})
}

// Load reads an optional .env file, then the environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	cfg = Sanitize(cfg)
	if cfg.StorageDriver != StorageBadger && cfg.StorageDriver != StorageSQLite {
		return Config{}, fmt.Errorf("config error: unknown STORAGE_DRIVER %q", cfg.StorageDriver)
	}
	return cfg, nil
}

// Sanitize replaces zero or negative values with their defaults.
func Sanitize(cfg Config) Config {
	if cfg.Port == "" {
		cfg.Port = ":8080"
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 512
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = 256
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 5
	}
	if cfg.RateLimitRefillInterval <= 0 {
		cfg.RateLimitRefillInterval = time.Second
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 7 * 24 * time.Hour
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "change-me-in-production"
	}
	if cfg.StorageDriver == "" {
		cfg.StorageDriver = StorageBadger
	}
	cfg.StorageDriver = strings.ToLower(cfg.StorageDriver)
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 500
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "INFO"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return cfg
}

// RateLimit groups the inbound throttling settings.
func (c Config) RateLimit() RateLimitConfig {
	return RateLimitConfig{Burst: c.RateLimitBurst, RefillInterval: c.RateLimitRefillInterval}
}

// Origins splits ALLOWED_ORIGINS on commas.
func (c Config) Origins() []string {
	if c.AllowedOrigins == "" {
		return nil
	}
	parts := strings.Split(c.AllowedOrigins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
