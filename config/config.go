package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"chart-rsi/internal/indicator"
	"chart-rsi/internal/logger"
	"chart-rsi/internal/pipeline"
)

// EnvPrefix is prepended to every environment override, e.g.
// CHARTRSI_SERVER_ADDR or CHARTRSI_PIPELINE_RSI_PERIOD.
const EnvPrefix = "CHARTRSI_"

// Config holds all application configuration.
type Config struct {
	Service   string           `yaml:"service" env:"SERVICE, overwrite"`
	Log       LogConfig        `yaml:"log" env:", prefix=LOG_"`
	Server    ServerConfig     `yaml:"server" env:", prefix=SERVER_"`
	Auth      AuthConfig       `yaml:"auth" env:", prefix=AUTH_"`
	Pipeline  pipeline.Options `yaml:"pipeline" env:", prefix=PIPELINE_"`
	Zones     indicator.Zones  `yaml:"zones" env:", prefix=ZONES_"`
	SQLite    SQLiteConfig     `yaml:"sqlite" env:", prefix=SQLITE_"`
	Redis     RedisConfig      `yaml:"redis" env:", prefix=REDIS_"`
	Webhook   WebhookConfig    `yaml:"webhook" env:", prefix=WEBHOOK_"`
	Retention RetentionConfig  `yaml:"retention" env:", prefix=RETENTION_"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"LEVEL, overwrite"`
}

// ServerConfig configures the HTTP listener and upload limits.
type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"ADDR, overwrite"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT, overwrite"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT, overwrite"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT, overwrite"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes" env:"MAX_UPLOAD_BYTES, overwrite"`
	MaxPixels       int64         `yaml:"max_pixels" env:"MAX_PIXELS, overwrite"` // decoded width×height cap
	AllowedOrigins  []string      `yaml:"allowed_origins" env:"ALLOWED_ORIGINS, overwrite"`

	// Per-client token bucket on the upload endpoint.
	RateLimit float64 `yaml:"rate_limit" env:"RATE_LIMIT, overwrite"`
	RateBurst int     `yaml:"rate_burst" env:"RATE_BURST, overwrite"`

	// Envelopes replayed to a newly connected WebSocket client.
	ReplaySize int `yaml:"replay_size" env:"REPLAY_SIZE, overwrite"`
}

// AuthConfig gates uploads behind a TOTP code when Secret is set.
type AuthConfig struct {
	TOTPSecret string `yaml:"totp_secret" env:"TOTP_SECRET, overwrite"`
}

// SQLiteConfig configures the analysis journal. An empty path disables it.
type SQLiteConfig struct {
	Path string `yaml:"path" env:"PATH, overwrite"`
}

// RedisConfig configures result fan-out. An empty address disables it.
type RedisConfig struct {
	Addr      string        `yaml:"addr" env:"ADDR, overwrite"`
	Password  string        `yaml:"password" env:"PASSWORD, overwrite"`
	DB        int           `yaml:"db" env:"DB, overwrite"`
	Channel   string        `yaml:"channel" env:"CHANNEL, overwrite"`
	LatestKey string        `yaml:"latest_key" env:"LATEST_KEY, overwrite"`
	LatestTTL time.Duration `yaml:"latest_ttl" env:"LATEST_TTL, overwrite"`
}

// WebhookConfig configures zone alerts. An empty URL logs alerts only.
type WebhookConfig struct {
	URL     string        `yaml:"url" env:"URL, overwrite"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT, overwrite"`
}

// RetentionConfig configures the journal prune job. An empty schedule disables it.
type RetentionConfig struct {
	Schedule string        `yaml:"schedule" env:"SCHEDULE, overwrite"`
	MaxAge   time.Duration `yaml:"max_age" env:"MAX_AGE, overwrite"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Service: "chartrsi",
		Log:     LogConfig{Level: "info"},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxUploadBytes:  10 << 20,
			MaxPixels:       25_000_000,
			AllowedOrigins:  []string{"*"},
			RateLimit:       2,
			RateBurst:       5,
			ReplaySize:      50,
		},
		Pipeline: pipeline.DefaultOptions(),
		Zones:    indicator.DefaultZones(),
		SQLite:   SQLiteConfig{Path: "data/analyses.db"},
		Redis: RedisConfig{
			Channel:   "chartrsi:analyses",
			LatestKey: "chartrsi:latest",
			LatestTTL: 24 * time.Hour,
		},
		Webhook: WebhookConfig{Timeout: 5 * time.Second},
		Retention: RetentionConfig{
			Schedule: "0 0 3 * * *",
			MaxAge:   30 * 24 * time.Hour,
		},
	}
}

// Load reads defaults, then the YAML file at path (a missing file is fine),
// then CHARTRSI_* environment overrides, and validates the result.
func Load(ctx context.Context, path string) (*Config, error) {
	return LoadWith(ctx, path, envconfig.OsLookuper())
}

// LoadWith is Load with an explicit environment source.
func LoadWith(ctx context.Context, path string, env envconfig.Lookuper) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: envconfig.PrefixLookuper(EnvPrefix, env),
	}); err != nil {
		return nil, fmt.Errorf("config: env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that cannot be fixed up with a default.
func (c *Config) Validate() error {
	if c.Service == "" {
		return fmt.Errorf("config: service is required")
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: log.level: %w", err)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("config: server.addr is required")
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("config: server.max_upload_bytes must be positive")
	}
	if c.Server.MaxPixels <= 0 {
		return fmt.Errorf("config: server.max_pixels must be positive")
	}
	if c.Server.RateLimit <= 0 || c.Server.RateBurst <= 0 {
		return fmt.Errorf("config: server.rate_limit and server.rate_burst must be positive")
	}
	if c.Server.ReplaySize < 0 {
		return fmt.Errorf("config: server.replay_size must not be negative")
	}
	if _, err := pipeline.New(c.Pipeline); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.Zones.Validate(); err != nil {
		return fmt.Errorf("config: zones: %w", err)
	}
	if c.Redis.Addr != "" && c.Redis.Channel == "" {
		return fmt.Errorf("config: redis.channel is required when redis.addr is set")
	}
	if c.Retention.Schedule != "" && c.Retention.MaxAge <= 0 {
		return fmt.Errorf("config: retention.max_age must be positive when a schedule is set")
	}
	return nil
}

// LogLevel returns the parsed log level; Validate has already checked it.
func (c *Config) LogLevel() slog.Level {
	lvl, _ := logger.ParseLevel(c.Log.Level)
	return lvl
}
