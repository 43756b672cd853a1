// Package config loads service configuration. Values are resolved in order:
// built-in defaults, an optional YAML file, then environment variables.
// Command-line flags are applied by the caller last.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendNone   = "none"
)

type Config struct {
	// Addr is the HTTP listen address. ENV: MEASURECONV_ADDR
	Addr string `yaml:"addr" env:"MEASURECONV_ADDR"`
	// ShutdownTimeout bounds graceful shutdown. ENV: MEASURECONV_SHUTDOWN_TIMEOUT
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" env:"MEASURECONV_SHUTDOWN_TIMEOUT"`
	// MaxBodyBytes caps POST request bodies. ENV: MEASURECONV_MAX_BODY_BYTES
	MaxBodyBytes int64 `yaml:"maxBodyBytes" env:"MEASURECONV_MAX_BODY_BYTES"`

	Log       LogConfig       `yaml:"log"`
	History   HistoryConfig   `yaml:"history"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type LogConfig struct {
	// Level is one of debug, info, warn, error. ENV: LOG_LEVEL
	Level string `yaml:"level" env:"LOG_LEVEL"`
	// Format is text or json. ENV: LOG_FORMAT
	Format string `yaml:"format" env:"LOG_FORMAT"`
	// File enables a rotating log file in addition to stderr. ENV: LOG_FILE
	File string `yaml:"file" env:"LOG_FILE"`
	// FileLevel is the minimum level written to File. ENV: LOG_FILE_LEVEL
	FileLevel string `yaml:"fileLevel" env:"LOG_FILE_LEVEL"`
	// MaxSizeMB rotates File once it reaches this size. ENV: LOG_FILE_MAX_SIZE_MB
	MaxSizeMB int `yaml:"maxSizeMB" env:"LOG_FILE_MAX_SIZE_MB"`
	// MaxAgeDays deletes rotated files older than this. ENV: LOG_FILE_MAX_AGE_DAYS
	MaxAgeDays int `yaml:"maxAgeDays" env:"LOG_FILE_MAX_AGE_DAYS"`
}

type HistoryConfig struct {
	// Backend is memory, redis or none. ENV: HISTORY_BACKEND
	Backend string `yaml:"backend" env:"HISTORY_BACKEND"`
	// MaxItems bounds the memory backend; 0 keeps everything. ENV: HISTORY_MAX_ITEMS
	MaxItems int `yaml:"maxItems" env:"HISTORY_MAX_ITEMS"`
	// DefaultPageSize applies when /history is called without a limit. ENV: HISTORY_PAGE_SIZE
	DefaultPageSize int `yaml:"defaultPageSize" env:"HISTORY_PAGE_SIZE"`

	Redis RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	// Addr like "localhost:6379". ENV: REDIS_ADDR
	Addr string `yaml:"addr" env:"REDIS_ADDR"`
	// Password for AUTH. ENV: REDIS_PASSWORD
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	// DB selects the logical database. ENV: REDIS_DB
	DB int `yaml:"db" env:"REDIS_DB"`
	// KeyPrefix for all keys. ENV: HISTORY_KEY_PREFIX
	KeyPrefix string `yaml:"keyPrefix" env:"HISTORY_KEY_PREFIX"`
	// MaxLen approximately bounds the stream; 0 disables trimming. ENV: HISTORY_MAX_LEN
	MaxLen int64 `yaml:"maxLen" env:"HISTORY_MAX_LEN"`
}

type RateLimitConfig struct {
	// Enabled toggles per-client limiting. ENV: RATE_LIMIT_ENABLED
	Enabled bool `yaml:"enabled" env:"RATE_LIMIT_ENABLED"`
	// RPS is the sustained request rate per client. ENV: RATE_LIMIT_RPS
	RPS float64 `yaml:"rps" env:"RATE_LIMIT_RPS"`
	// Burst is the bucket size per client. ENV: RATE_LIMIT_BURST
	Burst int `yaml:"burst" env:"RATE_LIMIT_BURST"`
}

type MetricsConfig struct {
	// Enabled exposes /metrics. ENV: METRICS_ENABLED
	Enabled bool `yaml:"enabled" env:"METRICS_ENABLED"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:            "0.0.0.0:8090",
		ShutdownTimeout: 10 * time.Second,
		MaxBodyBytes:    1 << 20,
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			FileLevel:  "info",
			MaxSizeMB:  100,
			MaxAgeDays: 14,
		},
		History: HistoryConfig{
			Backend:         BackendMemory,
			DefaultPageSize: 100,
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "measureconv:",
			},
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			RPS:     30,
			Burst:   60,
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Load resolves configuration from defaults, the YAML file at path (skipped
// when path is empty) and the environment, then validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := mergeFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	// Keys absent from the file keep their current values.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return errors.New("config: addr is required")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("config: shutdownTimeout must be positive")
	}
	if c.MaxBodyBytes <= 0 {
		return errors.New("config: maxBodyBytes must be positive")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.File != "" {
		if _, err := ParseLevel(c.Log.FileLevel); err != nil {
			return err
		}
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	switch c.History.Backend {
	case BackendMemory, BackendRedis, BackendNone:
	default:
		return fmt.Errorf("config: unknown history backend %q", c.History.Backend)
	}
	if c.History.DefaultPageSize <= 0 {
		return errors.New("config: history defaultPageSize must be positive")
	}
	if c.History.Backend == BackendRedis && strings.TrimSpace(c.History.Redis.Addr) == "" {
		return errors.New("config: history redis addr is required")
	}
	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		return errors.New("config: rateLimit rps and burst must be positive when enabled")
	}
	return nil
}
