// lanclip/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

const (
	AppVersion = "0.4.0"

	// Board Limits
	MaxTextLen = 100_000
	KeyLength  = 12 // random bytes, 16 base64url chars

	// Thumbnails
	ThumbnailWidth   = 200
	ThumbnailQuality = 60

	// Live Stream
	StreamKeepAlive = 15 * time.Second
)

// Config holds every environment-driven option.
type Config struct {
	Port     string `env:"LANCLIP_PORT" envDefault:"8080"`
	Store    string `env:"LANCLIP_STORE" envDefault:"redis"`
	RedisURL string `env:"REDIS_URL" envDefault:"redis://localhost:6379"`
	DBPath   string `env:"LANCLIP_DB_PATH" envDefault:"./lanclip.db?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"`
	DataDir  string `env:"LANCLIP_DATA_DIR" envDefault:"./data"`

	EntryTTLHours int   `env:"ENTRY_TTL_HOURS" envDefault:"48"`
	MaxEntries    int   `env:"MAX_ENTRIES_PER_BOARD" envDefault:"20"`
	MaxUploadMB   int64 `env:"MAX_UPLOAD_SIZE_MB" envDefault:"5"`

	SweepInterval time.Duration `env:"LANCLIP_SWEEP_INTERVAL" envDefault:"5m"`
	LANOnly       bool          `env:"LANCLIP_LAN_ONLY" envDefault:"false"`
	// TrustProxy honours X-Forwarded-For and X-Real-IP. Enable only behind a
	// reverse proxy that overwrites them.
	TrustProxy    bool          `env:"LANCLIP_TRUST_PROXY" envDefault:"false"`

	RateLimitEvery  time.Duration `env:"LANCLIP_RATE_EVERY" envDefault:"2s"`
	RateLimitBurst  int           `env:"LANCLIP_RATE_BURST" envDefault:"10"`
	RateLimitPrune  time.Duration `env:"LANCLIP_RATE_PRUNE" envDefault:"1h"`
	RateLimitExpire time.Duration `env:"LANCLIP_RATE_EXPIRE" envDefault:"24h"`

	S3 S3Config
}

// S3Config selects the S3-compatible asset backend when Enabled.
type S3Config struct {
	Enabled   bool   `env:"LANCLIP_S3_ENABLED" envDefault:"false"`
	Endpoint  string `env:"LANCLIP_S3_ENDPOINT"`
	AccessKey string `env:"LANCLIP_S3_ACCESS_KEY"`
	SecretKey string `env:"LANCLIP_S3_SECRET_KEY"`
	Bucket    string `env:"LANCLIP_S3_BUCKET"`
	Region    string `env:"LANCLIP_S3_REGION" envDefault:"us-east-1"`
	UseSSL    bool   `env:"LANCLIP_S3_USE_SSL" envDefault:"true"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects option values the store cannot work with.
func (c *Config) Validate() error {
	if c.Store != "redis" && c.Store != "sqlite" {
		return fmt.Errorf("LANCLIP_STORE must be redis or sqlite, got %q", c.Store)
	}
	if c.MaxEntries < 1 {
		return fmt.Errorf("MAX_ENTRIES_PER_BOARD must be positive, got %d", c.MaxEntries)
	}
	if c.EntryTTLHours < 1 {
		return fmt.Errorf("ENTRY_TTL_HOURS must be positive, got %d", c.EntryTTLHours)
	}
	if c.MaxUploadMB < 1 {
		return fmt.Errorf("MAX_UPLOAD_SIZE_MB must be positive, got %d", c.MaxUploadMB)
	}
	if c.SweepInterval <= 0 || c.RateLimitPrune <= 0 {
		return fmt.Errorf("LANCLIP_SWEEP_INTERVAL and LANCLIP_RATE_PRUNE must be positive")
	}
	if c.S3.Enabled && c.S3.Bucket == "" {
		return fmt.Errorf("LANCLIP_S3_BUCKET is required when S3 storage is enabled")
	}
	return nil
}

// Retention is the TTL applied to board entries and to access keys.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.EntryTTLHours) * time.Hour
}

// MaxUploadBytes is the asset size ceiling.
func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB * 1024 * 1024
}
