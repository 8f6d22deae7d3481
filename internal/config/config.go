package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	Env      string `env:"ENV" envDefault:"development"`
	RedisURL string `env:"REDIS_URL"`

	// Rate limiting
	RateLimitRequests  int           `env:"RATE_LIMIT_REQUESTS" envDefault:"10"`
	RateLimitWindow    time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"10s"`
	RateLimitWhitelist []string      `env:"RATE_LIMIT_WHITELIST" envSeparator:","` // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool          `env:"AUTO_BLOCK_ENABLED" envDefault:"false"`

	// Rooms
	DefaultRoomTTL      int `env:"DEFAULT_ROOM_TTL" envDefault:"600"` // seconds
	DefaultRoomCapacity int `env:"DEFAULT_ROOM_CAPACITY" envDefault:"2"`
	MaxRoomTTL          int `env:"MAX_ROOM_TTL" envDefault:"86400"`
	MaxRoomCapacity     int `env:"MAX_ROOM_CAPACITY" envDefault:"50"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	SecureCookies      *bool    `env:"SECURE_COOKIES"`
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
func Load() (*Config, error) {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.RateLimitWhitelist = trimEntries(cfg.RateLimitWhitelist)
	cfg.CORSAllowedOrigins = trimEntries(cfg.CORSAllowedOrigins)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	// In production, require a real redis
	if c.IsProduction() && c.RedisURL == "" {
		return errors.New("REDIS_URL is required in production")
	}
	if c.RateLimitRequests < 1 {
		return errors.New("RATE_LIMIT_REQUESTS must be at least 1")
	}
	if c.RateLimitWindow <= 0 {
		return errors.New("RATE_LIMIT_WINDOW must be positive")
	}
	if c.DefaultRoomCapacity < 1 || c.DefaultRoomCapacity > c.MaxRoomCapacity {
		return fmt.Errorf("DEFAULT_ROOM_CAPACITY must be in [1, %d]", c.MaxRoomCapacity)
	}
	if c.DefaultRoomTTL < 1 || c.DefaultRoomTTL > c.MaxRoomTTL {
		return fmt.Errorf("DEFAULT_ROOM_TTL must be in [1, %d]", c.MaxRoomTTL)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// UseSecureCookies reports whether auth cookies get the Secure flag.
// Defaults to on in production when SECURE_COOKIES is unset.
func (c *Config) UseSecureCookies() bool {
	if c.SecureCookies != nil {
		return *c.SecureCookies
	}
	return c.IsProduction()
}

func trimEntries(entries []string) []string {
	out := entries[:0]
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
