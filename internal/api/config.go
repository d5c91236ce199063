// Package api serves the EcoScout HTTP API: uploads, history, reports and
// the annotated results.
package api

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/ecoscout/ecoscout-go/internal/conf"
	"github.com/ecoscout/ecoscout-go/internal/logger"
)

// GetLogger returns the api package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("api")
}

// Default constants for the HTTP server.
const (
	DefaultReadTimeout     = 5 * time.Minute // video uploads
	DefaultWriteTimeout    = 10 * time.Minute
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultBodyLimit       = "200M"
	DefaultRate            = 2.0
	DefaultBurst           = 10
)

// Config holds the HTTP server configuration.
type Config struct {
	Host string
	Port int

	AllowedOrigins []string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	BodyLimit string

	// Upload rate limiting per client IP.
	RateLimitEnabled bool
	Rate             float64 // requests per second
	Burst            int

	MetricsPath string // empty disables /metrics
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:             "0.0.0.0",
		Port:             8000,
		AllowedOrigins:   []string{"*"},
		ReadTimeout:      DefaultReadTimeout,
		WriteTimeout:     DefaultWriteTimeout,
		IdleTimeout:      DefaultIdleTimeout,
		ShutdownTimeout:  DefaultShutdownTimeout,
		BodyLimit:        DefaultBodyLimit,
		RateLimitEnabled: true,
		Rate:             DefaultRate,
		Burst:            DefaultBurst,
		MetricsPath:      "/metrics",
	}
}

// ConfigFromSettings creates a Config from the application settings.
func ConfigFromSettings(settings *conf.Settings) *Config {
	cfg := DefaultConfig()
	s := settings.Server

	if s.Host != "" {
		cfg.Host = s.Host
	}
	if s.Port != 0 {
		cfg.Port = s.Port
	}
	if len(s.CORSOrigins) > 0 {
		cfg.AllowedOrigins = s.CORSOrigins
	}
	if s.BodyLimit != "" {
		cfg.BodyLimit = s.BodyLimit
	}
	if s.ShutdownTimeout > 0 {
		cfg.ShutdownTimeout = s.ShutdownTimeout
	}

	cfg.RateLimitEnabled = s.RateLimit.Enabled
	if s.RateLimit.Rate > 0 {
		cfg.Rate = s.RateLimit.Rate
	}
	if s.RateLimit.Burst > 0 {
		cfg.Burst = s.RateLimit.Burst
	}

	cfg.MetricsPath = ""
	if settings.Metrics.Enabled {
		cfg.MetricsPath = settings.Metrics.Path
		if cfg.MetricsPath == "" {
			cfg.MetricsPath = "/metrics"
		}
	}
	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}
	if c.RateLimitEnabled && c.Rate <= 0 {
		return fmt.Errorf("rate limit must be positive when enabled")
	}
	return nil
}

// Address returns the address the server listens on.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
