// Package platform loads process configuration from the environment.
package platform

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all server configuration
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
//	required: Must be provided (no default)
type Config struct {
	// Server basics
	Addr string `env:"WS_ADDR" envDefault:":8080"`

	// App credentials
	AppID     uint32 `env:"PUSHER_APP_ID,required"`
	AppKey    string `env:"PUSHER_APP_KEY,required"`
	AppSecret string `env:"PUSHER_APP_SECRET,required"`
	AppName   string `env:"PUSHER_APP_NAME" envDefault:""`

	// Client events on private/presence channels
	ClientMessagesEnabled bool `env:"CLIENT_MESSAGES_ENABLED" envDefault:"true"`

	// HTTP server timeouts
	HTTPReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	HTTPWriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"10s"`
	HTTPIdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	// Capacity
	MaxConnections   int64   `env:"WS_MAX_CONNECTIONS" envDefault:"10000"`
	MaxGoroutines    int     `env:"WS_MAX_GOROUTINES" envDefault:"100000"`
	MemoryMaxPercent float64 `env:"WS_MEMORY_MAX_PERCENT" envDefault:"90.0"`

	// Connection rate limiting
	ConnRateLimitEnabled     bool    `env:"CONN_RATE_LIMIT_ENABLED" envDefault:"true"`
	ConnRateLimitIPBurst     int     `env:"CONN_RATE_LIMIT_IP_BURST" envDefault:"10"`
	ConnRateLimitIPRate      float64 `env:"CONN_RATE_LIMIT_IP_RATE" envDefault:"1.0"`
	ConnRateLimitGlobalBurst int     `env:"CONN_RATE_LIMIT_GLOBAL_BURST" envDefault:"300"`
	ConnRateLimitGlobalRate  float64 `env:"CONN_RATE_LIMIT_GLOBAL_RATE" envDefault:"50.0"`

	// Per-client inbound frame rate limiting
	ClientMessageBurst int     `env:"CLIENT_MESSAGE_BURST" envDefault:"100"`
	ClientMessageRate  float64 `env:"CLIENT_MESSAGE_RATE" envDefault:"10.0"`

	// NATS ingest (disabled when NATS_URL is empty)
	NATSUrl     string `env:"NATS_URL" envDefault:""`
	NATSSubject string `env:"NATS_SUBJECT" envDefault:"pusher.events"`

	// Shutdown
	ShutdownGracePeriod time.Duration `env:"SHUTDOWN_GRACE_PERIOD" envDefault:"30s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// LoadConfig reads configuration from .env file and environment variables
// Priority: ENV vars > .env file > defaults
//
// Optional logger parameter for structured logging. If nil, logs to stdout.
func LoadConfig(logger *zerolog.Logger) (*Config, error) {
	// .env is a development convenience; production uses real env vars.
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("No .env file found (using environment variables only)")
		}
	} else {
		if logger != nil {
			logger.Info().Msg("Loaded configuration from .env file")
		}
	}

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("WS_ADDR is required")
	}
	if c.AppKey == "" {
		return fmt.Errorf("PUSHER_APP_KEY is required")
	}
	if c.AppSecret == "" {
		return fmt.Errorf("PUSHER_APP_SECRET is required")
	}

	if c.MaxConnections < 1 {
		return fmt.Errorf("WS_MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}
	if c.MemoryMaxPercent <= 0 || c.MemoryMaxPercent > 100 {
		return fmt.Errorf("WS_MEMORY_MAX_PERCENT must be 0-100, got %.1f", c.MemoryMaxPercent)
	}
	if c.ClientMessageBurst < 1 {
		return fmt.Errorf("CLIENT_MESSAGE_BURST must be > 0, got %d", c.ClientMessageBurst)
	}
	if c.ClientMessageRate <= 0 {
		return fmt.Errorf("CLIENT_MESSAGE_RATE must be > 0, got %.1f", c.ClientMessageRate)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}

	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}

	return nil
}

// LogConfig logs configuration using structured logging (Loki-compatible)
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("addr", c.Addr).
		Uint32("app_id", c.AppID).
		Str("app_key", c.AppKey).
		Bool("client_messages_enabled", c.ClientMessagesEnabled).
		Int64("max_connections", c.MaxConnections).
		Int("max_goroutines", c.MaxGoroutines).
		Float64("memory_max_percent", c.MemoryMaxPercent).
		Bool("conn_rate_limit_enabled", c.ConnRateLimitEnabled).
		Int("client_message_burst", c.ClientMessageBurst).
		Float64("client_message_rate", c.ClientMessageRate).
		Str("nats_url", c.NATSUrl).
		Str("nats_subject", c.NATSSubject).
		Dur("shutdown_grace_period", c.ShutdownGracePeriod).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("Server configuration loaded")
}
