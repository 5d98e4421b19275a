package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the full runtime configuration, loaded from MAJLIS_*
// environment variables with production defaults.
type Config struct {
	Host string `envconfig:"HOST" default:"0.0.0.0"`
	Port int    `envconfig:"PORT" default:"8080"`

	DatabasePath    string        `envconfig:"DATABASE_PATH" default:"./majlis.db"`
	DatabaseTimeout time.Duration `envconfig:"DATABASE_TIMEOUT" default:"30s"`
	MaxConnections  int           `envconfig:"DATABASE_MAX_CONNECTIONS" default:"10"`

	HistoryLimit   int           `envconfig:"HISTORY_LIMIT" default:"50"`
	GatewayTimeout time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"10s"`

	HTTPReadTimeout  time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"30s"`
	HTTPWriteTimeout time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"30s"`

	PingInterval time.Duration `envconfig:"PING_INTERVAL" default:"25s"`
	PongWait     time.Duration `envconfig:"PONG_WAIT" default:"60s"`
	SendBuffer   int           `envconfig:"SEND_BUFFER" default:"100"`
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("majlis", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that would fail at runtime.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.DatabaseTimeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("database max connections must be positive")
	}
	if c.HistoryLimit <= 0 || c.HistoryLimit > 500 {
		return fmt.Errorf("history limit must be between 1 and 500, got %d", c.HistoryLimit)
	}
	if c.GatewayTimeout <= 0 {
		return fmt.Errorf("gateway timeout must be positive")
	}
	if c.HTTPReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	if c.HTTPWriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}
	if c.PingInterval <= 0 {
		return fmt.Errorf("ping interval must be positive")
	}
	if c.PongWait <= c.PingInterval {
		return fmt.Errorf("pong wait must exceed ping interval")
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("send buffer must be positive")
	}
	return nil
}
