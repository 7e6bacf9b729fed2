// Package config provides configuration for the relay service.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

var validate = validator.New()

// Config holds the relay configuration.
type Config struct {
	// Server settings
	WSPort   int    `envconfig:"WS_PORT" default:"5001" validate:"min=1,max=65535"`  // Client WebSocket port
	HTTPPort int    `envconfig:"HTTP_PORT" default:"5000" validate:"min=1,max=65535"` // History API and /health
	Origin   string `envconfig:"ORIGIN" default:"http://localhost:3000" validate:"required"`

	// Storage
	StoreDriver  string        `envconfig:"STORE_DRIVER" default:"sqlite" validate:"oneof=sqlite badger postgres"`
	DatabaseURL  string        `envconfig:"DATABASE_URL" default:"file:gigchat.db?cache=shared&mode=rwc&_busy_timeout=5000"`
	BadgerPath   string        `envconfig:"BADGER_PATH" default:"data/badger"`
	StoreTimeout time.Duration `envconfig:"STORE_TIMEOUT" default:"5s" validate:"gt=0"`

	// Relay behaviour
	EchoToSender  bool   `envconfig:"ECHO_TO_SENDER" default:"true"`
	MaxTextLength int    `envconfig:"MAX_TEXT_LENGTH" default:"2000" validate:"min=0"`
	PolicyPath    string `envconfig:"POLICY_PATH"`

	// Auth settings. Empty disables token checks on /ws.
	JWTSecret string `envconfig:"AUTH_JWT_SECRET"`

	// WebSocket settings
	PingInterval   time.Duration `envconfig:"WS_PING_INTERVAL" default:"30s" validate:"gt=0"`
	WriteTimeout   time.Duration `envconfig:"WS_WRITE_TIMEOUT" default:"10s" validate:"gt=0"`
	ReadTimeout    time.Duration `envconfig:"WS_READ_TIMEOUT" default:"60s" validate:"gt=0"`
	MaxMessageSize int64         `envconfig:"WS_MAX_MESSAGE_SIZE" default:"65536" validate:"gt=0"`
	SendBuffer     int           `envconfig:"WS_SEND_BUFFER" default:"256" validate:"gt=0"`

	// Logging
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"console" validate:"oneof=console json"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.PingInterval >= c.ReadTimeout {
		return fmt.Errorf("invalid configuration: WS_PING_INTERVAL (%s) must be shorter than WS_READ_TIMEOUT (%s)", c.PingInterval, c.ReadTimeout)
	}
	if c.StoreDriver == "postgres" && !strings.HasPrefix(c.DatabaseURL, "postgres") {
		return fmt.Errorf("invalid configuration: STORE_DRIVER=postgres needs a postgres DATABASE_URL")
	}
	return nil
}
