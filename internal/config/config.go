// Package config loads chatd/authd configuration from the environment,
// following the same env-tag/.env/Validate discipline the rest of the
// service fleet uses.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// ChatConfig holds everything the chat service (cmd/chatd) needs: the
// WebSocket/REST listen address, the event bus, the wide-column store, and
// the fan-out/resource tuning knobs.
type ChatConfig struct {
	Addr string `env:"CHAT_ADDR" envDefault:":8080"`

	KafkaBrokers  string `env:"KAFKA_BROKERS" envDefault:"localhost:19092"`
	KafkaTopic    string `env:"KAFKA_TOPIC" envDefault:"chat_messages"`
	ConsumerGroup string `env:"KAFKA_CONSUMER_GROUP" envDefault:"chat-service-group"`
	ProducerTimeout time.Duration `env:"KAFKA_PRODUCER_TIMEOUT" envDefault:"5s"`

	ScyllaHosts    string `env:"SCYLLA_HOSTS" envDefault:"127.0.0.1"`
	ScyllaKeyspace string `env:"SCYLLA_KEYSPACE" envDefault:"chatcore"`
	AutoMigrate    bool   `env:"CHAT_AUTO_MIGRATE" envDefault:"false"`

	JWTSecret string `env:"JWT_SECRET,required"`

	RoomCapacity     int `env:"CHAT_ROOM_CAPACITY" envDefault:"256"`
	MaxConnections   int `env:"CHAT_MAX_CONNECTIONS" envDefault:"10000"`
	MaxGoroutines    int `env:"CHAT_MAX_GOROUTINES" envDefault:"20000"`
	MaxBroadcastRate int `env:"CHAT_MAX_BROADCAST_RATE" envDefault:"2000"`
	MaxConsumeRate   int `env:"CHAT_MAX_CONSUME_RATE" envDefault:"2000"`
	MaxInboundRate   int `env:"CHAT_MAX_INBOUND_RATE" envDefault:"20"`

	CPULimit           float64 `env:"CHAT_CPU_LIMIT" envDefault:"1.0"`
	MemoryLimit        int64   `env:"CHAT_MEMORY_LIMIT" envDefault:"536870912"`
	CPURejectThreshold float64 `env:"CHAT_CPU_REJECT_THRESHOLD" envDefault:"75.0"`
	CPUPauseThreshold  float64 `env:"CHAT_CPU_PAUSE_THRESHOLD" envDefault:"80.0"`

	MetricsInterval time.Duration `env:"METRICS_INTERVAL" envDefault:"15s"`
	ShutdownGrace   time.Duration `env:"SHUTDOWN_GRACE" envDefault:"10s"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// AuthConfig holds everything the auth service (cmd/authd) needs.
type AuthConfig struct {
	Addr string `env:"AUTH_ADDR" envDefault:":8081"`

	ScyllaHosts    string `env:"SCYLLA_HOSTS" envDefault:"127.0.0.1"`
	ScyllaKeyspace string `env:"SCYLLA_KEYSPACE" envDefault:"chatcore"`
	AutoMigrate    bool   `env:"AUTH_AUTO_MIGRATE" envDefault:"false"`

	JWTSecret string        `env:"JWT_SECRET,required"`
	TokenTTL  time.Duration `env:"AUTH_TOKEN_TTL" envDefault:"24h"`

	BcryptCost int `env:"AUTH_BCRYPT_COST" envDefault:"10"`

	ShutdownGrace time.Duration `env:"SHUTDOWN_GRACE" envDefault:"10s"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// LoadChatConfig reads .env (if present) then the environment into a
// ChatConfig, validating before returning it.
func LoadChatConfig(logger *zerolog.Logger) (*ChatConfig, error) {
	loadDotenv(logger)

	cfg := &ChatConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse chat config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate chat config: %w", err)
	}
	return cfg, nil
}

// LoadAuthConfig reads .env (if present) then the environment into an
// AuthConfig, validating before returning it.
func LoadAuthConfig(logger *zerolog.Logger) (*AuthConfig, error) {
	loadDotenv(logger)

	cfg := &AuthConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse auth config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate auth config: %w", err)
	}
	return cfg, nil
}

func loadDotenv(logger *zerolog.Logger) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}
}

func validLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

func validLogFormat(format string) bool {
	switch format {
	case "json", "console":
		return true
	}
	return false
}

// Validate checks ChatConfig for internal consistency before the server
// starts accepting connections.
func (c *ChatConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("CHAT_ADDR is required")
	}
	if c.RoomCapacity < 1 {
		return fmt.Errorf("CHAT_ROOM_CAPACITY must be > 0, got %d", c.RoomCapacity)
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("CHAT_MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}
	if c.CPURejectThreshold < 0 || c.CPURejectThreshold > 100 {
		return fmt.Errorf("CHAT_CPU_REJECT_THRESHOLD must be 0-100, got %.1f", c.CPURejectThreshold)
	}
	if c.CPUPauseThreshold < 0 || c.CPUPauseThreshold > 100 {
		return fmt.Errorf("CHAT_CPU_PAUSE_THRESHOLD must be 0-100, got %.1f", c.CPUPauseThreshold)
	}
	if c.CPUPauseThreshold < c.CPURejectThreshold {
		return fmt.Errorf("CHAT_CPU_PAUSE_THRESHOLD (%.1f) must be >= CHAT_CPU_REJECT_THRESHOLD (%.1f)",
			c.CPUPauseThreshold, c.CPURejectThreshold)
	}
	if !validLogLevel(c.LogLevel) {
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error (got %s)", c.LogLevel)
	}
	if !validLogFormat(c.LogFormat) {
		return fmt.Errorf("LOG_FORMAT must be one of json, console (got %s)", c.LogFormat)
	}
	return nil
}

// Validate checks AuthConfig for internal consistency before the server
// starts accepting connections.
func (c *AuthConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("AUTH_ADDR is required")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("AUTH_BCRYPT_COST must be 4-31, got %d", c.BcryptCost)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("AUTH_TOKEN_TTL must be > 0, got %s", c.TokenTTL)
	}
	if !validLogLevel(c.LogLevel) {
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error (got %s)", c.LogLevel)
	}
	if !validLogFormat(c.LogFormat) {
		return fmt.Errorf("LOG_FORMAT must be one of json, console (got %s)", c.LogFormat)
	}
	return nil
}
