// Package config loads service configuration from an optional YAML file
// overridden by QUANTLAB_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix is the environment variable prefix for overrides
const EnvPrefix = "QUANTLAB"

// Config is the root service configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Executor  ExecutorConfig  `yaml:"executor" envconfig:"EXECUTOR"`
	Bridge    BridgeConfig    `yaml:"bridge" envconfig:"BRIDGE"`
	RateLimit RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	WebSocket WebSocketConfig `yaml:"websocket" envconfig:"WEBSOCKET"`
}

// ServerConfig holds the HTTP server settings
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// LoggingConfig holds the slog settings
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"stdout"` // stdout, file, both
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/quantlab.log"`
}

// ExecutorConfig holds the remote training executor connection settings
type ExecutorConfig struct {
	BaseURL string        `yaml:"base_url" envconfig:"BASE_URL" default:"http://localhost:9200"`
	Token   string        `yaml:"token" envconfig:"TOKEN"`
	Timeout time.Duration `yaml:"timeout" envconfig:"TIMEOUT" default:"30s"`
}

// BridgeConfig tunes the live-status bridge poll loop
type BridgeConfig struct {
	PollInterval     time.Duration `yaml:"poll_interval" envconfig:"POLL_INTERVAL" default:"5s"`
	FetchTimeout     time.Duration `yaml:"fetch_timeout" envconfig:"FETCH_TIMEOUT" default:"10s"`
	MaxFetchFailures int           `yaml:"max_fetch_failures" envconfig:"MAX_FETCH_FAILURES" default:"5"`
}

// RateLimitConfig tunes the API token bucket
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" default:"100"`
	Burst   int     `yaml:"burst" envconfig:"BURST" default:"200"`
}

// WebSocketConfig tunes the status stream connections
type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE" default:"1024"`
	WriteBufferSize int           `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE" default:"1024"`
	PingPeriod      time.Duration `yaml:"ping_period" envconfig:"PING_PERIOD" default:"54s"`
	PongWait        time.Duration `yaml:"pong_wait" envconfig:"PONG_WAIT" default:"60s"`
}

// Load reads configuration: struct-tag defaults, then the YAML file at path
// (skipped when path is empty or missing), then explicitly set environment
// variables.
func Load(path string) (*Config, error) {
	var cfg Config

	// envconfig applies the default tags even before any file is read
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// Environment-only configuration is fine.
		default:
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides copies explicitly set environment variables over the
// file-loaded configuration. Running envconfig.Process directly against cfg
// here would re-apply every default tag for absent variables and clobber
// file values, so the environment is decoded into a scratch struct and only
// the variables actually present are carried over.
func applyEnvOverrides(cfg *Config) error {
	var env Config
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return err
	}

	override := func(key string, apply func()) {
		if _, ok := os.LookupEnv(EnvPrefix + "_" + key); ok {
			apply()
		}
	}

	override("SERVER_PORT", func() { cfg.Server.Port = env.Server.Port })
	override("SERVER_READ_TIMEOUT", func() { cfg.Server.ReadTimeout = env.Server.ReadTimeout })
	override("SERVER_WRITE_TIMEOUT", func() { cfg.Server.WriteTimeout = env.Server.WriteTimeout })
	override("SERVER_IDLE_TIMEOUT", func() { cfg.Server.IdleTimeout = env.Server.IdleTimeout })
	override("SERVER_SHUTDOWN_TIMEOUT", func() { cfg.Server.ShutdownTimeout = env.Server.ShutdownTimeout })

	override("LOGGING_LEVEL", func() { cfg.Logging.Level = env.Logging.Level })
	override("LOGGING_OUTPUT", func() { cfg.Logging.Output = env.Logging.Output })
	override("LOGGING_FILE_PATH", func() { cfg.Logging.FilePath = env.Logging.FilePath })

	override("EXECUTOR_BASE_URL", func() { cfg.Executor.BaseURL = env.Executor.BaseURL })
	override("EXECUTOR_TOKEN", func() { cfg.Executor.Token = env.Executor.Token })
	override("EXECUTOR_TIMEOUT", func() { cfg.Executor.Timeout = env.Executor.Timeout })

	override("BRIDGE_POLL_INTERVAL", func() { cfg.Bridge.PollInterval = env.Bridge.PollInterval })
	override("BRIDGE_FETCH_TIMEOUT", func() { cfg.Bridge.FetchTimeout = env.Bridge.FetchTimeout })
	override("BRIDGE_MAX_FETCH_FAILURES", func() { cfg.Bridge.MaxFetchFailures = env.Bridge.MaxFetchFailures })

	override("RATE_LIMIT_ENABLED", func() { cfg.RateLimit.Enabled = env.RateLimit.Enabled })
	override("RATE_LIMIT_RPS", func() { cfg.RateLimit.RPS = env.RateLimit.RPS })
	override("RATE_LIMIT_BURST", func() { cfg.RateLimit.Burst = env.RateLimit.Burst })

	override("WEBSOCKET_READ_BUFFER_SIZE", func() { cfg.WebSocket.ReadBufferSize = env.WebSocket.ReadBufferSize })
	override("WEBSOCKET_WRITE_BUFFER_SIZE", func() { cfg.WebSocket.WriteBufferSize = env.WebSocket.WriteBufferSize })
	override("WEBSOCKET_PING_PERIOD", func() { cfg.WebSocket.PingPeriod = env.WebSocket.PingPeriod })
	override("WEBSOCKET_PONG_WAIT", func() { cfg.WebSocket.PongWait = env.WebSocket.PongWait })

	return nil
}

// Validate checks configuration invariants
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	switch c.Logging.Output {
	case "stdout", "file", "both":
	default:
		return fmt.Errorf("logging.output must be stdout, file or both, got %q", c.Logging.Output)
	}
	if c.Logging.Output != "stdout" && c.Logging.FilePath == "" {
		return fmt.Errorf("logging.file_path is required when logging to a file")
	}
	if c.Executor.BaseURL == "" {
		return fmt.Errorf("executor.base_url is required")
	}
	if c.Bridge.PollInterval <= 0 {
		return fmt.Errorf("bridge.poll_interval must be positive, got %s", c.Bridge.PollInterval)
	}
	if c.Bridge.MaxFetchFailures < 1 {
		return fmt.Errorf("bridge.max_fetch_failures must be at least 1, got %d", c.Bridge.MaxFetchFailures)
	}
	if c.RateLimit.Enabled && c.RateLimit.RPS <= 0 {
		return fmt.Errorf("rate_limit.rps must be positive when enabled, got %f", c.RateLimit.RPS)
	}
	if c.WebSocket.PingPeriod <= 0 {
		return fmt.Errorf("websocket.ping_period must be positive, got %s", c.WebSocket.PingPeriod)
	}
	if c.WebSocket.PongWait <= c.WebSocket.PingPeriod {
		return fmt.Errorf("websocket.pong_wait must exceed ping_period, got %s <= %s",
			c.WebSocket.PongWait, c.WebSocket.PingPeriod)
	}
	return nil
}
