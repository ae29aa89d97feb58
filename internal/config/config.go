// Package config loads server configuration from the environment.
//
// Variables use the HTTPTERM prefix followed by the section and field, for
// example HTTPTERM_SERVER_PORT or HTTPTERM_TERMINAL_MULTIPLEXER.
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix is the environment variable prefix.
const Prefix = "HTTPTERM"

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Terminal TerminalConfig
	Storage  StorageConfig
	Logging  LogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `split_words:"true" default:"0.0.0.0"`
	Port            int           `split_words:"true" default:"8866"`
	ShutdownTimeout time.Duration `split_words:"true" default:"10s"`
	CORSOrigins     []string      `split_words:"true" default:"*"`
}

// TerminalConfig holds session and multiplexer configuration.
type TerminalConfig struct {
	Multiplexer      string        `split_words:"true" default:"tmux"`
	TmuxBinary       string        `split_words:"true" default:"tmux"`
	Command          []string      `split_words:"true" default:"/bin/sh"`
	Term             string        `split_words:"true" default:"xterm-256color"`
	ReadChunk        int           `split_words:"true" default:"4096"`
	MaxDrainBytes    int           `split_words:"true" default:"1048576"`
	ScrollbackBytes  int           `split_words:"true" default:"65536"`
	TerminateTimeout time.Duration `split_words:"true" default:"1s"`
	CommandTimeout   time.Duration `split_words:"true" default:"5s"`
}

// StorageConfig holds persistence configuration. An empty DBPath disables
// session history and an empty RecordDir disables recordings.
type StorageConfig struct {
	DBPath    string `split_words:"true" default:"data/sessions.db"`
	RecordDir string `split_words:"true"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `split_words:"true" default:"info"`
	Development bool   `split_words:"true" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	switch c.Terminal.Multiplexer {
	case "tmux", "direct":
	default:
		return fmt.Errorf("invalid multiplexer %q", c.Terminal.Multiplexer)
	}
	if c.Terminal.ReadChunk <= 0 {
		return fmt.Errorf("read chunk must be positive, got %d", c.Terminal.ReadChunk)
	}
	if c.Terminal.MaxDrainBytes < c.Terminal.ReadChunk {
		return fmt.Errorf("max drain bytes %d is below read chunk %d", c.Terminal.MaxDrainBytes, c.Terminal.ReadChunk)
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}
