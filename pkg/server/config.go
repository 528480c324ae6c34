package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/gorelay/pkg/protocol"
)

// Config holds server configuration.
//
// Values are layered: DefaultConfig, then an optional YAML file, then RELAY_*
// environment variables, then command-line flags applied by the caller.
type Config struct {
	ListenAddr    string `yaml:"listen_addr" env:"RELAY_LISTEN_ADDR"`       // WebSocket + /info bind address
	MetricsAddr   string `yaml:"metrics_addr" env:"RELAY_METRICS_ADDR"`     // /metrics and /healthz (empty = disabled)
	AdvertiseAddr string `yaml:"advertise_addr" env:"RELAY_ADVERTISE_ADDR"` // host:port printed in the connect key

	ServerName      string `yaml:"server_name" env:"RELAY_SERVER_NAME"`
	ServerPublicKey string `yaml:"server_public_key" env:"RELAY_SERVER_PUBLIC_KEY"`

	RegistrationTimeout time.Duration `yaml:"registration_timeout" env:"RELAY_REGISTRATION_TIMEOUT"`
	WriteTimeout        time.Duration `yaml:"write_timeout" env:"RELAY_WRITE_TIMEOUT"`
	SendQueueSize       int           `yaml:"send_queue_size" env:"RELAY_SEND_QUEUE_SIZE"` // outbound frames buffered per connection
	MaxFrameBytes       int64         `yaml:"max_frame_bytes" env:"RELAY_MAX_FRAME_BYTES"`

	MaxConcurrentDigests int `yaml:"max_concurrent_digests" env:"RELAY_MAX_CONCURRENT_DIGESTS"` // argon2 runs in flight; each holds 64 MiB

	AllowedOrigins []string `yaml:"allowed_origins,omitempty" env:"RELAY_ALLOWED_ORIGINS" envSeparator:","` // empty = any

	AuditDB        string        `yaml:"audit_db" env:"RELAY_AUDIT_DB"` // SQLite journal path (empty = in-memory)
	AuditRetention time.Duration `yaml:"audit_retention" env:"RELAY_AUDIT_RETENTION"`

	MetricsLogInterval time.Duration `yaml:"metrics_log_interval" env:"RELAY_METRICS_LOG_INTERVAL"` // 0 disables the periodic summary
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:           ":18080",
		MetricsAddr:          ":18081",
		ServerName:           "Messenger2 Server",
		ServerPublicKey:      "server-public-key-stub",
		RegistrationTimeout:  20 * time.Second,
		WriteTimeout:         10 * time.Second,
		SendQueueSize:        64,
		MaxFrameBytes:        protocol.MaxFrameSize,
		MaxConcurrentDigests: 4,
		MetricsLogInterval:   60 * time.Second,
	}
}

// LoadConfig builds the effective config from defaults, the YAML file at
// path (skipped when empty) and the environment.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // path from CLI flag
		if err != nil {
			return Config{}, fmt.Errorf("server: read config: %w", err)
		}
		if err := cfg.mergeYAML(data); err != nil {
			return Config{}, err
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("server: parse env: %w", err)
	}
	return cfg, nil
}

// mergeYAML overlays YAML data on cfg. Unknown keys are rejected.
func (c *Config) mergeYAML(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	// an empty file decodes to io.EOF and means no overrides
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("server: parse config: %w", err)
	}
	return nil
}

// YAML renders the config as YAML.
func (c Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(&c)
	if err != nil {
		return nil, fmt.Errorf("server: marshal config: %w", err)
	}
	return data, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.ListenAddr == "":
		return errors.New("server: listen_addr is required")
	case c.ServerName == "":
		return errors.New("server: server_name is required")
	case c.RegistrationTimeout <= 0:
		return fmt.Errorf("server: registration_timeout must be positive, got %s", c.RegistrationTimeout)
	case c.WriteTimeout <= 0:
		return fmt.Errorf("server: write_timeout must be positive, got %s", c.WriteTimeout)
	case c.SendQueueSize <= 0:
		return fmt.Errorf("server: send_queue_size must be positive, got %d", c.SendQueueSize)
	case c.MaxFrameBytes <= 0:
		return fmt.Errorf("server: max_frame_bytes must be positive, got %d", c.MaxFrameBytes)
	case c.MaxConcurrentDigests <= 0:
		return fmt.Errorf("server: max_concurrent_digests must be positive, got %d", c.MaxConcurrentDigests)
	case c.AuditRetention < 0:
		return fmt.Errorf("server: audit_retention must not be negative, got %s", c.AuditRetention)
	}
	return nil
}
