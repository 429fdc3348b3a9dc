// Package config loads the islandsync YAML configuration and the island
// manifest.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/zeusync/islandsync/internal/core/observability/log"
	"github.com/zeusync/islandsync/internal/core/protocol"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the root of the configuration file.
type Config struct {
	Transport TransportConfig `yaml:"transport"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Session   SessionConfig   `yaml:"session"`
	Islands   IslandsConfig   `yaml:"islands"`
}

type TransportConfig struct {
	Kind                 protocol.TransportType `yaml:"kind"`
	Addr                 string                 `yaml:"addr"`
	Path                 string                 `yaml:"path"`
	URL                  string                 `yaml:"url,omitempty"`
	ConnectTimeout       time.Duration          `yaml:"connect_timeout"`
	ReadTimeout          time.Duration          `yaml:"read_timeout"`
	WriteTimeout         time.Duration          `yaml:"write_timeout"`
	MaxMessageSize       int                    `yaml:"max_message_size"`
	ReconnectInterval    time.Duration          `yaml:"reconnect_interval"`
	MaxReconnectInterval time.Duration          `yaml:"max_reconnect_interval"`
	ReconnectAttempts    int                    `yaml:"reconnect_attempts"`
	// InsecureSkipVerify accepts self-signed QUIC certificates.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type MetricsConfig struct {
	// Listen is the address of the metrics and debug HTTP server. Empty
	// disables it.
	Listen    string `yaml:"listen"`
	Namespace string `yaml:"namespace"`
}

type SessionConfig struct {
	GlobalsEnabled     bool          `yaml:"globals_enabled"`
	DefaultStreamLimit int           `yaml:"default_stream_limit"`
	RateLimit          int           `yaml:"rate_limit"`
	RateWindow         time.Duration `yaml:"rate_window"`
	ValidateSchema     bool          `yaml:"validate_schema"`
}

type IslandsConfig struct {
	Manifest string `yaml:"manifest"`
	Watch    bool   `yaml:"watch"`
}

// Default returns the configuration used for absent keys.
func Default() Config {
	transport := protocol.DefaultConfig()
	return Config{
		Transport: TransportConfig{
			Kind:                 protocol.TransportWebSocket,
			Addr:                 "localhost:8080",
			Path:                 transport.Path,
			ConnectTimeout:       transport.DialTimeout,
			ReadTimeout:          transport.ReadTimeout,
			WriteTimeout:         transport.WriteTimeout,
			MaxMessageSize:       transport.MaxMessageSize,
			ReconnectInterval:    500 * time.Millisecond,
			MaxReconnectInterval: 30 * time.Second,
			ReconnectAttempts:    10,
		},
		Log: LogConfig{Level: log.LevelInfo.String()},
		Metrics: MetricsConfig{
			Listen:    "127.0.0.1:9090",
			Namespace: "islandsync",
		},
		Session: SessionConfig{
			GlobalsEnabled: true,
			RateWindow:     time.Second,
			ValidateSchema: true,
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	t := c.Transport
	switch t.Kind {
	case protocol.TransportWebSocket, protocol.TransportQUIC:
	default:
		return errors.Wrapf(ErrInvalidConfig, "transport.kind %q", t.Kind)
	}
	if t.Addr == "" && t.URL == "" {
		return errors.Wrap(ErrInvalidConfig, "transport.addr is empty")
	}
	if t.MaxMessageSize <= 0 {
		return errors.Wrap(ErrInvalidConfig, "transport.max_message_size must be positive")
	}
	if t.ReconnectInterval <= 0 || t.MaxReconnectInterval < t.ReconnectInterval {
		return errors.Wrap(ErrInvalidConfig, "transport reconnect intervals are inconsistent")
	}
	if t.ReconnectAttempts < 0 {
		return errors.Wrap(ErrInvalidConfig, "transport.reconnect_attempts is negative")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "warning", "error", "silent", "off":
	default:
		return errors.Wrapf(ErrInvalidConfig, "log.level %q", c.Log.Level)
	}
	if c.Session.DefaultStreamLimit < 0 {
		return errors.Wrap(ErrInvalidConfig, "session.default_stream_limit is negative")
	}
	if c.Session.RateLimit < 0 || (c.Session.RateLimit > 0 && c.Session.RateWindow <= 0) {
		return errors.Wrap(ErrInvalidConfig, "session rate limit needs a positive window")
	}
	if c.Islands.Watch && c.Islands.Manifest == "" {
		return errors.Wrap(ErrInvalidConfig, "islands.watch needs islands.manifest")
	}
	return nil
}

// TransportSettings converts the transport section for the protocol package.
func (c Config) TransportSettings() protocol.Config {
	return protocol.Config{
		ReadTimeout:    c.Transport.ReadTimeout,
		WriteTimeout:   c.Transport.WriteTimeout,
		DialTimeout:    c.Transport.ConnectTimeout,
		MaxMessageSize: c.Transport.MaxMessageSize,
		Path:           c.Transport.Path,
	}
}

// ServerAddr is the address handed to the transport's Dial.
func (c Config) ServerAddr() string {
	if c.Transport.URL != "" {
		return c.Transport.URL
	}
	return c.Transport.Addr
}

// LogLevel returns the parsed log level.
func (c Config) LogLevel() log.Level {
	return log.ParseLevel(c.Log.Level)
}
