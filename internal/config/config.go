// Package config loads the server configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zeusync/tachyon/internal/core/observability/log"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	QUIC     QUICConfig     `yaml:"quic"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Registry RegistryConfig `yaml:"registry"`

	// Prefabs maps a prefab handle to the components an instance starts with.
	Prefabs map[string]map[string]any `yaml:"prefabs"`
}

type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	Path           string        `yaml:"path"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxMessageSize int64         `yaml:"max_message_size"`
}

type QUICConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Port     int    `yaml:"port"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type RegistryConfig struct {
	Shards int `yaml:"shards"`
}

// Default returns a configuration that passes Validate.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			Path:           "/tachyon",
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   10 * time.Second,
			MaxMessageSize: 1 << 20,
		},
		QUIC: QUICConfig{
			Port: 8443,
		},
		Log: LogConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Registry: RegistryConfig{
			Shards: 16,
		},
		Prefabs: map[string]map[string]any{},
	}
}

// Load reads and validates the file at path. Missing keys keep their defaults.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	return Decode(f)
}

// Decode reads YAML from r on top of Default and validates the result.
func Decode(r io.Reader) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and cross-field constraints.
func (c Config) Validate() error {
	var problems []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		problems = append(problems, fmt.Sprintf("server.path %q must start with /", c.Server.Path))
	}
	if c.Server.MaxMessageSize <= 0 {
		problems = append(problems, "server.max_message_size must be positive")
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		problems = append(problems, "server timeouts must not be negative")
	}
	if c.QUIC.Enabled {
		if c.QUIC.Port <= 0 || c.QUIC.Port > 65535 {
			problems = append(problems, fmt.Sprintf("quic.port %d out of range", c.QUIC.Port))
		}
		if (c.QUIC.CertFile == "") != (c.QUIC.KeyFile == "") {
			problems = append(problems, "quic.cert_file and quic.key_file must be set together")
		}
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Metrics.Enabled {
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			problems = append(problems, fmt.Sprintf("metrics.path %q must start with /", c.Metrics.Path))
		} else if c.Metrics.Path == c.Server.Path {
			problems = append(problems, "metrics.path must differ from server.path")
		}
	}
	if c.Registry.Shards < 0 {
		problems = append(problems, "registry.shards must not be negative")
	}
	for name := range c.Prefabs {
		if name == "" {
			problems = append(problems, "prefab handles must not be empty")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Addr is the websocket listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// QUICAddr is the QUIC listen address.
func (c Config) QUICAddr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.QUIC.Port))
}

// LogLevel returns the parsed log level.
func (c Config) LogLevel() log.Level {
	level, _ := log.ParseLevel(c.Log.Level)
	return level
}
