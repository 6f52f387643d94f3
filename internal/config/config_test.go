package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/tachyon/internal/core/observability/log"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestDecode(t *testing.T) {
	input := `
server:
  host: 127.0.0.1
  port: 9000
  read_timeout: 30s
log:
  level: debug
registry:
  shards: 4
prefabs:
  crate:
    Health: 100
    Name: crate
`
	cfg, err := Decode(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Addr())
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 10*time.Second, cfg.Server.WriteTimeout, "unset keys keep defaults")
	assert.Equal(t, "/tachyon", cfg.Server.Path)
	assert.Equal(t, log.LevelDebug, cfg.LogLevel())
	assert.Equal(t, 4, cfg.Registry.Shards)
	require.Contains(t, cfg.Prefabs, "crate")
	assert.Equal(t, 100, cfg.Prefabs["crate"]["Health"])
}

func TestDecode_Empty(t *testing.T) {
	cfg, err := Decode(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default().Server, cfg.Server)
}

func TestDecode_UnknownField(t *testing.T) {
	_, err := Decode(strings.NewReader("server:\n  colour: blue\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"port":           func(c *Config) { c.Server.Port = 0 },
		"path":           func(c *Config) { c.Server.Path = "tachyon" },
		"message size":   func(c *Config) { c.Server.MaxMessageSize = 0 },
		"log level":      func(c *Config) { c.Log.Level = "chatty" },
		"metrics path":   func(c *Config) { c.Metrics.Path = c.Server.Path },
		"quic cert pair": func(c *Config) { c.QUIC.Enabled = true; c.QUIC.CertFile = "cert.pem" },
		"shards":         func(c *Config) { c.Registry.Shards = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tachyon.yaml")
	require.NoError(t, os.WriteFile(path, []byte("quic:\n  enabled: true\n  port: 9443\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.QUIC.Enabled)
	assert.Equal(t, "0.0.0.0:9443", cfg.QUICAddr())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
