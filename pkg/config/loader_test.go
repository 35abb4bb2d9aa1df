package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Name    string        `mapstructure:"name"`
	Port    int           `mapstructure:"port"`
	Timeout time.Duration `mapstructure:"timeout"`
	Nested  struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"nested"`
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
name: battlestream
port: 8080
timeout: 30s
nested:
  enabled: true
`)

	var cfg testConfig
	require.NoError(t, Load(path, &cfg))
	assert.Equal(t, "battlestream", cfg.Name)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.True(t, cfg.Nested.Enabled)
}

func TestLoad_MissingFile(t *testing.T) {
	var cfg testConfig
	assert.Error(t, Load("does-not-exist.yaml", &cfg))
}

func TestLoader_UnmarshalKey(t *testing.T) {
	path := writeConfig(t, `
nested:
  enabled: true
`)

	l := NewLoader()
	require.NoError(t, l.LoadFile(path))

	var nested struct {
		Enabled bool `mapstructure:"enabled"`
	}
	require.NoError(t, l.UnmarshalKey("nested", &nested))
	assert.True(t, nested.Enabled)
}
