package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "gpu", cfg.Mode)
	assert.Equal(t, "auto", cfg.Runtime)
	assert.Empty(t, cfg.Metrics.Addr)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
mode: cpu
runtime: sim
device: 1
sim:
  devices: 4
logging:
  level: debug
  file: ~/syncmem.log
  console: false
metrics:
  addr: ":9100"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	home, _ := os.UserHomeDir()
	assert.Equal(t, "cpu", cfg.Mode)
	assert.Equal(t, "sim", cfg.Runtime)
	assert.Equal(t, 1, cfg.Device)
	assert.Equal(t, 4, cfg.Sim.Devices)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, filepath.Join(home, "syncmem.log"), cfg.Logging.File)
	assert.False(t, cfg.Logging.Console)
	assert.Equal(t, ":9100", cfg.Metrics.Addr)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, "runtime: sim\n")
	t.Setenv("SYNCMEM_RUNTIME", "none")
	t.Setenv("SYNCMEM_SIM_DEVICES", "3")
	t.Setenv("SYNCMEM_LOGGING_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "none", cfg.Runtime)
	assert.Equal(t, 3, cfg.Sim.Devices)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadWithBoundValues(t *testing.T) {
	path := writeConfig(t, "mode: gpu\n")

	v := viper.New()
	v.Set("mode", "cpu")

	cfg, err := LoadWith(v, path)
	require.NoError(t, err)
	assert.Equal(t, "cpu", cfg.Mode)
}

func TestLoadRejectsBrokenFile(t *testing.T) {
	path := writeConfig(t, "mode: [gpu\n")

	_, err := Load(path)
	assert.ErrorContains(t, err, "reading config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{"bad mode", func(c *Config) { c.Mode = "tpu" }, "mode must be one of"},
		{"bad runtime", func(c *Config) { c.Runtime = "opencl" }, "runtime must be one of"},
		{"negative device", func(c *Config) { c.Device = -1 }, "device must be non-negative"},
		{"no sim devices", func(c *Config) { c.Sim.Devices = 0 }, "sim.devices must be at least 1"},
		{"sim device out of range", func(c *Config) {
			c.Runtime = "sim"
			c.Device = 2
		}, "out of range"},
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level must be one of"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.errMsg)
		})
	}
}

func TestExpandPathsUsesEnvironment(t *testing.T) {
	t.Setenv("SYNCMEM_LOGDIR", "/var/log/syncmem")

	cfg := DefaultConfig()
	cfg.Logging.File = "$SYNCMEM_LOGDIR/run.log"
	cfg.ExpandPaths()
	assert.Equal(t, "/var/log/syncmem/run.log", cfg.Logging.File)
}
