package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Mode    string        `mapstructure:"mode"`
	Runtime string        `mapstructure:"runtime"`
	Device  int           `mapstructure:"device"`
	Sim     SimConfig     `mapstructure:"sim"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type SimConfig struct {
	Devices int `mapstructure:"devices"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	File    string `mapstructure:"file"`
	Console bool   `mapstructure:"console"`
}

// MetricsConfig controls the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

var (
	validModes    = []string{"cpu", "gpu"}
	validRuntimes = []string{"auto", "sim", "cuda", "none"}
	validLevels   = []string{"debug", "info", "warn", "error"}
)

// DefaultConfig returns configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Mode:    "gpu",
		Runtime: "auto",
		Device:  0,
		Sim: SimConfig{
			Devices: 2,
		},
		Logging: LoggingConfig{
			Level:   "info",
			File:    "",
			Console: true,
		},
	}
}

// Load loads configuration from file, environment, and defaults
func Load(cfgFile string) (*Config, error) {
	return LoadWith(viper.New(), cfgFile)
}

// LoadWith loads configuration into v, which may already carry bound flags
func LoadWith(v *viper.Viper, cfgFile string) (*Config, error) {
	cfg := DefaultConfig()
	setDefaults(v, cfg)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("finding home directory: %w", err)
		}

		v.AddConfigPath(filepath.Join(home, ".syncmem"))
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("SYNCMEM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.ExpandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if !slices.Contains(validModes, c.Mode) {
		return fmt.Errorf("mode must be one of: %v", validModes)
	}

	if !slices.Contains(validRuntimes, c.Runtime) {
		return fmt.Errorf("runtime must be one of: %v", validRuntimes)
	}

	if c.Device < 0 {
		return errors.New("device must be non-negative")
	}

	if c.Sim.Devices < 1 {
		return errors.New("sim.devices must be at least 1")
	}

	if c.Runtime == "sim" && c.Device >= c.Sim.Devices {
		return fmt.Errorf("device %d out of range for %d simulated devices", c.Device, c.Sim.Devices)
	}

	if !slices.Contains(validLevels, c.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	return nil
}

// ExpandPaths expands ~ and environment variables in paths
func (c *Config) ExpandPaths() {
	c.Logging.File = expandPath(c.Logging.File)
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return os.ExpandEnv(path)
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("mode", cfg.Mode)
	v.SetDefault("runtime", cfg.Runtime)
	v.SetDefault("device", cfg.Device)

	v.SetDefault("sim.devices", cfg.Sim.Devices)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.console", cfg.Logging.Console)

	v.SetDefault("metrics.addr", cfg.Metrics.Addr)
}
