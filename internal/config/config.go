package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config holds the daemon configuration.
type Config struct {
	ListenAddr  string        `yaml:"listen_addr"`
	MetricsAddr string        `yaml:"metrics_addr"`
	Timeout     time.Duration `yaml:"timeout"`
	Period      time.Duration `yaml:"period"`
	Nonlazy     bool          `yaml:"nonlazy"`
	MaxRetries  int           `yaml:"max_retries"`
	LogLevel    string        `yaml:"log_level"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		ListenAddr: "127.0.0.1:50061",
		Timeout:    time.Hour,
		Period:     10 * time.Minute,
		Nonlazy:    true,
		MaxRetries: 5,
		LogLevel:   "info",
	}
}

// Load reads a YAML file over the defaults. Keys missing from the file keep
// their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := Parse(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML into cfg and validates the result.
func Parse(raw []byte, cfg *Config) error {
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return cfg.Validate()
}

// Validate checks the configuration for values the daemon cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr must not be empty"))
	}
	if c.Timeout < time.Second {
		errs = append(errs, fmt.Errorf("timeout must be at least 1s, got %s", c.Timeout))
	}
	if c.Period < 0 || c.Period > c.Timeout {
		errs = append(errs, fmt.Errorf("period must be between 0 and timeout, got %s", c.Period))
	}
	if c.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("max_retries must be at least 1, got %d", c.MaxRetries))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Level parses LogLevel.
func (c Config) Level() (zapcore.Level, error) {
	lvl, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return lvl, fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return lvl, nil
}
