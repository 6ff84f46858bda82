package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/proxywatch/pkg/backoff"
	"github.com/cuemby/proxywatch/pkg/buffer"
	"github.com/cuemby/proxywatch/pkg/logtail"
	"gopkg.in/yaml.v3"
)

// DefaultAPIURL is used when neither the config file, the flags nor the
// saved preferences name a panel.
const DefaultAPIURL = "http://localhost:8000/api/v1"

// Config is the proxywatch configuration file
type Config struct {
	APIURL      string `yaml:"api_url"`
	LogLevel    string `yaml:"log_level"`
	JSONLogs    bool   `yaml:"json_logs"`
	MetricsAddr string `yaml:"metrics_addr,omitempty"`
	StateDir    string `yaml:"state_dir"`

	Reconnect ReconnectConfig `yaml:"reconnect"`
	Buffer    BufferConfig    `yaml:"buffer"`
	Health    HealthConfig    `yaml:"health"`
}

// ReconnectConfig is the stream reconnection policy
type ReconnectConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// BufferConfig caps what sessions keep in memory
type BufferConfig struct {
	MaxLines        int `yaml:"max_lines"`
	MaxProgressLogs int `yaml:"max_progress_logs"`
	InitialLines    int `yaml:"initial_lines"`
}

// HealthConfig is the panel probe schedule
type HealthConfig struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
	Retries  int           `yaml:"retries"`
}

// Default returns the built-in configuration
func Default() *Config {
	p := backoff.DefaultPolicy()
	return &Config{
		APIURL:   DefaultAPIURL,
		LogLevel: "info",
		StateDir: DefaultStateDir(),
		Reconnect: ReconnectConfig{
			BaseDelay:   p.BaseDelay,
			MaxDelay:    p.MaxDelay,
			MaxAttempts: p.MaxAttempts,
		},
		Buffer: BufferConfig{
			MaxLines:        buffer.DefaultMaxItems,
			MaxProgressLogs: buffer.DefaultMaxItems,
			InitialLines:    logtail.DefaultInitialLines,
		},
		Health: HealthConfig{
			Interval: 30 * time.Second,
			Timeout:  10 * time.Second,
			Retries:  3,
		},
	}
}

// DefaultStateDir returns ~/.proxywatch, or .proxywatch when the home
// directory is unknown.
func DefaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".proxywatch"
	}
	return filepath.Join(home, ".proxywatch")
}

// DefaultPath returns the config file looked up when --config is not given
func DefaultPath() string {
	return filepath.Join(DefaultStateDir(), "config.yaml")
}

// Load reads the YAML file at path over the defaults. A missing file is not
// an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration as YAML
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api_url must be an http(s) URL with a host, got %q", c.APIURL)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error, got %q", c.LogLevel)
	}

	switch {
	case c.Reconnect.BaseDelay <= 0:
		return fmt.Errorf("reconnect.base_delay must be positive")
	case c.Reconnect.MaxDelay < c.Reconnect.BaseDelay:
		return fmt.Errorf("reconnect.max_delay must not be less than reconnect.base_delay")
	case c.Reconnect.MaxAttempts <= 0:
		return fmt.Errorf("reconnect.max_attempts must be positive")
	case c.Buffer.MaxLines <= 0:
		return fmt.Errorf("buffer.max_lines must be positive")
	case c.Buffer.MaxProgressLogs <= 0:
		return fmt.Errorf("buffer.max_progress_logs must be positive")
	case c.Buffer.InitialLines < 0:
		return fmt.Errorf("buffer.initial_lines must not be negative")
	case c.Health.Interval <= 0:
		return fmt.Errorf("health.interval must be positive")
	}
	return nil
}

// Policy returns the reconnection policy
func (c *Config) Policy() backoff.Policy {
	return backoff.Policy{
		BaseDelay:   c.Reconnect.BaseDelay,
		MaxDelay:    c.Reconnect.MaxDelay,
		MaxAttempts: c.Reconnect.MaxAttempts,
	}
}
