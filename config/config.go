// Package config loads the YAML configuration used by the bridge CLI.
//
// Example configuration:
//
//	bridge:
//	  url: ws://localhost:8080/bridge
//	  call_timeout: 60s
//	  id_prefix: req
//
//	host:
//	  addr: ":8080"
//	  path: /bridge
//	  metrics_path: /metrics
//	  rate_limit:
//	    rps: 50
//	    burst: 100
//
//	log:
//	  level: info
//	  format: json
//
// Values may reference the environment as ${VAR} or ${VAR:-default}.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultURL         = "ws://localhost:8080/bridge"
	DefaultAddr        = ":8080"
	DefaultPath        = "/bridge"
	DefaultMetricsPath = "/metrics"
	DefaultCallTimeout = 60 * time.Second
	DefaultIDPrefix    = "req"
)

type Config struct {
	Bridge BridgeConfig `yaml:"bridge"`
	Host   HostConfig   `yaml:"host"`
	Log    LogConfig    `yaml:"log"`
}

// BridgeConfig configures the mini-app side.
type BridgeConfig struct {
	// URL is the host websocket endpoint the CLI dials.
	URL string `yaml:"url"`

	// CallTimeout bounds how long a call waits for its response.
	CallTimeout Duration `yaml:"call_timeout"`

	// IDPrefix is prepended to every request id.
	IDPrefix string `yaml:"id_prefix"`
}

// HostConfig configures the reference host served by "serve".
type HostConfig struct {
	Addr        string          `yaml:"addr"`
	Path        string          `yaml:"path"`
	MetricsPath string          `yaml:"metrics_path"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`

	// Params are pushed to each mini-app as a paramsUpdated event once it
	// reports ready.
	Params map[string]any `yaml:"params"`
}

// RateLimitConfig caps calls per connection. Zero values disable the limit.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses YAML, expands environment references, applies defaults and
// validates the result.
func Parse(data []byte) (*Config, error) {
	expanded, err := expandEnvVars(string(data))
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Bridge.URL == "" {
		c.Bridge.URL = DefaultURL
	}
	if c.Bridge.CallTimeout == 0 {
		c.Bridge.CallTimeout = Duration(DefaultCallTimeout)
	}
	if c.Bridge.IDPrefix == "" {
		c.Bridge.IDPrefix = DefaultIDPrefix
	}
	if c.Host.Addr == "" {
		c.Host.Addr = DefaultAddr
	}
	if c.Host.Path == "" {
		c.Host.Path = DefaultPath
	}
	if c.Host.MetricsPath == "" {
		c.Host.MetricsPath = DefaultMetricsPath
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	if !strings.HasPrefix(c.Bridge.URL, "ws://") && !strings.HasPrefix(c.Bridge.URL, "wss://") {
		errs = append(errs, fmt.Errorf("bridge.url %q must use ws:// or wss://", c.Bridge.URL))
	}
	if c.Bridge.CallTimeout.Duration() <= 0 {
		errs = append(errs, errors.New("bridge.call_timeout must be positive"))
	}
	if !strings.HasPrefix(c.Host.Path, "/") {
		errs = append(errs, fmt.Errorf("host.path %q must start with /", c.Host.Path))
	}
	if !strings.HasPrefix(c.Host.MetricsPath, "/") {
		errs = append(errs, fmt.Errorf("host.metrics_path %q must start with /", c.Host.MetricsPath))
	}
	if c.Host.MetricsPath == c.Host.Path {
		errs = append(errs, errors.New("host.metrics_path and host.path must differ"))
	}
	if c.Host.RateLimit.RPS < 0 || c.Host.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("host.rate_limit values must not be negative"))
	}
	if (c.Host.RateLimit.RPS > 0) != (c.Host.RateLimit.Burst > 0) {
		errs = append(errs, errors.New("host.rate_limit needs both rps and burst"))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Errorf("log.format %q must be json or text", c.Log.Format))
	}

	return errors.Join(errs...)
}

// SlogLevel maps the configured level name to a slog.Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", l.Level, err)
	}
	return level, nil
}

// NewLogger builds the process logger from the log section.
func (l LogConfig) NewLogger() *slog.Logger {
	level, err := l.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}
		sub := envVarPattern.FindStringSubmatch(match)
		name := sub[1]
		hasDefault := sub[2] != ""

		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		if hasDefault {
			return sub[3]
		}
		firstErr = fmt.Errorf("environment variable %q is not set", name)
		return match
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}
