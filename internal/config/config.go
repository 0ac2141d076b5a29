// ABOUTME: Configuration loading and parsing for pie-bridge
// ABOUTME: Reads TOML with environment variable expansion, duration parsing and defaults

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Adapter kinds.
const (
	AdapterWS   = "ws"
	AdapterHTTP = "http"
)

// Config represents the complete pie-bridge configuration
type Config struct {
	Gateway  GatewayConfig  `toml:"gateway"`
	Plugins  PluginsConfig  `toml:"plugins"`
	Database DatabaseConfig `toml:"database"`
	Dedupe   DedupeConfig   `toml:"dedupe"`
	Logging  LoggingConfig  `toml:"logging"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

// GatewayConfig describes how to reach the chat gateway
type GatewayConfig struct {
	Adapter   string `toml:"adapter"`
	URL       string `toml:"url"`
	VerifyKey string `toml:"verify_key"`
	QQ        int64  `toml:"qq"`
	// FetchCount bounds one polling fetch.
	FetchCount int `toml:"fetch_count"`

	PollInterval   time.Duration `toml:"-"`
	RequestTimeout time.Duration `toml:"-"`
	SettleDelay    time.Duration `toml:"-"`

	// Raw string values for TOML decoding
	PollIntervalRaw   string `toml:"poll_interval"`
	RequestTimeoutRaw string `toml:"request_timeout"`
	SettleDelayRaw    string `toml:"settle_delay"`
}

// PluginsConfig holds plugin configuration sources
type PluginsConfig struct {
	ConfigPath string   `toml:"config_path"`
	Watch      bool     `toml:"watch"`
	Disabled   []string `toml:"disabled"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver string `toml:"driver"`
	Path   string `toml:"path"`
}

// DedupeConfig sizes the duplicate message window
type DedupeConfig struct {
	TTL     time.Duration `toml:"-"`
	MaxSize int           `toml:"max_size"`

	TTLRaw string `toml:"ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
	Path    string `toml:"path"`
}

// Default returns a configuration with every optional field filled in.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Adapter:        AdapterWS,
			FetchCount:     10,
			PollInterval:   500 * time.Millisecond,
			RequestTimeout: 2 * time.Second,
			SettleDelay:    100 * time.Millisecond,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   defaultDatabasePath(),
		},
		Dedupe: DedupeConfig{
			TTL:     5 * time.Minute,
			MaxSize: 10000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9464",
			Path: "/metrics",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg, err := Parse(string(data))
	if err != nil {
		return nil, err
	}

	// Relative plugin config paths are relative to the config file.
	if cfg.Plugins.ConfigPath != "" && !filepath.IsAbs(cfg.Plugins.ConfigPath) {
		cfg.Plugins.ConfigPath = filepath.Join(filepath.Dir(path), cfg.Plugins.ConfigPath)
	}
	return cfg, nil
}

// Parse decodes TOML content over the defaults.
func Parse(content string) (*Config, error) {
	cfg := Default()
	if _, err := toml.Decode(expandEnvVars(content), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.Database.Path = expandHome(cfg.Database.Path)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Gateway.URL == "" {
		return fmt.Errorf("gateway.url is required")
	}
	u, err := url.Parse(c.Gateway.URL)
	if err != nil {
		return fmt.Errorf("gateway.url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("gateway.url must use http or https scheme")
	}

	if c.Gateway.Adapter != AdapterWS && c.Gateway.Adapter != AdapterHTTP {
		return fmt.Errorf("gateway.adapter must be %q or %q, got %q", AdapterWS, AdapterHTTP, c.Gateway.Adapter)
	}
	if c.Gateway.QQ <= 0 {
		return fmt.Errorf("gateway.qq is required")
	}
	if c.Gateway.FetchCount <= 0 {
		return fmt.Errorf("gateway.fetch_count must be positive")
	}

	if !slices.Contains([]string{"sqlite", "sqlite3"}, c.Database.Driver) {
		return fmt.Errorf("database.driver must be \"sqlite\" or \"sqlite3\", got %q", c.Database.Driver)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Dedupe.MaxSize <= 0 {
		return fmt.Errorf("dedupe.max_size must be positive")
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"gateway.poll_interval", cfg.Gateway.PollIntervalRaw, &cfg.Gateway.PollInterval},
		{"gateway.request_timeout", cfg.Gateway.RequestTimeoutRaw, &cfg.Gateway.RequestTimeout},
		{"gateway.settle_delay", cfg.Gateway.SettleDelayRaw, &cfg.Gateway.SettleDelay},
		{"dedupe.ttl", cfg.Dedupe.TTLRaw, &cfg.Dedupe.TTL},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative", f.name)
		}
		*f.dst = d
	}
	return nil
}

// ResolvePath picks the config file: the flag value, then PIE_BRIDGE_CONFIG,
// then $XDG_CONFIG_HOME/pie-bridge/config.toml.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("PIE_BRIDGE_CONFIG"); env != "" {
		return env
	}
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), "pie-bridge", "config.toml")
}

func defaultDatabasePath() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share")), "pie-bridge", "pie.db")
}

func xdgDir(env, fallback string) string {
	if dir := os.Getenv(env); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return fallback
	}
	return filepath.Join(home, fallback)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
