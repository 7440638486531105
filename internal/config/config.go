// ABOUTME: Configuration loading and parsing for tms-core
// ABOUTME: Supports YAML or TOML files with env var expansion, TMS_* overrides and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Defaults applied before validation.
const (
	DefaultHTTPAddr        = "127.0.0.1:8080"
	DefaultEnhancedTimeout = 10 * time.Second
	DefaultCronSchedule    = "*/5 * * * *"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"

	minJWTSecretLength = 32
)

// Config represents the complete tms-core configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Enhanced  EnhancedConfig  `yaml:"enhanced" toml:"enhanced"`
	Cron      CronConfig      `yaml:"cron" toml:"cron"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"` // serve TLS with the tailnet certificate
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds the secret shared with the dashboard login system.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// EnhancedConfig locates the external enhanced service.
type EnhancedConfig struct {
	URL        string `yaml:"url" toml:"url"`
	Secret     string `yaml:"secret" toml:"secret"`
	InstanceID string `yaml:"instance_id" toml:"instance_id"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// CronConfig configures the heartbeat trigger and the scheduler process.
type CronConfig struct {
	Secret     string `yaml:"secret" toml:"secret"`
	Schedule   string `yaml:"schedule" toml:"schedule"`
	TriggerURL string `yaml:"trigger_url" toml:"trigger_url"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
	File   string `yaml:"file" toml:"file"`
}

// envOverrides maps environment variables onto config fields. They win over
// the file so deployments can inject secrets without templating.
var envOverrides = []struct {
	name  string
	field func(*Config) *string
}{
	{"TMS_DB_PATH", func(c *Config) *string { return &c.Database.Path }},
	{"TMS_ENHANCED_URL", func(c *Config) *string { return &c.Enhanced.URL }},
	{"TMS_ENHANCED_SECRET", func(c *Config) *string { return &c.Enhanced.Secret }},
	{"TMS_INSTANCE_ID", func(c *Config) *string { return &c.Enhanced.InstanceID }},
	{"TMS_CRON_SECRET", func(c *Config) *string { return &c.Cron.Secret }},
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data, strings.EqualFold(filepath.Ext(path), ".toml"))
}

// Parse decodes raw configuration bytes, applies defaults and overrides, and
// validates the result.
func Parse(data []byte, isTOML bool) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if isTOML {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// DefaultPath returns the config path.
// Priority: TMS_CONFIG env var > XDG_CONFIG_HOME/tms/core.yaml > ~/.config/tms/core.yaml
func DefaultPath() string {
	if envPath := os.Getenv("TMS_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "core.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "tms", "core.yaml")
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func applyEnvOverrides(cfg *Config) {
	for _, o := range envOverrides {
		if v, ok := os.LookupEnv(o.name); ok {
			*o.field(cfg) = strings.TrimSpace(v)
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.HTTPAddr == "" && !cfg.Tailscale.Enabled {
		cfg.Server.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.Cron.Schedule == "" {
		cfg.Cron.Schedule = DefaultCronSchedule
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}
	cfg.Enhanced.URL = strings.TrimRight(strings.TrimSpace(cfg.Enhanced.URL), "/")
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", minJWTSecretLength)
	}

	// An empty URL is valid: the enhanced service is optional.
	if c.Enhanced.URL != "" {
		if err := validateHTTPURL(c.Enhanced.URL); err != nil {
			return fmt.Errorf("enhanced.url: %w", err)
		}
	}
	if c.Enhanced.Timeout <= 0 {
		return fmt.Errorf("enhanced.timeout must be positive")
	}

	if _, err := cron.ParseStandard(c.Cron.Schedule); err != nil {
		return fmt.Errorf("cron.schedule %q: %w", c.Cron.Schedule, err)
	}
	// Behind tailscale nothing listens on a local address to fall back to.
	if c.Tailscale.Enabled && c.Cron.TriggerURL == "" {
		return fmt.Errorf("cron.trigger_url is required when tailscale is enabled")
	}
	if c.Cron.TriggerURL != "" {
		if err := validateHTTPURL(c.Cron.TriggerURL); err != nil {
			return fmt.Errorf("cron.trigger_url: %w", err)
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must use http or https scheme")
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	cfg.Enhanced.Timeout = DefaultEnhancedTimeout
	if cfg.Enhanced.TimeoutRaw != "" {
		d, err := time.ParseDuration(cfg.Enhanced.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing enhanced.timeout %q: %w", cfg.Enhanced.TimeoutRaw, err)
		}
		cfg.Enhanced.Timeout = d
	}
	return nil
}

// LocalBaseURL is the HTTP base URL of this process as seen from the same
// host.
func (c *Config) LocalBaseURL() string {
	addr := c.Server.HTTPAddr
	if addr == "" {
		addr = DefaultHTTPAddr
	}
	if strings.HasPrefix(addr, ":") || strings.HasPrefix(addr, "0.0.0.0:") {
		_, port, _ := strings.Cut(addr, ":")
		addr = "127.0.0.1:" + port
	}
	return "http://" + addr
}

// ServiceBaseURL is where CLI commands reach the running server: the origin
// of cron.trigger_url when tailscale is enabled, else LocalBaseURL.
func (c *Config) ServiceBaseURL() string {
	if c.Tailscale.Enabled && c.Cron.TriggerURL != "" {
		if u, err := url.Parse(c.Cron.TriggerURL); err == nil && u.Host != "" {
			return u.Scheme + "://" + u.Host
		}
	}
	return c.LocalBaseURL()
}

// TriggerURL returns where the scheduler should POST. It falls back to the
// local HTTP listener.
func (c *Config) TriggerURL() string {
	if c.Cron.TriggerURL != "" {
		return c.Cron.TriggerURL
	}
	return c.LocalBaseURL() + "/heartbeat-trigger"
}
