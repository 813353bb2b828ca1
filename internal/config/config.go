package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models planline.yml.
type Config struct {
	Store struct {
		Path              string `yaml:"path"`
		BusyTimeoutMS     int    `yaml:"busy_timeout_ms"`
		RetryMaxElapsedMS int    `yaml:"retry_max_elapsed_ms"`
	} `yaml:"store"`
	Leases struct {
		DefaultTTLSeconds int `yaml:"default_ttl_seconds"`
		MaxTTLSeconds     int `yaml:"max_ttl_seconds"`
	} `yaml:"leases"`
	Planning struct {
		SummaryLength int      `yaml:"summary_length"`
		DocTypes      []string `yaml:"doc_types"`
	} `yaml:"planning"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Telemetry struct {
		Enabled bool `yaml:"enabled"`
		Stdout  bool `yaml:"stdout"`
	} `yaml:"telemetry"`
}

// Load reads and validates config from workspace. A missing file yields defaults.
func Load(workspace string) (*Config, error) {
	cfg, err := LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = Default()
	}
	return cfg, nil
}

// Validate ensures the config is usable.
func (c *Config) Validate() error {
	if c.Store.BusyTimeoutMS < 0 {
		return fmt.Errorf("config.store.busy_timeout_ms must not be negative")
	}
	if c.Store.RetryMaxElapsedMS < 0 {
		return fmt.Errorf("config.store.retry_max_elapsed_ms must not be negative")
	}
	if c.Leases.DefaultTTLSeconds <= 0 {
		return fmt.Errorf("config.leases.default_ttl_seconds must be positive")
	}
	if c.Leases.MaxTTLSeconds > 0 && c.Leases.MaxTTLSeconds < c.Leases.DefaultTTLSeconds {
		return fmt.Errorf("config.leases.max_ttl_seconds must be >= default_ttl_seconds")
	}
	if c.Planning.SummaryLength <= 0 {
		return fmt.Errorf("config.planning.summary_length must be positive")
	}
	for _, t := range c.Planning.DocTypes {
		if t == "" {
			return fmt.Errorf("config.planning.doc_types contains an empty type")
		}
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config.log.format %q is not one of text, json", c.Log.Format)
	}
	return nil
}

// BusyTimeout is how long SQLite waits on a lock before reporting busy.
func (c *Config) BusyTimeout() time.Duration {
	return time.Duration(c.Store.BusyTimeoutMS) * time.Millisecond
}

// RetryMaxElapsed bounds retries of a locked transaction.
func (c *Config) RetryMaxElapsed() time.Duration {
	return time.Duration(c.Store.RetryMaxElapsedMS) * time.Millisecond
}

// LeaseTTL resolves a requested lease duration: non-positive means the
// default, and a configured maximum caps it.
func (c *Config) LeaseTTL(seconds int) time.Duration {
	if seconds <= 0 {
		seconds = c.Leases.DefaultTTLSeconds
	}
	if c.Leases.MaxTTLSeconds > 0 && seconds > c.Leases.MaxTTLSeconds {
		seconds = c.Leases.MaxTTLSeconds
	}
	return time.Duration(seconds) * time.Second
}

// DocTypeAllowed reports whether a planning document type is accepted.
// An empty list accepts any type.
func (c *Config) DocTypeAllowed(t string) bool {
	if len(c.Planning.DocTypes) == 0 {
		return true
	}
	for _, v := range c.Planning.DocTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "planline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// FromYAML parses config from raw YAML bytes over the defaults and validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `store:
  path: ""
  busy_timeout_ms: 5000
  retry_max_elapsed_ms: 10000

leases:
  default_ttl_seconds: 1800
  max_ttl_seconds: 0

planning:
  summary_length: 800
  doc_types: [prd, architecture, epics, ux]

server:
  addr: ":8080"
  base_path: /v0

log:
  level: info
  format: text

telemetry:
  enabled: false
  stdout: false
`
