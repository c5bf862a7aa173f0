package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/pithecene-io/unlockbench/types"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultListen       = ":5000"
	DefaultProxyPort    = "33335"
	DefaultStreamBuffer = 64
	DefaultRateLimit    = 5.0
	DefaultRateBurst    = 10
	DefaultRetention    = time.Hour
	DefaultPoolName     = "default"
)

// Config represents an unlockbench.yaml configuration file.
// All values are optional; CLI flags always override config values.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Proxy    ProxyConfig    `yaml:"proxy"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Storage  StorageConfig  `yaml:"storage"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Adapter  AdapterConfig  `yaml:"adapter"`
	Registry RegistryConfig `yaml:"registry"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Listen       string   `yaml:"listen"`
	CORSOrigins  []string `yaml:"cors_origins"`
	RateLimit    float64  `yaml:"rate_limit"`
	RateBurst    int      `yaml:"rate_burst"`
	StreamBuffer int      `yaml:"stream_buffer"`
}

// ProxyConfig holds unlocker gateway settings.
type ProxyConfig struct {
	Gateways    []string            `yaml:"gateways"`
	Strategy    types.ProxyStrategy `yaml:"strategy"`
	DefaultPort string              `yaml:"default_port"`
	UseTLS      bool                `yaml:"use_tls"`
}

// FetchConfig holds fetch settings.
type FetchConfig struct {
	Timeout      Duration `yaml:"timeout"`
	ProxyTimeout Duration `yaml:"proxy_timeout"`
	UserAgent    string   `yaml:"user_agent"`
}

// StorageConfig selects the record store.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	DSN     string `yaml:"dsn"`
}

// ArchiveConfig selects the run archive.
type ArchiveConfig struct {
	Backend     string `yaml:"backend"`
	Dataset     string `yaml:"dataset"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// AdapterConfig holds run-completed adapter settings.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// RegistryConfig controls in-memory run retention.
type RegistryConfig struct {
	// Retention is how long finished runs stay queryable. Zero disables
	// eviction.
	Retention *Duration `yaml:"retention"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// ApplyDefaults fills unset values. lookupEnv supplies DATABASE_URL, which
// selects the postgres store when no backend is configured.
func (c *Config) ApplyDefaults(lookupEnv func(string) (string, bool)) {
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = DefaultRateLimit
	}
	if c.Server.RateBurst == 0 {
		c.Server.RateBurst = DefaultRateBurst
	}
	if c.Server.StreamBuffer == 0 {
		c.Server.StreamBuffer = DefaultStreamBuffer
	}
	if len(c.Proxy.Gateways) == 0 {
		c.Proxy.Gateways = []string{types.DefaultGatewayHost}
	}
	if c.Proxy.Strategy == "" {
		c.Proxy.Strategy = types.ProxyStrategyRoundRobin
	}
	if c.Proxy.DefaultPort == "" {
		c.Proxy.DefaultPort = DefaultProxyPort
	}
	if c.Storage.Backend == "" && lookupEnv != nil {
		if dsn, ok := lookupEnv("DATABASE_URL"); ok && dsn != "" {
			c.Storage.Backend = "postgres"
			c.Storage.DSN = dsn
		}
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	if c.Registry.Retention == nil {
		c.Registry.Retention = &Duration{Duration: DefaultRetention}
	}
}

// Validate checks enumerated values.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Backend {
	case "", "memory", "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q: must be memory, sqlite, or postgres", c.Storage.Backend))
	}
	if c.Storage.Backend == "postgres" && c.Storage.DSN == "" {
		errs = append(errs, errors.New("storage.dsn is required for postgres"))
	}
	switch c.Archive.Backend {
	case "", "fs", "s3", "memory":
	default:
		errs = append(errs, fmt.Errorf("archive.backend %q: must be fs, s3, or memory", c.Archive.Backend))
	}
	switch c.Adapter.Type {
	case "", "redis", "webhook":
	default:
		errs = append(errs, fmt.Errorf("adapter.type %q: must be redis or webhook", c.Adapter.Type))
	}
	if c.Adapter.Type != "" && c.Adapter.URL == "" {
		errs = append(errs, errors.New("adapter.url is required when adapter.type is set"))
	}
	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		errs = append(errs, errors.New("server rate limit values must not be negative"))
	}
	pool := c.GatewayPool()
	if err := pool.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("proxy: %w", err))
	}
	return errors.Join(errs...)
}

// GatewayPool returns the configured gateway hosts as a pool.
func (c *Config) GatewayPool() *types.GatewayPool {
	strategy := c.Proxy.Strategy
	if strategy == "" {
		strategy = types.ProxyStrategyRoundRobin
	}
	hosts := c.Proxy.Gateways
	if len(hosts) == 0 {
		hosts = []string{types.DefaultGatewayHost}
	}
	return &types.GatewayPool{
		Name:     DefaultPoolName,
		Strategy: strategy,
		Hosts:    hosts,
	}
}

// RetentionOrZero returns the registry retention, zero when disabled.
func (c *Config) RetentionOrZero() time.Duration {
	if c.Registry.Retention == nil {
		return 0
	}
	return c.Registry.Retention.Duration
}
