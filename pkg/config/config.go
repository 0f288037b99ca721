// Package config loads and validates scadabridge configuration.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values exported for documentation and validation
const (
	DefaultBindAddress    = "127.0.0.1:8090"
	DefaultSampleInterval = time.Second
	DefaultRetention      = 5 * time.Minute
	DefaultTimeout        = 5 * time.Second
	DefaultProxyPrefix    = "/hmi"
	DefaultPointsFile     = "points.json"
)

// Config represents the complete scadabridge configuration
type Config struct {
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Collector CollectorConfig `yaml:"collector"`
	Server    ServerConfig    `yaml:"server"`
	Points    PointsConfig    `yaml:"points"`
}

// UpstreamConfig describes the legacy SCADA application being bridged.
type UpstreamConfig struct {
	// BaseURL is the upstream root, e.g. "http://localhost:8080/Scada-LTS".
	BaseURL  string        `yaml:"base_url"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`
}

// CollectorConfig controls the telemetry polling loop.
type CollectorConfig struct {
	SampleInterval time.Duration `yaml:"sample_interval"`
	Retention      time.Duration `yaml:"retention"`
}

// ServerConfig controls the gateway HTTP server.
type ServerConfig struct {
	BindAddress string `yaml:"bind_address"`
	// PublicOrigin is the origin browsers use to reach the gateway.
	// Rewritten upstream redirects point here. Defaults to the bind address.
	PublicOrigin   string   `yaml:"public_origin"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// ProxyPrefix is the path prefix under which the legacy app is embedded.
	ProxyPrefix string `yaml:"proxy_prefix"`
}

// PointsConfig locates the point definition store.
type PointsConfig struct {
	File string `yaml:"file"`
}

// DefaultConfig returns a Config populated with defaults.
func DefaultConfig() *Config {
	return &Config{
		Upstream: UpstreamConfig{
			BaseURL: "http://localhost:8080/Scada-LTS",
			Timeout: DefaultTimeout,
		},
		Collector: CollectorConfig{
			SampleInterval: DefaultSampleInterval,
			Retention:      DefaultRetention,
		},
		Server: ServerConfig{
			BindAddress:    DefaultBindAddress,
			AllowedOrigins: []string{"http://localhost", "http://127.0.0.1"},
			ProxyPrefix:    DefaultProxyPrefix,
		},
		Points: PointsConfig{
			File: DefaultPointsFile,
		},
	}
}

// Load reads configuration from an optional YAML file, applies environment
// overrides, and validates the result. An empty path skips the file step.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("loading config from %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SCADA_BASE_URL"); v != "" {
		cfg.Upstream.BaseURL = v
	}
	if v := os.Getenv("SCADA_USER"); v != "" {
		cfg.Upstream.Username = v
	}
	if v := os.Getenv("SCADA_PASSWORD"); v != "" {
		cfg.Upstream.Password = v
	}
	if v := os.Getenv("SCADABRIDGE_BIND"); v != "" {
		cfg.Server.BindAddress = v
	}
	if v := os.Getenv("SCADABRIDGE_PUBLIC_ORIGIN"); v != "" {
		cfg.Server.PublicOrigin = v
	}
	if v := os.Getenv("SCADABRIDGE_POINTS_FILE"); v != "" {
		cfg.Points.File = v
	}
	if v := os.Getenv("SCADABRIDGE_SAMPLE_INTERVAL"); v != "" {
		if d, err := parseDurationOrSeconds(v); err == nil {
			cfg.Collector.SampleInterval = d
		}
	}
	if v := os.Getenv("SCADABRIDGE_RETENTION"); v != "" {
		if d, err := parseDurationOrSeconds(v); err == nil {
			cfg.Collector.Retention = d
		}
	}
}

// parseDurationOrSeconds accepts either a Go duration ("1.5s") or a bare
// number of seconds ("300"), matching what operators tend to export.
func parseDurationOrSeconds(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(raw)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Upstream.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("upstream.base_url %q is not an absolute URL", c.Upstream.BaseURL)
	}
	if c.Upstream.Timeout <= 0 {
		c.Upstream.Timeout = DefaultTimeout
	}
	if c.Collector.SampleInterval <= 0 {
		return fmt.Errorf("collector.sample_interval must be positive, got %s", c.Collector.SampleInterval)
	}
	if c.Collector.Retention < c.Collector.SampleInterval {
		return fmt.Errorf("collector.retention %s is shorter than the sample interval %s",
			c.Collector.Retention, c.Collector.SampleInterval)
	}
	if _, _, err := net.SplitHostPort(c.Server.BindAddress); err != nil {
		return fmt.Errorf("server.bind_address %q: %w", c.Server.BindAddress, err)
	}
	if !strings.HasPrefix(c.Server.ProxyPrefix, "/") || c.Server.ProxyPrefix == "/" {
		return fmt.Errorf("server.proxy_prefix %q must be a non-root path prefix", c.Server.ProxyPrefix)
	}
	if c.Server.PublicOrigin == "" {
		c.Server.PublicOrigin = "http://" + c.Server.BindAddress
	}
	if o, err := url.Parse(c.Server.PublicOrigin); err != nil || o.Scheme == "" || o.Host == "" {
		return fmt.Errorf("server.public_origin %q is not an absolute URL", c.Server.PublicOrigin)
	}
	return nil
}
