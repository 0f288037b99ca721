package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultBindAddress, cfg.Server.BindAddress)
	assert.Equal(t, DefaultSampleInterval, cfg.Collector.SampleInterval)
	assert.Equal(t, "http://"+DefaultBindAddress, cfg.Server.PublicOrigin)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultProxyPrefix, cfg.Server.ProxyPrefix)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
upstream:
  base_url: http://10.0.0.5:9600/Scada-LTS
  username: operator
  password: hunter2
  timeout: 3s
collector:
  sample_interval: 2s
  retention: 10m
server:
  bind_address: 0.0.0.0:9000
  public_origin: http://console.plant:9000
  proxy_prefix: /plant
points:
  file: /var/lib/scadabridge/points.json
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5:9600/Scada-LTS", cfg.Upstream.BaseURL)
	assert.Equal(t, "operator", cfg.Upstream.Username)
	assert.Equal(t, 3*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, 2*time.Second, cfg.Collector.SampleInterval)
	assert.Equal(t, 10*time.Minute, cfg.Collector.Retention)
	assert.Equal(t, "/plant", cfg.Server.ProxyPrefix)
	assert.Equal(t, "/var/lib/scadabridge/points.json", cfg.Points.File)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("upstream: ["), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SCADA_BASE_URL", "http://10.1.1.1:8080/Scada-LTS")
	t.Setenv("SCADA_USER", "admin")
	t.Setenv("SCADA_PASSWORD", "pw")
	t.Setenv("SCADABRIDGE_BIND", "127.0.0.1:9999")
	t.Setenv("SCADABRIDGE_SAMPLE_INTERVAL", "5")
	t.Setenv("SCADABRIDGE_RETENTION", "15m")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://10.1.1.1:8080/Scada-LTS", cfg.Upstream.BaseURL)
	assert.Equal(t, "admin", cfg.Upstream.Username)
	assert.Equal(t, "pw", cfg.Upstream.Password)
	assert.Equal(t, "127.0.0.1:9999", cfg.Server.BindAddress)
	assert.Equal(t, 5*time.Second, cfg.Collector.SampleInterval)
	assert.Equal(t, 15*time.Minute, cfg.Collector.Retention)
	assert.Equal(t, "http://127.0.0.1:9999", cfg.Server.PublicOrigin)
}

func TestParseDurationOrSeconds(t *testing.T) {
	d, err := parseDurationOrSeconds("1.5")
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, d)

	d, err = parseDurationOrSeconds("2m")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, d)

	_, err = parseDurationOrSeconds("not-a-duration")
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"relative base url", func(c *Config) { c.Upstream.BaseURL = "localhost:8080" }},
		{"zero interval", func(c *Config) { c.Collector.SampleInterval = 0 }},
		{"retention below interval", func(c *Config) {
			c.Collector.SampleInterval = time.Minute
			c.Collector.Retention = time.Second
		}},
		{"bind without port", func(c *Config) { c.Server.BindAddress = "127.0.0.1" }},
		{"root proxy prefix", func(c *Config) { c.Server.ProxyPrefix = "/" }},
		{"relative proxy prefix", func(c *Config) { c.Server.ProxyPrefix = "hmi" }},
		{"bad public origin", func(c *Config) { c.Server.PublicOrigin = "console.local" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
