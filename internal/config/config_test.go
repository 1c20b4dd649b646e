package config

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.Enabled)
	assert.True(t, cfg.BlockAttacks)
	assert.Equal(t, 120, cfg.DefaultLimit)
	assert.Equal(t, "token_bucket", cfg.Algorithm)
	assert.Contains(t, cfg.WhitelistedPaths, "/health")
	assert.Contains(t, cfg.WhitelistedPaths, "/api/v1/security/challenge")
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown algorithm", func(c *Config) { c.Algorithm = "sliding_log" }},
		{"unknown storage", func(c *Config) { c.Storage = "dynamo" }},
		{"unknown severity threshold", func(c *Config) { c.MinBlockSeverity = "fatal" }},
		{"zero default limit", func(c *Config) { c.DefaultLimit = 0 }},
		{"burst below one", func(c *Config) { c.BurstMultiplier = 0.5 }},
		{"zero window", func(c *Config) { c.WindowSeconds = 0 }},
		{"zero threshold", func(c *Config) { c.SuspiciousThreshold = 0 }},
		{"bad per-route limit", func(c *Config) { c.PerRouteLimits = map[string]int{"/x": 0} }},
		{"bad whitelist cidr", func(c *Config) { c.WhitelistIPs = []string{"10.0.0.0/99"} }},
		{"garbage blacklist entry", func(c *Config) { c.BlacklistIPs = []string{"not-an-ip"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateParsesIPLists(t *testing.T) {
	cfg := Default()
	cfg.WhitelistIPs = []string{"127.0.0.1", "10.0.0.0/8", "::1"}
	cfg.BlacklistIPs = []string{"203.0.113.0/24"}
	require.NoError(t, cfg.Validate())

	require.Len(t, cfg.WhitelistNets, 3)
	assert.Equal(t, "127.0.0.1/32", cfg.WhitelistNets[0].String())
	assert.Equal(t, "10.0.0.0/8", cfg.WhitelistNets[1].String())
	assert.Equal(t, "::1/128", cfg.WhitelistNets[2].String())

	require.Len(t, cfg.BlacklistNets, 1)
	assert.True(t, cfg.BlacklistNets[0].Contains(mustIP(t, "203.0.113.77")))
}

func TestLoadFromFile(t *testing.T) {
	content := []byte(`
listen_addr: ":9999"
enabled: true
block_attacks: false
algorithm: fixed_window
default_limit: 50
per_route_limits:
  /api/v1/books: 25
whitelist_ips:
  - 10.1.2.3
storage: memory
log:
  level: debug
  format: json
`)
	path := filepath.Join(t.TempDir(), "shield.yaml")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.False(t, cfg.BlockAttacks)
	assert.Equal(t, "fixed_window", cfg.Algorithm)
	assert.Equal(t, 50, cfg.DefaultLimit)
	assert.Equal(t, 25, cfg.PerRouteLimits["/api/v1/books"])
	assert.Equal(t, "memory", cfg.Storage)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Untouched fields keep their defaults.
	assert.Equal(t, 300, cfg.AdminLimit)
	assert.Equal(t, 2.0, cfg.BurstMultiplier)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SHIELD_LISTEN_ADDR", ":7777")
	t.Setenv("SHIELD_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("SHIELD_STORAGE", "memory")
	t.Setenv("SHIELD_FAIL_OPEN", "true")
	t.Setenv("SHIELD_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7777", cfg.ListenAddr)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, "memory", cfg.Storage)
	assert.True(t, cfg.FailOpen)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestCategories(t *testing.T) {
	cfg := Default()
	cats, err := cfg.Categories()
	require.NoError(t, err)
	assert.Nil(t, cats, "empty config defers to the library default set")

	cfg.EnabledCategories = []string{"sql_injection", "xss"}
	cats, err = cfg.Categories()
	require.NoError(t, err)
	assert.Len(t, cats, 2)

	cfg.EnabledCategories = []string{"teapot_overflow"}
	_, err = cfg.Categories()
	assert.Error(t, err)
}

func mustIP(t *testing.T, s string) net.IP {
	t.Helper()
	ip := net.ParseIP(s)
	require.NotNil(t, ip)
	return ip
}
