// Package config loads and validates the defense-pipeline configuration
// from a YAML file with environment overrides.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nshruti113/request-shield/internal/models"
)

// RedisConfig holds connection settings for the shared store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LogConfig controls zap logger construction.
type LogConfig struct {
	Level      string `yaml:"level"`  // debug, info, warn, error
	Format     string `yaml:"format"` // console or json
	File       string `yaml:"file"`   // empty -> stderr only
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Config is the full configuration set read at startup and on reload.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`

	Enabled      bool `yaml:"enabled"`
	BlockAttacks bool `yaml:"block_attacks"`

	// MinBlockSeverity softens the block-on-any policy: detections below
	// this severity are logged but not blocked. Empty blocks everything.
	MinBlockSeverity string `yaml:"min_block_severity"`

	// Category names scanned by the firewall; empty means the library
	// default set.
	EnabledCategories []string `yaml:"enabled_categories"`

	WhitelistIPs     []string `yaml:"whitelist_ips"`
	BlacklistIPs     []string `yaml:"blacklist_ips"`
	WhitelistedPaths []string `yaml:"whitelisted_paths"`

	PerRouteLimits  map[string]int `yaml:"per_route_limits"`
	DefaultLimit    int            `yaml:"default_limit"`
	AdminLimit      int            `yaml:"admin_limit"`
	AuthLimit       int            `yaml:"auth_limit"`
	BurstMultiplier float64        `yaml:"burst_multiplier"`
	WindowSeconds   int            `yaml:"window_seconds"`
	Algorithm       string         `yaml:"algorithm"` // token_bucket or fixed_window

	BlockDurationSeconds int `yaml:"block_duration_seconds"`
	SuspiciousThreshold  int `yaml:"suspicious_threshold"`

	MaxRequestSize int `yaml:"max_request_size"`

	// FailOpen lets requests through when the store is unreachable.
	// Keep false in production.
	FailOpen       bool `yaml:"fail_open"`
	StoreTimeoutMS int  `yaml:"store_timeout_ms"`

	Storage string      `yaml:"storage"` // redis or memory
	Redis   RedisConfig `yaml:"redis"`
	Log     LogConfig   `yaml:"log"`

	// Parsed CIDR lists, populated by Validate.
	WhitelistNets []*net.IPNet `yaml:"-"`
	BlacklistNets []*net.IPNet `yaml:"-"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		ListenAddr:   ":8888",
		Enabled:      true,
		BlockAttacks: true,
		WhitelistedPaths: []string{
			"/docs", "/redoc", "/openapi.json", "/health",
			"/favicon.ico", "/metrics", "/static/",
			// Kept reachable for blocked clients so a passed challenge
			// can lift their block.
			"/api/v1/security/challenge",
		},
		PerRouteLimits:       map[string]int{},
		DefaultLimit:         120,
		AdminLimit:           300,
		AuthLimit:            30,
		BurstMultiplier:      2.0,
		WindowSeconds:        60,
		Algorithm:            "token_bucket",
		BlockDurationSeconds: 3600,
		SuspiciousThreshold:  10,
		MaxRequestSize:       10 * 1024 * 1024,
		FailOpen:             false,
		StoreTimeoutMS:       100,
		Storage:              "redis",
		Redis:                RedisConfig{Addr: "localhost:6379"},
		Log:                  LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads the YAML file at path (if non-empty), applies SHIELD_*
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SHIELD_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("SHIELD_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SHIELD_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SHIELD_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = db
		}
	}
	if v := os.Getenv("SHIELD_STORAGE"); v != "" {
		cfg.Storage = v
	}
	if v := os.Getenv("SHIELD_FAIL_OPEN"); v != "" {
		cfg.FailOpen = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("SHIELD_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Validate checks the configuration and parses the CIDR lists. An
// unparsable CIDR is an error, never silently dropped.
func (c *Config) Validate() error {
	switch c.Algorithm {
	case "token_bucket", "fixed_window":
	default:
		return fmt.Errorf("config: unknown algorithm %q", c.Algorithm)
	}
	switch c.Storage {
	case "redis", "memory":
	default:
		return fmt.Errorf("config: unknown storage %q", c.Storage)
	}
	switch c.MinBlockSeverity {
	case "", "low", "medium", "high", "critical":
	default:
		return fmt.Errorf("config: unknown min_block_severity %q", c.MinBlockSeverity)
	}
	if c.DefaultLimit <= 0 || c.AdminLimit <= 0 || c.AuthLimit <= 0 {
		return fmt.Errorf("config: rate limits must be positive")
	}
	if c.BurstMultiplier < 1.0 {
		return fmt.Errorf("config: burst_multiplier must be >= 1.0")
	}
	if c.WindowSeconds <= 0 {
		return fmt.Errorf("config: window_seconds must be positive")
	}
	if c.SuspiciousThreshold <= 0 {
		return fmt.Errorf("config: suspicious_threshold must be positive")
	}
	for prefix, limit := range c.PerRouteLimits {
		if limit <= 0 {
			return fmt.Errorf("config: per_route_limit for %q must be positive", prefix)
		}
	}

	var err error
	c.WhitelistNets, err = parseNets(c.WhitelistIPs)
	if err != nil {
		return fmt.Errorf("config: whitelist_ips: %w", err)
	}
	c.BlacklistNets, err = parseNets(c.BlacklistIPs)
	if err != nil {
		return fmt.Errorf("config: blacklist_ips: %w", err)
	}
	return nil
}

// parseNets accepts CIDR ranges and bare addresses (treated as /32 or
// /128).
func parseNets(entries []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(entries))
	for _, entry := range entries {
		s := entry
		if !strings.Contains(s, "/") {
			if ip := net.ParseIP(s); ip != nil {
				if ip.To4() != nil {
					s += "/32"
				} else {
					s += "/128"
				}
			}
		}
		_, ipnet, err := net.ParseCIDR(s)
		if err != nil {
			return nil, fmt.Errorf("invalid IP/CIDR %q", entry)
		}
		nets = append(nets, ipnet)
	}
	return nets, nil
}

// Categories maps the configured category names onto typed categories.
func (c *Config) Categories() ([]models.AttackCategory, error) {
	if len(c.EnabledCategories) == 0 {
		return nil, nil
	}
	known := make(map[string]models.AttackCategory)
	for _, cat := range models.AllCategories() {
		known[string(cat)] = cat
	}
	cats := make([]models.AttackCategory, 0, len(c.EnabledCategories))
	for _, name := range c.EnabledCategories {
		cat, ok := known[name]
		if !ok {
			return nil, fmt.Errorf("config: unknown attack category %q", name)
		}
		cats = append(cats, cat)
	}
	return cats, nil
}

// StoreTimeout returns the bounded per-call timeout for store round
// trips.
func (c *Config) StoreTimeout() time.Duration {
	if c.StoreTimeoutMS <= 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(c.StoreTimeoutMS) * time.Millisecond
}

// BlockDuration returns the temporary block duration.
func (c *Config) BlockDuration() time.Duration {
	return time.Duration(c.BlockDurationSeconds) * time.Second
}

// Window returns the fixed-window size.
func (c *Config) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}
