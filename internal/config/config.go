// Package config defines the secretmarket configuration and its validation.
package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// Config is the root configuration. Fields come from a TOML file and are then
// optionally overridden by SECRETMARKET_* environment variables.
type Config struct {
	Manifold  ManifoldConfig  `toml:"manifold"`
	Store     StoreConfig     `toml:"store"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Crypto    CryptoConfig    `toml:"crypto"`
	Market    MarketConfig    `toml:"market"`
	Reveal    RevealConfig    `toml:"reveal"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Reconcile ReconcileConfig `toml:"reconcile"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// ManifoldConfig points at the market platform API.
type ManifoldConfig struct {
	BaseURL string   `toml:"base_url"`
	Timeout duration `toml:"timeout"`
}

// StoreConfig selects the record store.
type StoreConfig struct {
	// Driver is "postgres", "sqlite" or "memory".
	Driver     string `toml:"driver"`
	SQLitePath string `toml:"sqlite_path"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Redis backs the public info
// cache, rate limiting, the reconcile lock and lifecycle events; all of
// those are skipped when disabled.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	KeyPrefix  string   `toml:"key_prefix"`
	CacheTTL   duration `toml:"cache_ttl"`
}

// S3Config holds object storage parameters for the orphan journal and proof
// archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// CryptoConfig selects the envelope format and commitment hash.
type CryptoConfig struct {
	// Mode is "legacy" (CryptoJS compatible) or "sealed".
	Mode string `toml:"mode"`
	// Iterations is the sealed-mode PBKDF2 count. It is not stored in the
	// envelope, so changing it makes existing sealed records unreadable.
	Iterations    int    `toml:"iterations"`
	HashAlgorithm string `toml:"hash_algorithm"`
}

// MarketConfig shapes the markets created on the platform.
type MarketConfig struct {
	TitlePrefix    string `toml:"title_prefix"`
	InitialProb    int    `toml:"initial_prob"`
	Visibility     string `toml:"visibility"`
	MaxCriteriaLen int    `toml:"max_criteria_len"`
	Attribution    string `toml:"attribution"`
}

// RevealConfig controls key checks.
type RevealConfig struct {
	VerifyCommitment bool     `toml:"verify_commitment"`
	MaxAttempts      int      `toml:"max_attempts"`
	Window           duration `toml:"window"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Addr        string   `toml:"addr"`
	AdminKey    string   `toml:"admin_key"`
	CORSOrigins []string `toml:"cors_origins"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`

	// TrustedProxies lists the CIDRs or addresses allowed to set
	// X-Forwarded-For. Empty means forwarding headers are ignored.
	TrustedProxies []string `toml:"trusted_proxies"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	MaxRetries        int      `toml:"max_retries"`
	Events            []string `toml:"events"`
}

// ReconcileConfig controls the orphan sweep.
type ReconcileConfig struct {
	Interval   duration `toml:"interval"`
	CheckLimit int      `toml:"check_limit"`
}

// duration lets TOML carry durations as strings such as "5m".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config with the values of config.example.toml.
func Defaults() Config {
	return Config{
		Manifold: ManifoldConfig{
			BaseURL: "https://api.manifold.markets/v0",
			Timeout: duration{15 * time.Second},
		},
		Store: StoreConfig{
			Driver:     "postgres",
			SQLitePath: "secretmarket.db",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "secretmarket",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "sm:",
			CacheTTL:   duration{5 * time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "secretmarket",
			ForcePathStyle: true,
		},
		Crypto: CryptoConfig{
			Mode:          "legacy",
			Iterations:    480_000,
			HashAlgorithm: "sha256",
		},
		Market: MarketConfig{
			TitlePrefix:    "Secret Market",
			InitialProb:    50,
			Visibility:     "unlisted",
			MaxCriteriaLen: 10_000,
		},
		Reveal: RevealConfig{
			VerifyCommitment: true,
			MaxAttempts:      10,
			Window:           duration{15 * time.Minute},
		},
		Server: ServerConfig{
			Addr:        ":8000",
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			MaxRetries: 3,
			Events:     []string{"market_created", "market_resolved", "criteria_disclosed", "market_orphaned", "reconcile_sweep"},
		},
		Reconcile: ReconcileConfig{
			Interval:   duration{10 * time.Minute},
			CheckLimit: 200,
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"server":    true,
	"reconcile": true,
	"full":      true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validDrivers = map[string]bool{
	"postgres": true,
	"sqlite":   true,
	"memory":   true,
}

var validVisibility = map[string]bool{
	"public":   true,
	"unlisted": true,
}

// Validate returns one error listing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, reconcile, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if strings.TrimSpace(c.Manifold.BaseURL) == "" {
		errs = append(errs, "manifold: base_url must not be empty")
	}
	if c.Manifold.Timeout.Duration <= 0 {
		errs = append(errs, "manifold: timeout must be > 0")
	}

	switch driver := strings.ToLower(c.Store.Driver); {
	case !validDrivers[driver]:
		errs = append(errs, fmt.Sprintf("store: unknown driver %q (valid: postgres, sqlite, memory)", c.Store.Driver))
	case driver == "sqlite" && c.Store.SQLitePath == "":
		errs = append(errs, "store: sqlite_path must not be empty for the sqlite driver")
	case driver == "postgres":
		errs = append(errs, c.Postgres.problems()...)
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	switch strings.ToLower(c.Crypto.Mode) {
	case "legacy":
	case "sealed":
		if c.Crypto.Iterations < 10_000 {
			errs = append(errs, "crypto: iterations must be >= 10000 in sealed mode")
		}
	default:
		errs = append(errs, fmt.Sprintf("crypto: unknown mode %q (valid: legacy, sealed)", c.Crypto.Mode))
	}
	if alg := strings.ToLower(c.Crypto.HashAlgorithm); alg != "sha256" && alg != "keccak256" {
		errs = append(errs, fmt.Sprintf("crypto: unknown hash_algorithm %q (valid: sha256, keccak256)", c.Crypto.HashAlgorithm))
	}

	if c.Market.InitialProb < 1 || c.Market.InitialProb > 99 {
		errs = append(errs, fmt.Sprintf("market: initial_prob must be 1-99, got %d", c.Market.InitialProb))
	}
	if !validVisibility[c.Market.Visibility] {
		errs = append(errs, fmt.Sprintf("market: unknown visibility %q (valid: public, unlisted)", c.Market.Visibility))
	}
	if c.Market.MaxCriteriaLen < 0 {
		errs = append(errs, "market: max_criteria_len must be >= 0")
	}

	if c.Reveal.MaxAttempts > 0 && c.Reveal.Window.Duration <= 0 {
		errs = append(errs, "reveal: window must be > 0 when max_attempts is set")
	}

	if c.Mode != "reconcile" && c.Server.Addr == "" {
		errs = append(errs, "server: addr must not be empty")
	}
	if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
		errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
	}
	for _, p := range c.Server.TrustedProxies {
		if !validProxy(strings.TrimSpace(p)) {
			errs = append(errs, fmt.Sprintf("server: trusted_proxies entry %q is not a CIDR or IP address", p))
		}
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if c.Mode == "full" && c.Reconcile.Interval.Duration <= 0 {
		errs = append(errs, "reconcile: interval must be > 0 in full mode")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validProxy(s string) bool {
	if strings.Contains(s, "/") {
		_, err := netip.ParsePrefix(s)
		return err == nil
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}

func (p PostgresConfig) problems() []string {
	var errs []string
	if strings.TrimSpace(p.DSN) == "" {
		if p.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if p.Port <= 0 || p.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", p.Port))
		}
		if p.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if p.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if p.PoolMinConns < 0 || p.PoolMinConns > p.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
	}
	return errs
}
