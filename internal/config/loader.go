package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path over Defaults, loads a .env file from the
// working directory if present, then applies SECRETMARKET_* overrides. An
// empty path skips the file. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose SECRETMARKET_* variable is set
// and parses. Secrets are expected to arrive this way.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Manifold.BaseURL, "SECRETMARKET_MANIFOLD_BASE_URL")
	setDuration(&cfg.Manifold.Timeout, "SECRETMARKET_MANIFOLD_TIMEOUT")

	setStr(&cfg.Store.Driver, "SECRETMARKET_STORE_DRIVER")
	setStr(&cfg.Store.SQLitePath, "SECRETMARKET_STORE_SQLITE_PATH")

	setStr(&cfg.Postgres.DSN, "SECRETMARKET_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL")
	setStr(&cfg.Postgres.Host, "SECRETMARKET_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SECRETMARKET_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SECRETMARKET_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SECRETMARKET_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SECRETMARKET_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SECRETMARKET_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SECRETMARKET_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SECRETMARKET_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SECRETMARKET_POSTGRES_RUN_MIGRATIONS")

	setBool(&cfg.Redis.Enabled, "SECRETMARKET_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "SECRETMARKET_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SECRETMARKET_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SECRETMARKET_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SECRETMARKET_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "SECRETMARKET_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "SECRETMARKET_REDIS_KEY_PREFIX")

	setBool(&cfg.S3.Enabled, "SECRETMARKET_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SECRETMARKET_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SECRETMARKET_S3_REGION")
	setStr(&cfg.S3.Bucket, "SECRETMARKET_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SECRETMARKET_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SECRETMARKET_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SECRETMARKET_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SECRETMARKET_S3_FORCE_PATH_STYLE")

	setStr(&cfg.Crypto.Mode, "SECRETMARKET_CRYPTO_MODE")
	setInt(&cfg.Crypto.Iterations, "SECRETMARKET_CRYPTO_ITERATIONS")
	setStr(&cfg.Crypto.HashAlgorithm, "SECRETMARKET_CRYPTO_HASH_ALGORITHM")

	setStr(&cfg.Market.Visibility, "SECRETMARKET_MARKET_VISIBILITY")
	setStr(&cfg.Market.Attribution, "SECRETMARKET_MARKET_ATTRIBUTION")

	setBool(&cfg.Reveal.VerifyCommitment, "SECRETMARKET_REVEAL_VERIFY_COMMITMENT")
	setInt(&cfg.Reveal.MaxAttempts, "SECRETMARKET_REVEAL_MAX_ATTEMPTS")
	setDuration(&cfg.Reveal.Window, "SECRETMARKET_REVEAL_WINDOW")

	setStr(&cfg.Server.Addr, "SECRETMARKET_SERVER_ADDR")
	setStr(&cfg.Server.AdminKey, "SECRETMARKET_SERVER_ADMIN_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "SECRETMARKET_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "SECRETMARKET_SERVER_RATE_LIMIT")
	setStringSlice(&cfg.Server.TrustedProxies, "SECRETMARKET_SERVER_TRUSTED_PROXIES")

	setStr(&cfg.Notify.TelegramToken, "SECRETMARKET_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SECRETMARKET_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SECRETMARKET_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SECRETMARKET_NOTIFY_EVENTS")

	setDuration(&cfg.Reconcile.Interval, "SECRETMARKET_RECONCILE_INTERVAL")
	setInt(&cfg.Reconcile.CheckLimit, "SECRETMARKET_RECONCILE_CHECK_LIMIT")

	setStr(&cfg.Mode, "SECRETMARKET_MODE")
	setStr(&cfg.LogLevel, "SECRETMARKET_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}
