package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/secretmarket/internal/blob/s3"
	"github.com/alanyoungcy/secretmarket/internal/cache/redis"
	"github.com/alanyoungcy/secretmarket/internal/config"
	"github.com/alanyoungcy/secretmarket/internal/crypto"
	"github.com/alanyoungcy/secretmarket/internal/domain"
	"github.com/alanyoungcy/secretmarket/internal/notify"
	"github.com/alanyoungcy/secretmarket/internal/platform/manifold"
	"github.com/alanyoungcy/secretmarket/internal/server/handler"
	"github.com/alanyoungcy/secretmarket/internal/service"
	"github.com/alanyoungcy/secretmarket/internal/store/memory"
	"github.com/alanyoungcy/secretmarket/internal/store/postgres"
	"github.com/alanyoungcy/secretmarket/internal/store/sqlite"
)

// Dependencies bundles the concrete implementations the modes run on.
// Optional components are nil interfaces when their backend is disabled.
type Dependencies struct {
	Records domain.RecordStore
	Audit   domain.AuditStore

	// Redis
	Cache   domain.RecordCache
	Limiter domain.RateLimiter
	Locks   domain.LockManager
	Bus     domain.SignalBus

	// S3
	Journal domain.OrphanJournal
	Proofs  domain.ProofArchive

	Notifier service.EventNotifier
	Platform domain.MarketPlatform
	Cipher   *crypto.Cipher

	// Checks feeds /api/health.
	Checks map[string]handler.Check
}

// Wire builds Dependencies from cfg. The returned cleanup releases every
// opened resource.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Checks: map[string]handler.Check{}}

	cipher, err := crypto.NewCipher(crypto.Mode(strings.ToLower(cfg.Crypto.Mode)), cfg.Crypto.Iterations)
	if err != nil {
		return fail(fmt.Errorf("wire: cipher: %w", err))
	}
	deps.Cipher = cipher
	deps.Platform = manifold.NewClient(cfg.Manifold.BaseURL, cfg.Manifold.Timeout.Duration)

	// --- Record store ---
	switch strings.ToLower(cfg.Store.Driver) {
	case "postgres":
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pg.Close)
		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Records = postgres.NewRecordStore(pg.Pool())
		deps.Audit = postgres.NewAuditStore(pg.Pool())
		deps.Checks["postgres"] = pg.Ping

	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return fail(fmt.Errorf("wire: sqlite: %w", err))
		}
		closers = append(closers, func() { _ = db.Close() })
		deps.Records = sqlite.NewRecordStore(db)
		deps.Audit = sqlite.NewAuditStore(db)
		deps.Checks["sqlite"] = db.PingContext

	case "memory":
		logger.Warn("memory store selected: records are lost on restart")
		deps.Records = memory.NewRecordStore()
		deps.Audit = memory.NewAuditStore()

	default:
		return fail(fmt.Errorf("wire: unknown store driver %q", cfg.Store.Driver))
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = rc.Close() })

		deps.Cache = redis.NewRecordCache(rc, cfg.Redis.CacheTTL.Duration)
		deps.Limiter = redis.NewRateLimiter(rc)
		deps.Locks = redis.NewLockManager(rc)
		deps.Bus = redis.NewSignalBus(rc)
		deps.Checks["redis"] = rc.Ping
	}

	// --- S3 ---
	if cfg.S3.Enabled {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		journal := s3blob.NewJournal(s3blob.NewStore(sc))
		deps.Journal = journal
		deps.Proofs = journal
		deps.Checks["s3"] = sc.Health
	} else {
		logger.Warn("s3 disabled: orphaned markets are only logged")
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		tg, err := notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID, cfg.Notify.MaxRetries)
		if err != nil {
			return fail(fmt.Errorf("wire: telegram: %w", err))
		}
		senders = append(senders, tg)
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if n := notify.NewNotifier(senders, cfg.Notify.Events, logger); n.Enabled() {
		deps.Notifier = n
	}

	return deps, cleanup, nil
}
