package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/secretmarket/internal/domain"
	"github.com/alanyoungcy/secretmarket/internal/server"
	"github.com/alanyoungcy/secretmarket/internal/server/handler"
	"github.com/alanyoungcy/secretmarket/internal/server/middleware"
	"github.com/alanyoungcy/secretmarket/internal/server/ws"
	"github.com/alanyoungcy/secretmarket/internal/service"
)

// services are the service-layer objects every mode shares.
type services struct {
	markets    *service.SecretMarketService
	reconciler *service.Reconciler
}

func (a *App) newServices(deps *Dependencies) services {
	events := service.NewEvents(deps.Bus, deps.Audit, deps.Notifier, a.logger)
	revealer := service.NewRevealer(deps.Records, deps.Cipher, a.cfg.Reveal.VerifyCommitment)

	markets := service.NewSecretMarketService(service.Deps{
		Platform: deps.Platform,
		Store:    deps.Records,
		Cipher:   deps.Cipher,
		Revealer: revealer,
		Cache:    deps.Cache,
		Journal:  deps.Journal,
		Proofs:   deps.Proofs,
		Events:   events,
	}, service.Options{
		HashAlgorithm:  a.cfg.Crypto.HashAlgorithm,
		TitlePrefix:    a.cfg.Market.TitlePrefix,
		InitialProb:    a.cfg.Market.InitialProb,
		Visibility:     a.cfg.Market.Visibility,
		MaxCriteriaLen: a.cfg.Market.MaxCriteriaLen,
		Attribution:    a.cfg.Market.Attribution,
	}, a.logger)

	reconciler := service.NewReconciler(
		deps.Records, deps.Journal, deps.Platform, deps.Locks, events,
		a.cfg.Reconcile.CheckLimit, a.logger,
	)
	return services{markets: markets, reconciler: reconciler}
}

// ServerMode serves the HTTP API and, when a signal bus is wired, the
// WebSocket event stream.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	svcs := a.newServices(deps)
	g, ctx := errgroup.WithContext(ctx)
	if err := a.startHTTPServer(ctx, g, deps, svcs); err != nil {
		return fmt.Errorf("server mode: %w", err)
	}
	return g.Wait()
}

// ReconcileMode runs a single sweep, logs the report and returns.
func (a *App) ReconcileMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting reconcile mode")

	svcs := a.newServices(deps)
	report, err := svcs.reconciler.Sweep(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			a.logger.WarnContext(ctx, "another sweep is running, nothing to do")
			return nil
		}
		return fmt.Errorf("reconcile mode: %w", err)
	}
	a.logger.InfoContext(ctx, "sweep finished",
		slog.Int("replayed", report.Replayed),
		slog.Int("already_present", report.AlreadyPresent),
		slog.Int("failed", report.Failed),
		slog.Int("checked", report.Checked),
		slog.Any("missing", report.Missing),
	)
	return nil
}

// FullMode runs the server together with the periodic reconciler.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode",
		slog.Duration("reconcile_interval", a.cfg.Reconcile.Interval.Duration),
	)

	svcs := a.newServices(deps)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return svcs.reconciler.Run(ctx, a.cfg.Reconcile.Interval.Duration)
	})
	if err := a.startHTTPServer(ctx, g, deps, svcs); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	return g.Wait()
}

// startHTTPServer builds the handlers and registers the server, the hub and
// the shutdown watcher on g.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs services) error {
	trusted, err := middleware.ParseTrustedProxies(a.cfg.Server.TrustedProxies)
	if err != nil {
		return err
	}
	startedAt := time.Now().UTC()

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.Checks, a.logger),
		Status: &handler.StatusHandler{
			Mode:          a.cfg.Mode,
			StoreDriver:   a.cfg.Store.Driver,
			CipherMode:    string(deps.Cipher.Mode()),
			HashAlgorithm: a.cfg.Crypto.HashAlgorithm,
			StartedAt:     startedAt,
		},
		Markets: handler.NewMarketHandler(svcs.markets, deps.Limiter, handler.RevealLimit{
			Max:    a.cfg.Reveal.MaxAttempts,
			Window: a.cfg.Reveal.Window.Duration,
		}, a.logger),
		Admin: handler.NewAdminHandler(svcs.reconciler, a.logger),
	}

	// The hub needs only the signal bus.
	if deps.Bus != nil {
		hub := ws.NewHub(deps.Bus, a.logger, ws.Config{Mode: a.cfg.Mode, StartedAt: startedAt})
		handlers.Hub = hub
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	srv := server.NewServer(server.Config{
		Addr:           a.cfg.Server.Addr,
		CORSOrigins:    a.cfg.Server.CORSOrigins,
		AdminKey:       a.cfg.Server.AdminKey,
		RateLimit:      a.cfg.Server.RateLimit,
		RateWindow:     a.cfg.Server.RateWindow.Duration,
		TrustedProxies: trusted,
	}, handlers, deps.Limiter, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
	return nil
}
