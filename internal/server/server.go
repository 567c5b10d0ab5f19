package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/alanyoungcy/secretmarket/internal/domain"
	"github.com/alanyoungcy/secretmarket/internal/server/handler"
	"github.com/alanyoungcy/secretmarket/internal/server/middleware"
	"github.com/alanyoungcy/secretmarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Addr        string
	CORSOrigins []string

	// AdminKey guards /api/admin routes. Empty disables them.
	AdminKey string

	// RateLimit and RateWindow bound requests per client IP. Applied only
	// when a limiter is supplied.
	RateLimit  int
	RateWindow time.Duration

	// TrustedProxies may set X-Forwarded-For and X-Real-IP. Other peers are
	// identified by their remote address.
	TrustedProxies []netip.Prefix
}

// Handlers aggregates the handlers the server registers. Admin and Hub may
// be nil.
type Handlers struct {
	Health  *handler.HealthHandler
	Status  *handler.StatusHandler
	Markets *handler.MarketHandler
	Admin   *handler.AdminHandler
	Hub     *ws.Hub
}

// Server is the HTTP and WebSocket API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers the routes and builds the middleware chain. limiter may
// be nil.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http"))
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	m := handlers.Markets
	mux.HandleFunc("POST /api/markets", m.CreateMarket)
	mux.HandleFunc("GET /api/markets/{id}", m.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/details", m.GetDetails)
	mux.HandleFunc("POST /api/markets/{id}/reveal", m.Reveal)
	mux.HandleFunc("POST /api/markets/{id}/resolve", m.Resolve)
	mux.HandleFunc("POST /api/markets/{id}/disclose", m.Disclose)
	mux.HandleFunc("POST /api/markets/{id}/password", m.RecoverPassword)
	mux.HandleFunc("GET /api/lookup", m.Lookup)

	if handlers.Admin != nil {
		mux.Handle("POST /api/admin/reconcile",
			middleware.Auth(cfg.AdminKey)(http.HandlerFunc(handlers.Admin.Reconcile)))
	}
	if handlers.Hub != nil {
		mux.HandleFunc("GET /ws", handlers.Hub.HandleWS)
	}

	var h http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	h = middleware.RealIP(cfg.TrustedProxies)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the full middleware chain, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
