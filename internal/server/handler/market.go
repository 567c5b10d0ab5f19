package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/secretmarket/internal/domain"
	"github.com/alanyoungcy/secretmarket/internal/server/middleware"
	"github.com/alanyoungcy/secretmarket/internal/service"
)

// MarketService is the part of the service layer the market routes use.
type MarketService interface {
	CreateSecretMarket(ctx context.Context, req service.CreateRequest) (service.CreateResult, error)
	GetPublicInfo(ctx context.Context, id string) (domain.PublicInfo, error)
	MarketDetails(ctx context.Context, id string) (service.MarketDetails, error)
	RevealCriteria(ctx context.Context, id, key string) (service.Revelation, error)
	RecoverPassword(ctx context.Context, id, apiKey string) (string, error)
	Resolve(ctx context.Context, id, apiKey string, res domain.Resolution) error
	Disclose(ctx context.Context, id, revealKey, apiKey string) (service.Revelation, error)
	Lookup(ctx context.Context, urlOrSlug string) (service.LookupResult, error)
}

// RevealLimit caps key attempts per market and client IP. A zero Max
// disables it.
type RevealLimit struct {
	Max    int
	Window time.Duration
}

// MarketHandler serves the secret market routes.
type MarketHandler struct {
	markets MarketService
	limiter domain.RateLimiter
	limit   RevealLimit
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler. limiter may be nil.
func NewMarketHandler(markets MarketService, limiter domain.RateLimiter, limit RevealLimit, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		limiter: limiter,
		limit:   limit,
		logger:  logger.With(slog.String("handler", "markets")),
	}
}

type createMarketRequest struct {
	Criteria  string    `json:"criteria"`
	APIKey    string    `json:"api_key"`
	Password  string    `json:"password"`
	CloseTime time.Time `json:"close_time"`
	Question  string    `json:"question"`
}

// CreateMarket creates a secret market.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	res, err := h.markets.CreateSecretMarket(r.Context(), service.CreateRequest{
		Criteria:  req.Criteria,
		APIKey:    strings.TrimSpace(req.APIKey),
		Password:  req.Password,
		CloseTime: req.CloseTime,
		Question:  req.Question,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// GetMarket returns public info, or the criteria when an X-API-Key header is
// sent.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if key := r.Header.Get("X-API-Key"); key != "" {
		h.reveal(w, r, id, key)
		return
	}
	info, err := h.markets.GetPublicInfo(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// GetDetails returns public info joined with the platform's market.
// GET /api/markets/{id}/details
func (h *MarketHandler) GetDetails(w http.ResponseWriter, r *http.Request) {
	d, err := h.markets.MarketDetails(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type revealRequest struct {
	Key string `json:"key"`
}

// Reveal returns the criteria to a holder of the API key or password.
// POST /api/markets/{id}/reveal
func (h *MarketHandler) Reveal(w http.ResponseWriter, r *http.Request) {
	var req revealRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	h.reveal(w, r, r.PathValue("id"), req.Key)
}

func (h *MarketHandler) reveal(w http.ResponseWriter, r *http.Request, id, key string) {
	if !h.allowAttempt(w, r, id) {
		return
	}
	rev, err := h.markets.RevealCriteria(r.Context(), id, key)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rev)
}

type resolveRequest struct {
	APIKey      string `json:"api_key"`
	Outcome     string `json:"outcome"`
	Probability int    `json:"probability"`
}

// Resolve resolves the external market.
// POST /api/markets/{id}/resolve
func (h *MarketHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	id := r.PathValue("id")
	res := domain.Resolution{
		Outcome:        domain.Outcome(strings.ToUpper(strings.TrimSpace(req.Outcome))),
		ProbabilityInt: req.Probability,
	}
	if err := h.markets.Resolve(r.Context(), id, strings.TrimSpace(req.APIKey), res); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "outcome": res.Outcome})
}

type discloseRequest struct {
	Key    string `json:"key"`
	APIKey string `json:"api_key"`
}

// Disclose posts the criteria on the market and marks it revealed. key
// defaults to api_key.
// POST /api/markets/{id}/disclose
func (h *MarketHandler) Disclose(w http.ResponseWriter, r *http.Request) {
	var req discloseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	id := r.PathValue("id")
	if !h.allowAttempt(w, r, id) {
		return
	}
	apiKey := strings.TrimSpace(req.APIKey)
	key := req.Key
	if key == "" {
		key = apiKey
	}
	rev, err := h.markets.Disclose(r.Context(), id, key, apiKey)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rev)
}

type passwordRequest struct {
	APIKey string `json:"api_key"`
}

// RecoverPassword returns the market password to its creator.
// POST /api/markets/{id}/password
func (h *MarketHandler) RecoverPassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	id := r.PathValue("id")
	if !h.allowAttempt(w, r, id) {
		return
	}
	pw, err := h.markets.RecoverPassword(r.Context(), id, strings.TrimSpace(req.APIKey))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "password": pw})
}

// Lookup resolves a market URL or slug.
// GET /api/lookup?url=...
func (h *MarketHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	res, err := h.markets.Lookup(r.Context(), r.URL.Query().Get("url"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// allowAttempt counts a key attempt against the market and client IP and
// writes 429 when over the limit. Limiter errors fail open.
func (h *MarketHandler) allowAttempt(w http.ResponseWriter, r *http.Request, id string) bool {
	if h.limiter == nil || h.limit.Max <= 0 {
		return true
	}
	ip := middleware.ClientIP(r)
	ok, err := h.limiter.Allow(r.Context(), "reveal:"+id+":"+ip, h.limit.Max, h.limit.Window)
	if err != nil {
		h.logger.WarnContext(r.Context(), "reveal limiter unavailable", slog.String("error", err.Error()))
		return true
	}
	if !ok {
		h.logger.InfoContext(r.Context(), "reveal attempts exhausted",
			slog.String("market_id", id),
			slog.String("client_ip", ip),
		)
		writeServiceError(w, r, h.logger, domain.ErrRateLimited)
		return false
	}
	return true
}
