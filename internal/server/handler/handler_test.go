package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/secretmarket/internal/domain"
	"github.com/alanyoungcy/secretmarket/internal/server/middleware"
	"github.com/alanyoungcy/secretmarket/internal/service"
)

type stubMarkets struct {
	createReq  service.CreateRequest
	createErr  error
	info       domain.PublicInfo
	infoErr    error
	revealKey  string
	revealErr  error
	resolveRes domain.Resolution
	resolveKey string
	resolveErr error
	discloseID [2]string
	pwErr      error
	lookupArg  string
}

func (s *stubMarkets) CreateSecretMarket(_ context.Context, req service.CreateRequest) (service.CreateResult, error) {
	s.createReq = req
	if s.createErr != nil {
		return service.CreateResult{}, s.createErr
	}
	return service.CreateResult{ID: "m1", Hash: "abc", URL: "https://manifold.markets/a/m1", Slug: "m1"}, nil
}

func (s *stubMarkets) GetPublicInfo(context.Context, string) (domain.PublicInfo, error) {
	return s.info, s.infoErr
}

func (s *stubMarkets) MarketDetails(_ context.Context, id string) (service.MarketDetails, error) {
	return service.MarketDetails{PublicInfo: domain.PublicInfo{ID: id}, Question: "q"}, nil
}

func (s *stubMarkets) RevealCriteria(_ context.Context, id, key string) (service.Revelation, error) {
	s.revealKey = key
	if s.revealErr != nil {
		return service.Revelation{}, s.revealErr
	}
	return service.Revelation{MarketID: id, Criteria: "secret", Verified: true, Via: service.RoleCriteriaKey}, nil
}

func (s *stubMarkets) RecoverPassword(_ context.Context, _, apiKey string) (string, error) {
	if s.pwErr != nil {
		return "", s.pwErr
	}
	return "pw-for-" + apiKey, nil
}

func (s *stubMarkets) Resolve(_ context.Context, _, apiKey string, res domain.Resolution) error {
	s.resolveKey = apiKey
	s.resolveRes = res
	return s.resolveErr
}

func (s *stubMarkets) Disclose(_ context.Context, id, revealKey, apiKey string) (service.Revelation, error) {
	s.discloseID = [2]string{revealKey, apiKey}
	return service.Revelation{MarketID: id, Criteria: "secret"}, nil
}

func (s *stubMarkets) Lookup(_ context.Context, urlOrSlug string) (service.LookupResult, error) {
	s.lookupArg = urlOrSlug
	if urlOrSlug == "" {
		return service.LookupResult{}, domain.NewValidationError("invalid market url")
	}
	return service.LookupResult{ID: "m1", Slug: "m1", HasRecord: true}, nil
}

// countLimiter allows the first n calls per key.
type countLimiter struct {
	seen map[string]int
	err  error
}

func (l *countLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	if l.seen == nil {
		l.seen = map[string]int{}
	}
	l.seen[key]++
	return l.seen[key] <= limit, nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newMux(svc MarketService, limiter domain.RateLimiter) *http.ServeMux {
	h := NewMarketHandler(svc, limiter, RevealLimit{Max: 2, Window: time.Minute}, discard())
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/markets", h.CreateMarket)
	mux.HandleFunc("GET /api/markets/{id}", h.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/details", h.GetDetails)
	mux.HandleFunc("POST /api/markets/{id}/reveal", h.Reveal)
	mux.HandleFunc("POST /api/markets/{id}/resolve", h.Resolve)
	mux.HandleFunc("POST /api/markets/{id}/disclose", h.Disclose)
	mux.HandleFunc("POST /api/markets/{id}/password", h.RecoverPassword)
	mux.HandleFunc("GET /api/lookup", h.Lookup)
	return mux
}

func do(t *testing.T, h http.Handler, method, target, body string, header ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestCreateMarket(t *testing.T) {
	svc := &stubMarkets{}
	mux := newMux(svc, nil)

	rec, body := do(t, mux, http.MethodPost, "/api/markets",
		`{"criteria":"rain","api_key":" k ","password":"pw","close_time":"2030-01-02T03:04:05Z"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "m1", body["id"])
	assert.Equal(t, "k", svc.createReq.APIKey)
	assert.Equal(t, "pw", svc.createReq.Password)
	assert.Equal(t, time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC), svc.createReq.CloseTime.UTC())

	rec, body = do(t, mux, http.MethodPost, "/api/markets", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid request", body["error"])

	rec, _ = do(t, mux, http.MethodPost, "/api/markets", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateMarket_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", domain.NewValidationError("criteria is required"), http.StatusBadRequest},
		{"upstream", &domain.UpstreamError{Op: "create market", Status: 400, Message: "bad close time"}, http.StatusBadGateway},
		{"persistence", &domain.PersistenceError{Op: "insert record", ExternalID: "m9", Err: errors.New("db")}, http.StatusInternalServerError},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := newMux(&stubMarkets{createErr: tt.err}, nil)
			rec, body := do(t, mux, http.MethodPost, "/api/markets", `{"criteria":"x"}`)
			assert.Equal(t, tt.want, rec.Code)
			if tt.name == "persistence" {
				assert.Equal(t, "m9", body["external_id"])
			}
			if tt.name == "upstream" {
				assert.Equal(t, "bad close time", body["message"])
			}
			if tt.name == "other" {
				assert.NotContains(t, rec.Body.String(), "boom")
			}
		})
	}
}

func TestGetMarket(t *testing.T) {
	svc := &stubMarkets{info: domain.PublicInfo{ID: "m1", Hash: "abc"}}
	mux := newMux(svc, nil)

	rec, body := do(t, mux, http.MethodGet, "/api/markets/m1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc", body["hash"])
	assert.NotContains(t, body, "criteria")

	rec, body = do(t, mux, http.MethodGet, "/api/markets/m1", "", "X-API-Key", "creator")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "secret", body["criteria"])
	assert.Equal(t, "creator", svc.revealKey)

	svc.infoErr = fmt.Errorf("memory: record x: %w", domain.ErrNotFound)
	rec, _ = do(t, mux, http.MethodGet, "/api/markets/x", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = do(t, mux, http.MethodGet, "/api/markets/m1/details", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "q", body["question"])
	assert.Equal(t, "m1", body["id"])
}

func TestReveal(t *testing.T) {
	svc := &stubMarkets{}
	mux := newMux(svc, nil)

	rec, body := do(t, mux, http.MethodPost, "/api/markets/m1/reveal", `{"key":"pw"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "secret", body["criteria"])
	assert.Equal(t, true, body["verified"])

	svc.revealErr = fmt.Errorf("service: reveal m1: %w", domain.ErrUnauthorized)
	rec, body = do(t, mux, http.MethodPost, "/api/markets/m1/reveal", `{"key":"bad"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid key", body["error"])
}

func TestReveal_AttemptLimit(t *testing.T) {
	svc := &stubMarkets{revealErr: domain.ErrUnauthorized}
	limiter := &countLimiter{}
	mux := newMux(svc, limiter)

	for range 2 {
		rec, _ := do(t, mux, http.MethodPost, "/api/markets/m1/reveal", `{"key":"guess"}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec, _ := do(t, mux, http.MethodPost, "/api/markets/m1/reveal", `{"key":"guess"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Other markets have their own budget.
	rec, _ = do(t, mux, http.MethodPost, "/api/markets/m2/reveal", `{"key":"guess"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Limiter outages do not block reveals.
	rec, _ = do(t, newMux(&stubMarkets{}, &countLimiter{err: errors.New("down")}), http.MethodPost, "/api/markets/m1/reveal", `{"key":"k"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReveal_AttemptLimitIgnoresSpoofedForwarding(t *testing.T) {
	svc := &stubMarkets{revealErr: domain.ErrUnauthorized}
	h := middleware.RealIP(nil)(newMux(svc, &countLimiter{}))

	rejected := 0
	for i := range 50 {
		req := httptest.NewRequest(http.MethodPost, "/api/markets/m1/reveal", strings.NewReader(`{"key":"guess"}`))
		req.RemoteAddr = "192.0.2.50:4000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		req.Header.Set("X-Real-IP", fmt.Sprintf("203.0.113.%d", i))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			rejected++
		}
	}
	assert.Equal(t, 48, rejected)
}

func TestReveal_AttemptLimitBehindTrustedProxy(t *testing.T) {
	svc := &stubMarkets{revealErr: domain.ErrUnauthorized}
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}
	h := middleware.RealIP(trusted)(newMux(svc, &countLimiter{}))

	attempt := func(client string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/markets/m1/reveal", strings.NewReader(`{"key":"guess"}`))
		req.RemoteAddr = "10.0.0.2:4000"
		req.Header.Set("X-Forwarded-For", client)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, attempt("198.51.100.1"))
	assert.Equal(t, http.StatusUnauthorized, attempt("198.51.100.1"))
	assert.Equal(t, http.StatusTooManyRequests, attempt("198.51.100.1"))
	// Distinct clients behind the proxy keep separate budgets.
	assert.Equal(t, http.StatusUnauthorized, attempt("198.51.100.2"))
	// A client-prepended hop does not change who is counted.
	assert.Equal(t, http.StatusTooManyRequests, attempt("203.0.113.77, 198.51.100.1"))
}

func TestResolve(t *testing.T) {
	svc := &stubMarkets{}
	mux := newMux(svc, nil)

	rec, body := do(t, mux, http.MethodPost, "/api/markets/m1/resolve", `{"api_key":"k","outcome":" mkt ","probability":65}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MKT", body["outcome"])
	assert.Equal(t, domain.OutcomeMKT, svc.resolveRes.Outcome)
	assert.Equal(t, 65, svc.resolveRes.ProbabilityInt)
	assert.Equal(t, "k", svc.resolveKey)

	svc.resolveErr = &domain.UpstreamError{Op: "resolve market", Err: errors.New("timeout")}
	rec, body = do(t, mux, http.MethodPost, "/api/markets/m1/resolve", `{"api_key":"k","outcome":"YES"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "resolve market", body["op"])
}

func TestDisclose(t *testing.T) {
	svc := &stubMarkets{}
	mux := newMux(svc, nil)

	rec, _ := do(t, mux, http.MethodPost, "/api/markets/m1/disclose", `{"api_key":"k"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, [2]string{"k", "k"}, svc.discloseID)

	rec, _ = do(t, mux, http.MethodPost, "/api/markets/m1/disclose", `{"key":"pw","api_key":"k"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, [2]string{"pw", "k"}, svc.discloseID)
}

func TestRecoverPassword(t *testing.T) {
	svc := &stubMarkets{}
	mux := newMux(svc, nil)

	rec, body := do(t, mux, http.MethodPost, "/api/markets/m1/password", `{"api_key":"k"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pw-for-k", body["password"])

	svc.pwErr = fmt.Errorf("no password set: %w", domain.ErrNotFound)
	rec, _ = do(t, mux, http.MethodPost, "/api/markets/m1/password", `{"api_key":"k"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLookup(t *testing.T) {
	svc := &stubMarkets{}
	mux := newMux(svc, nil)

	rec, body := do(t, mux, http.MethodGet, "/api/lookup?url=https%3A%2F%2Fmanifold.markets%2Fa%2Fm1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["has_record"])
	assert.Equal(t, "https://manifold.markets/a/m1", svc.lookupArg)

	rec, _ = do(t, mux, http.MethodGet, "/api/lookup", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type stubSweeper struct {
	report service.SweepReport
	err    error
}

func (s stubSweeper) Sweep(context.Context) (service.SweepReport, error) { return s.report, s.err }

func TestAdminReconcile(t *testing.T) {
	h := NewAdminHandler(stubSweeper{report: service.SweepReport{Replayed: 2}}, discard())
	rec, body := do(t, http.HandlerFunc(h.Reconcile), http.MethodPost, "/api/admin/reconcile", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["replayed"])
	assert.Equal(t, []any{}, body["missing"])

	h = NewAdminHandler(stubSweeper{err: fmt.Errorf("reconcile: %w", domain.ErrLockHeld)}, discard())
	rec, _ = do(t, http.HandlerFunc(h.Reconcile), http.MethodPost, "/api/admin/reconcile", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHealthCheck(t *testing.T) {
	h := NewHealthHandler(map[string]Check{
		"store": func(context.Context) error { return nil },
	}, discard())
	rec, body := do(t, http.HandlerFunc(h.HealthCheck), http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	h = NewHealthHandler(map[string]Check{
		"store": func(context.Context) error { return nil },
		"redis": func(context.Context) error { return errors.New("refused") },
	}, discard())
	rec, body = do(t, http.HandlerFunc(h.HealthCheck), http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, map[string]any{"store": "ok", "redis": "unavailable"}, body["checks"])
}
