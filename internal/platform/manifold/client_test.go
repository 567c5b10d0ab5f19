package manifold

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/secretmarket/internal/domain"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 5*time.Second)
}

func TestCreateMarket(t *testing.T) {
	closeAt := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)

	var got createMarketRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/market", r.URL.Path)
		assert.Equal(t, "Key user-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"id":"abc123","slug":"secret-market-deadbeef","url":"https://manifold.markets/u/secret-market-deadbeef","question":"Secret Market deadbeef","closeTime":1893553445000}`)
	})

	m, err := c.CreateMarket(context.Background(), "user-key", domain.NewExternalMarket{
		Question:    "Secret Market deadbeef",
		Description: domain.RichText{Paragraphs: []string{"hash is deadbeef", "made here"}},
		InitialProb: 50,
		CloseTime:   closeAt,
		Visibility:  "unlisted",
	})
	require.NoError(t, err)
	assert.Equal(t, "abc123", m.ID)
	assert.Equal(t, "secret-market-deadbeef", m.Slug)
	require.NotNil(t, m.CloseTime)
	assert.True(t, m.CloseTime.Equal(closeAt))

	assert.Equal(t, "BINARY", got.OutcomeType)
	assert.Equal(t, 50, got.InitialProb)
	assert.Equal(t, closeAt.UnixMilli(), got.CloseTime)
	assert.Equal(t, "unlisted", got.Visibility)

	var doc docNode
	require.NoError(t, json.Unmarshal([]byte(got.DescriptionJSON), &doc))
	assert.Equal(t, "doc", doc.Type)
	require.Len(t, doc.Content, 2)
	assert.Equal(t, "paragraph", doc.Content[0].Type)
	assert.Equal(t, "hash is deadbeef", doc.Content[0].Content[0].Text)
}

func TestCreateMarketUpstreamError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"message":"Insufficient balance"}`)
	})

	_, err := c.CreateMarket(context.Background(), "k", domain.NewExternalMarket{CloseTime: time.Now()})
	var ue *domain.UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, http.StatusForbidden, ue.Status)
	assert.Equal(t, "Insufficient balance", ue.Message)
}

func TestCreateMarketMissingID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	})
	_, err := c.CreateMarket(context.Background(), "k", domain.NewExternalMarket{CloseTime: time.Now()})
	var ue *domain.UpstreamError
	assert.True(t, errors.As(err, &ue))
}

func TestCreateMarketTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := NewClient(srv.URL, time.Second)

	_, err := c.CreateMarket(context.Background(), "k", domain.NewExternalMarket{CloseTime: time.Now()})
	var ue *domain.UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Zero(t, ue.Status)
}

func TestGetMarket(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/market/abc", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"id":"abc","question":"Q","probability":0.42,"isResolved":true,"resolution":"YES"}`)
	})

	m, err := c.GetMarket(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "Q", m.Question)
	assert.InDelta(t, 0.42, m.Probability, 1e-9)
	assert.True(t, m.IsResolved)
	assert.Equal(t, "YES", m.Resolution)
	assert.Nil(t, m.CloseTime)
}

func TestGetMarketNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	_, err := c.GetMarketBySlug(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetMarketOversizedResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"id":"m1","question":"`)
		_, _ = io.WriteString(w, strings.Repeat("x", maxResponseBytes))
		_, _ = io.WriteString(w, `"}`)
	})

	_, err := c.GetMarket(context.Background(), "m1")
	require.Error(t, err)
	var ue *domain.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "get market", ue.Op)
	assert.Contains(t, err.Error(), "response exceeds")
}

func TestGetMarketBySlugPath(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/slug/will-it-rain", r.URL.Path)
		_, _ = io.WriteString(w, `{"id":"xyz","slug":"will-it-rain"}`)
	})
	m, err := c.GetMarketBySlug(context.Background(), "will-it-rain")
	require.NoError(t, err)
	assert.Equal(t, "xyz", m.ID)
}

func TestResolve(t *testing.T) {
	var bodies []map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/market/abc/resolve", r.URL.Path)
		assert.Equal(t, "Key creator", r.Header.Get("Authorization"))
		var b map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&b))
		bodies = append(bodies, b)
		_, _ = io.WriteString(w, `{}`)
	})

	require.NoError(t, c.Resolve(context.Background(), "creator", "abc", domain.Resolution{Outcome: domain.OutcomeYes}))
	require.NoError(t, c.Resolve(context.Background(), "creator", "abc", domain.Resolution{Outcome: domain.OutcomeMKT, ProbabilityInt: 30}))

	require.Len(t, bodies, 2)
	assert.Equal(t, "YES", bodies[0]["outcome"])
	assert.NotContains(t, bodies[0], "probabilityInt")
	assert.Equal(t, "MKT", bodies[1]["outcome"])
	assert.EqualValues(t, 30, bodies[1]["probabilityInt"])
}

func TestPostComment(t *testing.T) {
	var got commentRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/comment", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{}`)
	})

	err := c.PostComment(context.Background(), "k", "abc", domain.RichText{Paragraphs: []string{"criteria", "", "end"}})
	require.NoError(t, err)
	assert.Equal(t, "abc", got.ContractID)
	assert.Equal(t, "doc", got.Content.Type)
	require.Len(t, got.Content.Content, 3)
	assert.Empty(t, got.Content.Content[1].Content)
}

func TestSlugFromURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"https://manifold.markets/alice/will-it-rain", "will-it-rain", true},
		{"https://manifold.markets/alice/will-it-rain/", "will-it-rain", true},
		{"https://manifold.markets/alice/will-it-rain?r=abc", "will-it-rain", true},
		{"will-it-rain", "will-it-rain", true},
		{"", "", false},
		{"https://manifold.markets/", "", false},
	}
	for _, tt := range tests {
		got, ok := SlugFromURL(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
