// Package manifold is a REST client for the Manifold Markets v0 API.
package manifold

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/alanyoungcy/secretmarket/internal/domain"
)

// DefaultBaseURL is the public v0 API root.
const DefaultBaseURL = "https://api.manifold.markets/v0"

// maxResponseBytes caps how much of a response body is read. Market and
// comment payloads are a few KiB.
const maxResponseBytes = 4 << 20

// Client talks to the Manifold v0 API. It holds no credentials; every
// mutating call takes the acting user's API key.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new Manifold client. A zero timeout selects 30s.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// CreateMarket creates a binary market owned by the holder of apiKey.
func (c *Client) CreateMarket(ctx context.Context, apiKey string, m domain.NewExternalMarket) (domain.ExternalMarket, error) {
	desc, err := docJSON(m.Description)
	if err != nil {
		return domain.ExternalMarket{}, fmt.Errorf("manifold: encode description: %w", err)
	}
	req := createMarketRequest{
		OutcomeType:     "BINARY",
		Question:        m.Question,
		DescriptionJSON: desc,
		InitialProb:     m.InitialProb,
		CloseTime:       m.CloseTime.UnixMilli(),
		Visibility:      m.Visibility,
	}

	body, err := c.do(ctx, http.MethodPost, "/market", apiKey, req)
	if err != nil {
		return domain.ExternalMarket{}, upstream("create market", err)
	}

	var created APIMarket
	if err := json.Unmarshal(body, &created); err != nil {
		return domain.ExternalMarket{}, upstream("create market", fmt.Errorf("decode market: %w", err))
	}
	if created.ID == "" {
		return domain.ExternalMarket{}, &domain.UpstreamError{Op: "create market", Message: "response carried no market id"}
	}
	return created.ToDomain(), nil
}

// GetMarket returns a single market by its ID.
func (c *Client) GetMarket(ctx context.Context, id string) (domain.ExternalMarket, error) {
	return c.getMarket(ctx, "get market", "/market/"+url.PathEscape(id))
}

// GetMarketBySlug returns a single market looked up by its URL slug.
func (c *Client) GetMarketBySlug(ctx context.Context, slug string) (domain.ExternalMarket, error) {
	return c.getMarket(ctx, "get market by slug", "/slug/"+url.PathEscape(slug))
}

func (c *Client) getMarket(ctx context.Context, op, path string) (domain.ExternalMarket, error) {
	body, err := c.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.status == http.StatusNotFound {
			return domain.ExternalMarket{}, fmt.Errorf("manifold: %s: %w", op, domain.ErrNotFound)
		}
		return domain.ExternalMarket{}, upstream(op, err)
	}

	var m APIMarket
	if err := json.Unmarshal(body, &m); err != nil {
		return domain.ExternalMarket{}, upstream(op, fmt.Errorf("decode market: %w", err))
	}
	return m.ToDomain(), nil
}

// Resolve resolves a market. The platform rejects keys that do not belong to
// the market's creator.
func (c *Client) Resolve(ctx context.Context, apiKey, id string, res domain.Resolution) error {
	req := resolveRequest{Outcome: string(res.Outcome)}
	if res.Outcome == domain.OutcomeMKT {
		p := res.ProbabilityInt
		req.ProbabilityInt = &p
	}
	if _, err := c.do(ctx, http.MethodPost, "/market/"+url.PathEscape(id)+"/resolve", apiKey, req); err != nil {
		return upstream("resolve market", err)
	}
	return nil
}

// PostComment posts a rich-text comment on a market as the holder of apiKey.
func (c *Client) PostComment(ctx context.Context, apiKey, id string, body domain.RichText) error {
	req := commentRequest{ContractID: id, Content: toDoc(body)}
	if _, err := c.do(ctx, http.MethodPost, "/comment", apiKey, req); err != nil {
		return upstream("post comment", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// statusError is a non-2xx response.
type statusError struct {
	status  int
	message string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.status, e.message)
}

// upstream wraps a transport or status failure into a domain.UpstreamError.
func upstream(op string, err error) error {
	var se *statusError
	if errors.As(err, &se) {
		return &domain.UpstreamError{Op: op, Status: se.status, Message: se.message}
	}
	return &domain.UpstreamError{Op: op, Err: err}
}

// do sends a request and returns the response body. payload, when non-nil, is
// sent as JSON. apiKey, when non-empty, is sent as "Authorization: Key <k>".
func (c *Client) do(ctx context.Context, method, path, apiKey string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Key "+apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	oversized := len(body) > maxResponseBytes
	if oversized {
		body = body[:maxResponseBytes]
	}

	if err := checkStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	if oversized {
		return nil, fmt.Errorf("response exceeds %d bytes", maxResponseBytes)
	}
	return body, nil
}

// checkStatus maps non-2xx status codes to a statusError carrying the API's
// message when one is present.
func checkStatus(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	var apiErr APIError
	msg := http.StatusText(status)
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Message != "" {
		msg = apiErr.Message
	}
	return &statusError{status: status, message: msg}
}
