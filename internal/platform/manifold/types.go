package manifold

import (
	"encoding/json"
	"time"

	"github.com/alanyoungcy/secretmarket/internal/domain"
)

// --------------------------------------------------------------------------
// Request DTOs
// --------------------------------------------------------------------------

// createMarketRequest is the body of POST /v0/market.
type createMarketRequest struct {
	OutcomeType     string `json:"outcomeType"`
	Question        string `json:"question"`
	DescriptionJSON string `json:"descriptionJson"`
	InitialProb     int    `json:"initialProb"`
	CloseTime       int64  `json:"closeTime"` // unix millis
	Visibility      string `json:"visibility,omitempty"`
}

// resolveRequest is the body of POST /v0/market/{id}/resolve.
type resolveRequest struct {
	Outcome        string `json:"outcome"`
	ProbabilityInt *int   `json:"probabilityInt,omitempty"`
}

// commentRequest is the body of POST /v0/comment.
type commentRequest struct {
	ContractID string  `json:"contractId"`
	Content    docNode `json:"content"`
}

// docNode is a node of the platform's TipTap rich-text document.
type docNode struct {
	Type    string    `json:"type"`
	Text    string    `json:"text,omitempty"`
	Content []docNode `json:"content,omitempty"`
}

// toDoc renders paragraphs as a rich-text document.
func toDoc(rt domain.RichText) docNode {
	doc := docNode{Type: "doc", Content: make([]docNode, 0, len(rt.Paragraphs))}
	for _, p := range rt.Paragraphs {
		para := docNode{Type: "paragraph"}
		if p != "" {
			para.Content = []docNode{{Type: "text", Text: p}}
		}
		doc.Content = append(doc.Content, para)
	}
	return doc
}

// docJSON returns the document as the JSON string expected by descriptionJson.
func docJSON(rt domain.RichText) (string, error) {
	b, err := json.Marshal(toDoc(rt))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// --------------------------------------------------------------------------
// Response DTOs
// --------------------------------------------------------------------------

// APIMarket is a market as returned by the v0 API. Only the fields the
// service reads are decoded.
type APIMarket struct {
	ID          string  `json:"id"`
	Slug        string  `json:"slug"`
	Question    string  `json:"question"`
	URL         string  `json:"url"`
	CreatorID   string  `json:"creatorId"`
	Probability float64 `json:"probability"`
	CloseTime   *int64  `json:"closeTime,omitempty"`
	IsResolved  bool    `json:"isResolved"`
	Resolution  string  `json:"resolution,omitempty"`
	OutcomeType string  `json:"outcomeType"`
	Visibility  string  `json:"visibility,omitempty"`
}

// ToDomain converts the API market to the domain representation.
func (m APIMarket) ToDomain() domain.ExternalMarket {
	out := domain.ExternalMarket{
		ID:          m.ID,
		Slug:        m.Slug,
		Question:    m.Question,
		URL:         m.URL,
		CreatorID:   m.CreatorID,
		Probability: m.Probability,
		IsResolved:  m.IsResolved,
		Resolution:  m.Resolution,
	}
	if m.CloseTime != nil {
		t := time.UnixMilli(*m.CloseTime).UTC()
		out.CloseTime = &t
	}
	return out
}

// APIError is the error body returned by the API.
type APIError struct {
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`
}
