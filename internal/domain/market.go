package domain

import "time"

// MarketRecord is the locally persisted half of a secret market. The external
// platform owns the market itself; this record holds the commitment and the
// encrypted criteria, keyed by the platform-assigned ID.
//
// Only Revealed and RevealedAt may change after creation.
type MarketRecord struct {
	ID                string
	EncryptedCriteria string
	CriteriaHash      string
	HashAlgorithm     string
	EncryptedPassword string // empty when the creator chose no password
	CreatedAt         time.Time
	Revealed          bool
	RevealedAt        *time.Time
}

// HasPassword reports whether the criteria were encrypted under a secondary
// password rather than the creator's API key.
func (r MarketRecord) HasPassword() bool {
	return r.EncryptedPassword != ""
}

// PublicInfo is the part of a MarketRecord that may be shown to anyone.
type PublicInfo struct {
	ID            string     `json:"id"`
	Hash          string     `json:"hash"`
	HashAlgorithm string     `json:"hash_algorithm"`
	Revealed      bool       `json:"revealed"`
	HasPassword   bool       `json:"has_password"`
	CreatedAt     time.Time  `json:"created_at"`
	RevealedAt    *time.Time `json:"revealed_at,omitempty"`
}

// Public strips the encrypted material from the record.
func (r MarketRecord) Public() PublicInfo {
	return PublicInfo{
		ID:            r.ID,
		Hash:          r.CriteriaHash,
		HashAlgorithm: r.HashAlgorithm,
		Revealed:      r.Revealed,
		HasPassword:   r.HasPassword(),
		CreatedAt:     r.CreatedAt,
		RevealedAt:    r.RevealedAt,
	}
}

// Outcome is a resolution outcome accepted by the external platform.
type Outcome string

const (
	OutcomeYes    Outcome = "YES"
	OutcomeNo     Outcome = "NO"
	OutcomeMKT    Outcome = "MKT" // probabilistic resolution at a percentage
	OutcomeCancel Outcome = "CANCEL"
)

// Valid reports whether o is one of the known outcomes.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeYes, OutcomeNo, OutcomeMKT, OutcomeCancel:
		return true
	}
	return false
}

// Resolution is a request to resolve an external market.
type Resolution struct {
	Outcome        Outcome
	ProbabilityInt int // 0-100, only used with OutcomeMKT
}

// ExternalMarket is the subset of the platform's market representation the
// service needs.
type ExternalMarket struct {
	ID          string
	Slug        string
	Question    string
	URL         string
	CreatorID   string
	Probability float64
	CloseTime   *time.Time
	IsResolved  bool
	Resolution  string
}

// NewExternalMarket describes a market to create on the platform.
type NewExternalMarket struct {
	Question    string
	Description RichText
	InitialProb int
	CloseTime   time.Time
	Visibility  string
}

// RichText is a platform rich-text document made of plain paragraphs.
type RichText struct {
	Paragraphs []string
}
