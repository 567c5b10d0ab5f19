package service

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/secretmarket/internal/crypto"
	"github.com/alanyoungcy/secretmarket/internal/domain"
)

// Cipher encrypts and decrypts text envelopes under a passphrase.
type Cipher interface {
	Encrypt(plaintext []byte, key string) (string, error)
	Decrypt(envelope, key string) ([]byte, error)
}

// KeyRole says which secret unlocked the criteria.
type KeyRole string

const (
	// RoleCriteriaKey: the candidate decrypted the criteria directly (the
	// creator's API key, or the password in the password variant).
	RoleCriteriaKey KeyRole = "criteria_key"
	// RoleCreatorKey: the candidate unwrapped the stored password, which then
	// decrypted the criteria.
	RoleCreatorKey KeyRole = "creator_key"
)

// Revelation is the result of a successful reveal.
type Revelation struct {
	MarketID string  `json:"market_id"`
	Criteria string  `json:"criteria"`
	Verified bool    `json:"verified"`
	Via      KeyRole `json:"via"`
}

// Revealer decides whether a candidate key may read a market's criteria. A
// key is authorised exactly when it decrypts the criteria to usable text.
// Reveal never mutates state.
type Revealer struct {
	store  domain.RecordStore
	cipher Cipher
	// verify additionally requires the plaintext to match the stored
	// commitment.
	verify bool
}

// NewRevealer creates a Revealer.
func NewRevealer(store domain.RecordStore, cipher Cipher, verifyCommitment bool) *Revealer {
	return &Revealer{store: store, cipher: cipher, verify: verifyCommitment}
}

// Reveal returns the criteria of market id if candidateKey unlocks them.
// Wrong keys and undecryptable records both yield domain.ErrUnauthorized.
func (r *Revealer) Reveal(ctx context.Context, id, candidateKey string) (Revelation, error) {
	if candidateKey == "" {
		return Revelation{}, fmt.Errorf("service: reveal %s: %w", id, domain.ErrUnauthorized)
	}
	rec, err := r.store.Get(ctx, id)
	if err != nil {
		return Revelation{}, fmt.Errorf("service: reveal %s: %w", id, err)
	}

	if pt, verified, ok := r.open(rec, candidateKey); ok {
		return Revelation{MarketID: id, Criteria: string(pt), Verified: verified, Via: RoleCriteriaKey}, nil
	}

	if rec.HasPassword() {
		if pw, err := r.cipher.Decrypt(rec.EncryptedPassword, candidateKey); err == nil {
			if pt, verified, ok := r.open(rec, string(pw)); ok {
				return Revelation{MarketID: id, Criteria: string(pt), Verified: verified, Via: RoleCreatorKey}, nil
			}
		}
	}
	return Revelation{}, fmt.Errorf("service: reveal %s: %w", id, domain.ErrUnauthorized)
}

// RecoverPassword returns the market password to the creator. Records created
// without a password yield domain.ErrNotFound.
func (r *Revealer) RecoverPassword(ctx context.Context, id, apiKey string) (string, error) {
	if apiKey == "" {
		return "", fmt.Errorf("service: recover password %s: %w", id, domain.ErrUnauthorized)
	}
	rec, err := r.store.Get(ctx, id)
	if err != nil {
		return "", fmt.Errorf("service: recover password %s: %w", id, err)
	}
	if !rec.HasPassword() {
		return "", fmt.Errorf("service: recover password %s: no password set: %w", id, domain.ErrNotFound)
	}

	pw, err := r.cipher.Decrypt(rec.EncryptedPassword, apiKey)
	if err != nil {
		return "", fmt.Errorf("service: recover password %s: %w", id, domain.ErrUnauthorized)
	}
	// A legacy envelope can decrypt to text under the wrong key, so prove
	// the password against the criteria.
	if _, _, ok := r.open(rec, string(pw)); !ok {
		return "", fmt.Errorf("service: recover password %s: %w", id, domain.ErrUnauthorized)
	}
	return string(pw), nil
}

// open decrypts the criteria with key. ok is false when decryption fails or,
// with verification on, when the plaintext misses the commitment.
func (r *Revealer) open(rec domain.MarketRecord, key string) (pt []byte, verified, ok bool) {
	pt, err := r.cipher.Decrypt(rec.EncryptedCriteria, key)
	if err != nil {
		return nil, false, false
	}
	verified = crypto.VerifyFingerprint(rec.HashAlgorithm, pt, rec.CriteriaHash)
	if r.verify && !verified {
		return nil, false, false
	}
	return pt, verified, true
}
