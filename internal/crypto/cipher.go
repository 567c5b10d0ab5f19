package crypto

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	// ErrEmptyKey is returned when Encrypt or Decrypt is called without a key.
	ErrEmptyKey = errors.New("crypto: key must not be empty")
	// ErrDecrypt covers every decryption failure: malformed envelope, wrong
	// key, bad padding, and plaintext that is empty or not valid UTF-8.
	ErrDecrypt = errors.New("crypto: decryption failed")
)

// Mode selects the envelope format Encrypt produces.
type Mode string

const (
	// ModeLegacy writes OpenSSL "Salted__" envelopes readable by CryptoJS.
	ModeLegacy Mode = "legacy"
	// ModeSealed writes PBKDF2 + AES-256-GCM envelopes.
	ModeSealed Mode = "sealed"
)

// DefaultIterations is the PBKDF2 iteration count for sealed envelopes.
const DefaultIterations = 480_000

// Cipher encrypts criteria and passwords under a passphrase. Decrypt reads
// both envelope formats regardless of the configured Mode.
type Cipher struct {
	mode       Mode
	iterations int
}

// NewCipher returns a Cipher writing envelopes in mode. iterations only
// affects sealed mode; zero selects DefaultIterations.
func NewCipher(mode Mode, iterations int) (*Cipher, error) {
	switch mode {
	case ModeLegacy, ModeSealed:
	case "":
		mode = ModeLegacy
	default:
		return nil, fmt.Errorf("crypto: unknown cipher mode %q", mode)
	}
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	return &Cipher{mode: mode, iterations: iterations}, nil
}

// Mode returns the mode new envelopes are written in.
func (c *Cipher) Mode() Mode { return c.mode }

// Encrypt encrypts plaintext under key and returns a text envelope.
func (c *Cipher) Encrypt(plaintext []byte, key string) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}
	if c.mode == ModeSealed {
		return sealEncrypt(plaintext, key, c.iterations)
	}
	return opensslEncrypt(plaintext, key)
}

// Decrypt opens an envelope produced by Encrypt in either mode. The result is
// guaranteed to be non-empty valid UTF-8.
func (c *Cipher) Decrypt(envelope, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	envelope = strings.TrimSpace(envelope)

	var (
		out []byte
		err error
	)
	if strings.HasPrefix(envelope, sealedPrefix) {
		out, err = sealDecrypt(envelope, key, c.iterations)
	} else {
		out, err = opensslDecrypt(envelope, key)
	}
	if err != nil {
		return nil, err
	}
	if len(out) == 0 || !utf8.Valid(out) {
		return nil, ErrDecrypt
	}
	return out, nil
}

// IsSealed reports whether envelope was written in sealed mode.
func IsSealed(envelope string) bool {
	return strings.HasPrefix(strings.TrimSpace(envelope), sealedPrefix)
}
