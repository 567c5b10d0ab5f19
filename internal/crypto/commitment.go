// Package crypto implements the commitment fingerprint and the passphrase
// ciphers used to hide market criteria until they are revealed.
package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Supported fingerprint algorithms.
const (
	AlgSHA256    = "sha256"
	AlgKeccak256 = "keccak256"
)

// Fingerprint returns the lowercase hex digest of plaintext under algorithm.
// The sha256 output matches what browser clients compute with
// CryptoJS.SHA256(text).toString().
func Fingerprint(algorithm string, plaintext []byte) (string, error) {
	switch strings.ToLower(algorithm) {
	case AlgSHA256, "":
		sum := sha256.Sum256(plaintext)
		return hex.EncodeToString(sum[:]), nil
	case AlgKeccak256:
		return hex.EncodeToString(ethcrypto.Keccak256(plaintext)), nil
	default:
		return "", fmt.Errorf("crypto: unknown hash algorithm %q", algorithm)
	}
}

// VerifyFingerprint reports whether plaintext hashes to hash under algorithm.
// Hex case is ignored.
func VerifyFingerprint(algorithm string, plaintext []byte, hash string) bool {
	got, err := Fingerprint(algorithm, plaintext)
	if err != nil {
		return false
	}
	want := strings.ToLower(strings.TrimPrefix(hash, "0x"))
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// ValidAlgorithm reports whether algorithm is supported by Fingerprint.
func ValidAlgorithm(algorithm string) bool {
	switch strings.ToLower(algorithm) {
	case AlgSHA256, AlgKeccak256:
		return true
	}
	return false
}
