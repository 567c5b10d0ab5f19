package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	sealedPrefix = "sealed:v1:"
	// sealedSaltLen is the random salt length in bytes.
	sealedSaltLen = 16
	// aesKeyLen is the derived AES-256 key length.
	aesKeyLen = 32
)

// sealEncrypt derives an AES-256 key with PBKDF2-HMAC-SHA256 and encrypts
// plaintext with AES-256-GCM. The iteration count is not stored in the
// envelope, so it must stay fixed for the lifetime of the records.
func sealEncrypt(plaintext []byte, passphrase string, iterations int) (string, error) {
	salt := make([]byte, sealedSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("crypto: generating salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt, iterations)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("crypto: generating nonce: %w", err)
	}

	buf := make([]byte, 0, len(salt)+len(nonce)+len(plaintext)+gcm.Overhead())
	buf = append(buf, salt...)
	buf = append(buf, nonce...)
	buf = gcm.Seal(buf, nonce, plaintext, nil)

	return sealedPrefix + base64.StdEncoding.EncodeToString(buf), nil
}

func sealDecrypt(envelope, passphrase string, iterations int) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(envelope, sealedPrefix))
	if err != nil {
		return nil, ErrDecrypt
	}
	if len(raw) < sealedSaltLen {
		return nil, ErrDecrypt
	}
	salt := raw[:sealedSaltLen]

	gcm, err := newGCM(passphrase, salt, iterations)
	if err != nil {
		return nil, err
	}
	rest := raw[sealedSaltLen:]
	if len(rest) < gcm.NonceSize()+gcm.Overhead() {
		return nil, ErrDecrypt
	}
	nonce, ct := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]

	pt, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return pt, nil
}

func newGCM(passphrase string, salt []byte, iterations int) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(passphrase), salt, iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}
