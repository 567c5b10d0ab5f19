package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// OpenSSL passphrase envelope, as written by `openssl enc -aes-256-cbc -md md5`
// and CryptoJS.AES.encrypt(text, passphrase).
const (
	opensslMagic   = "Salted__"
	opensslSaltLen = 8
	opensslKeyLen  = 32
)

func opensslEncrypt(plaintext []byte, passphrase string) (string, error) {
	salt := make([]byte, opensslSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("crypto: generating salt: %w", err)
	}
	key, iv := evpBytesToKey([]byte(passphrase), salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("crypto: creating cipher: %w", err)
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	buf := make([]byte, 0, len(opensslMagic)+len(salt)+len(ct))
	buf = append(buf, opensslMagic...)
	buf = append(buf, salt...)
	buf = append(buf, ct...)
	return base64.StdEncoding.EncodeToString(buf), nil
}

func opensslDecrypt(envelope, passphrase string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return nil, ErrDecrypt
	}
	hdr := len(opensslMagic) + opensslSaltLen
	if len(raw) < hdr+aes.BlockSize || !bytes.HasPrefix(raw, []byte(opensslMagic)) {
		return nil, ErrDecrypt
	}
	salt := raw[len(opensslMagic):hdr]
	ct := raw[hdr:]
	if len(ct)%aes.BlockSize != 0 {
		return nil, ErrDecrypt
	}

	key, iv := evpBytesToKey([]byte(passphrase), salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrDecrypt
	}
	pt := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(pt, ct)
	return pkcs7Unpad(pt, aes.BlockSize)
}

// evpBytesToKey derives an AES-256 key and IV the way OpenSSL's
// EVP_BytesToKey does with MD5 and a single iteration.
func evpBytesToKey(passphrase, salt []byte) (key, iv []byte) {
	need := opensslKeyLen + aes.BlockSize
	var (
		out  = make([]byte, 0, need+md5.Size)
		prev []byte
	)
	for len(out) < need {
		h := md5.New()
		h.Write(prev)
		h.Write(passphrase)
		h.Write(salt)
		prev = h.Sum(nil)
		out = append(out, prev...)
	}
	return out[:opensslKeyLen], out[opensslKeyLen:need]
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(append(make([]byte, 0, len(b)+n), b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, ErrDecrypt
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size {
		return nil, ErrDecrypt
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, ErrDecrypt
		}
	}
	return b[:len(b)-n], nil
}
