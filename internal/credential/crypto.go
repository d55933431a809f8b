package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"io"

	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/domain"
)

// Cipher seals and opens the refresh token at rest with AES-256-GCM. Every
// failure it returns is crypto kind: no access decision can be trusted
// without working secret material, so callers disable the system.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a Cipher from the 32-byte host secret.
func NewCipher(key []byte) (*Cipher, error) {
	const op = "credential.NewCipher"
	if len(key) != 32 {
		return nil, domain.Ef(domain.KindCrypto, op, "encryption key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, domain.E(domain.KindCrypto, op, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, domain.E(domain.KindCrypto, op, err)
	}
	return &Cipher{aead: aead}, nil
}

// Seal encrypts the plaintext and returns base64(nonce || ciphertext).
func (c *Cipher) Seal(plaintext string) (string, error) {
	const op = "credential.Seal"
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", domain.E(domain.KindCrypto, op, err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal.
func (c *Cipher) Open(encoded string) (string, error) {
	const op = "credential.Open"
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", domain.E(domain.KindCrypto, op, err)
	}
	nonceSize := c.aead.NonceSize()
	if len(sealed) < nonceSize {
		return "", domain.Ef(domain.KindCrypto, op, "ciphertext shorter than nonce")
	}
	plaintext, err := c.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return "", domain.E(domain.KindCrypto, op, err)
	}
	return string(plaintext), nil
}
