package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"github.com/AgentCommerce/ucp/internal/auth"
)

// PANCipher encrypts card numbers with AES-256-GCM. The stored form is
// base64(nonce || ciphertext); a fresh nonce is drawn per encryption, so
// equal PANs produce distinct ciphertexts.
type PANCipher struct {
	aead cipher.AEAD
}

// GeneratePANKey returns a fresh base64-encoded 32-byte key, used when
// no key is configured.
func GeneratePANKey() (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("credentials: generate key: %w", err)
	}
	return auth.EncodeBase64(key), nil
}

// NewPANCipher builds a cipher from a base64-encoded 32-byte key.
func NewPANCipher(encodedKey string) (*PANCipher, error) {
	key, err := auth.DecodeBase64(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("credentials: decode key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("credentials: key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("credentials: build cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("credentials: build gcm: %w", err)
	}
	return &PANCipher{aead: aead}, nil
}

// Encrypt seals the PAN and returns base64(nonce || ciphertext).
func (c *PANCipher) Encrypt(pan string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("credentials: nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(pan), nil)
	return auth.EncodeBase64(sealed), nil
}

// Decrypt opens a stored blob. Tampered or truncated blobs fail the GCM
// tag check.
func (c *PANCipher) Decrypt(blob string) (string, error) {
	raw, err := auth.DecodeBase64(blob)
	if err != nil {
		return "", fmt.Errorf("credentials: decode ciphertext: %w", err)
	}
	if len(raw) < c.aead.NonceSize() {
		return "", fmt.Errorf("credentials: ciphertext too short")
	}
	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	pan, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("credentials: decrypt: %w", err)
	}
	return string(pan), nil
}
