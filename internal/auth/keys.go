// Package auth holds the signing primitives shared by both sides of the
// protocol: Ed25519 device-key encoding and verification for mandate
// authorizations, and merchant receipt signing.
package auth

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strings"
)

// EncodeBase64 encodes bytes as URL-safe base64 without padding, the wire
// encoding for signatures and keys.
func EncodeBase64(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeBase64 decodes URL-safe base64 without padding, tolerating the
// padded and standard-alphabet variants other stacks emit.
func DecodeBase64(s string) ([]byte, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(s), "=")
	if b, err := base64.RawURLEncoding.DecodeString(trimmed); err == nil {
		return b, nil
	}
	b, err := base64.RawStdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 encoding: %w", err)
	}
	return b, nil
}

// DecodePublicKey parses a base64-encoded Ed25519 public key.
func DecodePublicKey(s string) (ed25519.PublicKey, error) {
	raw, err := DecodeBase64(s)
	if err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key length: %d", len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// SignMessage signs message bytes with a device key and returns the
// URL-safe base64 signature.
func SignMessage(priv ed25519.PrivateKey, message []byte) string {
	return EncodeBase64(ed25519.Sign(priv, message))
}

// VerifyMessage checks a base64-encoded signature over message bytes.
func VerifyMessage(pub ed25519.PublicKey, message []byte, signature string) error {
	sig, err := DecodeBase64(signature)
	if err != nil {
		return fmt.Errorf("invalid signature encoding: %w", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("invalid signature length: %d", len(sig))
	}
	if !ed25519.Verify(pub, message, sig) {
		return fmt.Errorf("signature verification failed")
	}
	return nil
}
