package credentials

import (
	"strings"
	"testing"

	"github.com/AgentCommerce/ucp/internal/auth"
)

func newTestCipher(t *testing.T) *PANCipher {
	t.Helper()
	key, err := GeneratePANKey()
	if err != nil {
		t.Fatalf("GeneratePANKey() error = %v", err)
	}
	c, err := NewPANCipher(key)
	if err != nil {
		t.Fatalf("NewPANCipher() error = %v", err)
	}
	return c
}

func TestPANCipherRoundTrip(t *testing.T) {
	c := newTestCipher(t)

	encrypted, err := c.Encrypt("4111222233334444")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if strings.Contains(encrypted, "4111") {
		t.Error("ciphertext contains cleartext digits")
	}

	pan, err := c.Decrypt(encrypted)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if pan != "4111222233334444" {
		t.Errorf("Decrypt() = %q", pan)
	}
}

func TestPANCipherFreshNoncePerEncrypt(t *testing.T) {
	c := newTestCipher(t)

	first, err := c.Encrypt("4111222233334444")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	second, err := c.Encrypt("4111222233334444")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if first == second {
		t.Error("two encryptions of the same PAN produced identical ciphertext")
	}
}

func TestPANCipherRejectsTamper(t *testing.T) {
	c := newTestCipher(t)

	encrypted, err := c.Encrypt("4111222233334444")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	raw, err := auth.DecodeBase64(encrypted)
	if err != nil {
		t.Fatalf("decode ciphertext: %v", err)
	}
	raw[len(raw)-1] ^= 0x01
	if _, err := c.Decrypt(auth.EncodeBase64(raw)); err == nil {
		t.Error("Decrypt() accepted tampered ciphertext")
	}
}

func TestPANCipherRejectsWrongKey(t *testing.T) {
	first := newTestCipher(t)
	second := newTestCipher(t)

	encrypted, err := first.Encrypt("4111222233334444")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if _, err := second.Decrypt(encrypted); err == nil {
		t.Error("Decrypt() accepted ciphertext from another key")
	}
}

func TestNewPANCipherRejectsBadKeys(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"not base64", "%%%"},
		{"short key", auth.EncodeBase64([]byte("sixteen-byte-key"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewPANCipher(tt.key); err == nil {
				t.Error("NewPANCipher() accepted a bad key")
			}
		})
	}
}

func TestDecryptRejectsTruncatedBlob(t *testing.T) {
	c := newTestCipher(t)
	if _, err := c.Decrypt(auth.EncodeBase64([]byte("short"))); err == nil {
		t.Error("Decrypt() accepted a blob shorter than the nonce")
	}
}
