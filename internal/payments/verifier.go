package payments

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"strings"

	"github.com/AgentCommerce/ucp/internal/auth"
	apierrors "github.com/AgentCommerce/ucp/internal/errors"
)

// Verifier checks a mandate's user_authorization against the canonical
// contents digest. Failures surface as INVALID_AUTHORIZATION with a
// uniform client-facing message; the distinguishing detail stays in logs.
type Verifier interface {
	VerifyAuthorization(ctx context.Context, payerEmail string, digest []byte, authorization string) error
}

// NewVerifier selects a verifier from the credentials directory: with
// registered keys every authorization is cryptographically verified,
// without them the demo verifier only checks signature shape.
func NewVerifier(credentials map[string]string) (Verifier, error) {
	if len(credentials) == 0 {
		return &DemoVerifier{}, nil
	}

	keys := make(map[string]ed25519.PublicKey, len(credentials))
	for email, encoded := range credentials {
		pub, err := auth.DecodePublicKey(encoded)
		if err != nil {
			return nil, fmt.Errorf("credential for %s: %w", email, err)
		}
		keys[strings.ToLower(email)] = pub
	}
	return &DirectoryVerifier{keys: keys}, nil
}

// DemoVerifier accepts any well-formed Ed25519 signature: URL-safe base64
// decoding to exactly 64 bytes that are not all zero. It never checks the
// signature against a key, which is what makes unsigned demo flows work.
type DemoVerifier struct{}

// VerifyAuthorization implements Verifier.
func (v *DemoVerifier) VerifyAuthorization(_ context.Context, _ string, _ []byte, authorization string) error {
	sig, err := auth.DecodeBase64(authorization)
	if err != nil {
		return invalidAuthorization()
	}
	if len(sig) != ed25519.SignatureSize {
		return invalidAuthorization()
	}
	zero := true
	for _, b := range sig {
		if b != 0 {
			zero = false
			break
		}
	}
	if zero {
		return invalidAuthorization()
	}
	return nil
}

// DirectoryVerifier verifies authorizations against a payer-email keyed
// directory of Ed25519 public keys.
type DirectoryVerifier struct {
	keys map[string]ed25519.PublicKey
}

// VerifyAuthorization implements Verifier. Unknown payers fail the same
// way as bad signatures.
func (v *DirectoryVerifier) VerifyAuthorization(_ context.Context, payerEmail string, digest []byte, authorization string) error {
	pub, ok := v.keys[strings.ToLower(strings.TrimSpace(payerEmail))]
	if !ok {
		return invalidAuthorization()
	}
	if err := auth.VerifyMessage(pub, digest, authorization); err != nil {
		return invalidAuthorization()
	}
	return nil
}

func invalidAuthorization() error {
	return apierrors.E(apierrors.ErrCodeInvalidAuthorization, "Invalid mandate signature")
}
