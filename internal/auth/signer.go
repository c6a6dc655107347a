package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/AgentCommerce/ucp/internal/circuitbreaker"
	"github.com/AgentCommerce/ucp/internal/config"
	apierrors "github.com/AgentCommerce/ucp/internal/errors"
	"github.com/AgentCommerce/ucp/pkg/ap2"
)

// ReceiptSigner produces the merchant_signature carried on payment
// receipts. Signatures cover the canonical receipt bytes, so any later
// field mutation invalidates them.
type ReceiptSigner interface {
	SignReceipt(ctx context.Context, receipt ap2.PaymentReceipt) (string, error)
}

// NewReceiptSigner selects a signer from configuration: a remote signing
// service when a URL is set, the local HMAC signer when only a secret is
// configured. Returns nil when neither is set; receipts then go out
// unsigned.
func NewReceiptSigner(cfg config.SignerConfig) ReceiptSigner {
	if cfg.RemoteURL != "" {
		return NewRemoteSigner(cfg.RemoteURL, cfg.Timeout.Duration)
	}
	if cfg.Secret != "" {
		return NewHMACSigner(cfg.Secret)
	}
	return nil
}

// HMACSigner signs receipts locally with HMAC-SHA256.
type HMACSigner struct {
	secret []byte
}

// NewHMACSigner creates a signer keyed with the shared secret.
func NewHMACSigner(secret string) *HMACSigner {
	return &HMACSigner{secret: []byte(secret)}
}

// SignReceipt returns the URL-safe base64 HMAC of the canonical receipt.
func (s *HMACSigner) SignReceipt(_ context.Context, receipt ap2.PaymentReceipt) (string, error) {
	canonical, err := ap2.CanonicalReceipt(receipt)
	if err != nil {
		return "", fmt.Errorf("canonicalize receipt: %w", err)
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(canonical)
	return EncodeBase64(mac.Sum(nil)), nil
}

// RemoteSigner delegates signing to an external service: the canonical
// receipt JSON is POSTed as the request body and the response carries
// {"signature": "..."}.
type RemoteSigner struct {
	url    string
	client *http.Client
}

// NewRemoteSigner creates a client for the signing service.
func NewRemoteSigner(url string, timeout time.Duration) *RemoteSigner {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RemoteSigner{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// SignReceipt calls the signing service. Failures map to
// UPSTREAM_UNAVAILABLE so callers can degrade to unsigned receipts.
func (s *RemoteSigner) SignReceipt(ctx context.Context, receipt ap2.PaymentReceipt) (string, error) {
	canonical, err := ap2.CanonicalReceipt(receipt)
	if err != nil {
		return "", fmt.Errorf("canonicalize receipt: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(canonical))
	if err != nil {
		return "", apierrors.Wrap(apierrors.ErrCodeUpstreamUnavailable, "build signer request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", apierrors.Wrap(apierrors.ErrCodeUpstreamUnavailable, "call signer", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", apierrors.Ef(apierrors.ErrCodeUpstreamUnavailable,
			"signer returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var out struct {
		Signature string `json:"signature"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", apierrors.Wrap(apierrors.ErrCodeUpstreamUnavailable, "decode signer response", err)
	}
	if out.Signature == "" {
		return "", apierrors.E(apierrors.ErrCodeUpstreamUnavailable, "signer returned an empty signature")
	}
	return out.Signature, nil
}

// GuardedSigner routes signing calls through a circuit breaker. While
// the signing service is degraded the breaker opens and calls fail fast;
// receipts then go out unsigned instead of stacking timeouts.
type GuardedSigner struct {
	inner   ReceiptSigner
	breaker *circuitbreaker.Manager
}

// GuardSigner wraps inner with breaker protection. A nil signer or nil
// breaker leaves the signer as-is.
func GuardSigner(inner ReceiptSigner, breaker *circuitbreaker.Manager) ReceiptSigner {
	if inner == nil || breaker == nil {
		return inner
	}
	return &GuardedSigner{inner: inner, breaker: breaker}
}

// SignReceipt signs through the breaker. An open circuit reports as
// UPSTREAM_UNAVAILABLE like any other signer outage.
func (s *GuardedSigner) SignReceipt(ctx context.Context, receipt ap2.PaymentReceipt) (string, error) {
	out, err := s.breaker.Execute(circuitbreaker.ServiceSigner, func() (interface{}, error) {
		return s.inner.SignReceipt(ctx, receipt)
	})
	if err != nil {
		if _, ok := apierrors.AsError(err); !ok {
			return "", apierrors.Wrap(apierrors.ErrCodeUpstreamUnavailable, "signer circuit", err)
		}
		return "", err
	}
	signature, ok := out.(string)
	if !ok {
		return "", apierrors.E(apierrors.ErrCodeUpstreamUnavailable, "signer returned an unexpected result")
	}
	return signature, nil
}
