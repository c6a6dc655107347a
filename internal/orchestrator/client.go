package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/AgentCommerce/ucp/internal/discovery"
	apierrors "github.com/AgentCommerce/ucp/internal/errors"
	"github.com/AgentCommerce/ucp/internal/httputil"
	"github.com/AgentCommerce/ucp/internal/idempotency"
	"github.com/AgentCommerce/ucp/pkg/ucp"
)

// maxErrorBody caps how much of a merchant error response is read when
// mapping it back to a typed error.
const maxErrorBody = 64 << 10

// merchantClient speaks the merchant's checkout REST surface. The base
// URL comes from the discovery profile on every call, so a merchant
// that republishes its endpoint is picked up after the cache TTL.
type merchantClient struct {
	discovery *discovery.Client
	http      *http.Client
	logger    zerolog.Logger
}

func newMerchantClient(d *discovery.Client, timeout time.Duration, log zerolog.Logger) *merchantClient {
	if timeout <= 0 {
		timeout = ucp.DefaultOutboundTimeout
	}
	return &merchantClient{
		discovery: d,
		http:      httputil.NewClient(timeout),
		logger:    log,
	}
}

func (c *merchantClient) sessionsURL(ctx context.Context) (string, error) {
	base, err := c.discovery.CheckoutEndpoint(ctx)
	if err != nil {
		return "", err
	}
	return base + "/checkout-sessions", nil
}

// CreateSession opens a checkout session for the cart.
func (c *merchantClient) CreateSession(ctx context.Context, req ucp.CheckoutCreateRequest) (*ucp.CheckoutSession, error) {
	base, err := c.sessionsURL(ctx)
	if err != nil {
		return nil, err
	}
	var session ucp.CheckoutSession
	if err := c.do(ctx, http.MethodPost, base, req, "", &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetSession fetches the current session snapshot.
func (c *merchantClient) GetSession(ctx context.Context, id string) (*ucp.CheckoutSession, error) {
	base, err := c.sessionsURL(ctx)
	if err != nil {
		return nil, err
	}
	var session ucp.CheckoutSession
	if err := c.do(ctx, http.MethodGet, base+"/"+url.PathEscape(id), nil, "", &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// UpdateSession attaches the signed mandate (and/or promocode) to the
// session.
func (c *merchantClient) UpdateSession(ctx context.Context, id string, req ucp.CheckoutUpdateRequest) (*ucp.CheckoutSession, error) {
	base, err := c.sessionsURL(ctx)
	if err != nil {
		return nil, err
	}
	var session ucp.CheckoutSession
	if err := c.do(ctx, http.MethodPut, base+"/"+url.PathEscape(id), req, "", &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// CompleteSession finalizes the session, optionally answering a step-up
// challenge. The mandate-bearing first attempt carries an idempotency
// key so a duplicated request replays instead of re-executing; OTP
// submissions never carry one because the merchant must observe every
// attempt to count them.
func (c *merchantClient) CompleteSession(ctx context.Context, id, otpCode string) (*ucp.CompleteResponse, error) {
	base, err := c.sessionsURL(ctx)
	if err != nil {
		return nil, err
	}
	endpoint := base + "/" + url.PathEscape(id) + "/complete"
	idemKey := id
	if otpCode != "" {
		endpoint += "?otp_code=" + url.QueryEscape(otpCode)
		idemKey = ""
	}
	var result ucp.CompleteResponse
	if err := c.do(ctx, http.MethodPost, endpoint, nil, idemKey, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// do executes one merchant call: marshal, send, and decode into out.
// Non-2xx responses are mapped back to typed errors via remoteError so
// callers branch on kinds, not status codes.
func (c *merchantClient) do(ctx context.Context, method, endpoint string, body any, idemKey string, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return apierrors.Wrap(apierrors.ErrCodeInternal, "encode checkout request", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return apierrors.Wrap(apierrors.ErrCodeUpstreamUnavailable, "build checkout request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idemKey != "" {
		req.Header.Set(idempotency.HeaderKey, idemKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return apierrors.Wrap(apierrors.ErrCodeUpstreamUnavailable, "call merchant checkout", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.remoteError(resp, method, endpoint)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apierrors.Wrap(apierrors.ErrCodeUpstreamUnavailable, "decode merchant response", err)
	}
	return nil
}

// remoteError rebuilds the merchant's typed error from its wire
// envelope. Anything undecodable is treated as the merchant being
// unavailable.
func (c *merchantClient) remoteError(resp *http.Response, method, endpoint string) error {
	payload, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if readErr == nil {
		var envelope apierrors.ErrorResponse
		if err := json.Unmarshal(payload, &envelope); err == nil && envelope.Kind != "" {
			return apierrors.E(envelope.Kind, envelope.Message)
		}
	}
	c.logger.Warn().
		Int("status", resp.StatusCode).
		Str("method", method).
		Str("endpoint", endpoint).
		Msg("orchestrator.merchant_error_unparsed")
	return apierrors.Ef(apierrors.ErrCodeUpstreamUnavailable,
		"merchant returned status %d", resp.StatusCode)
}
