// Package discovery fetches and caches a merchant's UCP discovery
// profile. The shopper resolves the checkout endpoint, merchant
// identity, and AP2 support from the cached profile instead of
// hardcoding merchant URLs.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/AgentCommerce/ucp/internal/config"
	apierrors "github.com/AgentCommerce/ucp/internal/errors"
	"github.com/AgentCommerce/ucp/internal/httputil"
	"github.com/AgentCommerce/ucp/pkg/ucp"
)

// WellKnownPath is the discovery document location under the merchant
// base URL.
const WellKnownPath = "/.well-known/ucp"

// Client fetches the merchant's discovery profile and serves it from a
// TTL cache. Safe for concurrent use.
type Client struct {
	baseURL string
	ttl     time.Duration
	retries int
	backoff time.Duration
	http    *http.Client
	logger  zerolog.Logger
	nowFunc func() time.Time

	mu        sync.RWMutex
	profile   *ucp.Profile
	fetchedAt time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client. Used in tests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.nowFunc = now }
}

// NewClient builds a discovery client for the configured merchant.
func NewClient(cfg config.MerchantEndpoint, log zerolog.Logger, opts ...Option) *Client {
	ttl := cfg.DiscoveryCacheTTL.Duration
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = ucp.DefaultOutboundTimeout
	}
	retries := cfg.RetryAttempts
	if retries < 1 {
		retries = 1
	}
	backoff := cfg.RetryBackoff.Duration
	if backoff <= 0 {
		backoff = 2 * time.Second
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		ttl:     ttl,
		retries: retries,
		backoff: backoff,
		http:    httputil.NewClient(timeout),
		logger:  log,
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured merchant base URL without a trailing
// slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Bootstrap fetches the profile at startup, retrying with a fixed
// backoff so the shopper survives the merchant coming up slightly
// later.
func (c *Client) Bootstrap(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		if _, err := c.Refresh(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}

		c.logger.Warn().
			Err(lastErr).
			Int("attempt", attempt).
			Int("max_attempts", c.retries).
			Str("merchant_url", c.baseURL).
			Msg("discovery.bootstrap.retry")

		if attempt == c.retries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoff):
		}
	}
	return fmt.Errorf("discover merchant at %s: %w", c.baseURL, lastErr)
}

// Profile returns the cached profile, refreshing it when the TTL has
// lapsed. When a refresh fails but a previously fetched profile exists,
// the stale profile is served and the failure logged; the merchant
// being briefly unreachable must not break checkouts already priced
// against its catalog.
func (c *Client) Profile(ctx context.Context) (*ucp.Profile, error) {
	c.mu.RLock()
	profile, fetchedAt := c.profile, c.fetchedAt
	c.mu.RUnlock()

	if profile != nil && c.nowFunc().Sub(fetchedAt) < c.ttl {
		return profile, nil
	}

	fresh, err := c.Refresh(ctx)
	if err != nil {
		if profile != nil {
			c.logger.Warn().
				Err(err).
				Time("fetched_at", fetchedAt).
				Msg("discovery.refresh_failed_serving_stale")
			return profile, nil
		}
		return nil, err
	}
	return fresh, nil
}

// Refresh fetches the profile unconditionally and replaces the cache on
// success.
func (c *Client) Refresh(ctx context.Context) (*ucp.Profile, error) {
	profile, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.profile = profile
	c.fetchedAt = c.nowFunc()
	c.mu.Unlock()

	c.logger.Info().
		Str("merchant_id", profile.Merchant.ID).
		Str("ucp_version", profile.UCP.Version).
		Msg("discovery.profile_fetched")
	return profile, nil
}

func (c *Client) fetch(ctx context.Context) (*ucp.Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+WellKnownPath, nil)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.ErrCodeUpstreamUnavailable, "build discovery request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.ErrCodeUpstreamUnavailable, "fetch merchant profile", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apierrors.Ef(apierrors.ErrCodeUpstreamUnavailable,
			"merchant profile returned %d", resp.StatusCode)
	}

	var profile ucp.Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, apierrors.Wrap(apierrors.ErrCodeUpstreamUnavailable, "decode merchant profile", err)
	}

	if !ucp.ValidVersion(profile.UCP.Version) {
		return nil, apierrors.Ef(apierrors.ErrCodeUpstreamUnavailable,
			"merchant profile has malformed version %q", profile.UCP.Version)
	}
	svc, ok := profile.UCP.Services[ucp.ShoppingService]
	if !ok {
		return nil, apierrors.Ef(apierrors.ErrCodeUpstreamUnavailable,
			"merchant profile missing %s service", ucp.ShoppingService)
	}
	if svc.REST == nil || svc.REST.Endpoint == "" {
		return nil, apierrors.Ef(apierrors.ErrCodeUpstreamUnavailable,
			"merchant profile has no REST endpoint for %s", ucp.ShoppingService)
	}
	return &profile, nil
}

// CheckoutEndpoint resolves the merchant's /ucp/v1 REST base from the
// profile, without a trailing slash.
func (c *Client) CheckoutEndpoint(ctx context.Context) (string, error) {
	profile, err := c.Profile(ctx)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(profile.UCP.Services[ucp.ShoppingService].REST.Endpoint, "/"), nil
}

// MerchantID returns the merchant identifier from the profile.
func (c *Client) MerchantID(ctx context.Context) (string, error) {
	profile, err := c.Profile(ctx)
	if err != nil {
		return "", err
	}
	return profile.Merchant.ID, nil
}

// SupportsAP2 reports whether the merchant advertises AP2 mandates on
// checkout: the payment block must support mandates and the checkout
// capability must carry the ap2_mandate extension.
func (c *Client) SupportsAP2(ctx context.Context) (bool, error) {
	profile, err := c.Profile(ctx)
	if err != nil {
		return false, err
	}
	if !profile.Payment.AP2Payment.MandatesSupported {
		return false, nil
	}
	for _, cap := range profile.UCP.Capabilities {
		if cap.Name != ucp.CapabilityCheckout {
			continue
		}
		if _, ok := cap.Extensions[ucp.ExtensionAP2Mandate]; ok {
			return true, nil
		}
	}
	return false, nil
}
