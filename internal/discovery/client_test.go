package discovery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/AgentCommerce/ucp/internal/config"
	apierrors "github.com/AgentCommerce/ucp/internal/errors"
	"github.com/AgentCommerce/ucp/pkg/ucp"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	base, _ := time.Parse(time.RFC3339, "2026-03-01T10:00:00Z")
	return &testClock{t: base}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func sampleProfile(merchantURL string) ucp.Profile {
	supported := true
	return ucp.Profile{
		UCP: ucp.ProfileUCP{
			Version: ucp.Version,
			Services: map[string]ucp.Service{
				ucp.ShoppingService: {
					Version: ucp.Version,
					REST:    &ucp.RESTTransport{Endpoint: merchantURL + "/ucp/v1/"},
				},
			},
			Capabilities: []ucp.Capability{
				{Name: ucp.CapabilityProductSearch, Version: ucp.Version},
				{
					Name:    ucp.CapabilityCheckout,
					Version: ucp.Version,
					Extensions: map[string]ucp.Extension{
						ucp.ExtensionAP2Mandate: {Version: ucp.Version},
						ucp.ExtensionDiscount:   {Version: ucp.Version, Supported: &supported},
					},
				},
			},
		},
		Payment: ucp.PaymentProfile{
			AP2Payment: ucp.AP2PaymentProfile{
				SupportedFormats:         []string{"sd-jwt"},
				MandatesSupported:        true,
				OTPVerificationSupported: true,
			},
		},
		Merchant: ucp.Merchant{ID: "merchant-001", Name: "Demo Store", URL: merchantURL},
	}
}

func serveProfile(t *testing.T, mutate func(*ucp.Profile)) (*httptest.Server, *int) {
	t.Helper()
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if r.URL.Path != WellKnownPath {
			http.NotFound(w, r)
			return
		}
		profile := sampleProfile("http://merchant.example")
		if mutate != nil {
			mutate(&profile)
		}
		json.NewEncoder(w).Encode(profile)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func testEndpoint(url string) config.MerchantEndpoint {
	return config.MerchantEndpoint{
		BaseURL:           url,
		DiscoveryCacheTTL: config.Duration{Duration: 5 * time.Minute},
		Timeout:           config.Duration{Duration: 2 * time.Second},
		RetryAttempts:     3,
		RetryBackoff:      config.Duration{Duration: time.Millisecond},
	}
}

func TestBootstrapRetriesUntilMerchantUp(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		if hits < 3 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(sampleProfile("http://merchant.example"))
	}))
	defer srv.Close()

	c := NewClient(testEndpoint(srv.URL), zerolog.Nop())
	if err := c.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	if hits != 3 {
		t.Errorf("merchant hit %d times, want 3", hits)
	}

	id, err := c.MerchantID(context.Background())
	if err != nil || id != "merchant-001" {
		t.Errorf("MerchantID() = %q, %v", id, err)
	}
	if hits != 3 {
		t.Errorf("accessor refetched despite fresh cache: %d hits", hits)
	}
}

func TestBootstrapGivesUpAfterAttempts(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := testEndpoint(srv.URL)
	cfg.RetryAttempts = 2
	c := NewClient(cfg, zerolog.Nop())

	if err := c.Bootstrap(context.Background()); err == nil {
		t.Fatal("Bootstrap() succeeded against a dead merchant")
	}
	if hits != 2 {
		t.Errorf("merchant hit %d times, want 2", hits)
	}
}

func TestProfileCachedUntilTTL(t *testing.T) {
	srv, hits := serveProfile(t, nil)
	clock := newTestClock()
	c := NewClient(testEndpoint(srv.URL), zerolog.Nop(), WithClock(clock.Now))

	ctx := context.Background()
	if _, err := c.Profile(ctx); err != nil {
		t.Fatalf("Profile() error = %v", err)
	}
	if _, err := c.Profile(ctx); err != nil {
		t.Fatalf("Profile() cached error = %v", err)
	}
	if *hits != 1 {
		t.Fatalf("fresh cache refetched: %d hits", *hits)
	}

	clock.Advance(6 * time.Minute)
	if _, err := c.Profile(ctx); err != nil {
		t.Fatalf("Profile() after TTL error = %v", err)
	}
	if *hits != 2 {
		t.Errorf("stale cache not refreshed: %d hits", *hits)
	}
}

func TestProfileServesStaleWhenRefreshFails(t *testing.T) {
	healthy := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if !healthy {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(sampleProfile("http://merchant.example"))
	}))
	defer srv.Close()

	clock := newTestClock()
	c := NewClient(testEndpoint(srv.URL), zerolog.Nop(), WithClock(clock.Now))

	ctx := context.Background()
	if _, err := c.Profile(ctx); err != nil {
		t.Fatalf("initial Profile() error = %v", err)
	}

	healthy = false
	clock.Advance(10 * time.Minute)

	profile, err := c.Profile(ctx)
	if err != nil {
		t.Fatalf("Profile() should fall back to stale, got %v", err)
	}
	if profile.Merchant.ID != "merchant-001" {
		t.Errorf("stale profile merchant = %q", profile.Merchant.ID)
	}
}

func TestCheckoutEndpointTrimsSlash(t *testing.T) {
	srv, _ := serveProfile(t, nil)
	c := NewClient(testEndpoint(srv.URL), zerolog.Nop())

	endpoint, err := c.CheckoutEndpoint(context.Background())
	if err != nil {
		t.Fatalf("CheckoutEndpoint() error = %v", err)
	}
	if endpoint != "http://merchant.example/ucp/v1" {
		t.Errorf("CheckoutEndpoint() = %q", endpoint)
	}
}

func TestSupportsAP2(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ucp.Profile)
		want   bool
	}{
		{"advertised", nil, true},
		{
			"mandates off",
			func(p *ucp.Profile) { p.Payment.AP2Payment.MandatesSupported = false },
			false,
		},
		{
			"extension missing",
			func(p *ucp.Profile) {
				for i := range p.UCP.Capabilities {
					p.UCP.Capabilities[i].Extensions = nil
				}
			},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := serveProfile(t, tt.mutate)
			c := NewClient(testEndpoint(srv.URL), zerolog.Nop())

			got, err := c.SupportsAP2(context.Background())
			if err != nil {
				t.Fatalf("SupportsAP2() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("SupportsAP2() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFetchRejectsUnusableProfiles(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ucp.Profile)
	}{
		{"malformed version", func(p *ucp.Profile) { p.UCP.Version = "v1" }},
		{"no shopping service", func(p *ucp.Profile) { delete(p.UCP.Services, ucp.ShoppingService) }},
		{
			"no rest endpoint",
			func(p *ucp.Profile) {
				svc := p.UCP.Services[ucp.ShoppingService]
				svc.REST = nil
				p.UCP.Services[ucp.ShoppingService] = svc
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := serveProfile(t, tt.mutate)
			c := NewClient(testEndpoint(srv.URL), zerolog.Nop())

			_, err := c.Refresh(context.Background())
			if !apierrors.IsKind(err, apierrors.ErrCodeUpstreamUnavailable) {
				t.Errorf("Refresh() error = %v, want UPSTREAM_UNAVAILABLE", err)
			}
		})
	}
}
