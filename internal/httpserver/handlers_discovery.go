package httpserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/AgentCommerce/ucp/pkg/responders"
	"github.com/AgentCommerce/ucp/pkg/ucp"
)

// specBase is the root of the published UCP specification and schema
// documents referenced from the discovery profile.
const specBase = "https://ucp.dev"

// health reports service liveness plus which backends are wired in.
func (h handlers) health(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(serverStartTime)

	payload := map[string]any{
		"status":    "healthy",
		"service":   "ucp-merchant",
		"uptime":    uptime.String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"features": map[string]any{
			"products_source":     h.cfg.Products.Source,
			"promocodes_source":   h.cfg.Promocodes.Source,
			"request_log_backend": h.cfg.RequestLog.Backend,
			"step_up_enabled":     h.cfg.Payments.StepUp.Enabled,
		},
	}

	responders.JSON(w, http.StatusOK, payload)
}

// ucpProfile serves the discovery document at /.well-known/ucp. The
// advertised endpoints are anchored on the configured merchant URL so
// they survive proxies and port remapping.
func (h handlers) ucpProfile(w http.ResponseWriter, r *http.Request) {
	base := strings.TrimRight(h.cfg.Merchant.URL, "/")
	supported := true

	profile := ucp.Profile{
		UCP: ucp.ProfileUCP{
			Version: ucp.Version,
			Services: map[string]ucp.Service{
				ucp.ShoppingService: {
					Version: ucp.Version,
					Spec:    specBase + "/specification/overview",
					REST: &ucp.RESTTransport{
						Schema:   specBase + "/services/shopping/rest.openapi.json",
						Endpoint: base + "/ucp/v1",
					},
					A2A: &ucp.A2ATransport{
						AgentCard: base + "/.well-known/ucp/agent-card",
						Transport: "a2a",
					},
				},
			},
			Capabilities: []ucp.Capability{
				{
					Name:    ucp.CapabilityProductSearch,
					Version: ucp.Version,
					Spec:    specBase + "/specification/shopping/product_search",
					Schema:  specBase + "/schemas/shopping/product_search.json",
				},
				{
					Name:    ucp.CapabilityCheckout,
					Version: ucp.Version,
					Spec:    specBase + "/specification/checkout",
					Schema:  specBase + "/schemas/shopping/checkout.json",
					Extensions: map[string]ucp.Extension{
						ucp.ExtensionAP2Mandate: {
							Version: ucp.Version,
							Spec:    specBase + "/specification/ap2-mandates",
							Schema:  specBase + "/schemas/extensions/ap2_mandate.json",
						},
						ucp.ExtensionDiscount: {
							Version:            ucp.Version,
							Spec:               specBase + "/specification/discount",
							Schema:             specBase + "/schemas/shopping/discount.json",
							Supported:          &supported,
							SupportsPromocodes: &supported,
						},
					},
				},
			},
			Extensions: []string{
				specBase + "/specification/reference?v=" + ucp.Version,
			},
		},
		Payment: ucp.PaymentProfile{
			AP2Payment: ucp.AP2PaymentProfile{
				SupportedFormats:         []string{"sd-jwt"},
				MandatesSupported:        true,
				OTPVerificationSupported: true,
			},
		},
		Merchant: ucp.Merchant{
			ID:   h.cfg.Merchant.ID,
			Name: h.cfg.Merchant.Name,
			URL:  h.cfg.Merchant.URL,
		},
	}

	// Discovery documents change only on deploy; let clients cache
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	respondJSON(w, r, http.StatusOK, profile)
}

// agentCard serves the agent-to-agent discovery card.
func (h handlers) agentCard(w http.ResponseWriter, r *http.Request) {
	card := ucp.AgentCard{
		Agent: ucp.AgentInfo{
			Name:        h.cfg.Merchant.Name + " Agent",
			Version:     "1.0.0",
			Description: "Merchant agent handling product search, checkout, and AP2 payment mandates",
		},
		Extensions: []string{
			specBase + "/specification/reference?v=" + ucp.Version,
		},
		Capabilities: ucp.AgentCardCapabilities{
			Checkout: true,
		},
		SupportedProtocols: []string{"rest"},
		MerchantID:         h.cfg.Merchant.ID,
	}

	w.Header().Set("Cache-Control", "public, max-age=300")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	respondJSON(w, r, http.StatusOK, card)
}
