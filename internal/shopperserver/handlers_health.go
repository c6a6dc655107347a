package shopperserver

import (
	"net/http"
	"time"

	"github.com/AgentCommerce/ucp/pkg/responders"
)

// health reports service liveness plus which integrations are wired in.
func (h handlers) health(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(serverStartTime)

	payload := map[string]any{
		"status":    "healthy",
		"service":   "ucp-shopper",
		"uptime":    uptime.String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"features": map[string]any{
			"merchant_base_url":    h.cfg.Merchant.BaseURL,
			"tokenization_enabled": h.tokens.Enabled(),
		},
	}

	responders.JSON(w, http.StatusOK, payload)
}
