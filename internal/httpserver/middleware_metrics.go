package httpserver

import (
	"crypto/subtle"
	"net/http"

	apierrors "github.com/AgentCommerce/ucp/internal/errors"
)

// adminMetricsAuth protects the /metrics endpoint with an API key.
// If no API key is configured, the endpoint is accessible without
// authentication. Otherwise requests must carry
// "Authorization: Bearer {key}".
func adminMetricsAuth(apiKey string) func(http.Handler) http.Handler {
	return requireBearerKey(apiKey, "Invalid or missing admin API key")
}

// dashboardAuth protects the request log dashboard endpoints with the
// same bearer scheme.
func dashboardAuth(apiKey string) func(http.Handler) http.Handler {
	return requireBearerKey(apiKey, "Invalid or missing dashboard API key")
}

func requireBearerKey(apiKey, message string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Empty key means the surface is open
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			expected := "Bearer " + apiKey
			got := r.Header.Get("Authorization")
			if subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
				apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidAuthorization, message)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
