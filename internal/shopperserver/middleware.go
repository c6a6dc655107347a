package shopperserver

import (
	"crypto/subtle"
	"net/http"

	apierrors "github.com/AgentCommerce/ucp/internal/errors"
)

// securityHeadersMiddleware sets the standard security headers on every
// response. HSTS is only added when the request arrived over TLS.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		if r.TLS != nil {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

// adminMetricsAuth protects the /metrics endpoint with an API key. An
// empty key leaves the endpoint open; otherwise requests must carry
// "Authorization: Bearer {key}".
func adminMetricsAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			expected := "Bearer " + apiKey
			got := r.Header.Get("Authorization")
			if subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
				apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidAuthorization, "Invalid or missing admin API key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
