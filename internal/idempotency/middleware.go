// Package idempotency replays cached responses for repeated requests
// carrying the same Idempotency-Key. The merchant mounts it on the
// payment-executing POSTs (complete, process, verify-otp) so a client
// retrying after an ambiguous outcome cannot double-charge.
package idempotency

import (
	"bytes"
	"net/http"
	"time"
)

const (
	// HeaderKey is the standard idempotency key header.
	HeaderKey = "Idempotency-Key"

	// DefaultTTL is how long cached responses replay (24 hours).
	DefaultTTL = 24 * time.Hour
)

// responseWriter captures status, headers, and body for caching.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
	headers    map[string]string
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
		body:           &bytes.Buffer{},
		headers:        make(map[string]string),
	}
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

// captureHeaders snapshots headers set by the handler before the
// response was committed.
func (rw *responseWriter) captureHeaders() {
	for key := range rw.ResponseWriter.Header() {
		rw.headers[key] = rw.ResponseWriter.Header().Get(key)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}

// Middleware returns the idempotency middleware. Requests without a key
// pass through untouched; a replayed response carries
// X-Idempotency-Replay: true. Only 2xx responses are cached, so a
// failed attempt can be retried with the same key.
func Middleware(store Store, ttl time.Duration) func(http.Handler) http.Handler {
	if ttl == 0 {
		ttl = DefaultTTL
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey := r.Header.Get(HeaderKey)

			if rawKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			// Scope by method and path so one key cannot collide
			// across endpoints.
			key := r.Method + ":" + r.URL.Path + ":" + rawKey

			cached, found := store.Get(r.Context(), key)
			if found {
				for k, v := range cached.Headers {
					w.Header().Set(k, v)
				}
				w.Header().Set("X-Idempotency-Replay", "true")
				w.WriteHeader(cached.StatusCode)
				w.Write(cached.Body)
				return
			}

			rw := newResponseWriter(w)

			next.ServeHTTP(rw, r)

			if rw.statusCode >= 200 && rw.statusCode < 300 {
				rw.captureHeaders()

				response := &Response{
					StatusCode: rw.statusCode,
					Headers:    rw.headers,
					Body:       rw.body.Bytes(),
					CachedAt:   time.Now(),
				}

				store.Set(r.Context(), key, response, ttl)
			}
		})
	}
}
