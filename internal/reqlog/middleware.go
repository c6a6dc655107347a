package reqlog

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/AgentCommerce/ucp/internal/logger"
)

// maxCapturedBody caps captured request and response bodies. Anything
// larger is cut at the cap; the dashboard is for inspection, not replay.
const maxCapturedBody = 64 * 1024

// Capture is the per-request context slot handlers write into: the
// serialized response body and, for AP2 exchanges, the message-level
// fields the middleware cannot parse generically.
type Capture struct {
	mu                sync.Mutex
	responseBody      []byte
	messageType       string
	mandateID         string
	requestSignature  string
	responseSignature string
	paymentStatus     string
}

type captureKey struct{}

// FromContext returns the capture slot installed by Middleware, or nil
// when the request is not being recorded.
func FromContext(ctx context.Context) *Capture {
	c, _ := ctx.Value(captureKey{}).(*Capture)
	return c
}

// SetResponseBody records the serialized response for the request log.
// Handlers call this just before writing the response.
func SetResponseBody(ctx context.Context, body []byte) {
	c := FromContext(ctx)
	if c == nil {
		return
	}
	if len(body) > maxCapturedBody {
		body = body[:maxCapturedBody]
	}
	c.mu.Lock()
	c.responseBody = append([]byte(nil), body...)
	c.mu.Unlock()
}

// AP2Details carries the message-level fields of an AP2 exchange.
// Signatures are truncated before storage; full signatures never reach
// the log.
type AP2Details struct {
	MessageType       string
	MandateID         string
	RequestSignature  string
	ResponseSignature string
	PaymentStatus     string
}

// SetAP2Details records AP2 message fields for the request log.
func SetAP2Details(ctx context.Context, d AP2Details) {
	c := FromContext(ctx)
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if d.MessageType != "" {
		c.messageType = d.MessageType
	}
	if d.MandateID != "" {
		c.mandateID = d.MandateID
	}
	if d.RequestSignature != "" {
		c.requestSignature = logger.TruncateSignature(d.RequestSignature)
	}
	if d.ResponseSignature != "" {
		c.responseSignature = logger.TruncateSignature(d.ResponseSignature)
	}
	if d.PaymentStatus != "" {
		c.paymentStatus = d.PaymentStatus
	}
}

// classify maps a request path onto a log kind. Paths outside the two
// protocol surfaces are not recorded.
func classify(path string) (Kind, bool) {
	switch {
	case strings.HasPrefix(path, "/ap2/"):
		return KindAP2, true
	case strings.HasPrefix(path, "/ucp/"), strings.HasPrefix(path, "/.well-known/"):
		return KindUCP, true
	default:
		return "", false
	}
}

// Middleware records UCP and AP2 requests through the recorder. Mount
// it inside the router, after RealIP, so the route pattern and client
// ip are resolved.
func Middleware(rec *Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			kind, ok := classify(r.URL.Path)
			if !ok || rec == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()

			// Capture up to the cap and splice the rest back so the
			// handler sees the complete body.
			var requestBody []byte
			if r.Body != nil {
				requestBody, _ = io.ReadAll(io.LimitReader(r.Body, maxCapturedBody))
				r.Body = struct {
					io.Reader
					io.Closer
				}{io.MultiReader(bytes.NewReader(requestBody), r.Body), r.Body}
			}

			capture := &Capture{}
			req := r.WithContext(context.WithValue(r.Context(), captureKey{}, capture))
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, req)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			capture.mu.Lock()
			entry := Entry{
				Kind:              kind,
				Timestamp:         start.UTC(),
				Endpoint:          endpointOf(req),
				Method:            r.Method,
				Path:              r.URL.Path,
				Query:             r.URL.RawQuery,
				Status:            status,
				RequestBody:       string(requestBody),
				ResponseBody:      string(capture.responseBody),
				ClientIP:          clientIP(r),
				UserAgent:         r.UserAgent(),
				DurationMS:        time.Since(start).Milliseconds(),
				MessageType:       capture.messageType,
				MandateID:         capture.mandateID,
				RequestSignature:  capture.requestSignature,
				ResponseSignature: capture.responseSignature,
				PaymentStatus:     capture.paymentStatus,
			}
			capture.mu.Unlock()

			rec.Record(entry)
		})
	}
}

// endpointOf prefers the resolved route pattern (stable cardinality)
// over the raw path.
func endpointOf(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

// clientIP strips the port from RemoteAddr. The RealIP middleware has
// already resolved proxy headers by the time this runs.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
