package metrics

import (
	"time"
)

// MeasureDBQuery wraps a database operation with timing instrumentation.
// Usage:
//
//	defer metrics.MeasureDBQuery(m, "get_product", "postgres")()
func MeasureDBQuery(m *Metrics, operation, backend string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		m.ObserveDBQuery(operation, backend, time.Since(start))
	}
}

// MeasureUpstreamCall wraps an outbound call with timing instrumentation.
// The returned function takes the call's error so failures are categorized:
//
//	done := metrics.MeasureUpstreamCall(m, "signer", "sign_receipt")
//	err := client.Sign(ctx, payload)
//	done(err)
func MeasureUpstreamCall(m *Metrics, service, operation string) func(error) {
	if m == nil {
		return func(error) {}
	}
	start := time.Now()
	return func(err error) {
		m.ObserveUpstreamCall(service, operation, time.Since(start), err)
	}
}

// RecordDBQuery records a database query duration directly (when timing is
// already captured).
func RecordDBQuery(m *Metrics, operation, backend string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ObserveDBQuery(operation, backend, duration)
}
