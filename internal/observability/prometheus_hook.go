package observability

import (
	"context"

	"github.com/AgentCommerce/ucp/internal/metrics"
)

// PrometheusHook adapts hook events to the Prometheus metrics surface.
// Only families not already incremented inline by their owning component
// are driven from here, so registering this hook never double-counts.
type PrometheusHook struct {
	metrics *metrics.Metrics
}

// NewPrometheusHook creates a hook that emits events to Prometheus metrics.
func NewPrometheusHook(m *metrics.Metrics) *PrometheusHook {
	return &PrometheusHook{metrics: m}
}

func (h *PrometheusHook) Name() string {
	return "prometheus"
}

// ===============================================
// MandateHook Implementation
// ===============================================

func (h *PrometheusHook) OnMandateAdjudicated(ctx context.Context, event MandateAdjudicatedEvent) {
	h.metrics.ObserveMandateOutcome(event.Outcome)
}

// ===============================================
// StepUpHook Implementation
// ===============================================

func (h *PrometheusHook) OnChallengeIssued(ctx context.Context, event ChallengeIssuedEvent) {
	// Step-up counters are incremented inline by the checkout manager.
}

func (h *PrometheusHook) OnChallengeResolved(ctx context.Context, event ChallengeResolvedEvent) {
	// Step-up counters are incremented inline by the checkout manager.
}

// ===============================================
// CheckoutHook Implementation
// ===============================================

func (h *PrometheusHook) OnSessionCompleted(ctx context.Context, event SessionCompletedEvent) {
	// Session counters are incremented inline by the checkout manager.
}

// ===============================================
// RequestHook Implementation
// ===============================================

func (h *PrometheusHook) OnRequestRecorded(ctx context.Context, event RequestRecordedEvent) {
	// Request-log counters are incremented by the recorder worker.
}
