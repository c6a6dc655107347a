package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the UCP services.
type Metrics struct {
	// Checkout session metrics
	CheckoutSessionsTotal  *prometheus.CounterVec
	CheckoutSessionsActive prometheus.Gauge
	CheckoutDuration       *prometheus.HistogramVec
	CheckoutAmountTotal    *prometheus.CounterVec
	LineItemsTotal         prometheus.Counter
	SessionsExpiredTotal   prometheus.Counter

	// AP2 mandate metrics
	MandateOutcomesTotal    *prometheus.CounterVec
	ValidationFailuresTotal *prometheus.CounterVec
	StepUpChallengesTotal   *prometheus.CounterVec

	// Catalog metrics
	ProductSearchesTotal  *prometheus.CounterVec
	ProductSearchDuration *prometheus.HistogramVec
	PromocodesTotal       *prometheus.CounterVec

	// Outbound call metrics (receipt signer, tokenization network, merchant discovery)
	UpstreamCallsTotal   *prometheus.CounterVec
	UpstreamCallDuration *prometheus.HistogramVec
	UpstreamErrorsTotal  *prometheus.CounterVec

	// Request log recorder metrics
	RequestLogEntriesTotal  *prometheus.CounterVec
	RequestLogDroppedTotal  prometheus.Counter
	RequestLogFlushDuration prometheus.Histogram

	// Tokenization metrics
	TokenizationCallsTotal *prometheus.CounterVec

	// Rate limiting metrics
	RateLimitHitsTotal *prometheus.CounterVec

	// Database metrics
	DBQueryDuration     *prometheus.HistogramVec
	DBConnectionsActive prometheus.Gauge
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Checkout session metrics
		CheckoutSessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ucp_checkout_sessions_total",
				Help: "Total number of checkout session transitions by resulting status",
			},
			[]string{"status"},
		),
		CheckoutSessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ucp_checkout_sessions_active",
				Help: "Number of checkout sessions currently held in the store",
			},
		),
		CheckoutDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ucp_checkout_duration_seconds",
				Help:    "Time from session creation to terminal status (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"outcome"},
		),
		CheckoutAmountTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ucp_checkout_amount_total",
				Help: "Total completed checkout amount in minor units",
			},
			[]string{"currency"},
		),
		LineItemsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ucp_checkout_line_items_total",
				Help: "Total number of line items across created checkout sessions",
			},
		),
		SessionsExpiredTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ucp_checkout_sessions_expired_total",
				Help: "Total number of checkout sessions reaped after TTL expiry",
			},
		),

		// AP2 mandate metrics
		MandateOutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ucp_ap2_outcomes_total",
				Help: "Total number of payment mandate adjudications by outcome",
			},
			[]string{"outcome"},
		),
		ValidationFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ucp_ap2_validation_failures_total",
				Help: "Total number of rejected payment mandates by reason",
			},
			[]string{"reason"},
		),
		StepUpChallengesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ucp_step_up_challenges_total",
				Help: "Total number of OTP step-up challenge events by result",
			},
			[]string{"result"},
		),

		// Catalog metrics
		ProductSearchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ucp_product_searches_total",
				Help: "Total number of product search requests",
			},
			[]string{"backend"},
		),
		ProductSearchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ucp_product_search_duration_seconds",
				Help:    "Product search latency (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"backend"},
		),
		PromocodesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ucp_promocode_applications_total",
				Help: "Total number of promocode applications by result",
			},
			[]string{"result"},
		),

		// Outbound call metrics
		UpstreamCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ucp_upstream_calls_total",
				Help: "Total number of outbound calls to upstream services",
			},
			[]string{"service", "operation"},
		),
		UpstreamCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ucp_upstream_call_duration_seconds",
				Help:    "Duration of outbound calls to upstream services (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"service", "operation"},
		),
		UpstreamErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ucp_upstream_errors_total",
				Help: "Total number of failed outbound calls to upstream services",
			},
			[]string{"service", "operation", "error_type"},
		),

		// Request log recorder metrics
		RequestLogEntriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ucp_request_log_entries_total",
				Help: "Total number of request log entries recorded",
			},
			[]string{"kind"},
		),
		RequestLogDroppedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ucp_request_log_dropped_total",
				Help: "Total number of request log entries dropped due to a full queue",
			},
		),
		RequestLogFlushDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ucp_request_log_flush_duration_seconds",
				Help:    "Time taken to persist a request log entry",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
		),

		// Tokenization metrics
		TokenizationCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ucp_tokenization_calls_total",
				Help: "Total number of network tokenization operations by result",
			},
			[]string{"operation", "result"},
		),

		// Rate limiting metrics
		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ucp_rate_limit_hits_total",
				Help: "Total number of rate limit hits",
			},
			[]string{"limit_type", "identifier"},
		),

		// Database metrics
		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ucp_db_query_duration_seconds",
				Help:    "Database query duration (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"operation", "backend"},
		),
		DBConnectionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ucp_db_connections_active",
				Help: "Number of active database connections",
			},
		),
	}
}

// ObserveSessionCreated records a newly created checkout session.
func (m *Metrics) ObserveSessionCreated(itemCount int) {
	m.CheckoutSessionsTotal.WithLabelValues("created").Inc()
	m.CheckoutSessionsActive.Inc()
	m.LineItemsTotal.Add(float64(itemCount))
}

// ObserveSessionStatus records a checkout session transition into the given status.
func (m *Metrics) ObserveSessionStatus(status string) {
	m.CheckoutSessionsTotal.WithLabelValues(status).Inc()
}

// ObserveCheckoutOutcome records a session reaching a terminal state. The
// amount is only counted for completed checkouts.
func (m *Metrics) ObserveCheckoutOutcome(outcome string, age time.Duration, amountMinor int64, currency string) {
	m.CheckoutSessionsTotal.WithLabelValues(outcome).Inc()
	m.CheckoutSessionsActive.Dec()
	m.CheckoutDuration.WithLabelValues(outcome).Observe(age.Seconds())
	if outcome == "completed" {
		m.CheckoutAmountTotal.WithLabelValues(currency).Add(float64(amountMinor))
	}
}

// ObserveSessionsExpired records sessions reaped after TTL expiry.
func (m *Metrics) ObserveSessionsExpired(count int) {
	if count <= 0 {
		return
	}
	m.SessionsExpiredTotal.Add(float64(count))
	m.CheckoutSessionsActive.Sub(float64(count))
}

// ObserveMandateOutcome records the adjudication outcome of a payment mandate.
func (m *Metrics) ObserveMandateOutcome(outcome string) {
	m.MandateOutcomesTotal.WithLabelValues(outcome).Inc()
}

// ObserveValidationFailure records a rejected payment mandate with reason.
func (m *Metrics) ObserveValidationFailure(reason string) {
	m.ValidationFailuresTotal.WithLabelValues(reason).Inc()
}

// ObserveStepUp records an OTP step-up challenge event.
func (m *Metrics) ObserveStepUp(result string) {
	m.StepUpChallengesTotal.WithLabelValues(result).Inc()
}

// ObserveProductSearch records a product search against the given backend.
func (m *Metrics) ObserveProductSearch(backend string, duration time.Duration) {
	m.ProductSearchesTotal.WithLabelValues(backend).Inc()
	m.ProductSearchDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// ObservePromocode records a promocode application attempt.
func (m *Metrics) ObservePromocode(result string) {
	m.PromocodesTotal.WithLabelValues(result).Inc()
}

// ObserveUpstreamCall records an outbound call to an upstream service.
func (m *Metrics) ObserveUpstreamCall(service, operation string, duration time.Duration, err error) {
	m.UpstreamCallsTotal.WithLabelValues(service, operation).Inc()
	m.UpstreamCallDuration.WithLabelValues(service, operation).Observe(duration.Seconds())

	if err != nil {
		errorType := "other"
		switch errStr := err.Error(); {
		case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline exceeded"):
			errorType = "timeout"
		case strings.Contains(errStr, "circuit breaker"):
			errorType = "circuit_open"
		case strings.Contains(errStr, "connection"):
			errorType = "connection"
		case strings.Contains(errStr, "not found"):
			errorType = "not_found"
		}
		m.UpstreamErrorsTotal.WithLabelValues(service, operation, errorType).Inc()
	}
}

// ObserveRequestLog records a request log entry by kind ("ucp" or "ap2").
func (m *Metrics) ObserveRequestLog(kind string, dropped bool) {
	if dropped {
		m.RequestLogDroppedTotal.Inc()
		return
	}
	m.RequestLogEntriesTotal.WithLabelValues(kind).Inc()
}

// ObserveRequestLogFlush records the persistence latency of one log entry.
func (m *Metrics) ObserveRequestLogFlush(duration time.Duration) {
	m.RequestLogFlushDuration.Observe(duration.Seconds())
}

// ObserveTokenization records a network tokenization operation.
func (m *Metrics) ObserveTokenization(operation, result string) {
	m.TokenizationCallsTotal.WithLabelValues(operation, result).Inc()
}

// ObserveRateLimit records a rate limit hit.
func (m *Metrics) ObserveRateLimit(limitType, identifier string) {
	m.RateLimitHitsTotal.WithLabelValues(limitType, identifier).Inc()
}

// ObserveDBQuery records a database query.
func (m *Metrics) ObserveDBQuery(operation, backend string, duration time.Duration) {
	m.DBQueryDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}
