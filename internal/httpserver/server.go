package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/AgentCommerce/ucp/internal/apikey"
	"github.com/AgentCommerce/ucp/internal/config"
	"github.com/AgentCommerce/ucp/internal/idempotency"
	"github.com/AgentCommerce/ucp/internal/logger"
	"github.com/AgentCommerce/ucp/internal/metrics"
	"github.com/AgentCommerce/ucp/internal/products"
	"github.com/AgentCommerce/ucp/internal/ratelimit"
	"github.com/AgentCommerce/ucp/internal/reqlog"
	"github.com/AgentCommerce/ucp/internal/versioning"
	"github.com/AgentCommerce/ucp/pkg/ap2"
	"github.com/AgentCommerce/ucp/pkg/ucp"
)

var (
	serverStartTime = time.Now()
)

// CheckoutService is the slice of the checkout manager the HTTP layer
// needs.
type CheckoutService interface {
	Create(ctx context.Context, req *ucp.CheckoutCreateRequest) (*ucp.CheckoutSession, error)
	Get(ctx context.Context, id string) (*ucp.CheckoutSession, error)
	Update(ctx context.Context, id string, req *ucp.CheckoutUpdateRequest) (*ucp.CheckoutSession, error)
	Complete(ctx context.Context, id, otpCode string) (*ucp.CompleteResponse, error)
}

// PaymentService is the slice of the AP2 merchant agent exposed on the
// standalone payment endpoints.
type PaymentService interface {
	ProcessPayment(ctx context.Context, mandate *ap2.PaymentMandate) (*ap2.PaymentReceipt, *ap2.OTPChallenge, error)
	VerifyOTP(ctx context.Context, mandate *ap2.PaymentMandate, verification ap2.OTPVerification) (*ap2.PaymentReceipt, error)
}

// Server wires handlers, middleware, and dependencies.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg      *config.MerchantConfig
	checkout CheckoutService
	payments PaymentService
	products products.Repository
	logs     reqlog.Store   // Request log backend queried by the dashboard
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// New builds the merchant HTTP server with configured router.
func New(cfg *config.MerchantConfig, checkoutSvc CheckoutService, paymentAgent PaymentService, productRepo products.Repository, logStore reqlog.Store, recorder *reqlog.Recorder, idempotencyStore idempotency.Store, metricsCollector *metrics.Metrics, appLogger zerolog.Logger) *Server {
	router := chi.NewRouter()

	s := &Server{
		handlers: handlers{
			cfg:      cfg,
			checkout: checkoutSvc,
			payments: paymentAgent,
			products: productRepo,
			logs:     logStore,
			metrics:  metricsCollector,
			logger:   appLogger,
		},
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}

	ConfigureRouter(router, cfg, checkoutSvc, paymentAgent, productRepo, logStore, recorder, idempotencyStore, metricsCollector, appLogger)

	return s
}

// ConfigureRouter attaches the merchant routes to an existing router.
func ConfigureRouter(router chi.Router, cfg *config.MerchantConfig, checkoutSvc CheckoutService, paymentAgent PaymentService, productRepo products.Repository, logStore reqlog.Store, recorder *reqlog.Recorder, idempotencyStore idempotency.Store, metricsCollector *metrics.Metrics, appLogger zerolog.Logger) {
	if router == nil {
		return
	}

	handler := handlers{
		cfg:      cfg,
		checkout: checkoutSvc,
		payments: paymentAgent,
		products: productRepo,
		logs:     logStore,
		metrics:  metricsCollector,
		logger:   appLogger,
	}

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			ExposedHeaders:   []string{"Location"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	// Security headers middleware (applied first for all responses)
	router.Use(securityHeadersMiddleware)

	// Structured logging middleware (BEFORE RequestID for context propagation)
	router.Use(logger.Middleware(appLogger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)

	// Request log recorder. Mounted after RealIP so the stored client IP
	// reflects the true caller, and before Recoverer so recovered panics
	// are still recorded as 500s.
	if recorder != nil {
		router.Use(reqlog.Middleware(recorder))
	}
	router.Use(middleware.Recoverer)

	// API version negotiation middleware (adds version to context from Accept header)
	router.Use(versioning.Negotiation)

	// API key authentication middleware (BEFORE rate limiting)
	// Extracts X-API-Key header and stores tier in context for rate limit exemptions
	apiKeyCfg := apikey.Config{
		Enabled: cfg.APIKey.Enabled,
		APIKeys: make(map[string]apikey.Tier),
	}
	for key, tierStr := range cfg.APIKey.Keys {
		apiKeyCfg.APIKeys[key] = apikey.Tier(tierStr)
	}
	router.Use(apikey.Middleware(apiKeyCfg))

	// Rate limiting middleware (applied globally)
	rateLimitCfg := ratelimit.Config{
		GlobalEnabled: cfg.RateLimit.GlobalEnabled,
		GlobalLimit:   cfg.RateLimit.GlobalLimit,
		GlobalWindow:  cfg.RateLimit.GlobalWindow.Duration,
		PerIPEnabled:  cfg.RateLimit.PerIPEnabled,
		PerIPLimit:    cfg.RateLimit.PerIPLimit,
		PerIPWindow:   cfg.RateLimit.PerIPWindow.Duration,
		Metrics:       metricsCollector,
	}
	router.Use(ratelimit.GlobalLimiter(rateLimitCfg))
	router.Use(ratelimit.IPLimiter(rateLimitCfg))

	// NOTE: Timeout middleware is applied selectively per route group below
	// to avoid imposing 60s timeout on lightweight discovery/health endpoints

	// The discovery, checkout, and payment paths are fixed by the
	// protocol and advertised from the merchant URL, so the route prefix
	// only applies to the operational surfaces.
	prefix := cfg.Server.RoutePrefix

	// Lightweight endpoints with 5s timeout (health checks, discovery, metrics)
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get("/healthz", handler.health)
		r.Get("/.well-known/ucp", handler.ucpProfile)
		r.Get("/.well-known/ucp/agent-card", handler.agentCard)
		// Prometheus metrics endpoint, protected by optional admin API key
		r.With(adminMetricsAuth(cfg.Server.AdminMetricsAPIKey)).Handle(prefix+"/metrics", promhttp.Handler())
	})

	// Idempotency middleware (24 hour cache for payment requests)
	idempotencyMW := idempotency.Middleware(idempotencyStore, 24*time.Hour)

	// Checkout and payment endpoints with 60s timeout
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/ucp/products/search", handler.searchProducts)

		r.Post("/ucp/v1/checkout-sessions", handler.createCheckoutSession)
		r.Get("/ucp/v1/checkout-sessions/{id}", handler.getCheckoutSession)
		r.Put("/ucp/v1/checkout-sessions/{id}", handler.updateCheckoutSession)
		r.With(idempotencyMW).Post("/ucp/v1/checkout-sessions/{id}/complete", handler.completeCheckoutSession)

		// Standalone AP2 payment endpoints for agents that bring their
		// own mandate outside the checkout flow
		r.With(idempotencyMW).Post("/ap2/payment/process", handler.processPayment)
		r.With(idempotencyMW).Post("/ap2/payment/verify-otp", handler.verifyOTP)

		// Request log dashboard, protected by optional API key
		r.Route(prefix+"/api/dashboard", func(r chi.Router) {
			r.Use(dashboardAuth(cfg.RequestLog.DashboardAPIKey))
			r.Get("/ucp-logs", handler.dashboardUCPLogs)
			r.Get("/ap2-logs", handler.dashboardAP2Logs)
			r.Get("/stats", handler.dashboardStats)
			r.Delete("/clear-logs", handler.dashboardClearLogs)
		})
	})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Handler exposes the configured router, for embedding or in-process
// test servers.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
