// Package shopperserver is the shopper service's HTTP layer: wallet
// management (users, device enrollment, cards) and the checkout
// endpoints that drive the orchestrator against the merchant.
package shopperserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/AgentCommerce/ucp/internal/config"
	"github.com/AgentCommerce/ucp/internal/credentials"
	"github.com/AgentCommerce/ucp/internal/logger"
	"github.com/AgentCommerce/ucp/internal/metrics"
	"github.com/AgentCommerce/ucp/internal/orchestrator"
	"github.com/AgentCommerce/ucp/internal/tokenization"
	"github.com/AgentCommerce/ucp/pkg/ucp"
)

var (
	serverStartTime = time.Now()
)

// CheckoutService is the slice of the orchestrator the HTTP layer
// needs.
type CheckoutService interface {
	Prepare(ctx context.Context, in orchestrator.PrepareInput) (*orchestrator.PrepareResult, error)
	Confirm(ctx context.Context, sessionID string, assertion credentials.Assertion) (*orchestrator.ConfirmResult, error)
	SubmitOTP(ctx context.Context, sessionID, code string) (*orchestrator.ConfirmResult, error)
	Status(ctx context.Context, sessionID string) (*ucp.CheckoutSession, error)
}

// Server wires handlers, middleware, and dependencies.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg      *config.ShopperConfig
	wallet   *credentials.Provider
	checkout CheckoutService
	tokens   tokenization.Adapter
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// New builds the shopper HTTP server with configured router.
func New(cfg *config.ShopperConfig, wallet *credentials.Provider, checkoutSvc CheckoutService, tokens tokenization.Adapter, metricsCollector *metrics.Metrics, appLogger zerolog.Logger) *Server {
	router := chi.NewRouter()

	s := &Server{
		handlers: handlers{
			cfg:      cfg,
			wallet:   wallet,
			checkout: checkoutSvc,
			tokens:   tokens,
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

	ConfigureRouter(router, cfg, wallet, checkoutSvc, tokens, metricsCollector, appLogger)

	return s
}

// ConfigureRouter attaches the shopper routes to an existing router.
func ConfigureRouter(router chi.Router, cfg *config.ShopperConfig, wallet *credentials.Provider, checkoutSvc CheckoutService, tokens tokenization.Adapter, metricsCollector *metrics.Metrics, appLogger zerolog.Logger) {
	if router == nil {
		return
	}

	if tokens == nil {
		tokens = tokenization.Disabled{}
	}

	handler := handlers{
		cfg:      cfg,
		wallet:   wallet,
		checkout: checkoutSvc,
		tokens:   tokens,
		metrics:  metricsCollector,
		logger:   appLogger,
	}

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	router.Use(securityHeadersMiddleware)
	router.Use(logger.Middleware(appLogger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	prefix := cfg.Server.RoutePrefix

	// Lightweight endpoints with 5s timeout
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get("/healthz", handler.health)
		r.With(adminMetricsAuth(cfg.Server.AdminMetricsAPIKey)).Handle(prefix+"/metrics", promhttp.Handler())
	})

	// Wallet and checkout endpoints. 60s covers the longest confirm
	// path: one outbound merchant call plus the recovery poll, each
	// bounded by the configured outbound timeout.
	router.Route(prefix+"/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Post("/users/register", handler.registerUser)
		r.Get("/users/{email}", handler.getUser)

		r.Post("/credentials/enroll/begin", handler.beginEnrollment)
		r.Post("/credentials/enroll/finish", handler.finishEnrollment)
		r.Post("/credentials/authorize/begin", handler.beginAuthorization)

		r.Post("/cards", handler.addCard)
		r.Get("/cards", handler.listCards)

		r.Post("/checkout/prepare", handler.prepareCheckout)
		r.Post("/checkout/{session_id}/confirm", handler.confirmCheckout)
		r.Post("/checkout/{session_id}/otp", handler.submitCheckoutOTP)
		r.Get("/checkout/{session_id}", handler.getCheckout)
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
