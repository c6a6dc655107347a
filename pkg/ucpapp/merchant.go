// Package ucpapp assembles the merchant and shopper services from their
// components, for the cmd entry points or for embedding either service
// into a larger process.
package ucpapp

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/AgentCommerce/ucp/internal/auth"
	"github.com/AgentCommerce/ucp/internal/checkout"
	"github.com/AgentCommerce/ucp/internal/circuitbreaker"
	"github.com/AgentCommerce/ucp/internal/config"
	"github.com/AgentCommerce/ucp/internal/dbpool"
	"github.com/AgentCommerce/ucp/internal/httpserver"
	"github.com/AgentCommerce/ucp/internal/idempotency"
	"github.com/AgentCommerce/ucp/internal/lifecycle"
	"github.com/AgentCommerce/ucp/internal/logger"
	"github.com/AgentCommerce/ucp/internal/metrics"
	"github.com/AgentCommerce/ucp/internal/observability"
	"github.com/AgentCommerce/ucp/internal/payments"
	"github.com/AgentCommerce/ucp/internal/products"
	"github.com/AgentCommerce/ucp/internal/promocodes"
	"github.com/AgentCommerce/ucp/internal/reqlog"
)

// MerchantApp is the assembled merchant service: the UCP server, its
// checkout manager and AP2 agent, and the resources they own.
type MerchantApp struct {
	Config   *config.MerchantConfig
	Server   *httpserver.Server
	Checkout *checkout.Manager
	Payments *payments.Agent
	Products products.Repository
	Logs     reqlog.Store

	Logger zerolog.Logger

	recorder  *reqlog.Recorder
	resources *lifecycle.Manager
}

// MerchantOption configures MerchantApp construction.
type MerchantOption func(*merchantOptions)

type merchantOptions struct {
	sessionStore checkout.Store
	verifier     payments.Verifier
	signer       auth.ReceiptSigner
	registerer   prometheus.Registerer
}

// WithSessionStore sets a custom checkout session store.
func WithSessionStore(store checkout.Store) MerchantOption {
	return func(o *merchantOptions) { o.sessionStore = store }
}

// WithMandateVerifier overrides the authorization verifier built from
// configured credentials.
func WithMandateVerifier(v payments.Verifier) MerchantOption {
	return func(o *merchantOptions) { o.verifier = v }
}

// WithReceiptSigner overrides the receipt signer built from config.
func WithReceiptSigner(s auth.ReceiptSigner) MerchantOption {
	return func(o *merchantOptions) { o.signer = s }
}

// WithRegisterer sets the Prometheus registerer. Embedding callers use
// this to avoid duplicate registration on the default registry.
func WithRegisterer(r prometheus.Registerer) MerchantOption {
	return func(o *merchantOptions) { o.registerer = r }
}

// NewMerchantApp wires the merchant service. Callers must Close the app
// on shutdown; Start launches the request-log worker.
func NewMerchantApp(cfg *config.MerchantConfig, opts ...MerchantOption) (*MerchantApp, error) {
	if cfg == nil {
		return nil, errors.New("ucpapp: merchant config required")
	}

	optState := merchantOptions{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&optState)
	}

	app := &MerchantApp{
		Config:    cfg,
		resources: lifecycle.NewManager(),
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "ucp-merchant",
		Environment: cfg.Logging.Environment,
	})
	app.Logger = appLogger

	metricsCollector := metrics.New(optState.registerer)

	hooks := observability.NewRegistry(appLogger)
	zlHook := observability.NewZerologHook(appLogger)
	promHook := observability.NewPrometheusHook(metricsCollector)
	hooks.RegisterMandateHook(zlHook)
	hooks.RegisterStepUpHook(zlHook)
	hooks.RegisterCheckoutHook(zlHook)
	hooks.RegisterRequestHook(zlHook)
	hooks.RegisterMandateHook(promHook)
	hooks.RegisterStepUpHook(promHook)
	hooks.RegisterCheckoutHook(promHook)
	hooks.RegisterRequestHook(promHook)

	// When the catalog, promocode, and request-log backends point at the
	// same PostgreSQL database, one pool serves all of them.
	sharedPool, err := app.openSharedPool(cfg)
	if err != nil {
		return nil, err
	}

	productRepo, err := newProductRepository(cfg.Products, sharedPool)
	if err != nil {
		return nil, fmt.Errorf("init product repository: %w", err)
	}
	app.Products = productRepo
	app.resources.Register("product-repository", productRepo)

	promoRepo, err := newPromocodeRepository(cfg.Promocodes, sharedPool)
	if err != nil {
		return nil, fmt.Errorf("init promocode repository: %w", err)
	}
	app.resources.Register("promocode-repository", promoRepo)

	logStore, err := newRequestLogStore(cfg.RequestLog, sharedPool)
	if err != nil {
		return nil, fmt.Errorf("init request log store: %w", err)
	}
	app.Logs = logStore
	app.resources.Register("request-log-store", logStore)

	app.recorder = reqlog.NewRecorder(reqlog.RecorderOptions{
		Store:     logStore,
		QueueSize: cfg.RequestLog.QueueSize,
		Logger:    appLogger,
		Metrics:   metricsCollector,
		Hooks:     hooks,
	})
	app.resources.RegisterFunc("request-log-recorder", func() error {
		app.recorder.Stop()
		return nil
	})

	breakers := circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker, appLogger)

	agentOpts := []payments.Option{
		payments.WithLogger(appLogger),
		payments.WithMetrics(metricsCollector),
		payments.WithHooks(hooks),
	}
	if optState.verifier != nil {
		agentOpts = append(agentOpts, payments.WithVerifier(optState.verifier))
	}
	signer := optState.signer
	if signer == nil {
		signer = auth.NewReceiptSigner(cfg.Payments.Signer)
	}
	if signer != nil {
		agentOpts = append(agentOpts, payments.WithSigner(auth.GuardSigner(signer, breakers)))
	}
	paymentAgent, err := payments.NewAgent(cfg.Merchant.ID, cfg.Payments, agentOpts...)
	if err != nil {
		return nil, fmt.Errorf("init payment agent: %w", err)
	}
	app.Payments = paymentAgent

	sessionStore := optState.sessionStore
	if sessionStore == nil {
		sessionStore = checkout.NewMemoryStore()
	}
	app.Checkout = checkout.NewManager(sessionStore, paymentAgent, checkout.Config{
		SessionTTL:      cfg.Checkout.SessionTTL.Duration,
		CleanupInterval: cfg.Checkout.CleanupInterval.Duration,
		EnforceCatalog:  cfg.Checkout.EnforceCatalog,
	},
		checkout.WithCatalog(productRepo),
		checkout.WithPromocodes(promoRepo),
		checkout.WithLogger(appLogger),
		checkout.WithMetrics(metricsCollector),
	)
	app.resources.RegisterFunc("checkout-manager", func() error {
		app.Checkout.Stop()
		return nil
	})

	idempotencyStore := idempotency.NewMemoryStore()
	app.resources.RegisterFunc("idempotency-store", func() error {
		idempotencyStore.Stop()
		return nil
	})

	app.Server = httpserver.New(cfg, app.Checkout, paymentAgent, productRepo, logStore, app.recorder, idempotencyStore, metricsCollector, appLogger)

	return app, nil
}

// Start launches background workers. The context bounds the request-log
// worker's store writes.
func (a *MerchantApp) Start(ctx context.Context) {
	a.recorder.Start(ctx)
}

// ListenAndServe starts the HTTP server and blocks.
func (a *MerchantApp) ListenAndServe() error {
	return a.Server.ListenAndServe()
}

// Shutdown stops the HTTP server gracefully.
func (a *MerchantApp) Shutdown(ctx context.Context) error {
	return a.Server.Shutdown(ctx)
}

// Close releases resources owned by the app: the checkout reaper, the
// request-log recorder and store, and repository connections.
func (a *MerchantApp) Close() error {
	return a.resources.Close()
}

// openSharedPool opens one PostgreSQL pool when at least two backends
// share a connection string; backends with distinct URLs keep their own
// pools.
func (a *MerchantApp) openSharedPool(cfg *config.MerchantConfig) (*dbpool.SharedPool, error) {
	urls := map[string]int{}
	for _, u := range []string{
		postgresURLFor(cfg.Products.Source, cfg.Products.PostgresURL),
		postgresURLFor(cfg.Promocodes.Source, cfg.Promocodes.PostgresURL),
		postgresURLFor(cfg.RequestLog.Backend, cfg.RequestLog.PostgresURL),
	} {
		if u != "" {
			urls[u]++
		}
	}

	for u, n := range urls {
		if n < 2 {
			continue
		}
		pool, err := dbpool.NewSharedPool(u, cfg.Products.PostgresPool)
		if err != nil {
			return nil, fmt.Errorf("open shared postgres pool: %w", err)
		}
		a.resources.Register("postgres-pool", pool)
		return pool, nil
	}
	return nil, nil
}

func postgresURLFor(source, url string) string {
	if source != "postgres" {
		return ""
	}
	return url
}

func newProductRepository(cfg config.ProductsConfig, pool *dbpool.SharedPool) (products.Repository, error) {
	if pool != nil && cfg.Source == "postgres" {
		return products.NewRepositoryWithDB(cfg, pool.DB())
	}
	return products.NewRepository(cfg)
}

func newPromocodeRepository(cfg config.PromocodesConfig, pool *dbpool.SharedPool) (promocodes.Repository, error) {
	if pool != nil && cfg.Source == "postgres" {
		return promocodes.NewRepositoryWithDB(cfg, pool.DB())
	}
	return promocodes.NewRepository(cfg)
}

func newRequestLogStore(cfg config.RequestLogConfig, pool *dbpool.SharedPool) (reqlog.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return reqlog.NewMemoryStore(cfg.Capacity), nil
	case "postgres":
		if pool != nil {
			return reqlog.NewPostgresStoreWithDB(pool.DB(), cfg.UCPTableName, cfg.AP2TableName)
		}
		return reqlog.NewPostgresStore(cfg.PostgresURL, cfg.UCPTableName, cfg.AP2TableName, cfg.PostgresPool)
	case "mongodb":
		return reqlog.NewMongoDBStore(cfg.MongoDBURL, cfg.MongoDBDatabase, cfg.UCPTableName, cfg.AP2TableName)
	default:
		return nil, fmt.Errorf("unknown request log backend: %q", cfg.Backend)
	}
}
