package ucpapp

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/AgentCommerce/ucp/internal/circuitbreaker"
	"github.com/AgentCommerce/ucp/internal/config"
	"github.com/AgentCommerce/ucp/internal/consumeragent"
	"github.com/AgentCommerce/ucp/internal/credentials"
	"github.com/AgentCommerce/ucp/internal/discovery"
	"github.com/AgentCommerce/ucp/internal/lifecycle"
	"github.com/AgentCommerce/ucp/internal/logger"
	"github.com/AgentCommerce/ucp/internal/metrics"
	"github.com/AgentCommerce/ucp/internal/orchestrator"
	"github.com/AgentCommerce/ucp/internal/shopperserver"
	"github.com/AgentCommerce/ucp/internal/tokenization"
)

// ShopperApp is the assembled shopper service: the credential wallet,
// the discovery client, the checkout orchestrator, and the HTTP layer
// in front of them.
type ShopperApp struct {
	Config       *config.ShopperConfig
	Server       *shopperserver.Server
	Wallet       *credentials.Provider
	Discovery    *discovery.Client
	Orchestrator *orchestrator.Orchestrator
	Tokens       tokenization.Adapter

	Logger zerolog.Logger

	resources *lifecycle.Manager
}

// ShopperOption configures ShopperApp construction.
type ShopperOption func(*shopperOptions)

type shopperOptions struct {
	walletStore credentials.Store
	tokens      tokenization.Adapter
	registerer  prometheus.Registerer
}

// WithWalletStore sets a custom credentials store.
func WithWalletStore(store credentials.Store) ShopperOption {
	return func(o *shopperOptions) { o.walletStore = store }
}

// WithTokenizationAdapter overrides the adapter built from config.
func WithTokenizationAdapter(a tokenization.Adapter) ShopperOption {
	return func(o *shopperOptions) { o.tokens = a }
}

// WithShopperRegisterer sets the Prometheus registerer.
func WithShopperRegisterer(r prometheus.Registerer) ShopperOption {
	return func(o *shopperOptions) { o.registerer = r }
}

// NewShopperApp wires the shopper service. Callers must Close the app
// on shutdown and should Bootstrap it before serving so the merchant
// profile is in hand.
func NewShopperApp(cfg *config.ShopperConfig, opts ...ShopperOption) (*ShopperApp, error) {
	if cfg == nil {
		return nil, errors.New("ucpapp: shopper config required")
	}

	optState := shopperOptions{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&optState)
	}

	app := &ShopperApp{
		Config:    cfg,
		resources: lifecycle.NewManager(),
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "ucp-shopper",
		Environment: cfg.Logging.Environment,
	})
	app.Logger = appLogger

	metricsCollector := metrics.New(optState.registerer)

	walletStore := optState.walletStore
	if walletStore == nil {
		walletStore = credentials.NewMemoryStore()
	}
	wallet, err := credentials.NewProvider(cfg.Credentials, walletStore, appLogger)
	if err != nil {
		return nil, fmt.Errorf("init credentials provider: %w", err)
	}
	app.Wallet = wallet

	breakers := circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker, appLogger)

	tokens := optState.tokens
	if tokens == nil {
		tokens, err = tokenization.NewFromConfig(cfg.Tokenization, breakers, appLogger)
		if err != nil {
			return nil, fmt.Errorf("init tokenization adapter: %w", err)
		}
	}
	app.Tokens = tokens

	app.Discovery = discovery.NewClient(cfg.Merchant, appLogger)

	agent := consumeragent.NewAgent(appLogger)

	app.Orchestrator = orchestrator.New(cfg.Merchant, app.Discovery, wallet, agent, tokens, appLogger)

	app.Server = shopperserver.New(cfg, wallet, app.Orchestrator, tokens, metricsCollector, appLogger)

	return app, nil
}

// Bootstrap fetches the merchant's UCP profile, retrying per config.
// The shopper refuses to serve blind: without a profile there is no
// checkout endpoint to drive.
func (a *ShopperApp) Bootstrap(ctx context.Context) error {
	return a.Discovery.Bootstrap(ctx)
}

// ListenAndServe starts the HTTP server and blocks.
func (a *ShopperApp) ListenAndServe() error {
	return a.Server.ListenAndServe()
}

// Shutdown stops the HTTP server gracefully.
func (a *ShopperApp) Shutdown(ctx context.Context) error {
	return a.Server.Shutdown(ctx)
}

// Close releases resources owned by the app.
func (a *ShopperApp) Close() error {
	return a.resources.Close()
}
