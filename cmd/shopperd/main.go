// shopperd runs the shopper service: the credential wallet, the
// AP2 consumer agent, and the checkout orchestrator that drives the
// merchant's UCP surface.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/AgentCommerce/ucp/internal/config"
	"github.com/AgentCommerce/ucp/pkg/ucpapp"
)

func main() {
	cfgPath := flag.String("config", "", "path to shopper config YAML (optional; defaults plus env apply without one)")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("shopperd.dotenv_load_failed")
	}

	cfg, err := config.LoadShopper(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *cfgPath).Msg("shopperd.config_load_failed")
	}

	app, err := ucpapp.NewShopperApp(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("shopperd.init_failed")
	}
	defer func() {
		if err := app.Close(); err != nil {
			app.Logger.Error().Err(err).Msg("shopperd.close_failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The wallet can enroll users offline, but checkout needs the
	// merchant profile, so the service refuses to start without it.
	if err := app.Bootstrap(ctx); err != nil {
		log.Fatal().Err(err).Str("merchant", cfg.Merchant.BaseURL).Msg("shopperd.discovery_failed")
	}

	serveErr := make(chan error, 1)
	go func() {
		app.Logger.Info().
			Str("address", cfg.Server.Address).
			Str("merchant", cfg.Merchant.BaseURL).
			Msg("shopperd.listening")
		serveErr <- app.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		app.Logger.Fatal().Err(err).Msg("shopperd.serve_failed")
	case <-ctx.Done():
	}

	app.Logger.Info().Msg("shopperd.shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error().Err(err).Msg("shopperd.shutdown_failed")
	}
}
