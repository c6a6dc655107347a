// merchantd runs the UCP merchant service: discovery, product search,
// checkout sessions, and the AP2 payment endpoints.
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
	cfgPath := flag.String("config", "", "path to merchant config YAML (optional; defaults plus env apply without one)")
	flag.Parse()

	// Optional .env for local runs; environment always wins over YAML.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("merchantd.dotenv_load_failed")
	}

	cfg, err := config.LoadMerchant(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *cfgPath).Msg("merchantd.config_load_failed")
	}

	app, err := ucpapp.NewMerchantApp(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("merchantd.init_failed")
	}
	defer func() {
		if err := app.Close(); err != nil {
			app.Logger.Error().Err(err).Msg("merchantd.close_failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app.Start(ctx)

	serveErr := make(chan error, 1)
	go func() {
		app.Logger.Info().
			Str("address", cfg.Server.Address).
			Str("merchant_id", cfg.Merchant.ID).
			Msg("merchantd.listening")
		serveErr <- app.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		app.Logger.Fatal().Err(err).Msg("merchantd.serve_failed")
	case <-ctx.Done():
	}

	app.Logger.Info().Msg("merchantd.shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error().Err(err).Msg("merchantd.shutdown_failed")
	}
}
