// Command facilitator runs a standalone x402 facilitator: the /supported,
// /verify, and /settle HTTP surface (§4.7) with no resource-server paywall
// mounted in front of it. Resource servers delegate to it over HTTP via
// internal/resourceserver.RemoteFacilitator instead of running their own
// in-process facilitator.Engine.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/x402-protocol/core/internal/config"
	"github.com/x402-protocol/core/pkg/cedros"
)

func main() {
	cfgPath := flag.String("config", "", "path to facilitator config file (YAML)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("facilitator.config_load_failed")
	}
	// A facilitator deployment has no paywalled routes of its own; it only
	// serves verify/settle/supported for whichever resource servers point at it.
	cfg.ResourceServer.Routes = nil

	app, err := cedros.NewApp(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("facilitator.app_init_failed")
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Error().Err(err).Msg("facilitator.shutdown_cleanup_failed")
		}
	}()

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      app.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  cfg.Server.IdleTimeout.Duration,
	}

	run(srv)
}

func run(srv *http.Server) {
	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("facilitator.listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil {
			log.Fatal().Err(err).Msg("facilitator.server_failed")
		}
	case <-quit:
		log.Info().Msg("facilitator.shutting_down")
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("facilitator.forced_shutdown")
		}
	}
}

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}
