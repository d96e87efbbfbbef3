// Command resourceserver demonstrates wiring a single paid route behind the
// resource-server engine (§4.6), settling through a remote facilitator over
// HTTP instead of an in-process facilitator.Engine (contrast with
// pkg/cedros.App, which bundles both roles into one process).
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/x402-protocol/core/internal/logger"
	"github.com/x402-protocol/core/pkg/responders"
	"github.com/x402-protocol/core/pkg/x402"
	"github.com/x402-protocol/core/pkg/x402/extensions/bazaar"
	"github.com/x402-protocol/core/pkg/x402/route"

	"github.com/x402-protocol/core/internal/resourceserver"
)

func main() {
	addr := flag.String("addr", ":8081", "address to listen on")
	facilitatorURL := flag.String("facilitator", "http://localhost:8080/facilitator", "facilitator base URL")
	payTo := flag.String("pay-to", "", "address to receive payments (required)")
	network := flag.String("network", "eip155:8453", "CAIP-2 network to accept payment on")
	price := flag.String("price", "$0.01", "price for the protected resource, e.g. \"$0.01\"")
	resourcePath := flag.String("resource", "/premium", "path of the protected resource")
	facilitatorTimeout := flag.Duration("facilitator-timeout", 10*time.Second, "timeout for calls to the facilitator")
	flag.Parse()

	if *payTo == "" {
		log.Fatal().Msg("resourceserver.missing_pay_to: --pay-to is required")
	}

	appLogger := logger.New(logger.Config{Service: "x402-resourceserver", Level: "info", Format: "console"})

	table, err := route.NewTable(map[string]x402.RouteConfig{
		"GET " + *resourcePath: {
			Price:       *price,
			Network:     *network,
			PayTo:       *payTo,
			Resource:    *resourcePath,
			Description: "example protected resource",
			MimeType:    "application/json",
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("resourceserver.route_compile_failed")
	}

	facilitator := resourceserver.NewRemoteFacilitator(*facilitatorURL, *facilitatorTimeout)
	engine := resourceserver.NewEngine(table, facilitator, appLogger)
	engine.PaywallHTML = true

	mux := http.NewServeMux()
	mux.HandleFunc(*resourcePath, func(w http.ResponseWriter, r *http.Request) {
		responders.JSON(w, http.StatusOK, map[string]any{
			"message": "payment settled, here is your premium content",
		})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		responders.JSON(w, http.StatusOK, map[string]any{
			"protocol": "x402",
			"resource": *resourcePath,
			"price":    *price,
		})
	})

	// Discovery/Bazaar (§4.8, §6): advertise this server's payable routes so
	// an agent can price them without first triggering a 402.
	catalog := bazaar.NewCatalog(table)
	mux.Handle("/.well-known/x402", catalog.Handler())

	handler := engine.Middleware()(mux)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	run(srv)
}

func run(srv *http.Server) {
	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("resourceserver.listening")
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
			log.Fatal().Err(err).Msg("resourceserver.server_failed")
		}
	case <-quit:
		log.Info().Msg("resourceserver.shutting_down")
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("resourceserver.forced_shutdown")
		}
	}
}
