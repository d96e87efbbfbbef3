// Package cedros assembles the x402 resource-server and facilitator engines
// into a single embeddable unit, the way CedrosPay's original pkg/cedros
// package assembled its paywall/stripe/coupons stack for library-style
// embedding instead of a cmd/server/main.go entrypoint.
package cedros

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/x402-protocol/core/internal/circuitbreaker"
	"github.com/x402-protocol/core/internal/config"
	"github.com/x402-protocol/core/internal/dbpool"
	"github.com/x402-protocol/core/internal/facilitator"
	"github.com/x402-protocol/core/internal/idempotency"
	"github.com/x402-protocol/core/internal/lifecycle"
	"github.com/x402-protocol/core/internal/logger"
	"github.com/x402-protocol/core/internal/metrics"
	"github.com/x402-protocol/core/internal/monitoring"
	"github.com/x402-protocol/core/internal/noncestore"
	"github.com/x402-protocol/core/internal/observability"
	"github.com/x402-protocol/core/internal/ratelimit"
	"github.com/x402-protocol/core/internal/receiptstore"
	"github.com/x402-protocol/core/internal/registrywiring"
	"github.com/x402-protocol/core/internal/resourceserver"
	solanakeys "github.com/x402-protocol/core/internal/solana"
	"github.com/x402-protocol/core/internal/versioning"
	"github.com/x402-protocol/core/pkg/x402"
	"github.com/x402-protocol/core/pkg/x402/extensions"
	"github.com/x402-protocol/core/pkg/x402/route"
	"github.com/x402-protocol/core/pkg/x402/schemes/negotiated"
)

// App wires the resource-server engine, the facilitator engine, and their
// shared scheme registry for reuse or standalone serving.
type App struct {
	Config         *config.Config
	Registry       *x402.Registry
	Nonces         noncestore.Store
	Breaker        *circuitbreaker.Manager
	Metrics        *metrics.Metrics
	Observability  *observability.Registry
	Extensions     *extensions.Registry
	Facilitator    *facilitator.Engine
	ResourceServer *resourceserver.Engine
	Idempotency    *idempotency.MemoryStore
	Receipts       receiptstore.Store

	router    chi.Router
	lifecycle *lifecycle.Manager
	logger    zerolog.Logger
}

// Option configures App construction.
type Option func(*options)

type options struct {
	registry   *x402.Registry
	nonces     noncestore.Store
	extensions *extensions.Registry
	router     chi.Router
}

// WithRegistry injects a pre-built scheme registry instead of deriving one
// from cfg.Chains via internal/registrywiring.
func WithRegistry(reg *x402.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithNonceStore injects a custom replay-protection backend instead of the
// one internal/noncestore.New would build from cfg.NonceStore.
func WithNonceStore(store noncestore.Store) Option {
	return func(o *options) { o.nonces = store }
}

// WithExtensions registers pipeline-altering hooks (§4.8) on the
// resource-server engine.
func WithExtensions(reg *extensions.Registry) Option {
	return func(o *options) { o.extensions = reg }
}

// WithRouter allows callers to provide an existing chi.Router to register
// routes onto, e.g. to embed x402 endpoints alongside an unrelated API.
func WithRouter(router chi.Router) Option {
	return func(o *options) { o.router = router }
}

// NewApp assembles an x402 resource server plus in-process facilitator from
// cfg. The facilitator is mounted under /facilitator regardless of
// cfg.Facilitator.Enabled; callers who want verify/settle delegated to a
// remote facilitator instead should build their own resourceserver.Engine
// with a resourceserver.RemoteFacilitator and skip NewApp.
func NewApp(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("cedros: config required")
	}

	optState := options{}
	for _, opt := range opts {
		opt(&optState)
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "x402",
		Environment: cfg.Logging.Environment,
	})

	app := &App{
		Config:    cfg,
		lifecycle: lifecycle.NewManager(),
		logger:    appLogger,
	}

	app.Metrics = metrics.New(prometheus.DefaultRegisterer)
	app.Observability = observability.NewRegistry(appLogger)

	if optState.extensions != nil {
		app.Extensions = optState.extensions
	} else {
		app.Extensions = extensions.NewRegistry(appLogger)
	}

	if optState.registry != nil {
		app.Registry = optState.registry
	} else {
		reg, err := registrywiring.Build(context.Background(), cfg.Chains, cfg.Signing, app.Metrics)
		if err != nil {
			return nil, fmt.Errorf("cedros: build scheme registry: %w", err)
		}
		app.Registry = reg
	}

	if optState.nonces != nil {
		app.Nonces = optState.nonces
	} else {
		var sharedDB *sql.DB
		if cfg.NonceStore.Backend == "postgres" {
			// One connection pool per deployment backs every Postgres-backed
			// component; noncestore.New reuses it instead of opening its own
			// when a sharedDB is supplied.
			pool, err := dbpool.NewSharedPool(cfg.NonceStore.PostgresURL, cfg.NonceStore.PostgresPool)
			if err != nil {
				return nil, fmt.Errorf("cedros: open shared postgres pool: %w", err)
			}
			app.lifecycle.Register("postgres-pool", pool)
			sharedDB = pool.DB()
		}
		nonces, err := noncestore.New(cfg.NonceStore, sharedDB, app.Metrics)
		if err != nil {
			return nil, fmt.Errorf("cedros: build nonce store: %w", err)
		}
		app.Nonces = nonces
		app.lifecycle.Register("nonce-store", nonces)
	}

	if cfg.CircuitBreaker.Enabled {
		app.Breaker = circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker)
	}

	app.Idempotency = idempotency.NewMemoryStore()
	app.lifecycle.RegisterFunc("idempotency-store", func() error {
		app.Idempotency.Stop()
		return nil
	})

	{
		var sharedDB *sql.DB
		if cfg.Storage.Backend == "postgres" {
			pool, err := dbpool.NewSharedPool(cfg.Storage.PostgresURL, cfg.Storage.PostgresPool)
			if err != nil {
				return nil, fmt.Errorf("cedros: open shared postgres pool for receipts: %w", err)
			}
			app.lifecycle.Register("receipt-postgres-pool", pool)
			sharedDB = pool.DB()
		}
		receipts, err := receiptstore.New(cfg.Storage, sharedDB, app.Metrics)
		if err != nil {
			return nil, fmt.Errorf("cedros: build receipt store: %w", err)
		}
		app.Receipts = receipts
		app.lifecycle.Register("receipt-store", receipts)
	}

	app.Facilitator = facilitator.NewEngine(app.Registry, app.Breaker, app.Nonces, app.Metrics, app.Observability, appLogger, cfg.Facilitator)
	app.Facilitator.Negotiator = &negotiated.Engine{}
	app.Facilitator.Receipts = app.Receipts

	routeConfigs := make(map[string]x402.RouteConfig, len(cfg.ResourceServer.Routes))
	for pattern, spec := range cfg.ResourceServer.Routes {
		routeConfigs[pattern] = spec.ToRouteConfig()
	}
	table, err := route.NewTable(routeConfigs)
	if err != nil {
		return nil, fmt.Errorf("cedros: compile resource-server routes: %w", err)
	}

	// internal/facilitator.Engine already satisfies resourceserver.FacilitatorClient
	// (same Verify/Settle method set), so an App running its own facilitator
	// dispatches in-process rather than over HTTP.
	app.ResourceServer = resourceserver.NewEngine(table, app.Facilitator, appLogger)
	app.ResourceServer.Extensions = app.Extensions
	app.ResourceServer.Observability = app.Observability
	app.ResourceServer.Metrics = app.Metrics
	app.ResourceServer.PaywallHTML = cfg.ResourceServer.PaywallHTMLEnabled

	if balanceMonitor, err := newRelayBalanceMonitor(cfg); err != nil {
		appLogger.Warn().Err(err).Msg("cedros.balance_monitor_disabled")
	} else if balanceMonitor != nil {
		monitorCtx, cancel := context.WithCancel(context.Background())
		balanceMonitor.Start(monitorCtx)
		app.lifecycle.RegisterFunc("balance-monitor", func() error {
			cancel()
			balanceMonitor.Stop()
			return nil
		})
	}

	if optState.router != nil {
		app.router = optState.router
	} else {
		app.router = chi.NewRouter()
	}

	configureRouter(app.router, cfg, app)

	return app, nil
}

// configureRouter mounts the facilitator HTTP surface and wraps every
// subsequently registered route with the resource-server payment middleware,
// mirroring CedrosPay's httpserver.ConfigureRouter wiring of CORS, rate
// limiting, and version negotiation ahead of the business handlers.
func configureRouter(r chi.Router, cfg *config.Config, app *App) {
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins(cfg.Server.CORSAllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", x402.HeaderPayment, x402.HeaderPaymentSignature},
		ExposedHeaders:   []string{x402.HeaderPaymentResponse, x402.HeaderPaymentRequired, "PAYMENT-RESPONSE", "PAYMENT-REQUIRED"},
		AllowCredentials: false,
	}))
	r.Use(versioning.Negotiation)

	rlCfg := ratelimit.Config{
		GlobalEnabled:    cfg.RateLimit.GlobalEnabled,
		GlobalLimit:      cfg.RateLimit.GlobalLimit,
		GlobalWindow:     cfg.RateLimit.GlobalWindow.Duration,
		PerWalletEnabled: cfg.RateLimit.PerWalletEnabled,
		PerWalletLimit:   cfg.RateLimit.PerWalletLimit,
		PerWalletWindow:  cfg.RateLimit.PerWalletWindow.Duration,
		PerIPEnabled:     cfg.RateLimit.PerIPEnabled,
		PerIPLimit:       cfg.RateLimit.PerIPLimit,
		PerIPWindow:      cfg.RateLimit.PerIPWindow.Duration,
		Metrics:          app.Metrics,
	}
	r.Use(ratelimit.GlobalLimiter(rlCfg))
	r.Use(ratelimit.IPLimiter(rlCfg))

	// The payment middleware is applied to the whole router, not scoped to a
	// sub-group: its route table only matches cfg.ResourceServer.Routes
	// entries, so /facilitator and any other caller-registered route that
	// isn't declared payable passes through untouched (§4.6 step 1). chi
	// requires every Use() to precede route registration on a given mux, so
	// this must run before facilitator.Routes below.
	r.Use(app.ResourceServer.Middleware())

	r.Route("/facilitator", func(fr chi.Router) {
		fr.Use(ratelimit.WalletLimiter(rlCfg))
		// A caller that retries a /settle call after a dropped connection must
		// not relay the same authorization twice; an Idempotency-Key header
		// lets it replay the cached result instead. Requests without the
		// header pass straight through.
		fr.Use(idempotency.Middleware(app.Idempotency, idempotency.DefaultTTL))
		facilitator.Routes(fr, app.Facilitator)
	})
}

func corsOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// Router returns the chi router with x402 routes registered. Callers mount
// their own protected handlers directly on it (or on a router passed via
// WithRouter); the resource-server middleware installed by configureRouter
// gates every request against cfg.ResourceServer.Routes regardless of which
// handler ultimately serves it.
func (a *App) Router() chi.Router {
	return a.router
}

// Handler exposes the router as an http.Handler.
func (a *App) Handler() http.Handler {
	return a.router
}

// Close releases resources registered with the app's lifecycle (database
// pools, nonce, idempotency and receipt stores, balance monitor).
func (a *App) Close() error {
	return a.lifecycle.Close()
}

// RegisterRoutes attaches x402 endpoints to an externally-owned router using
// an already-constructed App, for callers who built their router before
// calling NewApp (e.g. via WithRouter) but want the mounting step kept
// separate from construction.
func RegisterRoutes(router chi.Router, app *App) {
	if router == nil || app == nil {
		return
	}
	configureRouter(router, app.Config, app)
}

// NewHandler is a convenience that constructs an App and returns its handler
// plus a context-aware shutdown function.
func NewHandler(cfg *config.Config, opts ...Option) (http.Handler, func(context.Context) error, error) {
	app, err := NewApp(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	shutdown := func(context.Context) error {
		return app.Close()
	}
	return app.Handler(), shutdown, nil
}

// Config is an exported alias of the internal configuration struct for
// embedding use.
type Config = config.Config

// LoadConfig wraps the internal loader for consumers embedding the x402
// module without importing internal/config directly.
func LoadConfig(path string) (*config.Config, error) {
	return config.Load(path)
}

// newRelayBalanceMonitor builds a BalanceMonitor for the configured Solana
// relay wallets (the accounts that fund gasless settlement on Solana), or
// nil if monitoring isn't configured. EVM relay wallets pay gas through the
// chain's own RPC node rather than a second Solana-style balance poll, so
// this only covers the Solana side of the multi-chain relay fleet; a
// low-balance alert for an EVM relay account would need a parallel
// ethclient.BalanceAt-based checker this module doesn't build.
func newRelayBalanceMonitor(cfg *config.Config) (*monitoring.BalanceMonitor, error) {
	if cfg.Monitoring.LowBalanceAlertURL == "" || len(cfg.Chains.Solana.RelayPrivateKeys) == 0 {
		return nil, nil
	}

	wallets := make([]solanago.PrivateKey, 0, len(cfg.Chains.Solana.RelayPrivateKeys))
	for _, keyStr := range cfg.Chains.Solana.RelayPrivateKeys {
		key, err := solanakeys.ParsePrivateKey(keyStr)
		if err != nil {
			return nil, fmt.Errorf("cedros: parse solana relay key: %w", err)
		}
		wallets = append(wallets, key)
	}

	rpcClient := rpc.New(cfg.Chains.Solana.RPCURL)
	return monitoring.NewBalanceMonitor(cfg, rpcClient, wallets), nil
}
