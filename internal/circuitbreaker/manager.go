package circuitbreaker

import (
	"fmt"
	"time"

	"github.com/x402-protocol/core/internal/config"
	"github.com/sony/gobreaker"
)

// ServiceType identifies different external services for circuit breaker isolation.
type ServiceType string

const (
	ServiceEVMRPC      ServiceType = "evm_rpc"
	ServiceSolanaRPC   ServiceType = "solana_rpc"
	ServiceAptosRPC    ServiceType = "aptos_rpc"
	ServiceNEARRPC     ServiceType = "near_rpc"
	ServiceHederaRPC   ServiceType = "hedera_rpc"
	ServiceHyperliquid ServiceType = "hyperliquid_api"
	ServiceLightning   ServiceType = "lightning_lnd"
	ServiceCashuMint   ServiceType = "cashu_mint"
	ServiceWebhook     ServiceType = "webhook"
)

// Manager manages circuit breakers for different external services.
// Provides bulkhead isolation - each service has its own circuit breaker
// to prevent cascading failures across service boundaries.
type Manager struct {
	breakers map[ServiceType]*gobreaker.CircuitBreaker
	config   Config
}

// Config holds circuit breaker configuration for all services.
type Config struct {
	Enabled bool

	EVMRPC      BreakerConfig
	SolanaRPC   BreakerConfig
	AptosRPC    BreakerConfig
	NEARRPC     BreakerConfig
	HederaRPC   BreakerConfig
	Hyperliquid BreakerConfig
	Lightning   BreakerConfig
	CashuMint   BreakerConfig
	Webhook     BreakerConfig
}

// BreakerConfig configures a single circuit breaker.
type BreakerConfig struct {
	// MaxRequests is the maximum number of requests allowed to pass through
	// when the circuit breaker is half-open. Default: 3
	MaxRequests uint32

	// Interval is the cyclic period in closed state to clear the internal counts.
	// If 0, never clears. Default: 60s
	Interval time.Duration

	// Timeout is the period of the open state after which the state becomes half-open.
	// Default: 30s
	Timeout time.Duration

	// ReadyToTrip is called whenever a request fails in the closed state.
	// If it returns true, the circuit breaker trips to open state.
	// Default: 5 consecutive failures or 50% failure rate over 10 requests
	ConsecutiveFailures uint32
	FailureRatio        float64
	MinRequests         uint32
}

// NewManagerFromConfig creates a circuit breaker manager from application config.
func NewManagerFromConfig(cfg config.CircuitBreakerConfig) *Manager {
	toBreaker := func(b config.BreakerServiceConfig) BreakerConfig {
		return BreakerConfig{
			MaxRequests:         b.MaxRequests,
			Interval:            b.Interval.Duration,
			Timeout:             b.Timeout.Duration,
			ConsecutiveFailures: b.ConsecutiveFailures,
			FailureRatio:        b.FailureRatio,
			MinRequests:         b.MinRequests,
		}
	}
	return NewManager(Config{
		Enabled:     cfg.Enabled,
		EVMRPC:      toBreaker(cfg.EVMRPC),
		SolanaRPC:   toBreaker(cfg.SolanaRPC),
		AptosRPC:    toBreaker(cfg.AptosRPC),
		NEARRPC:     toBreaker(cfg.NEARRPC),
		HederaRPC:   toBreaker(cfg.HederaRPC),
		Hyperliquid: toBreaker(cfg.Hyperliquid),
		Lightning:   toBreaker(cfg.Lightning),
		CashuMint:   toBreaker(cfg.CashuMint),
		Webhook:     toBreaker(cfg.Webhook),
	})
}

// NewManager creates a circuit breaker manager with the given configuration.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		breakers: make(map[ServiceType]*gobreaker.CircuitBreaker),
		config:   cfg,
	}

	if !cfg.Enabled {
		// Return manager with no breakers (pass-through)
		return m
	}

	m.breakers[ServiceEVMRPC] = gobreaker.NewCircuitBreaker(toGobreakerSettings(string(ServiceEVMRPC), cfg.EVMRPC))
	m.breakers[ServiceSolanaRPC] = gobreaker.NewCircuitBreaker(toGobreakerSettings(string(ServiceSolanaRPC), cfg.SolanaRPC))
	m.breakers[ServiceAptosRPC] = gobreaker.NewCircuitBreaker(toGobreakerSettings(string(ServiceAptosRPC), cfg.AptosRPC))
	m.breakers[ServiceNEARRPC] = gobreaker.NewCircuitBreaker(toGobreakerSettings(string(ServiceNEARRPC), cfg.NEARRPC))
	m.breakers[ServiceHederaRPC] = gobreaker.NewCircuitBreaker(toGobreakerSettings(string(ServiceHederaRPC), cfg.HederaRPC))
	m.breakers[ServiceHyperliquid] = gobreaker.NewCircuitBreaker(toGobreakerSettings(string(ServiceHyperliquid), cfg.Hyperliquid))
	m.breakers[ServiceLightning] = gobreaker.NewCircuitBreaker(toGobreakerSettings(string(ServiceLightning), cfg.Lightning))
	m.breakers[ServiceCashuMint] = gobreaker.NewCircuitBreaker(toGobreakerSettings(string(ServiceCashuMint), cfg.CashuMint))
	m.breakers[ServiceWebhook] = gobreaker.NewCircuitBreaker(toGobreakerSettings(string(ServiceWebhook), cfg.Webhook))

	return m
}

// Execute wraps a function call with circuit breaker protection.
// If circuit breaker is disabled or not configured for the service, executes directly.
func (m *Manager) Execute(service ServiceType, fn func() (interface{}, error)) (interface{}, error) {
	if !m.config.Enabled {
		// Circuit breaker disabled - pass through
		return fn()
	}

	breaker, ok := m.breakers[service]
	if !ok {
		// No circuit breaker configured for this service - pass through
		return fn()
	}

	return breaker.Execute(fn)
}

// State returns the current state of a circuit breaker.
// Returns "disabled" if circuit breakers are not enabled or service not found.
func (m *Manager) State(service ServiceType) string {
	if !m.config.Enabled {
		return "disabled"
	}

	breaker, ok := m.breakers[service]
	if !ok {
		return "not_configured"
	}

	return breaker.State().String()
}

// Counts returns the current counts for a circuit breaker.
func (m *Manager) Counts(service ServiceType) Counts {
	if !m.config.Enabled {
		return Counts{}
	}

	breaker, ok := m.breakers[service]
	if !ok {
		return Counts{}
	}

	c := breaker.Counts()
	return Counts{
		Requests:             c.Requests,
		TotalSuccesses:       c.TotalSuccesses,
		TotalFailures:        c.TotalFailures,
		ConsecutiveSuccesses: c.ConsecutiveSuccesses,
		ConsecutiveFailures:  c.ConsecutiveFailures,
	}
}

// Counts represents circuit breaker statistics.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// toGobreakerSettings converts our config to gobreaker.Settings.
func toGobreakerSettings(name string, cfg BreakerConfig) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Trip if we've hit consecutive failures threshold
			if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}

			// Trip if we've hit failure ratio threshold (and have minimum requests)
			if cfg.FailureRatio > 0 && cfg.MinRequests > 0 {
				if counts.Requests >= cfg.MinRequests {
					failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
					if failureRate >= cfg.FailureRatio {
						return true
					}
				}
			}

			return false
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			fmt.Printf("Circuit breaker %s: %s -> %s\n", name, from.String(), to.String())
		},
	}
}

// DefaultConfig returns sensible defaults for circuit breaker configuration.
func DefaultConfig() Config {
	breaker := func() BreakerConfig {
		return BreakerConfig{
			MaxRequests:         3,
			Interval:            60 * time.Second,
			Timeout:             30 * time.Second,
			ConsecutiveFailures: 5,
			FailureRatio:        0.5,
			MinRequests:         10,
		}
	}
	return Config{
		Enabled:     true,
		EVMRPC:      breaker(),
		SolanaRPC:   breaker(),
		AptosRPC:    breaker(),
		NEARRPC:     breaker(),
		HederaRPC:   breaker(),
		Hyperliquid: breaker(),
		Lightning:   breaker(),
		CashuMint:   breaker(),
		Webhook: BreakerConfig{
			MaxRequests:         5,
			Interval:            60 * time.Second,
			Timeout:             60 * time.Second, // Longer timeout for webhooks
			ConsecutiveFailures: 10,                // More tolerant for webhooks
			FailureRatio:        0.7,
			MinRequests:         20,
		},
	}
}
