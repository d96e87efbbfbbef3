package config

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// finalize applies defaults and validates the configuration.
func (c *Config) finalize() error {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.ResourceServer.DefaultMaxTimeoutSeconds <= 0 {
		c.ResourceServer.DefaultMaxTimeoutSeconds = 60
	}
	if c.ResourceServer.Routes == nil {
		c.ResourceServer.Routes = map[string]RouteSpec{}
	}

	if c.Facilitator.SettleTimeout.Duration == 0 {
		c.Facilitator.SettleTimeout = Duration{Duration: 30 * time.Second}
	}
	if c.Facilitator.VerifyTimeout.Duration == 0 {
		c.Facilitator.VerifyTimeout = Duration{Duration: 10 * time.Second}
	}
	if c.Facilitator.SupportedCacheTTL.Duration == 0 {
		c.Facilitator.SupportedCacheTTL = Duration{Duration: 30 * time.Second}
	}

	if c.Chains.Solana.Commitment == "" {
		c.Chains.Solana.Commitment = "confirmed"
	}
	switch strings.ToLower(c.Chains.Solana.Commitment) {
	case "processed", "confirmed", "finalized", "finalised":
	default:
		c.Chains.Solana.Commitment = "confirmed"
	}
	if c.Chains.Solana.WSURL == "" && c.Chains.Solana.RPCURL != "" {
		if wsURL, err := deriveWebsocketURL(c.Chains.Solana.RPCURL); err == nil {
			c.Chains.Solana.WSURL = wsURL
		}
	}
	if c.Chains.Hyperliquid.Poll.Retries <= 0 {
		c.Chains.Hyperliquid.Poll.Retries = 10
	}
	if c.Chains.Hyperliquid.Poll.Delay.Duration == 0 {
		c.Chains.Hyperliquid.Poll.Delay = Duration{Duration: 2 * time.Second}
	}
	if c.Chains.Hyperliquid.Poll.Lookback.Duration == 0 {
		c.Chains.Hyperliquid.Poll.Lookback = Duration{Duration: 5 * time.Minute}
	}

	if c.NonceStore.Backend == "" {
		c.NonceStore.Backend = "memory"
	}
	if c.NonceStore.ShardCount <= 0 {
		c.NonceStore.ShardCount = 64
	}
	if c.NonceStore.TTL.Duration == 0 {
		c.NonceStore.TTL = Duration{Duration: 24 * time.Hour}
	}

	if c.Signing.QueueDepth <= 0 {
		c.Signing.QueueDepth = 16
	}
	if c.Signing.SignTimeout.Duration == 0 {
		c.Signing.SignTimeout = Duration{Duration: 5 * time.Second}
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	if c.Storage.CleanupInterval.Duration == 0 {
		c.Storage.CleanupInterval = Duration{Duration: 5 * time.Minute}
	}

	if c.Callbacks.Timeout.Duration == 0 {
		c.Callbacks.Timeout = Duration{Duration: 3 * time.Second}
	}
	if c.Callbacks.Headers == nil {
		c.Callbacks.Headers = make(map[string]string)
	}

	if c.Monitoring.LowBalanceThreshold <= 0 {
		c.Monitoring.LowBalanceThreshold = 0.01
	}
	if c.Monitoring.CheckInterval.Duration <= 0 {
		c.Monitoring.CheckInterval = Duration{Duration: 15 * time.Minute}
	}
	if c.Monitoring.Timeout.Duration <= 0 {
		c.Monitoring.Timeout = Duration{Duration: 5 * time.Second}
	}
	if c.Monitoring.Headers == nil {
		c.Monitoring.Headers = make(map[string]string)
	}

	return c.validate()
}

// validate checks that required configuration fields are set correctly.
func (c *Config) validate() error {
	var errs []string

	for key, route := range c.ResourceServer.Routes {
		if route.Price == "" && len(route.Accepts) == 0 {
			errs = append(errs, fmt.Sprintf("resource_server.routes[%q] must define either price or accepts", key))
		}
		for i, accept := range route.Accepts {
			if accept.Amount == "" && route.Price == "" {
				errs = append(errs, fmt.Sprintf("resource_server.routes[%q].accepts[%d] must define amount when route has no price", key, i))
			}
		}
	}

	for i, evm := range c.Chains.EVM {
		if evm.Network == "" {
			errs = append(errs, fmt.Sprintf("chains.evm[%d].network is required", i))
		}
		if evm.RPCURL == "" {
			errs = append(errs, fmt.Sprintf("chains.evm[%d].rpc_url is required", i))
		}
		if evm.ChainID == 0 {
			errs = append(errs, fmt.Sprintf("chains.evm[%d].chain_id is required", i))
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// deriveWebsocketURL converts an HTTP(S) RPC URL to WS(S) format.
func deriveWebsocketURL(raw string) (string, error) {
	if raw == "" {
		return "", errors.New("rpc url empty")
	}
	idx := strings.Index(raw, "://")
	if idx < 0 {
		return "", fmt.Errorf("rpc url %q missing scheme", raw)
	}
	scheme, rest := raw[:idx], raw[idx+3:]
	switch scheme {
	case "https":
		scheme = "wss"
	case "http":
		scheme = "ws"
	case "ws", "wss":
		return raw, nil
	default:
		return "", fmt.Errorf("unsupported rpc url scheme %q", scheme)
	}
	return scheme + "://" + rest, nil
}

// ApplyPostgresPoolSettings applies connection pool settings to a database connection.
// If pool config is not specified, applies sensible defaults.
func ApplyPostgresPoolSettings(db *sql.DB, pool PostgresPoolConfig) {
	maxOpen := pool.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}

	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	if maxIdle > maxOpen {
		maxIdle = maxOpen
	}

	maxLifetime := pool.ConnMaxLifetime.Duration
	if maxLifetime <= 0 {
		maxLifetime = 5 * time.Minute
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
}
