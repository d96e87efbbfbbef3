package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/x402-protocol/core/pkg/x402"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	ResourceServer ResourceServerConfig `yaml:"resource_server"`
	Facilitator    FacilitatorConfig    `yaml:"facilitator"`
	Chains         ChainsConfig         `yaml:"chains"`
	NonceStore     NonceStoreConfig     `yaml:"nonce_store"`
	Signing        SigningConfig        `yaml:"signing"`
	Storage        StorageConfig        `yaml:"storage"`
	Callbacks      CallbacksConfig      `yaml:"callbacks"`
	Monitoring     MonitoringConfig     `yaml:"monitoring"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	RoutePrefix        string   `yaml:"route_prefix"`          // Optional prefix for all routes (e.g., "/api", "/x402")
	AdminMetricsAPIKey string   `yaml:"admin_metrics_api_key"` // Optional API key to protect /metrics endpoint (leave empty to disable protection)
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error (default: info)
	Format      string `yaml:"format"`      // json, console (default: json)
	Environment string `yaml:"environment"` // production, staging, development
}

// ResourceServerConfig declares the payable routes a resource server exposes
// plus the resource-server engine's behavioral defaults. Routes are the
// multi-chain generalization of CedrosPay's Solana-only PaywallResource
// catalog: each entry expands into one or more pkg/x402.PaymentRequirements
// via pkg/x402.BuildRequirements.
type ResourceServerConfig struct {
	DefaultMaxTimeoutSeconds int                  `yaml:"default_max_timeout_seconds"`
	PaywallHTMLEnabled       bool                 `yaml:"paywall_html_enabled"` // Serve an HTML paywall page to browser clients instead of a bare 402 JSON body
	Routes                   map[string]RouteSpec `yaml:"routes"`
}

// RouteSpec is the YAML-friendly declaration of a single payable route,
// converted into x402.RouteConfig by ToRouteConfig.
type RouteSpec struct {
	Price                string            `yaml:"price"` // e.g. "$0.01"
	Network              string            `yaml:"network"`
	PayTo                string            `yaml:"pay_to"`
	MaxTimeoutSeconds    int               `yaml:"max_timeout_seconds"`
	Description          string            `yaml:"description"`
	MimeType             string            `yaml:"mime_type"`
	Resource             string            `yaml:"resource"`
	Accepts              []AcceptSpec      `yaml:"accepts"`
	StreamingSettleFirst bool              `yaml:"streaming_settle_first"`
	Extensions           map[string]string `yaml:"extensions"` // extension name -> discovery/schema URL
}

// AcceptSpec is the YAML-friendly declaration of one x402.AcceptOption.
type AcceptSpec struct {
	Scheme            string         `yaml:"scheme"`
	Network           string         `yaml:"network"`
	PayTo             string         `yaml:"pay_to"`
	MaxTimeoutSeconds int            `yaml:"max_timeout_seconds"`
	Asset             string         `yaml:"asset"`
	Amount            string         `yaml:"amount"`
	Decimals          int            `yaml:"decimals"`
	Extra             map[string]any `yaml:"extra"`
}

// ToRouteConfig converts a RouteSpec into the x402.RouteConfig the
// resource-server engine and pkg/x402.BuildRequirements consume.
func (s RouteSpec) ToRouteConfig() x402.RouteConfig {
	accepts := make([]x402.AcceptOption, 0, len(s.Accepts))
	for _, a := range s.Accepts {
		accepts = append(accepts, x402.AcceptOption{
			Scheme:            a.Scheme,
			Network:           a.Network,
			PayTo:             a.PayTo,
			MaxTimeoutSeconds: a.MaxTimeoutSeconds,
			Asset:             a.Asset,
			Amount:            a.Amount,
			Decimals:          a.Decimals,
			Extra:             a.Extra,
		})
	}
	exts := make(map[string]x402.Extension, len(s.Extensions))
	for name, schema := range s.Extensions {
		exts[name] = x402.Extension{Schema: schema}
	}
	return x402.RouteConfig{
		Price:                s.Price,
		Network:              s.Network,
		PayTo:                s.PayTo,
		MaxTimeoutSeconds:    s.MaxTimeoutSeconds,
		Description:          s.Description,
		MimeType:             s.MimeType,
		Resource:             s.Resource,
		Accepts:              accepts,
		Extensions:           exts,
		StreamingSettleFirst: s.StreamingSettleFirst,
	}
}

// FacilitatorConfig holds the settlement-side facilitator's behavioral
// defaults. Per-chain relay credentials live in ChainsConfig since they are
// scheme-specific, not facilitator-generic.
type FacilitatorConfig struct {
	Enabled           bool     `yaml:"enabled"`
	SettleTimeout     Duration `yaml:"settle_timeout"`
	VerifyTimeout     Duration `yaml:"verify_timeout"`
	SupportedCacheTTL Duration `yaml:"supported_cache_ttl"` // singleflight/cache window for GET /supported
}

// ChainsConfig groups the per-network-family connection and relay-credential
// settings every registered pkg/x402/schemes/* facilitator needs.
type ChainsConfig struct {
	EVM         []EVMChainConfig       `yaml:"evm"`
	Solana      SolanaChainConfig      `yaml:"solana"`
	Aptos       AptosChainConfig       `yaml:"aptos"`
	NEAR        NEARChainConfig        `yaml:"near"`
	Hedera      HederaChainConfig      `yaml:"hedera"`
	Hyperliquid HyperliquidChainConfig `yaml:"hyperliquid"`
	Lightning   LightningConfig        `yaml:"lightning"`
	Cashu       CashuConfig            `yaml:"cashu"`
}

// EVMChainConfig configures one EIP-155 network's exact-EVM facilitator.
type EVMChainConfig struct {
	Network         string `yaml:"network"` // CAIP-2, e.g. "eip155:8453"
	RPCURL          string `yaml:"rpc_url"`
	ChainID         int64  `yaml:"chain_id"`
	AssetName       string `yaml:"asset_name"`               // EIP-712 domain name of the settled asset (e.g. "USD Coin")
	AssetVersion    string `yaml:"asset_version"`             // EIP-712 domain version (e.g. "2")
	ScrollLegacySig bool   `yaml:"scroll_legacy_signature"`   // Accept (v,r,s) triples instead of a packed 65-byte signature
	RelayPrivateKey string `yaml:"-"`                         // hex-encoded secp256k1 key, loaded from FACILITATOR_EVM_RELAY_KEY_<n>
}

// SolanaChainConfig configures the exact-SVM facilitator.
type SolanaChainConfig struct {
	Network          string   `yaml:"network"` // CAIP-2, e.g. "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"
	RPCURL           string   `yaml:"rpc_url"`
	WSURL            string   `yaml:"ws_url"`
	Commitment       string   `yaml:"commitment"`
	RelayPrivateKeys []string `yaml:"-"` // base58 keys, loaded from FACILITATOR_SOLANA_RELAY_KEY_<n>
}

// AptosChainConfig configures the exact-Aptos facilitator.
type AptosChainConfig struct {
	Network         string `yaml:"network"` // CAIP-2, e.g. "aptos:1"
	RPCURL          string `yaml:"rpc_url"`
	RelayPrivateKey string `yaml:"-"` // hex ed25519 key, loaded from FACILITATOR_APTOS_RELAY_KEY
}

// NEARChainConfig configures the exact-NEAR facilitator.
type NEARChainConfig struct {
	Network         string `yaml:"network"` // e.g. "near-mainnet"
	RPCURL          string `yaml:"rpc_url"`
	RelayAccountID  string `yaml:"relay_account_id"`
	RelayPrivateKey string `yaml:"-"` // ed25519 key, loaded from FACILITATOR_NEAR_RELAY_PRIVATE_KEY
}

// HederaChainConfig configures the exact-Hedera facilitator.
type HederaChainConfig struct {
	Network            string `yaml:"network"` // e.g. "hedera:mainnet"
	MirrorURL          string `yaml:"mirror_url"`
	OperatorAccountID  string `yaml:"operator_account_id"`
	OperatorPrivateKey string `yaml:"-"` // loaded from FACILITATOR_HEDERA_OPERATOR_PRIVATE_KEY
}

// HyperliquidChainConfig configures the exact-Hyperliquid facilitator's
// settlement confirmation polling, since Hyperliquid has no websocket
// subscription the facilitator can block on for ledger updates.
type HyperliquidChainConfig struct {
	Network          string     `yaml:"network"`
	APIURL           string     `yaml:"api_url"`
	Poll             PollConfig `yaml:"poll"`
	SignatureChainID string     `yaml:"signature_chain_id"` // EIP-712 domain chainId L1 actions are signed against, e.g. "0x66eee"
}

// PollConfig controls a retry-with-lookback polling loop.
type PollConfig struct {
	Retries  int      `yaml:"retries"`
	Delay    Duration `yaml:"delay"`
	Lookback Duration `yaml:"lookback"`
}

// LightningConfig configures the Lightning facilitator's LND node connection.
type LightningConfig struct {
	LNDHost     string `yaml:"lnd_host"`
	TLSCertPath string `yaml:"tls_cert_path"`
	MacaroonHex string `yaml:"-"` // loaded from FACILITATOR_LND_MACAROON_HEX
}

// CashuConfig configures the Cashu facilitator's mint endpoint.
type CashuConfig struct {
	MintURL string `yaml:"mint_url"`
}

// NonceStoreConfig configures the replay-nonce store the facilitator engine's
// Settle reserves a payment authorization's nonce in before submitting it.
type NonceStoreConfig struct {
	Backend         string             `yaml:"backend"` // "memory", "postgres", or "mongodb"
	PostgresURL     string             `yaml:"postgres_url"`
	MongoDBURL      string             `yaml:"mongodb_url"`
	MongoDBDatabase string             `yaml:"mongodb_database"`
	ShardCount      int                `yaml:"shard_count"` // number of lock-striped shards (default: 64)
	TTL             Duration           `yaml:"ttl"`          // loaded and defaulted (24h) but not applied: the facilitator engine reserves each nonce for a fixed 10 minutes
	PostgresPool    PostgresPoolConfig `yaml:"postgres_pool"`
}

// SigningConfig configures the per-account serialized signer queue that
// internal/registrywiring puts in front of exact-EVM relay transaction
// signing, so two concurrent settlements from the same relay account never
// race on a nonce.
type SigningConfig struct {
	QueueDepth  int      `yaml:"queue_depth"`  // callers per account admitted before the queue fails fast with ErrQueueFull (default: 16)
	SignTimeout Duration `yaml:"sign_timeout"` // max time to wait for a turn in the queue (default: 5s)
}

// StorageConfig holds settlement/receipt record storage backend configuration.
type StorageConfig struct {
	Backend         string              `yaml:"backend"` // "memory", "postgres", "mongodb", or "file"
	PostgresURL     string              `yaml:"postgres_url"`
	MongoDBURL      string              `yaml:"mongodb_url"`
	MongoDBDatabase string              `yaml:"mongodb_database"`
	FilePath        string              `yaml:"file_path"`
	PostgresPool    PostgresPoolConfig  `yaml:"postgres_pool"`
	CleanupInterval Duration            `yaml:"cleanup_interval"`
	SchemaMapping   SchemaMappingConfig `yaml:"schema_mapping"`
}

// SchemaMappingConfig holds table/collection name overrides for custom schemas.
type SchemaMappingConfig struct {
	Settlements TableMappingConfig `yaml:"settlements"` // Settlement receipts table/collection
	Nonces      TableMappingConfig `yaml:"nonces"`      // Replay-nonce records table/collection
}

// TableMappingConfig defines a single table/collection mapping.
type TableMappingConfig struct {
	TableName string `yaml:"table_name"`
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
}

// CallbacksConfig holds the resource server's post-settlement webhook
// notification configuration.
type CallbacksConfig struct {
	SettlementWebhookURL string            `yaml:"settlement_webhook_url"`
	Headers              map[string]string `yaml:"headers"`
	Timeout              Duration          `yaml:"timeout"`
	Retry                RetryConfig       `yaml:"retry"`
	DLQEnabled           bool              `yaml:"dlq_enabled"`
	DLQPath              string            `yaml:"dlq_path"`
}

// RetryConfig holds webhook retry configuration.
type RetryConfig struct {
	Enabled         bool     `yaml:"enabled"`
	MaxAttempts     int      `yaml:"max_attempts"`
	InitialInterval Duration `yaml:"initial_interval"`
	MaxInterval     Duration `yaml:"max_interval"`
	Multiplier      float64  `yaml:"multiplier"`
}

// MonitoringConfig holds relay-account balance monitoring configuration.
// Every chain's relay account funds settlement gas/fees, so low-balance
// alerting is chain-agnostic even though the balances themselves aren't.
type MonitoringConfig struct {
	LowBalanceAlertURL  string            `yaml:"low_balance_alert_url"`
	LowBalanceThreshold float64           `yaml:"low_balance_threshold"` // native-unit threshold to trigger alert
	CheckInterval       Duration          `yaml:"check_interval"`
	Headers             map[string]string `yaml:"headers"`
	BodyTemplate        string            `yaml:"body_template"`
	Timeout             Duration          `yaml:"timeout"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	GlobalEnabled bool     `yaml:"global_enabled"`
	GlobalLimit   int      `yaml:"global_limit"`
	GlobalWindow  Duration `yaml:"global_window"`

	PerWalletEnabled bool     `yaml:"per_wallet_enabled"`
	PerWalletLimit   int      `yaml:"per_wallet_limit"`
	PerWalletWindow  Duration `yaml:"per_wallet_window"`

	PerIPEnabled bool     `yaml:"per_ip_enabled"`
	PerIPLimit   int      `yaml:"per_ip_limit"`
	PerIPWindow  Duration `yaml:"per_ip_window"`
}

// CircuitBreakerConfig holds circuit breaker configuration for every
// external service a facilitator or resource server depends on.
type CircuitBreakerConfig struct {
	Enabled     bool                 `yaml:"enabled"`
	EVMRPC      BreakerServiceConfig `yaml:"evm_rpc"`
	SolanaRPC   BreakerServiceConfig `yaml:"solana_rpc"`
	AptosRPC    BreakerServiceConfig `yaml:"aptos_rpc"`
	NEARRPC     BreakerServiceConfig `yaml:"near_rpc"`
	HederaRPC   BreakerServiceConfig `yaml:"hedera_rpc"`
	Hyperliquid BreakerServiceConfig `yaml:"hyperliquid"`
	Lightning   BreakerServiceConfig `yaml:"lightning"`
	CashuMint   BreakerServiceConfig `yaml:"cashu_mint"`
	Webhook     BreakerServiceConfig `yaml:"webhook"`
}

// BreakerServiceConfig configures a circuit breaker for a specific external service.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`
	Interval            Duration `yaml:"interval"`
	Timeout             Duration `yaml:"timeout"`
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"`
	FailureRatio        float64  `yaml:"failure_ratio"`
	MinRequests         uint32   `yaml:"min_requests"`
}
