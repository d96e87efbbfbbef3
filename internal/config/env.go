package config

import (
	"fmt"
	"net/textproto"
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration. Ambient
// settings use the CEDROS_ prefix; relay credentials (never written to
// YAML) use a FACILITATOR_ prefix.
func (c *Config) applyEnvOverrides() {
	// Server config
	setIfEnv(&c.Server.Address, "CEDROS_SERVER_ADDRESS")
	setIfEnv(&c.Server.RoutePrefix, "CEDROS_ROUTE_PREFIX")
	setIfEnv(&c.Server.AdminMetricsAPIKey, "CEDROS_ADMIN_METRICS_API_KEY")
	if c.Server.RoutePrefix != "" {
		c.Server.RoutePrefix = normalizeRoutePrefix(c.Server.RoutePrefix)
	}

	// Logging config
	setIfEnv(&c.Logging.Level, "CEDROS_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "CEDROS_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "CEDROS_LOG_ENVIRONMENT")

	// Facilitator config
	setBoolIfEnv(&c.Facilitator.Enabled, "FACILITATOR_ENABLED")
	setDurationIfEnv(&c.Facilitator.SettleTimeout, "FACILITATOR_SETTLE_TIMEOUT")
	setDurationIfEnv(&c.Facilitator.VerifyTimeout, "FACILITATOR_VERIFY_TIMEOUT")

	// EVM relay keys, one per configured chains.evm[i] entry, mirroring
	// CedrosPay's X402_SERVER_WALLET_N numbering convention.
	for i := range c.Chains.EVM {
		if key := os.Getenv(fmt.Sprintf("FACILITATOR_EVM_RELAY_KEY_%d", i+1)); key != "" {
			c.Chains.EVM[i].RelayPrivateKey = key
		}
	}

	// Solana relay keys (round-robin pool, like the teacher's gasless wallet pool)
	c.Chains.Solana.RelayPrivateKeys = loadNumberedEnv("FACILITATOR_SOLANA_RELAY_KEY_")
	setIfEnv(&c.Chains.Solana.RPCURL, "FACILITATOR_SOLANA_RPC_URL")
	setIfEnv(&c.Chains.Solana.WSURL, "FACILITATOR_SOLANA_WS_URL")
	setIfEnv(&c.Chains.Solana.Commitment, "FACILITATOR_SOLANA_COMMITMENT")

	setIfEnv(&c.Chains.Aptos.RPCURL, "FACILITATOR_APTOS_RPC_URL")
	setIfEnv(&c.Chains.Aptos.RelayPrivateKey, "FACILITATOR_APTOS_RELAY_KEY")

	setIfEnv(&c.Chains.NEAR.RPCURL, "FACILITATOR_NEAR_RPC_URL")
	setIfEnv(&c.Chains.NEAR.RelayAccountID, "FACILITATOR_NEAR_RELAY_ACCOUNT_ID")
	setIfEnv(&c.Chains.NEAR.RelayPrivateKey, "FACILITATOR_NEAR_RELAY_PRIVATE_KEY")

	setIfEnv(&c.Chains.Hedera.MirrorURL, "FACILITATOR_HEDERA_MIRROR_URL")
	setIfEnv(&c.Chains.Hedera.OperatorAccountID, "FACILITATOR_HEDERA_OPERATOR_ACCOUNT_ID")
	setIfEnv(&c.Chains.Hedera.OperatorPrivateKey, "FACILITATOR_HEDERA_OPERATOR_PRIVATE_KEY")

	setIfEnv(&c.Chains.Hyperliquid.APIURL, "FACILITATOR_HYPERLIQUID_API_URL")

	setIfEnv(&c.Chains.Lightning.LNDHost, "FACILITATOR_LND_HOST")
	setIfEnv(&c.Chains.Lightning.TLSCertPath, "FACILITATOR_LND_TLS_CERT_PATH")
	setIfEnv(&c.Chains.Lightning.MacaroonHex, "FACILITATOR_LND_MACAROON_HEX")

	setIfEnv(&c.Chains.Cashu.MintURL, "FACILITATOR_CASHU_MINT_URL")

	// Nonce store config
	setIfEnv(&c.NonceStore.Backend, "NONCESTORE_BACKEND")
	setIfEnv(&c.NonceStore.PostgresURL, "NONCESTORE_POSTGRES_URL")
	setIfEnv(&c.NonceStore.MongoDBURL, "NONCESTORE_MONGODB_URL")
	setIfEnv(&c.NonceStore.MongoDBDatabase, "NONCESTORE_MONGODB_DATABASE")
	setDurationIfEnv(&c.NonceStore.TTL, "NONCESTORE_TTL")
	if v := os.Getenv("NONCESTORE_SHARD_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.NonceStore.ShardCount = n
		}
	}

	// Storage config
	setIfEnv(&c.Storage.Backend, "STORAGE_BACKEND")
	setIfEnv(&c.Storage.PostgresURL, "STORAGE_POSTGRES_URL")
	setIfEnv(&c.Storage.MongoDBURL, "STORAGE_MONGODB_URL")
	setIfEnv(&c.Storage.MongoDBDatabase, "STORAGE_MONGODB_DATABASE")
	setIfEnv(&c.Storage.FilePath, "STORAGE_FILE_PATH")

	// Callbacks config
	setIfEnv(&c.Callbacks.SettlementWebhookURL, "CALLBACK_SETTLEMENT_WEBHOOK_URL")
	setDurationIfEnv(&c.Callbacks.Timeout, "CALLBACK_TIMEOUT")
	loadHeaderEnv("CALLBACK_HEADER_", &c.Callbacks.Headers)

	// Monitoring config
	setIfEnv(&c.Monitoring.LowBalanceAlertURL, "MONITORING_LOW_BALANCE_ALERT_URL")
	if v := os.Getenv("MONITORING_LOW_BALANCE_THRESHOLD"); v != "" {
		var threshold float64
		if _, err := fmt.Sscanf(v, "%f", &threshold); err == nil {
			c.Monitoring.LowBalanceThreshold = threshold
		}
	}
	setDurationIfEnv(&c.Monitoring.CheckInterval, "MONITORING_CHECK_INTERVAL")
	setDurationIfEnv(&c.Monitoring.Timeout, "MONITORING_TIMEOUT")
	loadHeaderEnv("MONITORING_HEADER_", &c.Monitoring.Headers)
}

// setIfEnv sets a string pointer to the environment variable value if it exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setBoolIfEnv sets a boolean pointer from an environment variable.
// Accepts "1", "true", "TRUE", "True" as true values.
func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

// setDurationIfEnv sets a Duration pointer from an environment variable.
// Uses time.ParseDuration to parse values like "5m", "120s", "1h30m".
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}

// loadNumberedEnv loads prefix+"1", prefix+"2", ... until the first gap,
// mirroring CedrosPay's X402_SERVER_WALLET_N convention.
func loadNumberedEnv(prefix string) []string {
	var values []string
	for i := 1; i <= 100; i++ {
		v := os.Getenv(fmt.Sprintf("%s%d", prefix, i))
		if v == "" {
			break
		}
		values = append(values, v)
	}
	return values
}

// loadHeaderEnv scans the environment for prefix+HEADER_NAME=value entries
// and merges them into dst, canonicalizing the header name.
func loadHeaderEnv(prefix string, dst *map[string]string) {
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, prefix) {
			continue
		}
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimPrefix(parts[0], prefix)
		if name == "" {
			continue
		}
		if *dst == nil {
			*dst = make(map[string]string)
		}
		headerName := textproto.CanonicalMIMEHeaderKey(strings.ReplaceAll(name, "_", "-"))
		(*dst)[headerName] = parts[1]
	}
}

// normalizeRoutePrefix ensures the prefix starts with / and doesn't end with /.
// Examples: "api" -> "/api", "/api/" -> "/api", "x402-gw" -> "/x402-gw"
func normalizeRoutePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	prefix = strings.TrimSuffix(prefix, "/")
	return prefix
}
