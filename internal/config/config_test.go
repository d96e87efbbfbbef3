package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv()
	defer clearEnv()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected no error loading defaults, got: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Errorf("expected default address :8080, got %s", cfg.Server.Address)
	}
	if cfg.NonceStore.Backend != "memory" {
		t.Errorf("expected default nonce store backend memory, got %s", cfg.NonceStore.Backend)
	}
	if cfg.NonceStore.ShardCount != 64 {
		t.Errorf("expected default nonce store shard count 64, got %d", cfg.NonceStore.ShardCount)
	}
	if cfg.Signing.QueueDepth != 16 {
		t.Errorf("expected default signing queue depth 16, got %d", cfg.Signing.QueueDepth)
	}
	if cfg.Chains.Solana.Commitment != "confirmed" {
		t.Errorf("expected default solana commitment confirmed, got %s", cfg.Chains.Solana.Commitment)
	}
}

func TestLoadConfig_SolanaWebsocketDerived(t *testing.T) {
	clearEnv()
	defer clearEnv()
	os.Setenv("FACILITATOR_SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Chains.Solana.WSURL != "wss://api.mainnet-beta.solana.com" {
		t.Errorf("expected derived wss URL, got %s", cfg.Chains.Solana.WSURL)
	}
}

func TestLoadConfig_EVMRelayKeysFromEnv(t *testing.T) {
	clearEnv()
	defer clearEnv()
	os.Setenv("FACILITATOR_EVM_RELAY_KEY_1", "0xdeadbeef")
	os.Setenv("FACILITATOR_EVM_RELAY_KEY_2", "0xfeedface")

	cfg := defaultConfig()
	cfg.Chains.EVM = []EVMChainConfig{
		{Network: "eip155:8453", RPCURL: "https://base.example", ChainID: 8453},
		{Network: "eip155:137", RPCURL: "https://polygon.example", ChainID: 137},
	}
	cfg.applyEnvOverrides()

	if cfg.Chains.EVM[0].RelayPrivateKey != "0xdeadbeef" {
		t.Errorf("expected chain 0 relay key set, got %q", cfg.Chains.EVM[0].RelayPrivateKey)
	}
	if cfg.Chains.EVM[1].RelayPrivateKey != "0xfeedface" {
		t.Errorf("expected chain 1 relay key set, got %q", cfg.Chains.EVM[1].RelayPrivateKey)
	}
}

func TestLoadConfig_EVMRequiresChainID(t *testing.T) {
	clearEnv()
	defer clearEnv()

	cfg := defaultConfig()
	cfg.Chains.EVM = []EVMChainConfig{{Network: "eip155:8453", RPCURL: "https://base.example"}}
	cfg.applyEnvOverrides()

	err := cfg.finalize()
	if err == nil {
		t.Fatal("expected error when an EVM chain is missing chain_id")
	}
	if !contains(err.Error(), "chain_id is required") {
		t.Errorf("expected chain_id error, got: %v", err)
	}
}

func TestLoadConfig_RouteRequiresPriceOrAccepts(t *testing.T) {
	clearEnv()
	defer clearEnv()

	cfg := defaultConfig()
	cfg.ResourceServer.Routes = map[string]RouteSpec{
		"GET /premium": {},
	}
	err := cfg.finalize()
	if err == nil {
		t.Fatal("expected error when route defines neither price nor accepts")
	}
	if !contains(err.Error(), "must define either price or accepts") {
		t.Errorf("expected route validation error, got: %v", err)
	}
}

func TestRouteSpec_ToRouteConfig(t *testing.T) {
	spec := RouteSpec{
		Price:   "$0.10",
		Network: "eip155:8453",
		PayTo:   "0xabc",
		Accepts: []AcceptSpec{
			{Scheme: "exact", Network: "eip155:8453", Amount: "100000", Decimals: 6},
		},
	}
	rc := spec.ToRouteConfig()
	if rc.Price != "$0.10" {
		t.Errorf("expected price preserved, got %s", rc.Price)
	}
	if len(rc.Accepts) != 1 || rc.Accepts[0].Amount != "100000" {
		t.Errorf("expected accepts converted, got %+v", rc.Accepts)
	}
}

func TestLoadConfig_CallbackHeadersFromEnv(t *testing.T) {
	clearEnv()
	defer clearEnv()
	os.Setenv("CALLBACK_HEADER_X_API_KEY", "secret")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Callbacks.Headers["X-Api-Key"] != "secret" {
		t.Errorf("expected callback header propagated, got %+v", cfg.Callbacks.Headers)
	}
}

func TestNormalizeRoutePrefix(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"api", "/api"},
		{"/api", "/api"},
		{"/api/", "/api"},
		{"  /api/  ", "/api"},
		{"x402-gw", "/x402-gw"},
		{"/v1/facilitator", "/v1/facilitator"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := normalizeRoutePrefix(tt.input)
			if got != tt.want {
				t.Errorf("normalizeRoutePrefix(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadConfig_MonitoringDefaults(t *testing.T) {
	clearEnv()
	defer clearEnv()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Monitoring.LowBalanceThreshold != 0.01 {
		t.Errorf("expected default threshold 0.01, got %v", cfg.Monitoring.LowBalanceThreshold)
	}
	if cfg.Monitoring.CheckInterval.Duration != 15*time.Minute {
		t.Errorf("expected default check interval 15m, got %v", cfg.Monitoring.CheckInterval.Duration)
	}
}

// Test helpers

func clearEnv() {
	envVars := []string{
		"CEDROS_SERVER_ADDRESS", "CEDROS_ROUTE_PREFIX", "CEDROS_ADMIN_METRICS_API_KEY",
		"CEDROS_LOG_LEVEL", "CEDROS_LOG_FORMAT", "CEDROS_LOG_ENVIRONMENT",
		"FACILITATOR_ENABLED", "FACILITATOR_SETTLE_TIMEOUT", "FACILITATOR_VERIFY_TIMEOUT",
		"FACILITATOR_EVM_RELAY_KEY_1", "FACILITATOR_EVM_RELAY_KEY_2",
		"FACILITATOR_SOLANA_RELAY_KEY_1", "FACILITATOR_SOLANA_RPC_URL", "FACILITATOR_SOLANA_WS_URL",
		"FACILITATOR_SOLANA_COMMITMENT",
		"FACILITATOR_APTOS_RPC_URL", "FACILITATOR_APTOS_RELAY_KEY",
		"FACILITATOR_NEAR_RPC_URL", "FACILITATOR_NEAR_RELAY_ACCOUNT_ID", "FACILITATOR_NEAR_RELAY_PRIVATE_KEY",
		"FACILITATOR_HEDERA_MIRROR_URL", "FACILITATOR_HEDERA_OPERATOR_ACCOUNT_ID", "FACILITATOR_HEDERA_OPERATOR_PRIVATE_KEY",
		"FACILITATOR_HYPERLIQUID_API_URL",
		"FACILITATOR_LND_HOST", "FACILITATOR_LND_TLS_CERT_PATH", "FACILITATOR_LND_MACAROON_HEX",
		"FACILITATOR_CASHU_MINT_URL",
		"NONCESTORE_BACKEND", "NONCESTORE_POSTGRES_URL", "NONCESTORE_MONGODB_URL", "NONCESTORE_MONGODB_DATABASE",
		"NONCESTORE_TTL", "NONCESTORE_SHARD_COUNT",
		"STORAGE_BACKEND", "STORAGE_POSTGRES_URL", "STORAGE_MONGODB_URL", "STORAGE_MONGODB_DATABASE", "STORAGE_FILE_PATH",
		"CALLBACK_SETTLEMENT_WEBHOOK_URL", "CALLBACK_TIMEOUT", "CALLBACK_HEADER_X_API_KEY",
		"MONITORING_LOW_BALANCE_ALERT_URL", "MONITORING_LOW_BALANCE_THRESHOLD",
		"MONITORING_CHECK_INTERVAL", "MONITORING_TIMEOUT",
	}
	for _, key := range envVars {
		os.Unsetenv(key)
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || len(s) > len(substr) && containsAny(s, substr))
}

func containsAny(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
