package config

import (
	"os"
	"testing"
)

func TestEnvOverrides_ServerConfig(t *testing.T) {
	defer os.Clearenv()

	tests := []struct {
		name      string
		envVars   map[string]string
		checkFunc func(*testing.T, *Config)
	}{
		{
			name: "CEDROS_SERVER_ADDRESS overrides default",
			envVars: map[string]string{
				"CEDROS_SERVER_ADDRESS": ":3000",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Server.Address != ":3000" {
					t.Errorf("Expected :3000, got %s", cfg.Server.Address)
				}
			},
		},
		{
			name: "CEDROS_ROUTE_PREFIX override",
			envVars: map[string]string{
				"CEDROS_ROUTE_PREFIX": "/api",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Server.RoutePrefix != "/api" {
					t.Errorf("Expected /api, got %s", cfg.Server.RoutePrefix)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			cfg := defaultConfig()
			cfg.applyEnvOverrides()
			tt.checkFunc(t, cfg)
		})
	}
}

func TestEnvOverrides_ChainsConfig(t *testing.T) {
	defer os.Clearenv()

	tests := []struct {
		name      string
		envVars   map[string]string
		setup     func(*Config)
		checkFunc func(*testing.T, *Config)
	}{
		{
			name: "FACILITATOR_SOLANA_RPC_URL override",
			envVars: map[string]string{
				"FACILITATOR_SOLANA_RPC_URL": "https://custom-rpc.solana.com",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Chains.Solana.RPCURL != "https://custom-rpc.solana.com" {
					t.Errorf("Expected custom RPC URL, got %s", cfg.Chains.Solana.RPCURL)
				}
			},
		},
		{
			name: "FACILITATOR_APTOS_RELAY_KEY override",
			envVars: map[string]string{
				"FACILITATOR_APTOS_RELAY_KEY": "0xaptoskey",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Chains.Aptos.RelayPrivateKey != "0xaptoskey" {
					t.Errorf("Expected aptos relay key set, got %s", cfg.Chains.Aptos.RelayPrivateKey)
				}
			},
		},
		{
			name: "FACILITATOR_NEAR_RELAY_ACCOUNT_ID override",
			envVars: map[string]string{
				"FACILITATOR_NEAR_RELAY_ACCOUNT_ID": "relay.near",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Chains.NEAR.RelayAccountID != "relay.near" {
					t.Errorf("Expected near relay account id set, got %s", cfg.Chains.NEAR.RelayAccountID)
				}
			},
		},
		{
			name: "FACILITATOR_SOLANA_RELAY_KEY_N loads numbered pool",
			envVars: map[string]string{
				"FACILITATOR_SOLANA_RELAY_KEY_1": "key1",
				"FACILITATOR_SOLANA_RELAY_KEY_2": "key2",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if len(cfg.Chains.Solana.RelayPrivateKeys) != 2 {
					t.Fatalf("Expected 2 relay keys, got %d", len(cfg.Chains.Solana.RelayPrivateKeys))
				}
				if cfg.Chains.Solana.RelayPrivateKeys[0] != "key1" || cfg.Chains.Solana.RelayPrivateKeys[1] != "key2" {
					t.Errorf("unexpected relay keys: %v", cfg.Chains.Solana.RelayPrivateKeys)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			cfg := defaultConfig()
			if tt.setup != nil {
				tt.setup(cfg)
			}
			cfg.applyEnvOverrides()
			tt.checkFunc(t, cfg)
		})
	}
}

func TestEnvOverrides_NonceStoreConfig(t *testing.T) {
	defer os.Clearenv()

	os.Setenv("NONCESTORE_BACKEND", "postgres")
	os.Setenv("NONCESTORE_POSTGRES_URL", "postgres://user:pass@db/nonces")
	os.Setenv("NONCESTORE_SHARD_COUNT", "32")

	cfg := defaultConfig()
	cfg.applyEnvOverrides()

	if cfg.NonceStore.Backend != "postgres" {
		t.Errorf("expected backend postgres, got %s", cfg.NonceStore.Backend)
	}
	if cfg.NonceStore.PostgresURL != "postgres://user:pass@db/nonces" {
		t.Errorf("expected postgres url set, got %s", cfg.NonceStore.PostgresURL)
	}
	if cfg.NonceStore.ShardCount != 32 {
		t.Errorf("expected shard count 32, got %d", cfg.NonceStore.ShardCount)
	}
}

func TestEnvOverrides_StorageConfig(t *testing.T) {
	defer os.Clearenv()

	os.Setenv("STORAGE_BACKEND", "mongodb")
	os.Setenv("STORAGE_MONGODB_URL", "mongodb://localhost:27017")
	os.Setenv("STORAGE_MONGODB_DATABASE", "x402")

	cfg := defaultConfig()
	cfg.applyEnvOverrides()

	if cfg.Storage.Backend != "mongodb" {
		t.Errorf("expected backend mongodb, got %s", cfg.Storage.Backend)
	}
	if cfg.Storage.MongoDBDatabase != "x402" {
		t.Errorf("expected database x402, got %s", cfg.Storage.MongoDBDatabase)
	}
}

func TestEnvOverrides_CallbackHeaders(t *testing.T) {
	defer os.Clearenv()

	os.Setenv("CALLBACK_HEADER_AUTHORIZATION", "Bearer token123")
	os.Setenv("CALLBACK_HEADER_X_API_KEY", "api-key-456")

	cfg := defaultConfig()
	cfg.applyEnvOverrides()

	if cfg.Callbacks.Headers["Authorization"] != "Bearer token123" {
		t.Errorf("Expected Authorization header to be set, got %v", cfg.Callbacks.Headers)
	}

	if cfg.Callbacks.Headers["X-Api-Key"] != "api-key-456" {
		t.Errorf("Expected X-Api-Key header to be set, got %v", cfg.Callbacks.Headers)
	}
}

func TestEnvOverrides_MonitoringHeaders(t *testing.T) {
	defer os.Clearenv()

	os.Setenv("MONITORING_HEADER_AUTHORIZATION", "Bearer monitoring-token")

	cfg := defaultConfig()
	cfg.applyEnvOverrides()

	if cfg.Monitoring.Headers["Authorization"] != "Bearer monitoring-token" {
		t.Errorf("Expected Authorization header to be set, got %v", cfg.Monitoring.Headers)
	}
}

// TestNormalizeRoutePrefix already exists in config_test.go
