package receiptstore

import (
	"database/sql"
	"fmt"

	"github.com/x402-protocol/core/internal/config"
	"github.com/x402-protocol/core/internal/metrics"
)

// New creates a Store from StorageConfig, mirroring
// internal/noncestore.New's backend-switch shape. Passing a non-nil
// sharedDB reuses an existing Postgres connection pool (e.g. one shared
// with internal/dbpool and internal/noncestore) instead of opening a new
// one. MongoDB and file backends are StorageConfig options CedrosPay's
// storefront used for cart/refund/webhook-queue persistence; settlement
// receipts have no equivalent need for either, so only memory and
// postgres are implemented here (config.StorageConfig.Backend values of
// "mongodb" or "file" fall back to memory rather than erroring, matching
// a disabled-by-default posture for a best-effort audit log).
func New(cfg config.StorageConfig, sharedDB *sql.DB, m *metrics.Metrics) (Store, error) {
	switch cfg.Backend {
	case "postgres":
		if sharedDB != nil {
			return NewPostgresStoreWithDB(sharedDB, cfg.SchemaMapping.Settlements.TableName, m)
		}
		if cfg.PostgresURL == "" {
			return nil, fmt.Errorf("receiptstore: postgres backend requires postgres_url")
		}
		return NewPostgresStore(cfg.PostgresURL, cfg.PostgresPool, cfg.SchemaMapping.Settlements.TableName, m)
	default:
		return NewMemoryStore(), nil
	}
}
