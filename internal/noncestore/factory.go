package noncestore

import (
	"database/sql"
	"fmt"

	"github.com/x402-protocol/core/internal/config"
	"github.com/x402-protocol/core/internal/metrics"
)

// New creates a Store instance from NonceStoreConfig, grounded on
// internal/storage.NewStoreWithDB's backend-switch pattern. Passing a
// non-nil sharedDB reuses an existing Postgres connection pool (e.g. one
// shared with internal/dbpool) instead of opening a new one. m may be nil;
// the Postgres backend instruments every query through it via
// internal/metrics.MeasureDBQuery.
func New(cfg config.NonceStoreConfig, sharedDB *sql.DB, m *metrics.Metrics) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(cfg.ShardCount, 0), nil
	case "postgres":
		if sharedDB != nil {
			return NewPostgresStoreWithDB(sharedDB, m)
		}
		return NewPostgresStore(cfg.PostgresURL, cfg.PostgresPool, m)
	case "mongodb":
		return NewMongoDBStore(cfg.MongoDBURL, cfg.MongoDBDatabase)
	default:
		return nil, fmt.Errorf("noncestore: unknown backend %q", cfg.Backend)
	}
}
