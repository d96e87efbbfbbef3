package noncestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/x402-protocol/core/internal/config"
	"github.com/x402-protocol/core/internal/metrics"
	_ "github.com/lib/pq"
)

// PostgresStore implements Store using PostgreSQL, for facilitator
// deployments that run multiple replicas and need a replay-nonce view
// shared across all of them. Grounded on internal/storage.PostgresStore's
// connection/table-bootstrap idiom.
type PostgresStore struct {
	db        *sql.DB
	ownsDB    bool
	tableName string
	metrics   *metrics.Metrics
}

// NewPostgresStore opens its own connection pool. m may be nil.
func NewPostgresStore(connectionString string, poolConfig config.PostgresPoolConfig, m *metrics.Metrics) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	config.ApplyPostgresPoolSettings(db, poolConfig)

	store := &PostgresStore{db: db, ownsDB: true, tableName: "x402_nonces", metrics: m}
	if err := store.createTable(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreWithDB reuses a connection pool shared with other
// repositories, mirroring internal/storage.NewPostgresStoreWithDB. m may be
// nil.
func NewPostgresStoreWithDB(db *sql.DB, m *metrics.Metrics) (*PostgresStore, error) {
	store := &PostgresStore{db: db, ownsDB: false, tableName: "x402_nonces", metrics: m}
	if err := store.createTable(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) createTable() error {
	_, err := s.db.Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			nonce_key  TEXT PRIMARY KEY,
			expires_at TIMESTAMPTZ NOT NULL
		)
	`, s.tableName))
	if err != nil {
		return fmt.Errorf("create %s table: %w", s.tableName, err)
	}
	_, err = s.db.Exec(fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS idx_%s_expires_at ON %s (expires_at)
	`, s.tableName, s.tableName))
	if err != nil {
		return fmt.Errorf("create %s expiry index: %w", s.tableName, err)
	}
	return nil
}

// Reserve implements Store using an INSERT ... ON CONFLICT DO NOTHING so the
// reservation check-and-set is atomic across concurrent facilitator
// replicas.
func (s *PostgresStore) Reserve(ctx context.Context, payer, scheme, nonce string, expiresAt time.Time) (bool, error) {
	defer metrics.MeasureDBQuery(s.metrics, "nonce_reserve", "postgres")()
	k := key(payer, scheme, nonce)
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (nonce_key, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (nonce_key) DO NOTHING
	`, s.tableName), k, expiresAt)
	if err != nil {
		return false, fmt.Errorf("reserve nonce: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reserve nonce rows affected: %w", err)
	}
	if rows == 1 {
		return true, nil
	}

	// Row already existed. Treat an expired prior reservation as available
	// again: replace it and report a fresh reservation.
	res, err = s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET expires_at = $2
		WHERE nonce_key = $1 AND expires_at < now()
	`, s.tableName), k, expiresAt)
	if err != nil {
		return false, fmt.Errorf("reserve expired nonce: %w", err)
	}
	rows, err = res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reserve expired nonce rows affected: %w", err)
	}
	return rows == 1, nil
}

// Release implements Store.
func (s *PostgresStore) Release(ctx context.Context, payer, scheme, nonce string) error {
	defer metrics.MeasureDBQuery(s.metrics, "nonce_release", "postgres")()
	k := key(payer, scheme, nonce)
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE nonce_key = $1`, s.tableName), k)
	if err != nil {
		return fmt.Errorf("release nonce: %w", err)
	}
	return nil
}

// Close implements Store. It is a no-op when the store was constructed over
// a connection pool it does not own.
func (s *PostgresStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

// PruneExpired deletes nonces whose expiry has passed, intended to be run
// periodically out-of-band (e.g. from a cron goroutine in cmd/facilitator).
func (s *PostgresStore) PruneExpired(ctx context.Context) (int64, error) {
	defer metrics.MeasureDBQuery(s.metrics, "nonce_prune_expired", "postgres")()
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE expires_at < now()`, s.tableName))
	if err != nil {
		return 0, fmt.Errorf("prune expired nonces: %w", err)
	}
	return res.RowsAffected()
}
