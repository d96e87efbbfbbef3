package receiptstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/x402-protocol/core/internal/config"
	"github.com/x402-protocol/core/internal/metrics"
)

// PostgresStore implements Store using PostgreSQL, grounded on
// internal/noncestore.PostgresStore's connection/table-bootstrap shape.
type PostgresStore struct {
	db        *sql.DB
	ownsDB    bool
	tableName string
	metrics   *metrics.Metrics
}

// NewPostgresStore opens its own connection pool. m may be nil.
func NewPostgresStore(connectionString string, poolConfig config.PostgresPoolConfig, tableName string, m *metrics.Metrics) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	config.ApplyPostgresPoolSettings(db, poolConfig)

	store := &PostgresStore{db: db, ownsDB: true, tableName: orDefault(tableName, "x402_settlement_receipts"), metrics: m}
	if err := store.createTable(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreWithDB reuses a connection pool shared with other
// repositories (e.g. internal/dbpool). m may be nil.
func NewPostgresStoreWithDB(db *sql.DB, tableName string, m *metrics.Metrics) (*PostgresStore, error) {
	store := &PostgresStore{db: db, ownsDB: false, tableName: orDefault(tableName, "x402_settlement_receipts"), metrics: m}
	if err := store.createTable(); err != nil {
		return nil, err
	}
	return store, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func (s *PostgresStore) createTable() error {
	_, err := s.db.Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			transaction_id TEXT PRIMARY KEY,
			scheme         TEXT NOT NULL,
			network        TEXT NOT NULL,
			payer          TEXT NOT NULL,
			resource       TEXT NOT NULL,
			amount         TEXT NOT NULL,
			asset          TEXT NOT NULL,
			settled_at     TIMESTAMPTZ NOT NULL
		)
	`, s.tableName))
	if err != nil {
		return fmt.Errorf("create %s table: %w", s.tableName, err)
	}
	_, err = s.db.Exec(fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS idx_%s_payer ON %s (payer)
	`, s.tableName, s.tableName))
	if err != nil {
		return fmt.Errorf("create %s payer index: %w", s.tableName, err)
	}
	return nil
}

func (s *PostgresStore) Record(ctx context.Context, receipt Receipt) error {
	defer metrics.MeasureDBQuery(s.metrics, "receipt_record", "postgres")()
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (transaction_id, scheme, network, payer, resource, amount, asset, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (transaction_id) DO NOTHING
	`, s.tableName),
		receipt.TransactionID, receipt.Scheme, receipt.Network, receipt.Payer,
		receipt.Resource, receipt.Amount, receipt.Asset, receipt.SettledAt)
	if err != nil {
		return fmt.Errorf("record receipt: %w", err)
	}
	return nil
}

func (s *PostgresStore) ByTransaction(ctx context.Context, transactionID string) (Receipt, error) {
	defer metrics.MeasureDBQuery(s.metrics, "receipt_by_transaction", "postgres")()
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT scheme, network, payer, resource, amount, asset, settled_at
		FROM %s WHERE transaction_id = $1
	`, s.tableName), transactionID)

	var r Receipt
	r.TransactionID = transactionID
	if err := row.Scan(&r.Scheme, &r.Network, &r.Payer, &r.Resource, &r.Amount, &r.Asset, &r.SettledAt); err != nil {
		if err == sql.ErrNoRows {
			return Receipt{}, ErrNotFound
		}
		return Receipt{}, fmt.Errorf("lookup receipt: %w", err)
	}
	return r, nil
}

// Close is a no-op when the store was constructed over a connection pool it
// does not own.
func (s *PostgresStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}
