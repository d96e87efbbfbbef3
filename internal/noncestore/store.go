// Package noncestore implements the replay-protection nonce store the
// facilitator engine's Settle consults before submitting a payment
// authorization (§5 REPLAY PROTECTION, §9 SECURITY). Settle reserves a nonce
// after re-verifying the payload and releases it again if settlement fails;
// a reserved nonce is rejected on any subsequent sighting until the expiry it
// was reserved with has elapsed, at which point it may be garbage collected.
// The facilitator engine reserves every nonce for 10 minutes, independent of
// the authorization's own ValidBefore/deadline.
//
// Grounded on internal/idempotency.MemoryStore (LRU+TTL in-memory cache) for
// the memory backend's shape, and on internal/storage's PostgresStore /
// MongoDBStore for the durable backends, adapted from caching arbitrary HTTP
// responses to recording a single boolean "seen" fact per (payer, scheme,
// nonce) tuple.
package noncestore

import (
	"context"
	"time"
)

// Store records nonces that have already been reserved by a settlement, so a
// replayed authorization is rejected.
type Store interface {
	// Reserve atomically checks whether (payer, scheme, nonce) has already
	// been recorded and, if not, records it with the given expiry. It
	// returns true if the nonce was newly reserved, false if it was already
	// present (a replay).
	Reserve(ctx context.Context, payer, scheme, nonce string, expiresAt time.Time) (reserved bool, err error)

	// Release removes a previously reserved nonce, used to roll back a
	// reservation when settlement ultimately fails and the same
	// authorization is allowed to be retried.
	Release(ctx context.Context, payer, scheme, nonce string) error

	// Close releases any resources (database connections, background
	// goroutines) held by the store.
	Close() error
}

func key(payer, scheme, nonce string) string {
	return scheme + ":" + payer + ":" + nonce
}
