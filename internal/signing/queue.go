// Package signing serializes signing operations per payer account. HSMs and
// most wallet backends do not allow concurrent signing requests for the same
// key (§5 CONCURRENCY & RESOURCE MODEL: "Wallet signers are serialized per
// account ... because HSMs and most wallets do not allow concurrent
// signing"). Grounded on CedrosPay's pkg/x402/solana/queue.go TransactionQueue
// (per-resource worker queue with a bounded backlog), generalized here from a
// single global transaction queue into one bounded per-account queue so two
// unrelated payer accounts never wait on each other.
package signing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/x402-protocol/core/internal/logger"
)

// Queue serializes arbitrary signing work per account reference. Each
// account gets its own 1-slot semaphore channel; a request for an account
// already in flight blocks (up to Timeout) rather than running concurrently.
type Queue struct {
	mu      sync.Mutex
	locks   map[string]chan struct{}
	waiting map[string]int
	depth   int
	timeout time.Duration
}

// Config controls queue admission behavior.
type Config struct {
	// QueueDepth bounds how many callers may be waiting for a given account's
	// turn before Do fails fast with ErrQueueFull. Zero means unbounded.
	QueueDepth int
	// SignTimeout bounds how long a caller waits for its turn. Zero means wait
	// forever (bounded only by ctx).
	SignTimeout time.Duration
}

// NewQueue constructs a per-account signer queue.
func NewQueue(cfg Config) *Queue {
	return &Queue{
		locks:   make(map[string]chan struct{}),
		waiting: make(map[string]int),
		depth:   cfg.QueueDepth,
		timeout: cfg.SignTimeout,
	}
}

// ErrQueueFull is returned when an account's queue depth is exceeded.
type ErrQueueFull struct{ Account string }

func (e *ErrQueueFull) Error() string {
	return fmt.Sprintf("signing: queue full for account %s", e.Account)
}

func (q *Queue) lockFor(account string) chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.locks[account]
	if !ok {
		ch = make(chan struct{}, 1)
		q.locks[account] = ch
	}
	return ch
}

// Do runs fn with exclusive access to account's signing slot. Concurrent
// callers for the same account queue up in FIFO order (limited by
// channel buffering semantics, not a strict FIFO guarantee under heavy
// contention); callers for different accounts never block each other.
func (q *Queue) Do(ctx context.Context, account string, fn func(ctx context.Context) (any, error)) (any, error) {
	if q.depth > 0 {
		q.mu.Lock()
		if q.waiting[account] >= q.depth {
			q.mu.Unlock()
			return nil, &ErrQueueFull{Account: account}
		}
		q.waiting[account]++
		q.mu.Unlock()
		defer func() {
			q.mu.Lock()
			q.waiting[account]--
			q.mu.Unlock()
		}()
	}

	lock := q.lockFor(account)

	deadline := ctx
	var cancel context.CancelFunc
	if q.timeout > 0 {
		deadline, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	select {
	case lock <- struct{}{}:
	case <-deadline.Done():
		log := logger.FromContext(ctx)
		log.Warn().Str("account", logger.TruncateAddress(account)).Msg("signing.queue_timeout")
		return nil, deadline.Err()
	}
	defer func() { <-lock }()

	return fn(ctx)
}

// Len reports the number of distinct accounts with an initialized slot,
// exposed for tests and metrics; it is not a queue-depth count.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.locks)
}
