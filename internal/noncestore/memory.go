package noncestore

import (
	"container/list"
	"context"
	"hash/fnv"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store sharded by payer so two unrelated
// payers' nonce traffic only lock-contend when their payers hash to the same
// shard, mirroring internal/idempotency.MemoryStore's single-shard LRU+TTL
// design but striped across ShardCount buckets for the higher write volume a
// facilitator's settle path sees.
type MemoryStore struct {
	shards []*memoryShard
	mask   uint32

	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

type memoryShard struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
	maxSize int
}

type memoryEntry struct {
	key       string
	expiresAt time.Time
}

// NewMemoryStore creates a sharded in-memory nonce store. shardCount is
// rounded up to the next power of two, and a non-positive shardCount means
// 64; maxPerShard bounds
// each shard's resident set before the oldest entry is evicted (nonces past
// their ValidBefore are reclaimed by the background sweep regardless).
func NewMemoryStore(shardCount, maxPerShard int) *MemoryStore {
	if shardCount <= 0 {
		shardCount = 64
	}
	n := 1
	for n < shardCount {
		n <<= 1
	}
	if maxPerShard <= 0 {
		maxPerShard = 100000
	}

	shards := make([]*memoryShard, n)
	for i := range shards {
		shards[i] = &memoryShard{
			entries: make(map[string]*list.Element),
			order:   list.New(),
			maxSize: maxPerShard,
		}
	}

	s := &MemoryStore{
		shards:      shards,
		mask:        uint32(n - 1),
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
	go s.sweep()
	return s
}

func (s *MemoryStore) shardFor(k string) *memoryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k))
	return s.shards[h.Sum32()&s.mask]
}

// Reserve implements Store.
func (s *MemoryStore) Reserve(ctx context.Context, payer, scheme, nonce string, expiresAt time.Time) (bool, error) {
	k := key(payer, scheme, nonce)
	shard := s.shardFor(payer)
	now := time.Now()

	shard.mu.Lock()
	defer shard.mu.Unlock()

	if el, ok := shard.entries[k]; ok {
		entry := el.Value.(*memoryEntry)
		if now.Before(entry.expiresAt) {
			return false, nil
		}
		shard.order.Remove(el)
		delete(shard.entries, k)
	}

	if len(shard.entries) >= shard.maxSize {
		oldest := shard.order.Back()
		if oldest != nil {
			shard.order.Remove(oldest)
			delete(shard.entries, oldest.Value.(*memoryEntry).key)
		}
	}

	el := shard.order.PushFront(&memoryEntry{key: k, expiresAt: expiresAt})
	shard.entries[k] = el
	return true, nil
}

// Release implements Store.
func (s *MemoryStore) Release(ctx context.Context, payer, scheme, nonce string) error {
	k := key(payer, scheme, nonce)
	shard := s.shardFor(payer)

	shard.mu.Lock()
	defer shard.mu.Unlock()
	if el, ok := shard.entries[k]; ok {
		shard.order.Remove(el)
		delete(shard.entries, k)
	}
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	close(s.stopCleanup)
	<-s.cleanupDone
	return nil
}

func (s *MemoryStore) sweep() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	defer close(s.cleanupDone)

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			now := time.Now()
			for _, shard := range s.shards {
				shard.mu.Lock()
				var expired []*list.Element
				for el := shard.order.Front(); el != nil; el = el.Next() {
					entry := el.Value.(*memoryEntry)
					if now.After(entry.expiresAt) {
						expired = append(expired, el)
					}
				}
				for _, el := range expired {
					shard.order.Remove(el)
					delete(shard.entries, el.Value.(*memoryEntry).key)
				}
				shard.mu.Unlock()
			}
		}
	}
}
