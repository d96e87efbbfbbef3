package resourceserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/x402-protocol/core/internal/metrics"
	"github.com/x402-protocol/core/pkg/x402"
)

// SupportedCache is the read-mostly map keyed by facilitator URL the
// resource-server engine consults at step 3 before building requirements
// against a remote facilitator's declared (scheme, network, extra) set
// (§4.6 step 3, §5: "a read-mostly map keyed by facilitator URL; refreshed
// lazily with a single in-flight refresh per URL (singleflight)"). Grounded
// on CedrosPay's internal/idempotency.MemoryStore sweep idiom for the TTL
// check, generalized here to a singleflight-guarded lazy refresh instead of
// a background sweeper since a stale /supported entry is harmless to keep
// serving until the next request happens to miss.
type SupportedCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	client  *http.Client
	group   singleflight.Group
	metrics *metrics.Metrics
}

type cacheEntry struct {
	response  x402.SupportedResponse
	fetchedAt time.Time
}

// NewSupportedCache builds a cache with the given TTL and HTTP client
// (falling back to http.DefaultClient when nil).
func NewSupportedCache(ttl time.Duration, client *http.Client, m *metrics.Metrics) *SupportedCache {
	if client == nil {
		client = http.DefaultClient
	}
	return &SupportedCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		client:  client,
		metrics: m,
	}
}

// Get returns facilitatorURL's cached GET /supported response, fetching it
// (once per concurrent stampede, via singleflight) if missing or stale.
func (c *SupportedCache) Get(ctx context.Context, facilitatorURL string) (x402.SupportedResponse, error) {
	c.mu.RLock()
	entry, ok := c.entries[facilitatorURL]
	c.mu.RUnlock()
	if ok && time.Since(entry.fetchedAt) < c.ttl {
		return entry.response, nil
	}

	result, err, _ := c.group.Do(facilitatorURL, func() (interface{}, error) {
		resp, fetchErr := c.fetch(ctx, facilitatorURL)
		if c.metrics != nil {
			c.metrics.ObserveSupportedCacheRefresh(facilitatorURL, fetchErr)
		}
		if fetchErr != nil {
			return x402.SupportedResponse{}, fetchErr
		}
		c.mu.Lock()
		c.entries[facilitatorURL] = cacheEntry{response: resp, fetchedAt: time.Now()}
		c.mu.Unlock()
		return resp, nil
	})
	if err != nil {
		// A refresh failure still serves the last-known-good entry when one
		// exists, so a transient facilitator outage doesn't take down every
		// route that consults /supported.
		if ok {
			return entry.response, nil
		}
		return x402.SupportedResponse{}, err
	}
	return result.(x402.SupportedResponse), nil
}

func (c *SupportedCache) fetch(ctx context.Context, facilitatorURL string) (x402.SupportedResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, facilitatorURL+"/supported", nil)
	if err != nil {
		return x402.SupportedResponse{}, fmt.Errorf("resourceserver: build supported request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return x402.SupportedResponse{}, fmt.Errorf("resourceserver: fetch /supported: %w", err)
	}
	defer resp.Body.Close()

	var out x402.SupportedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return x402.SupportedResponse{}, fmt.Errorf("resourceserver: decode /supported: %w", err)
	}
	return out, nil
}
