// Package bazaar implements the Discovery/Bazaar extension (§4.8, §6): a
// machine-readable catalog of a resource server's payable routes, so an
// agent can find and price an endpoint before ever sending it a request.
//
// Grounded on pkg/x402/route's compiled Table (reused here to enumerate
// registered patterns instead of matching a single request) and on
// pkg/x402.BuildRequirements for pricing each listing exactly the way a 402
// response would. Modeled after CedrosPay's internal/httpserver route-group
// registration style: a small read-mostly catalog served by one
// http.HandlerFunc, not a framework.
package bazaar

import (
	"net/http"
	"sort"
	"sync"

	"github.com/x402-protocol/core/pkg/responders"
	"github.com/x402-protocol/core/pkg/x402"
	"github.com/x402-protocol/core/pkg/x402/route"
)

// Listing is one payable resource advertised by the catalog.
type Listing struct {
	Resource    string                    `json:"resource"`
	Method      string                    `json:"method"`
	Description string                    `json:"description,omitempty"`
	MimeType    string                    `json:"mimeType,omitempty"`
	Accepts     []x402.PaymentRequirements `json:"accepts"`
}

// Catalog is a read-mostly snapshot of a resource server's payable routes,
// rebuilt whenever the underlying route.Table changes (at startup, or via
// Refresh for callers that reload routes at runtime).
type Catalog struct {
	mu       sync.RWMutex
	listings []Listing
}

// NewCatalog builds a Catalog from every pattern registered in table,
// pricing each one with x402.BuildRequirements. A pattern whose RouteConfig
// can't be priced (missing network/asset registration) is skipped rather
// than failing the whole catalog, since a bazaar is advertising what's
// available, not validating configuration.
func NewCatalog(table *route.Table) *Catalog {
	c := &Catalog{}
	c.Refresh(table)
	return c
}

// Refresh rebuilds the catalog's listings from table, replacing the
// previous snapshot atomically.
func (c *Catalog) Refresh(table *route.Table) {
	listings := make([]Listing, 0, len(table.Patterns()))
	for _, p := range table.Patterns() {
		reqs, err := x402.BuildRequirements(p.Config, nil, nil)
		if err != nil {
			continue
		}
		listings = append(listings, Listing{
			Resource:    p.Config.Resource,
			Method:      p.Method,
			Description: p.Config.Description,
			MimeType:    p.Config.MimeType,
			Accepts:     reqs,
		})
	}
	sort.Slice(listings, func(i, j int) bool {
		if listings[i].Resource != listings[j].Resource {
			return listings[i].Resource < listings[j].Resource
		}
		return listings[i].Method < listings[j].Method
	})

	c.mu.Lock()
	c.listings = listings
	c.mu.Unlock()
}

// Listings returns the current catalog snapshot, optionally filtered to
// listings that accept payment on network (CAIP-2; empty matches all) and
// whose cheapest option is at most maxAmount atomic units (empty skips the
// budget filter). This mirrors the client engine's own requirement
// selection (§4.9 step 4) so an agent can discover exactly what it could
// afford to pay.
func (c *Catalog) Listings(network, maxAmount string) []Listing {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if network == "" && maxAmount == "" {
		out := make([]Listing, len(c.listings))
		copy(out, c.listings)
		return out
	}

	out := make([]Listing, 0, len(c.listings))
	for _, l := range c.listings {
		accepts := filterAccepts(l.Accepts, network, maxAmount)
		if len(accepts) == 0 {
			continue
		}
		filtered := l
		filtered.Accepts = accepts
		out = append(out, filtered)
	}
	return out
}

func filterAccepts(reqs []x402.PaymentRequirements, network, maxAmount string) []x402.PaymentRequirements {
	out := make([]x402.PaymentRequirements, 0, len(reqs))
	for _, r := range reqs {
		if network != "" && x402.NormalizeNetwork(r.Network) != x402.NormalizeNetwork(network) {
			continue
		}
		if maxAmount != "" {
			within, err := x402.AmountAtLeast(maxAmount, r.Amount)
			if err != nil || !within {
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

// catalogResponse is the wire shape served by Handler.
type catalogResponse struct {
	X402Version int       `json:"x402Version"`
	Items       []Listing `json:"items"`
}

// Handler serves the catalog as GET /.well-known/x402 (or wherever the
// caller mounts it), accepting optional "network" and "maxAmount" query
// parameters to pre-filter listings.
func (c *Catalog) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		items := c.Listings(r.URL.Query().Get("network"), r.URL.Query().Get("maxAmount"))
		responders.JSON(w, http.StatusOK, catalogResponse{
			X402Version: x402.CurrentVersion,
			Items:       items,
		})
	}
}
