package x402

import (
	"testing"

	"github.com/x402-protocol/core/internal/money"
)

func TestCanonicalStablecoin_KnownNetwork(t *testing.T) {
	asset, decimals, err := CanonicalStablecoin("eip155:8453")
	if err != nil {
		t.Fatalf("CanonicalStablecoin() error = %v", err)
	}
	if decimals != 6 {
		t.Fatalf("decimals = %d, want 6", decimals)
	}
	if asset == "" {
		t.Fatal("asset should not be empty")
	}
}

func TestCanonicalStablecoin_UnknownNetworkErrors(t *testing.T) {
	if _, _, err := CanonicalStablecoin("eip155:999999"); err == nil {
		t.Fatal("CanonicalStablecoin() should error for an unregistered network")
	}
}

func TestBuildRequirements_DefaultsToExactSchemeAndCanonicalAsset(t *testing.T) {
	route := RouteConfig{Price: "$0.10", Network: "eip155:8453", PayTo: "0xpayee", Resource: "/articles/1"}
	reqs, err := BuildRequirements(route, nil, nil)
	if err != nil {
		t.Fatalf("BuildRequirements() error = %v", err)
	}
	if len(reqs) != 1 {
		t.Fatalf("BuildRequirements() returned %d requirements, want 1", len(reqs))
	}
	req := reqs[0]
	if req.Scheme != "exact" {
		t.Errorf("Scheme = %q, want exact", req.Scheme)
	}
	if req.Amount != "100000" {
		t.Errorf("Amount = %q, want 100000 ($0.10 at 6 decimals)", req.Amount)
	}
	if req.PayTo != "0xpayee" {
		t.Errorf("PayTo = %q, want 0xpayee", req.PayTo)
	}
	if req.MaxTimeoutSeconds != 60 {
		t.Errorf("MaxTimeoutSeconds = %d, want the default of 60", req.MaxTimeoutSeconds)
	}
}

func TestBuildRequirements_MultipleAcceptOptions(t *testing.T) {
	route := RouteConfig{
		Resource: "/articles/1",
		Accepts: []AcceptOption{
			{Network: "eip155:8453", Amount: "100000"},
			{Network: "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp", Amount: "50000"},
		},
	}
	reqs, err := BuildRequirements(route, nil, nil)
	if err != nil {
		t.Fatalf("BuildRequirements() error = %v", err)
	}
	if len(reqs) != 2 {
		t.Fatalf("BuildRequirements() returned %d requirements, want 2", len(reqs))
	}
	if reqs[0].Amount != "100000" || reqs[1].Amount != "50000" {
		t.Fatalf("BuildRequirements() amounts = %q, %q, want explicit per-option amounts preserved", reqs[0].Amount, reqs[1].Amount)
	}
}

func TestBuildRequirements_MissingPriceAndAmountErrors(t *testing.T) {
	route := RouteConfig{Network: "eip155:8453", Resource: "/articles/1"}
	if _, err := BuildRequirements(route, nil, nil); err == nil {
		t.Fatal("BuildRequirements() should error when neither Price nor AcceptOption.Amount is set")
	}
}

func TestBuildRequirements_MergesSchemeExtraAndRouteExtensions(t *testing.T) {
	route := RouteConfig{
		Price:    "$0.10",
		Network:  "eip155:8453",
		PayTo:    "0xpayee",
		Resource: "/articles/1",
		Extensions: map[string]Extension{
			"bazaar": {Info: map[string]any{"listed": true}},
		},
	}
	reqs, err := BuildRequirements(route, nil, map[string]any{"name": "USD Coin", "version": "2"})
	if err != nil {
		t.Fatalf("BuildRequirements() error = %v", err)
	}
	if len(reqs) != 1 {
		t.Fatalf("BuildRequirements() returned %d requirements, want 1", len(reqs))
	}
	extra := reqs[0].Extra
	if extra["name"] != "USD Coin" || extra["version"] != "2" {
		t.Fatalf("Extra = %+v, want scheme-provided name/version merged in", extra)
	}
	bazaar, ok := extra["bazaar"].(map[string]any)
	if !ok || bazaar["listed"] != true {
		t.Fatalf("Extra[\"bazaar\"] = %+v, want the route's extension info merged in", extra["bazaar"])
	}
}

func TestBuildRequirements_OptExtraWinsOverSchemeExtra(t *testing.T) {
	route := RouteConfig{
		Resource: "/articles/1",
		Accepts: []AcceptOption{
			{Network: "eip155:8453", Amount: "100000", Extra: map[string]any{"name": "Override Coin"}},
		},
	}
	reqs, err := BuildRequirements(route, nil, map[string]any{"name": "USD Coin"})
	if err != nil {
		t.Fatalf("BuildRequirements() error = %v", err)
	}
	if reqs[0].Extra["name"] != "Override Coin" {
		t.Fatalf("Extra[\"name\"] = %v, want the per-option override to win over the scheme default", reqs[0].Extra["name"])
	}
}

func TestParsePrice_DollarAndBareDecimal(t *testing.T) {
	asset := money.Asset{Code: "USDC", Decimals: 6}
	dollar, err := ParsePrice("$1.50", asset, nil)
	if err != nil {
		t.Fatalf("ParsePrice($1.50) error = %v", err)
	}
	bare, err := ParsePrice("1.50", asset, nil)
	if err != nil {
		t.Fatalf("ParsePrice(1.50) error = %v", err)
	}
	if dollar.ToAtomic() != bare.ToAtomic() {
		t.Fatalf("ParsePrice() dollar-prefixed and bare forms should agree: %q vs %q", dollar.ToAtomic(), bare.ToAtomic())
	}
}
