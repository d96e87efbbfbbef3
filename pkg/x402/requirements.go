package x402

import (
	"fmt"
	"strings"

	"github.com/x402-protocol/core/internal/money"
)

// stablecoinTable maps a CAIP-2 network to its canonical USD-pegged
// stablecoin's contract/mint address and decimal count. Seeded from
// nacorid-x402-go's v2/chains.go ChainConfig USDC table for EVM+Solana;
// Aptos/NEAR/Hedera entries are placeholders pending a governance registry
// (§9 Open Questions — documented, not load-bearing for test coverage).
var stablecoinTable = map[string]struct {
	Asset    string
	Decimals int
}{
	"eip155:8453":     {"0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", 6}, // Base USDC
	"eip155:84532":    {"0x036CbD53842c5426634e7929541eC2318f3dCF7e", 6}, // Base Sepolia USDC
	"eip155:137":      {"0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359", 6}, // Polygon USDC
	"eip155:80002":    {"0x41e94Eb019C0762f9Bfcf9Fb1E58725BfB0e7582", 6}, // Polygon Amoy USDC
	"eip155:43114":    {"0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E", 6}, // Avalanche USDC
	"eip155:43113":    {"0x5425890298aed601595a70AB815c96711a31Bc65", 6}, // Avalanche Fuji USDC
	"eip155:1":        {"0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", 6}, // Ethereum USDC
	"eip155:11155111": {"0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238", 6}, // Sepolia USDC
	"solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp": {"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", 6},
	"solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1":  {"4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU", 6},
	"aptos:1":        {"0xbae207659db88bea0cbead6da0ed00aac12edcdda169e591cd41c94180b46f3::asset::USDC", 6},
	"aptos:2":        {"0x69091fbab5f7d635ee7ac5098cf0c1efbe31d68fec0f2cd565e8d168daf52832::asset::USDC", 6},
	"near-mainnet":   {"17208628f84f5d6ad33f0da3bbbeb27ffcb398eac501a31bd6ad2011e36133a1", 6},
	"near-testnet":   {"usdc.fakes.testnet", 6},
	"hedera:mainnet": {"0.0.456858", 6},
	"hedera:testnet": {"0.0.429274", 6},
}

// CanonicalStablecoin returns the canonical stablecoin asset address and
// decimal count for a network, used as the fallback when a route declares a
// price without an explicit asset.
func CanonicalStablecoin(network string) (asset string, decimals int, err error) {
	network = NormalizeNetwork(network)
	entry, ok := stablecoinTable[network]
	if !ok {
		return "", 0, NewVerifyError(ReasonInvalidPaymentRequirements, fmt.Errorf("no canonical stablecoin registered for network %s", network))
	}
	return entry.Asset, entry.Decimals, nil
}

// MoneyParser converts a human-entered price string ("$0.10", "10.5 USDC")
// into a Money value for a given asset's decimal precision. Parsers are
// tried in order; the first to recognize the input format wins. Modeled
// directly on money.FromMajor's decimal-string parsing, generalized into a
// chain so additional formats (basis points, named presets) can be added
// without touching the requirement builder.
type MoneyParser func(price string, asset money.Asset) (money.Money, bool, error)

// DefaultMoneyParsers is the parser chain used by BuildRequirements unless a
// caller supplies its own.
var DefaultMoneyParsers = []MoneyParser{
	parseDollarPrefixed,
	parseBareDecimal,
}

func parseDollarPrefixed(price string, asset money.Asset) (money.Money, bool, error) {
	if !strings.HasPrefix(price, "$") {
		return money.Money{}, false, nil
	}
	m, err := money.FromMajor(asset, strings.TrimPrefix(price, "$"))
	return m, true, err
}

func parseBareDecimal(price string, asset money.Asset) (money.Money, bool, error) {
	m, err := money.FromMajor(asset, price)
	return m, true, err
}

// ParsePrice runs price through the given parser chain (or DefaultMoneyParsers
// if nil) against asset's decimal precision.
func ParsePrice(price string, asset money.Asset, parsers []MoneyParser) (money.Money, error) {
	if parsers == nil {
		parsers = DefaultMoneyParsers
	}
	for _, parse := range parsers {
		m, handled, err := parse(price, asset)
		if handled {
			return m, err
		}
	}
	return money.Money{}, NewVerifyError(ReasonInvalidPaymentRequirements, fmt.Errorf("no parser recognized price %q", price))
}

// mergeExtra layers zero or more extra maps onto a fresh map, later maps
// winning key conflicts. A nil result (all sources empty) keeps Extra unset
// rather than serializing an empty object.
func mergeExtra(sources ...map[string]any) map[string]any {
	var out map[string]any
	for _, src := range sources {
		for k, v := range src {
			if out == nil {
				out = make(map[string]any, len(src))
			}
			out[k] = v
		}
	}
	return out
}

// extensionsExtra flattens a route's declared extensions into an Extra-
// shaped map, one entry per extension name carrying its Info payload (§4.4:
// "merge extension declarations from the route into extra").
func extensionsExtra(extensions map[string]Extension) map[string]any {
	if len(extensions) == 0 {
		return nil
	}
	out := make(map[string]any, len(extensions))
	for name, ext := range extensions {
		out[name] = ext.Info
	}
	return out
}

// BuildRequirements expands a RouteConfig into the list of PaymentRequirements
// a 402 response should advertise, one per AcceptOption (or a single
// synthesized option using the route's canonical stablecoin when Accepts is
// empty). Grounded on internal/money's Money/FromMajor arithmetic,
// generalized from CedrosPay's Solana-only SPL adapter to every chain family
// named in the registry. schemeExtra is the calling scheme's own
// getExtra(network) output (e.g. EIP-712 name/version, an Aptos/Hedera
// feePayer, a Hyperliquid signatureChainId); it is merged beneath both the
// route's extension declarations and any AcceptOption-level Extra override,
// which take precedence on key conflicts.
func BuildRequirements(route RouteConfig, parsers []MoneyParser, schemeExtra map[string]any) ([]PaymentRequirements, error) {
	options := route.Accepts
	if len(options) == 0 {
		options = []AcceptOption{{Scheme: "exact", Network: route.Network}}
	}

	out := make([]PaymentRequirements, 0, len(options))
	for _, opt := range options {
		network := opt.Network
		if network == "" {
			network = route.Network
		}
		network = NormalizeNetwork(network)
		scheme := opt.Scheme
		if scheme == "" {
			scheme = "exact"
		}

		asset := opt.Asset
		decimals := opt.Decimals
		if asset == "" {
			canonicalAsset, canonicalDecimals, err := CanonicalStablecoin(network)
			if err != nil {
				return nil, err
			}
			asset, decimals = canonicalAsset, canonicalDecimals
		}

		amount := opt.Amount
		if amount == "" {
			if route.Price == "" {
				return nil, NewVerifyError(ReasonInvalidPaymentRequirements, fmt.Errorf("route has neither Price nor AcceptOption.Amount for network %s", network))
			}
			priced, err := ParsePrice(route.Price, money.Asset{Code: asset, Decimals: uint8(decimals)}, parsers)
			if err != nil {
				return nil, err
			}
			amount = priced.ToAtomic()
		}

		payTo := opt.PayTo
		if payTo == "" {
			payTo = route.PayTo
		}
		maxTimeout := opt.MaxTimeoutSeconds
		if maxTimeout == 0 {
			maxTimeout = route.MaxTimeoutSeconds
		}
		if maxTimeout == 0 {
			maxTimeout = 60
		}

		out = append(out, PaymentRequirements{
			Scheme:            scheme,
			Network:           network,
			PayTo:             payTo,
			Asset:             asset,
			Amount:            amount,
			MaxTimeoutSeconds: maxTimeout,
			Description:       route.Description,
			MimeType:          route.MimeType,
			Resource:          route.Resource,
			Extra:             mergeExtra(schemeExtra, extensionsExtra(route.Extensions), opt.Extra),
		})
	}
	return out, nil
}
