package x402

import (
	"fmt"
	"strconv"
	"strings"
)

// NetworkFamily identifies the ledger family a CAIP-2 network belongs to.
// The scheme registry dispatches on (scheme, family) for wildcard lookups.
type NetworkFamily string

const (
	FamilyEVM         NetworkFamily = "eip155"
	FamilySolana      NetworkFamily = "solana"
	FamilyAptos       NetworkFamily = "aptos"
	FamilyNEAR        NetworkFamily = "near"
	FamilyHedera      NetworkFamily = "hedera"
	FamilyHyperliquid NetworkFamily = "hyperliquid"
	FamilyLightning   NetworkFamily = "btc-lightning"
	FamilyCashu       NetworkFamily = "cashu"
	FamilyUnknown     NetworkFamily = ""
)

// legacyNetworkAliases maps x402 v1 network names to their CAIP-2 equivalent.
// The core only ever keys on CAIP-2; aliases are resolved once at ingress
// (wire decode, requirement building), never re-checked deeper in the stack.
var legacyNetworkAliases = map[string]string{
	"base":             "eip155:8453",
	"base-sepolia":     "eip155:84532",
	"polygon":          "eip155:137",
	"polygon-amoy":     "eip155:80002",
	"avalanche":        "eip155:43114",
	"avalanche-fuji":   "eip155:43113",
	"ethereum":         "eip155:1",
	"sepolia":          "eip155:11155111",
	"solana":           "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp",
	"solana-devnet":    "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1",
	"aptos":            "aptos:1",
	"aptos-testnet":    "aptos:2",
	"near":             "near-mainnet",
	"near-testnet":     "near-testnet",
	"hedera":           "hedera:mainnet",
	"hedera-testnet":   "hedera:testnet",
	"hyperliquid":      "hyperliquid:mainnet",
	"lightning":        "btc-lightning-mainnet",
	"lightning-signet": "btc-lightning-signet",
}

// NormalizeNetwork resolves a v1 legacy alias or passes through an already
// CAIP-2-formatted identifier unchanged. Core components must call this once
// at ingress (wire decode / requirement build) and key everything else on the
// returned CAIP-2 string.
func NormalizeNetwork(network string) string {
	if canonical, ok := legacyNetworkAliases[network]; ok {
		return canonical
	}
	return network
}

// ParseFamily extracts the namespace portion of a CAIP-2 identifier and maps
// it to a NetworkFamily. Unrecognized namespaces return FamilyUnknown.
func ParseFamily(network string) NetworkFamily {
	idx := strings.IndexByte(network, ':')
	namespace := network
	if idx >= 0 {
		namespace = network[:idx]
	}
	switch {
	case namespace == "eip155":
		return FamilyEVM
	case namespace == "solana":
		return FamilySolana
	case namespace == "aptos":
		return FamilyAptos
	case namespace == "near" || strings.HasPrefix(network, "near-"):
		return FamilyNEAR
	case namespace == "hedera":
		return FamilyHedera
	case namespace == "hyperliquid":
		return FamilyHyperliquid
	case strings.HasPrefix(network, "btc-lightning"):
		return FamilyLightning
	case namespace == "cashu":
		return FamilyCashu
	default:
		return FamilyUnknown
	}
}

// ValidateCAIP2 checks that network is a syntactically valid CAIP-2 string
// (namespace:reference, both non-empty). It does not check that the family is
// one the registry actually supports — that's the registry's job.
func ValidateCAIP2(network string) error {
	if network == "" {
		return fmt.Errorf("%w: empty network", errInvalidNetwork)
	}
	parts := strings.SplitN(network, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		// A handful of families (NEAR) are conventionally hyphenated rather
		// than colon-delimited; accept those verbatim.
		if ParseFamily(network) == FamilyNEAR {
			return nil
		}
		return fmt.Errorf("%w: %q is not a valid CAIP-2 identifier", errInvalidNetwork, network)
	}
	return nil
}

// EVMChainID extracts the numeric chain id from an eip155 CAIP-2 network.
func EVMChainID(network string) (int64, error) {
	if ParseFamily(network) != FamilyEVM {
		return 0, fmt.Errorf("%w: not an eip155 network: %s", errInvalidNetwork, network)
	}
	parts := strings.SplitN(network, ":", 2)
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid chain id %q", errInvalidNetwork, parts[1])
	}
	return id, nil
}

var errInvalidNetwork = fmt.Errorf("x402: %s", ReasonInvalidNetwork)
