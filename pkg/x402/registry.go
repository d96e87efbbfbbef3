package x402

import (
	"context"
	"fmt"
	"sync"
)

// SchemeClient is the client-side face of a scheme: given a selected
// PaymentRequirements and a signer context, produce the payload to attach to
// the retried request.
type SchemeClient interface {
	Sign(ctx context.Context, req PaymentRequirements, signerRef string) (PaymentPayload, error)
}

// SchemeFacilitator is the facilitator-side face of a scheme: verify and
// settle a payload against a requirement.
type SchemeFacilitator interface {
	Verify(ctx context.Context, payload PaymentPayload, req PaymentRequirements) (VerifyResponse, error)
	Settle(ctx context.Context, payload PaymentPayload, req PaymentRequirements) (SettleResponse, error)
}

// SchemeServer is the resource-server face of a scheme: build the
// PaymentRequirements for a route given its configured price.
type SchemeServer interface {
	BuildRequirement(route RouteConfig, opt AcceptOption) (PaymentRequirements, error)
}

// ExtraProvider is an optional capability a SchemeFacilitator may implement
// to contribute network-specific fields (e.g. EIP-712 domain name/version,
// an Aptos/Hedera fee-payer address) to GET /supported's per-kind "extra"
// object (§4.5, §4.7: "extra per network is built by calling each scheme's
// getExtra(network)").
type ExtraProvider interface {
	GetExtra(network string) map[string]any
}

// SignerProvider is an optional capability a SchemeFacilitator may implement
// to expose the set of addresses/accounts it signs settlements from, so a
// scheme's own Verify can refuse a sender that is also a configured signer
// (self-draining protection, e.g. §4.5.4 Aptos fee-payer rule).
type SignerProvider interface {
	GetSigners(network string) []string
}

// SchemeKind bundles a scheme's three faces. A scheme package registers one
// of these per supported network (or network family) via Register.
type SchemeKind struct {
	Scheme      string
	Network     string // exact CAIP-2 network, or "" to register as a family wildcard
	Family      NetworkFamily
	Client      SchemeClient
	Facilitator SchemeFacilitator
	Server      SchemeServer
}

// registryKey is (scheme, exact network) or (scheme, family-wildcard).
type registryKey struct {
	scheme  string
	network string
}

// Registry resolves (scheme, network) pairs to scheme implementations with
// exact-match precedence over family-wildcard precedence (§4.2). There is no
// protocol-wildcard-with-scheme-wildcard: a scheme must always be named.
type Registry struct {
	mu        sync.RWMutex
	exact     map[registryKey]SchemeKind
	wildcards map[string]map[NetworkFamily]SchemeKind // scheme -> family -> kind
}

// NewRegistry constructs an empty scheme registry.
func NewRegistry() *Registry {
	return &Registry{
		exact:     make(map[registryKey]SchemeKind),
		wildcards: make(map[string]map[NetworkFamily]SchemeKind),
	}
}

// Register adds a scheme kind. A kind with Network set registers an exact
// match; a kind with Network == "" and Family set registers a family
// wildcard. Re-registering the same exact key returns a RegistryError.
func (r *Registry) Register(kind SchemeKind) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if kind.Scheme == "" {
		return &RegistryError{Reason: ReasonUnsupportedScheme, Scheme: kind.Scheme, Network: kind.Network}
	}

	if kind.Network != "" {
		key := registryKey{scheme: kind.Scheme, network: kind.Network}
		if _, exists := r.exact[key]; exists {
			return &RegistryError{Reason: ReasonAlreadyRegistered, Scheme: kind.Scheme, Network: kind.Network}
		}
		r.exact[key] = kind
		return nil
	}

	if kind.Family == FamilyUnknown {
		return &RegistryError{Reason: ReasonInvalidNetwork, Scheme: kind.Scheme}
	}
	byFamily, ok := r.wildcards[kind.Scheme]
	if !ok {
		byFamily = make(map[NetworkFamily]SchemeKind)
		r.wildcards[kind.Scheme] = byFamily
	}
	if _, exists := byFamily[kind.Family]; exists {
		return &RegistryError{Reason: ReasonAlreadyRegistered, Scheme: kind.Scheme, Network: string(kind.Family)}
	}
	byFamily[kind.Family] = kind
	return nil
}

// Resolve looks up the scheme kind for (scheme, network), trying an exact
// match first and falling back to the scheme's family wildcard.
func (r *Registry) Resolve(scheme, network string) (SchemeKind, error) {
	network = NormalizeNetwork(network)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if kind, ok := r.exact[registryKey{scheme: scheme, network: network}]; ok {
		return kind, nil
	}
	family := ParseFamily(network)
	if byFamily, ok := r.wildcards[scheme]; ok {
		if kind, ok := byFamily[family]; ok {
			return kind, nil
		}
	}
	return SchemeKind{}, &RegistryError{Reason: ReasonUnsupportedScheme, Scheme: scheme, Network: network}
}

// Supported returns every (scheme, network) pair currently registered, for
// the facilitator's GET /supported endpoint (§4.7). Wildcard registrations
// contribute their declared Family as a synthetic network entry rather than
// enumerating every network in that family, since the registry itself does
// not know the closed set of networks a family covers.
func (r *Registry) Supported() []SupportedKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]SupportedKind, 0, len(r.exact)+len(r.wildcards))
	for key := range r.exact {
		out = append(out, SupportedKind{X402Version: CurrentVersion, Scheme: key.scheme, Network: key.network})
	}
	for scheme, byFamily := range r.wildcards {
		for family, kind := range byFamily {
			_ = kind
			out = append(out, SupportedKind{X402Version: CurrentVersion, Scheme: scheme, Network: fmt.Sprintf("%s:*", family)})
		}
	}
	return out
}
