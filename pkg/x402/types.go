// Package x402 implements the protocol machinery for the x402 HTTP
// micropayment protocol: the wire codec, scheme registry, route matcher,
// requirement builder, and the error taxonomy shared by the resource server,
// facilitator, and client engines built on top of it in internal/.
package x402

import "time"

// CurrentVersion is the protocol version this module emits by default.
// Decoders MUST also accept V1LegacyVersion for back-compat (§3).
const CurrentVersion = 2

// V1LegacyVersion is still accepted on decode, per the wire guarantee in §3.
const V1LegacyVersion = 1

// ResourceInfo describes the protected resource a payment unlocks.
type ResourceInfo struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// Extension carries a protocol extension's declared data plus an optional
// JSON schema. The core never validates Info against Schema — extensions are
// a passthrough carrier; validation is the extension's own responsibility.
type Extension struct {
	Info   map[string]any `json:"info,omitempty"`
	Schema map[string]any `json:"schema,omitempty"`
}

// PaymentRequirements is one accepted payment option, immutable once built
// for a request (§3).
type PaymentRequirements struct {
	Scheme            string         `json:"scheme"`
	Network           string         `json:"network"`
	PayTo             string         `json:"payTo"`
	Asset             string         `json:"asset"`
	Amount            string         `json:"amount"`
	MaxTimeoutSeconds int            `json:"maxTimeoutSeconds"`
	Description       string         `json:"description,omitempty"`
	MimeType          string         `json:"mimeType,omitempty"`
	Resource          string         `json:"resource,omitempty"`
	OutputSchema      map[string]any `json:"outputSchema,omitempty"`
	Extra             map[string]any `json:"extra,omitempty"`
}

// PaymentRequired is the body of a 402 response (§3, §6). Payer carries the
// address a failed Verify/Settle attributed the attempt to, when one was
// recoverable (§4.6 steps 7, 10); it is empty when the payload never decoded
// far enough to identify a sender.
type PaymentRequired struct {
	X402Version int                   `json:"x402Version"`
	Accepts     []PaymentRequirements `json:"accepts"`
	Error       string                `json:"error,omitempty"`
	Resource    string                `json:"resource,omitempty"`
	Payer       string                `json:"payer,omitempty"`
}

// PaymentPayload is what a client sends to satisfy a PaymentRequirements
// option (§3). Payload is an opaque, scheme-specific carrier: decoders keep
// it as json.RawMessage-compatible `any` until a scheme implementation
// unmarshals it into its own concrete type.
type PaymentPayload struct {
	X402Version int                  `json:"x402Version"`
	Scheme      string               `json:"scheme"`
	Network     string               `json:"network"`
	Payload     any                  `json:"payload"`
	Accepted    *PaymentRequirements `json:"accepted,omitempty"`
	Extensions  map[string]Extension `json:"extensions,omitempty"`
}

// VerifyResponse is returned by a facilitator's /verify endpoint (§3).
type VerifyResponse struct {
	IsValid       bool          `json:"isValid"`
	InvalidReason InvalidReason `json:"invalidReason,omitempty"`
	Payer         string        `json:"payer,omitempty"`
}

// SettleResponse is returned by a facilitator's /settle endpoint (§3).
type SettleResponse struct {
	Success     bool          `json:"success"`
	Transaction string        `json:"transaction,omitempty"`
	Network     string        `json:"network"`
	Payer       string        `json:"payer,omitempty"`
	ErrorReason InvalidReason `json:"errorReason,omitempty"`
}

// SupportedKind describes one (scheme, network) pair a facilitator handles,
// as returned from GET /supported (§4.7).
type SupportedKind struct {
	X402Version int            `json:"x402Version"`
	Scheme      string         `json:"scheme"`
	Network     string         `json:"network"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// SupportedResponse is the body of GET /supported (§4.7).
type SupportedResponse struct {
	Kinds      []SupportedKind `json:"kinds"`
	Extensions []string        `json:"extensions,omitempty"`
}

// RouteConfig declares the payment terms for a single protected route. Price
// may be a Money-style string ("$0.10") handled by the requirement builder's
// MoneyParser chain, or left empty with Accepts fully specifying the atomic
// amount per option.
type RouteConfig struct {
	Price             string
	Network           string
	PayTo             string
	MaxTimeoutSeconds int
	Description       string
	MimeType          string
	Resource          string
	Accepts           []AcceptOption
	Extensions        map[string]Extension

	// StreamingSettleFirst forces settle-before-handler semantics for
	// handlers that cannot buffer their response body (§9 design notes).
	StreamingSettleFirst bool
}

// AcceptOption is one scheme/network the route is willing to accept payment
// through; zero value means "use RouteConfig.Price/Network with the exact
// scheme, USDC fallback".
type AcceptOption struct {
	Scheme            string
	Network           string
	PayTo             string // overrides RouteConfig.PayTo for this option
	MaxTimeoutSeconds int    // overrides RouteConfig.MaxTimeoutSeconds for this option
	Asset             string // explicit asset override; empty uses the network's canonical stablecoin
	Amount            string // explicit atomic amount; empty derives from RouteConfig.Price
	Decimals          int
	Extra             map[string]any
}

// NonceRecord is a replay-protection tuple a facilitator may remember for the
// duration of a scheme's validity window (§3, §5, §9).
type NonceRecord struct {
	Payer     string
	Scheme    string
	Nonce     string
	ExpiresAt time.Time
}
