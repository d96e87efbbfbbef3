// Package x402client implements the client-side payment-flow engine (§4.9):
// detect a 402, pick a satisfiable PaymentRequirements, sign a payload via a
// scheme registered client-side, retry the request exactly once with the
// encoded payload attached, and decode the settlement receipt.
//
// Grounded on internal/rpcutil.WithRetry's explicit attempt-counting shape
// (CedrosPay's only existing HTTP retry idiom), but the retry-once guard
// here is protocol-mandated rather than a transient-error backoff, so it is
// a purpose-built loop rather than a reuse of WithRetry's exponential-backoff
// policy.
package x402client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"

	"github.com/x402-protocol/core/pkg/x402"
)

// PaymentPreferences narrows the selector's choice among multiple
// satisfiable PaymentRequirements (§4.9 step 4).
type PaymentPreferences struct {
	PreferredNetwork string
	PreferredAsset   string
}

// Selector picks one PaymentRequirements to satisfy from accepts, or reports
// false if none is acceptable. The default selector prefers a registered
// client, a budget-satisfying amount, and the caller's preferences, in that
// order; callers needing custom logic (e.g. cheapest-first) supply their
// own.
type Selector func(accepts []x402.PaymentRequirements, registry *x402.Registry, prefs PaymentPreferences, maxValue *big.Int) (x402.PaymentRequirements, bool)

// DefaultSelector implements the §4.9 step 4 selection rule: "prefer the
// option whose (scheme, network) has a registered client, whose amount <=
// maxValue, and that matches the user's PaymentPreferences when set."
func DefaultSelector(accepts []x402.PaymentRequirements, registry *x402.Registry, prefs PaymentPreferences, maxValue *big.Int) (x402.PaymentRequirements, bool) {
	var best x402.PaymentRequirements
	var bestScore int
	found := false

	for _, req := range accepts {
		kind, err := registry.Resolve(req.Scheme, req.Network)
		if err != nil || kind.Client == nil {
			continue
		}
		amount, err := x402.AmountToBigInt(req.Amount)
		if err != nil {
			continue
		}
		if maxValue != nil && amount.Cmp(maxValue) > 0 {
			continue
		}

		score := 0
		if prefs.PreferredNetwork != "" && req.Network == x402.NormalizeNetwork(prefs.PreferredNetwork) {
			score += 2
		}
		if prefs.PreferredAsset != "" && req.Asset == prefs.PreferredAsset {
			score += 1
		}

		if !found || score > bestScore {
			best, bestScore, found = req, score, true
		}
	}
	return best, found
}

// Client drives the 402-detect/select/sign/retry-once flow for a single
// http.Client. One Client is safe to reuse across requests; it holds no
// per-request state.
type Client struct {
	HTTPClient  *http.Client
	Registry    *x402.Registry
	SignerRef   string
	MaxValue    *big.Int // nil means unlimited
	Preferences PaymentPreferences
	Selector    Selector
}

// New builds a Client with the default selector and http.DefaultClient.
func New(registry *x402.Registry, signerRef string) *Client {
	return &Client{
		HTTPClient: http.DefaultClient,
		Registry:   registry,
		SignerRef:  signerRef,
		Selector:   DefaultSelector,
	}
}

// Result carries the final response plus the decoded settlement receipt, if
// the server attached one.
type Result struct {
	Response *http.Response
	Settle   *x402.SettleResponse
}

// ClientError reports a payment-flow-specific failure with a stable
// InvalidReason tag, distinct from transport errors.
type ClientError struct {
	Reason x402.InvalidReason
	Detail string
}

func (e *ClientError) Error() string {
	if e.Detail == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

// NewRequest builds the *http.Request for one attempt, given the immutable
// request body bytes (so the client can resend it on retry without the
// caller needing to manage io.Reader replay itself).
type NewRequest func(ctx context.Context) (*http.Request, error)

// Do executes the 402-aware request/retry flow (§4.9):
//  1. Issue newReq().
//  2. If not 402, return immediately.
//  3. Parse PaymentRequired from headers (preferred) or body.
//  4. Select a satisfiable requirement.
//  5. Sign a payload for it via the registry's client-side scheme face.
//  6. Encode the payload onto a fresh request and retry exactly once.
//  7. A second 402 is terminal: ClientError{Reason: ReasonPaymentRejected}.
func (c *Client) Do(ctx context.Context, newReq NewRequest) (*Result, error) {
	req, err := newReq(ctx)
	if err != nil {
		return nil, fmt.Errorf("x402client: build request: %w", err)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("x402client: initial request: %w", err)
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return &Result{Response: resp}, nil
	}

	required, err := parsePaymentRequired(resp)
	closeBody(resp)
	if err != nil {
		return nil, fmt.Errorf("x402client: parse 402 response: %w", err)
	}

	selector := c.Selector
	if selector == nil {
		selector = DefaultSelector
	}
	chosen, ok := selector(required.Accepts, c.Registry, c.Preferences, c.MaxValue)
	if !ok {
		return nil, &ClientError{Reason: x402.ReasonExceedsMaxValue, Detail: "no accepted requirement is satisfiable within budget"}
	}

	kind, err := c.Registry.Resolve(chosen.Scheme, chosen.Network)
	if err != nil || kind.Client == nil {
		return nil, &ClientError{Reason: x402.ReasonUnsupportedScheme, Detail: fmt.Sprintf("no client registered for %s/%s", chosen.Scheme, chosen.Network)}
	}

	payload, err := kind.Client.Sign(ctx, chosen, c.SignerRef)
	if err != nil {
		return nil, fmt.Errorf("x402client: sign payload: %w", err)
	}
	payload.Accepted = &chosen

	encoded, err := x402.EncodePaymentPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("x402client: encode payload: %w", err)
	}

	retryReq, err := newReq(ctx)
	if err != nil {
		return nil, fmt.Errorf("x402client: build retry request: %w", err)
	}
	retryReq.Header.Set(x402.HeaderPayment, encoded)

	retryResp, err := c.httpClient().Do(retryReq)
	if err != nil {
		return nil, fmt.Errorf("x402client: retry request: %w", err)
	}
	if retryResp.StatusCode == http.StatusPaymentRequired {
		// Loop guard (§4.9 step 7-8): a request that has been retried once
		// and receives 402 again is terminated, never retried a second time.
		retriedRequired, parseErr := parsePaymentRequired(retryResp)
		closeBody(retryResp)
		reason := ""
		if parseErr == nil {
			reason = retriedRequired.Error
		}
		return nil, &ClientError{Reason: x402.ReasonPaymentRejected, Detail: reason}
	}

	result := &Result{Response: retryResp}
	if settleHeader := firstHeader(retryResp.Header, x402.HeaderPaymentResponse, "PAYMENT-RESPONSE"); settleHeader != "" {
		if settle, err := x402.DecodeSettleResponse(settleHeader); err == nil {
			result.Settle = &settle
		}
	}
	return result, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// parsePaymentRequired prefers the PAYMENT-REQUIRED header (so programmatic
// clients needn't parse an HTML paywall body, §4.1) and falls back to a JSON
// body.
func parsePaymentRequired(resp *http.Response) (x402.PaymentRequired, error) {
	if header := firstHeader(resp.Header, x402.HeaderPaymentRequired, "Payment-Required"); header != "" {
		return x402.DecodePaymentRequired(header)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8192))
	if err != nil {
		return x402.PaymentRequired{}, fmt.Errorf("x402client: read 402 body: %w", err)
	}
	var required x402.PaymentRequired
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&required); err != nil {
		return x402.PaymentRequired{}, x402.NewVerifyError(x402.ReasonInvalidPayload, err)
	}
	return required, nil
}

func firstHeader(h http.Header, names ...string) string {
	for _, name := range names {
		if v := h.Get(name); v != "" {
			return v
		}
	}
	return ""
}

func closeBody(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		_ = resp.Body.Close()
	}
}
