// Package resourceserver implements the resource-server engine (§4.6): the
// single public pipeline that turns a protected handler into a paid one by
// building PaymentRequirements, negotiating a 402, verifying and settling a
// client's payload via a facilitator, and attaching a settlement receipt.
//
// Grounded on CedrosPay's internal/paywall Service.Middleware (resolver ->
// AuthorizeWithWallet -> granted/402 branch), generalized from a single
// Solana-only authorization call into the full multi-scheme verify/settle
// dispatch the spec's registry (pkg/x402.Registry) and facilitator client
// (FacilitatorClient, facilitatorclient.go) now provide.
package resourceserver

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/x402-protocol/core/pkg/responders"
	"github.com/x402-protocol/core/pkg/x402"
	"github.com/x402-protocol/core/pkg/x402/extensions"
	"github.com/x402-protocol/core/pkg/x402/route"

	"github.com/x402-protocol/core/internal/metrics"
	"github.com/x402-protocol/core/internal/observability"
)

// Engine owns the compiled route table for every declared payable route and
// wraps a downstream http.Handler (the real framework mux) so that a
// matched request is gated on a verified-and-settled x402 payment before the
// downstream handler's response is ever written to the wire.
type Engine struct {
	Routes          *route.Table
	Facilitator     FacilitatorClient
	MoneyParsers    []x402.MoneyParser
	Extensions      *extensions.Registry
	Observability   *observability.Registry
	Metrics         *metrics.Metrics
	Logger          zerolog.Logger
	PaywallHTML     bool
	HeaderPaymentNames []string // header names tried in order when extracting a payload; defaults to X-PAYMENT, PAYMENT-SIGNATURE
}

// NewEngine constructs an Engine from its dependencies. Extensions,
// Observability, and Metrics may be nil; a nil value is treated as "no
// hooks registered" rather than panicking.
func NewEngine(routes *route.Table, facilitator FacilitatorClient, logger zerolog.Logger) *Engine {
	return &Engine{
		Routes:      routes,
		Facilitator: facilitator,
		Logger:      logger,
	}
}

func (e *Engine) headerNames() []string {
	if len(e.HeaderPaymentNames) > 0 {
		return e.HeaderPaymentNames
	}
	return []string{x402.HeaderPayment, x402.HeaderPaymentSignature}
}

// extractPaymentHeader reads the first recognized payment header present on
// r, case-insensitively, per §4.1/§6 ("Request header names accepted for
// the payload: X-PAYMENT, PAYMENT-SIGNATURE (case-insensitive)").
func (e *Engine) extractPaymentHeader(r *http.Request) string {
	for _, name := range e.headerNames() {
		if v := strings.TrimSpace(r.Header.Get(name)); v != "" {
			return v
		}
	}
	return ""
}

// Middleware wraps next (the real, framework-registered handler chain) with
// the x402 pipeline. A request whose method+path isn't a declared payable
// route passes through untouched (§4.6 step 1: "Miss -> forward unmodified").
func (e *Engine) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			e.handle(w, r, next)
		})
	}
}

func (e *Engine) handle(w http.ResponseWriter, r *http.Request, next http.Handler) {
	ctx := r.Context()
	started := time.Now()

	routeCfg, pattern, ok := e.Routes.Resolve(r)
	if !ok {
		next.ServeHTTP(w, r)
		return
	}

	if e.Observability != nil {
		e.Observability.EmitRouteMatched(ctx, observability.RouteMatchedEvent{
			Timestamp: time.Now(), Method: r.Method, Path: r.URL.Path, Resource: routeCfg.Resource,
		})
	}
	if e.Extensions != nil {
		decision, err := e.Extensions.Run(ctx, extensions.StageRouteMatched, extensions.Event{Route: routeCfg})
		if err != nil || decision.Abort {
			e.write402(w, routeCfg, r, x402.PaymentRequired{
				X402Version: x402.CurrentVersion,
				Error:       decision.AbortReason,
				Resource:    routeCfg.Resource,
			})
			return
		}
	}

	requirements, err := x402.BuildRequirements(routeCfg, e.MoneyParsers, nil)
	if err != nil {
		e.write402(w, routeCfg, r, x402.PaymentRequired{
			X402Version: x402.CurrentVersion,
			Error:       string(x402.ReasonInvalidPaymentRequirements),
			Resource:    routeCfg.Resource,
		})
		return
	}

	header := e.extractPaymentHeader(r)
	if header == "" {
		e.write402(w, routeCfg, r, x402.PaymentRequired{
			X402Version: x402.CurrentVersion,
			Accepts:     requirements,
			Resource:    routeCfg.Resource,
		})
		return
	}

	payload, err := x402.DecodePaymentPayload(header)
	if err != nil {
		e.write402(w, routeCfg, r, x402.PaymentRequired{
			X402Version: x402.CurrentVersion,
			Accepts:     requirements,
			Error:       string(x402.ReasonInvalidPayload),
			Resource:    routeCfg.Resource,
		})
		return
	}

	matched, matchedOK := matchRequirement(payload, requirements)
	if !matchedOK {
		e.write402(w, routeCfg, r, x402.PaymentRequired{
			X402Version: x402.CurrentVersion,
			Accepts:     requirements,
			Error:       string(x402.ReasonUnmatched),
			Resource:    routeCfg.Resource,
		})
		return
	}

	verifyResp, err := e.Facilitator.Verify(ctx, payload, matched)
	if err != nil || !verifyResp.IsValid {
		reason := verifyResp.InvalidReason
		if reason == "" {
			reason = x402.ReasonUnexpectedVerifyError
		}
		e.runFailureHooks(ctx, extensions.StageVerifyFailure, routeCfg, matched, payload, &verifyResp, nil, err)
		if e.Metrics != nil {
			e.Metrics.ObservePayment(r.Method, routeCfg.Resource, false, time.Since(started), 0, matched.Asset)
		}
		e.write402WithPayer(w, routeCfg, r, x402.PaymentRequired{
			X402Version: x402.CurrentVersion,
			Accepts:     requirements,
			Error:       string(reason),
			Resource:    routeCfg.Resource,
		}, verifyResp.Payer)
		return
	}

	if e.Extensions != nil {
		decision, err := e.Extensions.Run(ctx, extensions.StageBeforeExecution, extensions.Event{
			Route: routeCfg, Requirement: matched, Payload: payload, VerifyResult: &verifyResp,
		})
		if err != nil || decision.Abort {
			e.write402(w, routeCfg, r, x402.PaymentRequired{
				X402Version: x402.CurrentVersion,
				Accepts:     requirements,
				Error:       decision.AbortReason,
				Resource:    routeCfg.Resource,
			})
			return
		}
	}

	if routeCfg.StreamingSettleFirst {
		e.settleFirstThenStream(w, r, next, routeCfg, requirements, matched, payload)
		return
	}

	buf := newResponseBuffer()
	next.ServeHTTP(buf, r)

	if buf.statusCode >= 400 {
		// §4.6 step 9: handler's own error response is returned verbatim,
		// settlement is skipped entirely.
		buf.flush(w, nil)
		return
	}

	settleResp, err := e.Facilitator.Settle(ctx, payload, matched)
	if err != nil || !settleResp.Success {
		reason := settleResp.ErrorReason
		if reason == "" {
			reason = x402.ReasonUnexpectedSettleError
		}
		e.runFailureHooks(ctx, extensions.StageSettleFailure, routeCfg, matched, payload, &verifyResp, &settleResp, err)
		if e.Metrics != nil {
			e.Metrics.ObservePayment(r.Method, routeCfg.Resource, false, time.Since(started), 0, matched.Asset)
		}
		// The handler's body MUST NOT be returned on settle failure (§4.6
		// step 10, §7: "no unpaid content").
		e.write402WithPayer(w, routeCfg, r, x402.PaymentRequired{
			X402Version: x402.CurrentVersion,
			Accepts:     requirements,
			Error:       string(reason),
			Resource:    routeCfg.Resource,
		}, settleResp.Payer)
		return
	}

	encoded, encErr := x402.EncodeSettleResponse(settleResp)
	extra := make(http.Header)
	if encErr == nil {
		extra.Set(x402.HeaderPaymentResponse, encoded)
		extra.Add("Access-Control-Expose-Headers", x402.HeaderPaymentResponse+",PAYMENT-RESPONSE")
	}
	buf.flush(w, extra)

	if e.Metrics != nil {
		e.Metrics.ObservePayment(r.Method, routeCfg.Resource, true, time.Since(started), 0, matched.Asset)
	}

	if e.Extensions != nil {
		_, _ = e.Extensions.Run(ctx, extensions.StageAfterSettlement, extensions.Event{
			Route: routeCfg, Requirement: matched, Payload: payload, VerifyResult: &verifyResp, SettleResult: &settleResp,
		})
	}

	_ = pattern // retained for future per-pattern diagnostics; matching is by RouteConfig today
}

// settleFirstThenStream implements the §9 "settle-first" mode required for
// handlers that cannot buffer their response body (e.g. streaming
// responses): settlement runs before the handler is invoked at all, trading
// the "never pay for a failed handler" guarantee for the ability to stream.
func (e *Engine) settleFirstThenStream(w http.ResponseWriter, r *http.Request, next http.Handler, routeCfg x402.RouteConfig, requirements []x402.PaymentRequirements, matched x402.PaymentRequirements, payload x402.PaymentPayload) {
	ctx := r.Context()
	settleResp, err := e.Facilitator.Settle(ctx, payload, matched)
	if err != nil || !settleResp.Success {
		reason := settleResp.ErrorReason
		if reason == "" {
			reason = x402.ReasonUnexpectedSettleError
		}
		e.write402WithPayer(w, routeCfg, r, x402.PaymentRequired{
			X402Version: x402.CurrentVersion,
			Accepts:     requirements,
			Error:       string(reason),
			Resource:    routeCfg.Resource,
		}, settleResp.Payer)
		return
	}
	encoded, encErr := x402.EncodeSettleResponse(settleResp)
	if encErr == nil {
		w.Header().Set(x402.HeaderPaymentResponse, encoded)
		w.Header().Add("Access-Control-Expose-Headers", x402.HeaderPaymentResponse+",PAYMENT-RESPONSE")
	}
	next.ServeHTTP(w, r)
}

func (e *Engine) runFailureHooks(ctx context.Context, stage extensions.Stage, routeCfg x402.RouteConfig, matched x402.PaymentRequirements, payload x402.PaymentPayload, verify *x402.VerifyResponse, settle *x402.SettleResponse, err error) {
	if e.Extensions == nil {
		return
	}
	_, _ = e.Extensions.Run(ctx, stage, extensions.Event{
		Route: routeCfg, Requirement: matched, Payload: payload, VerifyResult: verify, SettleResult: settle, Err: err,
	})
}

// matchRequirement finds the single requirement whose scheme and
// CAIP-2-normalized network both equal payload's (§4.6 step 6).
func matchRequirement(payload x402.PaymentPayload, requirements []x402.PaymentRequirements) (x402.PaymentRequirements, bool) {
	for _, req := range requirements {
		if req.Scheme == payload.Scheme && req.Network == x402.NormalizeNetwork(payload.Network) {
			return req, true
		}
	}
	return x402.PaymentRequirements{}, false
}

func (e *Engine) write402(w http.ResponseWriter, routeCfg x402.RouteConfig, r *http.Request, body x402.PaymentRequired) {
	e.write402WithPayer(w, routeCfg, r, body, "")
}

func (e *Engine) write402WithPayer(w http.ResponseWriter, routeCfg x402.RouteConfig, r *http.Request, body x402.PaymentRequired, payer string) {
	if e.PaywallHTML && isBrowserRequest(r) {
		renderPaywall(w, body)
		return
	}

	if payer != "" {
		body.Payer = payer
	}

	if encoded, err := x402.EncodePaymentRequired(body); err == nil {
		w.Header().Set(x402.HeaderPaymentRequired, encoded)
	}
	w.Header().Add("Access-Control-Expose-Headers", x402.HeaderPaymentResponse+",PAYMENT-RESPONSE")
	responders.JSON(w, http.StatusPaymentRequired, body)
}
