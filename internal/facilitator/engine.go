// Package facilitator implements the settlement-side HTTP surface (§4.7):
// GET /supported, POST /verify, POST /settle. A facilitator holds relay
// credentials and RPC connectivity for every chain it settles on; resource
// servers that do not run their own facilitator call this surface remotely
// via internal/resourceserver's RemoteFacilitator (facilitatorclient.go) instead.
//
// Grounded on CedrosPay's pkg/x402/solana verifier/settler pair generalized
// from one hardcoded chain to a registry dispatch, and on
// internal/circuitbreaker.Manager for per-service bulkhead isolation around
// each scheme's RPC calls, exactly as the teacher wraps Solana RPC calls.
package facilitator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/x402-protocol/core/internal/circuitbreaker"
	"github.com/x402-protocol/core/internal/config"
	"github.com/x402-protocol/core/internal/metrics"
	"github.com/x402-protocol/core/internal/noncestore"
	"github.com/x402-protocol/core/internal/observability"
	"github.com/x402-protocol/core/internal/receiptstore"
	"github.com/x402-protocol/core/pkg/x402"
	"github.com/x402-protocol/core/pkg/x402/schemes/negotiated"
)

// Engine dispatches /verify and /settle calls to the scheme registered for a
// payload's (scheme, network), wrapping RPC-bound work in a circuit breaker
// and consulting the nonce store for replay protection.
type Engine struct {
	Registry   *x402.Registry
	Breaker    *circuitbreaker.Manager
	Nonces     noncestore.Store
	Metrics    *metrics.Metrics
	Hooks      *observability.Registry
	Logger     zerolog.Logger
	VerifyTTL  time.Duration
	SettleTTL  time.Duration

	// Negotiator runs Negotiated-scheme pricing rounds (§4.5.10). Left nil,
	// POST /negotiate reports the scheme unsupported instead of panicking.
	Negotiator *negotiated.Engine

	// Receipts records every successful settlement for audit and
	// reconciliation. Left nil, Settle simply skips recording.
	Receipts receiptstore.Store
}

// NewEngine builds a facilitator engine from its dependencies. breaker,
// nonces, m, and hooks may be nil; a nil breaker executes unwrapped, a nil
// nonce store skips replay protection (only appropriate for a pure-negotiate
// facilitator), a nil metrics/hooks silently no-ops.
func NewEngine(reg *x402.Registry, breaker *circuitbreaker.Manager, nonces noncestore.Store, m *metrics.Metrics, hooks *observability.Registry, logger zerolog.Logger, cfg config.FacilitatorConfig) *Engine {
	return &Engine{
		Registry:  reg,
		Breaker:   breaker,
		Nonces:    nonces,
		Metrics:   m,
		Hooks:     hooks,
		Logger:    logger,
		VerifyTTL: cfg.VerifyTimeout.Duration,
		SettleTTL: cfg.SettleTimeout.Duration,
	}
}

// serviceFor maps a CAIP-2 network's family to the circuit breaker's
// ServiceType bulkhead, so an Aptos RPC outage cannot trip Solana's breaker.
func serviceFor(network string) circuitbreaker.ServiceType {
	switch x402.ParseFamily(network) {
	case x402.FamilyEVM:
		return circuitbreaker.ServiceEVMRPC
	case x402.FamilySolana:
		return circuitbreaker.ServiceSolanaRPC
	case x402.FamilyAptos:
		return circuitbreaker.ServiceAptosRPC
	case x402.FamilyNEAR:
		return circuitbreaker.ServiceNEARRPC
	case x402.FamilyHedera:
		return circuitbreaker.ServiceHederaRPC
	case x402.FamilyHyperliquid:
		return circuitbreaker.ServiceHyperliquid
	case x402.FamilyLightning:
		return circuitbreaker.ServiceLightning
	case x402.FamilyCashu:
		return circuitbreaker.ServiceCashuMint
	default:
		return circuitbreaker.ServiceEVMRPC
	}
}

func (e *Engine) execute(service circuitbreaker.ServiceType, fn func() (interface{}, error)) (interface{}, error) {
	if e.Breaker == nil {
		return fn()
	}
	return e.Breaker.Execute(service, fn)
}

// Supported builds the GET /supported response: every registered
// (scheme, network) pair, plus any ExtraProvider-contributed per-network
// metadata (§4.5, §4.7).
func (e *Engine) Supported() x402.SupportedResponse {
	kinds := e.Registry.Supported()
	for i, kind := range kinds {
		sk, err := e.Registry.Resolve(kind.Scheme, kind.Network)
		if err != nil {
			continue
		}
		if provider, ok := sk.Facilitator.(x402.ExtraProvider); ok {
			kinds[i].Extra = provider.GetExtra(kind.Network)
		}
	}
	return x402.SupportedResponse{Kinds: kinds}
}

// Negotiate runs one Negotiated-scheme pricing round (§4.5.10) against
// req's embedded Terms, returning accepted/counter/rejected. It never
// touches the nonce store or settles funds; acceptance only tells the
// caller to re-dispatch payload.Payload's Settlement field through Verify
// and Settle for the negotiated network's underlying exact scheme.
func (e *Engine) Negotiate(ctx context.Context, payload x402.PaymentPayload, req x402.PaymentRequirements) (negotiated.Outcome, error) {
	if e.Negotiator == nil {
		return negotiated.Outcome{}, x402.NewVerifyError(x402.ReasonUnsupportedScheme, errors.New("facilitator: negotiation not configured"))
	}
	return e.Negotiator.Negotiate(ctx, payload, req)
}

// Verify resolves payload's scheme/network and runs the facilitator's
// Verify, pure and side-effect free: the nonce store is neither consulted nor
// written here; Settle reserves the nonce (§4.7: "/verify MUST NOT have side
// effects").
func (e *Engine) Verify(ctx context.Context, payload x402.PaymentPayload, req x402.PaymentRequirements) (x402.VerifyResponse, error) {
	if e.VerifyTTL > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.VerifyTTL)
		defer cancel()
	}

	if err := x402.ValidatePaymentPayload(payload); err != nil {
		return x402.VerifyResponse{IsValid: false, InvalidReason: reasonOf(err)}, nil
	}

	sk, err := e.Registry.Resolve(payload.Scheme, payload.Network)
	if err != nil {
		return x402.VerifyResponse{IsValid: false, InvalidReason: x402.ReasonUnsupportedScheme}, nil
	}
	if sk.Facilitator == nil {
		return x402.VerifyResponse{IsValid: false, InvalidReason: x402.ReasonUnsupportedScheme}, nil
	}

	started := time.Now()
	if e.Hooks != nil {
		e.Hooks.EmitVerifyStarted(ctx, observability.VerifyStartedEvent{
			Timestamp: started, Scheme: payload.Scheme, Network: payload.Network,
			Resource: req.Resource, Amount: req.Amount, Asset: req.Asset,
		})
	}

	result, execErr := e.execute(serviceFor(payload.Network), func() (interface{}, error) {
		return sk.Facilitator.Verify(ctx, payload, req)
	})

	var resp x402.VerifyResponse
	if execErr != nil {
		resp = x402.VerifyResponse{IsValid: false, InvalidReason: reasonOf(execErr)}
	} else {
		resp = result.(x402.VerifyResponse)
	}

	if e.Hooks != nil {
		e.Hooks.EmitVerifyCompleted(ctx, observability.VerifyCompletedEvent{
			Timestamp: time.Now(), Scheme: payload.Scheme, Network: payload.Network, Resource: req.Resource,
			IsValid: resp.IsValid, InvalidReason: string(resp.InvalidReason), Payer: resp.Payer,
			Duration: time.Since(started),
		})
	}
	if e.Metrics != nil {
		if !resp.IsValid {
			e.Metrics.ObservePaymentFailure(payload.Scheme, req.Resource, string(resp.InvalidReason))
		}
	}
	return resp, nil
}

// Settle re-verifies payload (facilitators must never trust a verify result
// that may be stale by the time settlement runs, §4.7), reserves its nonce,
// and submits the relay transaction. A settlement failure releases the
// reservation so the same authorization can be retried.
func (e *Engine) Settle(ctx context.Context, payload x402.PaymentPayload, req x402.PaymentRequirements) (x402.SettleResponse, error) {
	if e.SettleTTL > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.SettleTTL)
		defer cancel()
	}

	verifyResp, err := e.Verify(ctx, payload, req)
	if err != nil {
		return x402.SettleResponse{Success: false, Network: payload.Network, ErrorReason: reasonOf(err)}, nil
	}
	if !verifyResp.IsValid {
		return x402.SettleResponse{Success: false, Network: payload.Network, ErrorReason: verifyResp.InvalidReason, Payer: verifyResp.Payer}, nil
	}

	sk, err := e.Registry.Resolve(payload.Scheme, payload.Network)
	if err != nil {
		return x402.SettleResponse{Success: false, Network: payload.Network, ErrorReason: x402.ReasonUnsupportedScheme}, nil
	}

	nonce := nonceOf(payload)
	var reserved bool
	if e.Nonces != nil && nonce != "" {
		expiresAt := time.Now().Add(10 * time.Minute)
		reserveStart := time.Now()
		reserved, err = e.Nonces.Reserve(ctx, verifyResp.Payer, payload.Scheme, nonce, expiresAt)
		if e.Metrics != nil {
			e.Metrics.ObserveNonceReservation(nonceBackend(e.Nonces), reserved, time.Since(reserveStart))
		}
		if err != nil {
			return x402.SettleResponse{Success: false, Network: payload.Network, ErrorReason: x402.ReasonUnexpectedSettleError}, nil
		}
		if !reserved {
			return x402.SettleResponse{Success: false, Network: payload.Network, ErrorReason: x402.ReasonNonceMismatch, Payer: verifyResp.Payer}, nil
		}
	}

	started := time.Now()
	if e.Hooks != nil {
		e.Hooks.EmitSettleStarted(ctx, observability.SettleStartedEvent{
			Timestamp: started, Scheme: payload.Scheme, Network: payload.Network, Resource: req.Resource, Payer: verifyResp.Payer,
		})
	}

	result, execErr := e.execute(serviceFor(payload.Network), func() (interface{}, error) {
		return sk.Facilitator.Settle(ctx, payload, req)
	})

	var resp x402.SettleResponse
	if execErr != nil {
		resp = x402.SettleResponse{Success: false, Network: payload.Network, ErrorReason: reasonOf(execErr), Payer: verifyResp.Payer}
	} else {
		resp = result.(x402.SettleResponse)
	}

	if !resp.Success && reserved && e.Nonces != nil {
		releaseStart := time.Now()
		_ = e.Nonces.Release(ctx, verifyResp.Payer, payload.Scheme, nonce)
		if e.Metrics != nil {
			e.Metrics.ObserveNonceRelease(nonceBackend(e.Nonces), time.Since(releaseStart))
		}
	}

	if e.Hooks != nil {
		e.Hooks.EmitSettleCompleted(ctx, observability.SettleCompletedEvent{
			Timestamp: time.Now(), Scheme: payload.Scheme, Network: payload.Network, Resource: req.Resource,
			Success: resp.Success, ErrorReason: string(resp.ErrorReason), Payer: resp.Payer, TransactionID: resp.Transaction,
			Duration: time.Since(started),
		})
	}
	if e.Metrics != nil {
		e.Metrics.ObserveSettlement(payload.Network, time.Since(started))
		if !resp.Success {
			e.Metrics.ObservePaymentFailure(payload.Scheme, req.Resource, string(resp.ErrorReason))
		}
	}

	if resp.Success && e.Receipts != nil {
		recordErr := e.Receipts.Record(ctx, receiptstore.Receipt{
			Scheme:        payload.Scheme,
			Network:       resp.Network,
			Payer:         resp.Payer,
			Resource:      req.Resource,
			Amount:        req.Amount,
			Asset:         req.Asset,
			TransactionID: resp.Transaction,
			SettledAt:     time.Now(),
		})
		if recordErr != nil {
			e.Logger.Warn().Err(recordErr).Msg("facilitator.receipt_record_failed")
		}
	}

	return resp, nil
}

// nonceOf extracts the scheme-agnostic nonce a payload carries, when its
// payload shape is the common map[string]any decode. Schemes whose payload
// has no nonce concept (e.g. Cashu proofs, which are single-use by
// construction) return "", skipping reservation.
func nonceOf(payload x402.PaymentPayload) string {
	raw, ok := payload.Payload.(map[string]any)
	if !ok {
		return ""
	}
	if auth, ok := raw["authorization"].(map[string]any); ok {
		if n, ok := auth["nonce"].(string); ok {
			return n
		}
	}
	if n, ok := raw["nonce"].(string); ok {
		return n
	}
	return ""
}

func nonceBackend(s noncestore.Store) string {
	return fmt.Sprintf("%T", s)
}

func reasonOf(err error) x402.InvalidReason {
	var verr *x402.VerifyError
	if errors.As(err, &verr) {
		return verr.Reason
	}
	return x402.ReasonUnexpectedVerifyError
}
