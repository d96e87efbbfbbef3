// Package negotiated implements the Negotiated pricing scheme (§4.5.10): the
// server's PaymentRequirements advertise a baseAmount, a minAcceptable floor,
// and a maxIterations budget; the client proposes a price, and a pricing
// strategy on the facilitator side accepts, counters, or rejects across up
// to maxIterations rounds. Once accepted, settlement is delegated to the
// underlying exact-scheme facilitator for the negotiated network/asset.
//
// Grounded on CedrosPay's internal/money pricing strategy pattern (pluggable
// Money -> Money transforms) for the counter-offer step, and on
// pkg/x402/registry.go's exact/wildcard resolution for picking the
// underlying settlement scheme once a price is agreed.
package negotiated

import (
	"context"
	"errors"
	"math/big"

	"github.com/x402-protocol/core/pkg/x402"
)

// Status is the outcome of one negotiation round.
type Status string

const (
	StatusAccepted Status = "accepted"
	StatusCounter  Status = "counter"
	StatusRejected Status = "rejected"
)

// Proposal is the client's offer for one negotiation round, carried as the
// exact-scheme-agnostic payload of a PaymentPayload with Scheme "negotiated".
type Proposal struct {
	ProposedAmount string `json:"proposedAmount"`
	Iteration      int    `json:"iteration"`
	// Settlement carries the eventual exact-scheme payload the client will
	// submit once a price is accepted (e.g. a signed EIP-3009 authorization
	// built against the negotiated amount).
	Settlement x402.PaymentPayload `json:"settlement"`
}

// Outcome is returned to the client after one negotiation round.
type Outcome struct {
	Status              Status `json:"status"`
	CounterAmount       string `json:"counterAmount,omitempty"`
	RemainingIterations int    `json:"remainingIterations"`
	FinalAmount         string `json:"finalAmount,omitempty"`
}

// Terms are the negotiation-specific fields carried in
// PaymentRequirements.Extra for the negotiated scheme.
type Terms struct {
	BaseAmount    string `json:"baseAmount"`
	MinAcceptable string `json:"minAcceptable"`
	MaxIterations int    `json:"maxIterations"`
}

func decodeProposal(payload x402.PaymentPayload) (Proposal, error) {
	raw, ok := payload.Payload.(map[string]any)
	if !ok {
		return Proposal{}, x402.NewVerifyError(x402.ReasonInvalidPayload, errors.New("negotiated payload is not an object"))
	}
	proposed, _ := raw["proposedAmount"].(string)
	iteration, _ := raw["iteration"].(float64)
	if proposed == "" {
		return Proposal{}, x402.NewVerifyError(x402.ReasonInvalidPayload, errors.New("negotiated payload missing proposedAmount"))
	}
	return Proposal{ProposedAmount: proposed, Iteration: int(iteration)}, nil
}

func decodeTerms(req x402.PaymentRequirements) (Terms, error) {
	if req.Extra == nil {
		return Terms{}, errors.New("negotiated requirement missing extra terms")
	}
	base, _ := req.Extra["baseAmount"].(string)
	min, _ := req.Extra["minAcceptable"].(string)
	maxIter, _ := req.Extra["maxIterations"].(float64)
	if base == "" || min == "" {
		return Terms{}, errors.New("negotiated requirement missing baseAmount or minAcceptable")
	}
	return Terms{BaseAmount: base, MinAcceptable: min, MaxIterations: int(maxIter)}, nil
}

// PricingStrategy decides how to respond to a client's proposal. The default
// strategy accepts anything at or above minAcceptable and otherwise counters
// half-way between the proposal and minAcceptable, following the same
// "meet in the middle" shape CedrosPay's discount-code pricing adapter uses.
type PricingStrategy interface {
	Evaluate(terms Terms, proposed string, iteration int) (Outcome, error)
}

// MidpointStrategy counters with the midpoint between the client's
// proposal and minAcceptable, accepting once the proposal clears
// minAcceptable and rejecting once iterations run out.
type MidpointStrategy struct{}

func (MidpointStrategy) Evaluate(terms Terms, proposed string, iteration int) (Outcome, error) {
	remaining := terms.MaxIterations - iteration
	atFloor, err := x402.AmountAtLeast(proposed, terms.MinAcceptable)
	if err != nil {
		return Outcome{}, err
	}
	if atFloor {
		return Outcome{Status: StatusAccepted, FinalAmount: proposed, RemainingIterations: remaining}, nil
	}
	if remaining <= 0 {
		return Outcome{Status: StatusRejected, RemainingIterations: 0}, nil
	}
	proposedInt, err := x402.AmountToBigInt(proposed)
	if err != nil {
		return Outcome{}, err
	}
	minInt, err := x402.AmountToBigInt(terms.MinAcceptable)
	if err != nil {
		return Outcome{}, err
	}
	counter := midpoint(proposedInt, minInt)
	return Outcome{Status: StatusCounter, CounterAmount: x402.BigIntToAmount(counter), RemainingIterations: remaining - 1}, nil
}

// midpoint returns floor((a+b)/2), used to counter toward the client's
// minimum-acceptable floor without jumping straight to it.
func midpoint(a, b *big.Int) *big.Int {
	sum := new(big.Int).Add(a, b)
	return sum.Rsh(sum, 1)
}

// Engine runs the multi-round negotiation RPC described in §4.5.10. It does
// not itself settle funds; once a round accepts, the caller re-dispatches
// the proposal's Settlement payload to the registry-resolved exact scheme
// for the requirement's underlying network.
type Engine struct {
	Strategy PricingStrategy
}

func (e *Engine) strategy() PricingStrategy {
	if e.Strategy != nil {
		return e.Strategy
	}
	return MidpointStrategy{}
}

// Negotiate evaluates one round of a negotiation against req's Terms,
// returning the Outcome to relay back to the client as a 402 body, or (on
// acceptance) forwarding for the caller to complete settlement.
func (e *Engine) Negotiate(ctx context.Context, payload x402.PaymentPayload, req x402.PaymentRequirements) (Outcome, error) {
	proposal, err := decodeProposal(payload)
	if err != nil {
		return Outcome{}, err
	}
	terms, err := decodeTerms(req)
	if err != nil {
		return Outcome{}, x402.NewVerifyError(x402.ReasonInvalidPaymentRequirements, err)
	}
	if proposal.Iteration >= terms.MaxIterations {
		return Outcome{Status: StatusRejected, RemainingIterations: 0}, nil
	}
	return e.strategy().Evaluate(terms, proposal.ProposedAmount, proposal.Iteration)
}

// Server builds negotiated PaymentRequirements, embedding Terms into Extra.
type Server struct {
	Terms Terms
}

func (s Server) BuildRequirement(route x402.RouteConfig, opt x402.AcceptOption) (x402.PaymentRequirements, error) {
	reqs, err := x402.BuildRequirements(route, nil, nil)
	if err != nil {
		return x402.PaymentRequirements{}, err
	}
	if len(reqs) == 0 {
		return x402.PaymentRequirements{}, x402.NewVerifyError(x402.ReasonInvalidPaymentRequirements, errors.New("no requirement built"))
	}
	built := reqs[0]
	if built.Extra == nil {
		built.Extra = map[string]any{}
	}
	built.Extra["baseAmount"] = s.Terms.BaseAmount
	built.Extra["minAcceptable"] = s.Terms.MinAcceptable
	built.Extra["maxIterations"] = s.Terms.MaxIterations
	return built, nil
}
