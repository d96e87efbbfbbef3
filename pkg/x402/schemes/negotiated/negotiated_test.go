package negotiated

import (
	"context"
	"testing"

	"github.com/x402-protocol/core/pkg/x402"
)

func proposalPayload(amount string, iteration int) x402.PaymentPayload {
	return x402.PaymentPayload{
		Scheme: "negotiated",
		Payload: map[string]any{
			"proposedAmount": amount,
			"iteration":      float64(iteration),
		},
	}
}

func requirementWithTerms(base, min string, maxIterations int) x402.PaymentRequirements {
	return x402.PaymentRequirements{
		Scheme: "negotiated",
		Extra: map[string]any{
			"baseAmount":    base,
			"minAcceptable": min,
			"maxIterations": float64(maxIterations),
		},
	}
}

func TestMidpointStrategy_AcceptsProposalAtOrAboveFloor(t *testing.T) {
	terms := Terms{BaseAmount: "1000000", MinAcceptable: "500000", MaxIterations: 3}
	outcome, err := MidpointStrategy{}.Evaluate(terms, "600000", 0)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if outcome.Status != StatusAccepted || outcome.FinalAmount != "600000" {
		t.Fatalf("outcome = %+v, want accepted at 600000", outcome)
	}
}

func TestMidpointStrategy_CountersBelowFloor(t *testing.T) {
	terms := Terms{BaseAmount: "1000000", MinAcceptable: "500000", MaxIterations: 3}
	outcome, err := MidpointStrategy{}.Evaluate(terms, "200000", 0)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if outcome.Status != StatusCounter {
		t.Fatalf("outcome.Status = %v, want counter", outcome.Status)
	}
	if outcome.CounterAmount != "350000" {
		t.Fatalf("CounterAmount = %q, want midpoint(200000,500000)=350000", outcome.CounterAmount)
	}
	if outcome.RemainingIterations != 2 {
		t.Fatalf("RemainingIterations = %d, want 2", outcome.RemainingIterations)
	}
}

func TestMidpointStrategy_RejectsWhenIterationsExhausted(t *testing.T) {
	terms := Terms{BaseAmount: "1000000", MinAcceptable: "500000", MaxIterations: 2}
	outcome, err := MidpointStrategy{}.Evaluate(terms, "200000", 2)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if outcome.Status != StatusRejected {
		t.Fatalf("outcome.Status = %v, want rejected", outcome.Status)
	}
}

func TestEngine_Negotiate_AcceptsValidProposal(t *testing.T) {
	e := &Engine{}
	outcome, err := e.Negotiate(context.Background(), proposalPayload("600000", 0), requirementWithTerms("1000000", "500000", 3))
	if err != nil {
		t.Fatalf("Negotiate() error = %v", err)
	}
	if outcome.Status != StatusAccepted {
		t.Fatalf("outcome.Status = %v, want accepted", outcome.Status)
	}
}

func TestEngine_Negotiate_RejectsOnceIterationMeetsMax(t *testing.T) {
	e := &Engine{}
	outcome, err := e.Negotiate(context.Background(), proposalPayload("200000", 3), requirementWithTerms("1000000", "500000", 3))
	if err != nil {
		t.Fatalf("Negotiate() error = %v", err)
	}
	if outcome.Status != StatusRejected {
		t.Fatalf("outcome.Status = %v, want rejected once iteration >= maxIterations", outcome.Status)
	}
}

func TestEngine_Negotiate_MissingProposedAmountErrors(t *testing.T) {
	e := &Engine{}
	badPayload := x402.PaymentPayload{Scheme: "negotiated", Payload: map[string]any{"iteration": float64(0)}}
	_, err := e.Negotiate(context.Background(), badPayload, requirementWithTerms("1000000", "500000", 3))
	if err == nil {
		t.Fatal("Negotiate() should error when proposedAmount is missing")
	}
}

func TestEngine_Negotiate_MissingTermsErrors(t *testing.T) {
	e := &Engine{}
	_, err := e.Negotiate(context.Background(), proposalPayload("600000", 0), x402.PaymentRequirements{Scheme: "negotiated"})
	if err == nil {
		t.Fatal("Negotiate() should error when the requirement's Extra terms are missing")
	}
}

func TestEngine_Negotiate_UsesCustomStrategy(t *testing.T) {
	called := false
	e := &Engine{Strategy: strategyFunc(func(terms Terms, proposed string, iteration int) (Outcome, error) {
		called = true
		return Outcome{Status: StatusAccepted, FinalAmount: proposed}, nil
	})}
	_, err := e.Negotiate(context.Background(), proposalPayload("600000", 0), requirementWithTerms("1000000", "500000", 3))
	if err != nil {
		t.Fatalf("Negotiate() error = %v", err)
	}
	if !called {
		t.Fatal("Negotiate() should dispatch to the configured custom strategy")
	}
}

func TestServer_BuildRequirement_EmbedsTermsInExtra(t *testing.T) {
	s := Server{Terms: Terms{BaseAmount: "1000000", MinAcceptable: "500000", MaxIterations: 4}}
	route := x402.RouteConfig{Price: "$1.00", Network: "eip155:8453", PayTo: "0xpayee", Resource: "/negotiated"}

	req, err := s.BuildRequirement(route, x402.AcceptOption{})
	if err != nil {
		t.Fatalf("BuildRequirement() error = %v", err)
	}
	if req.Extra["baseAmount"] != "1000000" || req.Extra["minAcceptable"] != "500000" {
		t.Fatalf("Extra = %+v, want baseAmount/minAcceptable from Terms", req.Extra)
	}
	if req.Extra["maxIterations"] != 4 {
		t.Fatalf("Extra[maxIterations] = %v, want 4", req.Extra["maxIterations"])
	}
}

type strategyFunc func(terms Terms, proposed string, iteration int) (Outcome, error)

func (f strategyFunc) Evaluate(terms Terms, proposed string, iteration int) (Outcome, error) {
	return f(terms, proposed, iteration)
}
