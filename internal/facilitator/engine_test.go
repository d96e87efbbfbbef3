package facilitator

import (
	"context"
	"errors"
	"testing"

	"github.com/x402-protocol/core/pkg/x402"
	"github.com/x402-protocol/core/pkg/x402/schemes/negotiated"
)

func negotiatedPayload(amount string, iteration int) x402.PaymentPayload {
	return x402.PaymentPayload{
		Scheme:  "negotiated",
		Network: "eip155:8453",
		Payload: map[string]any{
			"proposedAmount": amount,
			"iteration":      float64(iteration),
		},
	}
}

func negotiatedRequirements(base, min string, maxIterations int) x402.PaymentRequirements {
	return x402.PaymentRequirements{
		Scheme:  "negotiated",
		Network: "eip155:8453",
		Extra: map[string]any{
			"baseAmount":    base,
			"minAcceptable": min,
			"maxIterations": float64(maxIterations),
		},
	}
}

func TestEngine_Negotiate_WithoutNegotiatorIsUnsupported(t *testing.T) {
	e := &Engine{}
	_, err := e.Negotiate(context.Background(), negotiatedPayload("100", 0), negotiatedRequirements("200", "150", 3))
	if err == nil {
		t.Fatal("Negotiate() without a configured Negotiator should error")
	}
	var verr *x402.VerifyError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want an x402.VerifyError", err)
	}
	if verr.Reason != x402.ReasonUnsupportedScheme {
		t.Fatalf("Reason = %s, want %s", verr.Reason, x402.ReasonUnsupportedScheme)
	}
}

func TestEngine_Negotiate_AcceptsAtOrAboveFloor(t *testing.T) {
	e := &Engine{Negotiator: &negotiated.Engine{}}
	outcome, err := e.Negotiate(context.Background(), negotiatedPayload("150", 0), negotiatedRequirements("200", "150", 3))
	if err != nil {
		t.Fatalf("Negotiate() error = %v", err)
	}
	if outcome.Status != negotiated.StatusAccepted {
		t.Fatalf("Status = %s, want %s", outcome.Status, negotiated.StatusAccepted)
	}
	if outcome.FinalAmount != "150" {
		t.Fatalf("FinalAmount = %s, want 150", outcome.FinalAmount)
	}
}

func TestEngine_Negotiate_CountersBelowFloor(t *testing.T) {
	e := &Engine{Negotiator: &negotiated.Engine{}}
	outcome, err := e.Negotiate(context.Background(), negotiatedPayload("100", 0), negotiatedRequirements("200", "150", 3))
	if err != nil {
		t.Fatalf("Negotiate() error = %v", err)
	}
	if outcome.Status != negotiated.StatusCounter {
		t.Fatalf("Status = %s, want %s", outcome.Status, negotiated.StatusCounter)
	}
	if outcome.CounterAmount == "" {
		t.Fatal("CounterAmount should be set on a counter outcome")
	}
}

func TestEngine_Negotiate_RejectsPastMaxIterations(t *testing.T) {
	e := &Engine{Negotiator: &negotiated.Engine{}}
	outcome, err := e.Negotiate(context.Background(), negotiatedPayload("100", 3), negotiatedRequirements("200", "150", 3))
	if err != nil {
		t.Fatalf("Negotiate() error = %v", err)
	}
	if outcome.Status != negotiated.StatusRejected {
		t.Fatalf("Status = %s, want %s", outcome.Status, negotiated.StatusRejected)
	}
}
