package facilitator

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/x402-protocol/core/internal/receiptstore"
	"github.com/x402-protocol/core/pkg/x402"
)

// stubFacilitator is a minimal x402.SchemeFacilitator that always verifies
// and settles successfully, for exercising Engine.Settle's receipt-recording
// path without a real chain connection.
type stubFacilitator struct {
	payer         string
	transactionID string
}

func (s stubFacilitator) Verify(_ context.Context, payload x402.PaymentPayload, req x402.PaymentRequirements) (x402.VerifyResponse, error) {
	return x402.VerifyResponse{IsValid: true, Payer: s.payer}, nil
}

func (s stubFacilitator) Settle(_ context.Context, payload x402.PaymentPayload, req x402.PaymentRequirements) (x402.SettleResponse, error) {
	return x402.SettleResponse{Success: true, Network: payload.Network, Payer: s.payer, Transaction: s.transactionID}, nil
}

func settleTestEngine(t *testing.T, receipts receiptstore.Store) *Engine {
	t.Helper()
	reg := x402.NewRegistry()
	if err := reg.Register(x402.SchemeKind{
		Scheme:      "exact",
		Network:     "eip155:8453",
		Family:      x402.FamilyEVM,
		Facilitator: stubFacilitator{payer: "0xpayer", transactionID: "0xtxhash"},
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return &Engine{Registry: reg, Logger: zerolog.Nop(), Receipts: receipts}
}

func TestEngine_Settle_RecordsReceiptOnSuccess(t *testing.T) {
	receipts := receiptstore.NewMemoryStore()
	defer receipts.Close()
	e := settleTestEngine(t, receipts)

	payload := x402.PaymentPayload{X402Version: x402.CurrentVersion, Scheme: "exact", Network: "eip155:8453"}
	req := x402.PaymentRequirements{Scheme: "exact", Network: "eip155:8453", Resource: "/articles/1", Amount: "1000000", Asset: "USDC"}

	resp, err := e.Settle(context.Background(), payload, req)
	if err != nil {
		t.Fatalf("Settle() error = %v", err)
	}
	if !resp.Success {
		t.Fatalf("Settle() Success = false, want true (ErrorReason=%s)", resp.ErrorReason)
	}

	receipt, err := receipts.ByTransaction(context.Background(), "0xtxhash")
	if err != nil {
		t.Fatalf("ByTransaction() error = %v", err)
	}
	if receipt.Payer != "0xpayer" || receipt.Resource != "/articles/1" || receipt.Amount != "1000000" {
		t.Fatalf("recorded receipt = %+v, want payer/resource/amount matching the settlement", receipt)
	}
}

func TestEngine_Settle_WithoutReceiptsSkipsRecording(t *testing.T) {
	e := settleTestEngine(t, nil)

	payload := x402.PaymentPayload{X402Version: x402.CurrentVersion, Scheme: "exact", Network: "eip155:8453"}
	req := x402.PaymentRequirements{Scheme: "exact", Network: "eip155:8453", Resource: "/articles/1"}

	resp, err := e.Settle(context.Background(), payload, req)
	if err != nil {
		t.Fatalf("Settle() error = %v", err)
	}
	if !resp.Success {
		t.Fatalf("Settle() Success = false, want true (ErrorReason=%s)", resp.ErrorReason)
	}
}
