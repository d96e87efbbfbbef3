package exacthedera

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/x402-protocol/core/pkg/x402"
)

func txPayload() x402.PaymentPayload {
	return x402.PaymentPayload{
		Scheme:  "exact",
		Payload: map[string]any{"signedTransaction": "base64txbytes"},
	}
}

func gatewayStub(t *testing.T, dryRun gatewayDryRunResponse, submit gatewaySubmitResponse) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/dry-run":
			json.NewEncoder(w).Encode(dryRun)
		case "/submit":
			json.NewEncoder(w).Encode(submit)
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestFacilitator_Verify_ValidDryRunMatchingFields(t *testing.T) {
	srv := gatewayStub(t, gatewayDryRunResponse{Valid: true, Payer: "0.0.1001", Recipient: "0.0.2002", Amount: "1000000"}, gatewaySubmitResponse{})
	defer srv.Close()
	f := &Facilitator{GatewayURL: srv.URL}

	resp, err := f.Verify(context.Background(), txPayload(), x402.PaymentRequirements{PayTo: "0.0.2002", Amount: "1000000"})
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !resp.IsValid || resp.Payer != "0.0.1001" {
		t.Fatalf("Verify() = %+v, want valid with payer 0.0.1001", resp)
	}
}

func TestFacilitator_Verify_GatewayRejectsAsInvalid(t *testing.T) {
	srv := gatewayStub(t, gatewayDryRunResponse{Valid: false}, gatewaySubmitResponse{})
	defer srv.Close()
	f := &Facilitator{GatewayURL: srv.URL}

	resp, err := f.Verify(context.Background(), txPayload(), x402.PaymentRequirements{PayTo: "0.0.2002", Amount: "1000000"})
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if resp.IsValid {
		t.Fatal("IsValid = true, want false when the gateway's dry run reports invalid")
	}
}

func TestFacilitator_Verify_RecipientMismatch(t *testing.T) {
	srv := gatewayStub(t, gatewayDryRunResponse{Valid: true, Recipient: "0.0.9999", Amount: "1000000"}, gatewaySubmitResponse{})
	defer srv.Close()
	f := &Facilitator{GatewayURL: srv.URL}

	resp, err := f.Verify(context.Background(), txPayload(), x402.PaymentRequirements{PayTo: "0.0.2002", Amount: "1000000"})
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if resp.IsValid {
		t.Fatal("IsValid = true, want false on recipient mismatch")
	}
	if resp.InvalidReason != x402.Family(x402.ReasonRecipientMismatchFmt, "hedera") {
		t.Fatalf("InvalidReason = %q, want the hedera-family recipient-mismatch reason", resp.InvalidReason)
	}
}

func TestFacilitator_Verify_AmountBelowRequired(t *testing.T) {
	srv := gatewayStub(t, gatewayDryRunResponse{Valid: true, Recipient: "0.0.2002", Amount: "100"}, gatewaySubmitResponse{})
	defer srv.Close()
	f := &Facilitator{GatewayURL: srv.URL}

	resp, err := f.Verify(context.Background(), txPayload(), x402.PaymentRequirements{PayTo: "0.0.2002", Amount: "1000000"})
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if resp.IsValid {
		t.Fatal("IsValid = true, want false when the dry-run amount is below what's required")
	}
	if resp.InvalidReason != x402.ReasonAmountMismatch {
		t.Fatalf("InvalidReason = %q, want %q", resp.InvalidReason, x402.ReasonAmountMismatch)
	}
}

func TestFacilitator_Settle_SuccessfulSubmit(t *testing.T) {
	srv := gatewayStub(t, gatewayDryRunResponse{}, gatewaySubmitResponse{TransactionID: "0.0.1001@1700000000.000000001", Status: "SUCCESS"})
	defer srv.Close()
	f := &Facilitator{GatewayURL: srv.URL}

	resp, err := f.Settle(context.Background(), txPayload(), x402.PaymentRequirements{Network: "hedera:mainnet"})
	if err != nil {
		t.Fatalf("Settle() error = %v", err)
	}
	if !resp.Success || resp.Transaction != "0.0.1001@1700000000.000000001" {
		t.Fatalf("Settle() = %+v, want success with the gateway's transaction id", resp)
	}
}

func TestFacilitator_Settle_FailedSubmitReportsInvalidState(t *testing.T) {
	srv := gatewayStub(t, gatewayDryRunResponse{}, gatewaySubmitResponse{Status: "FAIL"})
	defer srv.Close()
	f := &Facilitator{GatewayURL: srv.URL}

	resp, err := f.Settle(context.Background(), txPayload(), x402.PaymentRequirements{Network: "hedera:mainnet"})
	if err != nil {
		t.Fatalf("Settle() error = %v", err)
	}
	if resp.Success {
		t.Fatal("Success = true, want false when the gateway reports a non-SUCCESS status")
	}
	if resp.ErrorReason != x402.ReasonInvalidTransactionState {
		t.Fatalf("ErrorReason = %q, want %q", resp.ErrorReason, x402.ReasonInvalidTransactionState)
	}
}

func TestFacilitator_GetExtra_ReportsOperatorAsFeePayer(t *testing.T) {
	f := &Facilitator{OperatorAccountID: "0.0.800"}
	extra := f.GetExtra("hedera:mainnet")
	if extra["feePayer"] != "0.0.800" {
		t.Fatalf("GetExtra() = %+v, want feePayer 0.0.800", extra)
	}
}

func TestFacilitator_GetExtra_EmptyOperatorReturnsNil(t *testing.T) {
	f := &Facilitator{}
	if extra := f.GetExtra("hedera:mainnet"); extra != nil {
		t.Fatalf("GetExtra() = %+v, want nil with no configured operator", extra)
	}
}

func TestServer_BuildRequirement_EmbedsFeePayerExtra(t *testing.T) {
	s := Server{OperatorAccountID: "0.0.800"}
	route := x402.RouteConfig{Price: "$0.10", Network: "hedera:mainnet", PayTo: "0.0.2002", Resource: "/hbar-article"}

	req, err := s.BuildRequirement(route, x402.AcceptOption{})
	if err != nil {
		t.Fatalf("BuildRequirement() error = %v", err)
	}
	if req.Extra["feePayer"] != "0.0.800" {
		t.Fatalf("Extra = %+v, want feePayer 0.0.800", req.Extra)
	}
}
