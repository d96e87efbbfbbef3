package lightning

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/x402-protocol/core/pkg/x402"
)

func invoicePayload(invoice, preimage string) x402.PaymentPayload {
	return x402.PaymentPayload{
		Scheme:  "exact",
		Payload: map[string]any{"invoice": invoice, "preimage": preimage},
	}
}

func lndStub(t *testing.T, settled bool, amtPaidSat string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Grpc-Metadata-macaroon") == "" {
			t.Fatal("request missing macaroon header")
		}
		json.NewEncoder(w).Encode(lookupInvoiceResponse{Settled: settled, AmtPaidSat: amtPaidSat})
	}))
}

func TestFacilitator_Verify_SettledInvoiceMeetsAmount(t *testing.T) {
	srv := lndStub(t, true, "1000")
	defer srv.Close()
	f := &Facilitator{NodeURL: srv.URL, Macaroon: "deadbeef"}

	req := x402.PaymentRequirements{Amount: "1000"}
	resp, err := f.Verify(context.Background(), invoicePayload("lnbc1...", ""), req)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !resp.IsValid {
		t.Fatalf("IsValid = false, want true for a settled invoice meeting the amount")
	}
}

func TestFacilitator_Verify_UnsettledInvoiceRejected(t *testing.T) {
	srv := lndStub(t, false, "0")
	defer srv.Close()
	f := &Facilitator{NodeURL: srv.URL, Macaroon: "deadbeef"}

	resp, err := f.Verify(context.Background(), invoicePayload("lnbc1...", ""), x402.PaymentRequirements{Amount: "1000"})
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if resp.IsValid {
		t.Fatal("IsValid = true, want false for an unsettled invoice")
	}
	if resp.InvalidReason != x402.ReasonInvalidTransactionState {
		t.Fatalf("InvalidReason = %q, want %q", resp.InvalidReason, x402.ReasonInvalidTransactionState)
	}
}

func TestFacilitator_Verify_UnderpaidInvoiceRejected(t *testing.T) {
	srv := lndStub(t, true, "500")
	defer srv.Close()
	f := &Facilitator{NodeURL: srv.URL, Macaroon: "deadbeef"}

	resp, err := f.Verify(context.Background(), invoicePayload("lnbc1...", ""), x402.PaymentRequirements{Amount: "1000"})
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if resp.IsValid {
		t.Fatal("IsValid = true, want false when amt_paid_sat is below the required amount")
	}
	if resp.InvalidReason != x402.ReasonAmountMismatch {
		t.Fatalf("InvalidReason = %q, want %q", resp.InvalidReason, x402.ReasonAmountMismatch)
	}
}

func TestFacilitator_Verify_MissingInvoiceErrors(t *testing.T) {
	f := &Facilitator{}
	_, err := f.Verify(context.Background(), x402.PaymentPayload{Payload: map[string]any{}}, x402.PaymentRequirements{})
	if err == nil {
		t.Fatal("Verify() should error when the payload has no invoice")
	}
}

func TestFacilitator_Settle_SettledInvoiceReturnsPaymentHashAsTransaction(t *testing.T) {
	srv := lndStub(t, true, "1000")
	defer srv.Close()
	f := &Facilitator{NodeURL: srv.URL, Macaroon: "deadbeef"}

	resp, err := f.Settle(context.Background(), invoicePayload("lnbc1...", ""), x402.PaymentRequirements{Amount: "1000", Network: "btc-lightning"})
	if err != nil {
		t.Fatalf("Settle() error = %v", err)
	}
	if !resp.Success || resp.Transaction == "" {
		t.Fatalf("Settle() = %+v, want success with a non-empty transaction id", resp)
	}
}

func TestFacilitator_CreateInvoice_ReturnsPaymentRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"payment_request": "lnbc100n1..."})
	}))
	defer srv.Close()
	f := &Facilitator{NodeURL: srv.URL, Macaroon: "deadbeef"}

	invoice, err := f.CreateInvoice(context.Background(), "100", "test")
	if err != nil {
		t.Fatalf("CreateInvoice() error = %v", err)
	}
	if invoice != "lnbc100n1..." {
		t.Fatalf("CreateInvoice() = %q, want the node's payment_request echoed back", invoice)
	}
}

func TestServer_BuildRequirement(t *testing.T) {
	route := x402.RouteConfig{
		Resource: "/sats",
		Accepts:  []x402.AcceptOption{{Network: "btc-lightning-mainnet", PayTo: "lnbc-node", Amount: "1000", Asset: "sat"}},
	}
	req, err := Server{}.BuildRequirement(route, x402.AcceptOption{})
	if err != nil {
		t.Fatalf("BuildRequirement() error = %v", err)
	}
	if req.Resource != "/sats" {
		t.Fatalf("Resource = %q, want /sats", req.Resource)
	}
}
