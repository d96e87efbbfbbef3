// Package exacthedera implements the exact-Hedera payment scheme: a signed
// Hedera CryptoTransfer (HBAR) or TokenTransfer transaction, submitted to a
// Hedera Mirror Node / consensus REST gateway.
//
// Grounded on CedrosPay's internal/money/stripe_adapter.go idiom of "call an
// external settlement API, map its status codes to our reason taxonomy",
// since no Hedera Go SDK appears in the retrieved pack; the transaction is
// treated as an opaque base64 blob the facilitator forwards to a REST
// gateway rather than decoded locally (§4.5.6).
package exacthedera

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/x402-protocol/core/pkg/x402"
)

type hederaPayload struct {
	SignedTransaction string `json:"signedTransaction"` // base64 protobuf Transaction
}

func decodePayload(payload x402.PaymentPayload) (hederaPayload, error) {
	raw, ok := payload.Payload.(map[string]any)
	if !ok {
		return hederaPayload{}, x402.NewVerifyError(x402.ReasonInvalidPayload, errors.New("exact-hedera payload is not an object"))
	}
	tx, _ := raw["signedTransaction"].(string)
	if tx == "" {
		return hederaPayload{}, x402.NewVerifyError(x402.ReasonInvalidPayload, errors.New("exact-hedera payload missing signedTransaction"))
	}
	return hederaPayload{SignedTransaction: tx}, nil
}

// Facilitator relays exact-hedera transactions through a configured REST
// gateway (a Hedera consensus node proxy) that accepts base64 transaction
// bytes and returns a receipt, mirroring the shape of CedrosPay's Stripe
// client calls (POST + typed response + error-code mapping).
type Facilitator struct {
	HTTPClient *http.Client
	GatewayURL string // e.g. https://mainnet.hashio.io/x402-gateway

	// OperatorAccountID is the Hedera account that pays transaction fees for
	// settlements this facilitator submits, surfaced via GetExtra so a
	// client can see who the fee payer is before building its transaction.
	OperatorAccountID string
}

func hederaExtra(operatorAccountID string) map[string]any {
	if operatorAccountID == "" {
		return nil
	}
	return map[string]any{"feePayer": operatorAccountID}
}

// GetExtra reports the facilitator's operator account for GET /supported's
// per-network extra object (§4.4, §4.7).
func (f *Facilitator) GetExtra(network string) map[string]any {
	return hederaExtra(f.OperatorAccountID)
}

func (f *Facilitator) httpClient() *http.Client {
	if f.HTTPClient != nil {
		return f.HTTPClient
	}
	return http.DefaultClient
}

type gatewayDryRunResponse struct {
	Valid     bool   `json:"valid"`
	Payer     string `json:"payerAccountId"`
	Recipient string `json:"recipientAccountId"`
	Amount    string `json:"amount"`
	Reason    string `json:"reason,omitempty"`
}

func (f *Facilitator) Verify(ctx context.Context, payload x402.PaymentPayload, req x402.PaymentRequirements) (x402.VerifyResponse, error) {
	hP, err := decodePayload(payload)
	if err != nil {
		return x402.VerifyResponse{}, err
	}
	var dryRun gatewayDryRunResponse
	if err := f.post(ctx, "/dry-run", map[string]string{"signedTransaction": hP.SignedTransaction}, &dryRun); err != nil {
		return x402.VerifyResponse{}, x402.NewVerifyError(x402.ReasonUnexpectedVerifyError, err)
	}
	if !dryRun.Valid {
		return x402.VerifyResponse{IsValid: false, InvalidReason: x402.ReasonInvalidTransactionState}, nil
	}
	if dryRun.Recipient != req.PayTo {
		return x402.VerifyResponse{IsValid: false, InvalidReason: x402.Family(x402.ReasonRecipientMismatchFmt, "hedera")}, nil
	}
	ok, err := x402.AmountAtLeast(dryRun.Amount, req.Amount)
	if err != nil {
		return x402.VerifyResponse{}, err
	}
	if !ok {
		return x402.VerifyResponse{IsValid: false, InvalidReason: x402.ReasonAmountMismatch}, nil
	}
	return x402.VerifyResponse{IsValid: true, Payer: dryRun.Payer}, nil
}

type gatewaySubmitResponse struct {
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
}

func (f *Facilitator) Settle(ctx context.Context, payload x402.PaymentPayload, req x402.PaymentRequirements) (x402.SettleResponse, error) {
	hP, err := decodePayload(payload)
	if err != nil {
		return x402.SettleResponse{Network: req.Network, ErrorReason: x402.ReasonInvalidPayload}, nil
	}
	var submit gatewaySubmitResponse
	if err := f.post(ctx, "/submit", map[string]string{"signedTransaction": hP.SignedTransaction}, &submit); err != nil {
		return x402.SettleResponse{Network: req.Network, ErrorReason: x402.TransactionFailed(err.Error())}, nil
	}
	if submit.Status != "SUCCESS" {
		return x402.SettleResponse{Network: req.Network, Transaction: submit.TransactionID, ErrorReason: x402.ReasonInvalidTransactionState}, nil
	}
	return x402.SettleResponse{Success: true, Transaction: submit.TransactionID, Network: req.Network}, nil
}

func (f *Facilitator) post(ctx context.Context, path string, body any, out any) error {
	encoded, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.GatewayURL+path, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("exacthedera: gateway error: %s", string(payload))
	}
	return json.Unmarshal(payload, out)
}

// Server builds exact-hedera PaymentRequirements for a route.
type Server struct {
	OperatorAccountID string
}

func (s Server) BuildRequirement(route x402.RouteConfig, opt x402.AcceptOption) (x402.PaymentRequirements, error) {
	reqs, err := x402.BuildRequirements(route, nil, hederaExtra(s.OperatorAccountID))
	if err != nil {
		return x402.PaymentRequirements{}, err
	}
	if len(reqs) == 0 {
		return x402.PaymentRequirements{}, x402.NewVerifyError(x402.ReasonInvalidPaymentRequirements, errors.New("no requirement built"))
	}
	return reqs[0], nil
}
