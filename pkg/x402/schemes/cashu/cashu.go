// Package cashu implements the Cashu scheme: the payload carries a set of
// Cashu ecash tokens (proofs) redeemable at a mint, verified by checking the
// proofs are unspent and settled by a mint swap that spends them; the swap
// carries no blinded outputs, so no new proofs are issued to the facilitator.
//
// No Cashu client library is present in the retrieved pack, so the mint is
// treated as a REST backend following CedrosPay's
// internal/money/stripe_adapter.go idiom, the same shape as exacthedera and
// the lightning package (§4.5.9).
package cashu

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

// Proof is a single Cashu ecash proof as defined by NUT-00.
type Proof struct {
	Amount string `json:"amount"`
	ID     string `json:"id"`
	Secret string `json:"secret"`
	C      string `json:"C"`
}

type cashuPayload struct {
	Mint   string  `json:"mint"`
	Unit   string  `json:"unit"`
	Proofs []Proof `json:"proofs"`
}

func decodePayload(payload x402.PaymentPayload) (cashuPayload, error) {
	raw, ok := payload.Payload.(map[string]any)
	if !ok {
		return cashuPayload{}, x402.NewVerifyError(x402.ReasonInvalidPayload, errors.New("cashu payload is not an object"))
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return cashuPayload{}, x402.NewVerifyError(x402.ReasonInvalidPayload, err)
	}
	var cp cashuPayload
	if err := json.Unmarshal(encoded, &cp); err != nil {
		return cashuPayload{}, x402.NewVerifyError(x402.ReasonInvalidPayload, err)
	}
	if cp.Mint == "" || len(cp.Proofs) == 0 {
		return cashuPayload{}, x402.NewVerifyError(x402.ReasonInvalidPayload, errors.New("cashu payload missing mint or proofs"))
	}
	return cp, nil
}

func totalAmount(proofs []Proof) string {
	var total int64
	for _, p := range proofs {
		var v int64
		fmt.Sscanf(p.Amount, "%d", &v)
		total += v
	}
	return fmt.Sprintf("%d", total)
}

// Facilitator verifies proof state and redeems proofs against a Cashu mint's
// REST API (NUT-07 check-state, NUT-03 swap).
type Facilitator struct {
	HTTPClient     *http.Client
	FacilitatorKey string // facilitator's own blinding output seed reference
}

func (f *Facilitator) httpClient() *http.Client {
	if f.HTTPClient != nil {
		return f.HTTPClient
	}
	return http.DefaultClient
}

type checkStateResponse struct {
	States []struct {
		Y     string `json:"Y"`
		State string `json:"state"` // UNSPENT | SPENT | PENDING
	} `json:"states"`
}

// Verify checks every proof is UNSPENT on the mint and the total matches
// the required amount.
func (f *Facilitator) Verify(ctx context.Context, payload x402.PaymentPayload, req x402.PaymentRequirements) (x402.VerifyResponse, error) {
	cp, err := decodePayload(payload)
	if err != nil {
		return x402.VerifyResponse{}, err
	}
	ok, err := x402.AmountAtLeast(totalAmount(cp.Proofs), req.Amount)
	if err != nil {
		return x402.VerifyResponse{}, err
	}
	if !ok {
		return x402.VerifyResponse{IsValid: false, InvalidReason: x402.ReasonAmountMismatch}, nil
	}
	secrets := make([]string, len(cp.Proofs))
	for i, p := range cp.Proofs {
		secrets[i] = p.Secret
	}
	var state checkStateResponse
	if err := f.post(ctx, cp.Mint, "/v1/checkstate", map[string]any{"Ys": secrets}, &state); err != nil {
		return x402.VerifyResponse{}, x402.NewVerifyError(x402.ReasonUnexpectedVerifyError, err)
	}
	for _, s := range state.States {
		if s.State != "UNSPENT" {
			return x402.VerifyResponse{IsValid: false, InvalidReason: x402.ReasonInvalidTransactionState}, nil
		}
	}
	return x402.VerifyResponse{IsValid: true}, nil
}

type swapResponse struct {
	Signatures []json.RawMessage `json:"signatures"`
}

// Settle spends the submitted proofs in one /v1/swap mint call. The request
// has an empty outputs list, so the mint returns no fresh proofs.
func (f *Facilitator) Settle(ctx context.Context, payload x402.PaymentPayload, req x402.PaymentRequirements) (x402.SettleResponse, error) {
	cp, err := decodePayload(payload)
	if err != nil {
		return x402.SettleResponse{Network: req.Network, ErrorReason: x402.ReasonInvalidPayload}, nil
	}
	var swap swapResponse
	body := map[string]any{
		"inputs":  cp.Proofs,
		"outputs": []any{}, // no blinded messages are sent
	}
	if err := f.post(ctx, cp.Mint, "/v1/swap", body, &swap); err != nil {
		return x402.SettleResponse{Network: req.Network, ErrorReason: x402.TransactionFailed(err.Error())}, nil
	}
	return x402.SettleResponse{Success: true, Transaction: cp.Mint, Network: req.Network}, nil
}

func (f *Facilitator) post(ctx context.Context, mintURL, path string, body any, out any) error {
	encoded, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, mintURL+path, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("cashu: mint error: %s", string(respBody))
	}
	return json.Unmarshal(respBody, out)
}

// Server builds Cashu PaymentRequirements for a route.
type Server struct{}

func (Server) BuildRequirement(route x402.RouteConfig, opt x402.AcceptOption) (x402.PaymentRequirements, error) {
	reqs, err := x402.BuildRequirements(route, nil, nil)
	if err != nil {
		return x402.PaymentRequirements{}, err
	}
	if len(reqs) == 0 {
		return x402.PaymentRequirements{}, x402.NewVerifyError(x402.ReasonInvalidPaymentRequirements, errors.New("no requirement built"))
	}
	return reqs[0], nil
}
