package resourceserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/x402-protocol/core/internal/httputil"
	"github.com/x402-protocol/core/pkg/x402"
)

// FacilitatorClient is whatever the resource-server engine dispatches
// verify/settle calls to: either an in-process internal/facilitator.Engine
// (same method set, used when a resource server also runs its own
// facilitator) or RemoteFacilitator below, calling a facilitator's HTTP
// surface over the wire (§4.6, §6 FACILITATOR_URL).
type FacilitatorClient interface {
	Verify(ctx context.Context, payload x402.PaymentPayload, req x402.PaymentRequirements) (x402.VerifyResponse, error)
	Settle(ctx context.Context, payload x402.PaymentPayload, req x402.PaymentRequirements) (x402.SettleResponse, error)
}

// RemoteFacilitator calls a facilitator's POST /verify and POST /settle over
// HTTP, for resource servers that delegate settlement instead of running
// their own facilitator in-process. Grounded on internal/httputil.NewClient's
// tuned transport, reused here for facilitator round-trips the same way it
// backs RPC and webhook calls elsewhere in the tree.
type RemoteFacilitator struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewRemoteFacilitator builds a facilitator HTTP client with a sensible
// default timeout; set the HTTPClient field to a pre-built *http.Client if
// the caller needs custom transport behavior.
func NewRemoteFacilitator(baseURL string, timeout time.Duration) *RemoteFacilitator {
	return &RemoteFacilitator{BaseURL: baseURL, HTTPClient: httputil.NewClient(timeout)}
}

type facilitatorRequestBody struct {
	X402Version         int                      `json:"x402Version"`
	PaymentPayload      x402.PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements x402.PaymentRequirements `json:"paymentRequirements"`
}

func (c *RemoteFacilitator) call(ctx context.Context, path string, payload x402.PaymentPayload, req x402.PaymentRequirements, out any) error {
	body, err := json.Marshal(facilitatorRequestBody{
		X402Version:         x402.CurrentVersion,
		PaymentPayload:      payload,
		PaymentRequirements: req,
	})
	if err != nil {
		return fmt.Errorf("resourceserver: marshal facilitator request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("resourceserver: build facilitator request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("resourceserver: facilitator request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("resourceserver: facilitator returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Verify calls POST /verify on the remote facilitator.
func (c *RemoteFacilitator) Verify(ctx context.Context, payload x402.PaymentPayload, req x402.PaymentRequirements) (x402.VerifyResponse, error) {
	var out x402.VerifyResponse
	if err := c.call(ctx, "/verify", payload, req, &out); err != nil {
		return x402.VerifyResponse{IsValid: false, InvalidReason: x402.ReasonUnexpectedVerifyError}, err
	}
	return out, nil
}

// Settle calls POST /settle on the remote facilitator.
func (c *RemoteFacilitator) Settle(ctx context.Context, payload x402.PaymentPayload, req x402.PaymentRequirements) (x402.SettleResponse, error) {
	var out x402.SettleResponse
	if err := c.call(ctx, "/settle", payload, req, &out); err != nil {
		return x402.SettleResponse{Success: false, Network: payload.Network, ErrorReason: x402.ReasonUnexpectedSettleError}, err
	}
	return out, nil
}
