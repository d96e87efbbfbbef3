package facilitator

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/x402-protocol/core/internal/errors"
	"github.com/x402-protocol/core/pkg/responders"
	"github.com/x402-protocol/core/pkg/x402"
	"github.com/x402-protocol/core/pkg/x402/schemes/negotiated"
)

// Routes mounts GET /supported, POST /verify, POST /settle, and POST
// /negotiate onto r.
func Routes(r chi.Router, e *Engine) {
	r.Get("/supported", e.handleSupported)
	r.Post("/verify", e.handleVerify)
	r.Post("/settle", e.handleSettle)
	r.Post("/negotiate", e.handleNegotiate)
}

func (e *Engine) handleSupported(w http.ResponseWriter, r *http.Request) {
	responders.JSON(w, http.StatusOK, e.Supported())
}

type verifyRequest struct {
	X402Version         int                      `json:"x402Version"`
	PaymentPayload      x402.PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements x402.PaymentRequirements `json:"paymentRequirements"`
}

func (e *Engine) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteSimpleError(w, errors.ErrCodeInvalidField, "malformed verify request body")
		return
	}

	resp, err := e.Verify(r.Context(), req.PaymentPayload, req.PaymentRequirements)
	if err != nil {
		e.Logger.Error().Err(err).Msg("facilitator.verify_failed")
		responders.JSON(w, http.StatusOK, x402.VerifyResponse{IsValid: false, InvalidReason: x402.ReasonUnexpectedVerifyError})
		return
	}
	responders.JSON(w, http.StatusOK, resp)
}

func (e *Engine) handleNegotiate(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteSimpleError(w, errors.ErrCodeInvalidField, "malformed negotiate request body")
		return
	}

	outcome, err := e.Negotiate(r.Context(), req.PaymentPayload, req.PaymentRequirements)
	if err != nil {
		e.Logger.Error().Err(err).Msg("facilitator.negotiate_failed")
		responders.JSON(w, http.StatusOK, negotiated.Outcome{Status: negotiated.StatusRejected})
		return
	}
	responders.JSON(w, http.StatusOK, outcome)
}

func (e *Engine) handleSettle(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteSimpleError(w, errors.ErrCodeInvalidField, "malformed settle request body")
		return
	}

	resp, err := e.Settle(r.Context(), req.PaymentPayload, req.PaymentRequirements)
	if err != nil {
		e.Logger.Error().Err(err).Msg("facilitator.settle_failed")
		responders.JSON(w, http.StatusOK, x402.SettleResponse{Success: false, Network: req.PaymentPayload.Network, ErrorReason: x402.ReasonUnexpectedSettleError})
		return
	}
	responders.JSON(w, http.StatusOK, resp)
}
