package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Header names used to carry encoded payloads over HTTP (§4.1).
const (
	HeaderPayment         = "X-PAYMENT"
	HeaderPaymentResponse = "X-PAYMENT-RESPONSE"
	HeaderPaymentRequired = "PAYMENT-REQUIRED"
	HeaderPaymentSignature = "PAYMENT-SIGNATURE"
)

// decodeAlphabets lists the base64 alphabets accepted on decode, tried in
// order. Encoders always emit StdEncoding; RawURLEncoding is accepted for
// interop with clients that strip padding or use the URL-safe alphabet (§4.1).
var decodeAlphabets = []*base64.Encoding{
	base64.StdEncoding,
	base64.RawStdEncoding,
	base64.URLEncoding,
	base64.RawURLEncoding,
}

func decodeBase64(encoded string) ([]byte, error) {
	var lastErr error
	for _, enc := range decodeAlphabets {
		if decoded, err := enc.DecodeString(encoded); err == nil {
			return decoded, nil
		} else {
			lastErr = err
		}
	}
	return nil, fmt.Errorf("x402: could not decode base64 payload: %w", lastErr)
}

// EncodePaymentPayload marshals a PaymentPayload to base64-encoded JSON for
// the X-PAYMENT header.
func EncodePaymentPayload(payload PaymentPayload) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("x402: marshal payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(body), nil
}

// DecodePaymentPayload decodes and unmarshals the X-PAYMENT header value.
// Network is normalized to its CAIP-2 form before return so every downstream
// consumer keys on canonical identifiers (§3).
func DecodePaymentPayload(encoded string) (PaymentPayload, error) {
	var payload PaymentPayload
	decoded, err := decodeBase64(encoded)
	if err != nil {
		return payload, NewVerifyError(ReasonInvalidPayload, err)
	}
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return payload, NewVerifyError(ReasonInvalidPayload, fmt.Errorf("x402: unmarshal payment payload: %w", err))
	}
	payload.Network = NormalizeNetwork(payload.Network)
	return payload, nil
}

// EncodeSettleResponse marshals a SettleResponse to base64-encoded JSON for
// the X-PAYMENT-RESPONSE header.
func EncodeSettleResponse(resp SettleResponse) (string, error) {
	body, err := json.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("x402: marshal settle response: %w", err)
	}
	return base64.StdEncoding.EncodeToString(body), nil
}

// DecodeSettleResponse decodes and unmarshals an X-PAYMENT-RESPONSE header
// value, as read by a client after a successful retried request.
func DecodeSettleResponse(encoded string) (SettleResponse, error) {
	var resp SettleResponse
	decoded, err := decodeBase64(encoded)
	if err != nil {
		return resp, NewVerifyError(ReasonInvalidPayload, err)
	}
	if err := json.Unmarshal(decoded, &resp); err != nil {
		return resp, NewVerifyError(ReasonInvalidPayload, fmt.Errorf("x402: unmarshal settle response: %w", err))
	}
	return resp, nil
}

// EncodePaymentRequired marshals a PaymentRequired body, used both as the
// JSON 402 response body and, base64-encoded, as the PAYMENT-REQUIRED header
// on non-402 negotiation paths (§4.1, §6).
func EncodePaymentRequired(required PaymentRequired) (string, error) {
	body, err := json.Marshal(required)
	if err != nil {
		return "", fmt.Errorf("x402: marshal payment required: %w", err)
	}
	return base64.StdEncoding.EncodeToString(body), nil
}

// DecodePaymentRequired decodes a PAYMENT-REQUIRED header value.
func DecodePaymentRequired(encoded string) (PaymentRequired, error) {
	var required PaymentRequired
	decoded, err := decodeBase64(encoded)
	if err != nil {
		return required, NewVerifyError(ReasonInvalidPayload, err)
	}
	if err := json.Unmarshal(decoded, &required); err != nil {
		return required, NewVerifyError(ReasonInvalidPayload, fmt.Errorf("x402: unmarshal payment required: %w", err))
	}
	for i := range required.Accepts {
		required.Accepts[i].Network = NormalizeNetwork(required.Accepts[i].Network)
	}
	return required, nil
}

// ValidatePaymentPayload performs the structural checks every scheme's
// Verify must run before touching scheme-specific payload fields: version,
// scheme/network non-empty, and network is syntactically CAIP-2 (or a
// recognized legacy alias already normalized by the decoder).
func ValidatePaymentPayload(payload PaymentPayload) error {
	if payload.X402Version != CurrentVersion && payload.X402Version != V1LegacyVersion {
		return NewVerifyError(ReasonInvalidX402Version, fmt.Errorf("unsupported x402Version %d", payload.X402Version))
	}
	if payload.Scheme == "" {
		return NewVerifyError(ReasonUnsupportedScheme, fmt.Errorf("empty scheme"))
	}
	if err := ValidateCAIP2(payload.Network); err != nil {
		return err
	}
	return nil
}
