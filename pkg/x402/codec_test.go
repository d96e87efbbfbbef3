package x402

import (
	"encoding/base64"
	"testing"
)

func TestEncodeDecodePaymentPayload_RoundTrip(t *testing.T) {
	payload := PaymentPayload{
		X402Version: CurrentVersion,
		Scheme:      "exact",
		Network:     "base",
		Payload:     map[string]any{"authorization": "stub"},
	}
	encoded, err := EncodePaymentPayload(payload)
	if err != nil {
		t.Fatalf("EncodePaymentPayload() error = %v", err)
	}
	decoded, err := DecodePaymentPayload(encoded)
	if err != nil {
		t.Fatalf("DecodePaymentPayload() error = %v", err)
	}
	if decoded.Network != "eip155:8453" {
		t.Fatalf("Network = %q, want the legacy alias normalized to eip155:8453", decoded.Network)
	}
	if decoded.Scheme != "exact" {
		t.Fatalf("Scheme = %q, want exact", decoded.Scheme)
	}
}

func TestDecodePaymentPayload_AcceptsURLEncodingAndRawPadding(t *testing.T) {
	payload := PaymentPayload{X402Version: CurrentVersion, Scheme: "exact", Network: "eip155:8453"}
	std, err := EncodePaymentPayload(payload)
	if err != nil {
		t.Fatalf("EncodePaymentPayload() error = %v", err)
	}
	// Re-decode/re-encode through the raw-url alphabet to simulate a client
	// that stripped padding or used the URL-safe alphabet.
	raw, err := base64.StdEncoding.DecodeString(std)
	if err != nil {
		t.Fatalf("StdEncoding.DecodeString() error = %v", err)
	}
	rawURL := base64.RawURLEncoding.EncodeToString(raw)
	decodedOnce, err := DecodePaymentPayload(rawURL)
	if err != nil {
		t.Fatalf("DecodePaymentPayload(rawURL) error = %v", err)
	}
	if decodedOnce.Scheme != "exact" {
		t.Fatalf("Scheme = %q, want exact", decodedOnce.Scheme)
	}
}

func TestDecodePaymentPayload_RejectsGarbage(t *testing.T) {
	_, err := DecodePaymentPayload("not valid base64!!")
	if err == nil {
		t.Fatal("DecodePaymentPayload() should error on undecodable input")
	}
	verr, ok := err.(*VerifyError)
	if !ok {
		t.Fatalf("error = %T, want *VerifyError", err)
	}
	if verr.Reason != ReasonInvalidPayload {
		t.Fatalf("Reason = %s, want %s", verr.Reason, ReasonInvalidPayload)
	}
}

func TestEncodeDecodeSettleResponse_RoundTrip(t *testing.T) {
	resp := SettleResponse{Success: true, Network: "eip155:8453", Payer: "0xpayer", Transaction: "0xabc"}
	encoded, err := EncodeSettleResponse(resp)
	if err != nil {
		t.Fatalf("EncodeSettleResponse() error = %v", err)
	}
	decoded, err := DecodeSettleResponse(encoded)
	if err != nil {
		t.Fatalf("DecodeSettleResponse() error = %v", err)
	}
	if decoded != resp {
		t.Fatalf("DecodeSettleResponse() = %+v, want %+v", decoded, resp)
	}
}

func TestEncodeDecodePaymentRequired_NormalizesAcceptsNetworks(t *testing.T) {
	required := PaymentRequired{
		X402Version: CurrentVersion,
		Accepts:     []PaymentRequirements{{Scheme: "exact", Network: "base", Amount: "1000"}},
	}
	encoded, err := EncodePaymentRequired(required)
	if err != nil {
		t.Fatalf("EncodePaymentRequired() error = %v", err)
	}
	decoded, err := DecodePaymentRequired(encoded)
	if err != nil {
		t.Fatalf("DecodePaymentRequired() error = %v", err)
	}
	if len(decoded.Accepts) != 1 || decoded.Accepts[0].Network != "eip155:8453" {
		t.Fatalf("decoded.Accepts = %+v, want network normalized to eip155:8453", decoded.Accepts)
	}
}

func TestValidatePaymentPayload(t *testing.T) {
	valid := PaymentPayload{X402Version: CurrentVersion, Scheme: "exact", Network: "eip155:8453"}
	if err := ValidatePaymentPayload(valid); err != nil {
		t.Fatalf("ValidatePaymentPayload(valid) error = %v", err)
	}

	badVersion := valid
	badVersion.X402Version = 99
	if err := ValidatePaymentPayload(badVersion); err == nil {
		t.Error("ValidatePaymentPayload() should reject an unsupported x402Version")
	}

	noScheme := valid
	noScheme.Scheme = ""
	if err := ValidatePaymentPayload(noScheme); err == nil {
		t.Error("ValidatePaymentPayload() should reject an empty scheme")
	}

	badNetwork := valid
	badNetwork.Network = ""
	if err := ValidatePaymentPayload(badNetwork); err == nil {
		t.Error("ValidatePaymentPayload() should reject an invalid network")
	}
}
