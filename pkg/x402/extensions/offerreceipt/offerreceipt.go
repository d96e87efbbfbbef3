// Package offerreceipt implements the Offer/Receipt extension (§4.8): the
// server signs the PaymentRequirements it offered and, on success, the
// settlement it received, attaching signedOffer to the 402 response body
// and signedReceipt to the 200 response. Two signing formats are supported
// per SIGNING_FORMAT: "jws" (golang-jwt/jwt/v5, verified by resolving the
// signer's public key via did:key|did:jwk|did:web) and "eip712" (reusing
// exactevm's typed-data signer/recovery idiom).
//
// Grounded on pkg/x402/schemes/exactevm's EIP-712 typed-data signing and
// crypto.SigToPub recovery for the eip712 format, and on golang-jwt/jwt/v5
// (also used nowhere else in the pack but named explicitly for this
// extension in the spec's SIGNING_FORMAT=jws option) for the jws format.
package offerreceipt

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/golang-jwt/jwt/v5"

	"github.com/x402-protocol/core/pkg/x402"
)

// Format selects the signature envelope used for offers and receipts.
type Format string

const (
	FormatJWS    Format = "jws"
	FormatEIP712 Format = "eip712"
)

// SignedOffer is attached as the "signedOffer" field of a 402 response.
type SignedOffer struct {
	Format    Format `json:"format"`
	Signature string `json:"signature"`
	SignedAt  string `json:"signedAt"`
	KeyID     string `json:"keyId"`
}

// SignedReceipt is attached as the "signedReceipt" field of a 200 response.
type SignedReceipt struct {
	Format    Format `json:"format"`
	Signature string `json:"signature"`
	SignedAt  string `json:"signedAt"`
	KeyID     string `json:"keyId"`
}

// Signer produces SignedOffer/SignedReceipt attestations for a resource
// server deployment. One Signer is configured per SIGNING_FORMAT.
type Signer interface {
	SignOffer(ctx context.Context, reqs []x402.PaymentRequirements) (SignedOffer, error)
	SignReceipt(ctx context.Context, settle x402.SettleResponse) (SignedReceipt, error)
}

// jwsClaims carries the signed payload for the JWS signing format.
type jwsClaims struct {
	jwt.RegisteredClaims
	Payload json.RawMessage `json:"payload"`
}

// JWSSigner signs offers/receipts as compact JWS tokens using an ECDSA key,
// resolved for verification via did:key, did:jwk, or did:web depending on
// DID.
type JWSSigner struct {
	PrivateKey *ecdsa.PrivateKey
	DID        string // did:key:... | did:jwk:... | did:web:...
	KeyID      string
}

func (s *JWSSigner) sign(payload any) (string, string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", "", fmt.Errorf("offerreceipt: marshal payload: %w", err)
	}
	now := time.Now().UTC()
	claims := jwsClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
			Issuer:   s.DID,
		},
		Payload: raw,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = s.KeyID
	signed, err := token.SignedString(s.PrivateKey)
	if err != nil {
		return "", "", fmt.Errorf("offerreceipt: sign jws: %w", err)
	}
	return signed, now.Format(time.RFC3339), nil
}

// SignOffer implements Signer.
func (s *JWSSigner) SignOffer(ctx context.Context, reqs []x402.PaymentRequirements) (SignedOffer, error) {
	signed, signedAt, err := s.sign(reqs)
	if err != nil {
		return SignedOffer{}, err
	}
	return SignedOffer{Format: FormatJWS, Signature: signed, SignedAt: signedAt, KeyID: s.KeyID}, nil
}

// SignReceipt implements Signer.
func (s *JWSSigner) SignReceipt(ctx context.Context, settle x402.SettleResponse) (SignedReceipt, error) {
	signed, signedAt, err := s.sign(settle)
	if err != nil {
		return SignedReceipt{}, err
	}
	return SignedReceipt{Format: FormatJWS, Signature: signed, SignedAt: signedAt, KeyID: s.KeyID}, nil
}

// VerifyJWS verifies a compact JWS token produced by JWSSigner against a
// resolved public key, returning the decoded payload.
func VerifyJWS(token string, resolver KeyResolver) (json.RawMessage, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwsClaims{}, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		return resolver.ResolveKey(kid)
	}, jwt.WithValidMethods([]string{jwt.SigningMethodES256.Name}))
	if err != nil {
		return nil, fmt.Errorf("offerreceipt: verify jws: %w", err)
	}
	claims, ok := parsed.Claims.(*jwsClaims)
	if !ok || !parsed.Valid {
		return nil, errors.New("offerreceipt: invalid jws claims")
	}
	return claims.Payload, nil
}

// EIP712Signer signs offers/receipts as EIP-712 typed data, reusing
// exactevm's SignTypedData/recovery idiom instead of minting a new wallet
// abstraction.
type EIP712Signer struct {
	Sign func(ctx context.Context, data apitypes.TypedData) ([]byte, error)
	From common.Address
}

func offerTypedData(reqs []x402.PaymentRequirements) (apitypes.TypedData, error) {
	raw, err := json.Marshal(reqs)
	if err != nil {
		return apitypes.TypedData{}, fmt.Errorf("offerreceipt: marshal offer: %w", err)
	}
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{{Name: "name", Type: "string"}},
			"Offer":        []apitypes.Type{{Name: "requirements", Type: "string"}},
		},
		PrimaryType: "Offer",
		Domain:      apitypes.TypedDataDomain{Name: "x402-offer"},
		Message:     apitypes.TypedDataMessage{"requirements": string(raw)},
	}, nil
}

func receiptTypedData(settle x402.SettleResponse) (apitypes.TypedData, error) {
	raw, err := json.Marshal(settle)
	if err != nil {
		return apitypes.TypedData{}, fmt.Errorf("offerreceipt: marshal receipt: %w", err)
	}
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{{Name: "name", Type: "string"}},
			"Receipt":      []apitypes.Type{{Name: "settlement", Type: "string"}},
		},
		PrimaryType: "Receipt",
		Domain:      apitypes.TypedDataDomain{Name: "x402-receipt"},
		Message:     apitypes.TypedDataMessage{"settlement": string(raw)},
	}, nil
}

// SignOffer implements Signer.
func (s *EIP712Signer) SignOffer(ctx context.Context, reqs []x402.PaymentRequirements) (SignedOffer, error) {
	data, err := offerTypedData(reqs)
	if err != nil {
		return SignedOffer{}, err
	}
	sig, err := s.Sign(ctx, data)
	if err != nil {
		return SignedOffer{}, fmt.Errorf("offerreceipt: sign offer: %w", err)
	}
	return SignedOffer{
		Format:    FormatEIP712,
		Signature: "0x" + common.Bytes2Hex(sig),
		SignedAt:  time.Now().UTC().Format(time.RFC3339),
		KeyID:     s.From.Hex(),
	}, nil
}

// SignReceipt implements Signer.
func (s *EIP712Signer) SignReceipt(ctx context.Context, settle x402.SettleResponse) (SignedReceipt, error) {
	data, err := receiptTypedData(settle)
	if err != nil {
		return SignedReceipt{}, err
	}
	sig, err := s.Sign(ctx, data)
	if err != nil {
		return SignedReceipt{}, fmt.Errorf("offerreceipt: sign receipt: %w", err)
	}
	return SignedReceipt{
		Format:    FormatEIP712,
		Signature: "0x" + common.Bytes2Hex(sig),
		SignedAt:  time.Now().UTC().Format(time.RFC3339),
		KeyID:     s.From.Hex(),
	}, nil
}

// RecoverEIP712Offer recovers the signer address from a SignedOffer whose
// Format is FormatEIP712, mirroring exactevm.Facilitator.Verify's
// crypto.SigToPub recovery path.
func RecoverEIP712Offer(reqs []x402.PaymentRequirements, offer SignedOffer) (common.Address, error) {
	data, err := offerTypedData(reqs)
	if err != nil {
		return common.Address{}, err
	}
	return recoverEIP712(data, offer.Signature)
}

// RecoverEIP712Receipt recovers the signer address from a SignedReceipt
// whose Format is FormatEIP712.
func RecoverEIP712Receipt(settle x402.SettleResponse, receipt SignedReceipt) (common.Address, error) {
	data, err := receiptTypedData(settle)
	if err != nil {
		return common.Address{}, err
	}
	return recoverEIP712(data, receipt.Signature)
}

func recoverEIP712(data apitypes.TypedData, hexSig string) (common.Address, error) {
	hash, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return common.Address{}, fmt.Errorf("offerreceipt: hash typed data: %w", err)
	}
	sig := common.FromHex(hexSig)
	if len(sig) != 65 {
		return common.Address{}, errors.New("offerreceipt: signature must be 65 bytes")
	}
	sigForRecovery := make([]byte, 65)
	copy(sigForRecovery, sig)
	if sigForRecovery[64] >= 27 {
		sigForRecovery[64] -= 27
	}
	pub, err := crypto.SigToPub(hash, sigForRecovery)
	if err != nil {
		return common.Address{}, fmt.Errorf("offerreceipt: recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
