package exactevm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/x402-protocol/core/pkg/x402"
)

const testChainID = int64(8453)
const testAsset = "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913"

func signAuthorization(t *testing.T, key *ecdsa.PrivateKey, auth EVMAuthorization) string {
	t.Helper()
	data, err := typedData(testChainID, testAsset, "USD Coin", "2", auth)
	if err != nil {
		t.Fatalf("typedData() error = %v", err)
	}
	hash, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		t.Fatalf("TypedDataAndHash() error = %v", err)
	}
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		t.Fatalf("crypto.Sign() error = %v", err)
	}
	sig[64] += 27
	return fmt.Sprintf("0x%x", sig)
}

func validAuthorization(from, to string, value string) EVMAuthorization {
	now := time.Now().Unix()
	return EVMAuthorization{
		From:        from,
		To:          to,
		Value:       value,
		ValidAfter:  "0",
		ValidBefore: fmt.Sprintf("%d", now+300),
		Nonce:       "0x0000000000000000000000000000000000000000000000000000000000000001",
	}
}

func evmPaymentPayload(sig string, auth EVMAuthorization) x402.PaymentPayload {
	return x402.PaymentPayload{
		Scheme: "exact",
		Payload: map[string]any{
			"signature": sig,
			"authorization": map[string]any{
				"from":        auth.From,
				"to":          auth.To,
				"value":       auth.Value,
				"validAfter":  auth.ValidAfter,
				"validBefore": auth.ValidBefore,
				"nonce":       auth.Nonce,
			},
		},
	}
}

func TestFacilitator_Verify_ValidSignatureRecoversPayer(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey).Hex()
	auth := validAuthorization(from, "0xpayee00000000000000000000000000000000", "1000000")
	auth.To = common.HexToAddress(auth.To).Hex()
	sig := signAuthorization(t, key, auth)

	f := &Facilitator{ChainID: testChainID, AssetName: "USD Coin", AssetVersion: "2"}
	req := x402.PaymentRequirements{PayTo: auth.To, Asset: testAsset, Amount: "1000000"}
	resp, err := f.Verify(context.Background(), evmPaymentPayload(sig, auth), req)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !resp.IsValid {
		t.Fatalf("IsValid = false, want true for a validly-signed unexpired authorization")
	}
	if resp.Payer != from {
		t.Fatalf("Payer = %q, want the recovered signer %q", resp.Payer, from)
	}
}

func TestFacilitator_Verify_RecipientMismatch(t *testing.T) {
	key, _ := crypto.GenerateKey()
	from := crypto.PubkeyToAddress(key.PublicKey).Hex()
	auth := validAuthorization(from, "0xpayee00000000000000000000000000000000", "1000000")
	auth.To = common.HexToAddress(auth.To).Hex()
	sig := signAuthorization(t, key, auth)

	f := &Facilitator{ChainID: testChainID, AssetName: "USD Coin", AssetVersion: "2"}
	req := x402.PaymentRequirements{PayTo: common.HexToAddress("0x00000000000000000000000000000000000000aa").Hex(), Asset: testAsset, Amount: "1000000"}
	resp, err := f.Verify(context.Background(), evmPaymentPayload(sig, auth), req)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if resp.IsValid {
		t.Fatal("IsValid = true, want false on recipient mismatch")
	}
	if resp.InvalidReason != x402.Family(x402.ReasonRecipientMismatchFmt, "evm") {
		t.Fatalf("InvalidReason = %q, want the evm-family recipient-mismatch reason", resp.InvalidReason)
	}
}

func TestFacilitator_Verify_ExpiringWithinBufferRejected(t *testing.T) {
	key, _ := crypto.GenerateKey()
	from := crypto.PubkeyToAddress(key.PublicKey).Hex()
	to := common.HexToAddress("0xpayee00000000000000000000000000000000").Hex()
	auth := EVMAuthorization{
		From: from, To: to, Value: "1000000",
		ValidAfter:  "0",
		ValidBefore: fmt.Sprintf("%d", time.Now().Unix()+3), // inside the 6s buffer
		Nonce:       "0x0000000000000000000000000000000000000000000000000000000000000001",
	}
	sig := signAuthorization(t, key, auth)

	f := &Facilitator{ChainID: testChainID, AssetName: "USD Coin", AssetVersion: "2"}
	req := x402.PaymentRequirements{PayTo: to, Asset: testAsset, Amount: "1000000"}
	resp, err := f.Verify(context.Background(), evmPaymentPayload(sig, auth), req)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if resp.IsValid {
		t.Fatal("IsValid = true, want false when validBefore is inside the 6s settlement buffer")
	}
	if resp.InvalidReason != x402.Family(x402.ReasonValidBeforeFmt, "evm") {
		t.Fatalf("InvalidReason = %q, want the evm-family validBefore reason", resp.InvalidReason)
	}
}

func TestFacilitator_Verify_NotYetValidRejected(t *testing.T) {
	key, _ := crypto.GenerateKey()
	from := crypto.PubkeyToAddress(key.PublicKey).Hex()
	to := common.HexToAddress("0xpayee00000000000000000000000000000000").Hex()
	auth := EVMAuthorization{
		From: from, To: to, Value: "1000000",
		ValidAfter:  fmt.Sprintf("%d", time.Now().Unix()+3600),
		ValidBefore: fmt.Sprintf("%d", time.Now().Unix()+7200),
		Nonce:       "0x0000000000000000000000000000000000000000000000000000000000000001",
	}
	sig := signAuthorization(t, key, auth)

	f := &Facilitator{ChainID: testChainID, AssetName: "USD Coin", AssetVersion: "2"}
	req := x402.PaymentRequirements{PayTo: to, Asset: testAsset, Amount: "1000000"}
	resp, err := f.Verify(context.Background(), evmPaymentPayload(sig, auth), req)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if resp.IsValid {
		t.Fatal("IsValid = true, want false when validAfter is still in the future")
	}
	if resp.InvalidReason != x402.Family(x402.ReasonValidAfterFmt, "evm") {
		t.Fatalf("InvalidReason = %q, want the evm-family validAfter reason", resp.InvalidReason)
	}
}

func TestFacilitator_Verify_TamperedSignatureRejected(t *testing.T) {
	key, _ := crypto.GenerateKey()
	from := crypto.PubkeyToAddress(key.PublicKey).Hex()
	to := common.HexToAddress("0xpayee00000000000000000000000000000000").Hex()
	auth := validAuthorization(from, to, "1000000")
	sig := signAuthorization(t, key, auth)
	auth.Value = "2000000" // tamper the signed amount after signing

	f := &Facilitator{ChainID: testChainID, AssetName: "USD Coin", AssetVersion: "2"}
	req := x402.PaymentRequirements{PayTo: to, Asset: testAsset, Amount: "1000000"}
	resp, err := f.Verify(context.Background(), evmPaymentPayload(sig, auth), req)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if resp.IsValid {
		t.Fatal("IsValid = true, want false when the signature doesn't match the (tampered) authorization")
	}
	if resp.InvalidReason != x402.Family(x402.ReasonSignatureInvalidFmt, "evm") {
		t.Fatalf("InvalidReason = %q, want the evm-family signature-invalid reason", resp.InvalidReason)
	}
}

func TestFacilitator_Verify_UnderpaidValueRejected(t *testing.T) {
	key, _ := crypto.GenerateKey()
	from := crypto.PubkeyToAddress(key.PublicKey).Hex()
	to := common.HexToAddress("0xpayee00000000000000000000000000000000").Hex()
	auth := validAuthorization(from, to, "100")
	sig := signAuthorization(t, key, auth)

	f := &Facilitator{ChainID: testChainID, AssetName: "USD Coin", AssetVersion: "2"}
	req := x402.PaymentRequirements{PayTo: to, Asset: testAsset, Amount: "1000000"}
	resp, err := f.Verify(context.Background(), evmPaymentPayload(sig, auth), req)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if resp.IsValid {
		t.Fatal("IsValid = true, want false when the authorized value is below what's required")
	}
}

func TestFacilitator_GetExtra_DefaultsToUSDCNameVersion(t *testing.T) {
	f := &Facilitator{}
	extra := f.GetExtra("eip155:8453")
	if extra["name"] != "USD Coin" || extra["version"] != "2" {
		t.Fatalf("GetExtra() = %+v, want USD Coin/2 defaults", extra)
	}
}

func TestFacilitator_GetExtra_UsesConfiguredAsset(t *testing.T) {
	f := &Facilitator{AssetName: "My Token", AssetVersion: "1"}
	extra := f.GetExtra("eip155:8453")
	if extra["name"] != "My Token" || extra["version"] != "1" {
		t.Fatalf("GetExtra() = %+v, want My Token/1", extra)
	}
}

func TestServer_BuildRequirement_EmbedsAssetExtra(t *testing.T) {
	s := Server{AssetName: "My Token", AssetVersion: "1"}
	route := x402.RouteConfig{Price: "$0.10", Network: "eip155:8453", PayTo: "0xpayee", Resource: "/evm-article"}
	req, err := s.BuildRequirement(route, x402.AcceptOption{})
	if err != nil {
		t.Fatalf("BuildRequirement() error = %v", err)
	}
	if req.Extra["name"] != "My Token" || req.Extra["version"] != "1" {
		t.Fatalf("Extra = %+v, want My Token/1", req.Extra)
	}
}

func TestPackTransferWithAuthorization_LengthMatchesSelectorPlusNineWords(t *testing.T) {
	data := packTransferWithAuthorization(common.Address{}, common.Address{}, big.NewInt(1), big.NewInt(0), big.NewInt(100), make([]byte, 32), 27, [32]byte{}, [32]byte{})
	if len(data) != 4+32*9 {
		t.Fatalf("len(data) = %d, want %d", len(data), 4+32*9)
	}
}
