// Package exactevm implements the exact-EVM payment scheme: EIP-3009
// transferWithAuthorization (and, behind the same payload shape, EIP-2612
// permit) signed as EIP-712 typed data and recovered/verified facilitator-
// side before being relayed on-chain.
//
// Grounded on yv-was-taken-stronghold's internal/wallet/x402.go and
// testing.go (EIP-712 typed-data construction via go-ethereum's
// signer/core/apitypes, signature recovery via crypto.SigToPub), adapted
// from client-side signing only into a facilitator-side Verify/Settle pair
// plus a client-side Sign used by pkg/x402client (§4.5.1, §4.5.2).
package exactevm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/x402-protocol/core/pkg/x402"
)

// EVMAuthorization is the EIP-3009 TransferWithAuthorization tuple a payer
// signs, carried in PaymentPayload.Payload under "authorization".
type EVMAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// evmPayload is the scheme-specific shape of PaymentPayload.Payload.
type evmPayload struct {
	Signature     string           `json:"signature"`
	Authorization EVMAuthorization `json:"authorization"`
}

// Signer abstracts a single-account EIP-712 signer. internal/signing provides
// the serialized, HSM-safe implementation wired in by the client engine.
type Signer interface {
	Address() common.Address
	SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error)
}

// Facilitator verifies EIP-3009 authorizations against their typed-data hash
// and, on Settle, submits the relay transaction that calls
// transferWithAuthorization on the asset contract.
type Facilitator struct {
	Client       *ethclient.Client
	ChainID      int64
	RelayAccount bind.SignerFn // signs the outer relay transaction
	RelayFrom    common.Address
	AssetName    string // e.g. "USD Coin", used in the EIP-712 domain
	AssetVersion string // e.g. "2"
}

func decodePayload(payload x402.PaymentPayload) (evmPayload, error) {
	raw, ok := payload.Payload.(map[string]any)
	if !ok {
		return evmPayload{}, x402.NewVerifyError(x402.ReasonInvalidPayload, errors.New("exact-evm payload is not an object"))
	}
	sig, _ := raw["signature"].(string)
	authRaw, _ := raw["authorization"].(map[string]any)
	if sig == "" || authRaw == nil {
		return evmPayload{}, x402.NewVerifyError(x402.ReasonInvalidPayload, errors.New("exact-evm payload missing signature or authorization"))
	}
	auth := EVMAuthorization{
		From:        str(authRaw["from"]),
		To:          str(authRaw["to"]),
		Value:       str(authRaw["value"]),
		ValidAfter:  str(authRaw["validAfter"]),
		ValidBefore: str(authRaw["validBefore"]),
		Nonce:       str(authRaw["nonce"]),
	}
	return evmPayload{Signature: sig, Authorization: auth}, nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// expiryBuffer is the minimum time an authorization's validBefore must still
// be in the future at verification time (§4.5.1: "validAfter ≤ now ≤
// validBefore − 6s"), guarding against a payload that is technically
// unexpired but would expire mid-settlement.
const expiryBuffer = 6 * time.Second

// balanceOfSelector is the 4-byte selector of balanceOf(address).
var balanceOfSelector = crypto.Keccak256([]byte("balanceOf(address)"))[:4]

// erc20BalanceOf reads an ERC-20 token's balanceOf(account) via eth_call,
// used to reject an authorization from a wallet that cannot actually cover
// it (§4.5.1) instead of letting it fail later on-chain.
func erc20BalanceOf(ctx context.Context, client *ethclient.Client, token, account common.Address) (*big.Int, error) {
	data := append(append([]byte{}, balanceOfSelector...), common.LeftPadBytes(account.Bytes(), 32)...)
	result, err := client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(result), nil
}

// typedData builds the EIP-712 TransferWithAuthorization typed-data document
// for a given asset/network/authorization triple. Both the client signer and
// the facilitator's verifier must build byte-identical typed data.
func typedData(chainID int64, assetAddr, assetName, assetVersion string, auth EVMAuthorization) (apitypes.TypedData, error) {
	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return apitypes.TypedData{}, fmt.Errorf("exactevm: invalid value %q", auth.Value)
	}
	validAfter, ok := new(big.Int).SetString(auth.ValidAfter, 10)
	if !ok {
		return apitypes.TypedData{}, fmt.Errorf("exactevm: invalid validAfter %q", auth.ValidAfter)
	}
	validBefore, ok := new(big.Int).SetString(auth.ValidBefore, 10)
	if !ok {
		return apitypes.TypedData{}, fmt.Errorf("exactevm: invalid validBefore %q", auth.ValidBefore)
	}

	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TransferWithAuthorization": []apitypes.Type{
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              assetName,
			Version:           assetVersion,
			ChainId:           math.NewHexOrDecimal256(chainID),
			VerifyingContract: assetAddr,
		},
		Message: apitypes.TypedDataMessage{
			"from":        auth.From,
			"to":          auth.To,
			"value":       (*math.HexOrDecimal256)(value),
			"validAfter":  (*math.HexOrDecimal256)(validAfter),
			"validBefore": (*math.HexOrDecimal256)(validBefore),
			"nonce":       hexutil.Encode(common.FromHex(auth.Nonce)),
		},
	}, nil
}

// Verify checks the recipient, amount and validity window, then the payer's
// token balance when a Client is set, and only then recovers the signer from
// the EIP-712 hash and checks it against auth.From (§4.5.1, §7).
func (f *Facilitator) Verify(ctx context.Context, payload x402.PaymentPayload, req x402.PaymentRequirements) (x402.VerifyResponse, error) {
	evmP, err := decodePayload(payload)
	if err != nil {
		return x402.VerifyResponse{}, err
	}
	auth := evmP.Authorization

	if !common.IsHexAddress(auth.To) || common.HexToAddress(auth.To) != common.HexToAddress(req.PayTo) {
		return x402.VerifyResponse{IsValid: false, InvalidReason: x402.Family(x402.ReasonRecipientMismatchFmt, "evm")}, nil
	}

	ok, err := x402.AmountAtLeast(auth.Value, req.Amount)
	if err != nil {
		return x402.VerifyResponse{}, err
	}
	if !ok {
		return x402.VerifyResponse{IsValid: false, InvalidReason: x402.Family(x402.ReasonPayloadValueFmt, "evm")}, nil
	}

	now := time.Now().Unix()
	validBefore, _ := new(big.Int).SetString(auth.ValidBefore, 10)
	validAfter, _ := new(big.Int).SetString(auth.ValidAfter, 10)
	if validBefore != nil && validBefore.Int64() <= now+int64(expiryBuffer.Seconds()) {
		return x402.VerifyResponse{IsValid: false, InvalidReason: x402.Family(x402.ReasonValidBeforeFmt, "evm")}, nil
	}
	if validAfter != nil && validAfter.Int64() > now {
		return x402.VerifyResponse{IsValid: false, InvalidReason: x402.Family(x402.ReasonValidAfterFmt, "evm")}, nil
	}

	if f.Client != nil {
		balance, err := erc20BalanceOf(ctx, f.Client, common.HexToAddress(req.Asset), common.HexToAddress(auth.From))
		if err != nil {
			return x402.VerifyResponse{}, x402.NewVerifyError(x402.ReasonUnexpectedVerifyError, err)
		}
		required, ok := new(big.Int).SetString(req.Amount, 10)
		if ok && balance.Cmp(required) < 0 {
			return x402.VerifyResponse{IsValid: false, InvalidReason: x402.ReasonInsufficientFunds}, nil
		}
	}

	assetName, assetVersion := f.AssetName, f.AssetVersion
	if assetName == "" {
		assetName = "USD Coin"
	}
	if assetVersion == "" {
		assetVersion = "2"
	}
	data, err := typedData(f.ChainID, req.Asset, assetName, assetVersion, auth)
	if err != nil {
		return x402.VerifyResponse{}, x402.NewVerifyError(x402.ReasonInvalidPayload, err)
	}
	hash, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return x402.VerifyResponse{}, x402.NewVerifyError(x402.ReasonInvalidPayload, err)
	}

	sigBytes := common.FromHex(evmP.Signature)
	if len(sigBytes) != 65 {
		return x402.VerifyResponse{IsValid: false, InvalidReason: x402.Family(x402.ReasonSignatureInvalidFmt, "evm")}, nil
	}
	sigForRecovery := make([]byte, 65)
	copy(sigForRecovery, sigBytes)
	if sigForRecovery[64] >= 27 {
		sigForRecovery[64] -= 27
	}

	recoveredPub, err := crypto.SigToPub(hash, sigForRecovery)
	if err != nil {
		return x402.VerifyResponse{IsValid: false, InvalidReason: x402.Family(x402.ReasonSignatureInvalidFmt, "evm")}, nil
	}
	recovered := crypto.PubkeyToAddress(*recoveredPub)
	if recovered != common.HexToAddress(auth.From) {
		return x402.VerifyResponse{IsValid: false, InvalidReason: x402.Family(x402.ReasonSignatureInvalidFmt, "evm")}, nil
	}

	if f.Client != nil {
		code, err := f.Client.CodeAt(ctx, recovered, nil)
		if err == nil && len(code) > 0 {
			// Smart-contract wallets need ERC-6492 wrapped signatures; plain
			// transferWithAuthorization recovery doesn't apply to them.
			return x402.VerifyResponse{IsValid: false, InvalidReason: x402.ReasonUndeployedSmartWallet}, nil
		}
	}

	return x402.VerifyResponse{IsValid: true, Payer: recovered.Hex()}, nil
}

// transferWithAuthorizationSelector is the 4-byte selector of
// transferWithAuthorization(address,address,uint256,uint256,uint256,bytes32,uint8,bytes32,bytes32).
var transferWithAuthorizationSelector = crypto.Keccak256([]byte("transferWithAuthorization(address,address,uint256,uint256,uint256,bytes32,uint8,bytes32,bytes32)"))[:4]

// Settle submits the relay transaction invoking transferWithAuthorization on
// the asset contract using the facilitator's own relay account as the
// transaction sender (the payer never pays gas under exact-EVM).
func (f *Facilitator) Settle(ctx context.Context, payload x402.PaymentPayload, req x402.PaymentRequirements) (x402.SettleResponse, error) {
	evmP, err := decodePayload(payload)
	if err != nil {
		return x402.SettleResponse{Network: req.Network, ErrorReason: x402.ReasonInvalidPayload}, nil
	}
	auth := evmP.Authorization

	sigBytes := common.FromHex(evmP.Signature)
	if len(sigBytes) != 65 {
		return x402.SettleResponse{Network: req.Network, ErrorReason: x402.Family(x402.ReasonSignatureInvalidFmt, "evm")}, nil
	}
	r := [32]byte{}
	s := [32]byte{}
	copy(r[:], sigBytes[0:32])
	copy(s[:], sigBytes[32:64])
	v := sigBytes[64]
	if v < 27 {
		v += 27
	}

	value, _ := new(big.Int).SetString(auth.Value, 10)
	validAfter, _ := new(big.Int).SetString(auth.ValidAfter, 10)
	validBefore, _ := new(big.Int).SetString(auth.ValidBefore, 10)

	data := packTransferWithAuthorization(common.HexToAddress(auth.From), common.HexToAddress(auth.To), value, validAfter, validBefore, common.FromHex(auth.Nonce), v, r, s)

	nonce, err := f.Client.PendingNonceAt(ctx, f.RelayFrom)
	if err != nil {
		return x402.SettleResponse{Network: req.Network, ErrorReason: x402.TransactionFailed(err.Error())}, nil
	}
	gasPrice, err := f.Client.SuggestGasPrice(ctx)
	if err != nil {
		return x402.SettleResponse{Network: req.Network, ErrorReason: x402.TransactionFailed(err.Error())}, nil
	}
	to := common.HexToAddress(req.Asset)
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      150000,
		GasPrice: gasPrice,
		Data:     data,
	})

	if f.RelayAccount == nil {
		return x402.SettleResponse{Network: req.Network, ErrorReason: x402.ReasonFeePayerNotManaged}, nil
	}
	signed, err := f.RelayAccount(f.RelayFrom, tx)
	if err != nil {
		return x402.SettleResponse{Network: req.Network, ErrorReason: x402.TransactionFailed(err.Error())}, nil
	}

	if err := f.Client.SendTransaction(ctx, signed); err != nil {
		return x402.SettleResponse{Network: req.Network, ErrorReason: x402.TransactionFailed(err.Error())}, nil
	}

	receipt, err := bind.WaitMined(ctx, f.Client, signed)
	if err != nil {
		return x402.SettleResponse{Network: req.Network, Transaction: signed.Hash().Hex(), ErrorReason: x402.TransactionFailed(err.Error())}, nil
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return x402.SettleResponse{Network: req.Network, Transaction: signed.Hash().Hex(), ErrorReason: x402.ReasonInvalidTransactionState}, nil
	}

	return x402.SettleResponse{Success: true, Transaction: signed.Hash().Hex(), Network: req.Network, Payer: auth.From}, nil
}

func packTransferWithAuthorization(from, to common.Address, value, validAfter, validBefore *big.Int, nonce []byte, v byte, r, s [32]byte) []byte {
	out := make([]byte, 0, 4+32*9)
	out = append(out, transferWithAuthorizationSelector...)
	out = append(out, common.LeftPadBytes(from.Bytes(), 32)...)
	out = append(out, common.LeftPadBytes(to.Bytes(), 32)...)
	out = append(out, common.LeftPadBytes(value.Bytes(), 32)...)
	out = append(out, common.LeftPadBytes(validAfter.Bytes(), 32)...)
	out = append(out, common.LeftPadBytes(validBefore.Bytes(), 32)...)
	out = append(out, common.LeftPadBytes(nonce, 32)...)
	out = append(out, common.LeftPadBytes([]byte{v}, 32)...)
	out = append(out, r[:]...)
	out = append(out, s[:]...)
	return out
}

func evmExtra(assetName, assetVersion string) map[string]any {
	if assetName == "" {
		assetName = "USD Coin"
	}
	if assetVersion == "" {
		assetVersion = "2"
	}
	return map[string]any{"name": assetName, "version": assetVersion}
}

// GetExtra reports the EIP-712 domain name/version a client needs to sign a
// transferWithAuthorization for this asset, for GET /supported (§4.4, §4.7).
func (f *Facilitator) GetExtra(network string) map[string]any {
	return evmExtra(f.AssetName, f.AssetVersion)
}

// Server builds exact-evm PaymentRequirements for a route. AssetName and
// AssetVersion should mirror the paired Facilitator's, so the advertised
// requirement's extra.name/extra.version match what Verify will recover
// against.
type Server struct {
	AssetName    string
	AssetVersion string
}

func (s Server) BuildRequirement(route x402.RouteConfig, opt x402.AcceptOption) (x402.PaymentRequirements, error) {
	reqs, err := x402.BuildRequirements(route, nil, evmExtra(s.AssetName, s.AssetVersion))
	if err != nil {
		return x402.PaymentRequirements{}, err
	}
	if len(reqs) == 0 {
		return x402.PaymentRequirements{}, x402.NewVerifyError(x402.ReasonInvalidPaymentRequirements, errors.New("no requirement built"))
	}
	return reqs[0], nil
}

// Client signs an exact-evm EIP-3009 authorization using a Signer resolved
// from signerRef (internal/signing's per-account serialized queue).
type Client struct {
	Resolve      func(signerRef string) (Signer, error)
	NonceSource  func() ([]byte, error)
	AssetName    string
	AssetVersion string
	ValidityFor  time.Duration
}

func (c Client) Sign(ctx context.Context, req x402.PaymentRequirements, signerRef string) (x402.PaymentPayload, error) {
	signer, err := c.Resolve(signerRef)
	if err != nil {
		return x402.PaymentPayload{}, err
	}
	nonce, err := c.NonceSource()
	if err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("exactevm: generate nonce: %w", err)
	}
	validity := c.ValidityFor
	if validity == 0 {
		validity = 5 * time.Minute
	}
	now := time.Now()
	auth := EVMAuthorization{
		From:        signer.Address().Hex(),
		To:          req.PayTo,
		Value:       req.Amount,
		ValidAfter:  "0",
		ValidBefore: fmt.Sprintf("%d", now.Add(validity).Unix()),
		Nonce:       hexutil.Encode(nonce),
	}

	chainID, err := x402.EVMChainID(req.Network)
	if err != nil {
		return x402.PaymentPayload{}, err
	}
	assetName, assetVersion := c.AssetName, c.AssetVersion
	if assetName == "" {
		assetName = "USD Coin"
	}
	if assetVersion == "" {
		assetVersion = "2"
	}
	data, err := typedData(chainID, req.Asset, assetName, assetVersion, auth)
	if err != nil {
		return x402.PaymentPayload{}, err
	}
	sig, err := signer.SignTypedData(ctx, data)
	if err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("exactevm: sign typed data: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}

	return x402.PaymentPayload{
		X402Version: x402.CurrentVersion,
		Scheme:      req.Scheme,
		Network:     req.Network,
		Payload: map[string]any{
			"signature":     hexutil.Encode(sig),
			"authorization": auth,
		},
	}, nil
}
