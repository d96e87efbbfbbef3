// Package gassponsor implements the EIP-2612 Gas Sponsoring extension
// (§4.8): a client may attach a Permit2 signature transfer permit alongside
// its exact-EVM payload, granting the canonical Permit2 contract an
// allowance so the facilitator can settle without the payer ever sending a
// separate approve() transaction.
//
// Grounded on pkg/x402/schemes/exactevm's EIP-712 typed-data construction
// and crypto.SigToPub recovery (the same apitypes.TypedData/TypedDataAndHash
// idiom, applied to Permit2's PermitTransferFrom struct instead of
// TransferWithAuthorization), wired in as a pkg/x402/extensions.Hook that
// runs at StageBeforeSettle ahead of exactevm.Facilitator.Settle.
package gassponsor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/x402-protocol/core/pkg/x402"
	"github.com/x402-protocol/core/pkg/x402/extensions"
)

// CanonicalPermit2Address is the Permit2 contract's address, identical
// across every EVM chain it's deployed to (deterministic CREATE2 deploy).
const CanonicalPermit2Address = "0x000000000022D473030F116dDEE9F6B43aC78BA3"

// Permit is the Permit2 SignatureTransfer permit a payer signs, carried as
// PaymentPayload.Extensions["gassponsor"].Info under the keys below.
type Permit struct {
	Token     string `json:"token"`
	Amount    string `json:"amount"`
	Spender   string `json:"spender"`
	Nonce     string `json:"nonce"`
	Deadline  string `json:"deadline"`
	Owner     string `json:"owner"`
	Signature string `json:"signature"`
}

func decodePermit(info map[string]any) (Permit, error) {
	get := func(k string) string {
		s, _ := info[k].(string)
		return s
	}
	p := Permit{
		Token:     get("token"),
		Amount:    get("amount"),
		Spender:   get("spender"),
		Nonce:     get("nonce"),
		Deadline:  get("deadline"),
		Owner:     get("owner"),
		Signature: get("signature"),
	}
	if p.Token == "" || p.Amount == "" || p.Spender == "" || p.Nonce == "" || p.Deadline == "" || p.Owner == "" || p.Signature == "" {
		return Permit{}, errors.New("gassponsor: permit missing a required field")
	}
	return p, nil
}

// permitTypedData builds the EIP-712 typed data for Permit2's
// PermitTransferFrom struct. Domain carries no "version" field, matching
// the deployed Permit2 contract's EIP712Domain (name + chainId + verifying
// contract only).
func permitTypedData(chainID int64, verifyingContract string, p Permit) (apitypes.TypedData, error) {
	amount, ok := new(big.Int).SetString(p.Amount, 10)
	if !ok {
		return apitypes.TypedData{}, fmt.Errorf("gassponsor: invalid amount %q", p.Amount)
	}
	nonce, ok := new(big.Int).SetString(p.Nonce, 10)
	if !ok {
		return apitypes.TypedData{}, fmt.Errorf("gassponsor: invalid nonce %q", p.Nonce)
	}
	deadline, ok := new(big.Int).SetString(p.Deadline, 10)
	if !ok {
		return apitypes.TypedData{}, fmt.Errorf("gassponsor: invalid deadline %q", p.Deadline)
	}

	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TokenPermissions": []apitypes.Type{
				{Name: "token", Type: "address"},
				{Name: "amount", Type: "uint256"},
			},
			"PermitTransferFrom": []apitypes.Type{
				{Name: "permitted", Type: "TokenPermissions"},
				{Name: "spender", Type: "address"},
				{Name: "nonce", Type: "uint256"},
				{Name: "deadline", Type: "uint256"},
			},
		},
		PrimaryType: "PermitTransferFrom",
		Domain: apitypes.TypedDataDomain{
			Name:              "Permit2",
			ChainId:           math.NewHexOrDecimal256(chainID),
			VerifyingContract: verifyingContract,
		},
		Message: apitypes.TypedDataMessage{
			"permitted": apitypes.TypedDataMessage{
				"token":  p.Token,
				"amount": (*math.HexOrDecimal256)(amount),
			},
			"spender":  p.Spender,
			"nonce":    (*math.HexOrDecimal256)(nonce),
			"deadline": (*math.HexOrDecimal256)(deadline),
		},
	}, nil
}

// VerifyPermit recovers the signer of a Permit2 PermitTransferFrom and
// confirms it matches p.Owner, deadline hasn't passed, and the permit
// actually covers spender/amount for the requirement being settled.
func VerifyPermit(chainID int64, permit2Address string, p Permit, req x402.PaymentRequirements) error {
	if permit2Address == "" {
		permit2Address = CanonicalPermit2Address
	}
	if !common.IsHexAddress(p.Spender) || common.HexToAddress(p.Spender) != common.HexToAddress(req.PayTo) {
		return errors.New("gassponsor: permit spender does not match requirement payTo")
	}
	if !common.IsHexAddress(p.Token) || common.HexToAddress(p.Token) != common.HexToAddress(req.Asset) {
		return errors.New("gassponsor: permit token does not match requirement asset")
	}
	ok, err := x402.AmountAtLeast(p.Amount, req.Amount)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("gassponsor: permit amount is below the requirement's amount")
	}

	deadline, ok := new(big.Int).SetString(p.Deadline, 10)
	if !ok {
		return fmt.Errorf("gassponsor: invalid deadline %q", p.Deadline)
	}
	if deadline.Int64() <= time.Now().Unix() {
		return errors.New("gassponsor: permit deadline has passed")
	}

	data, err := permitTypedData(chainID, permit2Address, p)
	if err != nil {
		return err
	}
	hash, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return fmt.Errorf("gassponsor: hash typed data: %w", err)
	}

	sigBytes := common.FromHex(p.Signature)
	if len(sigBytes) != 65 {
		return errors.New("gassponsor: permit signature must be 65 bytes")
	}
	sig := make([]byte, 65)
	copy(sig, sigBytes)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	recoveredPub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return fmt.Errorf("gassponsor: recover signer: %w", err)
	}
	recovered := crypto.PubkeyToAddress(*recoveredPub)
	if !common.IsHexAddress(p.Owner) || recovered != common.HexToAddress(p.Owner) {
		return errors.New("gassponsor: permit signature does not recover to the declared owner")
	}
	return nil
}

// Submitter submits a verified Permit2 permit on-chain ahead of the
// scheme's own settle transaction, so the payer's token allowance exists by
// the time transferWithAuthorization (or a direct transferFrom) runs.
type Submitter interface {
	SubmitPermit(ctx context.Context, chainID int64, p Permit) (txHash string, err error)
}

// EthPermit2Submitter calls Permit2.permitTransferFrom via the facilitator's
// own relay account, mirroring exactevm.Facilitator.Settle's
// nonce/gas-price/send/wait-mined sequence.
type EthPermit2Submitter struct {
	Client         *ethclient.Client
	RelayAccount   bind.SignerFn
	RelayFrom      common.Address
	Permit2Address string
}

// permitTransferFromSelector is the 4-byte selector of
// permitTransferFrom((address,uint256),uint256,uint256,address,bytes) on
// the canonical Permit2 SignatureTransfer interface (single-token variant
// taking the recipient of record from the call, not a transferDetails
// struct, since x402 settlement always transfers the full permitted amount
// to the permit's own spender).
var permitTransferFromSelector = crypto.Keccak256([]byte("permitTransferFrom((address,uint256),uint256,uint256,address,bytes)"))[:4]

// encodePermitTransferFromArgs ABI-encodes the five static head words
// (token, amount, nonce, deadline, owner) followed by the dynamic
// signature's tail (offset word in the head, then length + right-padded
// data), since go-ethereum's abi.Pack isn't pulled in for a single call site.
func encodePermitTransferFromArgs(token common.Address, amount, nonce, deadline *big.Int, owner common.Address, signature []byte) []byte {
	const headWords = 6 // token, amount, nonce, deadline, owner, signature-offset
	head := make([]byte, 0, headWords*32)
	head = append(head, common.LeftPadBytes(token.Bytes(), 32)...)
	head = append(head, common.LeftPadBytes(amount.Bytes(), 32)...)
	head = append(head, common.LeftPadBytes(nonce.Bytes(), 32)...)
	head = append(head, common.LeftPadBytes(deadline.Bytes(), 32)...)
	head = append(head, common.LeftPadBytes(owner.Bytes(), 32)...)
	head = append(head, common.LeftPadBytes(big.NewInt(int64(headWords*32)).Bytes(), 32)...)

	tail := make([]byte, 0, 32+len(signature)+31)
	tail = append(tail, common.LeftPadBytes(big.NewInt(int64(len(signature))).Bytes(), 32)...)
	tail = append(tail, common.RightPadBytes(signature, ((len(signature)+31)/32)*32)...)

	return append(head, tail...)
}

func (s *EthPermit2Submitter) SubmitPermit(ctx context.Context, chainID int64, p Permit) (string, error) {
	to := s.Permit2Address
	if to == "" {
		to = CanonicalPermit2Address
	}

	amount, _ := new(big.Int).SetString(p.Amount, 10)
	nonce, _ := new(big.Int).SetString(p.Nonce, 10)
	deadline, _ := new(big.Int).SetString(p.Deadline, 10)
	sigBytes := common.FromHex(p.Signature)

	data := append([]byte{}, permitTransferFromSelector...)
	data = append(data, encodePermitTransferFromArgs(common.HexToAddress(p.Token), amount, nonce, deadline, common.HexToAddress(p.Owner), sigBytes)...)

	txNonce, err := s.Client.PendingNonceAt(ctx, s.RelayFrom)
	if err != nil {
		return "", fmt.Errorf("gassponsor: fetch relay nonce: %w", err)
	}
	gasPrice, err := s.Client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("gassponsor: suggest gas price: %w", err)
	}
	toAddr := common.HexToAddress(to)
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    txNonce,
		To:       &toAddr,
		Value:    big.NewInt(0),
		Gas:      150000,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := s.RelayAccount(s.RelayFrom, tx)
	if err != nil {
		return "", fmt.Errorf("gassponsor: sign relay tx: %w", err)
	}
	if err := s.Client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("gassponsor: submit permit tx: %w", err)
	}
	if _, err := bind.WaitMined(ctx, s.Client, signed); err != nil {
		return signed.Hash().Hex(), fmt.Errorf("gassponsor: wait for permit tx: %w", err)
	}
	return signed.Hash().Hex(), nil
}

// Hook wires gas sponsorship into the resource-server engine's extension
// pipeline (pkg/x402/extensions). It only acts when the payload declares a
// "gassponsor" extension; routes without it pass through untouched.
type Hook struct {
	ChainID        int64
	Permit2Address string
	Submitter      Submitter
}

func (h *Hook) Name() string { return "gassponsor" }

func (h *Hook) Handle(ctx context.Context, event extensions.Event) (extensions.Decision, error) {
	ext, ok := event.Payload.Extensions["gassponsor"]
	if !ok {
		return extensions.Decision{}, nil
	}
	permit, err := decodePermit(ext.Info)
	if err != nil {
		return extensions.Decision{Abort: true, AbortReason: string(x402.ReasonInvalidPayload)}, nil
	}
	if err := VerifyPermit(h.ChainID, h.Permit2Address, permit, event.Requirement); err != nil {
		return extensions.Decision{Abort: true, AbortReason: string(x402.Family(x402.ReasonSignatureInvalidFmt, "evm"))}, nil
	}
	if h.Submitter != nil {
		if _, err := h.Submitter.SubmitPermit(ctx, h.ChainID, permit); err != nil {
			return extensions.Decision{}, x402.NewVerifyError(x402.ReasonUnexpectedSettleError, err)
		}
	}
	return extensions.Decision{}, nil
}
