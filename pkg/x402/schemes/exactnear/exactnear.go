// Package exactnear implements the exact-NEAR payment scheme: a
// Borsh-serialized SignedTransaction carrying either a native NEAR Transfer
// action or a FunctionCall action invoking a NEP-141 fungible-token
// ft_transfer, submitted through NEAR's JSON-RPC broadcast_tx_commit.
//
// Borsh action-enum discriminants (FunctionCall = 2, Transfer = 3) are
// documented in SPEC_FULL.md §9 as an Open Question resolution, grounded on
// original_source's NEAR integration notes. No NEAR Go SDK is present in the
// pack; the decode below follows CedrosPay's pkg/x402/solana verifier idiom
// of hand-walking a known wire layout rather than depending on an SDK.
package exactnear

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/x402-protocol/core/pkg/x402"
)

const (
	actionFunctionCall uint8 = 2
	actionTransfer     uint8 = 3
)

type nearPayload struct {
	SignedTransaction string `json:"signedTransaction"` // base64 Borsh
}

func decodePayload(payload x402.PaymentPayload) (nearPayload, error) {
	raw, ok := payload.Payload.(map[string]any)
	if !ok {
		return nearPayload{}, x402.NewVerifyError(x402.ReasonInvalidPayload, errors.New("exact-near payload is not an object"))
	}
	tx, _ := raw["signedTransaction"].(string)
	if tx == "" {
		return nearPayload{}, x402.NewVerifyError(x402.ReasonInvalidPayload, errors.New("exact-near payload missing signedTransaction"))
	}
	return nearPayload{SignedTransaction: tx}, nil
}

// decodedAction is the subset of a Borsh Transaction's action list this
// scheme cares about: the discriminant plus the raw receiver/amount it found.
type decodedAction struct {
	Kind      uint8
	Receiver  string
	AmountRaw string
}

// decodeSignerAndAction walks just enough of the Borsh SignedTransaction
// layout (signer_id, public_key, nonce, receiver_id, actions) to extract the
// signer account id and the first Transfer/FunctionCall action.
func decodeSignerAndAction(raw []byte) (signer string, action decodedAction, err error) {
	r := bytes.NewReader(raw)

	signer, err = readBorshString(r)
	if err != nil {
		return "", decodedAction{}, fmt.Errorf("exactnear: read signer_id: %w", err)
	}

	// public_key: 1 key-type byte + 32 bytes ed25519.
	if _, err := r.Seek(33, 1); err != nil {
		return "", decodedAction{}, fmt.Errorf("exactnear: skip public_key: %w", err)
	}

	var nonce uint64
	if err := binary.Read(r, binary.LittleEndian, &nonce); err != nil {
		return "", decodedAction{}, fmt.Errorf("exactnear: read nonce: %w", err)
	}

	receiver, err := readBorshString(r)
	if err != nil {
		return "", decodedAction{}, fmt.Errorf("exactnear: read receiver_id: %w", err)
	}
	// block_hash: fixed 32 bytes.
	if _, err := r.Seek(32, 1); err != nil {
		return "", decodedAction{}, fmt.Errorf("exactnear: skip block_hash: %w", err)
	}

	var numActions uint32
	if err := binary.Read(r, binary.LittleEndian, &numActions); err != nil {
		return "", decodedAction{}, fmt.Errorf("exactnear: read actions length: %w", err)
	}
	if numActions == 0 {
		return "", decodedAction{}, errors.New("exactnear: no actions in transaction")
	}

	var kind uint8
	if err := binary.Read(r, binary.LittleEndian, &kind); err != nil {
		return "", decodedAction{}, fmt.Errorf("exactnear: read action discriminant: %w", err)
	}

	switch kind {
	case actionTransfer:
		var amount [16]byte // u128 little-endian
		if err := binary.Read(r, binary.LittleEndian, &amount); err != nil {
			return "", decodedAction{}, fmt.Errorf("exactnear: read transfer amount: %w", err)
		}
		return signer, decodedAction{Kind: kind, Receiver: receiver, AmountRaw: u128LEToDecimal(amount)}, nil
	case actionFunctionCall:
		// method_name, args (both length-prefixed), gas (u64), deposit (u128).
		// A ft_transfer FunctionCall deposits 1 yoctoNEAR and carries the
		// receiver/amount inside its JSON args payload instead of the
		// action's own deposit field.
		if _, err := readBorshString(r); err != nil { // method_name
			return "", decodedAction{}, fmt.Errorf("exactnear: read method_name: %w", err)
		}
		argsBytes, err := readBorshBytes(r)
		if err != nil {
			return "", decodedAction{}, fmt.Errorf("exactnear: read args: %w", err)
		}
		var args struct {
			ReceiverID string `json:"receiver_id"`
			Amount     string `json:"amount"`
		}
		if err := json.Unmarshal(argsBytes, &args); err != nil {
			return "", decodedAction{}, fmt.Errorf("exactnear: decode ft_transfer args: %w", err)
		}
		return signer, decodedAction{Kind: kind, Receiver: args.ReceiverID, AmountRaw: args.Amount}, nil
	default:
		return "", decodedAction{}, fmt.Errorf("exactnear: unsupported action discriminant %d", kind)
	}
}

func readBorshString(r *bytes.Reader) (string, error) {
	b, err := readBorshBytes(r)
	return string(b), err
}

func readBorshBytes(r *bytes.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	if _, err := r.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func u128LEToDecimal(b [16]byte) string {
	var v uint64
	// Only the low 8 bytes: NEAR transfer amounts this protocol handles
	// never exceed a u64, since the requirement builder caps route prices.
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return fmt.Sprintf("%d", v)
}

// Facilitator verifies exact-near payments by decoding the transaction
// locally and settles them through a NEAR RPC endpoint's broadcast_tx_commit
// JSON-RPC method.
type Facilitator struct {
	HTTPClient *http.Client
	RPCURL     string
}

func (f *Facilitator) httpClient() *http.Client {
	if f.HTTPClient != nil {
		return f.HTTPClient
	}
	return http.DefaultClient
}

func (f *Facilitator) Verify(ctx context.Context, payload x402.PaymentPayload, req x402.PaymentRequirements) (x402.VerifyResponse, error) {
	nearP, err := decodePayload(payload)
	if err != nil {
		return x402.VerifyResponse{}, err
	}
	raw, err := base64.StdEncoding.DecodeString(nearP.SignedTransaction)
	if err != nil {
		return x402.VerifyResponse{IsValid: false, InvalidReason: x402.ReasonInvalidPayload}, nil
	}
	signer, action, err := decodeSignerAndAction(raw)
	if err != nil {
		return x402.VerifyResponse{IsValid: false, InvalidReason: x402.ReasonInvalidPayload}, nil
	}
	if action.Receiver != req.PayTo {
		return x402.VerifyResponse{IsValid: false, InvalidReason: x402.Family(x402.ReasonRecipientMismatchFmt, "near")}, nil
	}
	ok, err := x402.AmountAtLeast(action.AmountRaw, req.Amount)
	if err != nil {
		return x402.VerifyResponse{}, err
	}
	if !ok {
		return x402.VerifyResponse{IsValid: false, InvalidReason: x402.ReasonAmountMismatch}, nil
	}
	return x402.VerifyResponse{IsValid: true, Payer: signer}, nil
}

func (f *Facilitator) Settle(ctx context.Context, payload x402.PaymentPayload, req x402.PaymentRequirements) (x402.SettleResponse, error) {
	nearP, err := decodePayload(payload)
	if err != nil {
		return x402.SettleResponse{Network: req.Network, ErrorReason: x402.ReasonInvalidPayload}, nil
	}
	hash, err := broadcastTxCommit(ctx, f.httpClient(), f.RPCURL, nearP.SignedTransaction)
	if err != nil {
		return x402.SettleResponse{Network: req.Network, ErrorReason: x402.TransactionFailed(err.Error())}, nil
	}
	return x402.SettleResponse{Success: true, Transaction: hash, Network: req.Network}, nil
}

// Server builds exact-near PaymentRequirements for a route.
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
