// Package exactaptos implements the exact-Aptos payment scheme: a
// BCS-serialized signed transaction carrying a fungible-asset transfer entry
// function call, verified by simulation and settled by submission (§4.5.4).
//
// No Aptos Go SDK appears anywhere in the retrieved pack, so the BCS entry-
// function decode here is hand-rolled in the style of CedrosPay's
// pkg/x402/solana verifier (manual instruction-byte walking rather than a
// typed SDK) — the same "parse raw bytes against a known layout" idiom,
// applied to Aptos's BCS encoding instead of Solana's instruction format.
package exactaptos

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/x402-protocol/core/pkg/x402"
)

// aptosPayload carries a base64 BCS-encoded SignedTransaction.
type aptosPayload struct {
	Transaction string `json:"transaction"`
}

func decodePayload(payload x402.PaymentPayload) (aptosPayload, error) {
	raw, ok := payload.Payload.(map[string]any)
	if !ok {
		return aptosPayload{}, x402.NewVerifyError(x402.ReasonInvalidPayload, errors.New("exact-aptos payload is not an object"))
	}
	tx, _ := raw["transaction"].(string)
	if tx == "" {
		return aptosPayload{}, x402.NewVerifyError(x402.ReasonInvalidPayload, errors.New("exact-aptos payload missing transaction"))
	}
	return aptosPayload{Transaction: tx}, nil
}

// transferArgs is the decoded (sender, recipient, asset, amount) of a
// "0x1::primary_fungible_store::transfer" entry function call.
type transferArgs struct {
	Sender    string
	Recipient string
	Asset     string
	Amount    string
}

// aptosFrameworkAddress is "0x1" in its canonical 32-byte form, the address
// the fungible_asset framework module is published under.
var aptosFrameworkAddress = "0x" + strings.Repeat("0", 62) + "01"

// entryFunctionPayload is the TransactionPayload enum variant index for an
// EntryFunction call, per Aptos's BCS-serialized RawTransaction layout.
const entryFunctionPayload = 2

func readULEB128(r *bytes.Reader) (uint64, error) {
	var value uint64
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		value |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return value, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, fmt.Errorf("uleb128 overflow")
		}
	}
}

func readAddress(r *bytes.Reader) (string, error) {
	addr := make([]byte, 32)
	if _, err := readFull(r, addr); err != nil {
		return "", fmt.Errorf("truncated address: %w", err)
	}
	return "0x" + hex.EncodeToString(addr), nil
}

func readFull(r *bytes.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		b, err := r.ReadByte()
		if err != nil {
			return n, err
		}
		buf[n] = b
		n++
	}
	return n, nil
}

func readBCSString(r *bytes.Reader) (string, error) {
	n, err := readULEB128(r)
	if err != nil {
		return "", fmt.Errorf("truncated string length: %w", err)
	}
	buf := make([]byte, n)
	if _, err := readFull(r, buf); err != nil {
		return "", fmt.Errorf("truncated string bytes: %w", err)
	}
	return string(buf), nil
}

func readBCSBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readULEB128(r)
	if err != nil {
		return nil, fmt.Errorf("truncated bytes length: %w", err)
	}
	buf := make([]byte, n)
	if _, err := readFull(r, buf); err != nil {
		return nil, fmt.Errorf("truncated bytes: %w", err)
	}
	return buf, nil
}

// decodeBCSTransfer walks a raw BCS-encoded RawTransaction looking for a
// "primary_fungible_store::transfer(sender, metadata, recipient, amount)"
// entry function payload, returning the sender, recipient, fungible-asset
// metadata address, and atomic amount. Anything else — a different module,
// function, or argument shape — is rejected rather than guessed at, since a
// facilitator that simulated an unrecognized payload without understanding
// its effects could be tricked into paying out on a transaction whose
// balance change only coincidentally matches what Verify expects.
func decodeBCSTransfer(raw []byte) (transferArgs, error) {
	r := bytes.NewReader(raw)

	sender, err := readAddress(r)
	if err != nil {
		return transferArgs{}, fmt.Errorf("exactaptos: %w", err)
	}
	if _, err := readFull(r, make([]byte, 8)); err != nil { // sequence_number
		return transferArgs{}, fmt.Errorf("exactaptos: truncated sequence number: %w", err)
	}

	variant, err := readULEB128(r)
	if err != nil {
		return transferArgs{}, fmt.Errorf("exactaptos: truncated payload variant: %w", err)
	}
	if variant != entryFunctionPayload {
		return transferArgs{}, fmt.Errorf("exactaptos: unsupported transaction payload variant %d", variant)
	}

	moduleAddr, err := readAddress(r)
	if err != nil {
		return transferArgs{}, fmt.Errorf("exactaptos: %w", err)
	}
	moduleName, err := readBCSString(r)
	if err != nil {
		return transferArgs{}, fmt.Errorf("exactaptos: %w", err)
	}
	function, err := readBCSString(r)
	if err != nil {
		return transferArgs{}, fmt.Errorf("exactaptos: %w", err)
	}
	if moduleAddr != aptosFrameworkAddress || moduleName != "primary_fungible_store" || function != "transfer" {
		return transferArgs{}, fmt.Errorf("exactaptos: unsupported entry function %s::%s::%s", moduleAddr, moduleName, function)
	}

	tyArgCount, err := readULEB128(r)
	if err != nil {
		return transferArgs{}, fmt.Errorf("exactaptos: truncated type-args count: %w", err)
	}
	if tyArgCount != 0 {
		return transferArgs{}, fmt.Errorf("exactaptos: transfer takes no type arguments, got %d", tyArgCount)
	}

	argCount, err := readULEB128(r)
	if err != nil {
		return transferArgs{}, fmt.Errorf("exactaptos: truncated args count: %w", err)
	}
	if argCount != 3 {
		return transferArgs{}, fmt.Errorf("exactaptos: expected 3 transfer arguments, got %d", argCount)
	}

	metadataArg, err := readBCSBytes(r)
	if err != nil {
		return transferArgs{}, fmt.Errorf("exactaptos: metadata arg: %w", err)
	}
	recipientArg, err := readBCSBytes(r)
	if err != nil {
		return transferArgs{}, fmt.Errorf("exactaptos: recipient arg: %w", err)
	}
	amountArg, err := readBCSBytes(r)
	if err != nil {
		return transferArgs{}, fmt.Errorf("exactaptos: amount arg: %w", err)
	}
	if len(metadataArg) != 32 || len(recipientArg) != 32 || len(amountArg) != 8 {
		return transferArgs{}, fmt.Errorf("exactaptos: malformed transfer argument lengths")
	}

	return transferArgs{
		Sender:    sender,
		Recipient: "0x" + hex.EncodeToString(recipientArg),
		Asset:     "0x" + hex.EncodeToString(metadataArg),
		Amount:    fmt.Sprintf("%d", binary.LittleEndian.Uint64(amountArg)),
	}, nil
}

// normalizeAddress strips the "0x" prefix and leading zeros so "0x1" and its
// fully-padded 32-byte form compare equal.
func normalizeAddress(addr string) string {
	addr = strings.ToLower(strings.TrimPrefix(addr, "0x"))
	addr = strings.TrimLeft(addr, "0")
	if addr == "" {
		return "0"
	}
	return addr
}

func addressesEqual(a, b string) bool {
	return normalizeAddress(a) == normalizeAddress(b)
}

// Facilitator verifies and settles exact-aptos payments via the Aptos fullnode
// REST API's /transactions/simulate and /transactions endpoints.
type Facilitator struct {
	HTTPClient *http.Client
	NodeURL    string

	// Signers lists the addresses the facilitator holds signing/sponsorship
	// authority for (e.g. a fee-payer account that co-signs settlement).
	// Verify refuses a payload whose sender is also a configured signer,
	// since a sponsored transaction draining its own sponsor's account
	// would otherwise simulate and settle successfully (§4.5.4).
	Signers []string
}

func (f *Facilitator) httpClient() *http.Client {
	if f.HTTPClient != nil {
		return f.HTTPClient
	}
	return http.DefaultClient
}

func aptosExtra(signers []string) map[string]any {
	if len(signers) == 0 {
		return nil
	}
	return map[string]any{"feePayer": signers[0]}
}

// GetExtra reports the facilitator's configured fee-payer address for
// GET /supported's per-network extra object (§4.4, §4.7).
func (f *Facilitator) GetExtra(network string) map[string]any {
	return aptosExtra(f.Signers)
}

// GetSigners reports the addresses this facilitator signs settlements from,
// consulted by Verify's self-draining check (§4.5.4).
func (f *Facilitator) GetSigners(network string) []string {
	return f.Signers
}

// Verify decodes the sender/recipient/asset/amount from the BCS payload,
// checks them against req and against the facilitator's own signer set, and
// asks the fullnode to simulate the transaction.
func (f *Facilitator) Verify(ctx context.Context, payload x402.PaymentPayload, req x402.PaymentRequirements) (x402.VerifyResponse, error) {
	aptosP, err := decodePayload(payload)
	if err != nil {
		return x402.VerifyResponse{}, err
	}
	raw, err := decodeTxBytes(aptosP.Transaction)
	if err != nil {
		return x402.VerifyResponse{IsValid: false, InvalidReason: x402.ReasonInvalidPayload}, nil
	}
	args, err := decodeBCSTransfer(raw)
	if err != nil {
		return x402.VerifyResponse{IsValid: false, InvalidReason: x402.ReasonInvalidPayload}, nil
	}

	for _, signer := range f.Signers {
		if addressesEqual(args.Sender, signer) {
			return x402.VerifyResponse{IsValid: false, InvalidReason: x402.Family(x402.ReasonFeePayerTransferringFundsFmt, "aptos")}, nil
		}
	}

	if !addressesEqual(args.Recipient, req.PayTo) {
		return x402.VerifyResponse{IsValid: false, InvalidReason: x402.Family(x402.ReasonRecipientMismatchFmt, "aptos")}, nil
	}
	if !addressesEqual(args.Asset, req.Asset) {
		return x402.VerifyResponse{IsValid: false, InvalidReason: x402.ReasonAssetMismatch}, nil
	}
	ok, err := x402.AmountAtLeast(args.Amount, req.Amount)
	if err != nil {
		return x402.VerifyResponse{}, err
	}
	if !ok {
		return x402.VerifyResponse{IsValid: false, InvalidReason: x402.Family(x402.ReasonPayloadValueFmt, "aptos")}, nil
	}

	sim, err := simulateTransaction(ctx, f.httpClient(), f.NodeURL, aptosP.Transaction)
	if err != nil {
		return x402.VerifyResponse{}, x402.NewVerifyError(x402.ReasonUnexpectedVerifyError, err)
	}
	if !sim.Success {
		return x402.VerifyResponse{IsValid: false, InvalidReason: x402.ReasonInvalidTransactionState}, nil
	}

	return x402.VerifyResponse{IsValid: true, Payer: args.Sender}, nil
}

// Settle submits the signed transaction to the fullnode and returns the
// hash it reports; it does not wait for the transaction's inclusion.
func (f *Facilitator) Settle(ctx context.Context, payload x402.PaymentPayload, req x402.PaymentRequirements) (x402.SettleResponse, error) {
	aptosP, err := decodePayload(payload)
	if err != nil {
		return x402.SettleResponse{Network: req.Network, ErrorReason: x402.ReasonInvalidPayload}, nil
	}
	hash, err := submitTransaction(ctx, f.httpClient(), f.NodeURL, aptosP.Transaction)
	if err != nil {
		return x402.SettleResponse{Network: req.Network, ErrorReason: x402.TransactionFailed(err.Error())}, nil
	}
	return x402.SettleResponse{Success: true, Transaction: hash, Network: req.Network}, nil
}

// Server builds exact-aptos PaymentRequirements for a route. Signers should
// be set to the same addresses as the paired Facilitator's, so a route's
// advertised requirements carry the feePayer the client needs to know about
// before it ever calls Verify.
type Server struct {
	Signers []string
}

func (s Server) BuildRequirement(route x402.RouteConfig, opt x402.AcceptOption) (x402.PaymentRequirements, error) {
	reqs, err := x402.BuildRequirements(route, nil, aptosExtra(s.Signers))
	if err != nil {
		return x402.PaymentRequirements{}, err
	}
	if len(reqs) == 0 {
		return x402.PaymentRequirements{}, x402.NewVerifyError(x402.ReasonInvalidPaymentRequirements, errors.New("no requirement built"))
	}
	return reqs[0], nil
}
