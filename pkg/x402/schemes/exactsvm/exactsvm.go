// Package exactsvm implements the exact-SVM payment scheme: the payload is a
// base64-encoded, partially or fully signed Solana transaction carrying an
// SPL token transfer to the resource server's payTo account.
//
// Grounded on CedrosPay's pkg/x402/solana package (verifier.go, builder.go,
// confirmation.go, queue.go, health.go), generalized from a single hardcoded
// Solana-only resource server into one SchemeFacilitator/SchemeClient
// implementation registered against every solana:* network (§4.5.3).
package exactsvm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
	"github.com/mr-tron/base58"

	"github.com/x402-protocol/core/pkg/x402"
)

// pollInterval and blockhashValidityWindow mirror CedrosPay's
// pkg/x402/solana RPC-polling fallback constants.
const (
	pollInterval            = 2 * time.Second
	blockhashValidityWindow = 90 * time.Second
	defaultConfirmTimeout   = 45 * time.Second
)

// Facilitator verifies and settles exact-SVM payloads against a Solana
// cluster. One instance is registered per CAIP-2 solana network.
type Facilitator struct {
	RPCClient *rpc.Client
	WSClient  *ws.Client
	Network   string
}

// NewFacilitator dials an RPC endpoint (and, if wsURL is non-empty, a
// WebSocket endpoint used for fast signature confirmation) for one Solana
// cluster.
func NewFacilitator(ctx context.Context, network, rpcURL, wsURL string) (*Facilitator, error) {
	f := &Facilitator{RPCClient: rpc.New(rpcURL), Network: network}
	if wsURL != "" {
		wsClient, err := ws.Connect(ctx, wsURL)
		if err != nil {
			return nil, fmt.Errorf("exactsvm: connect websocket: %w", err)
		}
		f.WSClient = wsClient
	}
	return f, nil
}

// svmPayload is the scheme-specific shape carried in PaymentPayload.Payload.
type svmPayload struct {
	Transaction string `json:"transaction"` // base64-encoded solana.Transaction
}

func decodePayload(payload x402.PaymentPayload) (svmPayload, error) {
	raw, ok := payload.Payload.(map[string]any)
	if !ok {
		return svmPayload{}, x402.NewVerifyError(x402.ReasonInvalidPayload, errors.New("exact-svm payload is not an object"))
	}
	txB64, _ := raw["transaction"].(string)
	if txB64 == "" {
		return svmPayload{}, x402.NewVerifyError(x402.ReasonInvalidPayload, errors.New("exact-svm payload missing transaction"))
	}
	return svmPayload{Transaction: txB64}, nil
}

// Verify decodes the transaction, checks its structure against req, and
// simulates it without submitting — a dry-run confirmation that the transfer
// instruction pays the right recipient in the right asset and amount.
func (f *Facilitator) Verify(ctx context.Context, payload x402.PaymentPayload, req x402.PaymentRequirements) (x402.VerifyResponse, error) {
	svmP, err := decodePayload(payload)
	if err != nil {
		return x402.VerifyResponse{}, err
	}

	tx, err := solana.TransactionFromBase64(svmP.Transaction)
	if err != nil {
		return x402.VerifyResponse{IsValid: false, InvalidReason: x402.ReasonInvalidPayload}, nil
	}
	if len(tx.Message.AccountKeys) == 0 {
		return x402.VerifyResponse{IsValid: false, InvalidReason: x402.ReasonInvalidPayload}, nil
	}

	payer, amount, err := extractTransferAuthority(tx, req)
	if err != nil {
		var verr *x402.VerifyError
		if errors.As(err, &verr) {
			return x402.VerifyResponse{IsValid: false, InvalidReason: verr.Reason}, nil
		}
		return x402.VerifyResponse{}, err
	}

	ok, err := x402.AmountAtLeast(amount, req.Amount)
	if err != nil {
		return x402.VerifyResponse{}, err
	}
	if !ok {
		return x402.VerifyResponse{IsValid: false, InvalidReason: x402.ReasonAmountMismatch}, nil
	}

	sim, err := f.RPCClient.SimulateTransaction(ctx, tx)
	if err != nil || (sim != nil && sim.Value != nil && sim.Value.Err != nil) {
		return x402.VerifyResponse{IsValid: false, InvalidReason: x402.ReasonInvalidTransactionState}, nil
	}

	return x402.VerifyResponse{IsValid: true, Payer: payer}, nil
}

// Settle submits the transaction and awaits confirmation, preferring the
// WebSocket signature subscription and falling back to RPC polling if the
// socket drops, per CedrosPay's awaitConfirmation fallback chain.
func (f *Facilitator) Settle(ctx context.Context, payload x402.PaymentPayload, req x402.PaymentRequirements) (x402.SettleResponse, error) {
	svmP, err := decodePayload(payload)
	if err != nil {
		return x402.SettleResponse{Network: req.Network, ErrorReason: x402.ReasonInvalidPayload}, nil
	}
	tx, err := solana.TransactionFromBase64(svmP.Transaction)
	if err != nil {
		return x402.SettleResponse{Network: req.Network, ErrorReason: x402.ReasonInvalidPayload}, nil
	}

	sig, err := f.RPCClient.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{SkipPreflight: false})
	if err != nil {
		return x402.SettleResponse{Network: req.Network, Success: false, ErrorReason: x402.TransactionFailed(err.Error())}, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, defaultConfirmTimeout)
	defer cancel()
	if err := f.awaitConfirmation(waitCtx, sig); err != nil {
		return x402.SettleResponse{Network: req.Network, Transaction: sig.String(), Success: false, ErrorReason: x402.TransactionFailed(err.Error())}, nil
	}

	payer, _, _ := extractTransferAuthority(tx, req)
	return x402.SettleResponse{Success: true, Transaction: sig.String(), Network: req.Network, Payer: payer}, nil
}

func (f *Facilitator) awaitConfirmation(ctx context.Context, sig solana.Signature) error {
	if f.WSClient != nil {
		if err := f.awaitViaWebSocket(ctx, sig); err == nil {
			return nil
		}
	}
	return f.awaitViaPolling(ctx, sig)
}

func (f *Facilitator) awaitViaWebSocket(ctx context.Context, sig solana.Signature) error {
	sub, err := f.WSClient.SignatureSubscribe(sig, rpc.CommitmentConfirmed)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()
	res, err := sub.Recv(ctx)
	if err != nil {
		return err
	}
	if res == nil {
		return errors.New("exactsvm: empty confirmation result")
	}
	if res.Value.Err != nil {
		return fmt.Errorf("exactsvm: transaction error: %v", res.Value.Err)
	}
	return nil
}

func (f *Facilitator) awaitViaPolling(ctx context.Context, sig solana.Signature) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	deadline := time.Now().Add(blockhashValidityWindow)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			statuses, err := f.RPCClient.GetSignatureStatuses(ctx, true, sig)
			if err == nil && statuses != nil && len(statuses.Value) > 0 && statuses.Value[0] != nil {
				st := statuses.Value[0]
				if st.Err != nil {
					return fmt.Errorf("exactsvm: transaction error: %v", st.Err)
				}
				if st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed || st.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
					return nil
				}
			}
			if time.Now().After(deadline) {
				return errors.New("exactsvm: confirmation timed out")
			}
		}
	}
}

// extractTransferAuthority walks the compiled instructions looking for an
// SPL token transfer (or transferChecked) instruction paying req.PayTo in
// req.Asset, returning the paying wallet and the atomic amount transferred.
// The destination token account is checked against the associated token
// account FindAssociatedTokenAddress derives for (req.PayTo, req.Asset): a
// payload that transfers the right amount to any other account — including
// a correctly-minted token account owned by someone else — is rejected,
// since simulation alone only proves the instruction would succeed, not
// that it pays the resource server.
func extractTransferAuthority(tx *solana.Transaction, req x402.PaymentRequirements) (payer, amount string, err error) {
	if len(tx.Message.AccountKeys) == 0 {
		return "", "", x402.NewVerifyError(x402.ReasonInvalidPayload, errors.New("no account keys"))
	}
	// The fee payer / first signer is the payer's wallet for exact-svm: the
	// user signs and, in gasless mode, a facilitator-managed wallet co-signs
	// as the second signer, never the first.
	payerKey := tx.Message.AccountKeys[0]
	payer = payerKey.String()

	payToWallet, err := addressFromBase58(req.PayTo)
	if err != nil {
		return "", "", x402.NewVerifyError(x402.ReasonInvalidPaymentRequirements, fmt.Errorf("exactsvm: requirement payTo is not a valid address: %w", err))
	}
	mint, err := addressFromBase58(req.Asset)
	if err != nil {
		return "", "", x402.NewVerifyError(x402.ReasonInvalidPaymentRequirements, fmt.Errorf("exactsvm: requirement asset is not a valid mint: %w", err))
	}
	expectedDest, _, err := solana.FindAssociatedTokenAddress(payToWallet, mint)
	if err != nil {
		return "", "", x402.NewVerifyError(x402.ReasonInvalidPaymentRequirements, fmt.Errorf("exactsvm: derive associated token account: %w", err))
	}

	for _, ix := range tx.Message.Instructions {
		progIdx := int(ix.ProgramIDIndex)
		if progIdx >= len(tx.Message.AccountKeys) {
			continue
		}
		program := tx.Message.AccountKeys[progIdx]
		if program.String() != solana.TokenProgramID.String() {
			continue
		}
		if len(ix.Data) < 9 {
			continue
		}
		// SPL Token Transfer = instruction discriminant 3, TransferChecked = 12.
		switch ix.Data[0] {
		case 3:
			if len(ix.Accounts) < 2 {
				continue
			}
			dest, ok := accountAt(tx, ix.Accounts[1])
			if !ok || !dest.Equals(expectedDest) {
				return "", "", x402.NewVerifyError(x402.ReasonInvalidPayload, errors.New("exactsvm: transfer destination does not match payTo/asset"))
			}
			amt := decodeLEUint64(ix.Data[1:9])
			return payer, fmt.Sprintf("%d", amt), nil
		case 12:
			if len(ix.Accounts) < 3 {
				continue
			}
			ixMint, ok := accountAt(tx, ix.Accounts[1])
			if !ok || !ixMint.Equals(mint) {
				return "", "", x402.NewVerifyError(x402.ReasonAssetMismatch, errors.New("exactsvm: transferChecked mint does not match requirement asset"))
			}
			dest, ok := accountAt(tx, ix.Accounts[2])
			if !ok || !dest.Equals(expectedDest) {
				return "", "", x402.NewVerifyError(x402.ReasonInvalidPayload, errors.New("exactsvm: transferChecked destination does not match payTo/asset"))
			}
			amt := decodeLEUint64(ix.Data[1:9])
			return payer, fmt.Sprintf("%d", amt), nil
		}
	}
	return "", "", x402.NewVerifyError(x402.ReasonInvalidPayload, errors.New("no SPL transfer instruction found"))
}

// accountAt resolves a compiled instruction's account index against the
// transaction's flat AccountKeys list.
func accountAt(tx *solana.Transaction, idx uint16) (solana.PublicKey, bool) {
	if int(idx) >= len(tx.Message.AccountKeys) {
		return solana.PublicKey{}, false
	}
	return tx.Message.AccountKeys[idx], true
}

func decodeLEUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// Server builds exact-svm PaymentRequirements for a route.
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

// Client signs an exact-svm payload using a caller-supplied Solana keypair.
// signerRef is opaque to the registry; wiring a real keypair lookup is the
// resource-server/client engine's responsibility (internal/signing).
type Client struct {
	Resolve func(signerRef string) (solana.PrivateKey, error)
	Build   func(ctx context.Context, req x402.PaymentRequirements, payer solana.PublicKey) (*solana.Transaction, error)
}

func (c Client) Sign(ctx context.Context, req x402.PaymentRequirements, signerRef string) (x402.PaymentPayload, error) {
	key, err := c.Resolve(signerRef)
	if err != nil {
		return x402.PaymentPayload{}, err
	}
	tx, err := c.Build(ctx, req, key.PublicKey())
	if err != nil {
		return x402.PaymentPayload{}, err
	}
	if _, err := tx.Sign(func(pub solana.PublicKey) *solana.PrivateKey {
		if pub.Equals(key.PublicKey()) {
			return &key
		}
		return nil
	}); err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("exactsvm: sign transaction: %w", err)
	}
	encoded, err := tx.ToBase64()
	if err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("exactsvm: encode transaction: %w", err)
	}
	return x402.PaymentPayload{
		X402Version: x402.CurrentVersion,
		Scheme:      req.Scheme,
		Network:     req.Network,
		Payload:     map[string]any{"transaction": encoded},
	}, nil
}

// addressFromBase58 validates a base58-encoded Solana address, used by the
// requirement builder when a route overrides payTo with a raw string.
func addressFromBase58(addr string) (solana.PublicKey, error) {
	decoded, err := base58.Decode(addr)
	if err != nil || len(decoded) != 32 {
		return solana.PublicKey{}, fmt.Errorf("exactsvm: invalid base58 address %q", addr)
	}
	return solana.PublicKeyFromBytes(decoded), nil
}
