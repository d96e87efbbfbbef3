// Package registrywiring builds a populated pkg/x402.Registry from
// ChainsConfig, the one piece of config->scheme construction pkg/cedros.NewApp
// needs whether it's running an in-process facilitator or simply dispatching
// resource-server requirement-building against the same chain set.
//
// Grounded on CedrosPay's pkg/cedros/app.go NewApp wiring (construct one
// verifier per configured chain, fail fast on a bad RPC URL), generalized
// from a single hardcoded Solana verifier into one registration per
// configured network family. Also derives exact-EVM's relay transaction
// signer from EVMChainConfig.RelayPrivateKey, serialized through
// internal/signing the same way CedrosPay serializes wallet signers.
package registrywiring

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/crypto/sha3"

	"github.com/x402-protocol/core/internal/config"
	"github.com/x402-protocol/core/internal/metrics"
	"github.com/x402-protocol/core/internal/signing"
	"github.com/x402-protocol/core/pkg/x402"
	"github.com/x402-protocol/core/pkg/x402/schemes/cashu"
	"github.com/x402-protocol/core/pkg/x402/schemes/exactaptos"
	"github.com/x402-protocol/core/pkg/x402/schemes/exactevm"
	"github.com/x402-protocol/core/pkg/x402/schemes/exacthedera"
	"github.com/x402-protocol/core/pkg/x402/schemes/exacthyperliquid"
	"github.com/x402-protocol/core/pkg/x402/schemes/exactnear"
	"github.com/x402-protocol/core/pkg/x402/schemes/exactsvm"
	"github.com/x402-protocol/core/pkg/x402/schemes/lightning"
)

// Build registers one exact-* scheme facilitator+server per configured
// chain. A scheme with no configuration section (zero-value CAIP-2 network)
// is skipped rather than registered with an empty RPC URL. signingCfg and m
// size and instrument the per-relay-account serialized signer queue (§5:
// wallet signers are serialized per account); m may be nil.
func Build(ctx context.Context, cfg config.ChainsConfig, signingCfg config.SigningConfig, m *metrics.Metrics) (*x402.Registry, error) {
	reg := x402.NewRegistry()
	relayQueue := signing.NewQueue(signing.Config{
		QueueDepth:  signingCfg.QueueDepth,
		SignTimeout: signingCfg.SignTimeout.Duration,
	})

	for _, evm := range cfg.EVM {
		if evm.Network == "" {
			continue
		}
		client, err := ethclient.DialContext(ctx, evm.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("registrywiring: dial evm rpc %s: %w", evm.RPCURL, err)
		}
		facilitator := &exactevm.Facilitator{
			Client:       client,
			ChainID:      evm.ChainID,
			AssetName:    evm.AssetName,
			AssetVersion: evm.AssetVersion,
		}
		if evm.RelayPrivateKey != "" {
			relayFrom, signerFn, err := evmRelaySigner(evm, relayQueue, m)
			if err != nil {
				return nil, fmt.Errorf("registrywiring: build evm relay signer for %s: %w", evm.Network, err)
			}
			facilitator.RelayFrom = relayFrom
			facilitator.RelayAccount = signerFn
		}
		if err := reg.Register(x402.SchemeKind{
			Scheme:      "exact",
			Network:     evm.Network,
			Family:      x402.FamilyEVM,
			Facilitator: facilitator,
			Server:      exactevm.Server{AssetName: evm.AssetName, AssetVersion: evm.AssetVersion},
		}); err != nil {
			return nil, err
		}
	}

	if cfg.Solana.Network != "" {
		facilitator, err := exactsvm.NewFacilitator(ctx, cfg.Solana.Network, cfg.Solana.RPCURL, cfg.Solana.WSURL)
		if err != nil {
			return nil, fmt.Errorf("registrywiring: build solana facilitator: %w", err)
		}
		if err := reg.Register(x402.SchemeKind{
			Scheme:      "exact",
			Network:     cfg.Solana.Network,
			Family:      x402.FamilySolana,
			Facilitator: facilitator,
			Server:      exactsvm.Server{},
		}); err != nil {
			return nil, err
		}
	}

	if cfg.Aptos.Network != "" {
		var signers []string
		if cfg.Aptos.RelayPrivateKey != "" {
			addr, err := aptosAddressFromPrivateKey(cfg.Aptos.RelayPrivateKey)
			if err != nil {
				return nil, fmt.Errorf("registrywiring: derive aptos signer address: %w", err)
			}
			signers = []string{addr}
		}
		facilitator := &exactaptos.Facilitator{
			HTTPClient: http.DefaultClient,
			NodeURL:    cfg.Aptos.RPCURL,
			Signers:    signers,
		}
		if err := reg.Register(x402.SchemeKind{
			Scheme:      "exact",
			Network:     cfg.Aptos.Network,
			Family:      x402.FamilyAptos,
			Facilitator: facilitator,
			Server:      exactaptos.Server{Signers: signers},
		}); err != nil {
			return nil, err
		}
	}

	if cfg.NEAR.Network != "" {
		facilitator := &exactnear.Facilitator{
			HTTPClient: http.DefaultClient,
			RPCURL:     cfg.NEAR.RPCURL,
		}
		if err := reg.Register(x402.SchemeKind{
			Scheme:      "exact",
			Network:     cfg.NEAR.Network,
			Family:      x402.FamilyNEAR,
			Facilitator: facilitator,
			Server:      exactnear.Server{},
		}); err != nil {
			return nil, err
		}
	}

	if cfg.Hedera.Network != "" {
		facilitator := &exacthedera.Facilitator{
			HTTPClient:        http.DefaultClient,
			GatewayURL:        cfg.Hedera.MirrorURL,
			OperatorAccountID: cfg.Hedera.OperatorAccountID,
		}
		if err := reg.Register(x402.SchemeKind{
			Scheme:      "exact",
			Network:     cfg.Hedera.Network,
			Family:      x402.FamilyHedera,
			Facilitator: facilitator,
			Server:      exacthedera.Server{OperatorAccountID: cfg.Hedera.OperatorAccountID},
		}); err != nil {
			return nil, err
		}
	}

	if cfg.Hyperliquid.Network != "" {
		facilitator := &exacthyperliquid.Facilitator{
			HTTPClient: http.DefaultClient,
			APIURL:     cfg.Hyperliquid.APIURL,
			Poll: exacthyperliquid.PollConfig{
				Retries:  cfg.Hyperliquid.Poll.Retries,
				Delay:    cfg.Hyperliquid.Poll.Delay.Duration,
				Lookback: cfg.Hyperliquid.Poll.Lookback.Duration,
			},
			SignatureChainID: cfg.Hyperliquid.SignatureChainID,
		}
		if err := reg.Register(x402.SchemeKind{
			Scheme:      "exact",
			Network:     cfg.Hyperliquid.Network,
			Family:      x402.FamilyHyperliquid,
			Facilitator: facilitator,
			Server:      exacthyperliquid.Server{SignatureChainID: cfg.Hyperliquid.SignatureChainID},
		}); err != nil {
			return nil, err
		}
	}

	if cfg.Lightning.LNDHost != "" {
		facilitator := &lightning.Facilitator{
			HTTPClient: http.DefaultClient,
			NodeURL:    cfg.Lightning.LNDHost,
			Macaroon:   cfg.Lightning.MacaroonHex,
		}
		if err := reg.Register(x402.SchemeKind{
			Scheme:  "exact",
			Network: "", // family wildcard: every btc-lightning-* network shares one LND node config
			Family:  x402.FamilyLightning,
			Facilitator: facilitator,
			Server:      lightning.Server{},
		}); err != nil {
			return nil, err
		}
	}

	if cfg.Cashu.MintURL != "" {
		facilitator := &cashu.Facilitator{
			HTTPClient: http.DefaultClient,
		}
		if err := reg.Register(x402.SchemeKind{
			Scheme:      "exact",
			Network:     "", // family wildcard: Cashu has no per-network CAIP-2 split, one mint per deployment
			Family:      x402.FamilyCashu,
			Facilitator: facilitator,
			Server:      cashu.Server{},
		}); err != nil {
			return nil, err
		}
	}

	return reg, nil
}

// evmRelaySigner parses evm.RelayPrivateKey into a bind.SignerFn that signs
// the outer relay transaction exact-EVM's Settle submits on the payer's
// behalf. Signing is serialized per relay address through relayQueue: the
// same relay account backs every settlement on its chain, so two concurrent
// settles would otherwise race on the same account nonce.
func evmRelaySigner(evm config.EVMChainConfig, relayQueue *signing.Queue, m *metrics.Metrics) (common.Address, bind.SignerFn, error) {
	privKey, err := crypto.HexToECDSA(stripHexPrefix(evm.RelayPrivateKey))
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("parse relay private key: %w", err)
	}
	relayFrom := crypto.PubkeyToAddress(privKey.PublicKey)
	signer := types.NewEIP155Signer(big.NewInt(evm.ChainID))

	signerFn := bind.SignerFn(func(addr common.Address, tx *types.Transaction) (*types.Transaction, error) {
		if addr != relayFrom {
			return nil, fmt.Errorf("registrywiring: relay signer asked to sign for %s, only configured for %s", addr.Hex(), relayFrom.Hex())
		}
		start := time.Now()
		result, err := relayQueue.Do(context.Background(), relayFrom.Hex(), func(ctx context.Context) (any, error) {
			return types.SignTx(tx, signer, privKey)
		})
		if m != nil {
			m.ObserveSigningQueueWait("exact-evm-relay", time.Since(start))
		}
		if err != nil {
			if _, full := err.(*signing.ErrQueueFull); full && m != nil {
				m.ObserveSigningQueueFull("exact-evm-relay")
			}
			return nil, err
		}
		return result.(*types.Transaction), nil
	})

	return relayFrom, signerFn, nil
}

// aptosAddressFromPrivateKey derives the Aptos single-signer account address
// (sha3-256 of the ed25519 public key followed by the single-signer scheme
// discriminant byte) for the facilitator's own fee-payer/relay key, so
// exactaptos.Facilitator.Verify can refuse a sender that matches it.
func aptosAddressFromPrivateKey(hexKey string) (string, error) {
	seed, err := hex.DecodeString(stripHexPrefix(hexKey))
	if err != nil {
		return "", fmt.Errorf("decode aptos relay private key: %w", err)
	}
	var priv ed25519.PrivateKey
	switch len(seed) {
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(seed)
	case ed25519.PrivateKeySize:
		priv = ed25519.PrivateKey(seed)
	default:
		return "", fmt.Errorf("aptos relay private key must be %d or %d bytes, got %d", ed25519.SeedSize, ed25519.PrivateKeySize, len(seed))
	}
	pub := priv.Public().(ed25519.PublicKey)
	h := sha3.New256()
	h.Write(pub)
	h.Write([]byte{0x00}) // single-signer scheme discriminant
	return "0x" + hex.EncodeToString(h.Sum(nil)), nil
}

func stripHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
