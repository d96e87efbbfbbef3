package offerreceipt

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/mr-tron/base58"

	"github.com/x402-protocol/core/internal/httputil"
)

// KeyResolver resolves a did:key|did:jwk|did:web identifier (optionally
// carried as a JWS "kid" header) to the ECDSA public key that verifies it.
type KeyResolver interface {
	ResolveKey(did string) (*ecdsa.PublicKey, error)
}

// multicodecP256 is the multicodec varint prefix (0x1200) for a P-256
// public key, per the did:key method's key-encoding table.
var multicodecP256 = []byte{0x80, 0x24}

// DIDResolver dispatches to did:key, did:jwk, or did:web based on the
// identifier's method segment.
type DIDResolver struct {
	// HTTPClient is used for did:web lookups. Defaults to
	// internal/httputil.NewClient's pooled client if nil.
	HTTPClient *http.Client
}

// ResolveKey implements KeyResolver.
func (r *DIDResolver) ResolveKey(did string) (*ecdsa.PublicKey, error) {
	switch {
	case strings.HasPrefix(did, "did:key:"):
		return resolveDIDKey(did)
	case strings.HasPrefix(did, "did:jwk:"):
		return resolveDIDJWK(did)
	case strings.HasPrefix(did, "did:web:"):
		return r.resolveDIDWeb(did)
	default:
		return nil, fmt.Errorf("offerreceipt: unsupported did method in %q", did)
	}
}

func resolveDIDKey(did string) (*ecdsa.PublicKey, error) {
	encoded := strings.TrimPrefix(did, "did:key:")
	if len(encoded) == 0 || encoded[0] != 'z' {
		return nil, fmt.Errorf("offerreceipt: did:key must use base58btc multibase (leading 'z'): %q", did)
	}
	decoded, err := base58.Decode(encoded[1:])
	if err != nil {
		return nil, fmt.Errorf("offerreceipt: decode did:key: %w", err)
	}
	if len(decoded) < len(multicodecP256) || decoded[0] != multicodecP256[0] || decoded[1] != multicodecP256[1] {
		return nil, fmt.Errorf("offerreceipt: did:key is not a P-256 key: %q", did)
	}
	return unmarshalP256Point(decoded[len(multicodecP256):])
}

// jwk is the minimal EC JWK shape carried by did:jwk and did:web documents.
type jwk struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

func resolveDIDJWK(did string) (*ecdsa.PublicKey, error) {
	encoded := strings.TrimPrefix(did, "did:jwk:")
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("offerreceipt: decode did:jwk: %w", err)
	}
	var key jwk
	if err := json.Unmarshal(raw, &key); err != nil {
		return nil, fmt.Errorf("offerreceipt: parse did:jwk: %w", err)
	}
	return jwkToECDSA(key)
}

func (r *DIDResolver) resolveDIDWeb(did string) (*ecdsa.PublicKey, error) {
	client := r.HTTPClient
	if client == nil {
		client = httputil.NewClient(defaultDIDWebTimeout)
	}
	url, err := didWebDocumentURL(did)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("offerreceipt: build did:web request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("offerreceipt: fetch did:web document: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("offerreceipt: did:web document fetch returned %d", resp.StatusCode)
	}

	var doc struct {
		VerificationMethod []struct {
			PublicKeyJWK jwk `json:"publicKeyJwk"`
		} `json:"verificationMethod"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("offerreceipt: decode did:web document: %w", err)
	}
	if len(doc.VerificationMethod) == 0 {
		return nil, fmt.Errorf("offerreceipt: did:web document has no verificationMethod")
	}
	return jwkToECDSA(doc.VerificationMethod[0].PublicKeyJWK)
}

// didWebDocumentURL implements the did:web method's path-to-URL mapping:
// did:web:example.com -> https://example.com/.well-known/did.json
// did:web:example.com:user:alice -> https://example.com/user/alice/did.json
func didWebDocumentURL(did string) (string, error) {
	id := strings.TrimPrefix(did, "did:web:")
	if id == "" {
		return "", fmt.Errorf("offerreceipt: empty did:web identifier")
	}
	parts := strings.Split(id, ":")
	host := parts[0]
	if len(parts) == 1 {
		return "https://" + host + "/.well-known/did.json", nil
	}
	path := strings.Join(parts[1:], "/")
	return "https://" + host + "/" + path + "/did.json", nil
}

func jwkToECDSA(key jwk) (*ecdsa.PublicKey, error) {
	if key.Kty != "EC" || key.Crv != "P-256" {
		return nil, fmt.Errorf("offerreceipt: unsupported jwk kty/crv %q/%q", key.Kty, key.Crv)
	}
	xBytes, err := base64.RawURLEncoding.DecodeString(key.X)
	if err != nil {
		return nil, fmt.Errorf("offerreceipt: decode jwk x: %w", err)
	}
	yBytes, err := base64.RawURLEncoding.DecodeString(key.Y)
	if err != nil {
		return nil, fmt.Errorf("offerreceipt: decode jwk y: %w", err)
	}
	return &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}

func unmarshalP256Point(raw []byte) (*ecdsa.PublicKey, error) {
	x, y := elliptic.UnmarshalCompressed(elliptic.P256(), raw)
	if x == nil {
		x, y = elliptic.Unmarshal(elliptic.P256(), raw)
	}
	if x == nil {
		return nil, fmt.Errorf("offerreceipt: invalid P-256 point encoding")
	}
	return &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}, nil
}

const defaultDIDWebTimeout = defaultDIDWebTimeoutSeconds * time.Second

const defaultDIDWebTimeoutSeconds = 10 // did:web document fetch timeout, in seconds
