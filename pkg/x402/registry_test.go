package x402

import (
	"context"
	"testing"
)

type fakeFacilitator struct{ tag string }

func (f fakeFacilitator) Verify(_ context.Context, _ PaymentPayload, _ PaymentRequirements) (VerifyResponse, error) {
	return VerifyResponse{}, nil
}

func (f fakeFacilitator) Settle(_ context.Context, _ PaymentPayload, _ PaymentRequirements) (SettleResponse, error) {
	return SettleResponse{}, nil
}

func TestRegistry_ExactMatchTakesPrecedenceOverWildcard(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(SchemeKind{Scheme: "exact", Family: FamilyEVM, Facilitator: fakeFacilitator{tag: "wildcard"}}); err != nil {
		t.Fatalf("Register(wildcard) error = %v", err)
	}
	if err := reg.Register(SchemeKind{Scheme: "exact", Network: "eip155:8453", Facilitator: fakeFacilitator{tag: "exact"}}); err != nil {
		t.Fatalf("Register(exact) error = %v", err)
	}

	kind, err := reg.Resolve("exact", "eip155:8453")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got := kind.Facilitator.(fakeFacilitator).tag; got != "exact" {
		t.Fatalf("Resolve() matched %q, want exact registration to win over the family wildcard", got)
	}

	kind, err = reg.Resolve("exact", "eip155:137")
	if err != nil {
		t.Fatalf("Resolve() for a different eip155 chain should fall back to the wildcard: %v", err)
	}
	if got := kind.Facilitator.(fakeFacilitator).tag; got != "wildcard" {
		t.Fatalf("Resolve() matched %q, want the family wildcard", got)
	}
}

func TestRegistry_ResolveUnregisteredSchemeErrors(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Resolve("exact", "eip155:8453")
	if err == nil {
		t.Fatal("Resolve() on an empty registry should error")
	}
	regErr, ok := err.(*RegistryError)
	if !ok {
		t.Fatalf("error = %T, want *RegistryError", err)
	}
	if regErr.Reason != ReasonUnsupportedScheme {
		t.Fatalf("Reason = %s, want %s", regErr.Reason, ReasonUnsupportedScheme)
	}
}

func TestRegistry_RegisterDuplicateExactErrors(t *testing.T) {
	reg := NewRegistry()
	kind := SchemeKind{Scheme: "exact", Network: "eip155:8453", Facilitator: fakeFacilitator{}}
	if err := reg.Register(kind); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}
	err := reg.Register(kind)
	if err == nil {
		t.Fatal("second Register() with the same (scheme, network) should error")
	}
	regErr, ok := err.(*RegistryError)
	if !ok || regErr.Reason != ReasonAlreadyRegistered {
		t.Fatalf("error = %v, want ReasonAlreadyRegistered", err)
	}
}

func TestRegistry_RegisterEmptySchemeErrors(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(SchemeKind{Network: "eip155:8453"}); err == nil {
		t.Fatal("Register() with an empty scheme should error")
	}
}

func TestRegistry_RegisterWildcardWithoutFamilyErrors(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(SchemeKind{Scheme: "exact"}); err == nil {
		t.Fatal("Register() with no Network and no Family should error")
	}
}

func TestRegistry_ResolveNormalizesLegacyAlias(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(SchemeKind{Scheme: "exact", Network: "eip155:8453", Facilitator: fakeFacilitator{}}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := reg.Resolve("exact", "base"); err != nil {
		t.Fatalf("Resolve() with legacy alias %q should normalize to eip155:8453: %v", "base", err)
	}
}

func TestRegistry_SupportedListsExactAndWildcardEntries(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(SchemeKind{Scheme: "exact", Network: "eip155:8453", Facilitator: fakeFacilitator{}}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := reg.Register(SchemeKind{Scheme: "exact", Family: FamilySolana, Facilitator: fakeFacilitator{}}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	kinds := reg.Supported()
	if len(kinds) != 2 {
		t.Fatalf("Supported() returned %d entries, want 2", len(kinds))
	}
}
