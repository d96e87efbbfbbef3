package receiptstore

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStore_RecordAndLookup(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	ctx := context.Background()
	receipt := Receipt{
		Scheme:        "exact",
		Network:       "eip155:8453",
		Payer:         "0xpayer",
		Resource:      "/articles/1",
		Amount:        "1000000",
		Asset:         "USDC",
		TransactionID: "0xabc123",
		SettledAt:     time.Now(),
	}

	if err := store.Record(ctx, receipt); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	got, err := store.ByTransaction(ctx, "0xabc123")
	if err != nil {
		t.Fatalf("ByTransaction() error = %v", err)
	}
	if got.Payer != "0xpayer" || got.Amount != "1000000" {
		t.Fatalf("ByTransaction() = %+v, want matching receipt", got)
	}
}

func TestMemoryStore_ByTransactionNotFound(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	_, err := store.ByTransaction(context.Background(), "missing")
	if err != ErrNotFound {
		t.Fatalf("ByTransaction() error = %v, want ErrNotFound", err)
	}
}
