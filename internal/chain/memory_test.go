package chain

import (
	"context"
	"math/big"
	"testing"

	"github.com/cipherlabs/mixagent/pkg/errs"
)

func TestMemoryAdapterSeedAndFetch(t *testing.T) {
	m := NewMemoryAdapter()
	m.SeedLeaves(1, big.NewInt(1), big.NewInt(2))

	ctx := context.Background()
	leaves, err := m.FetchLeaves(ctx, 1)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(leaves) != 2 {
		t.Fatalf("expected 2 leaves, got %d", len(leaves))
	}

	id, err := m.CurrentChunkID(ctx)
	if err != nil {
		t.Fatalf("current chunk: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected current chunk 1, got %d", id)
	}
}

func TestMemoryAdapterRejectsDuplicateNullifier(t *testing.T) {
	m := NewMemoryAdapter()
	ctx := context.Background()
	nh := big.NewInt(42)

	if _, err := m.SubmitWithdraw(ctx, nil, "recipient", 0, nh); err != nil {
		t.Fatalf("first withdraw: %v", err)
	}
	_, err := m.SubmitWithdraw(ctx, nil, "recipient", 0, nh)
	if err == nil {
		t.Fatalf("expected duplicate nullifier rejection")
	}
	if errs.KindOf(err) != errs.ChainRejected {
		t.Fatalf("expected ChainRejected, got %v", errs.KindOf(err))
	}
}

func TestMemoryAdapterForcedRejection(t *testing.T) {
	m := NewMemoryAdapter()
	m.RejectReason = "insufficient_funds"
	_, err := m.SubmitDeposit(context.Background(), nil, 100, 0)
	if err == nil || errs.KindOf(err) != errs.ChainRejected {
		t.Fatalf("expected ChainRejected, got %v", err)
	}
}
