package agent

import (
	"context"
	"math/big"
	"testing"
)

func TestLoadTreeBuildsFromChainWhenNothingCached(t *testing.T) {
	a, adapter := newTestAgent(t)
	adapter.SeedLeaves(0, big.NewInt(11), big.NewInt(22))

	tree, err := a.LoadTree(context.Background(), 0)
	if err != nil {
		t.Fatalf("LoadTree: %v", err)
	}
	if tree.LeafCount() != 2 {
		t.Fatalf("expected 2 leaves, got %d", tree.LeafCount())
	}
}

func TestLoadTreeIncrementallyUpdatesInMemoryTree(t *testing.T) {
	a, adapter := newTestAgent(t)
	adapter.SeedLeaves(0, big.NewInt(1))

	ctx := context.Background()
	first, err := a.LoadTree(ctx, 0)
	if err != nil {
		t.Fatalf("LoadTree (first): %v", err)
	}
	firstRoot := first.Root()

	adapter.SeedLeaves(0, big.NewInt(2))
	second, err := a.LoadTree(ctx, 0)
	if err != nil {
		t.Fatalf("LoadTree (second): %v", err)
	}
	if second.LeafCount() != 2 {
		t.Fatalf("expected 2 leaves after incremental update, got %d", second.LeafCount())
	}
	if second.Root().Cmp(firstRoot) == 0 {
		t.Fatalf("expected root to change after adding a leaf")
	}
	if second != first {
		t.Fatalf("expected the same in-memory tree instance to have been updated in place")
	}
}

func TestLoadTreeReusesCacheAfterReinstall(t *testing.T) {
	a, adapter := newTestAgent(t)
	adapter.SeedLeaves(0, big.NewInt(5), big.NewInt(6))

	ctx := context.Background()
	if _, err := a.LoadTree(ctx, 0); err != nil {
		t.Fatalf("LoadTree: %v", err)
	}

	// Drop the in-memory tree to force the cache path.
	a.treesMu.Lock()
	delete(a.trees, 0)
	a.treesMu.Unlock()

	tree, err := a.LoadTree(ctx, 0)
	if err != nil {
		t.Fatalf("LoadTree (from cache): %v", err)
	}
	if tree.LeafCount() != 2 {
		t.Fatalf("expected 2 leaves reloaded from cache, got %d", tree.LeafCount())
	}
}
