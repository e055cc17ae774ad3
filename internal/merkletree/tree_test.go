package merkletree

import (
	"math/big"
	"testing"

	"github.com/cipherlabs/mixagent/internal/poseidon"
)

func leavesFromInts(vals ...int64) []*big.Int {
	out := make([]*big.Int, len(vals))
	for i, v := range vals {
		out[i] = big.NewInt(v)
	}
	return out
}

func TestBuildMatchesIncrementalUpdate(t *testing.T) {
	leaves := leavesFromInts(1, 2, 3, 4, 5, 6, 7)

	built := New()
	if err := built.Build(leaves); err != nil {
		t.Fatalf("build: %v", err)
	}

	incremental := New()
	for i := 1; i <= len(leaves); i++ {
		if err := incremental.Update(leaves[:i]); err != nil {
			t.Fatalf("update step %d: %v", i, err)
		}
	}

	if built.Root().Cmp(incremental.Root()) != 0 {
		t.Fatalf("roots differ: built=%s incremental=%s", built.Root(), incremental.Root())
	}
}

func TestEmptyTreeRootIsOneLevelAboveZeroSubtree(t *testing.T) {
	tr := New()
	if err := tr.Build(nil); err != nil {
		t.Fatalf("build: %v", err)
	}

	want, err := poseidon.Hash2(ZeroSubtree[Height-1], ZeroSubtree[Height-1])
	if err != nil {
		t.Fatalf("poseidon: %v", err)
	}
	if tr.Root().Cmp(want) != 0 {
		t.Fatalf("empty root = %s, want Poseidon(Z[H-1], Z[H-1]) = %s", tr.Root(), want)
	}
	if tr.Root().Cmp(ZeroSubtree[Height-1]) == 0 {
		t.Fatalf("empty root must not equal ZeroSubtree[Height-1] directly")
	}
}

func TestPathSoundness(t *testing.T) {
	leaves := leavesFromInts(10, 20, 30, 40, 50)
	tr := New()
	if err := tr.Build(leaves); err != nil {
		t.Fatalf("build: %v", err)
	}

	for i := range leaves {
		p, err := tr.InclusionPath(uint32(i))
		if err != nil {
			t.Fatalf("path %d: %v", i, err)
		}
		ok, err := VerifyPath(leaves[i], p)
		if err != nil {
			t.Fatalf("verify %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("path %d did not fold to root", i)
		}
		if p.Root.Cmp(tr.Root()) != 0 {
			t.Fatalf("path root does not match tree root")
		}
	}
}

func TestEmptySubtreeSubstitution(t *testing.T) {
	leaves := leavesFromInts(1, 2, 3)
	tr := New()
	if err := tr.Build(leaves); err != nil {
		t.Fatalf("build: %v", err)
	}

	p, err := tr.InclusionPath(uint32(len(leaves) - 1))
	if err != nil {
		t.Fatalf("path: %v", err)
	}

	// leaf index 2 (binary 10) is a left child at level 0; its sibling
	// (index 3) does not exist, so the sibling must be Z[0].
	if p.Siblings[0].Cmp(ZeroSubtree[0]) != 0 {
		t.Fatalf("expected Z[0] substitution at level 0, got %s", p.Siblings[0])
	}
}

func TestOverflowRejected(t *testing.T) {
	tr := New()
	tooMany := make([]*big.Int, Capacity+1)
	for i := range tooMany {
		tooMany[i] = big.NewInt(int64(i))
	}
	if err := tr.Build(tooMany); err == nil {
		t.Fatalf("expected overflow error")
	}
}

func TestUpdateRebuildsOnDivergentPrefix(t *testing.T) {
	tr := New()
	if err := tr.Build(leavesFromInts(1, 2, 3)); err != nil {
		t.Fatalf("build: %v", err)
	}
	diverged := leavesFromInts(9, 2, 3, 4)
	if err := tr.Update(diverged); err != nil {
		t.Fatalf("update with divergent prefix: %v", err)
	}
	want := New()
	if err := want.Build(diverged); err != nil {
		t.Fatalf("build want: %v", err)
	}
	if tr.Root().Cmp(want.Root()) != 0 {
		t.Fatalf("divergent prefix did not trigger full rebuild")
	}
}

func TestSnapshotRoundTripRebuildsSameRoot(t *testing.T) {
	tr := New()
	if err := tr.Build(leavesFromInts(1, 2, 3, 4)); err != nil {
		t.Fatalf("build: %v", err)
	}
	snap := tr.Snapshot(7, 1234)
	restored, err := FromSnapshot(snap)
	if err != nil {
		t.Fatalf("from snapshot: %v", err)
	}
	if restored.Root().Cmp(tr.Root()) != 0 {
		t.Fatalf("restored root mismatch")
	}
	if restored.LeafCount() != tr.LeafCount() {
		t.Fatalf("restored leaf count mismatch")
	}
}

func TestIndexOf(t *testing.T) {
	leaves := leavesFromInts(5, 15, 25)
	tr := New()
	if err := tr.Build(leaves); err != nil {
		t.Fatalf("build: %v", err)
	}
	idx, ok := tr.IndexOf(big.NewInt(15))
	if !ok || idx != 1 {
		t.Fatalf("expected index 1, got %d ok=%v", idx, ok)
	}
	if _, ok := tr.IndexOf(big.NewInt(999)); ok {
		t.Fatalf("expected not found")
	}
}
