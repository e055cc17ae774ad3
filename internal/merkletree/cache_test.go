package merkletree

import (
	"path/filepath"
	"testing"

	"github.com/cipherlabs/mixagent/pkg/errs"
)

func TestCacheSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewCache(filepath.Join(dir, "trees"))
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}

	tr := New()
	if err := tr.Build(leavesFromInts(1, 2, 3)); err != nil {
		t.Fatalf("build: %v", err)
	}
	snap := tr.Snapshot(3, 42)
	if err := cache.Save(snap); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := cache.Load(3)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Root != snap.Root || loaded.LeafCount != snap.LeafCount {
		t.Fatalf("loaded snapshot mismatch: %+v vs %+v", loaded, snap)
	}
}

func TestCacheLoadMissingReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewCache(dir)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	if _, err := cache.Load(99); !errs.Is(err, errs.NotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}
