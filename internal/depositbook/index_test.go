package depositbook

import "testing"

func TestCommitmentIndexRecordAndLookup(t *testing.T) {
	dir := t.TempDir()
	idx, err := OpenIndex(dir)
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}

	if err := idx.Record("12345", 3, 7); err != nil {
		t.Fatalf("Record: %v", err)
	}

	entry, ok, err := idx.Lookup("12345")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !ok {
		t.Fatalf("expected entry to be found")
	}
	if entry.ChunkID != 3 || entry.LeafIndex != 7 {
		t.Fatalf("got %+v, want {ChunkID:3 LeafIndex:7}", entry)
	}

	if _, ok, err := idx.Lookup("unknown"); err != nil || ok {
		t.Fatalf("expected unknown commitment to be absent, ok=%v err=%v", ok, err)
	}
}

func TestCommitmentIndexPersistsAcrossOpen(t *testing.T) {
	dir := t.TempDir()
	idx1, err := OpenIndex(dir)
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	if err := idx1.Record("999", 1, 0); err != nil {
		t.Fatalf("Record: %v", err)
	}

	idx2, err := OpenIndex(dir)
	if err != nil {
		t.Fatalf("OpenIndex (reload): %v", err)
	}
	entry, ok, err := idx2.Lookup("999")
	if err != nil || !ok {
		t.Fatalf("expected persisted entry, ok=%v err=%v", ok, err)
	}
	if entry.ChunkID != 1 {
		t.Fatalf("got %+v", entry)
	}
}
