package depositbook

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/cipherlabs/mixagent/pkg/errs"
)

// CommitmentIndex is a persistent commitment -> (chunk, leaf index) map.
// It exists to close the timing side channel spec section 9 flags:
// "commitment-to-leaf index search is linear and therefore timing-leaky...
// Replace with a persistent commitment -> index index." The orchestrator
// consults this index first and falls back to merkletree.Tree.IndexOf's
// linear scan only for commitments it did not itself deposit (e.g. when
// inspecting a peer-supplied tree).
type CommitmentIndex struct {
	path     string
	lockPath string

	mu sync.Mutex
}

// Entry is one commitment's recorded location.
type Entry struct {
	ChunkID   uint32 `json:"chunkId"`
	LeafIndex uint32 `json:"leafIndex"`
}

// OpenIndex returns a CommitmentIndex backed by commitment-index.json under
// dir, created with 0700 directory permissions if absent.
func OpenIndex(dir string) (*CommitmentIndex, error) {
	const op = "depositbook.OpenIndex"
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errs.Wrap(errs.IoDisk, op, err)
	}
	return &CommitmentIndex{
		path:     filepath.Join(dir, "commitment-index.json"),
		lockPath: filepath.Join(dir, "commitment-index.json.lock"),
	}, nil
}

func (idx *CommitmentIndex) withFileLock(fn func() error) error {
	fl := flock.New(idx.lockPath)
	if err := fl.Lock(); err != nil {
		return errs.Wrap(errs.IoDisk, "depositbook.CommitmentIndex", err)
	}
	defer fl.Unlock()
	return fn()
}

func (idx *CommitmentIndex) readAllLocked() (map[string]Entry, error) {
	const op = "depositbook.CommitmentIndex.readAllLocked"
	data, err := os.ReadFile(idx.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]Entry), nil
		}
		return nil, errs.Wrap(errs.IoDisk, op, err)
	}
	if len(data) == 0 {
		return make(map[string]Entry), nil
	}
	m := make(map[string]Entry)
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errs.Wrap(errs.Integrity, op, err)
	}
	return m, nil
}

func (idx *CommitmentIndex) writeAllLocked(m map[string]Entry) error {
	const op = "depositbook.CommitmentIndex.writeAllLocked"
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errs.Wrap(errs.Integrity, op, err)
	}
	tmp := idx.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errs.Wrap(errs.IoDisk, op, err)
	}
	if err := os.Rename(tmp, idx.path); err != nil {
		return errs.Wrap(errs.IoDisk, op, err)
	}
	return nil
}

// Record stores the chunk/leaf-index location of commitment (a decimal
// big.Int string, matching Record.Commitment's representation).
func (idx *CommitmentIndex) Record(commitment string, chunkID, leafIndex uint32) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.withFileLock(func() error {
		m, err := idx.readAllLocked()
		if err != nil {
			return err
		}
		m[commitment] = Entry{ChunkID: chunkID, LeafIndex: leafIndex}
		return idx.writeAllLocked(m)
	})
}

// Lookup returns the recorded location of commitment, if any.
func (idx *CommitmentIndex) Lookup(commitment string) (Entry, bool, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	var entry Entry
	var ok bool
	err := idx.withFileLock(func() error {
		m, err := idx.readAllLocked()
		if err != nil {
			return err
		}
		entry, ok = m[commitment]
		return nil
	})
	if err != nil {
		return Entry{}, false, err
	}
	return entry, ok, nil
}
