package merkletree

import (
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"sort"

	"github.com/gofrs/flock"

	"github.com/cipherlabs/mixagent/pkg/errs"
)

// Snapshot is the on-disk/on-wire representation of a chunk's tree, matching
// the external HTTP contract in spec section 6: decimal-string leaves and
// node values, the current root, and the advertised leaf count.
type Snapshot struct {
	ChunkID   uint32   `json:"chunkId"`
	Leaves    []string `json:"leaves"`
	Tree      []string `json:"tree"`
	Root      string   `json:"root"`
	LeafCount int      `json:"leafCount"`
	Timestamp int64    `json:"timestamp"`
}

// Snapshot exports the tree's current state. Tree is every materialized
// internal node flattened level-major, index-ascending; it is informational
// (for remote inspection) rather than load-bearing — FromSnapshot
// reconstructs the sparse node map from Leaves alone via Build, since that
// is guaranteed to reproduce identical node values deterministically.
func (t *Tree) Snapshot(chunkID uint32, timestamp int64) Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	leaves := make([]string, len(t.leaves))
	for i, l := range t.leaves {
		leaves[i] = l.String()
	}

	byLevel := make(map[int][]uint32)
	for k := range t.nodes {
		byLevel[k.level] = append(byLevel[k.level], k.index)
	}
	var flat []string
	for level := 0; level <= Height; level++ {
		idxs := byLevel[level]
		sort.Slice(idxs, func(i, j int) bool { return idxs[i] < idxs[j] })
		for _, idx := range idxs {
			flat = append(flat, t.nodes[nodeKey{level: level, index: idx}].String())
		}
	}

	return Snapshot{
		ChunkID:   chunkID,
		Leaves:    leaves,
		Tree:      flat,
		Root:      t.rootLocked().String(),
		LeafCount: len(t.leaves),
		Timestamp: timestamp,
	}
}

// FromSnapshot rebuilds a Tree from a Snapshot's leaves.
func FromSnapshot(s Snapshot) (*Tree, error) {
	leaves := make([]*big.Int, len(s.Leaves))
	for i, dec := range s.Leaves {
		v, ok := new(big.Int).SetString(dec, 10)
		if !ok {
			return nil, errs.New(errs.Integrity, "merkletree.FromSnapshot", "leaf is not a valid decimal integer")
		}
		leaves[i] = v
	}
	t := New()
	if err := t.Build(leaves); err != nil {
		return nil, err
	}
	return t, nil
}

// Cache persists per-chunk snapshots to disk under dir, one JSON file per
// chunk, guarded by an on-disk lockfile in addition to normal temp-file +
// rename atomicity (spec section 4.C's recommendation, applied here too so
// that processes sharing the same cache directory do not interleave).
type Cache struct {
	dir string
}

// NewCache returns a cache rooted at dir. The directory is created with
// 0700 permissions if it does not already exist.
func NewCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errs.Wrap(errs.IoDisk, "merkletree.NewCache", err)
	}
	return &Cache{dir: dir}, nil
}

func (c *Cache) path(chunkID uint32) string {
	return filepath.Join(c.dir, "chunk-"+itoa(chunkID)+".json")
}

func (c *Cache) lockPath(chunkID uint32) string {
	return c.path(chunkID) + ".lock"
}

// Save writes snap to disk atomically (temp file + rename).
func (c *Cache) Save(snap Snapshot) error {
	fl := flock.New(c.lockPath(snap.ChunkID))
	if err := fl.Lock(); err != nil {
		return errs.Wrap(errs.IoDisk, "merkletree.Cache.Save", err)
	}
	defer fl.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return errs.Wrap(errs.Integrity, "merkletree.Cache.Save", err)
	}
	target := c.path(snap.ChunkID)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errs.Wrap(errs.IoDisk, "merkletree.Cache.Save", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return errs.Wrap(errs.IoDisk, "merkletree.Cache.Save", err)
	}
	return nil
}

// Load reads the cached snapshot for chunkID. It returns errs.NotFound if
// no cache file exists.
func (c *Cache) Load(chunkID uint32) (Snapshot, error) {
	fl := flock.New(c.lockPath(chunkID))
	if err := fl.RLock(); err != nil {
		return Snapshot{}, errs.Wrap(errs.IoDisk, "merkletree.Cache.Load", err)
	}
	defer fl.Unlock()

	data, err := os.ReadFile(c.path(chunkID))
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, errs.New(errs.NotFound, "merkletree.Cache.Load", "no cache for chunk")
		}
		return Snapshot{}, errs.Wrap(errs.IoDisk, "merkletree.Cache.Load", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, errs.Wrap(errs.Integrity, "merkletree.Cache.Load", err)
	}
	return snap, nil
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
