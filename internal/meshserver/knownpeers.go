package meshserver

import (
	"encoding/json"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/cipherlabs/mixagent/internal/dht"
	"github.com/cipherlabs/mixagent/pkg/errs"
)

// peerTTL is how long a known peer is retained without being re-seen
// before garbage collection (spec section 4.G).
const peerTTL = 120 * time.Second

// KnownPeer is one entry of the peer-sharing layer: a host:port this agent
// has heard from, either via the LAN beacon or a direct HTTP probe, along
// with the chunk IDs it claims to serve.
type KnownPeer struct {
	Host             string          `json:"host"`
	Port             int             `json:"port"`
	LastSeen         time.Time       `json:"lastSeen"`
	AdvertisedChunks map[uint32]bool `json:"advertisedChunks"`
}

func (p KnownPeer) key() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// Addr returns "host:port".
func (p KnownPeer) Addr() string { return p.key() }

// KnownPeers is the in-memory, mutex-guarded known-peers map with JSON
// file persistence and validation at load, matching spec section 4.G's
// "JSON file of known peers ... loaded at start (with validation) and
// rewritten on stop and during cleanup."
type KnownPeers struct {
	path      string
	validator dht.Validator

	mu    sync.RWMutex
	peers map[string]KnownPeer
}

// NewKnownPeers returns an empty store that persists to path.
func NewKnownPeers(path string, validator dht.Validator) *KnownPeers {
	return &KnownPeers{path: path, validator: validator, peers: make(map[string]KnownPeer)}
}

// Touch records host:port as seen now, merging advertisedChunks into
// whatever was already known for that peer. Peers failing validation are
// silently ignored.
func (kp *KnownPeers) Touch(host string, port int, advertisedChunks []uint32, now time.Time) {
	if err := kp.validator.Validate(host, port); err != nil {
		return
	}
	p := KnownPeer{Host: host, Port: port, LastSeen: now, AdvertisedChunks: make(map[uint32]bool)}

	kp.mu.Lock()
	defer kp.mu.Unlock()
	if existing, ok := kp.peers[p.key()]; ok {
		for chunk := range existing.AdvertisedChunks {
			p.AdvertisedChunks[chunk] = true
		}
	}
	for _, c := range advertisedChunks {
		p.AdvertisedChunks[c] = true
	}
	kp.peers[p.key()] = p
}

// All returns every known peer, in no particular order.
func (kp *KnownPeers) All() []KnownPeer {
	kp.mu.RLock()
	defer kp.mu.RUnlock()
	out := make([]KnownPeer, 0, len(kp.peers))
	for _, p := range kp.peers {
		out = append(out, p)
	}
	return out
}

// PreferChunk returns known peers claiming to serve chunk first, followed
// by the rest.
func (kp *KnownPeers) PreferChunk(chunk uint32) []KnownPeer {
	all := kp.All()
	preferred := make([]KnownPeer, 0, len(all))
	rest := make([]KnownPeer, 0, len(all))
	for _, p := range all {
		if p.AdvertisedChunks[chunk] {
			preferred = append(preferred, p)
		} else {
			rest = append(rest, p)
		}
	}
	return append(preferred, rest...)
}

// GC removes peers whose LastSeen is older than peerTTL relative to now.
func (kp *KnownPeers) GC(now time.Time) {
	kp.mu.Lock()
	defer kp.mu.Unlock()
	for key, p := range kp.peers {
		if now.Sub(p.LastSeen) > peerTTL {
			delete(kp.peers, key)
		}
	}
}

// Load reads the known-peers JSON file at kp.path, if it exists,
// discarding any entry that fails validation.
func (kp *KnownPeers) Load() error {
	const op = "meshserver.KnownPeers.Load"
	data, err := os.ReadFile(kp.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errs.Wrap(errs.IoDisk, op, err)
	}
	var stored []KnownPeer
	if err := json.Unmarshal(data, &stored); err != nil {
		return errs.Wrap(errs.Integrity, op, err)
	}

	kp.mu.Lock()
	defer kp.mu.Unlock()
	for _, p := range stored {
		if err := kp.validator.Validate(p.Host, p.Port); err != nil {
			continue
		}
		if p.AdvertisedChunks == nil {
			p.AdvertisedChunks = make(map[uint32]bool)
		}
		kp.peers[p.key()] = p
	}
	return nil
}

// Save rewrites the known-peers JSON file atomically.
func (kp *KnownPeers) Save() error {
	const op = "meshserver.KnownPeers.Save"
	kp.mu.RLock()
	snapshot := make([]KnownPeer, 0, len(kp.peers))
	for _, p := range kp.peers {
		snapshot = append(snapshot, p)
	}
	kp.mu.RUnlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return errs.Wrap(errs.Integrity, op, err)
	}
	tmp := kp.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errs.Wrap(errs.IoDisk, op, err)
	}
	if err := os.Rename(tmp, kp.path); err != nil {
		return errs.Wrap(errs.IoDisk, op, err)
	}
	return nil
}
