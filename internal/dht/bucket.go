package dht

import "sync"

// KBucket is an ordered sequence of at most K peer records, newest at the
// tail. It has no eviction probing: once full, new peers are ignored.
type KBucket struct {
	entries []PeerRecord
}

func newKBucket() *KBucket {
	return &KBucket{entries: make([]PeerRecord, 0, K)}
}

// touch moves an existing entry (matched by NodeID) to the tail, or appends
// it if the bucket is not full. It reports whether the bucket changed.
func (b *KBucket) touch(p PeerRecord) bool {
	for i, e := range b.entries {
		if e.NodeID == p.NodeID {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			b.entries = append(b.entries, p)
			return true
		}
	}
	if len(b.entries) >= K {
		return false
	}
	b.entries = append(b.entries, p)
	return true
}

func (b *KBucket) list() []PeerRecord {
	out := make([]PeerRecord, len(b.entries))
	copy(out, b.entries)
	return out
}

// RoutingTable owns the 256 k-buckets for a local node ID and the subnet
// occupancy counts used to enforce the /24 admission cap.
type RoutingTable struct {
	self      NodeID
	validator Validator

	mu      sync.RWMutex
	buckets [IDBits]*KBucket
	subnets map[string]int
}

// NewRoutingTable returns an empty routing table for self.
func NewRoutingTable(self NodeID, validator Validator) *RoutingTable {
	rt := &RoutingTable{
		self:      self,
		validator: validator,
		subnets:   make(map[string]int),
	}
	for i := range rt.buckets {
		rt.buckets[i] = newKBucket()
	}
	return rt
}

// Touch admits or refreshes p. It is a no-op for the self ID, for peers that
// fail validation, and for peers that would exceed the /24 subnet cap on
// first admission.
func (rt *RoutingTable) Touch(p PeerRecord) bool {
	idx := BucketIndex(rt.self, p.NodeID)
	if idx < 0 {
		return false
	}
	if err := rt.validator.Validate(p.Host, p.Port); err != nil {
		return false
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	b := rt.buckets[idx]
	alreadyKnown := false
	for _, e := range b.entries {
		if e.NodeID == p.NodeID {
			alreadyKnown = true
			break
		}
	}
	if !alreadyKnown {
		key := subnet24(p.Host)
		if key != "" && rt.subnets[key] >= subnetCap {
			return false
		}
		if !b.touch(p) {
			return false
		}
		if key != "" {
			rt.subnets[key]++
		}
		return true
	}
	return b.touch(p)
}

// Nearest returns up to count peers closest to target, ordered by XOR
// distance ascending.
func (rt *RoutingTable) Nearest(target NodeID, count int) []PeerRecord {
	rt.mu.RLock()
	all := make([]PeerRecord, 0, K*4)
	for _, b := range rt.buckets {
		all = append(all, b.list()...)
	}
	rt.mu.RUnlock()

	sortByDistance(all, target)
	if len(all) > count {
		all = all[:count]
	}
	return all
}

// All returns every known peer record.
func (rt *RoutingTable) All() []PeerRecord {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	all := make([]PeerRecord, 0, K*4)
	for _, b := range rt.buckets {
		all = append(all, b.list()...)
	}
	return all
}

func sortByDistance(peers []PeerRecord, target NodeID) {
	for i := 1; i < len(peers); i++ {
		for j := i; j > 0 && Less(target, peers[j].NodeID, peers[j-1].NodeID); j-- {
			peers[j], peers[j-1] = peers[j-1], peers[j]
		}
	}
}
