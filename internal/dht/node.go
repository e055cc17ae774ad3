// Package dht implements the peer-discovery layer: a 256-bit-keyspace
// Kademlia variant speaking a hand-rolled, length-prefixed JSON wire
// protocol rather than a general-purpose DHT library, so that node IDs,
// bucket indices, and the lookup algorithm stay directly inspectable and
// testable (grounded on the node-ID/bucket-array shape of synnergy-network's
// core.Kademlia, generalized from its SHA1/160-bit space to the 256-bit
// space and JSON RPC contract this protocol calls for).
package dht

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"math/big"

	"github.com/cipherlabs/mixagent/pkg/errs"
)

// K is the bucket size.
const K = 20

// Alpha is the iterative-lookup parallelism factor.
const Alpha = 3

// MaxRounds bounds an iterative lookup.
const MaxRounds = 10

// IDBits is the width of the node-ID keyspace.
const IDBits = 256

// IDBytes is IDBits in bytes.
const IDBytes = IDBits / 8

// NodeID is a 256-bit identifier, most significant byte first.
type NodeID [IDBytes]byte

// String returns the lowercase hex encoding of id.
func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether id is the all-zero ID.
func (id NodeID) IsZero() bool {
	for _, b := range id {
		if b != 0 {
			return false
		}
	}
	return true
}

// ParseNodeID decodes a hex string into a NodeID.
func ParseNodeID(s string) (NodeID, error) {
	var id NodeID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(b) != IDBytes {
		return id, errBadIDLength
	}
	copy(id[:], b)
	return id, nil
}

// HashKey maps an arbitrary byte string onto the ID keyspace via SHA-256.
func HashKey(key []byte) NodeID {
	var id NodeID
	sum := sha256.Sum256(key)
	copy(id[:], sum[:])
	return id
}

// NewRandomID draws a fresh node identifier from 32 CSPRNG bytes, per spec
// section 3: "Produced by hashing either a caller-provided seed or 32 fresh
// random bytes."
func NewRandomID() (NodeID, error) {
	var id NodeID
	if _, err := rand.Read(id[:]); err != nil {
		return NodeID{}, errs.Wrap(errs.Other, "dht.NewRandomID", err)
	}
	return id, nil
}

// NewIDFromSeed derives a node identifier by hashing a caller-provided
// seed, the alternative construction spec section 3 allows.
func NewIDFromSeed(seed []byte) NodeID {
	return HashKey(seed)
}

// Distance returns a XOR b interpreted as an unsigned 256-bit integer.
func Distance(a, b NodeID) *big.Int {
	var xor [IDBytes]byte
	for i := range xor {
		xor[i] = a[i] ^ b[i]
	}
	return new(big.Int).SetBytes(xor[:])
}

// BucketIndex returns 255 minus the position of the highest set bit of the
// XOR distance between a and b, or -1 if a == b (never inserted).
func BucketIndex(a, b NodeID) int {
	d := Distance(a, b)
	if d.Sign() == 0 {
		return -1
	}
	return IDBits - d.BitLen()
}

// Less reports whether a is closer to target than b.
func Less(target, a, b NodeID) bool {
	return Distance(target, a).Cmp(Distance(target, b)) < 0
}
