// Package poseidon wraps the BN254 Poseidon permutation shared by the tree
// engine, the commitment/nullifier hashes, and (outside this repository's
// scope) the proving circuits. It is the one legitimate process-wide
// singleton in the system: see spec section 9.
package poseidon

import (
	"math/big"
	"sync"

	iden3poseidon "github.com/iden3/go-iden3-crypto/poseidon"

	"github.com/cipherlabs/mixagent/pkg/errs"
)

var (
	initOnce sync.Once
	mu       sync.Mutex
)

// Init eagerly exercises the permutation once so that the first real call
// from the mixing loop or the tree engine does not pay a one-time setup
// cost that would otherwise create a timing fingerprint. It is idempotent
// and safe to call from cmd/agent before any other subsystem starts.
func Init() {
	initOnce.Do(func() {
		mu.Lock()
		defer mu.Unlock()
		_, _ = iden3poseidon.Hash([]*big.Int{big.NewInt(0), big.NewInt(0)})
		_, _ = iden3poseidon.Hash([]*big.Int{big.NewInt(0), big.NewInt(0), big.NewInt(0)})
	})
}

// Hash2 computes Poseidon(a, b), the arity used by the Merkle tree's
// internal nodes.
func Hash2(a, b *big.Int) (*big.Int, error) {
	mu.Lock()
	defer mu.Unlock()
	h, err := iden3poseidon.Hash([]*big.Int{a, b})
	if err != nil {
		return nil, errs.Wrap(errs.Integrity, "poseidon.Hash2", err)
	}
	return h, nil
}

// Hash3 computes Poseidon(a, b, c), the arity used for commitments
// (nullifier, secret, amount).
func Hash3(a, b, c *big.Int) (*big.Int, error) {
	mu.Lock()
	defer mu.Unlock()
	h, err := iden3poseidon.Hash([]*big.Int{a, b, c})
	if err != nil {
		return nil, errs.Wrap(errs.Integrity, "poseidon.Hash3", err)
	}
	return h, nil
}

// Commitment computes Poseidon(nullifier, secret, amount), the leaf value
// deposited into the tree. Argument order is part of the contract and must
// match the circuit.
func Commitment(nullifier, secret *big.Int, amount uint64) (*big.Int, error) {
	return Hash3(nullifier, secret, new(big.Int).SetUint64(amount))
}

// NullifierHash computes Poseidon(nullifier, 0), published on-chain at
// withdraw time to prevent double-spend.
func NullifierHash(nullifier *big.Int) (*big.Int, error) {
	return Hash2(nullifier, big.NewInt(0))
}
