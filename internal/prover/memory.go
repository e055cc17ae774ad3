package prover

import (
	"context"
	"encoding/json"

	"github.com/cipherlabs/mixagent/internal/poseidon"
)

// MemoryProver is the in-memory test double for Prover: it does not run a
// real circuit, but it derives a deterministic nullifier hash from the
// witness (the one public signal callers in this repository actually act
// on) and wraps it in a structurally valid Proof, so handlers and the
// relayer queue can be exercised end-to-end without the ZK toolchain.
type MemoryProver struct{}

// NewMemoryProver returns a MemoryProver.
func NewMemoryProver() *MemoryProver { return &MemoryProver{} }

func fakeProof(nullifierHash string) Proof {
	raw := json.RawMessage(`["0","0"]`)
	return Proof{
		PiA:           raw,
		PiB:           raw,
		PiC:           raw,
		Protocol:      "groth16",
		Curve:         "bn254",
		NullifierHash: nullifierHash,
	}
}

// ProveDeposit returns a fake proof; deposit proofs carry no public
// nullifier-hash signal the caller acts on, but the field is still filled
// for shape consistency.
func (MemoryProver) ProveDeposit(_ context.Context, w DepositWitness) (Proof, error) {
	h, err := poseidon.NullifierHash(w.Nullifier)
	if err != nil {
		return Proof{}, err
	}
	return fakeProof(h.String()), nil
}

// ProveWithdraw returns a fake proof whose NullifierHash is the real
// Poseidon(nullifier, 0) value, since the relayer queue processor relies on
// it to call submit_withdraw.
func (MemoryProver) ProveWithdraw(_ context.Context, w WithdrawWitness) (Proof, error) {
	h, err := poseidon.NullifierHash(w.Nullifier)
	if err != nil {
		return Proof{}, err
	}
	return fakeProof(h.String()), nil
}

var _ Prover = MemoryProver{}
