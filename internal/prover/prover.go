// Package prover models the Groth16 proving machinery as a narrow
// capability boundary: spec section 1 places the circuit artifacts and the
// prove(circuit, witness) -> proof primitive out of scope, so this package
// only describes the two witnesses the orchestrator needs proofs for and
// the interface it calls, grounded on the same small-interface-plus-two-
// implementations shape chain.Adapter uses (spec section 9,
// "Polymorphism").
package prover

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/cipherlabs/mixagent/internal/merkletree"
)

// DepositWitness carries the private inputs a deposit proof is generated
// from: the freshly drawn secret/nullifier and the amount committed.
type DepositWitness struct {
	Nullifier *big.Int
	Secret    *big.Int
	Amount    uint64
}

// WithdrawWitness carries the private and public inputs a withdraw proof is
// generated from: the deposit's secret material, the inclusion path proving
// membership, and the recipient/fee public signals (spec section 4.I).
type WithdrawWitness struct {
	Nullifier *big.Int
	Secret    *big.Int
	Recipient string
	Amount    uint64
	Fee       uint64
	Path      merkletree.Path
}

// Proof is the Groth16-shaped artifact the relayer's structural validation
// expects on the wire (spec section 4.H): pi_a/pi_b/pi_c plus the protocol
// and curve tags, alongside the nullifier-hash public signal the queue
// processor needs without having to parse proof internals.
type Proof struct {
	PiA           json.RawMessage `json:"pi_a"`
	PiB           json.RawMessage `json:"pi_b"`
	PiC           json.RawMessage `json:"pi_c"`
	Protocol      string          `json:"protocol"`
	Curve         string          `json:"curve"`
	NullifierHash string          `json:"nullifierHash"`
}

// Prover is the capability boundary every caller in this repository depends
// on. Production code talks to an out-of-process proving service over
// HTTP; tests use MemoryProver.
type Prover interface {
	ProveDeposit(ctx context.Context, w DepositWitness) (Proof, error)
	ProveWithdraw(ctx context.Context, w WithdrawWitness) (Proof, error)
}
