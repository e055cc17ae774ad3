package prover

import (
	"context"
	"math/big"
	"testing"

	"github.com/cipherlabs/mixagent/internal/poseidon"
)

func TestMemoryProverWithdrawNullifierHash(t *testing.T) {
	p := NewMemoryProver()
	nullifier := big.NewInt(12345)

	want, err := poseidon.NullifierHash(nullifier)
	if err != nil {
		t.Fatalf("NullifierHash: %v", err)
	}

	proof, err := p.ProveWithdraw(context.Background(), WithdrawWitness{
		Nullifier: nullifier,
		Secret:    big.NewInt(1),
		Recipient: "someaddr",
		Amount:    100,
	})
	if err != nil {
		t.Fatalf("ProveWithdraw: %v", err)
	}
	if proof.NullifierHash != want.String() {
		t.Fatalf("got %s, want %s", proof.NullifierHash, want.String())
	}
	if proof.Protocol != "groth16" || proof.Curve != "bn254" {
		t.Fatalf("unexpected proof shape: %+v", proof)
	}
}
