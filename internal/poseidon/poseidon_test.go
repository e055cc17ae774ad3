package poseidon

import (
	"math/big"
	"testing"
)

func TestCommitmentIsPureFunctionOfInputs(t *testing.T) {
	Init()
	nullifier := big.NewInt(12345)
	secret := big.NewInt(67890)

	a, err := Commitment(nullifier, secret, 1_000_000)
	if err != nil {
		t.Fatalf("commitment: %v", err)
	}
	b, err := Commitment(nullifier, secret, 1_000_000)
	if err != nil {
		t.Fatalf("commitment: %v", err)
	}
	if a.Cmp(b) != 0 {
		t.Fatalf("commitment not deterministic: %s != %s", a, b)
	}

	want, err := Hash3(nullifier, secret, big.NewInt(1_000_000))
	if err != nil {
		t.Fatalf("hash3: %v", err)
	}
	if a.Cmp(want) != 0 {
		t.Fatalf("commitment argument order mismatch: got %s want %s", a, want)
	}
}

func TestCommitmentSensitiveToEachInput(t *testing.T) {
	Init()
	base, _ := Commitment(big.NewInt(1), big.NewInt(2), 3)
	diffNullifier, _ := Commitment(big.NewInt(9), big.NewInt(2), 3)
	diffSecret, _ := Commitment(big.NewInt(1), big.NewInt(9), 3)
	diffAmount, _ := Commitment(big.NewInt(1), big.NewInt(2), 9)

	if base.Cmp(diffNullifier) == 0 || base.Cmp(diffSecret) == 0 || base.Cmp(diffAmount) == 0 {
		t.Fatalf("commitment insensitive to one of its inputs")
	}
}

func TestNullifierHashDeterministic(t *testing.T) {
	Init()
	n := big.NewInt(555)
	a, err := NullifierHash(n)
	if err != nil {
		t.Fatalf("nullifier hash: %v", err)
	}
	b, _ := NullifierHash(n)
	if a.Cmp(b) != 0 {
		t.Fatalf("nullifier hash not deterministic")
	}
	want, _ := Hash2(n, big.NewInt(0))
	if a.Cmp(want) != 0 {
		t.Fatalf("nullifier hash argument order mismatch")
	}
}
