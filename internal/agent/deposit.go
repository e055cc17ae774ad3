package agent

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"math/big"
	"time"

	"github.com/cipherlabs/mixagent/internal/depositcode"
	"github.com/cipherlabs/mixagent/internal/poseidon"
	"github.com/cipherlabs/mixagent/internal/prover"
	"github.com/cipherlabs/mixagent/pkg/errs"
)

// DepositResult is what Deposit returns to its caller: enough to later
// withdraw the funds, plus the on-chain transaction id for auditing.
type DepositResult struct {
	TxID        string
	Commitment  string
	DepositCode string
	ChunkID     uint32
}

// Deposit draws fresh nullifier/secret material, proves and submits a
// deposit for amount, and only records it in the deposit book once the
// chain has accepted the transaction (spec section 4.I, deposit flow).
func (a *Agent) Deposit(ctx context.Context, amount uint64) (DepositResult, error) {
	const op = "agent.Deposit"

	var nullifierBytes, secretBytes [32]byte
	if _, err := rand.Read(nullifierBytes[:]); err != nil {
		return DepositResult{}, errs.Wrap(errs.Other, op, err)
	}
	if _, err := rand.Read(secretBytes[:]); err != nil {
		return DepositResult{}, errs.Wrap(errs.Other, op, err)
	}
	nullifier := new(big.Int).SetBytes(nullifierBytes[:])
	secret := new(big.Int).SetBytes(secretBytes[:])

	commitment, err := poseidon.Commitment(nullifier, secret, amount)
	if err != nil {
		return DepositResult{}, err
	}

	proof, err := a.prover.ProveDeposit(ctx, prover.DepositWitness{
		Nullifier: nullifier,
		Secret:    secret,
		Amount:    amount,
	})
	if err != nil {
		return DepositResult{}, err
	}

	chunk, err := a.chain.CurrentChunkID(ctx)
	if err != nil {
		return DepositResult{}, err
	}

	proofBytes, err := json.Marshal(proof)
	if err != nil {
		return DepositResult{}, errs.Wrap(errs.Integrity, op, err)
	}
	txID, err := a.chain.SubmitDeposit(ctx, proofBytes, amount, chunk)
	if err != nil {
		return DepositResult{}, err
	}

	code := depositcode.Encode(depositcode.Code{
		Version:   depositcode.Version1,
		Nullifier: nullifierBytes,
		Secret:    secretBytes,
		ChunkID:   chunk,
		Amount:    amount,
	})
	commitmentStr := commitment.String()

	if err := a.book.Add(code, commitmentStr, txID, amount, time.Now()); err != nil {
		return DepositResult{}, err
	}

	return DepositResult{
		TxID:        txID,
		Commitment:  commitmentStr,
		DepositCode: code,
		ChunkID:     chunk,
	}, nil
}
