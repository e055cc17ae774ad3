package agent

import (
	"context"
	"math/big"
	"time"

	"github.com/cipherlabs/mixagent/internal/depositcode"
	"github.com/cipherlabs/mixagent/internal/merkletree"
	"github.com/cipherlabs/mixagent/internal/meshserver"
	"github.com/cipherlabs/mixagent/internal/poseidon"
	"github.com/cipherlabs/mixagent/internal/prover"
	"github.com/cipherlabs/mixagent/pkg/errs"
)

// WithdrawResult is what Withdraw returns on success: the relayer queue ID
// the withdrawal was enqueued under.
type WithdrawResult struct {
	QueueID string
}

// Withdraw finds an unwithdrawn deposit (matching amount if given),
// proves and submits its withdrawal to recipient via the least-loaded
// relayer. It pre-marks the deposit withdrawn in the book before the
// network call, per spec section 4.I / scenario E3, and rolls the mark
// back on any failure so the deposit remains available for a later
// retry.
func (a *Agent) Withdraw(ctx context.Context, amount *uint64, recipient string) (WithdrawResult, error) {
	const op = "agent.Withdraw"

	record, err := a.book.FindUnwithdrawn(amount)
	if err != nil {
		return WithdrawResult{}, err
	}

	code, err := depositcode.Decode(record.Code)
	if err != nil {
		return WithdrawResult{}, err
	}

	tree, err := a.LoadTree(ctx, code.ChunkID)
	if err != nil {
		return WithdrawResult{}, err
	}

	leafIndex, err := a.resolveLeafIndex(record.Commitment, code.ChunkID, tree)
	if err != nil {
		return WithdrawResult{}, err
	}

	path, err := tree.InclusionPath(leafIndex)
	if err != nil {
		return WithdrawResult{}, err
	}

	nullifierHash, err := poseidon.NullifierHash(code.NullifierInt())
	if err != nil {
		return WithdrawResult{}, err
	}

	proof, err := a.prover.ProveWithdraw(ctx, prover.WithdrawWitness{
		Nullifier: code.NullifierInt(),
		Secret:    code.SecretInt(),
		Recipient: recipient,
		Amount:    record.Amount,
		Fee:       a.cfg.Relayer.Fee,
		Path:      path,
	})
	if err != nil {
		return WithdrawResult{}, err
	}

	relayerAddr := a.SelectRelayer(ctx)

	// Pre-mark withdrawn before the network call so a crash or a second
	// concurrent Withdraw cannot double-spend the same deposit; the
	// reference is rolled back to unwithdrawn on any submission failure.
	if err := a.book.MarkWithdrawn(record.Code, relayerAddr, time.Now()); err != nil {
		return WithdrawResult{}, err
	}

	req := meshserver.SubmitRequest{
		Proof: meshserver.Proof{
			PiA:           proof.PiA,
			PiB:           proof.PiB,
			PiC:           proof.PiC,
			Protocol:      proof.Protocol,
			Curve:         proof.Curve,
			NullifierHash: nullifierHash.String(),
		},
		Recipient: recipient,
		Amount:    record.Amount,
		ChunkID:   code.ChunkID,
	}

	queueID, err := a.submitWithdraw(ctx, relayerAddr, req)
	if err != nil {
		if unmarkErr := a.book.UnmarkWithdrawn(record.Code); unmarkErr != nil {
			a.log.Warnf("%s: rollback after failed submit also failed: %v", op, unmarkErr)
		}
		return WithdrawResult{}, err
	}

	if err := a.book.UpdateWithdrawRef(record.Code, queueID); err != nil {
		a.log.Warnf("%s: updating withdraw reference to queue id: %v", op, err)
	}

	return WithdrawResult{QueueID: queueID}, nil
}

// resolveLeafIndex consults the commitment index first, falling back to
// the tree's linear scan for deposits this index has not yet recorded,
// persisting the result once found (spec section 9, closing the linear
// scan's timing side channel for this agent's own deposits).
func (a *Agent) resolveLeafIndex(commitment string, chunkID uint32, tree *merkletree.Tree) (uint32, error) {
	const op = "agent.resolveLeafIndex"

	if entry, ok, err := a.index.Lookup(commitment); err == nil && ok {
		return entry.LeafIndex, nil
	}

	value, ok := new(big.Int).SetString(commitment, 10)
	if !ok {
		return 0, errs.New(errs.Integrity, op, "commitment is not a valid decimal integer")
	}
	leafIndex, ok := tree.IndexOf(value)
	if !ok {
		return 0, errs.New(errs.NotFound, op, "commitment not found in chunk tree")
	}
	if err := a.index.Record(commitment, chunkID, leafIndex); err != nil {
		a.log.Warnf("%s: recording commitment index: %v", op, err)
	}
	return leafIndex, nil
}
