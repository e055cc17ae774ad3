// Package chain models the external on-chain program as a narrow
// capability interface: spec section 4.E treats the smart contract as an
// out-of-scope collaborator that merely exposes leaf storage reads and a
// submit API for deposit/withdraw transactions.
package chain

import (
	"context"
	"math/big"
)

// Adapter is the capability boundary every caller in this repository
// depends on. Production code uses RPCAdapter; tests use MemoryAdapter.
type Adapter interface {
	// FetchLeaves returns the ordered sequence of leaves stored on-chain
	// for chunk, stopping at the first missing storage account.
	FetchLeaves(ctx context.Context, chunk uint32) ([]*big.Int, error)

	// CurrentChunkID returns the contract's monotonically growing current
	// chunk id.
	CurrentChunkID(ctx context.Context) (uint32, error)

	// SubmitDeposit submits a deposit transaction and returns its tx id.
	SubmitDeposit(ctx context.Context, proof []byte, amount uint64, chunk uint32) (string, error)

	// SubmitWithdraw submits a withdraw transaction and returns its tx id.
	SubmitWithdraw(ctx context.Context, proof []byte, recipient string, chunk uint32, nullifierHash *big.Int) (string, error)
}
