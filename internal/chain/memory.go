package chain

import (
	"context"
	"math/big"
	"sync"

	"github.com/cipherlabs/mixagent/pkg/errs"
)

// MemoryAdapter is the in-memory test double for Adapter: it stores leaves
// per chunk and accepts/rejects submissions deterministically, standing in
// for the on-chain program and the Groth16 verifier the core never talks to
// directly (spec section 9, "Polymorphism").
type MemoryAdapter struct {
	mu           sync.Mutex
	leaves       map[uint32][]*big.Int
	currentChunk uint32
	nullifiers   map[string]bool
	nextTxID     int
	RejectReason string // when non-empty, every submit fails with ChainRejected{RejectReason}
}

// NewMemoryAdapter returns an empty adapter with a single current chunk 0.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		leaves:     make(map[uint32][]*big.Int),
		nullifiers: make(map[string]bool),
	}
}

// SeedLeaves appends leaves to chunk, as if they had landed on-chain.
func (m *MemoryAdapter) SeedLeaves(chunk uint32, leaves ...*big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaves[chunk] = append(m.leaves[chunk], leaves...)
	if chunk > m.currentChunk {
		m.currentChunk = chunk
	}
}

func (m *MemoryAdapter) FetchLeaves(_ context.Context, chunk uint32) ([]*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*big.Int, len(m.leaves[chunk]))
	copy(out, m.leaves[chunk])
	return out, nil
}

func (m *MemoryAdapter) CurrentChunkID(_ context.Context) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentChunk, nil
}

func (m *MemoryAdapter) SubmitDeposit(_ context.Context, _ []byte, amount uint64, chunk uint32) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RejectReason != "" {
		return "", errs.WrapReason(errs.ChainRejected, "chain.MemoryAdapter.SubmitDeposit", m.RejectReason, errChainRejected)
	}
	_ = amount
	_ = chunk
	m.nextTxID++
	return txIDFor(m.nextTxID), nil
}

func (m *MemoryAdapter) SubmitWithdraw(_ context.Context, _ []byte, _ string, _ uint32, nullifierHash *big.Int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RejectReason != "" {
		return "", errs.WrapReason(errs.ChainRejected, "chain.MemoryAdapter.SubmitWithdraw", m.RejectReason, errChainRejected)
	}
	key := nullifierHash.String()
	if m.nullifiers[key] {
		return "", errs.WrapReason(errs.ChainRejected, "chain.MemoryAdapter.SubmitWithdraw", "duplicate_nullifier", errChainRejected)
	}
	m.nullifiers[key] = true
	m.nextTxID++
	return txIDFor(m.nextTxID), nil
}

var _ Adapter = (*MemoryAdapter)(nil)

var errChainRejected = errChainRejectedSentinel{}

type errChainRejectedSentinel struct{}

func (errChainRejectedSentinel) Error() string { return "chain: rejected" }

func txIDFor(n int) string {
	const hex = "0123456789abcdef"
	buf := make([]byte, 64)
	for i := range buf {
		buf[i] = hex[(n+i)%16]
	}
	return string(buf)
}
