package agent

import (
	"context"
	"math/big"
	"time"

	"github.com/cipherlabs/mixagent/internal/merkletree"
	"github.com/cipherlabs/mixagent/internal/meshserver"
	"github.com/cipherlabs/mixagent/pkg/errs"
)

// LoadTree implements the tree-load algorithm of spec section 4.I: query
// the on-chain leaf count, reuse or incrementally update an in-memory
// tree, fall back to the on-disk cache, then the peer layer, and finally a
// full chain fetch, refreshing the cache on every successful path.
func (a *Agent) LoadTree(ctx context.Context, chunk uint32) (*merkletree.Tree, error) {
	const op = "agent.LoadTree"

	onChain, err := a.chain.FetchLeaves(ctx, chunk)
	if err != nil {
		return nil, err
	}
	onChainCount := len(onChain)

	if t, ok := a.tree(chunk); ok {
		switch {
		case t.LeafCount() == onChainCount:
			return t, nil
		case t.LeafCount() < onChainCount && isPrefix(t.Leaves(), onChain):
			if _, err := a.pool.Run(func() (any, error) { return nil, t.Update(onChain) }); err != nil {
				return nil, err
			}
			a.refreshCache(chunk, t)
			return t, nil
		}
	}

	if snap, err := a.cache.Load(chunk); err == nil {
		if t, ok := a.tryInstallFromSnapshot(snap, chunk, onChain, onChainCount); ok {
			return t, nil
		}
	}

	if t, err := meshserver.FetchCompleteTree(ctx, a.httpClient, a.knownPeers, chunk); err == nil {
		if t.LeafCount() <= onChainCount {
			a.installTree(chunk, t)
			a.refreshCache(chunk, t)
			return t, nil
		}
	}

	t := merkletree.New()
	if _, err := a.pool.Run(func() (any, error) { return nil, t.Build(onChain) }); err != nil {
		return nil, errs.Wrap(errs.Integrity, op, err)
	}
	a.installTree(chunk, t)
	a.refreshCache(chunk, t)
	return t, nil
}

// tryInstallFromSnapshot attempts to install a cached snapshot per step 4
// of the algorithm: a snapshot whose leaves are a prefix of the on-chain set
// is rebuilt from those leaves (and incrementally updated if shorter);
// anything else is discarded rather than silently trusted. The snapshot's
// stored node values are never installed directly, so even a full cached
// tree goes through a complete Build.
func (a *Agent) tryInstallFromSnapshot(snap merkletree.Snapshot, chunk uint32, onChain []*big.Int, onChainCount int) (*merkletree.Tree, bool) {
	leaves, err := decimalsToBigInt(snap.Leaves)
	if err != nil {
		return nil, false
	}
	if !isPrefix(leaves, onChain) {
		return nil, false
	}

	t := merkletree.New()
	if _, err := a.pool.Run(func() (any, error) { return nil, t.Build(leaves) }); err != nil {
		return nil, false
	}
	if len(leaves) < onChainCount {
		if _, err := a.pool.Run(func() (any, error) { return nil, t.Update(onChain) }); err != nil {
			return nil, false
		}
	}
	a.installTree(chunk, t)
	a.refreshCache(chunk, t)
	return t, true
}

func (a *Agent) refreshCache(chunk uint32, t *merkletree.Tree) {
	snap := t.Snapshot(chunk, time.Now().Unix())
	if err := a.cache.Save(snap); err != nil {
		a.log.Warnf("tree cache save for chunk %d: %v", chunk, err)
	}
}

// isPrefix reports whether short is a prefix of long (spec section 3's
// "leaf sequence is a prefix of the on-chain leaf sequence" invariant).
func isPrefix(short, long []*big.Int) bool {
	if len(short) > len(long) {
		return false
	}
	for i := range short {
		if short[i].Cmp(long[i]) != 0 {
			return false
		}
	}
	return true
}

func decimalsToBigInt(dec []string) ([]*big.Int, error) {
	out := make([]*big.Int, len(dec))
	for i, s := range dec {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, errs.New(errs.Integrity, "agent.decimalsToBigInt", "leaf is not a valid decimal integer")
		}
		out[i] = v
	}
	return out, nil
}
