package meshserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cipherlabs/mixagent/internal/merkletree"
	"github.com/cipherlabs/mixagent/pkg/errs"
)

// fetchTimeout bounds a single peer tree fetch.
const fetchTimeout = 10 * time.Second

// FetchCompleteTree attempts GET /tree/{chunk} against known peers,
// preferring those that advertise the target chunk, and returns the first
// tree rebuilt from a successful response (spec section 4.G).
func FetchCompleteTree(ctx context.Context, client *http.Client, peers *KnownPeers, chunk uint32) (*merkletree.Tree, error) {
	const op = "meshserver.FetchCompleteTree"
	if client == nil {
		client = http.DefaultClient
	}

	for _, p := range peers.PreferChunk(chunk) {
		reqCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
		snap, err := fetchOne(reqCtx, client, p, chunk)
		cancel()
		if err != nil {
			continue
		}
		tree, err := merkletree.FromSnapshot(snap)
		if err != nil {
			continue
		}
		return tree, nil
	}
	return nil, errs.New(errs.NotFound, op, "no peer served the requested chunk")
}

func fetchOne(ctx context.Context, client *http.Client, p KnownPeer, chunk uint32) (merkletree.Snapshot, error) {
	url := fmt.Sprintf("http://%s/tree/%d", p.Addr(), chunk)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return merkletree.Snapshot{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return merkletree.Snapshot{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return merkletree.Snapshot{}, fmt.Errorf("status %d", resp.StatusCode)
	}
	var out TreeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return merkletree.Snapshot{}, err
	}
	return merkletree.Snapshot{
		ChunkID:   out.ChunkID,
		Leaves:    out.Leaves,
		Tree:      out.Tree,
		Root:      out.Root,
		LeafCount: out.LeafCount,
	}, nil
}
