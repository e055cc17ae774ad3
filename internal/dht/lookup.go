package dht

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cipherlabs/mixagent/pkg/errs"
)

type shortlistEntry struct {
	peer    PeerRecord
	queried bool
}

// Lookup runs the iterative FIND_NODE lookup for target and returns the K
// closest peers discovered, sorted by ascending XOR distance.
//
// Only peers that actually answered a query during this lookup (or an
// earlier one) are admitted into the routing table; peers merely mentioned
// in a NODES response remain shortlist candidates until contacted
// directly. This resolves the bootstrap-order ambiguity in favor of the
// "only add peers that responded" reading.
func (n *Node) Lookup(ctx context.Context, target NodeID) []PeerRecord {
	var mu sync.Mutex
	shortlist := make(map[NodeID]*shortlistEntry)
	for _, p := range n.routing.Nearest(target, K) {
		shortlist[p.NodeID] = &shortlistEntry{peer: p}
	}

	for round := 0; round < MaxRounds; round++ {
		mu.Lock()
		candidates := unqueried(shortlist, target, Alpha)
		mu.Unlock()
		if len(candidates) == 0 {
			break
		}

		var wg sync.WaitGroup
		for _, c := range candidates {
			c := c
			wg.Add(1)
			go func() {
				defer wg.Done()
				rpcCtx, cancel := context.WithTimeout(ctx, RPCTimeout)
				defer cancel()
				nodes, err := n.findNode(rpcCtx, c.peer.Addr(), target)

				mu.Lock()
				defer mu.Unlock()
				shortlist[c.peer.NodeID].queried = true
				if err != nil {
					return
				}
				n.admitResponder(c.peer)
				for _, ni := range nodes {
					id, perr := ParseNodeID(ni.ID)
					if perr != nil || id == n.self {
						continue
					}
					if _, exists := shortlist[id]; !exists {
						shortlist[id] = &shortlistEntry{peer: PeerRecord{NodeID: id, Host: ni.Host, Port: ni.Port}}
					}
				}
			}()
		}
		wg.Wait()
	}

	mu.Lock()
	defer mu.Unlock()
	peers := make([]PeerRecord, 0, len(shortlist))
	for _, e := range shortlist {
		peers = append(peers, e.peer)
	}
	sortByDistance(peers, target)
	if len(peers) > K {
		peers = peers[:K]
	}
	return peers
}

func unqueried(shortlist map[NodeID]*shortlistEntry, target NodeID, limit int) []*shortlistEntry {
	all := make([]*shortlistEntry, 0, len(shortlist))
	for _, e := range shortlist {
		if !e.queried {
			all = append(all, e)
		}
	}
	for i := 1; i < len(all); i++ {
		for j := i; j > 0 && Less(target, all[j].peer.NodeID, all[j-1].peer.NodeID); j-- {
			all[j], all[j-1] = all[j-1], all[j]
		}
	}
	if len(all) > limit {
		all = all[:limit]
	}
	return all
}

func (n *Node) admitResponder(p PeerRecord) {
	p.LastSeen = time.Now()
	n.routing.Touch(p)
}

// AnnounceRecord is the value stored under NETWORK_ID by Announce and read
// back by FindAgents.
type AnnounceRecord struct {
	NodeID    string `json:"node_id"`
	HTTPPort  int    `json:"http_port"`
	Timestamp int64  `json:"timestamp"`
	Host      string `json:"host,omitempty"`
}

// Announce runs lookup(SHA256(networkID)) and STOREs an AnnounceRecord at
// each of the K closest results in parallel, absorbing individual
// failures.
func (n *Node) Announce(ctx context.Context, networkID string, httpPort int, publicHost string, now int64) {
	target := HashKey([]byte(networkID))
	closest := n.Lookup(ctx, target)

	rec := AnnounceRecord{NodeID: n.self.String(), HTTPPort: httpPort, Timestamp: now, Host: publicHost}
	payload, err := json.Marshal(rec)
	if err != nil {
		return
	}

	var wg sync.WaitGroup
	for _, p := range closest {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			rpcCtx, cancel := context.WithTimeout(ctx, RPCTimeout)
			defer cancel()
			_ = n.storeAt(rpcCtx, p.Addr(), networkID, payload)
		}()
	}
	wg.Wait()
}

// FindAgents runs lookup(SHA256(networkID)) then FIND_VALUE(networkID)
// against each of the K closest nodes, deduplicating by canonical JSON
// form and returning the distinct records found.
func (n *Node) FindAgents(ctx context.Context, networkID string) []AnnounceRecord {
	target := HashKey([]byte(networkID))
	closest := n.Lookup(ctx, target)

	var mu sync.Mutex
	seen := make(map[string]struct{})
	var records []AnnounceRecord

	var wg sync.WaitGroup
	for _, p := range closest {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			rpcCtx, cancel := context.WithTimeout(ctx, RPCTimeout)
			defer cancel()
			value, _, err := n.findValueAt(rpcCtx, p.Addr(), networkID)
			if err != nil || value == nil {
				return
			}

			mu.Lock()
			defer mu.Unlock()
			key := string(value)
			if _, ok := seen[key]; ok {
				return
			}
			seen[key] = struct{}{}

			var rec AnnounceRecord
			if err := json.Unmarshal(value, &rec); err != nil {
				return
			}
			records = append(records, rec)
		}()
	}
	wg.Wait()
	return records
}

// Bootstrap validates seed, PINGs it (which admits it into a bucket on the
// PONG round-trip, via dispatch's touchFromConn path being unavailable for
// client-issued PINGs, so admission happens explicitly here instead), then
// runs lookup(self) to populate nearby buckets.
func (n *Node) Bootstrap(ctx context.Context, seed PeerRecord) error {
	const op = "dht.Node.Bootstrap"
	validator := Validator{}
	if err := validator.Validate(seed.Host, seed.Port); err != nil {
		return errs.Wrap(errs.BadInput, op, err)
	}

	rpcCtx, cancel := context.WithTimeout(ctx, RPCTimeout)
	defer cancel()
	if err := n.ping(rpcCtx, seed.Addr()); err != nil {
		return errs.Wrap(errs.IoNetwork, op, err)
	}
	seed.LastSeen = time.Now()
	n.routing.Touch(seed)

	n.Lookup(ctx, n.self)
	return nil
}
