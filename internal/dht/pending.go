package dht

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/cipherlabs/mixagent/pkg/errs"
)

// pendingRPC tracks one outstanding request awaiting a response keyed by
// tx_id, armed with a timeout (spec section 3, "Pending RPC").
type pendingRPC struct {
	reply chan Message
}

// pendingTable is the in-memory map from tx_id to pendingRPC.
type pendingTable struct {
	mu      sync.Mutex
	entries map[string]*pendingRPC
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[string]*pendingRPC)}
}

func newTxID() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", errs.Wrap(errs.Other, "dht.newTxID", err)
	}
	return hex.EncodeToString(b[:]), nil
}

func (t *pendingTable) register(txID string) *pendingRPC {
	p := &pendingRPC{reply: make(chan Message, 1)}
	t.mu.Lock()
	t.entries[txID] = p
	t.mu.Unlock()
	return p
}

func (t *pendingTable) complete(txID string, msg Message) bool {
	t.mu.Lock()
	p, ok := t.entries[txID]
	if ok {
		delete(t.entries, txID)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case p.reply <- msg:
	default:
	}
	return true
}

func (t *pendingTable) forget(txID string) {
	t.mu.Lock()
	delete(t.entries, txID)
	t.mu.Unlock()
}

// wait blocks for a reply or the RPC timeout, whichever comes first.
func (p *pendingRPC) wait(timeout time.Duration) (Message, error) {
	select {
	case msg := <-p.reply:
		return msg, nil
	case <-time.After(timeout):
		return Message{}, errs.New(errs.IoTimeout, "dht.pendingRPC.wait", "rpc timed out")
	}
}
