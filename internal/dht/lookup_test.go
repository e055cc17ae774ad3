package dht

import (
	"context"
	"net"
	"sort"
	"strconv"
	"testing"
	"time"
)

func startTestNode(t *testing.T, id NodeID) *Node {
	t.Helper()
	n := NewNode(Config{Self: id, Host: "127.0.0.1", Port: 0})
	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(n.Stop)
	return n
}

func peerRecordOf(t *testing.T, n *Node) PeerRecord {
	t.Helper()
	host, portStr, err := net.SplitHostPort(n.Addr())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	if host == "::" || host == "" {
		host = "127.0.0.1"
	}
	return PeerRecord{NodeID: n.Self(), Host: host, Port: port}
}

func TestLookupFindsKnownPeersViaFullMeshBootstrap(t *testing.T) {
	const count = 6
	nodes := make([]*Node, count)
	for i := 0; i < count; i++ {
		nodes[i] = startTestNode(t, randomNodeID(int64(i)+5000))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i, n := range nodes {
		for j, other := range nodes {
			if i == j {
				continue
			}
			if err := n.Bootstrap(ctx, peerRecordOf(t, other)); err != nil {
				t.Fatalf("bootstrap %d -> %d: %v", i, j, err)
			}
		}
	}

	target := randomNodeID(999)
	results := nodes[0].Lookup(ctx, target)
	if len(results) == 0 {
		t.Fatalf("expected non-empty lookup result")
	}
	if !sort.SliceIsSorted(results, func(i, j int) bool {
		return Less(target, results[i].NodeID, results[j].NodeID)
	}) {
		t.Fatalf("expected lookup results sorted by ascending distance to target")
	}
}

func TestLookupMonotonicity(t *testing.T) {
	const count = 5
	nodes := make([]*Node, count)
	for i := 0; i < count; i++ {
		nodes[i] = startTestNode(t, randomNodeID(int64(i)+8000))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i, n := range nodes {
		for j, other := range nodes {
			if i == j {
				continue
			}
			_ = n.Bootstrap(ctx, peerRecordOf(t, other))
		}
	}

	target := randomNodeID(4242)
	results := nodes[0].Lookup(ctx, target)
	if len(results) < 2 {
		t.Skip("not enough peers discovered to exercise monotonicity")
	}
	for i := 1; i < len(results); i++ {
		if Less(target, results[i].NodeID, results[i-1].NodeID) {
			t.Fatalf("result at index %d is closer than the previous one; final ordering must be non-decreasing in distance", i)
		}
	}
}
