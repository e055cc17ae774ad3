package dht

import "testing"

func TestKBucketTouchMovesToTail(t *testing.T) {
	b := newKBucket()
	p1 := PeerRecord{NodeID: randomNodeID(1), Host: "1.2.3.4", Port: 9000}
	p2 := PeerRecord{NodeID: randomNodeID(2), Host: "1.2.3.5", Port: 9000}
	b.touch(p1)
	b.touch(p2)
	if !b.touch(p1) {
		t.Fatalf("expected touch of existing entry to succeed")
	}
	list := b.list()
	if list[len(list)-1].NodeID != p1.NodeID {
		t.Fatalf("expected p1 at tail after touch, got %+v", list)
	}
}

func TestKBucketFullAfterKIgnoresNewInsert(t *testing.T) {
	b := newKBucket()
	for i := 0; i < K; i++ {
		p := PeerRecord{NodeID: randomNodeID(int64(i)), Host: "10.0.0.1", Port: 9000}
		if !b.touch(p) {
			t.Fatalf("expected insert %d to succeed", i)
		}
	}
	extra := PeerRecord{NodeID: randomNodeID(9999), Host: "10.0.0.1", Port: 9000}
	if b.touch(extra) {
		t.Fatalf("expected (K+1)th insert into full bucket to be ignored")
	}
	if len(b.list()) != K {
		t.Fatalf("expected bucket to remain at K entries, got %d", len(b.list()))
	}
}

func TestRoutingTableSubnetCap(t *testing.T) {
	self := randomNodeID(42)
	rt := NewRoutingTable(self, Validator{})
	for i := 0; i < subnetCap; i++ {
		p := PeerRecord{NodeID: randomNodeID(int64(i)), Host: "203.0.113.10", Port: 9000}
		if !rt.Touch(p) {
			t.Fatalf("expected peer %d from subnet to be admitted", i)
		}
	}
	extra := PeerRecord{NodeID: randomNodeID(9999), Host: "203.0.113.20", Port: 9000}
	if rt.Touch(extra) {
		t.Fatalf("expected 6th peer from same /24 to be rejected")
	}
}
