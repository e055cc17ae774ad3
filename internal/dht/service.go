package dht

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cipherlabs/mixagent/pkg/errs"
)

// RPCTimeout bounds a single outbound request/response exchange.
const RPCTimeout = 5 * time.Second

// Node is one Kademlia participant: it owns a routing table, a local
// key/value store, and a TCP listener speaking the length-prefixed JSON
// wire protocol. The lifecycle follows the teacher's Start(ctx)/Stop()
// coordinator shape: a single background accept loop guarded by a mutex so
// double-starts are harmless.
type Node struct {
	self NodeID
	host string
	port int

	routing *RoutingTable
	store   *localStore
	pending *pendingTable
	log     *logrus.Logger

	connSlots chan struct{}

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// Config configures a new Node.
type Config struct {
	Self       NodeID
	Host       string
	Port       int
	Production bool
	Logger     *logrus.Logger
}

// NewNode constructs a Node bound to cfg but does not start listening.
func NewNode(cfg Config) *Node {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Node{
		self:      cfg.Self,
		host:      cfg.Host,
		port:      cfg.Port,
		routing:   NewRoutingTable(cfg.Self, Validator{Production: cfg.Production}),
		store:     newLocalStore(),
		pending:   newPendingTable(),
		log:       logger,
		connSlots: make(chan struct{}, maxConnections),
	}
}

// Self returns the node's own ID.
func (n *Node) Self() NodeID { return n.self }

// Addr returns the listener's bound address ("host:port"), valid only
// after Start has succeeded. It is chiefly useful when Config.Port is 0
// and the kernel assigns an ephemeral port.
func (n *Node) Addr() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.listener == nil {
		return ""
	}
	return n.listener.Addr().String()
}

// Routing exposes the routing table for callers that need to enumerate
// known peers (e.g. the tree-sharing service's /peers endpoint).
func (n *Node) Routing() *RoutingTable { return n.routing }

// Start binds the TCP listener and launches the accept loop. Calling Start
// twice has no effect.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.cancel != nil {
		n.mu.Unlock()
		return nil
	}
	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(n.port)))
	if err != nil {
		n.mu.Unlock()
		return errs.Wrap(errs.IoNetwork, "dht.Node.Start", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	n.listener = ln
	n.cancel = cancel
	n.mu.Unlock()

	n.wg.Add(1)
	go n.acceptLoop(ctx)
	n.log.WithField("port", n.port).Info("dht node listening")
	return nil
}

// Stop closes the listener and waits for in-flight handlers to drain.
func (n *Node) Stop() {
	n.mu.Lock()
	if n.cancel == nil {
		n.mu.Unlock()
		return
	}
	n.cancel()
	n.cancel = nil
	ln := n.listener
	n.listener = nil
	n.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	n.wg.Wait()
	n.log.Info("dht node stopped")
}

func (n *Node) acceptLoop(ctx context.Context) {
	defer n.wg.Done()
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				n.log.Warnf("dht accept: %v", err)
				return
			}
		}
		if !n.acquireConnSlot() {
			conn.Close()
			continue
		}
		go n.readLoop(newPeerConn(conn))
	}
}

// dispatch handles one inbound frame, performing routing-table maintenance
// for request messages and completing pending RPCs for response messages.
func (n *Node) dispatch(pc *peerConn, msg Message) {
	peerID, err := ParseNodeID(msg.ID)
	if err != nil {
		return
	}

	switch msg.Type {
	case MsgPing:
		n.touchFromConn(pc, peerID)
		_ = pc.send(Message{Type: MsgPong, ID: n.self.String(), TxID: msg.TxID})
	case MsgFindNode:
		n.touchFromConn(pc, peerID)
		n.handleFindNode(pc, msg)
	case MsgStore:
		n.touchFromConn(pc, peerID)
		n.handleStore(pc, msg)
	case MsgFindValue:
		n.touchFromConn(pc, peerID)
		n.handleFindValue(pc, msg)
	case MsgPong, MsgNodes, MsgStored, MsgValue:
		n.pending.complete(msg.TxID, msg)
	default:
	}
}

// touchFromConn records the sender as seen using the remote connection's
// observed address; it does not know the peer's declared listen port (that
// arrives only via bootstrap or NODES entries), so it retains whatever port
// the routing table already has on a re-touch and otherwise skips admission.
func (n *Node) touchFromConn(pc *peerConn, id NodeID) {
	if id == n.self {
		return
	}
	host, _, err := net.SplitHostPort(pc.conn.RemoteAddr().String())
	if err != nil {
		return
	}
	for _, p := range n.routing.All() {
		if p.NodeID == id {
			p.Host = host
			p.LastSeen = time.Now()
			n.routing.Touch(p)
			return
		}
	}
}

func (n *Node) handleFindNode(pc *peerConn, msg Message) {
	var data FindNodeData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		return
	}
	target, err := ParseNodeID(data.Target)
	if err != nil {
		return
	}
	nodes := toNodeInfos(n.routing.Nearest(target, K))
	payload, _ := json.Marshal(NodesData{Nodes: nodes})
	_ = pc.send(Message{Type: MsgNodes, ID: n.self.String(), TxID: msg.TxID, Data: payload})
}

func (n *Node) handleStore(pc *peerConn, msg Message) {
	var data StoreData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		return
	}
	host, _, _ := net.SplitHostPort(pc.conn.RemoteAddr().String())
	augmented := augmentWithHost(data.Value, host)
	n.store.put(data.Key, augmented)
	_ = pc.send(Message{Type: MsgStored, ID: n.self.String(), TxID: msg.TxID})
}

func (n *Node) handleFindValue(pc *peerConn, msg Message) {
	var data FindValueData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		return
	}
	if values, ok := n.store.get(data.Key); ok && len(values) > 0 {
		payload, _ := json.Marshal(ValueData{Value: values[len(values)-1]})
		_ = pc.send(Message{Type: MsgValue, ID: n.self.String(), TxID: msg.TxID, Data: payload})
		return
	}
	target := HashKey([]byte(data.Key))
	nodes := toNodeInfos(n.routing.Nearest(target, K))
	payload, _ := json.Marshal(NodesData{Nodes: nodes})
	_ = pc.send(Message{Type: MsgNodes, ID: n.self.String(), TxID: msg.TxID, Data: payload})
}

// augmentWithHost rewrites a stored value's "host" field to the sender's
// observed address, per spec section 4.F.
func augmentWithHost(value json.RawMessage, host string) json.RawMessage {
	var m map[string]any
	if err := json.Unmarshal(value, &m); err != nil {
		return value
	}
	m["host"] = host
	out, err := json.Marshal(m)
	if err != nil {
		return value
	}
	return out
}

func toNodeInfos(peers []PeerRecord) []NodeInfo {
	out := make([]NodeInfo, len(peers))
	for i, p := range peers {
		out[i] = NodeInfo{ID: p.NodeID.String(), Host: p.Host, Port: p.Port}
	}
	return out
}

// send dials addr, hands the connection to the same readLoop used for
// inbound connections (so a peer that pushes a request back over the
// stream we opened is served too), and waits on the pending-RPC table for
// the matching tx_id. The connection is left open afterward, subject to
// the shared idle timeout, so a subsequent send to the same peer's
// dial-out can race fresh connections but never blocks on a wedged one.
func (n *Node) send(ctx context.Context, addr string, msg Message) (Message, error) {
	const op = "dht.Node.send"
	if !n.acquireConnSlot() {
		return Message{}, errs.New(errs.Capacity, op, "connection limit reached")
	}

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		n.releaseConnSlot()
		return Message{}, errs.Wrap(errs.IoNetwork, op, err)
	}

	txID, err := newTxID()
	if err != nil {
		conn.Close()
		n.releaseConnSlot()
		return Message{}, err
	}
	msg.TxID = txID
	pending := n.pending.register(txID)

	pc := newPeerConn(conn)
	go n.readLoop(pc)

	if err := pc.send(msg); err != nil {
		n.pending.forget(txID)
		return Message{}, err
	}

	timeout := RPCTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	reply, err := pending.wait(timeout)
	if err != nil {
		n.pending.forget(txID)
		return Message{}, errs.Wrap(errs.IoTimeout, op, err)
	}
	return reply, nil
}

func (n *Node) ping(ctx context.Context, addr string) error {
	_, err := n.send(ctx, addr, Message{Type: MsgPing, ID: n.self.String()})
	return err
}

func (n *Node) findNode(ctx context.Context, addr string, target NodeID) ([]NodeInfo, error) {
	payload, _ := json.Marshal(FindNodeData{Target: target.String()})
	reply, err := n.send(ctx, addr, Message{Type: MsgFindNode, ID: n.self.String(), Data: payload})
	if err != nil {
		return nil, err
	}
	var data NodesData
	if err := json.Unmarshal(reply.Data, &data); err != nil {
		return nil, errs.Wrap(errs.Integrity, "dht.Node.findNode", err)
	}
	return data.Nodes, nil
}

func (n *Node) storeAt(ctx context.Context, addr string, key string, value json.RawMessage) error {
	payload, _ := json.Marshal(StoreData{Key: key, Value: value})
	_, err := n.send(ctx, addr, Message{Type: MsgStore, ID: n.self.String(), Data: payload})
	return err
}

func (n *Node) findValueAt(ctx context.Context, addr string, key string) (json.RawMessage, []NodeInfo, error) {
	payload, _ := json.Marshal(FindValueData{Key: key})
	reply, err := n.send(ctx, addr, Message{Type: MsgFindValue, ID: n.self.String(), Data: payload})
	if err != nil {
		return nil, nil, err
	}
	switch reply.Type {
	case MsgValue:
		var data ValueData
		if err := json.Unmarshal(reply.Data, &data); err != nil {
			return nil, nil, errs.Wrap(errs.Integrity, "dht.Node.findValueAt", err)
		}
		return data.Value, nil, nil
	case MsgNodes:
		var data NodesData
		if err := json.Unmarshal(reply.Data, &data); err != nil {
			return nil, nil, errs.Wrap(errs.Integrity, "dht.Node.findValueAt", err)
		}
		return nil, data.Nodes, nil
	default:
		return nil, nil, errs.New(errs.Integrity, "dht.Node.findValueAt", fmt.Sprintf("unexpected response type %s", reply.Type))
	}
}
