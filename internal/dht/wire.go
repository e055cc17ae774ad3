package dht

import (
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/cipherlabs/mixagent/pkg/errs"
)

// MessageType identifies a wire message's role.
type MessageType string

const (
	MsgPing      MessageType = "PING"
	MsgPong      MessageType = "PONG"
	MsgFindNode  MessageType = "FIND_NODE"
	MsgNodes     MessageType = "NODES"
	MsgStore     MessageType = "STORE"
	MsgStored    MessageType = "STORED"
	MsgFindValue MessageType = "FIND_VALUE"
	MsgValue     MessageType = "VALUE"
)

// Message is the wire envelope: { type, id, tx_id?, data? }.
type Message struct {
	Type MessageType     `json:"type"`
	ID   string          `json:"id"`
	TxID string          `json:"tx_id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NodeInfo is the {id,host,port} shape exchanged in NODES/VALUE payloads.
type NodeInfo struct {
	ID   string `json:"id"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

// FindNodeData is the FIND_NODE request payload.
type FindNodeData struct {
	Target string `json:"target"`
}

// NodesData is the NODES response payload.
type NodesData struct {
	Nodes []NodeInfo `json:"nodes"`
}

// StoreData is the STORE request payload.
type StoreData struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// FindValueData is the FIND_VALUE request payload.
type FindValueData struct {
	Key string `json:"key"`
}

// ValueData is the VALUE response payload.
type ValueData struct {
	Value json.RawMessage `json:"value"`
}

// maxFrameBytes bounds a single incoming frame to guard against a
// malicious or misbehaving peer sending an oversized length prefix.
const maxFrameBytes = 1 << 20

// WriteFrame writes msg as a length-prefixed JSON frame: a 4-byte
// big-endian length followed by the UTF-8 JSON payload.
func WriteFrame(w io.Writer, msg Message) error {
	const op = "dht.WriteFrame"
	payload, err := json.Marshal(msg)
	if err != nil {
		return errs.Wrap(errs.Integrity, op, err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return errs.Wrap(errs.IoNetwork, op, err)
	}
	if _, err := w.Write(payload); err != nil {
		return errs.Wrap(errs.IoNetwork, op, err)
	}
	return nil
}

// ReadFrame reads one length-prefixed JSON frame from r. Frames declaring a
// length above maxFrameBytes are rejected without being read, since the
// spec calls for malformed messages to be silently discarded rather than
// crashing the connection handler.
func ReadFrame(r io.Reader) (Message, error) {
	const op = "dht.ReadFrame"
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Message{}, errs.Wrap(errs.IoNetwork, op, err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameBytes {
		return Message{}, errs.New(errs.BadInput, op, "frame too large")
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Message{}, errs.Wrap(errs.IoNetwork, op, err)
	}
	var msg Message
	if err := json.Unmarshal(buf, &msg); err != nil {
		return Message{}, errs.Wrap(errs.BadInput, op, err)
	}
	return msg, nil
}
