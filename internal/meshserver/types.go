package meshserver

import (
	"encoding/json"

	"github.com/cipherlabs/mixagent/pkg/errs"
)

// marshalProof serializes a Proof to the opaque byte form the chain
// adapter's Submit* methods accept.
func marshalProof(p Proof) ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, errs.Wrap(errs.Integrity, "meshserver.marshalProof", err)
	}
	return b, nil
}

// Proof is the Groth16-shaped proof object the spec's structural
// validation requires: pi_a, pi_b, pi_c, protocol, curve. Its contents
// are opaque to this service; only shape is checked here, verification
// itself belongs to the on-chain program the chain adapter talks to.
type Proof struct {
	PiA      json.RawMessage `json:"pi_a"`
	PiB      json.RawMessage `json:"pi_b"`
	PiC      json.RawMessage `json:"pi_c"`
	Protocol string          `json:"protocol"`
	Curve    string          `json:"curve"`

	// NullifierHash is the public signal the queue processor feeds to
	// submit_withdraw; it travels alongside the proof rather than being
	// parsed out of pi_a/pi_b/pi_c, since interpreting Groth16 public
	// signal ordering is the prover's concern, not this service's.
	NullifierHash string `json:"nullifierHash"`
}

// SubmitRequest is the POST /relayer/submit body.
type SubmitRequest struct {
	Proof     Proof  `json:"proof"`
	Recipient string `json:"recipient"`
	Amount    uint64 `json:"amount"`
	ChunkID   uint32 `json:"chunkId"`
}

// SubmitResponse is the 200 response body.
type SubmitResponse struct {
	Success               bool   `json:"success"`
	QueueID                string `json:"queueId"`
	EstimatedExecutionTime int64  `json:"estimatedExecutionTime"`
}

// StatusResponse is the GET /relayer/status response body.
type StatusResponse struct {
	QueueLength int           `json:"queueLength"`
	Processing  bool          `json:"processing"`
	Fee         uint64        `json:"fee"`
	MaxDelayMS  int64         `json:"maxDelay"`
}

// TreeResponse is the GET /tree/{chunk_id} response body.
type TreeResponse struct {
	ChunkID   uint32   `json:"chunkId"`
	Leaves    []string `json:"leaves"`
	Tree      []string `json:"tree"`
	Root      string   `json:"root"`
	LeafCount int      `json:"leafCount"`
}

// PeerView is one entry of the GET /peers response.
type PeerView struct {
	Host     string  `json:"host"`
	Port     int     `json:"port"`
	LastSeen int64   `json:"lastSeen"`
	Trees    []uint32 `json:"trees"`
}

// PeersResponse is the GET /peers response body.
type PeersResponse struct {
	Peers []PeerView `json:"peers"`
	Count int        `json:"count"`
}

// HealthResponse is the GET /health response body.
type HealthResponse struct {
	Status    string   `json:"status"`
	Chunks    []uint32 `json:"chunks"`
	Port      int      `json:"port"`
	Timestamp int64    `json:"timestamp"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
}
