package meshserver

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func (s *Server) handleGetTree(w http.ResponseWriter, r *http.Request) {
	chunkID, err := strconv.ParseUint(chi.URLParam(r, "chunkId"), 10, 32)
	if err != nil {
		writeError(w, http.StatusNotFound, "Tree not found")
		return
	}
	snap, ok := s.trees.Snapshot(uint32(chunkID))
	if !ok {
		writeError(w, http.StatusNotFound, "Tree not found")
		return
	}
	writeJSON(w, http.StatusOK, TreeResponse{
		ChunkID:   snap.ChunkID,
		Leaves:    snap.Leaves,
		Tree:      snap.Tree,
		Root:      snap.Root,
		LeafCount: snap.LeafCount,
	})
}

func (s *Server) handleGetPeers(w http.ResponseWriter, r *http.Request) {
	known := s.peers.All()
	views := make([]PeerView, len(known))
	for i, p := range known {
		trees := make([]uint32, 0, len(p.AdvertisedChunks))
		for c := range p.AdvertisedChunks {
			trees = append(trees, c)
		}
		views[i] = PeerView{Host: p.Host, Port: p.Port, LastSeen: p.LastSeen.Unix(), Trees: trees}
	}
	writeJSON(w, http.StatusOK, PeersResponse{Peers: views, Count: len(views)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Chunks:    s.trees.Chunks(),
		Port:      s.httpPort,
		Timestamp: time.Now().Unix(),
	})
}

func (s *Server) handleRelayerSubmit(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, s.maxBody)
	data, err := io.ReadAll(body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	ip := sourceIP(r)
	if !s.limiter.Allow(ip, time.Now()) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req SubmitRequest
	if err := json.Unmarshal(data, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := validateSubmit(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now()
	queueID, executeAt, err := s.queue.Submit(req, now)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, SubmitResponse{
		Success:                true,
		QueueID:                queueID,
		EstimatedExecutionTime: executeAt.UnixMilli(),
	})
}

func (s *Server) handleRelayerStatus(w http.ResponseWriter, r *http.Request) {
	length, processing := s.queue.Status()
	writeJSON(w, http.StatusOK, StatusResponse{
		QueueLength: length,
		Processing:  processing,
		Fee:         s.queue.fee,
		MaxDelayMS:  s.queue.maxDelay.Milliseconds(),
	})
}

// sourceIP extracts the request's source IP, stripping any port.
func sourceIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
