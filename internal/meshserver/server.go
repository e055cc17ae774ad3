// Package meshserver implements the tree-sharing and relayer HTTP service
// (spec sections 4.G/4.H): a chi-routed server exposing tree, peer, and
// health endpoints alongside the delayed-withdrawal relayer queue, plus
// the LAN UDP beacon that discovers peers without the DHT. Grounded on the
// teacher's layered HTTP service (walletserver: config/routes/controllers/
// middleware), adapted from gorilla/mux to chi per this repository's
// choice of router and from wallet operations to tree/relayer operations.
package meshserver

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/cipherlabs/mixagent/internal/merkletree"
)

// TreeProvider is the capability boundary the HTTP layer needs from the
// Merkle engine: a snapshot per chunk and the set of chunks currently
// served.
type TreeProvider interface {
	Snapshot(chunkID uint32) (merkletree.Snapshot, bool)
	Chunks() []uint32
}

// Server is the tree-sharing + relayer HTTP service.
type Server struct {
	httpPort int
	trees    TreeProvider
	peers    *KnownPeers
	queue    *RelayerQueue
	limiter  *slidingWindowLimiter
	maxBody  int64
	log      *logrus.Logger
	started  time.Time

	httpServer *http.Server
}

// Config configures a new Server.
type Config struct {
	HTTPPort    int
	Trees       TreeProvider
	Peers       *KnownPeers
	Queue       *RelayerQueue
	RateLimit   int
	RateWindow  time.Duration
	MaxBodyByte int64
	Logger      *logrus.Logger
}

// NewServer constructs a Server from cfg but does not start listening.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{
		httpPort: cfg.HTTPPort,
		trees:    cfg.Trees,
		peers:    cfg.Peers,
		queue:    cfg.Queue,
		limiter:  newSlidingWindowLimiter(cfg.RateLimit, cfg.RateWindow),
		maxBody:  cfg.MaxBodyByte,
		log:      logger,
		started:  time.Now(),
	}
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(corsMiddleware)
	r.Use(requestLogger(s.log))
	r.Get("/tree/{chunkId}", s.handleGetTree)
	r.Get("/peers", s.handleGetPeers)
	r.Get("/health", s.handleHealth)
	r.Post("/relayer/submit", s.handleRelayerSubmit)
	r.Get("/relayer/status", s.handleRelayerStatus)
	return r
}

// Start binds the HTTP listener, serves in a background goroutine, and
// starts the relayer queue processor bound to ctx so it outlives any
// individual request (the processor must keep running between submits,
// not just for the lifetime of the request that happened to trigger it).
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", httpAddr(s.httpPort))
	if err != nil {
		return err
	}
	s.httpServer = &http.Server{Handler: s.router()}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Warnf("mesh http server: %v", err)
		}
	}()
	s.queue.Start(ctx)
	s.log.WithField("port", s.httpPort).Info("tree-sharing/relayer http server listening")
	return nil
}

// Stop gracefully shuts down the HTTP server and the relayer queue.
func (s *Server) Stop(ctx context.Context) error {
	s.queue.Stop()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func httpAddr(port int) string {
	return ":" + strconv.Itoa(port)
}
