package agent

import (
	"context"
	"encoding/json"
	"math/big"
	"math/rand"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cipherlabs/mixagent/internal/chain"
	"github.com/cipherlabs/mixagent/internal/config"
	"github.com/cipherlabs/mixagent/internal/meshserver"
	"github.com/cipherlabs/mixagent/internal/prover"
)

// confirmDeposit simulates the on-chain program accepting dep's commitment
// as the next leaf of its chunk, which MemoryAdapter's SubmitDeposit does
// not do on its own since the commitment travels inside the opaque proof
// bytes a real contract would parse.
func confirmDeposit(t *testing.T, adapter *chain.MemoryAdapter, dep DepositResult) {
	t.Helper()
	commitment, ok := new(big.Int).SetString(dep.Commitment, 10)
	if !ok {
		t.Fatalf("commitment %q is not a valid decimal integer", dep.Commitment)
	}
	adapter.SeedLeaves(dep.ChunkID, commitment)
}

// newTestAgent wires an Agent over a MemoryAdapter and MemoryProver,
// scoped to its own temp data dir and an unused port range, without
// starting any network listener (spec section 8's E1/E2/E3/E5 scenarios
// exercise the deposit/withdraw pipeline directly, not the transport
// layer around it).
func newTestAgent(t *testing.T) (*Agent, *chain.MemoryAdapter) {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Network.PublicHost = "127.0.0.1"
	cfg.Network.DHTPort = 20000 + rand.Intn(10000)
	cfg.Network.HTTPPort = 30000 + rand.Intn(10000)
	cfg.Network.BeaconPort = 40000 + rand.Intn(10000)

	adapter := chain.NewMemoryAdapter()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	a, err := New(&cfg, adapter, prover.MemoryProver{}, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, adapter
}

func TestDepositThenWithdrawRoundTrip(t *testing.T) {
	a, adapter := newTestAgent(t)
	ctx := context.Background()

	dep, err := a.Deposit(ctx, 1_000_000)
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if dep.TxID == "" || dep.Commitment == "" || dep.DepositCode == "" {
		t.Fatalf("incomplete deposit result: %+v", dep)
	}
	confirmDeposit(t, adapter, dep)

	amount := uint64(1_000_000)
	res, err := a.Withdraw(ctx, &amount, "recipient-address")
	if err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if res.QueueID == "" {
		t.Fatalf("expected a queue id")
	}

	records, err := a.book.All()
	if err != nil {
		t.Fatalf("book.All: %v", err)
	}
	if len(records) != 1 || !records[0].Withdrawn {
		t.Fatalf("expected one withdrawn record, got %+v", records)
	}
	if records[0].WithdrawRef == nil || *records[0].WithdrawRef != res.QueueID {
		t.Fatalf("expected withdraw ref to be updated to the queue id, got %+v", records[0])
	}
}

func TestWithdrawWithNoDepositsFails(t *testing.T) {
	a, _ := newTestAgent(t)
	amount := uint64(42)
	if _, err := a.Withdraw(context.Background(), &amount, "recipient"); err == nil {
		t.Fatalf("expected an error withdrawing with no deposits")
	}
}

// TestWithdrawRollsBackOnRelayerRejection runs a stub relayer that reports
// itself idle (so SelectRelayer prefers it over self-service) but rejects
// every submission, and checks the deposit book's pre-mark is rolled back
// (spec section 4.I / scenario E3).
func TestWithdrawRollsBackOnRelayerRejection(t *testing.T) {
	a, adapter := newTestAgent(t)
	ctx := context.Background()

	mux := http.NewServeMux()
	mux.HandleFunc("/relayer/status", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(meshserver.StatusResponse{QueueLength: 0})
	})
	mux.HandleFunc("/relayer/submit", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	a.knownPeers.Touch(host, port, nil, time.Now())

	dep, err := a.Deposit(ctx, 500)
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	confirmDeposit(t, adapter, dep)

	amount := uint64(500)
	if _, err := a.Withdraw(ctx, &amount, "recipient"); err == nil {
		t.Fatalf("expected withdraw to fail")
	}

	records, err := a.book.All()
	if err != nil {
		t.Fatalf("book.All: %v", err)
	}
	if len(records) != 1 || records[0].Withdrawn {
		t.Fatalf("expected the deposit to be rolled back to unwithdrawn, got %+v", records)
	}
}

func TestResolveLeafIndexUsesCommitmentIndexCache(t *testing.T) {
	a, adapter := newTestAgent(t)
	ctx := context.Background()

	dep, err := a.Deposit(ctx, 7)
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	confirmDeposit(t, adapter, dep)

	tree, err := a.LoadTree(ctx, dep.ChunkID)
	if err != nil {
		t.Fatalf("LoadTree: %v", err)
	}

	idx, err := a.resolveLeafIndex(dep.Commitment, dep.ChunkID, tree)
	if err != nil {
		t.Fatalf("resolveLeafIndex: %v", err)
	}

	entry, ok, err := a.index.Lookup(dep.Commitment)
	if err != nil {
		t.Fatalf("index.Lookup: %v", err)
	}
	if !ok || entry.LeafIndex != idx {
		t.Fatalf("expected commitment index to cache leaf index %d, got %+v ok=%v", idx, entry, ok)
	}
}
