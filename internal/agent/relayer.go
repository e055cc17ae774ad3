package agent

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/mr-tron/base58"

	"github.com/cipherlabs/mixagent/internal/meshserver"
	"github.com/cipherlabs/mixagent/pkg/errs"
)

// RecipientGenerator produces a fresh withdrawal recipient address for the
// auto-mix loop (spec section 4.I: each withdraw pays a freshly generated
// address rather than reusing the depositor's own key).
type RecipientGenerator interface {
	NewRecipient() (string, error)
}

// RandomRecipientGenerator derives recipient addresses from 32 CSPRNG
// bytes, base58-encoded the same way the chain's account addresses are
// represented elsewhere in this codebase.
type RandomRecipientGenerator struct{}

// NewRecipient draws 32 random bytes and returns their base58 encoding.
func (RandomRecipientGenerator) NewRecipient() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", errs.Wrap(errs.Other, "agent.RandomRecipientGenerator.NewRecipient", err)
	}
	return base58.Encode(buf), nil
}

// relayerCandidate is one known peer's relayer load, probed concurrently
// by SelectRelayer.
type relayerCandidate struct {
	addr   string
	status meshserver.StatusResponse
}

// SelectRelayer probes every known peer's GET /relayer/status concurrently,
// bounded by relayerStatusProbeTimeout each, and returns the address of the
// peer advertising the smallest queue length. If no peer responds in time,
// it falls back to self-service on the local mesh server (spec section
// 4.I: "prefer the least-loaded relayer; fall back to self if none
// respond").
func (a *Agent) SelectRelayer(ctx context.Context) string {
	peers := a.knownPeers.All()
	if len(peers) == 0 {
		return a.selfAddr()
	}

	results := make(chan relayerCandidate, len(peers))
	var wg sync.WaitGroup
	for _, p := range peers {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			reqCtx, cancel := context.WithTimeout(ctx, relayerStatusProbeTimeout)
			defer cancel()
			status, err := probeStatus(reqCtx, a.httpClient, p.Addr())
			if err != nil {
				return
			}
			results <- relayerCandidate{addr: p.Addr(), status: status}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	best := relayerCandidate{}
	found := false
	for c := range results {
		if !found || c.status.QueueLength < best.status.QueueLength {
			best = c
			found = true
		}
	}
	if !found {
		return a.selfAddr()
	}
	return best.addr
}

func (a *Agent) selfAddr() string {
	return fmt.Sprintf("%s:%d", a.cfg.Network.PublicHost, a.cfg.Network.HTTPPort)
}

func probeStatus(ctx context.Context, client *http.Client, addr string) (meshserver.StatusResponse, error) {
	url := "http://" + addr + "/relayer/status"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return meshserver.StatusResponse{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return meshserver.StatusResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return meshserver.StatusResponse{}, fmt.Errorf("status %d", resp.StatusCode)
	}
	var out meshserver.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return meshserver.StatusResponse{}, err
	}
	return out, nil
}

// submitWithdraw POSTs req to the chosen relayer's /relayer/submit and
// returns its queue ID. addr == a.selfAddr() is handled in-process against
// the local queue rather than over the network, since localhost HTTP is a
// needless round trip for the common single-node case.
func (a *Agent) submitWithdraw(ctx context.Context, addr string, req meshserver.SubmitRequest) (string, error) {
	const op = "agent.submitWithdraw"
	if addr == a.selfAddr() {
		id, _, err := a.queue.Submit(req, time.Now())
		if err != nil {
			return "", err
		}
		return id, nil
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", errs.Wrap(errs.Integrity, op, err)
	}

	submitCtx, cancel := context.WithTimeout(ctx, relayerSubmitTimeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(submitCtx, http.MethodPost, "http://"+addr+"/relayer/submit", bytes.NewReader(body))
	if err != nil {
		return "", errs.Wrap(errs.Other, op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return "", errs.Wrap(errs.IoNetwork, op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errs.New(errs.ChainRejected, op, fmt.Sprintf("relayer returned status %d", resp.StatusCode))
	}

	var out meshserver.SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", errs.Wrap(errs.Integrity, op, err)
	}
	if !out.Success {
		return "", errs.New(errs.ChainRejected, op, "relayer reported failure")
	}
	return out.QueueID, nil
}
