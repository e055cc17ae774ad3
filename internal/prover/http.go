package prover

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cipherlabs/mixagent/pkg/errs"
)

// HTTPProver is the production Prover: a thin client against the
// out-of-process proving service assumed by spec section 1 ("the Groth16
// proving and verifying machinery ... assumed to expose prove(circuit,
// witness) -> proof"). Grounded on chain.RPCAdapter's convention of
// wrapping an *http.Client behind a small interface rather than linking a
// proving toolchain into this repository, which spec.md explicitly treats
// as an external collaborator.
type HTTPProver struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPProver returns a prover against baseURL using client, or
// http.DefaultClient if client is nil.
func NewHTTPProver(baseURL string, client *http.Client) *HTTPProver {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPProver{BaseURL: baseURL, Client: client}
}

type depositWitnessWire struct {
	Nullifier string `json:"nullifier"`
	Secret    string `json:"secret"`
	Amount    uint64 `json:"amount"`
}

type withdrawWitnessWire struct {
	Nullifier string   `json:"nullifier"`
	Secret    string   `json:"secret"`
	Recipient string   `json:"recipient"`
	Amount    uint64   `json:"amount"`
	Fee       uint64   `json:"fee"`
	Siblings  []string `json:"siblings"`
	Bits      []bool   `json:"bits"`
	Root      string   `json:"root"`
}

func (p *HTTPProver) call(ctx context.Context, circuit string, witness any) (Proof, error) {
	const op = "prover.HTTPProver"
	body, err := json.Marshal(map[string]any{"circuit": circuit, "witness": witness})
	if err != nil {
		return Proof{}, errs.Wrap(errs.Integrity, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/prove", bytes.NewReader(body))
	if err != nil {
		return Proof{}, errs.Wrap(errs.IoNetwork, op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Proof{}, errs.Wrap(errs.IoTimeout, op, ctx.Err())
		}
		return Proof{}, errs.Wrap(errs.IoNetwork, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Proof{}, errs.New(errs.IoNetwork, op, fmt.Sprintf("prover service returned status %d", resp.StatusCode))
	}
	var out Proof
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Proof{}, errs.Wrap(errs.Integrity, op, err)
	}
	return out, nil
}

// ProveDeposit asks the proving service for a deposit circuit proof.
func (p *HTTPProver) ProveDeposit(ctx context.Context, w DepositWitness) (Proof, error) {
	return p.call(ctx, "deposit", depositWitnessWire{
		Nullifier: w.Nullifier.String(),
		Secret:    w.Secret.String(),
		Amount:    w.Amount,
	})
}

// ProveWithdraw asks the proving service for a withdraw circuit proof.
func (p *HTTPProver) ProveWithdraw(ctx context.Context, w WithdrawWitness) (Proof, error) {
	siblings := make([]string, len(w.Path.Siblings))
	bits := make([]bool, len(w.Path.Bits))
	for i := range w.Path.Siblings {
		siblings[i] = w.Path.Siblings[i].String()
		bits[i] = w.Path.Bits[i]
	}
	return p.call(ctx, "withdraw", withdrawWitnessWire{
		Nullifier: w.Nullifier.String(),
		Secret:    w.Secret.String(),
		Recipient: w.Recipient,
		Amount:    w.Amount,
		Fee:       w.Fee,
		Siblings:  siblings,
		Bits:      bits,
		Root:      w.Path.Root.String(),
	})
}

var _ Prover = (*HTTPProver)(nil)
