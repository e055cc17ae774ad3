package meshserver

import (
	"github.com/mr-tron/base58"

	"github.com/cipherlabs/mixagent/pkg/errs"
)

const (
	maxAmount  = 1_000_000_000_000 // 10^12
	maxChunkID = 1000
)

// validateSubmit applies the spec's structural validation for
// POST /relayer/submit, after body-size and rate-limit checks have
// already passed.
func validateSubmit(req SubmitRequest) error {
	const op = "meshserver.validateSubmit"

	if req.Proof.PiA == nil || req.Proof.PiB == nil || req.Proof.PiC == nil {
		return errs.New(errs.BadInput, op, "proof missing pi_a/pi_b/pi_c")
	}
	if req.Proof.Protocol == "" || req.Proof.Curve == "" {
		return errs.New(errs.BadInput, op, "proof missing protocol/curve")
	}

	if l := len(req.Recipient); l < 32 || l > 44 {
		return errs.New(errs.BadInput, op, "recipient must be 32-44 characters")
	}
	if _, err := base58.Decode(req.Recipient); err != nil {
		return errs.New(errs.BadInput, op, "recipient is not valid base58")
	}

	if req.Amount == 0 || req.Amount > maxAmount {
		return errs.New(errs.BadInput, op, "amount out of range")
	}

	if req.ChunkID > maxChunkID {
		return errs.New(errs.BadInput, op, "chunk_id out of range")
	}

	return nil
}
