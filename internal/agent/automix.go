package agent

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"

	"github.com/cipherlabs/mixagent/pkg/errs"
)

// RunAutoMix drives the forever deposit/wait/withdraw/wait cycle spec
// section 5 describes: deposit amount, wait a CSPRNG-uniform interval in
// [WithdrawMinDelay, WithdrawMaxDelay], withdraw to a freshly generated
// recipient, wait a CSPRNG-uniform interval in [DepositMinDelay,
// DepositMaxDelay], repeat. It runs until ctx is canceled or StopAutoMix
// is called, whichever comes first.
func (a *Agent) RunAutoMix(ctx context.Context, amount uint64) error {
	ctx, cancel := context.WithCancel(ctx)
	a.stopMixMu.Lock()
	if a.stopMix != nil {
		a.stopMixMu.Unlock()
		cancel()
		return errs.New(errs.Conflict, "agent.RunAutoMix", "auto-mix already running")
	}
	a.stopMix = cancel
	a.stopMixMu.Unlock()

	defer func() {
		a.stopMixMu.Lock()
		a.stopMix = nil
		a.stopMixMu.Unlock()
	}()

	for {
		if err := a.mixOnce(ctx, amount); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			cooldown := a.cfg.Mixer.CooldownOnError
			a.log.Warnf("auto-mix cycle failed, cooling down %s: %v", cooldown, err)
			if !sleepCtx(ctx, cooldown) {
				return nil
			}
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// StopAutoMix halts a running RunAutoMix loop. It is a no-op if none is
// running.
func (a *Agent) StopAutoMix() {
	a.stopMixMu.Lock()
	defer a.stopMixMu.Unlock()
	if a.stopMix != nil {
		a.stopMix()
	}
}

func (a *Agent) mixOnce(ctx context.Context, amount uint64) error {
	if _, err := a.Deposit(ctx, amount); err != nil {
		return err
	}

	withdrawWait, err := randomDuration(a.cfg.Mixer.WithdrawMinDelay, a.cfg.Mixer.WithdrawMaxDelay)
	if err != nil {
		return err
	}
	if !sleepCtx(ctx, withdrawWait) {
		return nil
	}

	recipient, err := a.recipients.NewRecipient()
	if err != nil {
		return err
	}
	if _, err := a.Withdraw(ctx, &amount, recipient); err != nil {
		return err
	}

	depositWait, err := randomDuration(a.cfg.Mixer.DepositMinDelay, a.cfg.Mixer.DepositMaxDelay)
	if err != nil {
		return err
	}
	if !sleepCtx(ctx, depositWait) {
		return nil
	}
	return nil
}

// randomDuration draws a CSPRNG-uniform duration in [lo, hi]. If hi <= lo
// it returns lo.
func randomDuration(lo, hi time.Duration) (time.Duration, error) {
	span := int64(hi - lo)
	if span <= 0 {
		return lo, nil
	}
	n, err := rand.Int(rand.Reader, big.NewInt(span))
	if err != nil {
		return 0, errs.Wrap(errs.Other, "agent.randomDuration", err)
	}
	return lo + time.Duration(n.Int64()), nil
}

// sleepCtx sleeps for d or until ctx is done, whichever comes first. It
// reports whether the sleep completed without cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
