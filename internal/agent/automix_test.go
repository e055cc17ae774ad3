package agent

import (
	"context"
	"testing"
	"time"
)

func TestRunAutoMixStopsOnContextCancellation(t *testing.T) {
	a, _ := newTestAgent(t)
	a.cfg.Mixer.WithdrawMinDelay = time.Hour
	a.cfg.Mixer.WithdrawMaxDelay = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- a.RunAutoMix(ctx, 1000) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunAutoMix returned an error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("RunAutoMix did not return after its context was canceled")
	}
}

func TestRunAutoMixRejectsConcurrentStart(t *testing.T) {
	a, _ := newTestAgent(t)
	a.cfg.Mixer.WithdrawMinDelay = time.Hour
	a.cfg.Mixer.WithdrawMaxDelay = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		done <- a.RunAutoMix(ctx, 1000)
	}()
	<-started
	time.Sleep(50 * time.Millisecond)

	if err := a.RunAutoMix(context.Background(), 1000); err == nil {
		t.Fatalf("expected a second concurrent RunAutoMix to be rejected")
	}

	<-done
}

func TestStopAutoMixIsNoOpWhenNotRunning(t *testing.T) {
	a, _ := newTestAgent(t)
	a.StopAutoMix()
}
