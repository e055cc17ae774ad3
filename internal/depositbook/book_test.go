package depositbook

import (
	"sync"
	"testing"
	"time"

	"github.com/cipherlabs/mixagent/pkg/errs"
)

func TestAddFindMarkRoundTrip(t *testing.T) {
	dir := t.TempDir()
	b, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	now := time.Unix(1700000000, 0).UTC()
	if err := b.Add("code-1", "123", "tx-1", 1_000_000, now); err != nil {
		t.Fatalf("add: %v", err)
	}

	amount := uint64(1_000_000)
	rec, err := b.FindUnwithdrawn(&amount)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if rec.Code != "code-1" || rec.Withdrawn {
		t.Fatalf("unexpected record: %+v", rec)
	}

	if err := b.MarkWithdrawn("code-1", "relayer-ref-1", now.Add(time.Minute)); err != nil {
		t.Fatalf("mark withdrawn: %v", err)
	}

	if _, err := b.FindUnwithdrawn(&amount); errs.KindOf(err) != errs.NotFound {
		t.Fatalf("expected NotFound after withdrawal, got %v", err)
	}
}

func TestMarkWithdrawnRejectsDoubleMark(t *testing.T) {
	dir := t.TempDir()
	b, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	now := time.Now()
	if err := b.Add("code-2", "456", "tx-2", 500, now); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := b.MarkWithdrawn("code-2", "ref", now); err != nil {
		t.Fatalf("first mark: %v", err)
	}
	if err := b.MarkWithdrawn("code-2", "ref-again", now); errs.KindOf(err) != errs.Conflict {
		t.Fatalf("expected Conflict on double mark, got %v", err)
	}
}

func TestRollbackAfterFailedSubmission(t *testing.T) {
	dir := t.TempDir()
	b, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	now := time.Now()
	if err := b.Add("code-3", "789", "tx-3", 250, now); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := b.MarkWithdrawn("code-3", "pending-ref", now); err != nil {
		t.Fatalf("pre-mark: %v", err)
	}

	// Simulate a relayer submission failure: roll back the pre-mark.
	if err := b.UnmarkWithdrawn("code-3"); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	amount := uint64(250)
	rec, err := b.FindUnwithdrawn(&amount)
	if err != nil {
		t.Fatalf("expected record to be findable again after rollback: %v", err)
	}
	if rec.Withdrawn || rec.WithdrawRef != nil {
		t.Fatalf("expected rollback to clear withdrawn state, got %+v", rec)
	}
}

func TestUpdateWithdrawRefSwapsSentinelForQueueID(t *testing.T) {
	dir := t.TempDir()
	b, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	now := time.Now()
	if err := b.Add("code-4", "321", "tx-4", 750, now); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := b.MarkWithdrawn("code-4", "relayer-addr-sentinel", now); err != nil {
		t.Fatalf("pre-mark: %v", err)
	}
	if err := b.UpdateWithdrawRef("code-4", "queue-id-abc"); err != nil {
		t.Fatalf("update ref: %v", err)
	}

	records, err := b.All()
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	var found bool
	for _, rec := range records {
		if rec.Code != "code-4" {
			continue
		}
		found = true
		if rec.WithdrawRef == nil || *rec.WithdrawRef != "queue-id-abc" {
			t.Fatalf("expected ref to be updated to queue id, got %+v", rec)
		}
	}
	if !found {
		t.Fatalf("record code-4 not found")
	}

	if err := b.UpdateWithdrawRef("no-such-code", "x"); errs.KindOf(err) != errs.NotFound {
		t.Fatalf("expected NotFound for unknown code, got %v", err)
	}
}

func TestConcurrentAddsDoNotCorruptFile(t *testing.T) {
	dir := t.TempDir()
	b, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Add(itoa(i), "0", "tx", uint64(i), time.Now())
		}()
	}
	wg.Wait()

	records, err := b.All()
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(records) != 20 {
		t.Fatalf("expected 20 records, got %d", len(records))
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [12]byte
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
