package workerpool

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestRunReturnsValue(t *testing.T) {
	p := New(2)
	defer p.Close()

	v, err := p.Run(func() (any, error) { return 42, nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.(int) != 42 {
		t.Fatalf("got %v, want 42", v)
	}
}

func TestRunPropagatesError(t *testing.T) {
	p := New(2)
	defer p.Close()

	wantErr := errors.New("boom")
	_, err := p.Run(func() (any, error) { return nil, wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("got %v, want %v", err, wantErr)
	}
}

func TestRunCompletesConcurrentCalls(t *testing.T) {
	p := New(4)
	defer p.Close()

	var active int32
	var maxSeen int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Run(func() (any, error) {
				n := atomic.AddInt32(&active, 1)
				for {
					cur := atomic.LoadInt32(&maxSeen)
					if n <= cur || atomic.CompareAndSwapInt32(&maxSeen, cur, n) {
						break
					}
				}
				atomic.AddInt32(&active, -1)
				return nil, nil
			})
		}()
	}
	wg.Wait()
	if maxSeen < 1 {
		t.Fatalf("expected at least one job to run, maxSeen=%d", maxSeen)
	}
}
