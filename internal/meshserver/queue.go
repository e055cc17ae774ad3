package meshserver

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cipherlabs/mixagent/internal/chain"
	"github.com/cipherlabs/mixagent/pkg/errs"
)

// backoffDelay is the fixed retry interval after a failed submission
// (spec section 4.H: "simple linear backoff").
const backoffDelay = 60 * time.Second

// QueueEntry is one pending withdrawal awaiting delayed submission.
type QueueEntry struct {
	ID            string
	Proof         Proof
	Recipient     string
	Amount        uint64
	ChunkID       uint32
	NullifierHash *big.Int
	SubmittedAt   time.Time
	ExecuteAt     time.Time
}

// RelayerQueue holds pending withdrawals and drains them through a single
// background processor task, grounded on the teacher's
// Start(ctx)/loop/Stop coordinator shape (distributed_network_coordination.go).
type RelayerQueue struct {
	minDelay time.Duration
	maxDelay time.Duration
	fee      uint64
	adapter  chain.Adapter
	log      *logrus.Logger

	mu        sync.Mutex
	entries   []QueueEntry
	processing bool
	wake      chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRelayerQueue constructs a queue bound to adapter for on-chain
// submission.
func NewRelayerQueue(minDelay, maxDelay time.Duration, fee uint64, adapter chain.Adapter, logger *logrus.Logger) *RelayerQueue {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RelayerQueue{
		minDelay: minDelay,
		maxDelay: maxDelay,
		fee:      fee,
		adapter:  adapter,
		log:      logger,
		wake:     make(chan struct{}, 1),
	}
}

func (q *RelayerQueue) randomDelay() (time.Duration, error) {
	span := int64(q.maxDelay - q.minDelay)
	if span <= 0 {
		return q.minDelay, nil
	}
	n, err := rand.Int(rand.Reader, big.NewInt(span))
	if err != nil {
		return 0, errs.Wrap(errs.Other, "meshserver.RelayerQueue.randomDelay", err)
	}
	return q.minDelay + time.Duration(n.Int64()), nil
}

// Submit assigns a queue ID and execute_at, appends the entry, and
// signals the processor. It returns the assigned ID and execute_at.
func (q *RelayerQueue) Submit(req SubmitRequest, now time.Time) (string, time.Time, error) {
	delay, err := q.randomDelay()
	if err != nil {
		return "", time.Time{}, err
	}

	nullifierHash, ok := new(big.Int).SetString(req.Proof.NullifierHash, 10)
	if !ok {
		return "", time.Time{}, errs.New(errs.BadInput, "meshserver.RelayerQueue.Submit", "nullifierHash is not a valid decimal integer")
	}

	id := uuid.New()
	entry := QueueEntry{
		ID:            hex.EncodeToString(id[:]),
		Proof:         req.Proof,
		Recipient:     req.Recipient,
		Amount:        req.Amount,
		ChunkID:       req.ChunkID,
		NullifierHash: nullifierHash,
		SubmittedAt:   now,
		ExecuteAt:     now.Add(delay),
	}

	q.mu.Lock()
	q.entries = append(q.entries, entry)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}

	return entry.ID, entry.ExecuteAt, nil
}

// Status reports the queue's current length and processing flag.
func (q *RelayerQueue) Status() (length int, processing bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries), q.processing
}

// Start launches the background processor. Calling Start twice has no
// effect.
func (q *RelayerQueue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.cancel != nil {
		q.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.mu.Unlock()

	q.wg.Add(1)
	go q.loop(ctx)
	q.log.Info("relayer queue processor started")
}

// Stop halts the background processor and waits for it to drain.
func (q *RelayerQueue) Stop() {
	q.mu.Lock()
	if q.cancel == nil {
		q.mu.Unlock()
		return
	}
	q.cancel()
	q.cancel = nil
	q.mu.Unlock()

	q.wg.Wait()
	q.log.Info("relayer queue processor stopped")
}

func (q *RelayerQueue) loop(ctx context.Context) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		q.processing = len(q.entries) > 0
		ready, next := q.splitReadyLocked(time.Now())
		q.mu.Unlock()

		for _, e := range ready {
			if err := q.process(ctx, e); err != nil {
				q.requeueWithBackoff(e)
				q.log.Warnf("relayer submit failed, retrying in %s: %v", backoffDelay, err)
			}
		}

		if len(ready) > 0 {
			continue
		}

		var wait time.Duration
		if next.IsZero() {
			wait = time.Hour
		} else {
			wait = time.Until(next)
			if wait < 0 {
				wait = 0
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// splitReadyLocked removes and returns entries whose ExecuteAt has
// passed, and reports the earliest ExecuteAt among what remains.
func (q *RelayerQueue) splitReadyLocked(now time.Time) (ready []QueueEntry, nextWake time.Time) {
	remaining := q.entries[:0]
	for _, e := range q.entries {
		if !e.ExecuteAt.After(now) {
			ready = append(ready, e)
			continue
		}
		remaining = append(remaining, e)
		if nextWake.IsZero() || e.ExecuteAt.Before(nextWake) {
			nextWake = e.ExecuteAt
		}
	}
	q.entries = remaining
	return ready, nextWake
}

func (q *RelayerQueue) process(ctx context.Context, e QueueEntry) error {
	submitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	proofBytes, err := marshalProof(e.Proof)
	if err != nil {
		return err
	}
	_, err = q.adapter.SubmitWithdraw(submitCtx, proofBytes, e.Recipient, e.ChunkID, e.NullifierHash)
	return err
}

func (q *RelayerQueue) requeueWithBackoff(e QueueEntry) {
	e.ExecuteAt = time.Now().Add(backoffDelay)
	q.mu.Lock()
	q.entries = append(q.entries, e)
	q.mu.Unlock()
}
