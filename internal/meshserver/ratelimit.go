package meshserver

import (
	"sync"
	"time"
)

// slidingWindowLimiter enforces a fixed request budget per source IP over a
// rolling window, trimming expired timestamps on every check rather than
// relying on a token-bucket utility, to match the exact boundary semantics
// spec section 4.H calls for (10 requests / 60 s, bulk-evict above 1000
// tracked IPs).
type slidingWindowLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	hits   map[string][]time.Time
}

// maxTrackedIPs bounds the limiter's memory: once exceeded, the whole map
// is evicted rather than pruned entry-by-entry.
const maxTrackedIPs = 1000

func newSlidingWindowLimiter(limit int, window time.Duration) *slidingWindowLimiter {
	return &slidingWindowLimiter{
		limit:  limit,
		window: window,
		hits:   make(map[string][]time.Time),
	}
}

// Allow reports whether ip may make another request now, recording the hit
// if so.
func (l *slidingWindowLimiter) Allow(ip string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.hits) > maxTrackedIPs {
		l.hits = make(map[string][]time.Time)
	}

	cutoff := now.Add(-l.window)
	existing := l.hits[ip]
	trimmed := existing[:0]
	for _, t := range existing {
		if t.After(cutoff) {
			trimmed = append(trimmed, t)
		}
	}

	if len(trimmed) >= l.limit {
		l.hits[ip] = trimmed
		return false
	}

	l.hits[ip] = append(trimmed, now)
	return true
}
