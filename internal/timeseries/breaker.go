package timeseries

import (
	"sync"
	"time"
)

// breaker is a three-state (CLOSED/OPEN/HALF-OPEN) circuit breaker guarding
// the external store: after failureThreshold consecutive write failures it
// opens and drops further batches until resetTimeout has elapsed, at which
// point the next write is let through as a probe; success closes it again.
type breaker struct {
	mu        sync.Mutex
	failCount int
	openedAt  time.Time
	open      bool

	failureThreshold int
	resetTimeout     time.Duration
}

func newBreaker(failureThreshold int, resetTimeout time.Duration) *breaker {
	return &breaker{failureThreshold: failureThreshold, resetTimeout: resetTimeout}
}

// allow reports whether a write may proceed right now: true unless the
// breaker is open and still within its cooldown window. Being open past
// the cooldown lets exactly one probe through without flipping state yet —
// the caller must report the outcome via recordSuccess/recordFailure.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return true
	}
	return time.Since(b.openedAt) >= b.resetTimeout
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failCount = 0
	b.open = false
}

// recordFailure returns true if this failure just opened the breaker.
func (b *breaker) recordFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failCount++
	if b.failCount >= b.failureThreshold && !b.open {
		b.open = true
		b.openedAt = time.Now()
		return true
	}
	if b.open {
		// still failing during the HALF-OPEN probe: stay open, restart cooldown.
		b.openedAt = time.Now()
	}
	return false
}

func (b *breaker) isOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}
