package updater

import (
	"sync"
	"time"
)

type breakerState string

const (
	breakerClosed   breakerState = "CLOSED"
	breakerOpen     breakerState = "OPEN"
	breakerHalfOpen breakerState = "HALF_OPEN"
)

// breaker stops dispatching to an endpoint after consecutive failures and
// lets one probe through once resetTimeout has passed.
type breaker struct {
	mu           sync.Mutex
	failures     int
	threshold    int
	lastFailure  time.Time
	resetTimeout time.Duration
	state        breakerState
	clock        func() time.Time
}

func newBreaker(threshold int, resetTimeout time.Duration) *breaker {
	return &breaker{
		threshold:    threshold,
		resetTimeout: resetTimeout,
		state:        breakerClosed,
		clock:        time.Now,
	}
}

func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerOpen:
		if b.clock().Sub(b.lastFailure) > b.resetTimeout {
			b.state = breakerHalfOpen
			return true
		}
		return false
	case breakerHalfOpen:
		// one probe at a time
		return false
	}
	return true
}

func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = breakerClosed
	b.failures = 0
}

func (b *breaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailure = b.clock()
	if b.state == breakerHalfOpen || b.failures >= b.threshold {
		b.state = breakerOpen
	}
}
