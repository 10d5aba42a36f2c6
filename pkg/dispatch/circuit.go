package dispatch

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker state machine.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// BreakerConfig bounds the breaker's transitions.
type BreakerConfig struct {
	// FailureThreshold consecutive failures within Window open the
	// breaker.
	FailureThreshold int
	Window           time.Duration
	// Cooldown is how long the breaker stays open before allowing one
	// half-open probe.
	Cooldown time.Duration
}

// DefaultBreakerConfig matches the dispatch defaults: 5 failures in 30s,
// 60s cooldown.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, Window: 30 * time.Second, Cooldown: 60 * time.Second}
}

// Breaker is a per-worker circuit breaker. Mutated only by the
// worker-owning fiber; the mutex guards cross-task reads.
type Breaker struct {
	mu          sync.Mutex
	cfg         BreakerConfig
	clock       func() time.Time
	state       BreakerState
	fails       int
	firstFailAt time.Time
	openedAt    time.Time
	probing     bool
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg BreakerConfig, clock func() time.Time) *Breaker {
	if clock == nil {
		clock = time.Now
	}
	return &Breaker{cfg: cfg, clock: clock, state: BreakerClosed}
}

// Allow reports whether a dispatch may proceed. In half-open state exactly
// one probe is admitted.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.clock().Sub(b.openedAt) >= b.cfg.Cooldown {
			b.state = BreakerHalfOpen
			b.probing = true
			return true
		}
		return false
	case BreakerHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

// Success records a successful execution, closing the breaker.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.fails = 0
	b.probing = false
}

// Failure records a failed execution, opening the breaker after
// FailureThreshold consecutive failures within Window.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()
	if b.state == BreakerHalfOpen {
		// Failed probe: back to open for another cooldown.
		b.state = BreakerOpen
		b.openedAt = now
		b.probing = false
		return
	}

	if b.fails == 0 || now.Sub(b.firstFailAt) > b.cfg.Window {
		b.fails = 0
		b.firstFailAt = now
	}
	b.fails++
	if b.fails >= b.cfg.FailureThreshold {
		b.state = BreakerOpen
		b.openedAt = now
		b.fails = 0
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
