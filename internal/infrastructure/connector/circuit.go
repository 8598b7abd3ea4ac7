package connector

import (
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/bxtxh/seiji-watch-sub000/internal/domain"
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// circuitBreaker tracks consecutive terminal failures for one connector.
// After threshold failures it opens and fails fast for the cooldown period,
// then half-opens to let a single probe through.
type circuitBreaker struct {
	threshold int
	cooldown  time.Duration
	clk       clock.Clock

	mu       sync.Mutex
	state    breakerState
	failures int
	openedAt time.Time
}

func newCircuitBreaker(threshold int, cooldown time.Duration, clk clock.Clock) *circuitBreaker {
	if threshold <= 0 {
		threshold = 1
	}
	return &circuitBreaker{threshold: threshold, cooldown: cooldown, clk: clk}
}

// Allow reports whether a call may proceed. While open it returns
// domain.ErrCircuitOpen until the cooldown elapses, then admits one probe.
func (b *circuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateOpen:
		if b.clk.Now().Sub(b.openedAt) < b.cooldown {
			return domain.ErrCircuitOpen
		}
		b.state = stateHalfOpen
		return nil
	default:
		return nil
	}
}

// Success resets the failure streak and closes the circuit.
func (b *circuitBreaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.state = stateClosed
}

// Failure records one terminal failure. A half-open probe failure reopens
// immediately; otherwise the circuit opens once the streak hits the
// threshold.
func (b *circuitBreaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.state == stateHalfOpen || b.failures >= b.threshold {
		b.state = stateOpen
		b.openedAt = b.clk.Now()
	}
}
