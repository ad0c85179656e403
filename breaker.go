package defcache

import (
	"sync"
	"time"
)

// BreakerState represents the current circuit breaker state.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds the circuit breaker parameters. Zero values are
// replaced with defaults (5 failures, 30s open timeout, 1 probe).
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures in Closed state
	// before the breaker trips to Open.
	FailureThreshold int

	// OpenTimeout is how long the breaker stays Open before transitioning
	// to HalfOpen.
	OpenTimeout time.Duration

	// HalfOpenProbes is the number of probe calls admitted in HalfOpen. That
	// many successes close the breaker again; any probe failure reopens it.
	HalfOpenProbes int
}

// breaker gates every distributed-store call. One instance per engine per
// process; store-availability perception is not coordinated across processes.
// All methods are safe for concurrent use.
type breaker struct {
	mu sync.Mutex

	cfg BreakerConfig

	state     BreakerState
	failures  int // consecutive failures in Closed
	probes    int // probes admitted in HalfOpen
	successes int // consecutive probe successes in HalfOpen
	openedAt  time.Time
	nowFunc   func() time.Time // for testing; defaults to time.Now
}

func newBreaker(cfg BreakerConfig) *breaker {
	cfg.FailureThreshold = coalesce(cfg.FailureThreshold, 5)
	cfg.OpenTimeout = coalesce(cfg.OpenTimeout, 30*time.Second)
	cfg.HalfOpenProbes = coalesce(cfg.HalfOpenProbes, 1)
	return &breaker{
		cfg:     cfg,
		state:   BreakerClosed,
		nowFunc: time.Now,
	}
}

// currentState returns the state of the breaker. In Open state it may
// auto-transition to HalfOpen if the timeout has elapsed.
func (b *breaker) currentState() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.checkOpenTimeout()
	return b.state
}

// allow reports whether a store call may proceed. It returns true when the
// breaker is Closed, or HalfOpen with a remaining probe slot (which this call
// then consumes). It returns false while Open.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.checkOpenTimeout()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerHalfOpen:
		if b.probes < b.cfg.HalfOpenProbes {
			b.probes++
			return true
		}
		return false
	default: // Open
		return false
	}
}

// onSuccess records a successful store call.
func (b *breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures = 0
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.cfg.HalfOpenProbes {
			b.state = BreakerClosed
			b.failures = 0
			b.successes = 0
			b.probes = 0
		}
	}
}

// onFailure records a failed store call.
func (b *breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.toOpen()
		}
	case BreakerHalfOpen:
		b.toOpen()
	}
}

// checkOpenTimeout transitions from Open to HalfOpen when the timeout has
// elapsed. Must be called with b.mu held.
func (b *breaker) checkOpenTimeout() {
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cfg.OpenTimeout {
		b.state = BreakerHalfOpen
		b.successes = 0
		b.probes = 0
	}
}

func (b *breaker) toOpen() {
	b.state = BreakerOpen
	b.openedAt = b.now()
	b.successes = 0
	b.probes = 0
}

func (b *breaker) now() time.Time {
	if b.nowFunc != nil {
		return b.nowFunc()
	}
	return time.Now()
}
