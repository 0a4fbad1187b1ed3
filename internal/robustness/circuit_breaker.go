// Package robustness provides the failure-isolation primitives used
// around tool execution and bridge RPCs.
package robustness

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a breaker rejects a request.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker state.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// CircuitBreaker trips open after threshold consecutive failures and
// probes again once resetTimeout has passed.
type CircuitBreaker struct {
	mu           sync.Mutex
	state        State
	failures     int
	threshold    int
	resetTimeout time.Duration
	lastFailure  time.Time
}

// NewCircuitBreaker builds a closed breaker.
func NewCircuitBreaker(threshold int, resetTimeout time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &CircuitBreaker{threshold: threshold, resetTimeout: resetTimeout}
}

// Allow reports whether a request may proceed. An open breaker whose
// reset timeout has elapsed moves to half-open and admits a probe.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.lastFailure) >= cb.resetTimeout {
			cb.state = StateHalfOpen
			return true
		}
		return false
	default:
		// Half-open admits probes until one resolves the state.
		return true
	}
}

// RecordSuccess closes the breaker and clears the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
}

// RecordFailure counts a failure. A half-open probe failure reopens
// immediately; a closed breaker opens at the threshold.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = time.Now()

	if cb.state == StateHalfOpen || cb.failures >= cb.threshold {
		cb.state = StateOpen
	}
}

// Do runs fn under the breaker.
func (cb *CircuitBreaker) Do(fn func() error) error {
	if !cb.Allow() {
		return ErrCircuitOpen
	}
	if err := fn(); err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// BreakerSet keys breakers by name so each tool or bridge server fails
// independently.
type BreakerSet struct {
	mu           sync.Mutex
	breakers     map[string]*CircuitBreaker
	threshold    int
	resetTimeout time.Duration
}

// NewBreakerSet builds an empty set with shared settings.
func NewBreakerSet(threshold int, resetTimeout time.Duration) *BreakerSet {
	return &BreakerSet{
		breakers:     make(map[string]*CircuitBreaker),
		threshold:    threshold,
		resetTimeout: resetTimeout,
	}
}

// For returns the breaker for name, creating it on first use.
func (s *BreakerSet) For(name string) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	cb, ok := s.breakers[name]
	if !ok {
		cb = NewCircuitBreaker(s.threshold, s.resetTimeout)
		s.breakers[name] = cb
	}
	return cb
}

// Reset drops all breaker state.
func (s *BreakerSet) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.breakers = make(map[string]*CircuitBreaker)
}
