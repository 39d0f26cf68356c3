package health

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

// CircuitBreaker is a passive health signal that rides alongside the
// active TCP probe: every forwarded request failure counts against it,
// and failureThreshold failures without an intervening success open
// the circuit for a backend address
// without waiting for the next probe tick. It performs no I/O itself.
type CircuitBreaker struct {
	backends         sync.Map // addr -> *circuitState
	failureThreshold int
	openFor          time.Duration
}

type circuitState struct {
	failures    int64
	lastFailure int64
	lastAttempt int64
	isOpen      int32
}

func NewCircuitBreaker(failureThreshold int, openFor time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		openFor:          openFor,
	}
}

// IsOpen reports whether addr's circuit is currently open. An open
// circuit auto-transitions to half-open once openFor has elapsed: the
// first caller is let through and the circuit reports open again for
// one second after that attempt. If that second passes with no
// RecordFailure or RecordSuccess, every caller is let through until
// one of them is recorded.
func (cb *CircuitBreaker) IsOpen(addr string) bool {
	state, ok := cb.loadState(addr)
	if !ok {
		return false
	}

	if atomic.LoadInt32(&state.isOpen) != 1 {
		return false
	}

	lastFailure := atomic.LoadInt64(&state.lastFailure)
	if time.Unix(0, lastFailure).Add(cb.openFor).After(time.Now()) {
		return true
	}

	now := time.Now().UnixNano()
	if atomic.CompareAndSwapInt64(&state.lastAttempt, 0, now) {
		return false // half-open: let this one through
	}

	lastAttempt := atomic.LoadInt64(&state.lastAttempt)
	return time.Unix(0, lastAttempt).Add(time.Second).After(time.Now())
}

func (cb *CircuitBreaker) RecordSuccess(addr string) {
	state, ok := cb.loadState(addr)
	if !ok {
		return
	}
	atomic.StoreInt64(&state.failures, 0)
	atomic.StoreInt32(&state.isOpen, 0)
	atomic.StoreInt64(&state.lastAttempt, 0)
}

func (cb *CircuitBreaker) RecordFailure(addr string) {
	state := cb.loadOrCreateState(addr)

	failures := atomic.AddInt64(&state.failures, 1)
	atomic.StoreInt64(&state.lastFailure, time.Now().UnixNano())
	atomic.StoreInt64(&state.lastAttempt, 0)

	if failures >= int64(cb.failureThreshold) {
		atomic.StoreInt32(&state.isOpen, 1)
	}
}

func (cb *CircuitBreaker) Forget(addr string) {
	cb.backends.Delete(addr)
}

func (cb *CircuitBreaker) loadState(addr string) (*circuitState, bool) {
	value, ok := cb.backends.Load(addr)
	if !ok {
		return nil, false
	}
	return value.(*circuitState), true
}

func (cb *CircuitBreaker) loadOrCreateState(addr string) *circuitState {
	actual, _ := cb.backends.LoadOrStore(addr, &circuitState{})
	return actual.(*circuitState)
}
