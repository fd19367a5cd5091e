package invoker

import (
	"errors"
	"sync"
	"time"

	"github.com/pitabwire/vendordesk/internal/config"
)

// BreakerState is the state of a CircuitBreaker. The numeric values are
// exported as the circuit breaker gauge.
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
	}
	return "unknown"
}

// Outcome classifies a finished call for the breaker.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
	// OutcomeIgnored releases the call without counting it, e.g. for 4xx
	// answers that say nothing about the backend's health.
	OutcomeIgnored
)

// minRateSamples is how many calls a window needs before its error rate
// can trip the breaker.
const minRateSamples = 10

// ErrBreakerOpen is returned by Allow while calls are rejected.
var ErrBreakerOpen = errors.New("circuit breaker is open")

// CircuitBreaker guards one backend. Closed, it counts failures and trips
// on consecutive failures or on the error rate of a tumbling window. Open,
// it rejects calls until the cool-down passes. Half-open, it lets one probe
// through at a time and closes after enough successful probes.
type CircuitBreaker struct {
	failureThreshold int
	successThreshold int
	coolDown         time.Duration
	rateThreshold    float64
	rateWindow       time.Duration
	onChange         func(BreakerState)
	now              func() time.Time

	mu       sync.Mutex
	state    BreakerState
	gen      uint64
	openedAt time.Time
	failures int
	probes   int
	probing  bool

	windowStart    time.Time
	windowCalls    int
	windowFailures int
}

// NewCircuitBreaker creates a breaker from a service's settings. Unset
// thresholds default to 5 failures, 2 probes and a 30s cool-down. A zero
// error rate threshold or window disables rate tripping. onChange, when
// set, runs under the breaker's lock on every transition.
func NewCircuitBreaker(cfg config.CircuitBreakerConfig, onChange func(BreakerState)) *CircuitBreaker {
	cb := &CircuitBreaker{
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		coolDown:         cfg.Timeout,
		rateThreshold:    cfg.ErrorRateThreshold,
		rateWindow:       cfg.ErrorRateWindow,
		onChange:         onChange,
		now:              time.Now,
	}
	if cb.failureThreshold < 1 {
		cb.failureThreshold = 5
	}
	if cb.successThreshold < 1 {
		cb.successThreshold = 2
	}
	if cb.coolDown <= 0 {
		cb.coolDown = 30 * time.Second
	}
	cb.windowStart = cb.now()
	return cb
}

// Allow reserves a call. On success the returned done must be called once
// with the call's outcome. Outcomes reported after the breaker has changed
// state are discarded.
func (cb *CircuitBreaker) Allow() (done func(Outcome), err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.expireLocked()
	switch cb.state {
	case BreakerOpen:
		return nil, ErrBreakerOpen
	case BreakerHalfOpen:
		if cb.probing {
			return nil, ErrBreakerOpen
		}
		cb.probing = true
	}

	gen := cb.gen
	var once sync.Once
	return func(o Outcome) {
		once.Do(func() { cb.record(gen, o) })
	}, nil
}

// State returns the current state, moving an expired open breaker to
// half-open.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.expireLocked()
	return cb.state
}

func (cb *CircuitBreaker) record(gen uint64, o Outcome) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if gen != cb.gen {
		return
	}

	switch cb.state {
	case BreakerClosed:
		switch o {
		case OutcomeSuccess:
			cb.failures = 0
			cb.countLocked(false)
		case OutcomeFailure:
			cb.failures++
			cb.countLocked(true)
			if cb.failures >= cb.failureThreshold || cb.rateExceededLocked() {
				cb.setLocked(BreakerOpen)
			}
		}
	case BreakerHalfOpen:
		cb.probing = false
		switch o {
		case OutcomeSuccess:
			cb.probes++
			if cb.probes >= cb.successThreshold {
				cb.setLocked(BreakerClosed)
			}
		case OutcomeFailure:
			cb.setLocked(BreakerOpen)
		}
	}
}

func (cb *CircuitBreaker) expireLocked() {
	if cb.state == BreakerOpen && cb.now().Sub(cb.openedAt) >= cb.coolDown {
		cb.setLocked(BreakerHalfOpen)
	}
}

func (cb *CircuitBreaker) setLocked(next BreakerState) {
	if cb.state == next {
		return
	}
	cb.state = next
	cb.gen++
	cb.failures, cb.probes, cb.probing = 0, 0, false
	cb.windowStart, cb.windowCalls, cb.windowFailures = cb.now(), 0, 0
	if next == BreakerOpen {
		cb.openedAt = cb.now()
	}
	if cb.onChange != nil {
		cb.onChange(next)
	}
}

func (cb *CircuitBreaker) countLocked(failed bool) {
	if cb.rateWindow <= 0 {
		return
	}
	if cb.now().Sub(cb.windowStart) > cb.rateWindow {
		cb.windowStart, cb.windowCalls, cb.windowFailures = cb.now(), 0, 0
	}
	cb.windowCalls++
	if failed {
		cb.windowFailures++
	}
}

func (cb *CircuitBreaker) rateExceededLocked() bool {
	if cb.rateThreshold <= 0 || cb.rateWindow <= 0 || cb.windowCalls < minRateSamples {
		return false
	}
	return float64(cb.windowFailures)/float64(cb.windowCalls) >= cb.rateThreshold
}
