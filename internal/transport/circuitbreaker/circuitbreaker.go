package circuitbreaker

import (
	"sync"
	"time"
)

// State represents the state of a circuit.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

const (
	defaultFailureThreshold         = 3
	defaultResetTimeout             = 30 * time.Second
	defaultHalfOpenSuccessThreshold = 1
)

// Config tunes the breaker. Zero values fall back to the defaults.
type Config struct {
	FailureThreshold         int           // consecutive failures that open a circuit
	ResetTimeout             time.Duration // time spent Open before trying HalfOpen
	HalfOpenSuccessThreshold int           // successes in HalfOpen that close the circuit
}

type circuit struct {
	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	openUntil            time.Time
}

// CircuitBreaker tracks backend health per operation name.
type CircuitBreaker struct {
	mu       sync.Mutex
	circuits map[string]*circuit
	cfg      Config
	now      func() time.Time
}

// NewCircuitBreaker creates a CircuitBreaker, applying defaults to unset fields.
func NewCircuitBreaker(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = defaultResetTimeout
	}
	if cfg.HalfOpenSuccessThreshold <= 0 {
		cfg.HalfOpenSuccessThreshold = defaultHalfOpenSuccessThreshold
	}
	return &CircuitBreaker{
		circuits: make(map[string]*circuit),
		cfg:      cfg,
		now:      time.Now,
	}
}

// caller must hold cb.mu
func (cb *CircuitBreaker) get(name string) *circuit {
	c, ok := cb.circuits[name]
	if !ok {
		c = &circuit{state: StateClosed}
		cb.circuits[name] = c
	}
	return c
}

// AllowRequest reports whether a call for name may proceed. An Open circuit
// whose timeout elapsed moves to HalfOpen and lets the call through.
func (cb *CircuitBreaker) AllowRequest(name string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.get(name)
	switch c.state {
	case StateOpen:
		if cb.now().After(c.openUntil) {
			c.state = StateHalfOpen
			c.consecutiveSuccesses = 0
			return true
		}
		return false
	default:
		return true
	}
}

// RecordFailure counts a failed call for name.
func (cb *CircuitBreaker) RecordFailure(name string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.get(name)
	switch c.state {
	case StateClosed:
		c.consecutiveFailures++
		if c.consecutiveFailures >= cb.cfg.FailureThreshold {
			c.state = StateOpen
			c.openUntil = cb.now().Add(cb.cfg.ResetTimeout)
		}
	case StateHalfOpen:
		c.state = StateOpen
		c.openUntil = cb.now().Add(cb.cfg.ResetTimeout)
		c.consecutiveFailures = 0
		c.consecutiveSuccesses = 0
	}
}

// RecordSuccess counts a successful call for name.
func (cb *CircuitBreaker) RecordSuccess(name string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.get(name)
	switch c.state {
	case StateClosed:
		c.consecutiveFailures = 0
	case StateHalfOpen:
		c.consecutiveSuccesses++
		if c.consecutiveSuccesses >= cb.cfg.HalfOpenSuccessThreshold {
			c.state = StateClosed
			c.consecutiveFailures = 0
			c.consecutiveSuccesses = 0
		}
	}
}

// Status returns the state and failure count for name without transitioning it.
func (cb *CircuitBreaker) Status(name string) (State, int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	c, ok := cb.circuits[name]
	if !ok {
		return StateClosed, 0
	}
	return c.state, c.consecutiveFailures
}
