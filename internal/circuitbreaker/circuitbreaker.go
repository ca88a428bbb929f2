// Package circuitbreaker stops the submitter from hammering an rpc endpoint
// that keeps failing. It is used by chain.Guard.
package circuitbreaker

import (
	"sync"
	"time"
)

// State of the breaker.
type State int

const (
	StateClosed   State = iota // calls pass through
	StateOpen                  // calls fail fast
	StateHalfOpen              // one probe call is let through
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config of a breaker. Zero values are replaced by DefaultConfig values.
type Config struct {
	// FailureThreshold consecutive failures open the circuit.
	FailureThreshold int

	// SuccessThreshold consecutive successful probes close it again.
	SuccessThreshold int

	// Cooldown is how long the circuit stays open before probing.
	Cooldown time.Duration

	// OnStateChange is called on its own goroutine.
	OnStateChange func(from, to State)
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         30 * time.Second,
	}
}

// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	mu sync.Mutex

	cfg   Config
	state State

	failures     int
	successes    int
	openedAt     time.Time
	probeRunning bool

	// totals since creation, for Stats
	totalFailures uint64
	totalRejected uint64
}

func New(cfg Config) *CircuitBreaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed}
}

// refresh moves an open circuit to half-open once the cooldown passed.
// Must be called with mu held.
func (cb *CircuitBreaker) refresh() {
	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.cfg.Cooldown {
		cb.transition(StateHalfOpen)
	}
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refresh()
	return cb.state
}

// Allow reports whether a call may go out. In half-open state only one
// probe is in flight at a time; its result must be recorded.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refresh()

	switch cb.state {
	case StateOpen:
		cb.totalRejected++
		return false
	case StateHalfOpen:
		if cb.probeRunning {
			cb.totalRejected++
			return false
		}
		cb.probeRunning = true
		return true
	default:
		return true
	}
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refresh()

	cb.failures = 0
	cb.probeRunning = false
	if cb.state != StateHalfOpen {
		return
	}
	cb.successes++
	if cb.successes >= cb.cfg.SuccessThreshold {
		cb.transition(StateClosed)
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refresh()

	cb.totalFailures++
	cb.successes = 0
	cb.probeRunning = false
	cb.failures++

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.trip()
		}
	case StateHalfOpen:
		cb.trip()
	case StateOpen:
		cb.openedAt = time.Now()
	}
}

// Reset closes the circuit and forgets all counters except the totals.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.successes = 0
	cb.probeRunning = false
	cb.transition(StateClosed)
}

func (cb *CircuitBreaker) trip() {
	cb.openedAt = time.Now()
	cb.transition(StateOpen)
}

func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	if to == StateClosed || to == StateHalfOpen {
		cb.successes = 0
	}
	if cb.cfg.OnStateChange != nil {
		go cb.cfg.OnStateChange(from, to)
	}
}

type Stats struct {
	State               State
	ConsecutiveFailures int
	TotalFailures       uint64
	TotalRejected       uint64
	OpenedAt            time.Time
}

func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refresh()
	return Stats{
		State:               cb.state,
		ConsecutiveFailures: cb.failures,
		TotalFailures:       cb.totalFailures,
		TotalRejected:       cb.totalRejected,
		OpenedAt:            cb.openedAt,
	}
}
