// Package circuitbreaker guards the persistence layer against a failing
// database: repeated errors open the breaker and callers fail fast instead of
// piling up on a dead connection.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/graphpulse/forcemap/internal/metrics"
)

// ErrOpen is returned while the breaker refuses calls.
var ErrOpen = errors.New("circuit breaker is open")

// State is the breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// Breaker trips open after consecutive failures and probes with half-open
// calls once the cool-down has passed.
type Breaker struct {
	mu              sync.Mutex
	state           State
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	name            string

	failureThreshold int
	successThreshold int
	timeout          time.Duration
}

// Config holds breaker configuration. Zero values select the defaults.
type Config struct {
	Name             string
	FailureThreshold int           // failures before opening
	SuccessThreshold int           // successes needed to close from half-open
	Timeout          time.Duration // cool-down before trying half-open
}

// New creates a breaker in the closed state.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	metrics.CircuitBreakerState.WithLabelValues(cfg.Name).Set(0)
	return &Breaker{
		state:            StateClosed,
		name:             cfg.Name,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		timeout:          cfg.Timeout,
	}
}

// Call runs fn unless the breaker is open, and feeds the outcome back into
// the state machine.
func (b *Breaker) Call(fn func() error) error {
	if !b.canAttempt() {
		return ErrOpen
	}
	if err := fn(); err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

func (b *Breaker) canAttempt() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if time.Since(b.lastFailureTime) > b.timeout {
			b.state = StateHalfOpen
			b.successCount = 0
			metrics.CircuitBreakerState.WithLabelValues(b.name).Set(2)
			return true
		}
		return false
	default:
		return false
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailureTime = time.Now()
	b.successCount = 0

	switch b.state {
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.failureThreshold {
			b.trip()
		}
	case StateHalfOpen:
		b.failureCount = 0
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.state = StateOpen
	metrics.CircuitBreakerTrips.WithLabelValues(b.name).Inc()
	metrics.CircuitBreakerState.WithLabelValues(b.name).Set(1)
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failureCount = 0
	case StateHalfOpen:
		b.successCount++
		if b.successCount >= b.successThreshold {
			b.state = StateClosed
			b.failureCount = 0
			b.successCount = 0
			metrics.CircuitBreakerState.WithLabelValues(b.name).Set(0)
		}
	}
}

// GetState returns the current state.
func (b *Breaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
