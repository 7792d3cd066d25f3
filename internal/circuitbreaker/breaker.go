// Package circuitbreaker stops sending requests to a failing upstream for a
// cool-down period.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// State represents the circuit breaker state
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

var (
	ErrOpen            = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

var (
	stateGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "grounding_circuit_breaker_state",
			Help: "Current state of circuit breaker (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
	stateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grounding_circuit_breaker_state_changes_total",
			Help: "Total number of state changes in circuit breaker",
		},
		[]string{"name", "from_state", "to_state"},
	)
)

// Config holds circuit breaker configuration
type Config struct {
	MaxRequests      uint32        // Max concurrent trial requests in half-open state
	Interval         time.Duration // Closed-state window after which failure counts reset
	Timeout          time.Duration // Open duration before trying half-open
	FailureThreshold uint32        // Consecutive failures that open the circuit
	SuccessThreshold uint32        // Half-open successes needed to close it
}

// DefaultConfig returns the settings used for the Gemini upstream.
func DefaultConfig() Config {
	return Config{
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
	}
}

type counts struct {
	requests             uint32
	consecutiveSuccesses uint32
	consecutiveFailures  uint32
}

// Breaker is a two-step circuit breaker: Allow admits a request and returns a
// callback that reports its outcome. This fits streamed calls whose result is
// only known once the stream ends.
type Breaker struct {
	name   string
	config Config
	logger *zap.Logger
	now    func() time.Time

	mu         sync.Mutex
	state      State
	generation uint64
	counts     counts
	expiry     time.Time
}

// New creates a closed breaker.
func New(name string, config Config, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Breaker{name: name, config: config, logger: logger, now: time.Now}
	b.toNewGeneration(b.now())
	stateGauge.WithLabelValues(name).Set(float64(StateClosed))
	return b
}

// Allow admits a request or returns ErrOpen / ErrTooManyRequests. The
// returned done must be called exactly once with the outcome.
func (b *Breaker) Allow() (done func(success bool), err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, generation := b.currentState(b.now())
	switch {
	case state == StateOpen:
		return nil, ErrOpen
	case state == StateHalfOpen && b.counts.requests >= b.config.MaxRequests:
		return nil, ErrTooManyRequests
	}
	b.counts.requests++

	var once sync.Once
	return func(success bool) {
		once.Do(func() { b.afterRequest(generation, success) })
	}, nil
}

// State returns the current state of the circuit breaker
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, _ := b.currentState(b.now())
	return state
}

func (b *Breaker) afterRequest(before uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	state, generation := b.currentState(now)
	if generation != before {
		return
	}
	if success {
		b.counts.consecutiveFailures = 0
		b.counts.consecutiveSuccesses++
		if state == StateHalfOpen && b.counts.consecutiveSuccesses >= b.config.SuccessThreshold {
			b.setState(StateClosed, now)
		}
		return
	}
	b.counts.consecutiveSuccesses = 0
	b.counts.consecutiveFailures++
	switch state {
	case StateClosed:
		if b.counts.consecutiveFailures >= b.config.FailureThreshold {
			b.setState(StateOpen, now)
		}
	case StateHalfOpen:
		b.setState(StateOpen, now)
	}
}

func (b *Breaker) currentState(now time.Time) (State, uint64) {
	switch b.state {
	case StateClosed:
		if !b.expiry.IsZero() && b.expiry.Before(now) {
			b.toNewGeneration(now)
		}
	case StateOpen:
		if b.expiry.Before(now) {
			b.setState(StateHalfOpen, now)
		}
	}
	return b.state, b.generation
}

func (b *Breaker) setState(state State, now time.Time) {
	if b.state == state {
		return
	}
	prev := b.state
	b.state = state
	b.toNewGeneration(now)

	stateGauge.WithLabelValues(b.name).Set(float64(state))
	stateChanges.WithLabelValues(b.name, prev.String(), state.String()).Inc()
	b.logger.Info("Circuit breaker state changed",
		zap.String("name", b.name),
		zap.String("from", prev.String()),
		zap.String("to", state.String()))
}

func (b *Breaker) toNewGeneration(now time.Time) {
	b.generation++
	b.counts = counts{}
	switch b.state {
	case StateClosed:
		b.expiry = time.Time{}
		if b.config.Interval > 0 {
			b.expiry = now.Add(b.config.Interval)
		}
	case StateOpen:
		b.expiry = now.Add(b.config.Timeout)
	default:
		b.expiry = time.Time{}
	}
}
