package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is one of the three states of a circuit breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned by Execute without calling fn when the breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

// Config configures a single circuit breaker.
type Config struct {
	// MaxFailures is the number of consecutive failures that trips the
	// breaker from closed to open.
	MaxFailures int
	// Timeout is how long the breaker stays open before allowing a
	// half-open trial request through.
	Timeout time.Duration
	// MaxRequests is the number of trial requests allowed through while
	// half-open. The first successful trial closes the breaker; a failed
	// one reopens it.
	MaxRequests int
	// Name identifies the breaker in logs and metrics. Set by Manager.
	Name string
	// Logger is the child logger used for state-transition events. Set
	// by Manager.
	Logger zerolog.Logger
}

// Metrics is a point-in-time snapshot of a breaker's counters.
type Metrics struct {
	Name                string `json:"name"`
	State               string `json:"state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	TotalRequests       uint64 `json:"total_requests"`
	TotalFailures       uint64 `json:"total_failures"`
	TotalSuccesses      uint64 `json:"total_successes"`
	TotalRejections     uint64 `json:"total_rejections"`
}

// CircuitBreaker wraps calls to an unreliable dependency (the shared
// store, an external webhook endpoint) and fails fast once it has seen
// enough consecutive failures, instead of letting callers queue up
// behind a dependency that isn't going to answer.
type CircuitBreaker struct {
	config Config

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	halfOpenRequests    int
	openedAt            time.Time

	totalRequests   uint64
	totalFailures   uint64
	totalSuccesses  uint64
	totalRejections uint64
}

// New builds a CircuitBreaker starting in the closed state.
func New(config Config) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRequests <= 0 {
		config.MaxRequests = 1
	}
	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
	}
}

// Execute runs fn if the breaker permits it, and records the outcome.
// It returns ErrOpen without calling fn when the breaker is open and the
// timeout has not yet elapsed.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allow() {
		cb.mu.Lock()
		cb.totalRejections++
		cb.mu.Unlock()
		return ErrOpen
	}

	err := fn()
	cb.recordResult(err)
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalRequests++

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.openedAt) >= cb.config.Timeout {
			cb.transitionTo(StateHalfOpen)
			cb.halfOpenRequests = 1
			return true
		}
		return false
	case StateHalfOpen:
		if cb.halfOpenRequests < cb.config.MaxRequests {
			cb.halfOpenRequests++
			return true
		}
		return false
	default:
		return false
	}
}

func (cb *CircuitBreaker) recordResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.totalFailures++
		cb.consecutiveFailures++

		switch cb.state {
		case StateHalfOpen:
			cb.transitionTo(StateOpen)
		case StateClosed:
			if cb.consecutiveFailures >= cb.config.MaxFailures {
				cb.transitionTo(StateOpen)
			}
		}
		return
	}

	cb.totalSuccesses++
	cb.consecutiveFailures = 0

	if cb.state == StateHalfOpen {
		cb.transitionTo(StateClosed)
	}
}

// transitionTo must be called with cb.mu held.
func (cb *CircuitBreaker) transitionTo(next State) {
	if cb.state == next {
		return
	}
	prev := cb.state
	cb.state = next

	switch next {
	case StateOpen:
		cb.openedAt = time.Now()
		cb.halfOpenRequests = 0
	case StateHalfOpen:
		cb.halfOpenRequests = 0
	case StateClosed:
		cb.consecutiveFailures = 0
		cb.halfOpenRequests = 0
	}

	cb.config.Logger.Warn().
		Str("breaker", cb.config.Name).
		Str("from", prev.String()).
		Str("to", next.String()).
		Msg("circuit breaker state transition")
}

// State reports the breaker's current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GetMetrics returns a snapshot of the breaker's counters.
func (cb *CircuitBreaker) GetMetrics() Metrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Metrics{
		Name:                cb.config.Name,
		State:               cb.state.String(),
		ConsecutiveFailures: cb.consecutiveFailures,
		TotalRequests:       cb.totalRequests,
		TotalFailures:       cb.totalFailures,
		TotalSuccesses:      cb.totalSuccesses,
		TotalRejections:     cb.totalRejections,
	}
}
