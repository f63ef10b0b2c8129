// Package circuitbreaker stops calling a failing mail or SMS transport until
// it has had time to recover.
package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/nimbus-remind/internal/metrics"
)

// State of a breaker.
//
//	Closed -> Open:      consecutive failures reach MaxFailures
//	Open -> HalfOpen:    RecoveryTimeout has passed since the last failure
//	HalfOpen -> Closed:  a probe succeeds
//	HalfOpen -> Open:    a probe fails
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
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned while a breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type Config struct {
	// Name labels the breaker in logs, metrics and the admin API ("smtp", "ses", "sns").
	Name string

	MaxFailures         int
	RecoveryTimeout     time.Duration
	HalfOpenMaxRequests int

	// OnStateChange, if set, is called with the lock held after every transition.
	OnStateChange func(name string, from, to State)
}

func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		MaxFailures:         5,
		RecoveryTimeout:     30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// Breaker counts consecutive transport failures. It is safe for concurrent use.
type Breaker struct {
	mu     sync.RWMutex
	config Config
	logger *zap.Logger
	now    func() time.Time

	state            State
	failureCount     int
	lastFailureTime  time.Time
	lastStateChange  time.Time
	halfOpenRequests int

	totalRequests  int64
	totalFailures  int64
	totalSuccesses int64
	totalRejected  int64
}

// New creates a closed breaker and publishes its initial state.
func New(cfg Config, logger *zap.Logger) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = 1
	}

	b := &Breaker{
		config:          cfg,
		logger:          logger.With(zap.String("breaker", cfg.Name)),
		now:             time.Now,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
	metrics.SetBreakerState(cfg.Name, int(StateClosed))

	return b
}

// Name returns the configured breaker name.
func (b *Breaker) Name() string {
	return b.config.Name
}

// Allow reports whether a call may proceed. Every true result must be
// followed by RecordSuccess or RecordFailure.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalRequests++

	switch b.state {
	case StateClosed:
		return true

	case StateOpen:
		if b.now().Sub(b.lastFailureTime) >= b.config.RecoveryTimeout {
			b.transitionTo(StateHalfOpen)
			b.halfOpenRequests = 1
			b.logger.Info("circuit breaker allowing probe")
			return true
		}
		b.totalRejected++
		return false

	case StateHalfOpen:
		if b.halfOpenRequests < b.config.HalfOpenMaxRequests {
			b.halfOpenRequests++
			return true
		}
		b.totalRejected++
		return false

	default:
		return false
	}
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalSuccesses++
	b.failureCount = 0

	if b.state == StateHalfOpen {
		b.transitionTo(StateClosed)
		b.logger.Info("circuit breaker closed, transport recovered")
	}
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalFailures++
	b.failureCount++
	b.lastFailureTime = b.now()

	switch b.state {
	case StateClosed:
		if b.failureCount >= b.config.MaxFailures {
			b.transitionTo(StateOpen)
			b.logger.Warn("circuit breaker opened",
				zap.Int("failures", b.failureCount),
				zap.Int("threshold", b.config.MaxFailures),
			)
		}
	case StateHalfOpen:
		b.transitionTo(StateOpen)
		b.logger.Warn("circuit breaker re-opened, probe failed")
	}
}

// Execute runs fn if the breaker allows it and records the outcome.
func (b *Breaker) Execute(fn func() error) error {
	if !b.Allow() {
		return fmt.Errorf("%w: %s", ErrCircuitOpen, b.config.Name)
	}
	if err := fn(); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Stats is the admin API view of a breaker.
type Stats struct {
	Name            string `json:"name"`
	State           string `json:"state"`
	FailureCount    int    `json:"failure_count"`
	TotalRequests   int64  `json:"total_requests"`
	TotalFailures   int64  `json:"total_failures"`
	TotalSuccesses  int64  `json:"total_successes"`
	TotalRejected   int64  `json:"total_rejected"`
	LastFailure     string `json:"last_failure,omitempty"`
	LastStateChange string `json:"last_state_change"`
}

func (b *Breaker) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s := Stats{
		Name:            b.config.Name,
		State:           b.state.String(),
		FailureCount:    b.failureCount,
		TotalRequests:   b.totalRequests,
		TotalFailures:   b.totalFailures,
		TotalSuccesses:  b.totalSuccesses,
		TotalRejected:   b.totalRejected,
		LastStateChange: b.lastStateChange.Format(time.RFC3339),
	}
	if !b.lastFailureTime.IsZero() {
		s.LastFailure = b.lastFailureTime.Format(time.RFC3339)
	}
	return s
}

// Reset closes the breaker. Operators call it through the admin API.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.transitionTo(StateClosed)
	b.failureCount = 0
	b.halfOpenRequests = 0

	b.logger.Info("circuit breaker manually reset")
}

// must be called with b.mu held
func (b *Breaker) transitionTo(next State) {
	if b.state == next {
		return
	}

	prev := b.state
	b.state = next
	b.lastStateChange = b.now()
	b.halfOpenRequests = 0

	metrics.SetBreakerState(b.config.Name, int(next))
	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.config.Name, prev, next)
	}

	b.logger.Debug("circuit breaker state transition",
		zap.String("from", prev.String()),
		zap.String("to", next.String()),
	)
}

func (b *Breaker) String() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return fmt.Sprintf("Breaker[%s] state=%s failures=%d/%d",
		b.config.Name, b.state, b.failureCount, b.config.MaxFailures)
}
