// Package circuit implements a circuit breaker that stops calling a failing
// dependency for a cool-down period.
package circuit

import (
	"context"
	"sync"
	"time"

	"github.com/bardlex/gominer/pkg/errors"
)

// State is the breaker state.
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen rejects calls until Timeout has passed.
	StateOpen
	// StateHalfOpen lets calls through to probe recovery.
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

// Config holds breaker thresholds.
type Config struct {
	Name            string
	MaxFailures     int           // consecutive failures before opening
	SuccessRequired int           // half-open successes before closing
	Timeout         time.Duration // open duration before probing
	ResetTimeout    time.Duration // closed-state failure window
}

// DefaultConfig returns thresholds suited to report sinks.
func DefaultConfig() *Config {
	return &Config{
		Name:            "default",
		MaxFailures:     5,
		SuccessRequired: 2,
		Timeout:         30 * time.Second,
		ResetTimeout:    60 * time.Second,
	}
}

// Breaker guards calls to one dependency.
type Breaker struct {
	config *Config

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time
	windowStart time.Time
	now         func() time.Time
}

// New creates a closed breaker. A nil config uses DefaultConfig.
func New(config *Config) *Breaker {
	if config == nil {
		config = DefaultConfig()
	}
	b := &Breaker{config: config, now: time.Now}
	b.windowStart = b.now()
	return b
}

// Execute runs fn unless the breaker is open.
func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	_, err := ExecuteWithResult(ctx, b, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// ExecuteWithResult is Execute for functions that produce a value.
func ExecuteWithResult[T any](_ context.Context, b *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	if !b.allow() {
		return zero, errors.New(errors.ErrorTypeInternal, "circuit_breaker", "circuit breaker is open").
			WithContext("breaker", b.config.Name)
	}
	res, err := fn()
	b.record(err)
	return res, err
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	switch b.state {
	case StateClosed:
		if now.Sub(b.windowStart) > b.config.ResetTimeout {
			b.failures = 0
			b.windowStart = now
		}
		return true
	case StateOpen:
		if now.Sub(b.lastFailure) > b.config.Timeout {
			b.state = StateHalfOpen
			b.successes = 0
			return true
		}
		return false
	default:
		return true
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failures++
		b.lastFailure = b.now()
		if b.state == StateHalfOpen || b.failures >= b.config.MaxFailures {
			b.state = StateOpen
			b.successes = 0
		}
		return
	}

	b.successes++
	if b.state == StateHalfOpen && b.successes >= b.config.SuccessRequired {
		b.state = StateClosed
		b.failures = 0
		b.successes = 0
		b.windowStart = b.now()
	}
}

// GetState returns the current state.
func (b *Breaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats is a point-in-time view of a breaker.
type Stats struct {
	Name        string
	State       State
	Failures    int
	Successes   int
	LastFailure time.Time
}

// GetStats returns a snapshot of the breaker counters.
func (b *Breaker) GetStats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Name:        b.config.Name,
		State:       b.state,
		Failures:    b.failures,
		Successes:   b.successes,
		LastFailure: b.lastFailure,
	}
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.successes = 0
	b.windowStart = b.now()
}
