// Package resilience provides the circuit breaker and retrying call wrapper
// shared by all outbound calls to collaborators.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/forge/internal/errors"
)

// State is the circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// BreakerConfig holds circuit breaker thresholds.
type BreakerConfig struct {
	FailureThreshold  int           // consecutive failures before opening
	ResetTimeout      time.Duration // open duration before a half-open probe
	HalfOpenSuccesses int           // consecutive successes to close again
}

// DefaultBreakerConfig returns the tuned defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:  5,
		ResetTimeout:      60 * time.Second,
		HalfOpenSuccesses: 3,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 60 * time.Second
	}
	if c.HalfOpenSuccesses <= 0 {
		c.HalfOpenSuccesses = 3
	}
	return c
}

// Breaker is a per-collaborator circuit breaker.
//
// closed → open after FailureThreshold consecutive failures. While open,
// calls fail immediately with ErrCircuitOpen until ResetTimeout elapses,
// then the next call is allowed through in half-open. A half-open failure
// reopens; HalfOpenSuccesses consecutive successes close and reset.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time
	logger      zerolog.Logger
}

// NewBreaker creates a breaker in the closed state.
func NewBreaker(name string, cfg BreakerConfig, logger zerolog.Logger) *Breaker {
	return &Breaker{
		name:   name,
		cfg:    cfg.withDefaults(),
		state:  StateClosed,
		logger: logger.With().Str("component", "breaker").Str("breaker", name).Logger(),
	}
}

// Allow reports whether a call may proceed, transitioning open → half-open
// once the reset timeout has elapsed.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if time.Since(b.lastFailure) < b.cfg.ResetTimeout {
			return perrors.ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.successes = 0
		b.logger.Info().Msg("breaker half-open, allowing probe")
	}
	return nil
}

// RecordSuccess notes a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.HalfOpenSuccesses {
			b.state = StateClosed
			b.failures = 0
			b.successes = 0
			b.logger.Info().Msg("breaker closed")
		}
	case StateClosed:
		b.failures = 0
	}
}

// RecordFailure notes a failed call.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = time.Now()
	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.successes = 0
		b.logger.Warn().Msg("breaker reopened after half-open failure")
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.state = StateOpen
			b.logger.Warn().Int("failures", b.failures).Msg("breaker opened")
		}
	}
}

// Do runs fn through the breaker.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := fn(ctx)
	if err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// BreakerSnapshot is a point-in-time copy of breaker state.
type BreakerSnapshot struct {
	Name        string    `json:"name"`
	State       State     `json:"state"`
	Failures    int       `json:"failures"`
	Successes   int       `json:"successes"`
	LastFailure time.Time `json:"last_failure,omitempty"`
}

// Snapshot returns a copy of the breaker state safe for concurrent reads.
func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		Name:        b.name,
		State:       b.state,
		Failures:    b.failures,
		Successes:   b.successes,
		LastFailure: b.lastFailure,
	}
}

// Registry owns one breaker per collaborator, keyed by name.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	cfg      BreakerConfig
	logger   zerolog.Logger
}

// NewRegistry creates an empty breaker registry.
func NewRegistry(cfg BreakerConfig, logger zerolog.Logger) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	if !ok {
		b = NewBreaker(name, r.cfg, r.logger)
		r.breakers[name] = b
	}
	return b
}

// Do runs fn through the named breaker.
func (r *Registry) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	return r.Get(name).Do(ctx, fn)
}

// Snapshots returns a snapshot of every registered breaker.
func (r *Registry) Snapshots() []BreakerSnapshot {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	snaps := make([]BreakerSnapshot, 0, len(breakers))
	for _, b := range breakers {
		snaps = append(snaps, b.Snapshot())
	}
	return snaps
}
