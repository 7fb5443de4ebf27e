package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	perrors "github.com/p-blackswan/forge/internal/errors"
)

// CallConfig holds configuration for the retrying call wrapper.
type CallConfig struct {
	MaxAttempts int
	Timeout     time.Duration // per-attempt timeout
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool
}

// DefaultCallConfig returns sensible retry defaults.
func DefaultCallConfig() CallConfig {
	return CallConfig{
		MaxAttempts: 3,
		Timeout:     30 * time.Second,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Jitter:      true,
	}
}

func (c CallConfig) withDefaults() CallConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	return c
}

// Call executes fn with a per-attempt timeout and exponential backoff.
// Only transient failures are retried; an attempt timeout is terminal
// (the collaborator is already slow) and so are non-retryable errors.
func Call(ctx context.Context, cfg CallConfig, fn func(ctx context.Context) error) error {
	cfg = cfg.withDefaults()

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		lastErr = fn(attemptCtx)
		cancel()

		if lastErr == nil {
			return nil
		}
		if attemptCtx.Err() != nil && perrors.IsTimeout(lastErr) {
			return lastErr
		}
		if !perrors.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}

		delay := time.Duration(float64(cfg.BaseDelay) * math.Pow(2, float64(attempt)))
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
		if cfg.Jitter {
			delay = time.Duration(float64(delay) * (0.5 + rand.Float64()*0.5))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

// CallThrough combines the named breaker with the retrying wrapper: the
// breaker wraps the whole retried call so exhausted retries count as one
// collaborator failure.
func CallThrough(ctx context.Context, reg *Registry, name string, cfg CallConfig, fn func(ctx context.Context) error) error {
	return reg.Do(ctx, name, func(ctx context.Context) error {
		return Call(ctx, cfg, fn)
	})
}
