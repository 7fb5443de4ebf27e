// Package errors provides structured error types for the forge orchestrator.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Sentinel errors for common failure modes.
var (
	ErrTimeout      = errors.New("operation timed out")
	ErrBuildTimeout = errors.New("build exceeded wall-clock timeout")
	ErrRateLimited  = errors.New("rate limit exceeded")
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrCircuitOpen  = errors.New("circuit breaker open")
	ErrUnavailable  = errors.New("service unavailable")
	ErrNotWaiting   = errors.New("no clarification pending")
)

// APIError represents an error from an external collaborator call.
type APIError struct {
	Service    string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s API error (status %d): %s: %v", e.Service, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Service, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// NewAPIError creates a new API error.
func NewAPIError(service string, statusCode int, message string) *APIError {
	return &APIError{Service: service, StatusCode: statusCode, Message: message}
}

// RateLimitError is returned when a build start violates the concurrency
// or cooldown policy. Wait tells the caller how long until a retry can succeed.
type RateLimitError struct {
	Wait time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry in %s", e.Wait.Round(time.Second))
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// WaitSeconds returns the disclosed wait rounded up to whole seconds.
func (e *RateLimitError) WaitSeconds() int {
	secs := int(e.Wait.Seconds())
	if time.Duration(secs)*time.Second < e.Wait {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return secs
}

// IsRetryable returns true if the error is likely transient and worth retrying.
// Covers network errors, HTTP 5xx, 429 and 408. Client errors (400/401/403/404)
// and locally-observed timeouts are terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsTimeout(err) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 408, 429:
			return true
		}
		return apiErr.StatusCode >= 500 && apiErr.StatusCode <= 599
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable)
}

// IsTimeout reports whether err is a locally-observed timeout. A timeout is
// terminal for the retry layer: the collaborator is already slow.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrBuildTimeout)
}
