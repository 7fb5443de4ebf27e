package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"server error", NewAPIError("github", 500, "oops"), true},
		{"bad gateway", NewAPIError("deploy", 502, "bad gateway"), true},
		{"rate limited status", NewAPIError("github", 429, "slow down"), true},
		{"request timeout status", NewAPIError("github", 408, "timeout"), true},
		{"bad request", NewAPIError("github", 400, "nope"), false},
		{"unauthorized", NewAPIError("github", 401, "nope"), false},
		{"not found", NewAPIError("github", 404, "nope"), false},
		{"wrapped api error", fmt.Errorf("publishing: %w", NewAPIError("github", 503, "x")), true},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"build timeout", ErrBuildTimeout, false},
		{"rate limit sentinel", ErrRateLimited, true},
		{"unavailable sentinel", ErrUnavailable, true},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestIsTimeout(t *testing.T) {
	assert.True(t, IsTimeout(context.DeadlineExceeded))
	assert.True(t, IsTimeout(ErrTimeout))
	assert.True(t, IsTimeout(ErrBuildTimeout))
	assert.True(t, IsTimeout(fmt.Errorf("agent: %w", ErrTimeout)))
	assert.False(t, IsTimeout(errors.New("boom")))
	assert.False(t, IsTimeout(nil))
}

func TestAPIError_Message(t *testing.T) {
	err := NewAPIError("slack", 500, "internal")
	assert.Equal(t, "slack API error (status 500): internal", err.Error())

	wrapped := &APIError{Service: "github", StatusCode: 502, Message: "proxy", Err: errors.New("EOF")}
	assert.Contains(t, wrapped.Error(), "EOF")
	assert.ErrorIs(t, wrapped, wrapped.Err)
}

func TestRateLimitError(t *testing.T) {
	err := &RateLimitError{Wait: 2500 * time.Millisecond}
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 3, err.WaitSeconds(), "rounds up")

	assert.Equal(t, 1, (&RateLimitError{Wait: 0}).WaitSeconds())
	assert.Equal(t, 30, (&RateLimitError{Wait: 30 * time.Second}).WaitSeconds())

	var rl *RateLimitError
	assert.True(t, errors.As(fmt.Errorf("starting build: %w", err), &rl))
	assert.Equal(t, err.Wait, rl.Wait)
}
