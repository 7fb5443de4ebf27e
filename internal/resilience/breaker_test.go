package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/forge/internal/errors"
)

var errBoom = errors.New("boom")

func testBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:  3,
		ResetTimeout:      30 * time.Millisecond,
		HalfOpenSuccesses: 2,
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker("svc", testBreakerConfig(), zerolog.Nop())
	fail := func(context.Context) error { return errBoom }

	for i := 0; i < 3; i++ {
		err := b.Do(context.Background(), fail)
		assert.ErrorIs(t, err, errBoom)
	}
	assert.Equal(t, StateOpen, b.Snapshot().State)

	err := b.Do(context.Background(), fail)
	assert.ErrorIs(t, err, perrors.ErrCircuitOpen)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker("svc", testBreakerConfig(), zerolog.Nop())
	fail := func(context.Context) error { return errBoom }
	ok := func(context.Context) error { return nil }

	_ = b.Do(context.Background(), fail)
	_ = b.Do(context.Background(), fail)
	require.NoError(t, b.Do(context.Background(), ok))
	_ = b.Do(context.Background(), fail)
	_ = b.Do(context.Background(), fail)

	assert.Equal(t, StateClosed, b.Snapshot().State)
}

func TestBreaker_HalfOpenProbeAfterReset(t *testing.T) {
	b := NewBreaker("svc", testBreakerConfig(), zerolog.Nop())
	fail := func(context.Context) error { return errBoom }
	ok := func(context.Context) error { return nil }

	for i := 0; i < 3; i++ {
		_ = b.Do(context.Background(), fail)
	}
	require.Equal(t, StateOpen, b.Snapshot().State)

	time.Sleep(40 * time.Millisecond)

	require.NoError(t, b.Do(context.Background(), ok))
	assert.Equal(t, StateHalfOpen, b.Snapshot().State)

	require.NoError(t, b.Do(context.Background(), ok))
	assert.Equal(t, StateClosed, b.Snapshot().State)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker("svc", testBreakerConfig(), zerolog.Nop())
	fail := func(context.Context) error { return errBoom }

	for i := 0; i < 3; i++ {
		_ = b.Do(context.Background(), fail)
	}
	time.Sleep(40 * time.Millisecond)

	err := b.Do(context.Background(), fail)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, StateOpen, b.Snapshot().State)

	err = b.Do(context.Background(), fail)
	assert.ErrorIs(t, err, perrors.ErrCircuitOpen)
}

func TestRegistry_GetCreatesAndReuses(t *testing.T) {
	r := NewRegistry(testBreakerConfig(), zerolog.Nop())

	a := r.Get("github")
	b := r.Get("github")
	assert.Same(t, a, b)

	c := r.Get("deploy")
	assert.NotSame(t, a, c)

	snaps := r.Snapshots()
	require.Len(t, snaps, 2)
	names := []string{snaps[0].Name, snaps[1].Name}
	assert.ElementsMatch(t, []string{"github", "deploy"}, names)
}

func TestRegistry_DoTripsNamedBreaker(t *testing.T) {
	r := NewRegistry(testBreakerConfig(), zerolog.Nop())
	fail := func(context.Context) error { return errBoom }
	ok := func(context.Context) error { return nil }

	for i := 0; i < 3; i++ {
		_ = r.Do(context.Background(), "github", fail)
	}
	assert.ErrorIs(t, r.Do(context.Background(), "github", ok), perrors.ErrCircuitOpen)

	// Other collaborators are unaffected.
	assert.NoError(t, r.Do(context.Background(), "deploy", ok))
}
