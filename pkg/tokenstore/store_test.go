package tokenstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SetAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	err := store.Set(ctx, "test-key", "test-value", 5*time.Minute)
	require.NoError(t, err)

	tok, err := store.Get(ctx, "test-key")
	require.NoError(t, err)
	assert.Equal(t, "test-value", tok.Value)
	assert.False(t, tok.IsExpired())
}

func TestMemoryStore_GetNotFound(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Get(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestMemoryStore_GetExpired(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Set(ctx, "expired", "val", time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, err := store.Get(ctx, "expired")
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestMemoryStore_OverwriteKey(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_ = store.Set(ctx, "key", "val1", 5*time.Minute)
	_ = store.Set(ctx, "key", "val2", 5*time.Minute)

	tok, err := store.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, "val2", tok.Value)
}

func TestMemoryStore_Cleanup(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_ = store.Set(ctx, "fresh", "val", 5*time.Minute)
	_ = store.Set(ctx, "stale1", "val", time.Millisecond)
	_ = store.Set(ctx, "stale2", "val", time.Millisecond)

	time.Sleep(5 * time.Millisecond)

	count, err := store.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	_, err = store.Get(ctx, "fresh")
	assert.NoError(t, err)
}

func TestStartJanitor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewMemoryStore()
	_ = store.Set(ctx, "stale", "val", time.Millisecond)

	StartJanitor(ctx, store, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		store.mu.RLock()
		defer store.mu.RUnlock()
		return len(store.tokens) == 0
	}, time.Second, 10*time.Millisecond)
}
