package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-presence-api/internal/models"
)

func TestMemoryKeyStoreEvictsAfterTTL(t *testing.T) {
	now := time.Date(2025, 2, 3, 7, 0, 0, 0, time.UTC)
	store := NewMemoryKeyStore(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, models.RotatedToken{SessionID: "session-1", Sequence: 0, SecureValue: "sv-0"}, time.Minute))
	token, err := store.Get(ctx, "sv-0")
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.Equal(t, "session-1", token.SessionID)

	missing, err := store.Get(ctx, "unknown")
	require.NoError(t, err)
	assert.Nil(t, missing)

	now = now.Add(2 * time.Minute)
	gone, err := store.Get(ctx, "sv-0")
	require.NoError(t, err)
	assert.Nil(t, gone)

	require.NoError(t, store.Put(ctx, models.RotatedToken{SessionID: "session-1", Sequence: 1, SecureValue: "sv-1"}, time.Minute))
	assert.Equal(t, 1, store.Len())
}

func TestMemoryKeyStoreSweepsOncePerInterval(t *testing.T) {
	now := time.Date(2025, 2, 3, 7, 0, 0, 0, time.UTC)
	store := NewMemoryKeyStore(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, models.RotatedToken{SecureValue: "sv-0"}, time.Second))
	for i := 1; i <= 5; i++ {
		now = now.Add(5 * time.Second)
		require.NoError(t, store.Put(ctx, models.RotatedToken{SecureValue: fmt.Sprintf("sv-%d", i)}, time.Second))
	}
	assert.Equal(t, 6, store.Len(), "expired entries wait for the next sweep")
	expired, err := store.Get(ctx, "sv-0")
	require.NoError(t, err)
	assert.Nil(t, expired)

	now = now.Add(memorySweepInterval)
	require.NoError(t, store.Put(ctx, models.RotatedToken{SecureValue: "sv-live"}, time.Minute))
	assert.Equal(t, 1, store.Len())
	live, err := store.Get(ctx, "sv-live")
	require.NoError(t, err)
	assert.NotNil(t, live)
}

func TestSessionRegistryRegistersOncePerSession(t *testing.T) {
	registry := NewSessionRegistry()
	first := newRotationHandle("session-1", "base-a", nil, time.Now(), time.Minute)
	second := newRotationHandle("session-1", "base-b", nil, time.Now(), time.Minute)

	existing, ok := registry.Register(first)
	require.True(t, ok)
	assert.Same(t, first, existing)

	existing, ok = registry.Register(second)
	assert.False(t, ok)
	assert.Same(t, first, existing)

	registry.Unregister(second)
	found, ok := registry.Lookup("session-1")
	require.True(t, ok)
	assert.Same(t, first, found)

	registry.Unregister(first)
	_, ok = registry.Lookup("session-1")
	assert.False(t, ok)
	assert.Zero(t, registry.Len())
}

func TestRotationHandleSequencesAndCurrent(t *testing.T) {
	now := time.Date(2025, 2, 3, 7, 0, 0, 0, time.UTC)
	handle := newRotationHandle("session-1", "base", nil, now, time.Minute)

	assert.Equal(t, uint64(0), handle.nextSequence())
	assert.Equal(t, uint64(1), handle.nextSequence())

	_, ok := handle.Current(now)
	assert.False(t, ok)

	handle.publish(models.RotatedToken{SessionID: "session-1", Sequence: 1, ExpiresAt: now.Add(5 * time.Second)})
	token, ok := handle.Current(now)
	require.True(t, ok)
	assert.Equal(t, uint64(1), token.Sequence)

	_, ok = handle.Current(now.Add(6 * time.Second))
	assert.False(t, ok)

	handle.deactivate()
	_, ok = handle.Current(now)
	assert.False(t, ok)
}
