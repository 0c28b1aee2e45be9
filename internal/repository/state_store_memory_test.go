package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStateStore_SetGetDelete(t *testing.T) {
	store := NewMemoryStateStore()
	ctx := context.Background()

	got, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.Set(ctx, "k", []byte("v"), 0))
	got, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, store.Delete(ctx, "k"))
	got, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStateStore_TTLExpiry(t *testing.T) {
	store := NewMemoryStateStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), 20*time.Millisecond))

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	time.Sleep(40 * time.Millisecond)
	got, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStateStore_SetNX(t *testing.T) {
	store := NewMemoryStateStore()
	ctx := context.Background()

	first, err := store.SetNX(ctx, "k", []byte("a"), 0)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := store.SetNX(ctx, "k", []byte("b"), 0)
	require.NoError(t, err)
	assert.False(t, second)

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), got)
}

func TestMemoryStateStore_SetNXAfterExpiry(t *testing.T) {
	store := NewMemoryStateStore()
	ctx := context.Background()

	first, err := store.SetNX(ctx, "k", []byte("a"), 20*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, first)

	time.Sleep(40 * time.Millisecond)
	again, err := store.SetNX(ctx, "k", []byte("b"), 0)
	require.NoError(t, err)
	assert.True(t, again)
}
