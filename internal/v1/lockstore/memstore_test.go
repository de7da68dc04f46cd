package lockstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStore_PutIfAbsent(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	require.True(t, s.PutIfAbsent(ctx, "k1", []byte("v1"), time.Minute))
	require.False(t, s.PutIfAbsent(ctx, "k1", []byte("v2"), time.Minute))

	v, ok := s.Get(ctx, "k1")
	require.True(t, ok)
	assert.Equal(t, "v1", string(v))
}

func TestInMemoryStore_Expiry(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	require.True(t, s.Set(ctx, "k1", []byte("v1"), 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	_, ok := s.Get(ctx, "k1")
	assert.False(t, ok)
	assert.Equal(t, int64(-2), s.Pttl(ctx, "k1"))
}

func TestInMemoryStore_Pttl(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	assert.Equal(t, int64(-2), s.Pttl(ctx, "missing"))

	require.True(t, s.Set(ctx, "no-ttl", []byte("v"), 0))
	assert.Equal(t, int64(-1), s.Pttl(ctx, "no-ttl"))

	require.True(t, s.Set(ctx, "with-ttl", []byte("v"), time.Minute))
	assert.Greater(t, s.Pttl(ctx, "with-ttl"), int64(0))
}

func TestInMemoryStore_Delete(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	assert.False(t, s.Delete(ctx, "missing"))

	require.True(t, s.Set(ctx, "k1", []byte("v1"), time.Minute))
	assert.True(t, s.Delete(ctx, "k1"))
	assert.False(t, s.Delete(ctx, "k1"))
}

func TestInMemoryStore_SetOverwrites(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	require.True(t, s.Set(ctx, "k1", []byte("v1"), time.Minute))
	require.True(t, s.Set(ctx, "k1", []byte("v2"), time.Minute))

	v, ok := s.Get(ctx, "k1")
	require.True(t, ok)
	assert.Equal(t, "v2", string(v))
}
