package claim

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_AcquireOnceUntilExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }

	ok, err := m.Acquire(ctx, "claim:scheduled:n1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Acquire(ctx, "claim:scheduled:n1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	now = now.Add(time.Minute)
	ok, err = m.Acquire(ctx, "claim:scheduled:n1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, m.Release(ctx, "claim:scheduled:n1"))
	ok, _ = m.Acquire(ctx, "claim:scheduled:n1", time.Minute)
	assert.True(t, ok)
}

func TestMemory_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemory().Acquire(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return s, NewRedisClient(rdb, "push:")
}

func TestRedis_SetNXWithTTL(t *testing.T) {
	ctx := context.Background()
	s, r := newMiniRedis(t)

	ok, err := r.Acquire(ctx, "idem:abc", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, s.Exists("push:idem:abc"))
	assert.Equal(t, time.Hour, s.TTL("push:idem:abc"))

	ok, err = r.Acquire(ctx, "idem:abc", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	s.FastForward(time.Hour + time.Second)
	ok, err = r.Acquire(ctx, "idem:abc", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, r.Release(ctx, "idem:abc"))
	assert.False(t, s.Exists("push:idem:abc"))
}

func TestRedis_ServerDown(t *testing.T) {
	s, r := newMiniRedis(t)
	s.Close()

	_, err := r.Acquire(context.Background(), "k", time.Minute)
	assert.Error(t, err)
}

func TestNewRedis(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	r, err := NewRedis(context.Background(), "redis://"+s.Addr()+"/0", "p:")
	require.NoError(t, err)
	defer r.Close()

	ok, err := r.Acquire(context.Background(), "x", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = NewRedis(context.Background(), "::not a url", "")
	assert.Error(t, err)
}
