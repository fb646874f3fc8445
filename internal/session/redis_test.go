// ABOUTME: Tests for the Redis session backend against miniredis
// ABOUTME: Verifies native expiry, plain thread id values and outage reporting

package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s := NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestRedisStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) harness {
		s, mr := newTestRedisStore(t)
		return harness{store: s, advance: mr.FastForward}
	})
}

func TestRedisStore_StoresPlainThreadID(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)

	require.NoError(t, s.Put(ctx, "5511999999999", "th_abc", 12*time.Hour))

	got, err := mr.Get("5511999999999")
	require.NoError(t, err)
	assert.Equal(t, "th_abc", got)
	assert.Equal(t, 12*time.Hour, mr.TTL("5511999999999"))
}

func TestRedisStore_ReadsExistingKeys(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)

	// Sessions written by another process with SETEX are readable
	require.NoError(t, mr.Set("5511888888888", "th_external"))
	mr.SetTTL("5511888888888", time.Hour)

	sess, err := s.Lookup(ctx, "5511888888888")
	require.NoError(t, err)
	assert.Equal(t, "th_external", sess.ThreadID)
	assert.True(t, sess.CreatedAt.IsZero())
	assert.WithinDuration(t, time.Now().Add(time.Hour), sess.ExpiresAt, time.Minute)
}

func TestRedisStore_OutageIsUnavailable(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)
	mr.Close()

	_, err := s.Get(ctx, "u")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.NotErrorIs(t, err, ErrNotFound)

	_, err = s.Lookup(ctx, "u")
	assert.ErrorIs(t, err, ErrUnavailable)

	assert.ErrorIs(t, s.Put(ctx, "u", "th", time.Hour), ErrUnavailable)
	assert.ErrorIs(t, s.Touch(ctx, "u", time.Hour), ErrUnavailable)
	assert.ErrorIs(t, s.Ping(ctx), ErrUnavailable)
}

func TestNewRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)

	s, err := NewRedisStore(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	require.NoError(t, s.Close())
}
