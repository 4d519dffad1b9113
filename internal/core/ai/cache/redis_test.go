package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T, clock *fakeClock) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, "test:", clock.Now), mr
}

func TestRedisStore_RoundTripKeepsTTL(t *testing.T) {
	clock := newFakeClock()
	s, mr := newRedisStore(t, clock)
	ctx := context.Background()

	entry := memEntryFor(clock, "fp-a", "r1")
	require.NoError(t, s.Set(ctx, entry))

	got, err := s.Get(ctx, "fp-a")
	require.NoError(t, err)
	assert.Equal(t, "r1", got.RecipeID)
	assert.Equal(t, "fp-a", got.Result.Title)
	assert.True(t, got.ExpiresAt.Equal(entry.ExpiresAt))

	assert.Equal(t, time.Hour, mr.TTL("test:entry:fp-a"))
	ok, err := mr.SIsMember("test:recipe:r1", "fp-a")
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(time.Hour)
	_, err = s.Get(ctx, "fp-a")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedisStore_ExpiredByClock(t *testing.T) {
	clock := newFakeClock()
	s, _ := newRedisStore(t, clock)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, memEntryFor(clock, "fp-a", "r1")))
	clock.Advance(time.Hour)
	_, err := s.Get(ctx, "fp-a")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedisStore_DeleteByRecipe(t *testing.T) {
	clock := newFakeClock()
	s, mr := newRedisStore(t, clock)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, memEntryFor(clock, "a", "r1")))
	require.NoError(t, s.Set(ctx, memEntryFor(clock, "b", "r1")))
	require.NoError(t, s.Set(ctx, memEntryFor(clock, "c", "r2")))
	require.NoError(t, s.Delete(ctx, "b"))

	n, err := s.DeleteByRecipe(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, mr.Exists("test:recipe:r1"))

	_, err = s.Get(ctx, "c")
	assert.NoError(t, err)
}

func TestRedisStore_CorruptEntryIsMiss(t *testing.T) {
	clock := newFakeClock()
	s, mr := newRedisStore(t, clock)
	require.NoError(t, mr.Set("test:entry:bad", "{not json"))

	_, err := s.Get(context.Background(), "bad")
	assert.ErrorIs(t, err, ErrMiss)
	assert.False(t, mr.Exists("test:entry:bad"))
}

func TestRedisStore_BackendDownIsError(t *testing.T) {
	clock := newFakeClock()
	s, mr := newRedisStore(t, clock)
	mr.Close()

	_, err := s.Get(context.Background(), "a")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMiss)
	assert.Error(t, s.Ping(context.Background()))
}

func TestRedisStore_DeleteByRecipeThenSetIsIndexed(t *testing.T) {
	clock := newFakeClock()
	s, mr := newRedisStore(t, clock)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, memEntryFor(clock, "a", "r1")))
	n, err := s.DeleteByRecipe(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, mr.Exists("test:entry:a"))

	require.NoError(t, s.Set(ctx, memEntryFor(clock, "a", "r1")))
	n, err = s.DeleteByRecipe(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.DeleteByRecipe(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
