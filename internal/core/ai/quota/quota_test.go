package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"recipe-modifier/internal/pkg/common"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type storeFactory func(t *testing.T) Store

func stores() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"redis": func(t *testing.T) Store {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			return NewRedisStore(client, "test:quota:")
		},
	}
}

func newLimiter(store Store, clock *fakeClock, policy Policy) *Limiter {
	return New(store, policy, Options{Location: time.UTC, Clock: clock.Now})
}

func TestCheckAndReserve_EnforcesDailyLimit(t *testing.T) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			clock := &fakeClock{now: time.Date(2026, 5, 10, 9, 30, 0, 0, time.UTC)}
			l := newLimiter(factory(t), clock, NewPolicy(5, nil))
			ctx := context.Background()

			for want := int64(4); want >= 0; want-- {
				res, err := l.CheckAndReserve(ctx, "user-1")
				require.NoError(t, err)
				assert.Equal(t, want, res.Remaining)
				assert.Equal(t, 5-want, res.Count)
				assert.NotEmpty(t, res.ID)
			}

			_, err := l.CheckAndReserve(ctx, "user-1")
			require.Error(t, err)
			assert.True(t, errors.Is(err, common.ErrQuotaExceeded))

			var ce *common.CustomError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, int64(0), ce.Remaining)
			assert.Equal(t, time.Date(2026, 5, 11, 0, 0, 0, 0, time.UTC), ce.ResetAt)

			other, err := l.CheckAndReserve(ctx, "user-2")
			require.NoError(t, err)
			assert.Equal(t, int64(4), other.Remaining)
		})
	}
}

func TestCheckAndReserve_ResetsOnNewDay(t *testing.T) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			clock := &fakeClock{now: time.Date(2026, 5, 10, 23, 59, 0, 0, time.UTC)}
			l := newLimiter(factory(t), clock, NewPolicy(5, nil))
			ctx := context.Background()

			for i := 0; i < 5; i++ {
				_, err := l.CheckAndReserve(ctx, "user-1")
				require.NoError(t, err)
			}
			_, err := l.CheckAndReserve(ctx, "user-1")
			require.Error(t, err)

			clock.Set(time.Date(2026, 5, 11, 0, 0, 1, 0, time.UTC))
			res, err := l.CheckAndReserve(ctx, "user-1")
			require.NoError(t, err)
			assert.Equal(t, int64(4), res.Remaining)
			assert.Equal(t, "2026-05-11", res.WindowStart)
			assert.Equal(t, time.Date(2026, 5, 12, 0, 0, 0, 0, time.UTC), res.ResetAt)
		})
	}
}

func TestCheckAndReserve_SeededYesterdayAtLimit(t *testing.T) {
	store := NewMemoryStore()
	store.Seed(Counter{UserID: "user-1", Window: "2026-05-09", Count: 5})
	clock := &fakeClock{now: time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)}
	l := newLimiter(store, clock, NewPolicy(5, nil))

	res, err := l.CheckAndReserve(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.Remaining)
}

func TestCheckAndReserve_WindowNeverMovesBackwards(t *testing.T) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			clock := &fakeClock{now: time.Date(2026, 5, 11, 0, 0, 5, 0, time.UTC)}
			l := newLimiter(factory(t), clock, NewPolicy(2, nil))
			ctx := context.Background()

			_, err := l.CheckAndReserve(ctx, "user-1")
			require.NoError(t, err)

			// 落後的時鐘仍計入已存在的較新視窗
			clock.Set(time.Date(2026, 5, 10, 23, 59, 59, 0, time.UTC))
			res, err := l.CheckAndReserve(ctx, "user-1")
			require.NoError(t, err)
			assert.Equal(t, "2026-05-11", res.WindowStart)
			assert.Equal(t, int64(0), res.Remaining)

			_, err = l.CheckAndReserve(ctx, "user-1")
			assert.True(t, errors.Is(err, common.ErrQuotaExceeded))
		})
	}
}

func TestCheckAndReserve_ConcurrentRequestsRespectLimit(t *testing.T) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			clock := &fakeClock{now: time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)}
			l := newLimiter(factory(t), clock, NewPolicy(5, nil))

			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				reserved int
				exceeded int
			)
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := l.CheckAndReserve(context.Background(), "user-1")
					mu.Lock()
					defer mu.Unlock()
					if err == nil {
						reserved++
					} else if errors.Is(err, common.ErrQuotaExceeded) {
						exceeded++
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, 5, reserved)
			assert.Equal(t, 15, exceeded)
		})
	}
}

func TestPeek_IsReadOnly(t *testing.T) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			clock := &fakeClock{now: time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)}
			l := newLimiter(factory(t), clock, NewPolicy(5, nil))
			ctx := context.Background()

			st, err := l.Peek(ctx, "user-1")
			require.NoError(t, err)
			assert.Equal(t, int64(0), st.Count)
			assert.Equal(t, int64(5), st.Remaining)

			for i := 0; i < 3; i++ {
				_, err := l.CheckAndReserve(ctx, "user-1")
				require.NoError(t, err)
			}
			for i := 0; i < 3; i++ {
				st, err = l.Peek(ctx, "user-1")
				require.NoError(t, err)
			}
			assert.Equal(t, int64(3), st.Count)
			assert.Equal(t, int64(2), st.Remaining)
			assert.Equal(t, Limit(5), st.Limit)

			clock.Set(time.Date(2026, 5, 11, 6, 0, 0, 0, time.UTC))
			st, err = l.Peek(ctx, "user-1")
			require.NoError(t, err)
			assert.Equal(t, int64(0), st.Count, "reports the would-be reset")
			assert.Equal(t, time.Date(2026, 5, 12, 0, 0, 0, 0, time.UTC), st.ResetAt)

			clock.Set(time.Date(2026, 5, 10, 13, 0, 0, 0, time.UTC))
			st, err = l.Peek(ctx, "user-1")
			require.NoError(t, err)
			assert.Equal(t, int64(3), st.Count, "peek did not commit the reset")
		})
	}
}

func TestUnlimitedUsers(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)}
	l := newLimiter(NewMemoryStore(), clock, NewPolicy(1, []string{"vip"}))
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		_, err := l.CheckAndReserve(ctx, "vip")
		require.NoError(t, err)
	}
	st, err := l.Peek(ctx, "vip")
	require.NoError(t, err)
	assert.True(t, st.Unlimited)
	assert.Equal(t, Unlimited, st.Limit)
	assert.Equal(t, int64(50), st.Count)

	_, err = l.CheckAndReserve(ctx, "regular")
	require.NoError(t, err)
	_, err = l.CheckAndReserve(ctx, "regular")
	assert.True(t, errors.Is(err, common.ErrQuotaExceeded))
}

func TestResetAtUsesConfiguredZone(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*60*60)

	// 2026-05-10 20:00 UTC 在 UTC+8 已是 5/11 04:00
	clock := &fakeClock{now: time.Date(2026, 5, 10, 20, 0, 0, 0, time.UTC)}
	l := New(NewMemoryStore(), NewPolicy(5, nil), Options{Location: loc, Clock: clock.Now})

	res, err := l.CheckAndReserve(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "2026-05-11", res.WindowStart)
	assert.True(t, res.ResetAt.Equal(time.Date(2026, 5, 12, 0, 0, 0, 0, loc)))
}

func TestStoreFailureFailsClosed(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	clock := &fakeClock{now: time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)}
	l := newLimiter(NewRedisStore(client, ""), clock, NewPolicy(5, nil))
	mr.Close()

	_, err := l.CheckAndReserve(context.Background(), "user-1")
	assert.True(t, errors.Is(err, common.ErrCacheUnavailable))

	_, err = l.Peek(context.Background(), "user-1")
	assert.True(t, errors.Is(err, common.ErrCacheUnavailable))
}

func TestCheckAndReserve_RequiresUser(t *testing.T) {
	l := newLimiter(NewMemoryStore(), &fakeClock{now: time.Now()}, NewPolicy(5, nil))
	_, err := l.CheckAndReserve(context.Background(), " ")
	assert.True(t, errors.Is(err, common.ErrInvalidInput))
}
