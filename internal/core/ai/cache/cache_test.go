package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"recipe-modifier/internal/core/ai/fingerprint"
	"recipe-modifier/internal/core/recipe"
	"recipe-modifier/internal/pkg/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// failingStore 讀寫都失敗的後端
type failingStore struct {
	sets atomic.Int32
}

var errBackend = errors.New("backend down")

func (s *failingStore) Get(context.Context, fingerprint.Fingerprint) (*Entry, error) {
	return nil, errBackend
}
func (s *failingStore) Set(context.Context, *Entry) error { s.sets.Add(1); return errBackend }
func (s *failingStore) Delete(context.Context, fingerprint.Fingerprint) error {
	return errBackend
}
func (s *failingStore) DeleteByRecipe(context.Context, string) (int, error) { return 0, errBackend }
func (s *failingStore) Ping(context.Context) error                          { return errBackend }
func (s *failingStore) Close() error                                        { return nil }

const testFP = fingerprint.Fingerprint("5f2b0c7c1e6a4b9d8e3f2a1b0c9d8e7f6a5b4c3d2e1f0a9b8c7d6e5f4a3b2c1d")

var testMeta = Meta{RecipeID: "recipe-1", Preferences: recipe.PreferenceSet{DietType: recipe.DietKeto}}

func delta(title string) *recipe.RecipeDelta {
	return &recipe.RecipeDelta{Title: title}
}

func newTestCache(t *testing.T, clock *fakeClock) *ResponseCache {
	t.Helper()
	store := NewMemoryStore(MemoryOptions{MaxSize: 10, Clock: clock.Now})
	t.Cleanup(func() { _ = store.Close() })
	return New(store, Options{TTL: time.Hour, Clock: clock.Now})
}

func TestGetOrCompute_HitAvoidsRecompute(t *testing.T) {
	c := newTestCache(t, newFakeClock())
	var calls atomic.Int32
	compute := func(context.Context) (*recipe.RecipeDelta, error) {
		calls.Add(1)
		return delta("low carb"), nil
	}

	first, err := c.GetOrCompute(context.Background(), testFP, testMeta, compute)
	require.NoError(t, err)
	assert.Equal(t, SourceComputed, first.Source)

	second, err := c.GetOrCompute(context.Background(), testFP, testMeta, compute)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, second.Source)
	assert.Same(t, first.Entry.Result, second.Entry.Result)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "recipe-1", second.Entry.RecipeID)
}

func TestGetOrCompute_ConcurrentCallersShareOneComputation(t *testing.T) {
	c := newTestCache(t, newFakeClock())
	var calls atomic.Int32
	release := make(chan struct{})
	compute := func(context.Context) (*recipe.RecipeDelta, error) {
		calls.Add(1)
		<-release
		return delta("shared"), nil
	}

	const n = 20
	results := make([]*Result, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.GetOrCompute(context.Background(), testFP, testMeta, compute)
		}(i)
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	// 讓其餘呼叫端都有機會加入同一個 flight
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	computed := 0
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared", results[i].Entry.Result.Title)
		assert.Same(t, results[0].Entry.Result, results[i].Entry.Result)
		if results[i].Source == SourceComputed {
			computed++
		}
	}
	assert.Equal(t, 1, computed)
	assert.Equal(t, 0, c.InFlight())
}

func TestGetOrCompute_FailurePropagatesToAllWaiters(t *testing.T) {
	c := newTestCache(t, newFakeClock())
	release := make(chan struct{})
	var calls atomic.Int32
	boom := common.NewExternalServiceError(3, common.NewKindError(common.KindNetwork, "down", nil))
	compute := func(context.Context) (*recipe.RecipeDelta, error) {
		calls.Add(1)
		<-release
		return nil, boom
	}

	const n = 5
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := c.GetOrCompute(context.Background(), testFP, testMeta, compute)
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)

	for i := 0; i < n; i++ {
		err := <-errs
		assert.True(t, errors.Is(err, common.ErrExternalService))
	}

	_, err := c.Lookup(context.Background(), testFP)
	assert.ErrorIs(t, err, ErrMiss, "failures are not cached")

	ok := func(context.Context) (*recipe.RecipeDelta, error) { return delta("retry"), nil }
	res, err := c.GetOrCompute(context.Background(), testFP, testMeta, ok)
	require.NoError(t, err)
	assert.Equal(t, SourceComputed, res.Source)
}

func TestGetOrCompute_WaiterCancellationDoesNotCancelOthers(t *testing.T) {
	c := newTestCache(t, newFakeClock())
	release := make(chan struct{})
	started := make(chan struct{})
	var computeCtxErr atomic.Value
	compute := func(ctx context.Context) (*recipe.RecipeDelta, error) {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
			computeCtxErr.Store(ctx.Err())
			return nil, ctx.Err()
		}
		return delta("survivor"), nil
	}

	ownerCtx, cancelOwner := context.WithCancel(context.Background())
	ownerErr := make(chan error, 1)
	go func() {
		_, err := c.GetOrCompute(ownerCtx, testFP, testMeta, compute)
		ownerErr <- err
	}()
	<-started

	otherRes := make(chan *Result, 1)
	go func() {
		res, err := c.GetOrCompute(context.Background(), testFP, testMeta, compute)
		assert.NoError(t, err)
		otherRes <- res
	}()
	time.Sleep(20 * time.Millisecond)

	cancelOwner()
	assert.ErrorIs(t, <-ownerErr, context.Canceled)

	close(release)
	res := <-otherRes
	require.NotNil(t, res)
	assert.Equal(t, "survivor", res.Entry.Result.Title)
	assert.Equal(t, SourceShared, res.Source)
	assert.Nil(t, computeCtxErr.Load())
}

func TestGetOrCompute_LastWaiterLeavingCancelsComputation(t *testing.T) {
	c := newTestCache(t, newFakeClock())
	canceled := make(chan struct{})
	compute := func(ctx context.Context) (*recipe.RecipeDelta, error) {
		<-ctx.Done()
		close(canceled)
		return nil, ctx.Err()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.GetOrCompute(ctx, testFP, testMeta, compute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-canceled:
	case <-time.After(time.Second):
		t.Fatal("computation was not cancelled after all waiters left")
	}
	assert.Equal(t, 0, c.InFlight())
}

func TestGetOrCompute_ExpiredEntryIsRecomputed(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock)
	var calls atomic.Int32
	compute := func(context.Context) (*recipe.RecipeDelta, error) {
		calls.Add(1)
		return delta("fresh"), nil
	}

	_, err := c.GetOrCompute(context.Background(), testFP, testMeta, compute)
	require.NoError(t, err)

	clock.Advance(59 * time.Minute)
	_, err = c.Lookup(context.Background(), testFP)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	_, err = c.Lookup(context.Background(), testFP)
	assert.ErrorIs(t, err, ErrMiss, "now == expiresAt is expired")

	res, err := c.GetOrCompute(context.Background(), testFP, testMeta, compute)
	require.NoError(t, err)
	assert.Equal(t, SourceComputed, res.Source)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetOrCompute_StoreFailureDegrades(t *testing.T) {
	store := &failingStore{}
	c := New(store, Options{TTL: time.Hour})
	compute := func(context.Context) (*recipe.RecipeDelta, error) { return delta("still works"), nil }

	res, err := c.GetOrCompute(context.Background(), testFP, testMeta, compute)
	require.NoError(t, err)
	assert.Equal(t, "still works", res.Entry.Result.Title)
	assert.Equal(t, int32(1), store.sets.Load())

	_, err = c.Lookup(context.Background(), testFP)
	assert.True(t, errors.Is(err, common.ErrCacheUnavailable))

	err = c.Invalidate(context.Background(), testFP)
	assert.True(t, errors.Is(err, common.ErrCacheUnavailable))
}

func TestGetOrCompute_PanicBecomesError(t *testing.T) {
	c := newTestCache(t, newFakeClock())
	_, err := c.GetOrCompute(context.Background(), testFP, testMeta, func(context.Context) (*recipe.RecipeDelta, error) {
		panic("boom")
	})
	assert.Error(t, err)
	assert.Equal(t, 0, c.InFlight())
}

func TestInvalidate(t *testing.T) {
	c := newTestCache(t, newFakeClock())
	compute := func(context.Context) (*recipe.RecipeDelta, error) { return delta("x"), nil }
	other := fingerprint.Fingerprint("other")

	_, err := c.GetOrCompute(context.Background(), testFP, testMeta, compute)
	require.NoError(t, err)
	_, err = c.GetOrCompute(context.Background(), other, testMeta, compute)
	require.NoError(t, err)

	require.NoError(t, c.Invalidate(context.Background(), testFP))
	_, err = c.Lookup(context.Background(), testFP)
	assert.ErrorIs(t, err, ErrMiss)

	n, err := c.InvalidateRecipe(context.Background(), "recipe-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = c.Lookup(context.Background(), other)
	assert.ErrorIs(t, err, ErrMiss)
}

func TestInvalidateRecipe_InFlightResultIsNotCached(t *testing.T) {
	c := newTestCache(t, newFakeClock())
	started := make(chan struct{})
	release := make(chan struct{})
	compute := func(context.Context) (*recipe.RecipeDelta, error) {
		close(started)
		<-release
		return delta("from old recipe"), nil
	}

	done := make(chan *Result, 1)
	go func() {
		res, err := c.GetOrCompute(context.Background(), testFP, testMeta, compute)
		assert.NoError(t, err)
		done <- res
	}()
	<-started

	n, err := c.InvalidateRecipe(context.Background(), "recipe-1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, c.InFlight())

	close(release)
	res := <-done
	require.NotNil(t, res)
	assert.Equal(t, "from old recipe", res.Entry.Result.Title)

	_, err = c.Lookup(context.Background(), testFP)
	assert.ErrorIs(t, err, ErrMiss)

	c.mu.Lock()
	assert.Empty(t, c.recipes)
	c.mu.Unlock()
}

func TestInvalidateRecipe_LaterCallersStartFresh(t *testing.T) {
	c := newTestCache(t, newFakeClock())
	oldStarted := make(chan struct{})
	releaseOld := make(chan struct{})
	oldCompute := func(context.Context) (*recipe.RecipeDelta, error) {
		close(oldStarted)
		<-releaseOld
		return delta("old"), nil
	}
	newCompute := func(context.Context) (*recipe.RecipeDelta, error) {
		return delta("new"), nil
	}

	oldDone := make(chan struct{})
	go func() {
		defer close(oldDone)
		_, err := c.GetOrCompute(context.Background(), testFP, testMeta, oldCompute)
		assert.NoError(t, err)
	}()
	<-oldStarted

	_, err := c.InvalidateRecipe(context.Background(), "recipe-1")
	require.NoError(t, err)

	res, err := c.GetOrCompute(context.Background(), testFP, testMeta, newCompute)
	require.NoError(t, err)
	assert.Equal(t, SourceComputed, res.Source)
	assert.Equal(t, "new", res.Entry.Result.Title)

	close(releaseOld)
	<-oldDone

	entry, err := c.Lookup(context.Background(), testFP)
	require.NoError(t, err)
	assert.Equal(t, "new", entry.Result.Title)
}
