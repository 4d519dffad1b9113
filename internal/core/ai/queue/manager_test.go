package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"recipe-modifier/internal/core/ai/provider"
	"recipe-modifier/internal/pkg/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRequest() *provider.Request {
	return provider.NewRequest("test-model", provider.Prompt{User: "hi"}, 16, 0)
}

func TestManagerGenerate(t *testing.T) {
	fake := provider.NewFake(provider.Step{Content: `{"ok":true}`})
	m := NewManager(fake, Options{Workers: 2, MaxSize: 4})
	defer m.Close()

	resp, err := m.Generate(context.Background(), newRequest())
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, resp.Content)
	assert.Equal(t, "fake", m.Name())
	assert.Equal(t, int64(1), m.GetQueueStatus().ProcessedCount)
}

func TestManagerPropagatesProviderError(t *testing.T) {
	boom := common.NewKindError(common.KindNetwork, "connection reset", nil)
	m := NewManager(provider.NewFake(provider.Step{Err: boom}), Options{Workers: 1, MaxSize: 1})
	defer m.Close()

	_, err := m.Generate(context.Background(), newRequest())
	assert.ErrorIs(t, err, common.ErrNetwork)
}

func TestManagerRejectsWhenFull(t *testing.T) {
	fake := provider.NewFake(provider.Step{Content: "{}", Delay: 200 * time.Millisecond})
	m := NewManager(fake, Options{Workers: 1, MaxSize: 1})
	defer m.Close()

	// 第一個請求佔用 worker
	first, err := m.Enqueue(context.Background(), newRequest())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return m.GetQueueStatus().Busy == 1 }, time.Second, 5*time.Millisecond)

	// 第二個請求在隊列中等待
	second, err := m.Enqueue(context.Background(), newRequest())
	require.NoError(t, err)

	// 第三個請求被拒絕
	_, err = m.Enqueue(context.Background(), newRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrRateLimit)
	assert.True(t, common.KindOf(err).Retryable())

	assert.NoError(t, (<-first).Error)
	assert.NoError(t, (<-second).Error)
}

func TestManagerLimitsConcurrency(t *testing.T) {
	fake := provider.NewFake(provider.Step{Content: "{}", Delay: 30 * time.Millisecond})
	m := NewManager(fake, Options{Workers: 2, MaxSize: 10})
	defer m.Close()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		maxBusy int64
	)
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			busy := m.GetQueueStatus().Busy
			mu.Lock()
			if busy > maxBusy {
				maxBusy = busy
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
		}
	}()

	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Generate(context.Background(), newRequest())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	close(stop)

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, maxBusy, int64(2))
	assert.Equal(t, 6, fake.Calls())
}

func TestManagerCallerCancel(t *testing.T) {
	fake := provider.NewFake(provider.Step{Content: "{}", Delay: time.Second})
	m := NewManager(fake, Options{Workers: 1, MaxSize: 1})
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := m.Generate(ctx, newRequest())
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestManagerClose(t *testing.T) {
	m := NewManager(provider.NewFake(provider.Step{Content: "{}"}), Options{Workers: 1})
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	_, err := m.Generate(context.Background(), newRequest())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, err, common.ErrModel)
	assert.False(t, common.KindOf(err).Retryable())
}
