package cache

import (
	"context"
	"sync"
	"time"

	"recipe-modifier/internal/core/ai/fingerprint"
	"recipe-modifier/internal/pkg/common"

	"go.uber.org/zap"
)

// MemoryOptions 記憶體快取設定
type MemoryOptions struct {
	MaxSize         int
	CleanupInterval time.Duration
	Clock           Clock
}

// MemoryStore 單一程序使用的記憶體快取；程序重啟後所有條目都會消失
type MemoryStore struct {
	mu       sync.Mutex
	store    map[fingerprint.Fingerprint]*memEntry
	byRecipe map[string]map[fingerprint.Fingerprint]struct{}
	maxSize  int
	now      Clock
	stats    Stats

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// memEntry 緩存條目與訪問統計
type memEntry struct {
	entry       *Entry
	lastAccess  time.Time
	accessCount int
}

// Stats 緩存統計
type Stats struct {
	Size      int   `json:"size"`
	MaxSize   int   `json:"max_size"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// NewMemoryStore 創建記憶體快取；CleanupInterval > 0 時啟動背景清理
func NewMemoryStore(opts MemoryOptions) *MemoryStore {
	if opts.MaxSize <= 0 {
		opts.MaxSize = 1000
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	m := &MemoryStore{
		store:    make(map[fingerprint.Fingerprint]*memEntry),
		byRecipe: make(map[string]map[fingerprint.Fingerprint]struct{}),
		maxSize:  opts.MaxSize,
		now:      opts.Clock,
		stop:     make(chan struct{}),
	}

	if opts.CleanupInterval > 0 {
		m.wg.Add(1)
		go m.startCleanup(opts.CleanupInterval)
	}

	common.LogInfo("快取管理員已初始化",
		zap.Int("最大容量", opts.MaxSize),
		zap.Duration("清理間隔", opts.CleanupInterval),
	)
	return m
}

// Get 獲取緩存值，過期條目會立即刪除
func (m *MemoryStore) Get(_ context.Context, fp fingerprint.Fingerprint) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	me, ok := m.store[fp]
	if !ok {
		m.stats.Misses++
		return nil, ErrMiss
	}
	now := m.now()
	if me.entry.Expired(now) {
		m.remove(fp)
		m.stats.Evictions++
		m.stats.Misses++
		common.LogDebug("快取已過期", zap.String("鍵", fp.Short()))
		return nil, ErrMiss
	}

	me.lastAccess = now
	me.accessCount++
	m.stats.Hits++
	return me.entry, nil
}

// Set 設置緩存值；容量已滿時先清理過期項目，再淘汰最少使用的項目
func (m *MemoryStore) Set(_ context.Context, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.store[entry.Fingerprint]; !exists && len(m.store) >= m.maxSize {
		if evicted := m.cleanup(); evicted > 0 {
			common.LogDebug("快取清理執行", zap.Int("清理數量", evicted))
		}
		for len(m.store) >= m.maxSize && m.evictLRU() {
		}
	}

	m.remove(entry.Fingerprint)
	m.store[entry.Fingerprint] = &memEntry{entry: entry, lastAccess: m.now()}
	idx, ok := m.byRecipe[entry.RecipeID]
	if !ok {
		idx = make(map[fingerprint.Fingerprint]struct{})
		m.byRecipe[entry.RecipeID] = idx
	}
	idx[entry.Fingerprint] = struct{}{}
	return nil
}

// Delete 刪除單一條目
func (m *MemoryStore) Delete(_ context.Context, fp fingerprint.Fingerprint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remove(fp)
	return nil
}

// DeleteByRecipe 刪除某食譜的所有條目
func (m *MemoryStore) DeleteByRecipe(_ context.Context, recipeID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.byRecipe[recipeID]
	n := 0
	for fp := range idx {
		if _, ok := m.store[fp]; ok {
			n++
		}
		m.remove(fp)
	}
	delete(m.byRecipe, recipeID)
	return n, nil
}

// Ping 記憶體快取永遠可用
func (m *MemoryStore) Ping(context.Context) error { return nil }

// remove 呼叫端需持有鎖
func (m *MemoryStore) remove(fp fingerprint.Fingerprint) {
	me, ok := m.store[fp]
	if !ok {
		return
	}
	delete(m.store, fp)
	if idx, ok := m.byRecipe[me.entry.RecipeID]; ok {
		delete(idx, fp)
		if len(idx) == 0 {
			delete(m.byRecipe, me.entry.RecipeID)
		}
	}
}

// startCleanup 啟動清理過期緩存的協程
func (m *MemoryStore) startCleanup(interval time.Duration) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			m.cleanup()
			m.mu.Unlock()
		}
	}
}

// cleanup 清理過期的緩存，呼叫端需持有鎖
func (m *MemoryStore) cleanup() int {
	now := m.now()
	count := 0
	for fp, me := range m.store {
		if me.entry.Expired(now) {
			m.remove(fp)
			count++
		}
	}
	m.stats.Evictions += int64(count)

	if count > 0 {
		common.LogInfo("Cleaned up expired cache entries",
			zap.Int("count", count),
			zap.Int64("total_evictions", m.stats.Evictions),
			zap.Int("remaining_size", len(m.store)),
		)
	}
	return count
}

// evictLRU 淘汰訪問次數最少的項目，次數相同時取最久未訪問者
func (m *MemoryStore) evictLRU() bool {
	var (
		found             bool
		oldestKey         fingerprint.Fingerprint
		oldestAccess      time.Time
		lowestAccessCount int
	)
	for fp, me := range m.store {
		if !found ||
			me.accessCount < lowestAccessCount ||
			(me.accessCount == lowestAccessCount && me.lastAccess.Before(oldestAccess)) {
			found = true
			oldestKey = fp
			oldestAccess = me.lastAccess
			lowestAccessCount = me.accessCount
		}
	}
	if !found {
		return false
	}
	m.remove(oldestKey)
	m.stats.Evictions++
	common.LogDebug("快取已淘汰(LRU)", zap.String("鍵", oldestKey.Short()))
	return true
}

// Stats 獲取緩存統計信息
func (m *MemoryStore) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.Size = len(m.store)
	s.MaxSize = m.maxSize
	return s
}

// Close 停止背景清理並清空緩存
func (m *MemoryStore) Close() error {
	m.stopOnce.Do(func() {
		close(m.stop)
		m.wg.Wait()

		m.mu.Lock()
		defer m.mu.Unlock()
		common.LogInfo("快取管理員已關閉",
			zap.Int64("命中次數", m.stats.Hits),
			zap.Int64("未命中次數", m.stats.Misses),
			zap.Int64("淘汰次數", m.stats.Evictions),
		)
		m.store = make(map[fingerprint.Fingerprint]*memEntry)
		m.byRecipe = make(map[string]map[fingerprint.Fingerprint]struct{})
	})
	return nil
}
