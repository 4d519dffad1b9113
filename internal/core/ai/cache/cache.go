package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"recipe-modifier/internal/core/ai/fingerprint"
	"recipe-modifier/internal/core/recipe"
	"recipe-modifier/internal/infrastructure/metrics"
	"recipe-modifier/internal/pkg/common"

	"go.uber.org/zap"
)

// DefaultTTL 快取條目預設存活時間
const DefaultTTL = 24 * time.Hour

const writeTimeout = 5 * time.Second

// Source 結果的來源
type Source string

const (
	SourceCache    Source = "cache"
	SourceComputed Source = "computed"
	SourceShared   Source = "shared"
)

// Result GetOrCompute 的結果
type Result struct {
	Entry  *Entry
	Source Source
}

// Meta 寫入快取時需要的食譜與偏好快照
type Meta struct {
	RecipeID    string
	Preferences recipe.PreferenceSet
}

// ComputeFunc 快取未命中時產生結果；ctx 與任何單一呼叫端脫鉤，只有在所有等待者離開後才會取消
type ComputeFunc func(ctx context.Context) (*recipe.RecipeDelta, error)

// Options ResponseCache 設定
type Options struct {
	TTL     time.Duration
	Clock   Clock
	Metrics *metrics.Metrics
}

// ResponseCache 以 fingerprint 為鍵的修改結果快取，同一 fingerprint 同時最多一個計算
type ResponseCache struct {
	store   Store
	ttl     time.Duration
	now     Clock
	metrics *metrics.Metrics

	mu       sync.Mutex
	inflight map[fingerprint.Fingerprint]*flight
	recipes  map[string]*recipeEpoch
}

// recipeEpoch 食譜的失效世代；active 為仍在執行（含已脫離）的計算數，歸零時移除
type recipeEpoch struct {
	epoch  uint64
	active int
}

// flight 進行中的計算，done 關閉後 entry/err/source 不再變動
type flight struct {
	done    chan struct{}
	cancel  context.CancelFunc
	waiters int

	recipeID string
	epoch    uint64

	entry  *Entry
	source Source
	err    error
}

// New 創建 ResponseCache
func New(store Store, opts Options) *ResponseCache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &ResponseCache{
		store:    store,
		ttl:      opts.TTL,
		now:      opts.Clock,
		metrics:  opts.Metrics,
		inflight: make(map[fingerprint.Fingerprint]*flight),
		recipes:  make(map[string]*recipeEpoch),
	}
}

// Lookup 純讀取；未命中或過期回傳 ErrMiss，後端錯誤回傳 CacheUnavailableError
func (c *ResponseCache) Lookup(ctx context.Context, fp fingerprint.Fingerprint) (*Entry, error) {
	entry, err := c.store.Get(ctx, fp)
	if err != nil {
		if errors.Is(err, ErrMiss) {
			return nil, ErrMiss
		}
		return nil, common.NewCacheUnavailableError("modification cache read failed", err)
	}
	if entry.Expired(c.now()) {
		if err := c.store.Delete(ctx, fp); err != nil {
			common.LogWarn("刪除過期快取失敗", zap.String("fingerprint", fp.Short()), zap.Error(err))
		}
		return nil, ErrMiss
	}
	return entry, nil
}

// GetOrCompute 命中時直接回傳；未命中時同一 fingerprint 只執行一次 compute，
// 其他呼叫端等待同一結果。失敗不寫入快取，並回傳給所有等待者。
func (c *ResponseCache) GetOrCompute(ctx context.Context, fp fingerprint.Fingerprint, meta Meta, compute ComputeFunc) (*Result, error) {
	if entry, ok := c.lookupDegraded(ctx, fp); ok {
		c.metrics.CacheLookup("hit")
		common.LogCacheHit("modification", fp.Short())
		return &Result{Entry: entry, Source: SourceCache}, nil
	}

	c.mu.Lock()
	if f, ok := c.inflight[fp]; ok {
		f.waiters++
		c.mu.Unlock()
		c.metrics.CacheLookup("shared")
		common.LogDebug("加入進行中的計算", zap.String("fingerprint", fp.Short()))
		return c.wait(ctx, fp, f, true)
	}

	st, ok := c.recipes[meta.RecipeID]
	if !ok {
		st = &recipeEpoch{}
		c.recipes[meta.RecipeID] = st
	}
	st.active++

	computeCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f := &flight{
		done:     make(chan struct{}),
		cancel:   cancel,
		waiters:  1,
		recipeID: meta.RecipeID,
		epoch:    st.epoch,
	}
	c.inflight[fp] = f
	c.mu.Unlock()

	c.metrics.CacheLookup("miss")
	common.LogCacheMiss("modification", fp.Short())
	go c.run(computeCtx, fp, meta, f, compute)
	return c.wait(ctx, fp, f, false)
}

// lookupDegraded 讀取失敗視為未命中
func (c *ResponseCache) lookupDegraded(ctx context.Context, fp fingerprint.Fingerprint) (*Entry, bool) {
	entry, err := c.Lookup(ctx, fp)
	if err == nil {
		return entry, true
	}
	if !errors.Is(err, ErrMiss) {
		c.metrics.CacheLookup("error")
		common.LogWarn("快取讀取失敗，視為未命中",
			zap.String("fingerprint", fp.Short()),
			zap.Error(err),
		)
	}
	return nil, false
}

func (c *ResponseCache) wait(ctx context.Context, fp fingerprint.Fingerprint, f *flight, joined bool) (*Result, error) {
	select {
	case <-f.done:
		if f.err != nil {
			return nil, f.err
		}
		source := f.source
		if joined {
			source = SourceShared
		}
		return &Result{Entry: f.entry, Source: source}, nil
	case <-ctx.Done():
		c.leave(fp, f)
		return nil, ctx.Err()
	}
}

// leave 等待者離開；最後一位離開時取消計算並移除 flight，之後的請求會重新計算
func (c *ResponseCache) leave(fp fingerprint.Fingerprint, f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if c.inflight[fp] == f {
		delete(c.inflight, fp)
	}
	common.LogDebug("所有等待者已離開，取消計算", zap.String("fingerprint", fp.Short()))
}

func (c *ResponseCache) run(ctx context.Context, fp fingerprint.Fingerprint, meta Meta, f *flight, compute ComputeFunc) {
	c.metrics.InflightAdd(1)
	defer c.metrics.InflightAdd(-1)
	defer f.cancel()

	entry, source, err := c.execute(ctx, fp, meta, f, compute)
	f.entry, f.source, f.err = entry, source, err

	c.mu.Lock()
	if c.inflight[fp] == f {
		delete(c.inflight, fp)
	}
	if st, ok := c.recipes[f.recipeID]; ok {
		st.active--
		if st.active <= 0 {
			delete(c.recipes, f.recipeID)
		}
	}
	c.mu.Unlock()
	close(f.done)
}

// stale 計算開始後食譜是否已被失效
func (c *ResponseCache) stale(f *flight) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.recipes[f.recipeID]
	return ok && st.epoch != f.epoch
}

func (c *ResponseCache) execute(ctx context.Context, fp fingerprint.Fingerprint, meta Meta, f *flight, compute ComputeFunc) (entry *Entry, source Source, err error) {
	defer func() {
		if r := recover(); r != nil {
			common.LogError("計算過程發生 panic", zap.String("fingerprint", fp.Short()), zap.Any("panic", r))
			entry, source, err = nil, "", fmt.Errorf("modification computation panicked: %v", r)
		}
	}()

	// 前一個 flight 可能在本次查詢與登記之間完成
	if cached, ok := c.lookupDegraded(ctx, fp); ok {
		return cached, SourceCache, nil
	}

	delta, err := compute(ctx)
	if err != nil {
		return nil, "", err
	}
	if delta == nil {
		return nil, "", common.NewProcessingError("computation returned no result", nil)
	}

	now := c.now()
	entry = &Entry{
		Fingerprint: fp,
		RecipeID:    meta.RecipeID,
		Preferences: meta.Preferences,
		Result:      delta,
		CreatedAt:   now,
		ExpiresAt:   now.Add(c.ttl),
	}

	// 計算期間食譜已失效：結果只交給既有等待者，不寫入快取
	if c.stale(f) {
		common.LogInfo("食譜已在計算期間失效，略過快取寫入",
			zap.String("fingerprint", fp.Short()),
			zap.String("recipe_id", meta.RecipeID),
		)
		return entry, SourceComputed, nil
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := c.store.Set(writeCtx, entry); err != nil {
		c.metrics.CacheWriteFailed()
		common.LogError("快取寫入失敗，結果仍回傳但無法去重",
			zap.String("fingerprint", fp.Short()),
			zap.String("recipe_id", meta.RecipeID),
			zap.Error(common.NewCacheUnavailableError("modification cache write failed", err)),
		)
		return entry, SourceComputed, nil
	}
	// 檢查與寫入之間發生失效時撤回剛寫入的條目
	if c.stale(f) {
		if err := c.store.Delete(writeCtx, fp); err != nil {
			common.LogWarn("撤回失效條目失敗", zap.String("fingerprint", fp.Short()), zap.Error(err))
		}
	}
	return entry, SourceComputed, nil
}

// Invalidate 立即移除條目
func (c *ResponseCache) Invalidate(ctx context.Context, fp fingerprint.Fingerprint) error {
	if err := c.store.Delete(ctx, fp); err != nil {
		return common.NewCacheUnavailableError("modification cache invalidation failed", err)
	}
	return nil
}

// InvalidateRecipe 移除某食譜的所有條目，用於食譜被修改之後。
// 進行中的計算會脫離 inflight，之後的請求重新計算，舊計算的結果不寫入快取。
func (c *ResponseCache) InvalidateRecipe(ctx context.Context, recipeID string) (int, error) {
	c.mu.Lock()
	if st, ok := c.recipes[recipeID]; ok {
		st.epoch++
	}
	detached := 0
	for fp, f := range c.inflight {
		if f.recipeID == recipeID {
			delete(c.inflight, fp)
			detached++
		}
	}
	c.mu.Unlock()
	if detached > 0 {
		common.LogDebug("進行中的計算已脫離", zap.String("recipe_id", recipeID), zap.Int("count", detached))
	}

	n, err := c.store.DeleteByRecipe(ctx, recipeID)
	if err != nil {
		return 0, common.NewCacheUnavailableError("modification cache invalidation failed", err)
	}
	if n > 0 {
		common.LogInfo("食譜快取已失效", zap.String("recipe_id", recipeID), zap.Int("count", n))
	}
	return n, nil
}

// InFlight 目前進行中的計算數
func (c *ResponseCache) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}

// Ping 檢查儲存後端
func (c *ResponseCache) Ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}

// Close 關閉儲存後端
func (c *ResponseCache) Close() error {
	return c.store.Close()
}
