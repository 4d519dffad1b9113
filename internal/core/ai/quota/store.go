package quota

import (
	"context"
	"sync"
)

// Counter 使用者在某個日期視窗內的計數
type Counter struct {
	UserID string
	Window string
	Count  int64
}

// ReserveResult Store.Reserve 的結果；Window 可能晚於呼叫端的日期，視窗永不倒退
type ReserveResult struct {
	Reserved bool
	Count    int64
	Window   string
}

// Store 計數的儲存後端；Reserve 對同一使用者必須是原子操作
type Store interface {
	// Reserve 若儲存的視窗早於 today 則歸零並改為 today；count >= limit 時不遞增
	Reserve(ctx context.Context, userID, today string, limit Limit) (ReserveResult, error)
	Load(ctx context.Context, userID string) (Counter, bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// MemoryStore 以單一鎖保護的記憶體計數；程序重啟後所有配額歸零
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*Counter
}

// NewMemoryStore 創建記憶體計數
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[string]*Counter)}
}

// Reserve 檢查並預留一次額度
func (s *MemoryStore) Reserve(_ context.Context, userID, today string, limit Limit) (ReserveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[userID]
	if !ok {
		c = &Counter{UserID: userID, Window: today}
		s.counters[userID] = c
	}
	if c.Window < today {
		c.Window = today
		c.Count = 0
	}
	if c.Count >= int64(limit) {
		return ReserveResult{Reserved: false, Count: c.Count, Window: c.Window}, nil
	}
	c.Count++
	return ReserveResult{Reserved: true, Count: c.Count, Window: c.Window}, nil
}

// Load 讀取計數副本
func (s *MemoryStore) Load(_ context.Context, userID string) (Counter, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[userID]
	if !ok {
		return Counter{}, false, nil
	}
	return *c, true, nil
}

// Seed 直接寫入既有計數
func (s *MemoryStore) Seed(c Counter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := c
	s.counters[c.UserID] = &cp
}

// Ping 記憶體計數永遠可用
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close 清空計數
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters = make(map[string]*Counter)
	return nil
}
