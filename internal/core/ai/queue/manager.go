package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"recipe-modifier/internal/core/ai/provider"
	"recipe-modifier/internal/pkg/common"

	"go.uber.org/zap"
)

// ErrClosed 隊列已關閉；回傳時包裝為不可重試的 Model 錯誤
var ErrClosed = errors.New("queue manager is closed")

func closedError() error {
	return common.NewKindError(common.KindModel, "provider queue is closed", ErrClosed)
}

// Request 隊列請求
type Request struct {
	Context context.Context
	Request *provider.Request
	Result  chan Result
}

// Result 處理結果
type Result struct {
	Response *provider.Response
	Error    error
}

// Status 隊列狀態
type Status struct {
	QueueLength    int   `json:"queue_length"`
	ProcessedCount int64 `json:"processed_count"`
	Busy           int64 `json:"busy"`
	MaxQueueSize   int   `json:"max_queue_size"`
	Workers        int   `json:"workers"`
}

// Options 隊列設定
type Options struct {
	// Workers 同時送往提供者的請求上限
	Workers int
	// MaxSize 等待中的請求上限，0 表示沒有空閒 worker 時直接拒絕
	MaxSize int
}

// Manager 以固定數量 worker 呼叫底層提供者，本身也實作 provider.Provider
type Manager struct {
	provider  provider.Provider
	opts      Options
	queue     chan *Request
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	processed atomic.Int64
	busy      atomic.Int64
}

// NewManager 創建新的隊列管理器並啟動 worker
func NewManager(p provider.Provider, opts Options) *Manager {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxSize < 0 {
		opts.MaxSize = 0
	}
	m := &Manager{
		provider: p,
		opts:     opts,
		queue:    make(chan *Request, opts.MaxSize),
		done:     make(chan struct{}),
	}
	for i := 0; i < opts.Workers; i++ {
		m.wg.Add(1)
		go m.worker(i)
	}
	return m
}

// Enqueue 將請求加入隊列；隊列已滿時回傳可重試的 RateLimit 錯誤
func (m *Manager) Enqueue(ctx context.Context, req *provider.Request) (<-chan Result, error) {
	select {
	case <-m.done:
		return nil, closedError()
	default:
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	queueReq := &Request{
		Context: ctx,
		Request: req,
		Result:  make(chan Result, 1),
	}

	select {
	case m.queue <- queueReq:
		common.LogDebug("Request enqueued",
			zap.Int("queue_length", len(m.queue)),
			zap.Int("max_queue_size", m.opts.MaxSize),
		)
		return queueReq.Result, nil
	default:
		common.LogWarn("Provider queue is full",
			zap.Int("queue_length", len(m.queue)),
			zap.Int("max_queue_size", m.opts.MaxSize),
			zap.Int("workers", m.opts.Workers),
		)
		return nil, common.NewKindError(common.KindRateLimit, "provider queue is full", nil)
	}
}

// Generate 排隊後呼叫底層提供者
func (m *Manager) Generate(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	result, err := m.Enqueue(ctx, req)
	if err != nil {
		return nil, err
	}
	select {
	case r := <-result:
		return r.Response, r.Error
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.done:
		return nil, closedError()
	}
}

func (m *Manager) worker(id int) {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		case req := <-m.queue:
			m.process(id, req)
		}
	}
}

func (m *Manager) process(id int, req *Request) {
	// 排隊期間呼叫端已放棄
	if err := req.Context.Err(); err != nil {
		req.Result <- Result{Error: err}
		return
	}

	m.busy.Add(1)
	defer m.busy.Add(-1)

	resp, err := m.provider.Generate(req.Context, req.Request)
	m.processed.Add(1)
	if err != nil {
		common.LogDebug("Queued request failed",
			zap.Int("worker", id),
			zap.Error(err),
		)
	}
	req.Result <- Result{Response: resp, Error: err}
}

// GetQueueStatus 獲取隊列狀態
func (m *Manager) GetQueueStatus() *Status {
	return &Status{
		QueueLength:    len(m.queue),
		ProcessedCount: m.processed.Load(),
		Busy:           m.busy.Load(),
		MaxQueueSize:   m.opts.MaxSize,
		Workers:        m.opts.Workers,
	}
}

// Name 回傳底層提供者名稱
func (m *Manager) Name() string {
	return m.provider.Name()
}

// Close 停止 worker 並關閉底層提供者；尚在隊列中的請求會收到 ErrClosed
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.done)
		m.wg.Wait()
		for {
			select {
			case req := <-m.queue:
				req.Result <- Result{Error: closedError()}
				continue
			default:
			}
			break
		}
		err = m.provider.Close()
	})
	return err
}
