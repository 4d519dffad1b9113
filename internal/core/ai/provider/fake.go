package provider

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Step Fake 提供者的一次預設回應
type Step struct {
	Content string
	Err     error
	Delay   time.Duration
}

// Fake 依腳本回應的提供者，供測試替身使用；腳本用完後重複最後一步
type Fake struct {
	mu       sync.Mutex
	steps    []Step
	requests []*Request
	calls    atomic.Int64
}

// NewFake 創建腳本化提供者
func NewFake(steps ...Step) *Fake {
	return &Fake{steps: steps}
}

// Generate 依序回傳腳本中的結果，Delay 期間會尊重 ctx 取消
func (f *Fake) Generate(ctx context.Context, req *Request) (*Response, error) {
	n := f.calls.Add(1)

	f.mu.Lock()
	f.requests = append(f.requests, req)
	var step Step
	if len(f.steps) > 0 {
		idx := int(n - 1)
		if idx >= len(f.steps) {
			idx = len(f.steps) - 1
		}
		step = f.steps[idx]
	}
	f.mu.Unlock()

	if step.Delay > 0 {
		timer := time.NewTimer(step.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return &Response{Content: step.Content, Model: req.Model, FinishReason: "stop"}, nil
}

// Calls 目前的呼叫次數
func (f *Fake) Calls() int {
	return int(f.calls.Load())
}

// Requests 收到的請求副本
func (f *Fake) Requests() []*Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Request, len(f.requests))
	copy(out, f.requests)
	return out
}

// Name 提供者名稱
func (f *Fake) Name() string { return "fake" }

// Close 無資源需要釋放
func (f *Fake) Close() error { return nil }
