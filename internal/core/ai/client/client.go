package client

import (
	"context"
	"errors"
	"time"

	"recipe-modifier/internal/core/ai/provider"
	"recipe-modifier/internal/infrastructure/metrics"
	"recipe-modifier/internal/pkg/common"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Config 模型呼叫與重試設定
type Config struct {
	Model          string
	MaxTokens      int
	Temperature    float64
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
}

// DefaultConfig 預設值：共 3 次嘗試、500ms 起始退避、最長 8s、每次 30s 逾時
func DefaultConfig() Config {
	return Config{
		MaxTokens:      2048,
		Temperature:    0.7,
		MaxAttempts:    3,
		BaseDelay:      500 * time.Millisecond,
		MaxDelay:       8 * time.Second,
		AttemptTimeout: 30 * time.Second,
	}
}

// RequestConfig 單次呼叫覆寫的參數，零值沿用 Config
type RequestConfig struct {
	Model       string
	MaxTokens   int
	Temperature *float64
}

// RawOutput 模型的原始輸出
type RawOutput struct {
	Content  string
	Model    string
	Attempts int
	Usage    provider.Usage
}

// Client 包裝 Provider，負責逾時、錯誤分類與退避重試
type Client struct {
	provider provider.Provider
	cfg      Config
	metrics  *metrics.Metrics
}

// New 創建模型客戶端；m 可為 nil
func New(p provider.Provider, cfg Config, m *metrics.Metrics) *Client {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	return &Client{provider: p, cfg: cfg, metrics: m}
}

// ProviderName 底層提供者名稱
func (c *Client) ProviderName() string {
	return c.provider.Name()
}

// newExponential 指數退避：第 n 次延遲為 min(max, base*2^n) * [0.5, 1.5]
func (c *Client) newExponential() *backoff.ExponentialBackOff {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.cfg.BaseDelay
	expo.Multiplier = 2
	expo.RandomizationFactor = 0.5
	expo.MaxInterval = c.cfg.MaxDelay
	expo.MaxElapsedTime = 0
	expo.Reset()
	return expo
}

func (c *Client) newBackOff(ctx context.Context) backoff.BackOff {
	return backoff.WithContext(backoff.WithMaxRetries(c.newExponential(), uint64(c.cfg.MaxAttempts-1)), ctx)
}

// Invoke 送出 system + user 請求；只重試 RateLimit/Network/Timeout，
// 重試耗盡後回傳 ExternalServiceError，呼叫端取消時回傳 ctx 錯誤
func (c *Client) Invoke(ctx context.Context, prompt provider.Prompt, rc RequestConfig) (*RawOutput, error) {
	req := c.buildRequest(prompt, rc)
	name := c.provider.Name()

	var (
		attempts int
		resp     *provider.Response
		lastErr  error
	)
	start := time.Now()

	op := func() error {
		attempts++
		r, err := c.attempt(ctx, req)
		if err == nil {
			c.metrics.AIAttempt(name, "ok")
			resp = r
			return nil
		}
		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			c.metrics.AIAttempt(name, "canceled")
			return backoff.Permanent(ctxErr)
		}
		kind := common.KindOf(err)
		c.metrics.AIAttempt(name, kind.String())
		if !kind.Retryable() {
			return backoff.Permanent(err)
		}
		common.LogWarn("AI 呼叫失敗，準備重試",
			zap.String("provider", name),
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", c.cfg.MaxAttempts),
			zap.String("kind", kind.String()),
			zap.Error(err),
		)
		return err
	}

	err := backoff.Retry(op, c.newBackOff(ctx))
	duration := time.Since(start)
	c.metrics.AIInvoke(name, duration)
	common.LogAICall(req.Model, attempts, duration, err)

	if err == nil {
		return &RawOutput{
			Content:  resp.Content,
			Model:    resp.Model,
			Attempts: attempts,
			Usage:    resp.Usage,
		}, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if lastErr == nil {
		lastErr = err
	}
	kind := common.KindOf(lastErr)
	if kind.Retryable() {
		return nil, common.NewExternalServiceError(attempts, lastErr)
	}
	return nil, withAttempts(lastErr, attempts)
}

func (c *Client) buildRequest(prompt provider.Prompt, rc RequestConfig) *provider.Request {
	model := c.cfg.Model
	if rc.Model != "" {
		model = rc.Model
	}
	maxTokens := c.cfg.MaxTokens
	if rc.MaxTokens > 0 {
		maxTokens = rc.MaxTokens
	}
	temperature := c.cfg.Temperature
	if rc.Temperature != nil {
		temperature = *rc.Temperature
	}
	return provider.NewRequest(model, prompt, maxTokens, temperature)
}

// attempt 單次呼叫，套用每次嘗試的逾時並將未分類錯誤正規化
func (c *Client) attempt(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
	defer cancel()

	resp, err := c.provider.Generate(attemptCtx, req)
	if err != nil {
		var ce *common.CustomError
		if errors.As(err, &ce) && ce.Kind != common.KindUnknown {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, provider.TransportError(c.provider.Name(), err)
	}
	if resp == nil {
		return nil, common.NewKindError(common.KindModel, "provider returned no response", nil)
	}
	return resp, nil
}

// withAttempts 在錯誤副本上記錄嘗試次數，避免修改共享的錯誤值
func withAttempts(err error, attempts int) error {
	var ce *common.CustomError
	if !errors.As(err, &ce) {
		return err
	}
	cp := *ce
	cp.Attempts = attempts
	return &cp
}
