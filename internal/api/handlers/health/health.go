package health

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"recipe-modifier/internal/core/ai/queue"
	"recipe-modifier/internal/pkg/common"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Checker 依賴檢查
type Checker interface {
	Ping(ctx context.Context) error
}

// CheckerFunc 將函式轉為 Checker
type CheckerFunc func(ctx context.Context) error

// Ping implements Checker
func (f CheckerFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthResponse 健康檢查響應
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Provider  string                 `json:"provider,omitempty"`
	Runtime   map[string]interface{} `json:"runtime"`
	Queue     *queue.Status          `json:"queue,omitempty"`
	InFlight  int                    `json:"inflight_computations"`
}

// Options 健康檢查設定
type Options struct {
	Version  string
	Provider string
	Queue    *queue.Manager
	InFlight func() int
	Checks   map[string]Checker
	Timeout  time.Duration
}

// Handler 健康檢查處理器
type Handler struct {
	opts Options
}

// NewHandler 創建健康檢查處理器
func NewHandler(opts Options) *Handler {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	return &Handler{opts: opts}
}

// HealthCheck 健康檢查處理器
func (h *Handler) HealthCheck(c *gin.Context) {
	// 獲取運行時信息
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   h.opts.Version,
		Provider:  h.opts.Provider,
		Runtime: map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"memory": map[string]interface{}{
				"alloc":       m.Alloc,
				"total_alloc": m.TotalAlloc,
				"sys":         m.Sys,
				"num_gc":      m.NumGC,
			},
		},
	}
	if h.opts.Queue != nil {
		response.Queue = h.opts.Queue.GetQueueStatus()
	}
	if h.opts.InFlight != nil {
		response.InFlight = h.opts.InFlight()
	}

	common.LogDebug("Health check request",
		zap.String("client_ip", c.ClientIP()),
		zap.String("path", c.Request.URL.Path),
	)

	c.JSON(http.StatusOK, response)
}

// ReadinessCheck 就緒檢查：快取與配額儲存都必須可用
func (h *Handler) ReadinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.opts.Timeout)
	defer cancel()

	checks := make(map[string]string, len(h.opts.Checks))
	ready := true
	for name, checker := range h.opts.Checks {
		if err := checker.Ping(ctx); err != nil {
			ready = false
			checks[name] = err.Error()
			common.LogWarn("Readiness check failed",
				zap.String("dependency", name),
				zap.Error(err),
			)
			continue
		}
		checks[name] = "ok"
	}

	if !ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not_ready",
			"checks": checks,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"checks": checks,
	})
}

// LivenessCheck 存活檢查處理器
func (h *Handler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "alive",
	})
}
