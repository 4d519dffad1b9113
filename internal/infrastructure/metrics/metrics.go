package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "recipe_modifier"

// Metrics 服務的 Prometheus 指標；nil 接收者上的方法皆為 no-op，方便測試不注入指標
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	cacheLookups       *prometheus.CounterVec
	cacheWriteFailures prometheus.Counter
	inflight           prometheus.Gauge

	quotaDecisions *prometheus.CounterVec

	aiAttempts *prometheus.CounterVec
	aiDuration *prometheus.HistogramVec

	modifications *prometheus.CounterVec
}

// New 建立並註冊所有指標到獨立的 registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"route", "method"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Modification cache lookups by result (hit, miss, error, shared)",
		}, []string{"result"}),
		cacheWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_write_failures_total",
			Help:      "Computed modifications that could not be stored",
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_inflight_computations",
			Help:      "Modification computations currently in flight",
		}),
		quotaDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_decisions_total",
			Help:      "Daily quota reservations by outcome (reserved, exceeded, error)",
		}, []string{"outcome"}),
		aiAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_attempts_total",
			Help:      "Model provider call attempts by provider and outcome",
		}, []string{"provider", "outcome"}),
		aiDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ai_invoke_duration_seconds",
			Help:      "Duration of a full model invocation including retries",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"provider"}),
		modifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "modification_requests_total",
			Help:      "Recipe modification requests by outcome",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.httpRequests, m.httpDuration,
		m.cacheLookups, m.cacheWriteFailures, m.inflight,
		m.quotaDecisions,
		m.aiAttempts, m.aiDuration,
		m.modifications,
	)
	return m
}

// Handler /metrics 端點
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Gatherer 供測試讀取指標
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// ObserveHTTP 記錄一次 HTTP 請求
func (m *Metrics) ObserveHTTP(route, method, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, status).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

// CacheLookup 記錄快取查詢結果
func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// CacheWriteFailed 記錄一次快取寫入失敗
func (m *Metrics) CacheWriteFailed() {
	if m == nil {
		return
	}
	m.cacheWriteFailures.Inc()
}

// InflightAdd 調整進行中的計算數
func (m *Metrics) InflightAdd(delta float64) {
	if m == nil {
		return
	}
	m.inflight.Add(delta)
}

// QuotaDecision 記錄配額判定
func (m *Metrics) QuotaDecision(outcome string) {
	if m == nil {
		return
	}
	m.quotaDecisions.WithLabelValues(outcome).Inc()
}

// AIAttempt 記錄單次模型呼叫
func (m *Metrics) AIAttempt(provider, outcome string) {
	if m == nil {
		return
	}
	m.aiAttempts.WithLabelValues(provider, outcome).Inc()
}

// AIInvoke 記錄整次模型呼叫（含重試）的耗時
func (m *Metrics) AIInvoke(provider string, d time.Duration) {
	if m == nil {
		return
	}
	m.aiDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// Modification 記錄修改請求的結果
func (m *Metrics) Modification(outcome string) {
	if m == nil {
		return
	}
	m.modifications.WithLabelValues(outcome).Inc()
}
