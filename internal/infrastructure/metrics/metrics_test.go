package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CacheLookup("hit")
		m.CacheWriteFailed()
		m.InflightAdd(1)
		m.QuotaDecision("reserved")
		m.AIAttempt("fake", "ok")
		m.AIInvoke("fake", time.Second)
		m.Modification("computed")
		m.ObserveHTTP("/x", "GET", "200", time.Millisecond)
	})
}

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.CacheLookup("hit")
	m.CacheLookup("hit")
	m.CacheLookup("miss")
	m.QuotaDecision("exceeded")

	families, err := m.Gatherer().Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			if metric.GetCounter() == nil {
				continue
			}
			name := mf.GetName()
			for _, lp := range metric.GetLabel() {
				name += "/" + lp.GetValue()
			}
			values[name] = metric.GetCounter().GetValue()
		}
	}
	assert.Equal(t, 2.0, values["recipe_modifier_cache_lookups_total/hit"])
	assert.Equal(t, 1.0, values["recipe_modifier_cache_lookups_total/miss"])
	assert.Equal(t, 1.0, values["recipe_modifier_quota_decisions_total/exceeded"])
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Modification("cache")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `recipe_modifier_modification_requests_total{outcome="cache"} 1`)
}
