package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncMetrics_Counters(t *testing.T) {
	m := NewSyncMetrics(prometheus.NewRegistry())

	m.AttemptFinished("tiktok", "success")
	m.AttemptFinished("tiktok", "success")
	m.AttemptFinished("tiktok", "failed")
	m.RateLimited("tiktok")
	m.TokenRefreshed("youtube", "refreshed")
	m.ContentSynced("instagram", 25)
	m.AuditWriteFailed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Attempts.WithLabelValues("tiktok", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Attempts.WithLabelValues("tiktok", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimits.WithLabelValues("tiktok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TokenRefresh.WithLabelValues("youtube", "refreshed")))
	assert.Equal(t, 25.0, testutil.ToFloat64(m.ItemsSynced.WithLabelValues("instagram")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditFailures))
}

func TestSyncMetrics_PlatformRunDuration(t *testing.T) {
	m := NewSyncMetrics(prometheus.NewRegistry())

	m.PlatformRunFinished("youtube", 90*time.Second)

	assert.Equal(t, 1, testutil.CollectAndCount(m.PlatformRuns))
}

func TestBreakerMetrics_Observe(t *testing.T) {
	m := NewBreakerMetrics(prometheus.NewRegistry())

	m.Observe("tiktok", gobreaker.StateClosed, gobreaker.StateOpen)
	m.Observe("tiktok", gobreaker.StateOpen, gobreaker.StateHalfOpen)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.StateChanges.WithLabelValues("tiktok", "open")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StateChanges.WithLabelValues("tiktok", "half-open")))
	assert.Equal(t, float64(gobreaker.StateHalfOpen), testutil.ToFloat64(m.State.WithLabelValues("tiktok")))
}

func TestHandler_ServesRegistry(t *testing.T) {
	reg := NewRegistry()
	m := NewSyncMetrics(reg)
	m.RateLimited("instagram")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `creatorsync_sync_rate_limits_total{platform="instagram"} 1`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
