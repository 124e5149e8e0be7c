package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SyncMetrics holds Prometheus metrics for the platform sync loop.
type SyncMetrics struct {
	Attempts      *prometheus.CounterVec
	RateLimits    *prometheus.CounterVec
	TokenRefresh  *prometheus.CounterVec
	ItemsSynced   *prometheus.CounterVec
	PlatformRuns  *prometheus.HistogramVec
	AuditFailures prometheus.Counter
}

// NewSyncMetrics creates and registers sync metrics on the given registry.
func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	m := &SyncMetrics{
		Attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "attempts_total",
			Help:      "Total number of per-connection sync attempts, by platform and outcome.",
		}, []string{"platform", "outcome"}),
		RateLimits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "rate_limits_total",
			Help:      "Total number of provider rate limit responses that stopped a platform run.",
		}, []string{"platform"}),
		TokenRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tokens",
			Name:      "refreshes_total",
			Help:      "Total number of token refreshes, by platform and result.",
		}, []string{"platform", "result"}),
		ItemsSynced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "content_items_total",
			Help:      "Total number of content items upserted, by platform.",
		}, []string{"platform"}),
		PlatformRuns: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "platform_run_duration_seconds",
			Help:      "Duration of a full platform sync run in seconds.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"platform"}),
		AuditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "audit_write_failures_total",
			Help:      "Total number of sync log entries that could not be written.",
		}),
	}

	reg.MustRegister(m.Attempts, m.RateLimits, m.TokenRefresh, m.ItemsSynced, m.PlatformRuns, m.AuditFailures)
	return m
}

func (m *SyncMetrics) AttemptFinished(platform, outcome string) {
	m.Attempts.WithLabelValues(platform, outcome).Inc()
}

func (m *SyncMetrics) RateLimited(platform string) {
	m.RateLimits.WithLabelValues(platform).Inc()
}

func (m *SyncMetrics) TokenRefreshed(platform, result string) {
	m.TokenRefresh.WithLabelValues(platform, result).Inc()
}

func (m *SyncMetrics) ContentSynced(platform string, items int) {
	m.ItemsSynced.WithLabelValues(platform).Add(float64(items))
}

func (m *SyncMetrics) PlatformRunFinished(platform string, d time.Duration) {
	m.PlatformRuns.WithLabelValues(platform).Observe(d.Seconds())
}

func (m *SyncMetrics) AuditWriteFailed() {
	m.AuditFailures.Inc()
}
