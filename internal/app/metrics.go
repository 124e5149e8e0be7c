package app

import "time"

// MetricsRecorder receives sync telemetry. adapter/metrics.SyncMetrics implements it.
type MetricsRecorder interface {
	AttemptFinished(platform, outcome string)
	RateLimited(platform string)
	TokenRefreshed(platform, result string)
	ContentSynced(platform string, items int)
	PlatformRunFinished(platform string, d time.Duration)
	AuditWriteFailed()
}

type noopMetrics struct{}

func (noopMetrics) AttemptFinished(string, string)            {}
func (noopMetrics) RateLimited(string)                        {}
func (noopMetrics) TokenRefreshed(string, string)             {}
func (noopMetrics) ContentSynced(string, int)                 {}
func (noopMetrics) PlatformRunFinished(string, time.Duration) {}
func (noopMetrics) AuditWriteFailed()                         {}

func orNoop(m MetricsRecorder) MetricsRecorder {
	if m == nil {
		return noopMetrics{}
	}
	return m
}
