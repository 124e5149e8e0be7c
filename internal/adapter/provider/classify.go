package provider

import (
	"github.com/pscheid92/creatorsync/internal/domain"
	"github.com/pscheid92/creatorsync/internal/platform/retry"
)

// Classify is the retry policy for provider calls. Rate limits are never
// retried in-process: they must reach the orchestrator to stop the run.
func Classify(err error) retry.Action {
	switch {
	case domain.IsRateLimit(err):
		return retry.Stop
	case IsTransient(err):
		return retry.Retry
	default:
		return retry.Stop
	}
}
