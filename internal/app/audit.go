package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/creatorsync/internal/domain"
)

const auditWriteTimeout = 5 * time.Second

// AuditLog writes one sync_logs row per sync step. Writes are best-effort:
// a failed write is logged and counted, never returned.
type AuditLog struct {
	repo    domain.SyncLogRepository
	clock   clockwork.Clock
	metrics MetricsRecorder
}

func NewAuditLog(repo domain.SyncLogRepository, clock clockwork.Clock, metrics MetricsRecorder) *AuditLog {
	return &AuditLog{repo: repo, clock: clock, metrics: orNoop(metrics)}
}

func (a *AuditLog) Record(ctx context.Context, conn *domain.Connection, syncType domain.SyncType, itemsSynced int, startedAt time.Time, err error) {
	completedAt := a.clock.Now()
	duration := completedAt.Sub(startedAt)
	if duration < 0 {
		duration = 0
	}

	entry := domain.SyncLogEntry{
		ConnectionID: conn.ID,
		Platform:     conn.Platform,
		SyncType:     syncType,
		Status:       domain.SyncStatusSuccess,
		ItemsSynced:  itemsSynced,
		StartedAt:    startedAt,
		CompletedAt:  completedAt,
		Duration:     duration,
	}
	if err != nil {
		entry.Status = domain.SyncStatusFailed
		entry.ErrorMessage = err.Error()
		entry.ErrorCode = domain.ErrorCode(err)
		entry.RateLimitHit = domain.IsRateLimit(err)
	}

	// The attempt may have been cancelled; its log entry still has to land.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()

	if werr := a.repo.Append(writeCtx, entry); werr != nil {
		a.metrics.AuditWriteFailed()
		slog.ErrorContext(ctx, "Failed to write sync log",
			"platform", conn.Platform,
			"connection_id", conn.ID,
			"sync_type", syncType,
			"error", werr)
	}
}
