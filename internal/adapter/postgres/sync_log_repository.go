package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/creatorsync/internal/domain"
)

type SyncLogRepo struct {
	pool *pgxpool.Pool
}

var _ domain.SyncLogRepository = (*SyncLogRepo)(nil)

func NewSyncLogRepo(pool *pgxpool.Pool) *SyncLogRepo {
	return &SyncLogRepo{pool: pool}
}

func (r *SyncLogRepo) Append(ctx context.Context, e domain.SyncLogEntry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sync_logs (connection_id, platform, sync_type, status, items_synced, error_message,
			error_code, rate_limit_hit, started_at, completed_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ConnectionID, string(e.Platform), string(e.SyncType), string(e.Status), e.ItemsSynced,
		e.ErrorMessage, e.ErrorCode, e.RateLimitHit, e.StartedAt, e.CompletedAt, e.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to append sync log: %w", err)
	}
	return nil
}
