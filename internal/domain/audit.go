package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type SyncType string

const (
	SyncTypeProfile SyncType = "profile"
	SyncTypeContent SyncType = "content"
)

type SyncStatus string

const (
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusFailed  SyncStatus = "failed"
)

// SyncLogEntry is one append-only audit row per sync step.
type SyncLogEntry struct {
	ID           uuid.UUID
	ConnectionID uuid.UUID
	Platform     Platform
	SyncType     SyncType
	Status       SyncStatus
	ItemsSynced  int
	ErrorMessage string
	ErrorCode    string
	RateLimitHit bool
	StartedAt    time.Time
	CompletedAt  time.Time
	Duration     time.Duration
}

type SyncLogRepository interface {
	Append(ctx context.Context, entry SyncLogEntry) error
}
