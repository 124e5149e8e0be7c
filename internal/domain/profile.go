package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ProfileData is a provider profile normalized into the canonical field names.
type ProfileData struct {
	ExternalID      string
	Handle          string
	DisplayName     string
	Bio             string
	ProfileImageURL string
	FollowerCount   int64
	FollowingCount  int64
	PostCount       int64
	IsVerified      bool

	// ContentRef is what FetchContent needs to list this profile's content
	// (the uploads playlist on YouTube). Empty when the provider needs nothing.
	ContentRef string
}

// Profile is the stored snapshot for a connection (1:1, keyed by ConnectionID).
type Profile struct {
	ProfileData

	ID           uuid.UUID
	ConnectionID uuid.UUID
	Platform     Platform
	LastSyncedAt time.Time
}

type MetricType string

const (
	MetricFollowerCount  MetricType = "follower_count"
	MetricFollowingCount MetricType = "following_count"
	MetricPostCount      MetricType = "post_count"
)

// MetricSnapshot is an append-only time series point.
type MetricSnapshot struct {
	ProfileID  uuid.UUID
	Platform   Platform
	MetricType MetricType
	Value      int64
	SnapshotAt time.Time
}

// Snapshots returns one point per tracked metric type.
func (p *Profile) Snapshots(at time.Time) []MetricSnapshot {
	values := []struct {
		metric MetricType
		value  int64
	}{
		{MetricFollowerCount, p.FollowerCount},
		{MetricFollowingCount, p.FollowingCount},
		{MetricPostCount, p.PostCount},
	}

	snapshots := make([]MetricSnapshot, 0, len(values))
	for _, v := range values {
		snapshots = append(snapshots, MetricSnapshot{
			ProfileID:  p.ID,
			Platform:   p.Platform,
			MetricType: v.metric,
			Value:      v.value,
			SnapshotAt: at,
		})
	}
	return snapshots
}

// MetricsStore persists profiles, content items and metric snapshots.
// Both upserts are idempotent under repeated identical input.
type MetricsStore interface {
	UpsertProfile(ctx context.Context, conn *Connection, data ProfileData, at time.Time) (*Profile, error)
	GetProfileByConnection(ctx context.Context, connectionID uuid.UUID) (*Profile, error)
	UpsertContentItem(ctx context.Context, profile *Profile, item ContentData, at time.Time) (*ContentItem, error)
	AppendSnapshots(ctx context.Context, snapshots []MetricSnapshot) error
}
