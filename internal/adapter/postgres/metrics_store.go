package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/creatorsync/internal/domain"
)

const profileColumns = `id, connection_id, platform, external_id, handle, display_name, bio, profile_image_url,
	follower_count, following_count, post_count, is_verified, content_ref, last_synced_at`

// MetricsStore persists profiles, content items and metric snapshots.
type MetricsStore struct {
	pool *pgxpool.Pool
}

var _ domain.MetricsStore = (*MetricsStore)(nil)

func NewMetricsStore(pool *pgxpool.Pool) *MetricsStore {
	return &MetricsStore{pool: pool}
}

func scanProfile(row pgx.Row) (*domain.Profile, error) {
	var (
		p        domain.Profile
		platform string
	)
	err := row.Scan(&p.ID, &p.ConnectionID, &platform, &p.ExternalID, &p.Handle, &p.DisplayName, &p.Bio,
		&p.ProfileImageURL, &p.FollowerCount, &p.FollowingCount, &p.PostCount, &p.IsVerified, &p.ContentRef,
		&p.LastSyncedAt)
	if err != nil {
		return nil, err
	}
	p.Platform = domain.Platform(platform)
	return &p, nil
}

// UpsertProfile writes the profile for conn, keyed by connection.
func (s *MetricsStore) UpsertProfile(ctx context.Context, conn *domain.Connection, data domain.ProfileData, at time.Time) (*domain.Profile, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO social_profiles (connection_id, platform, external_id, handle, display_name, bio,
			profile_image_url, follower_count, following_count, post_count, is_verified, content_ref, last_synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (connection_id) DO UPDATE SET
			external_id       = EXCLUDED.external_id,
			handle            = EXCLUDED.handle,
			display_name      = EXCLUDED.display_name,
			bio               = EXCLUDED.bio,
			profile_image_url = EXCLUDED.profile_image_url,
			follower_count    = EXCLUDED.follower_count,
			following_count   = EXCLUDED.following_count,
			post_count        = EXCLUDED.post_count,
			is_verified       = EXCLUDED.is_verified,
			content_ref       = EXCLUDED.content_ref,
			last_synced_at    = EXCLUDED.last_synced_at,
			updated_at        = now()
		RETURNING `+profileColumns,
		conn.ID, string(conn.Platform), data.ExternalID, data.Handle, data.DisplayName, data.Bio,
		data.ProfileImageURL, data.FollowerCount, data.FollowingCount, data.PostCount, data.IsVerified,
		data.ContentRef, at)

	p, err := scanProfile(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert profile: %w", err)
	}
	return p, nil
}

func (s *MetricsStore) GetProfileByConnection(ctx context.Context, connectionID uuid.UUID) (*domain.Profile, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM social_profiles WHERE connection_id = $1`, connectionID)
	p, err := scanProfile(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// UpsertContentItem writes one post, keyed by (platform, external_id).
// A re-sync refreshes counts and engagement and keeps the original row id.
func (s *MetricsStore) UpsertContentItem(ctx context.Context, profile *domain.Profile, item domain.ContentData, at time.Time) (*domain.ContentItem, error) {
	var postedAt *time.Time
	if !item.PostedAt.IsZero() {
		postedAt = &item.PostedAt
	}

	out := domain.ContentItem{ContentData: item, ProfileID: profile.ID, Platform: profile.Platform, LastSyncedAt: at}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO content_items (profile_id, platform, external_id, caption, media_type, media_url,
			thumbnail_url, permalink, likes, comments, shares, saves, views, reach, impressions,
			engagement_rate, posted_at, last_synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (platform, external_id) DO UPDATE SET
			profile_id      = EXCLUDED.profile_id,
			caption         = EXCLUDED.caption,
			media_url       = EXCLUDED.media_url,
			thumbnail_url   = EXCLUDED.thumbnail_url,
			permalink       = EXCLUDED.permalink,
			likes           = EXCLUDED.likes,
			comments        = EXCLUDED.comments,
			shares          = EXCLUDED.shares,
			saves           = EXCLUDED.saves,
			views           = EXCLUDED.views,
			reach           = EXCLUDED.reach,
			impressions     = EXCLUDED.impressions,
			engagement_rate = EXCLUDED.engagement_rate,
			last_synced_at  = EXCLUDED.last_synced_at,
			updated_at      = now()
		RETURNING id`,
		profile.ID, string(profile.Platform), item.ExternalID, item.Caption, item.MediaType, item.MediaURL,
		item.ThumbnailURL, item.Permalink, item.Likes, item.Comments, item.Shares, item.Saves, item.Views,
		item.Reach, item.Impressions, item.EngagementRate, postedAt, at,
	).Scan(&out.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert content item %s: %w", item.ExternalID, err)
	}
	return &out, nil
}

// AppendSnapshots inserts all points in one round trip.
func (s *MetricsStore) AppendSnapshots(ctx context.Context, snapshots []domain.MetricSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, snap := range snapshots {
		batch.Queue(`
			INSERT INTO metric_snapshots (profile_id, platform, metric_type, value, snapshot_at)
			VALUES ($1, $2, $3, $4, $5)`,
			snap.ProfileID, string(snap.Platform), string(snap.MetricType), snap.Value, snap.SnapshotAt)
	}

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to append metric snapshots: %w", err)
	}
	return nil
}
