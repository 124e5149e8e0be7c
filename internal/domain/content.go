package domain

import (
	"time"

	"github.com/google/uuid"
)

// ContentData is a post or video normalized into the canonical field names.
type ContentData struct {
	ExternalID     string
	Caption        string
	MediaType      string
	MediaURL       string
	ThumbnailURL   string
	Permalink      string
	Likes          int64
	Comments       int64
	Shares         int64
	Saves          int64
	Views          int64
	Reach          int64
	Impressions    int64
	EngagementRate float64
	PostedAt       time.Time
}

// ContentItem is unique on (Platform, ExternalID).
type ContentItem struct {
	ContentData

	ID           uuid.UUID
	ProfileID    uuid.UUID
	Platform     Platform
	LastSyncedAt time.Time
}

// EngagementRate is (likes+comments+shares) per hundred views, reach or impressions.
// A non-positive denominator yields 0.
func EngagementRate(likes, comments, shares, denominator int64) float64 {
	if denominator <= 0 {
		return 0
	}
	return float64(likes+comments+shares) / float64(denominator) * 100
}
