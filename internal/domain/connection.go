package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Connection links one owner to one platform account. At most one exists per (OwnerID, Platform).
type Connection struct {
	ID           uuid.UUID
	OwnerID      string
	Platform     Platform
	Handle       string
	ExternalID   string
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time // nil means the token does not expire
	Connected    bool
	LastSyncedAt *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (c *Connection) Credentials() Credentials {
	return Credentials{AccessToken: c.AccessToken, RefreshToken: c.RefreshToken}
}

// Credentials is what a provider needs to refresh or revoke a grant.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

// TokenSet is the result of a code exchange or a refresh.
// ExpiresIn of zero means the provider issued a non-expiring token.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// ExpiresAt resolves ExpiresIn against now.
func (t TokenSet) ExpiresAt(now time.Time) *time.Time {
	if t.ExpiresIn <= 0 {
		return nil
	}
	at := now.Add(t.ExpiresIn)
	return &at
}

// ConnectionUpsert carries the fields written on a successful OAuth callback.
type ConnectionUpsert struct {
	OwnerID      string
	Platform     Platform
	Handle       string
	ExternalID   string
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

type ConnectionRepository interface {
	Upsert(ctx context.Context, c ConnectionUpsert) (*Connection, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Connection, error)
	GetByOwner(ctx context.Context, ownerID string, platform Platform) (*Connection, error)
	ListConnected(ctx context.Context, platform Platform) ([]Connection, error)
	UpdateTokens(ctx context.Context, id uuid.UUID, accessToken, refreshToken string, expiresAt *time.Time) error
	MarkSynced(ctx context.Context, id uuid.UUID, at time.Time) error
	Disconnect(ctx context.Context, id uuid.UUID) error
}
