package domain

import (
	"context"
	"time"
)

// PlatformAdapter wraps one provider's OAuth and data endpoints.
// Every call receives the token it needs; adapters hold no per-owner state.
type PlatformAdapter interface {
	Platform() Platform
	AuthorizationURL(ownerID string) (string, error)
	ExchangeCode(ctx context.Context, code string) (*TokenSet, error)
	// RefreshToken picks the access or refresh token from creds, whichever the provider expects.
	RefreshToken(ctx context.Context, creds Credentials) (*TokenSet, error)
	FetchProfile(ctx context.Context, accessToken string) (*ProfileData, error)
	FetchContent(ctx context.Context, accessToken, profileRef string, limit int) ([]ContentData, error)
	RevokeToken(ctx context.Context, accessToken string) error
}

// SyncLease guards a connection against concurrent sync attempts.
type SyncLease interface {
	// TryAcquire returns ok=false when another holder owns key.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}
