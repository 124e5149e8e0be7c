package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/creatorsync/internal/domain"
	"github.com/pscheid92/creatorsync/internal/platform/retry"
	"golang.org/x/sync/singleflight"
)

const tokenWriteTimeout = 5 * time.Second

// RefreshPolicy decides when a platform's token is refreshed and what a failed refresh means.
type RefreshPolicy struct {
	// Window refreshes tokens expiring within this long from now. Zero means only once expired.
	Window time.Duration
	// SoftFailure lets the sync continue with the old token after a failed refresh.
	SoftFailure bool
	// DisconnectOnRefreshFailure marks the connection disconnected after a fatal refresh failure.
	DisconnectOnRefreshFailure bool
}

// NeedsRefresh is false for tokens without an expiry.
func (p RefreshPolicy) NeedsRefresh(expiresAt *time.Time, now time.Time) bool {
	return expiresAt != nil && expiresAt.Before(now.Add(p.Window))
}

func DefaultRefreshPolicies() map[domain.Platform]RefreshPolicy {
	return map[domain.Platform]RefreshPolicy{
		domain.PlatformInstagram: {Window: 7 * 24 * time.Hour, SoftFailure: true},
		domain.PlatformTikTok:    {Window: 0},
		domain.PlatformYouTube:   {Window: 5 * time.Minute, DisconnectOnRefreshFailure: true},
	}
}

// TokenResult is the access token a sync should use.
type TokenResult struct {
	AccessToken string
	Refreshed   bool
	SoftFailure bool
}

type TokenManagerConfig struct {
	Policies map[domain.Platform]RefreshPolicy
	Retry    retry.Policy
	// Classify decides which refresh errors are retried. Nil retries nothing.
	Classify retry.Classify
}

// TokenManager keeps stored credentials fresh.
type TokenManager struct {
	adapters Adapters
	conns    domain.ConnectionRepository
	cfg      TokenManagerConfig
	clock    clockwork.Clock
	metrics  MetricsRecorder
	group    singleflight.Group
}

func NewTokenManager(adapters Adapters, conns domain.ConnectionRepository, cfg TokenManagerConfig, clock clockwork.Clock, metrics MetricsRecorder) *TokenManager {
	if cfg.Policies == nil {
		cfg.Policies = DefaultRefreshPolicies()
	}
	if cfg.Classify == nil {
		cfg.Classify = func(error) retry.Action { return retry.Stop }
	}
	if cfg.Retry.Clock == nil {
		cfg.Retry.Clock = clock
	}
	return &TokenManager{
		adapters: adapters,
		conns:    conns,
		cfg:      cfg,
		clock:    clock,
		metrics:  orNoop(metrics),
	}
}

func (m *TokenManager) Policy(p domain.Platform) RefreshPolicy {
	return m.cfg.Policies[p]
}

type refreshed struct {
	access    string
	refresh   string
	expiresAt *time.Time
}

// EnsureValidToken refreshes conn's token when its platform policy says so and
// updates conn in place. Rate limits are always returned as-is.
func (m *TokenManager) EnsureValidToken(ctx context.Context, conn *domain.Connection) (TokenResult, error) {
	policy := m.Policy(conn.Platform)
	if !policy.NeedsRefresh(conn.ExpiresAt, m.clock.Now()) {
		return TokenResult{AccessToken: conn.AccessToken}, nil
	}

	adapter, err := m.adapters.Get(conn.Platform)
	if err != nil {
		return TokenResult{}, err
	}

	creds := conn.Credentials()
	v, err, _ := m.group.Do(conn.ID.String(), func() (any, error) {
		return m.refresh(ctx, adapter, conn, creds)
	})
	if err == nil {
		r := v.(*refreshed)
		conn.AccessToken = r.access
		conn.RefreshToken = r.refresh
		conn.ExpiresAt = r.expiresAt
		m.metrics.TokenRefreshed(string(conn.Platform), "success")
		slog.InfoContext(ctx, "Token refreshed", "platform", conn.Platform, "connection_id", conn.ID, "expires_at", r.expiresAt)
		return TokenResult{AccessToken: r.access, Refreshed: true}, nil
	}

	var persistErr *domain.PersistenceError
	switch {
	case domain.IsRateLimit(err):
		m.metrics.TokenRefreshed(string(conn.Platform), "rate_limited")
		return TokenResult{}, err
	case errors.As(err, &persistErr):
		m.metrics.TokenRefreshed(string(conn.Platform), "persist_failed")
		// The provider may already have invalidated the old refresh token.
		if r, ok := v.(*refreshed); ok && r != nil {
			conn.AccessToken = r.access
			conn.RefreshToken = r.refresh
			conn.ExpiresAt = r.expiresAt
		}
		slog.ErrorContext(ctx, "Refreshed tokens could not be stored, connection may need reconnecting",
			"platform", conn.Platform, "connection_id", conn.ID, "error", err)
		return TokenResult{}, err
	case policy.SoftFailure:
		m.metrics.TokenRefreshed(string(conn.Platform), "soft_failure")
		slog.WarnContext(ctx, "Token refresh failed, continuing with current token",
			"platform", conn.Platform, "connection_id", conn.ID, "expires_at", conn.ExpiresAt, "error", err)
		return TokenResult{AccessToken: conn.AccessToken, SoftFailure: true}, nil
	}

	m.metrics.TokenRefreshed(string(conn.Platform), "failed")
	slog.ErrorContext(ctx, "Token refresh failed", "platform", conn.Platform, "connection_id", conn.ID, "error", err)

	if policy.DisconnectOnRefreshFailure {
		if derr := m.conns.Disconnect(context.WithoutCancel(ctx), conn.ID); derr != nil {
			slog.ErrorContext(ctx, "Failed to disconnect after refresh failure", "platform", conn.Platform, "connection_id", conn.ID, "error", derr)
		} else {
			conn.Connected = false
			slog.WarnContext(ctx, "Connection disconnected after refresh failure", "platform", conn.Platform, "connection_id", conn.ID)
		}
	}

	return TokenResult{}, &domain.RefreshError{Platform: conn.Platform, Err: err}
}

func (m *TokenManager) refresh(ctx context.Context, adapter domain.PlatformAdapter, conn *domain.Connection, creds domain.Credentials) (*refreshed, error) {
	tokens, err := retry.Do(ctx, m.cfg.Retry, m.cfg.Classify, func() (*domain.TokenSet, error) {
		return adapter.RefreshToken(ctx, creds)
	})
	if err != nil {
		return nil, err
	}

	r := &refreshed{
		access:    tokens.AccessToken,
		refresh:   tokens.RefreshToken,
		expiresAt: tokens.ExpiresAt(m.clock.Now()),
	}
	if r.refresh == "" {
		r.refresh = creds.RefreshToken
	}

	// Rotated refresh tokens are single-use upstream; retry the write once on a detached context.
	err = m.conns.UpdateTokens(ctx, conn.ID, r.access, r.refresh, r.expiresAt)
	if err != nil {
		slog.WarnContext(ctx, "Failed to store refreshed tokens, retrying", "platform", conn.Platform, "connection_id", conn.ID, "error", err)
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tokenWriteTimeout)
		err = m.conns.UpdateTokens(writeCtx, conn.ID, r.access, r.refresh, r.expiresAt)
		cancel()
	}
	if err != nil {
		return r, &domain.PersistenceError{Op: "persist refreshed tokens", Err: err}
	}
	return r, nil
}
