package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/creatorsync/internal/domain"
	"github.com/pscheid92/creatorsync/internal/platform/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefreshPolicy_NeedsRefresh(t *testing.T) {
	policies := DefaultRefreshPolicies()

	tests := []struct {
		name      string
		platform  domain.Platform
		expiresAt *time.Time
		want      bool
	}{
		{"no expiry", domain.PlatformInstagram, nil, false},
		{"instagram inside week", domain.PlatformInstagram, ptr(testNow.Add(3 * 24 * time.Hour)), true},
		{"instagram outside week", domain.PlatformInstagram, ptr(testNow.Add(30 * 24 * time.Hour)), false},
		{"tiktok not yet expired", domain.PlatformTikTok, ptr(testNow.Add(time.Minute)), false},
		{"tiktok expired", domain.PlatformTikTok, ptr(testNow.Add(-time.Second)), true},
		{"youtube within five minutes", domain.PlatformYouTube, ptr(testNow.Add(4 * time.Minute)), true},
		{"youtube later", domain.PlatformYouTube, ptr(testNow.Add(time.Hour)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policies[tt.platform].NeedsRefresh(tt.expiresAt, testNow))
		})
	}
}

func TestEnsureValidToken_NoRefreshNeeded(t *testing.T) {
	h := newHarness(t)
	h.adapters[domain.PlatformYouTube].refreshTokenFn = func(context.Context, domain.Credentials) (*domain.TokenSet, error) {
		t.Fatal("refresh must not be called")
		return nil, nil
	}
	conn := newConn(domain.PlatformYouTube, ptr(testNow.Add(time.Hour)))

	res, err := h.tokens.EnsureValidToken(context.Background(), &conn)

	require.NoError(t, err)
	assert.Equal(t, "access-old", res.AccessToken)
	assert.False(t, res.Refreshed)
}

func TestEnsureValidToken_InstagramExpiringSoonIsRefreshed(t *testing.T) {
	h := newHarness(t)
	h.adapters[domain.PlatformInstagram].refreshTokenFn = func(_ context.Context, creds domain.Credentials) (*domain.TokenSet, error) {
		assert.Equal(t, "access-old", creds.AccessToken)
		return &domain.TokenSet{AccessToken: "access-new", ExpiresIn: 60 * 24 * time.Hour}, nil
	}
	var persisted struct {
		access, refresh string
		expiresAt       *time.Time
	}
	h.conns.updateTokensFn = func(_ context.Context, _ uuid.UUID, access, refresh string, expiresAt *time.Time) error {
		persisted.access, persisted.refresh, persisted.expiresAt = access, refresh, expiresAt
		return nil
	}
	conn := newConn(domain.PlatformInstagram, ptr(testNow.Add(3*24*time.Hour)))

	res, err := h.tokens.EnsureValidToken(context.Background(), &conn)

	require.NoError(t, err)
	assert.True(t, res.Refreshed)
	assert.Equal(t, "access-new", res.AccessToken)

	wantExpiry := testNow.Add(60 * 24 * time.Hour)
	assert.Equal(t, "access-new", persisted.access)
	assert.Equal(t, "refresh-old", persisted.refresh, "an empty refresh token keeps the stored one")
	require.NotNil(t, persisted.expiresAt)
	assert.Equal(t, wantExpiry, *persisted.expiresAt)

	assert.Equal(t, "access-new", conn.AccessToken)
	assert.Equal(t, wantExpiry, *conn.ExpiresAt)
	assert.Equal(t, 1, h.metrics.refreshCount("instagram", "success"))
}

func TestEnsureValidToken_RotatedRefreshTokenIsStored(t *testing.T) {
	h := newHarness(t)
	h.adapters[domain.PlatformTikTok].refreshTokenFn = func(_ context.Context, creds domain.Credentials) (*domain.TokenSet, error) {
		assert.Equal(t, "refresh-old", creds.RefreshToken)
		return &domain.TokenSet{AccessToken: "a2", RefreshToken: "r2", ExpiresIn: 24 * time.Hour}, nil
	}
	conn := newConn(domain.PlatformTikTok, ptr(testNow.Add(-time.Minute)))

	_, err := h.tokens.EnsureValidToken(context.Background(), &conn)

	require.NoError(t, err)
	assert.Equal(t, "r2", conn.RefreshToken)
}

func TestEnsureValidToken_SoftFailureKeepsOldToken(t *testing.T) {
	h := newHarness(t)
	h.adapters[domain.PlatformInstagram].refreshTokenFn = func(context.Context, domain.Credentials) (*domain.TokenSet, error) {
		return nil, errors.New("graph api 500")
	}
	h.conns.disconnectFn = func(context.Context, uuid.UUID) error {
		t.Fatal("soft failures must not disconnect")
		return nil
	}
	expires := ptr(testNow.Add(24 * time.Hour))
	conn := newConn(domain.PlatformInstagram, expires)

	res, err := h.tokens.EnsureValidToken(context.Background(), &conn)

	require.NoError(t, err)
	assert.True(t, res.SoftFailure)
	assert.Equal(t, "access-old", res.AccessToken)
	assert.Equal(t, expires, conn.ExpiresAt)
	assert.Equal(t, 1, h.metrics.refreshCount("instagram", "soft_failure"))
}

func TestEnsureValidToken_SoftFailureStillSyncs(t *testing.T) {
	h := newHarness(t)
	h.adapters[domain.PlatformInstagram].refreshTokenFn = func(context.Context, domain.Credentials) (*domain.TokenSet, error) {
		return nil, errors.New("graph api 500")
	}
	var usedToken string
	h.adapters[domain.PlatformInstagram].fetchProfileFn = func(_ context.Context, token string) (*domain.ProfileData, error) {
		usedToken = token
		return &domain.ProfileData{ExternalID: "ig"}, nil
	}
	conn := newConn(domain.PlatformInstagram, ptr(testNow.Add(24*time.Hour)))

	res := h.orch.SyncConnection(context.Background(), &conn, 0)

	assert.Equal(t, OutcomeSynced, res.Outcome)
	assert.True(t, res.SoftRefreshFailure)
	assert.Equal(t, "access-old", usedToken)
}

func TestEnsureValidToken_FatalFailureDisconnectsYouTube(t *testing.T) {
	h := newHarness(t)
	h.adapters[domain.PlatformYouTube].refreshTokenFn = func(context.Context, domain.Credentials) (*domain.TokenSet, error) {
		return nil, errors.New("invalid_grant")
	}
	var disconnected uuid.UUID
	h.conns.disconnectFn = func(_ context.Context, id uuid.UUID) error {
		disconnected = id
		return nil
	}
	conn := newConn(domain.PlatformYouTube, ptr(testNow.Add(time.Minute)))

	_, err := h.tokens.EnsureValidToken(context.Background(), &conn)

	var refreshErr *domain.RefreshError
	require.ErrorAs(t, err, &refreshErr)
	assert.Equal(t, domain.PlatformYouTube, refreshErr.Platform)
	assert.Equal(t, conn.ID, disconnected)
	assert.False(t, conn.Connected)
	assert.Equal(t, 1, h.metrics.refreshCount("youtube", "failed"))
}

func TestEnsureValidToken_FatalFailureWithoutDisconnect(t *testing.T) {
	h := newHarness(t)
	h.adapters[domain.PlatformTikTok].refreshTokenFn = func(context.Context, domain.Credentials) (*domain.TokenSet, error) {
		return nil, errors.New("invalid refresh token")
	}
	h.conns.disconnectFn = func(context.Context, uuid.UUID) error {
		t.Fatal("tiktok keeps the connection after a failed refresh")
		return nil
	}
	conn := newConn(domain.PlatformTikTok, ptr(testNow.Add(-time.Hour)))

	_, err := h.tokens.EnsureValidToken(context.Background(), &conn)

	var refreshErr *domain.RefreshError
	require.ErrorAs(t, err, &refreshErr)
	assert.True(t, conn.Connected)
}

func TestEnsureValidToken_FatalFailureSkipsProfile(t *testing.T) {
	h := newHarness(t)
	h.adapters[domain.PlatformYouTube].refreshTokenFn = func(context.Context, domain.Credentials) (*domain.TokenSet, error) {
		return nil, errors.New("invalid_grant")
	}
	h.adapters[domain.PlatformYouTube].fetchProfileFn = func(context.Context, string) (*domain.ProfileData, error) {
		t.Fatal("profile must not be fetched with a dead token")
		return nil, nil
	}
	conn := newConn(domain.PlatformYouTube, ptr(testNow.Add(-time.Minute)))

	res := h.orch.SyncConnection(context.Background(), &conn, 0)

	assert.Equal(t, OutcomeFailed, res.Outcome)
	entries := h.logs.forConnection(conn.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.SyncTypeProfile, entries[0].SyncType)
	assert.Equal(t, domain.CodeRefreshFailed, entries[0].ErrorCode)
}

func TestEnsureValidToken_RateLimitIsNotSoft(t *testing.T) {
	h := newHarness(t)
	h.adapters[domain.PlatformInstagram].refreshTokenFn = func(context.Context, domain.Credentials) (*domain.TokenSet, error) {
		return nil, &domain.RateLimitError{Platform: domain.PlatformInstagram, Op: "refresh token"}
	}
	conn := newConn(domain.PlatformInstagram, ptr(testNow.Add(time.Hour)))

	_, err := h.tokens.EnsureValidToken(context.Background(), &conn)

	assert.True(t, domain.IsRateLimit(err))
	assert.Equal(t, 1, h.metrics.refreshCount("instagram", "rate_limited"))
}

func TestEnsureValidToken_PersistFailure(t *testing.T) {
	h := newHarness(t)
	h.adapters[domain.PlatformTikTok].refreshTokenFn = func(context.Context, domain.Credentials) (*domain.TokenSet, error) {
		return &domain.TokenSet{AccessToken: "a2", RefreshToken: "r2", ExpiresIn: time.Hour}, nil
	}
	h.conns.updateTokensFn = func(context.Context, uuid.UUID, string, string, *time.Time) error {
		return errors.New("connection reset")
	}
	conn := newConn(domain.PlatformTikTok, ptr(testNow.Add(-time.Minute)))

	_, err := h.tokens.EnsureValidToken(context.Background(), &conn)

	var perr *domain.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "a2", conn.AccessToken)
	assert.Equal(t, "r2", conn.RefreshToken)
	assert.Equal(t, 1, h.metrics.refreshCount("tiktok", "persist_failed"))
}

func TestEnsureValidToken_RotatedTokenWriteRetried(t *testing.T) {
	h := newHarness(t)
	h.adapters[domain.PlatformTikTok].refreshTokenFn = func(context.Context, domain.Credentials) (*domain.TokenSet, error) {
		return &domain.TokenSet{AccessToken: "a2", RefreshToken: "r2", ExpiresIn: time.Hour}, nil
	}
	var writes []string
	h.conns.updateTokensFn = func(_ context.Context, _ uuid.UUID, _, refresh string, _ *time.Time) error {
		writes = append(writes, refresh)
		if len(writes) == 1 {
			return errors.New("connection reset")
		}
		return nil
	}
	conn := newConn(domain.PlatformTikTok, ptr(testNow.Add(-time.Minute)))

	res, err := h.tokens.EnsureValidToken(context.Background(), &conn)

	require.NoError(t, err)
	assert.True(t, res.Refreshed)
	assert.Equal(t, []string{"r2", "r2"}, writes)
	assert.Equal(t, "r2", conn.RefreshToken)
}

func TestEnsureValidToken_RetriesTransientErrors(t *testing.T) {
	h := newHarness(t)
	calls := 0
	h.adapters[domain.PlatformTikTok].refreshTokenFn = func(context.Context, domain.Credentials) (*domain.TokenSet, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("timeout")
		}
		return &domain.TokenSet{AccessToken: "a2", ExpiresIn: time.Hour}, nil
	}
	tokens := NewTokenManager(NewAdapters(h.adapters[domain.PlatformTikTok]), h.conns, TokenManagerConfig{
		Retry:    retry.Policy{MaxAttempts: 2, Clock: clockwork.NewRealClock()},
		Classify: func(error) retry.Action { return retry.Retry },
	}, h.clock, nil)
	conn := newConn(domain.PlatformTikTok, ptr(testNow.Add(-time.Minute)))

	res, err := tokens.EnsureValidToken(context.Background(), &conn)

	require.NoError(t, err)
	assert.True(t, res.Refreshed)
	assert.Equal(t, 2, calls)
}

func TestEnsureValidToken_ConcurrentRefreshesCoalesce(t *testing.T) {
	h := newHarness(t)
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	h.adapters[domain.PlatformTikTok].refreshTokenFn = func(context.Context, domain.Credentials) (*domain.TokenSet, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return &domain.TokenSet{AccessToken: "shared", ExpiresIn: time.Hour}, nil
	}
	base := newConn(domain.PlatformTikTok, ptr(testNow.Add(-time.Minute)))

	var wg sync.WaitGroup
	results := make([]TokenResult, 2)
	for i := range results {
		conn := base
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.tokens.EnsureValidToken(context.Background(), &conn)
			assert.NoError(t, err)
			results[i] = res
		}()
		if i == 0 {
			<-started
		}
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, res := range results {
		assert.Equal(t, "shared", res.AccessToken)
	}
}
