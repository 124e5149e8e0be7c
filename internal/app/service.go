package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/creatorsync/internal/domain"
	"github.com/pscheid92/creatorsync/internal/platform/correlation"
	"github.com/pscheid92/creatorsync/internal/platform/oauthstate"
)

const initialSyncTimeout = 10 * time.Minute

// ErrSyncInProgress means another worker holds the connection's sync lease.
var ErrSyncInProgress = errors.New("sync already in progress")

func DefaultInitialSyncLimits() map[domain.Platform]int {
	return map[domain.Platform]int{
		domain.PlatformInstagram: 25,
		domain.PlatformTikTok:    10,
		domain.PlatformYouTube:   25,
	}
}

type ServiceConfig struct {
	StateMaxAge       time.Duration
	InitialSyncLimits map[domain.Platform]int
}

// Service is the application layer behind the OAuth HTTP surface.
type Service struct {
	adapters Adapters
	conns    domain.ConnectionRepository
	orch     *Orchestrator
	cfg      ServiceConfig
	clock    clockwork.Clock

	initialSyncs sync.WaitGroup
}

func NewService(adapters Adapters, conns domain.ConnectionRepository, orch *Orchestrator, cfg ServiceConfig, clock clockwork.Clock) *Service {
	if cfg.StateMaxAge <= 0 {
		cfg.StateMaxAge = oauthstate.DefaultMaxAge
	}
	if cfg.InitialSyncLimits == nil {
		cfg.InitialSyncLimits = DefaultInitialSyncLimits()
	}
	return &Service{
		adapters: adapters,
		conns:    conns,
		orch:     orch,
		cfg:      cfg,
		clock:    clock,
	}
}

// Consent is a started authorization. The caller keeps State in the browser
// session until the callback.
type Consent struct {
	URL   string
	State string
}

// Callback is what the provider redirect and the browser session carry back.
type Callback struct {
	Code        string
	State       string
	IssuedState string
	OwnerID     string
}

// AuthorizationURL returns the provider consent URL for ownerID.
func (s *Service) AuthorizationURL(platform domain.Platform, ownerID string) (Consent, error) {
	adapter, err := s.adapters.Get(platform)
	if err != nil {
		return Consent{}, err
	}

	authURL, err := adapter.AuthorizationURL(ownerID)
	if err != nil {
		return Consent{}, err
	}

	state, err := oauthstate.FromURL(authURL)
	if err != nil {
		return Consent{}, err
	}
	return Consent{URL: authURL, State: state}, nil
}

// CompleteAuthorization finishes the OAuth callback: it checks the state against
// the one issued to the session, exchanges the code, stores the connection and
// starts an initial sync in the background.
func (s *Service) CompleteAuthorization(ctx context.Context, platform domain.Platform, cb Callback) (*domain.Connection, error) {
	adapter, err := s.adapters.Get(platform)
	if err != nil {
		return nil, err
	}

	state, err := oauthstate.Verify(cb.State, cb.IssuedState, cb.OwnerID, s.clock.Now(), s.cfg.StateMaxAge)
	if err != nil {
		return nil, err
	}

	tokens, err := adapter.ExchangeCode(ctx, cb.Code)
	if err != nil {
		return nil, err
	}

	profile, err := adapter.FetchProfile(ctx, tokens.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s profile: %w", platform, err)
	}

	conn, err := s.conns.Upsert(ctx, domain.ConnectionUpsert{
		OwnerID:      state.OwnerID,
		Platform:     platform,
		Handle:       profile.Handle,
		ExternalID:   profile.ExternalID,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    tokens.ExpiresAt(s.clock.Now()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save %s connection: %w", platform, err)
	}

	slog.InfoContext(ctx, "Platform connected", "platform", platform, "connection_id", conn.ID, "owner_id", conn.OwnerID, "handle", conn.Handle)
	s.startInitialSync(ctx, *conn)
	return conn, nil
}

func (s *Service) startInitialSync(ctx context.Context, conn domain.Connection) {
	limit := s.cfg.InitialSyncLimits[conn.Platform]

	s.initialSyncs.Add(1)
	go func() {
		defer s.initialSyncs.Done()

		syncCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), initialSyncTimeout)
		defer cancel()
		syncCtx = correlation.WithID(syncCtx, correlation.NewID())

		res := s.orch.SyncConnection(syncCtx, &conn, limit)
		if res.Err != nil {
			slog.WarnContext(syncCtx, "Initial sync failed", "platform", conn.Platform, "connection_id", conn.ID, "error", res.Err)
		}
	}()
}

// Disconnect revokes the grant where the provider supports it and always
// marks the connection disconnected.
func (s *Service) Disconnect(ctx context.Context, platform domain.Platform, ownerID string) error {
	adapter, err := s.adapters.Get(platform)
	if err != nil {
		return err
	}

	conn, err := s.conns.GetByOwner(ctx, ownerID, platform)
	if err != nil {
		return err
	}

	if conn.AccessToken != "" {
		if err := adapter.RevokeToken(ctx, conn.AccessToken); err != nil {
			slog.WarnContext(ctx, "Token revocation failed", "platform", platform, "connection_id", conn.ID, "error", err)
		}
	}

	if err := s.conns.Disconnect(ctx, conn.ID); err != nil {
		return fmt.Errorf("failed to disconnect %s: %w", platform, err)
	}

	slog.InfoContext(ctx, "Platform disconnected", "platform", platform, "connection_id", conn.ID, "owner_id", ownerID)
	return nil
}

// SyncNow runs the scheduled sync path for one owner's connection.
// It fails only when nothing could be synced; a content failure after a
// successful profile sync is reported through the result.
func (s *Service) SyncNow(ctx context.Context, platform domain.Platform, ownerID string) (AttemptResult, error) {
	if _, err := s.adapters.Get(platform); err != nil {
		return AttemptResult{}, err
	}

	conn, err := s.conns.GetByOwner(ctx, ownerID, platform)
	if err != nil {
		return AttemptResult{}, err
	}

	res := s.orch.SyncConnection(ctx, conn, 0)
	switch {
	case res.Outcome == OutcomeSkipped:
		return res, ErrSyncInProgress
	case res.Outcome == OutcomeFailed && !res.ProfileSynced:
		return res, res.Err
	}
	return res, nil
}

// Integrations reports which platforms have OAuth client settings.
func (s *Service) Integrations() []Integration {
	return s.adapters.Integrations()
}

// Wait blocks until background initial syncs have finished.
func (s *Service) Wait() {
	s.initialSyncs.Wait()
}
