package app

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/creatorsync/internal/domain"
)

// --- Mock implementations ---

type mockAdapter struct {
	platform           domain.Platform
	authorizationURLFn func(ownerID string) (string, error)
	exchangeCodeFn     func(ctx context.Context, code string) (*domain.TokenSet, error)
	refreshTokenFn     func(ctx context.Context, creds domain.Credentials) (*domain.TokenSet, error)
	fetchProfileFn     func(ctx context.Context, accessToken string) (*domain.ProfileData, error)
	fetchContentFn     func(ctx context.Context, accessToken, profileRef string, limit int) ([]domain.ContentData, error)
	revokeTokenFn      func(ctx context.Context, accessToken string) error
	checkConfiguredFn  func() error
}

func (m *mockAdapter) CheckConfigured() error {
	if m.checkConfiguredFn != nil {
		return m.checkConfiguredFn()
	}
	return nil
}

func (m *mockAdapter) Platform() domain.Platform { return m.platform }

func (m *mockAdapter) AuthorizationURL(ownerID string) (string, error) {
	if m.authorizationURLFn != nil {
		return m.authorizationURLFn(ownerID)
	}
	return "", fmt.Errorf("not implemented")
}

func (m *mockAdapter) ExchangeCode(ctx context.Context, code string) (*domain.TokenSet, error) {
	if m.exchangeCodeFn != nil {
		return m.exchangeCodeFn(ctx, code)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockAdapter) RefreshToken(ctx context.Context, creds domain.Credentials) (*domain.TokenSet, error) {
	if m.refreshTokenFn != nil {
		return m.refreshTokenFn(ctx, creds)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockAdapter) FetchProfile(ctx context.Context, accessToken string) (*domain.ProfileData, error) {
	if m.fetchProfileFn != nil {
		return m.fetchProfileFn(ctx, accessToken)
	}
	return &domain.ProfileData{ExternalID: "ext-" + string(m.platform), Handle: "creator", FollowerCount: 100}, nil
}

func (m *mockAdapter) FetchContent(ctx context.Context, accessToken, profileRef string, limit int) ([]domain.ContentData, error) {
	if m.fetchContentFn != nil {
		return m.fetchContentFn(ctx, accessToken, profileRef, limit)
	}
	return []domain.ContentData{{ExternalID: "post-1"}, {ExternalID: "post-2"}}, nil
}

func (m *mockAdapter) RevokeToken(ctx context.Context, accessToken string) error {
	if m.revokeTokenFn != nil {
		return m.revokeTokenFn(ctx, accessToken)
	}
	return nil
}

type mockConnRepo struct {
	upsertFn        func(ctx context.Context, c domain.ConnectionUpsert) (*domain.Connection, error)
	getByIDFn       func(ctx context.Context, id uuid.UUID) (*domain.Connection, error)
	getByOwnerFn    func(ctx context.Context, ownerID string, platform domain.Platform) (*domain.Connection, error)
	listConnectedFn func(ctx context.Context, platform domain.Platform) ([]domain.Connection, error)
	updateTokensFn  func(ctx context.Context, id uuid.UUID, accessToken, refreshToken string, expiresAt *time.Time) error
	markSyncedFn    func(ctx context.Context, id uuid.UUID, at time.Time) error
	disconnectFn    func(ctx context.Context, id uuid.UUID) error
}

func (m *mockConnRepo) Upsert(ctx context.Context, c domain.ConnectionUpsert) (*domain.Connection, error) {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, c)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockConnRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Connection, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, domain.ErrConnectionNotFound
}

func (m *mockConnRepo) GetByOwner(ctx context.Context, ownerID string, platform domain.Platform) (*domain.Connection, error) {
	if m.getByOwnerFn != nil {
		return m.getByOwnerFn(ctx, ownerID, platform)
	}
	return nil, domain.ErrConnectionNotFound
}

func (m *mockConnRepo) ListConnected(ctx context.Context, platform domain.Platform) ([]domain.Connection, error) {
	if m.listConnectedFn != nil {
		return m.listConnectedFn(ctx, platform)
	}
	return nil, nil
}

func (m *mockConnRepo) UpdateTokens(ctx context.Context, id uuid.UUID, accessToken, refreshToken string, expiresAt *time.Time) error {
	if m.updateTokensFn != nil {
		return m.updateTokensFn(ctx, id, accessToken, refreshToken, expiresAt)
	}
	return nil
}

func (m *mockConnRepo) MarkSynced(ctx context.Context, id uuid.UUID, at time.Time) error {
	if m.markSyncedFn != nil {
		return m.markSyncedFn(ctx, id, at)
	}
	return nil
}

func (m *mockConnRepo) Disconnect(ctx context.Context, id uuid.UUID) error {
	if m.disconnectFn != nil {
		return m.disconnectFn(ctx, id)
	}
	return nil
}

// memStore is an in-memory MetricsStore with optional failure injection.
type memStore struct {
	mu        sync.Mutex
	profiles  map[uuid.UUID]*domain.Profile
	items     map[string]domain.ContentItem
	snapshots []domain.MetricSnapshot

	upsertProfileFn func(ctx context.Context, conn *domain.Connection, data domain.ProfileData, at time.Time) (*domain.Profile, error)
	upsertContentFn func(ctx context.Context, profile *domain.Profile, item domain.ContentData, at time.Time) (*domain.ContentItem, error)
}

func newMemStore() *memStore {
	return &memStore{
		profiles: make(map[uuid.UUID]*domain.Profile),
		items:    make(map[string]domain.ContentItem),
	}
}

func (s *memStore) UpsertProfile(ctx context.Context, conn *domain.Connection, data domain.ProfileData, at time.Time) (*domain.Profile, error) {
	if s.upsertProfileFn != nil {
		return s.upsertProfileFn(ctx, conn, data, at)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[conn.ID]
	if !ok {
		p = &domain.Profile{ID: uuid.New(), ConnectionID: conn.ID, Platform: conn.Platform}
		s.profiles[conn.ID] = p
	}
	p.ProfileData = data
	p.LastSyncedAt = at
	out := *p
	return &out, nil
}

func (s *memStore) GetProfileByConnection(_ context.Context, connectionID uuid.UUID) (*domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[connectionID]
	if !ok {
		return nil, domain.ErrProfileNotFound
	}
	out := *p
	return &out, nil
}

func (s *memStore) UpsertContentItem(ctx context.Context, profile *domain.Profile, item domain.ContentData, at time.Time) (*domain.ContentItem, error) {
	if s.upsertContentFn != nil {
		return s.upsertContentFn(ctx, profile, item, at)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := string(profile.Platform) + ":" + item.ExternalID
	stored, ok := s.items[key]
	if !ok {
		stored = domain.ContentItem{ID: uuid.New(), ProfileID: profile.ID, Platform: profile.Platform}
	}
	stored.ContentData = item
	stored.LastSyncedAt = at
	s.items[key] = stored
	return &stored, nil
}

func (s *memStore) AppendSnapshots(_ context.Context, snapshots []domain.MetricSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snapshots...)
	return nil
}

func (s *memStore) itemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

type recordingSyncLog struct {
	mu       sync.Mutex
	entries  []domain.SyncLogEntry
	appendFn func(ctx context.Context, entry domain.SyncLogEntry) error
}

func (r *recordingSyncLog) Append(ctx context.Context, entry domain.SyncLogEntry) error {
	if r.appendFn != nil {
		if err := r.appendFn(ctx, entry); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *recordingSyncLog) forConnection(id uuid.UUID) []domain.SyncLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.SyncLogEntry
	for _, e := range r.entries {
		if e.ConnectionID == id {
			out = append(out, e)
		}
	}
	return out
}

type mockLease struct {
	tryAcquireFn func(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
}

func (m *mockLease) TryAcquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if m.tryAcquireFn != nil {
		return m.tryAcquireFn(ctx, key, ttl)
	}
	return "token", true, nil
}

func (m *mockLease) Release(context.Context, string, string) error { return nil }

type countingMetrics struct {
	noopMetrics
	mu        sync.Mutex
	refreshes map[string]int
	attempts  map[string]int
	auditFail int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{refreshes: map[string]int{}, attempts: map[string]int{}}
}

func (m *countingMetrics) TokenRefreshed(platform, result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshes[platform+":"+result]++
}

func (m *countingMetrics) AuditWriteFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auditFail++
}

func (m *countingMetrics) AttemptFinished(platform, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[platform+":"+outcome]++
}

func (m *countingMetrics) refreshCount(platform, result string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshes[platform+":"+result]
}

// --- Test harness ---

var testNow = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

type harness struct {
	clock    *clockwork.FakeClock
	adapters map[domain.Platform]*mockAdapter
	conns    *mockConnRepo
	store    *memStore
	logs     *recordingSyncLog
	lease    domain.SyncLease
	metrics  *countingMetrics
	tokens   *TokenManager
	orch     *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		clock: clockwork.NewFakeClockAt(testNow),
		adapters: map[domain.Platform]*mockAdapter{
			domain.PlatformInstagram: {platform: domain.PlatformInstagram},
			domain.PlatformTikTok:    {platform: domain.PlatformTikTok},
			domain.PlatformYouTube:   {platform: domain.PlatformYouTube},
		},
		conns:   &mockConnRepo{},
		store:   newMemStore(),
		logs:    &recordingSyncLog{},
		metrics: newCountingMetrics(),
	}
	h.lease = NewMemoryLease(h.clock)
	h.build(OrchestratorConfig{})
	return h
}

// build wires the app services; call again after swapping a dependency.
func (h *harness) build(cfg OrchestratorConfig) {
	adapters := NewAdapters(
		h.adapters[domain.PlatformInstagram],
		h.adapters[domain.PlatformTikTok],
		h.adapters[domain.PlatformYouTube],
	)
	h.tokens = NewTokenManager(adapters, h.conns, TokenManagerConfig{}, h.clock, h.metrics)
	audit := NewAuditLog(h.logs, h.clock, h.metrics)
	h.orch = NewOrchestrator(adapters, h.conns, h.store, h.tokens, audit, h.lease, cfg, h.clock, h.metrics)
}

func newConn(platform domain.Platform, expiresAt *time.Time) domain.Connection {
	return domain.Connection{
		ID:           uuid.New(),
		OwnerID:      "owner-" + uuid.NewString()[:8],
		Platform:     platform,
		Handle:       "creator",
		AccessToken:  "access-old",
		RefreshToken: "refresh-old",
		ExpiresAt:    expiresAt,
		Connected:    true,
	}
}

func ptr[T any](v T) *T { return &v }
