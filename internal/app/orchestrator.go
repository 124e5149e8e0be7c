package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/creatorsync/internal/domain"
	"github.com/pscheid92/creatorsync/internal/platform/correlation"
)

type Outcome string

const (
	OutcomeSynced  Outcome = "synced"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// AttemptResult is the outcome of syncing one connection.
type AttemptResult struct {
	ConnectionID       uuid.UUID
	Platform           domain.Platform
	Outcome            Outcome
	ProfileSynced      bool
	ItemsSynced        int
	ItemsTotal         int
	Refreshed          bool
	SoftRefreshFailure bool
	RateLimited        bool
	Err                error
}

func (r *AttemptResult) fail(err error) {
	r.Outcome = OutcomeFailed
	r.Err = err
	r.RateLimited = domain.IsRateLimit(err)
}

// PlatformSummary aggregates one platform run. Total counts every due connection,
// including those left untouched after a rate limit.
type PlatformSummary struct {
	Platform    domain.Platform
	Total       int
	Synced      int
	Failed      int
	Refreshed   int
	Skipped     int
	RateLimited bool
	StartedAt   time.Time
	CompletedAt time.Time
	Err         error
}

func (s *PlatformSummary) add(r AttemptResult) {
	switch r.Outcome {
	case OutcomeSynced:
		s.Synced++
	case OutcomeFailed:
		s.Failed++
	case OutcomeSkipped:
		s.Skipped++
	}
	if r.Refreshed {
		s.Refreshed++
	}
	if r.RateLimited {
		s.RateLimited = true
	}
}

func DefaultContentLimits() map[domain.Platform]int {
	return map[domain.Platform]int{
		domain.PlatformInstagram: 25,
		domain.PlatformTikTok:    20,
		domain.PlatformYouTube:   50,
	}
}

type OrchestratorConfig struct {
	LeaseTTL      time.Duration
	ContentLimits map[domain.Platform]int
	// Pacers default to NoDelay for platforms without an entry.
	Pacers map[domain.Platform]Pacer
}

// Orchestrator runs the per-connection sync pipeline: token, profile, content.
type Orchestrator struct {
	adapters Adapters
	conns    domain.ConnectionRepository
	store    domain.MetricsStore
	tokens   *TokenManager
	audit    *AuditLog
	lease    domain.SyncLease
	cfg      OrchestratorConfig
	clock    clockwork.Clock
	metrics  MetricsRecorder
}

func NewOrchestrator(
	adapters Adapters,
	conns domain.ConnectionRepository,
	store domain.MetricsStore,
	tokens *TokenManager,
	audit *AuditLog,
	lease domain.SyncLease,
	cfg OrchestratorConfig,
	clock clockwork.Clock,
	metrics MetricsRecorder,
) *Orchestrator {
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 15 * time.Minute
	}
	if cfg.ContentLimits == nil {
		cfg.ContentLimits = DefaultContentLimits()
	}
	return &Orchestrator{
		adapters: adapters,
		conns:    conns,
		store:    store,
		tokens:   tokens,
		audit:    audit,
		lease:    lease,
		cfg:      cfg,
		clock:    clock,
		metrics:  orNoop(metrics),
	}
}

func (o *Orchestrator) pacer(p domain.Platform) Pacer {
	if pacer, ok := o.cfg.Pacers[p]; ok && pacer != nil {
		return pacer
	}
	return NoDelay{}
}

// SyncPlatform syncs every connected account of platform, least recently synced first.
// A rate limit ends the run; remaining connections count toward Total only.
func (o *Orchestrator) SyncPlatform(ctx context.Context, platform domain.Platform) PlatformSummary {
	summary := PlatformSummary{Platform: platform, StartedAt: o.clock.Now()}
	defer func() {
		o.metrics.PlatformRunFinished(string(platform), summary.CompletedAt.Sub(summary.StartedAt))
	}()

	conns, err := o.conns.ListConnected(ctx, platform)
	if err != nil {
		summary.Err = fmt.Errorf("failed to list %s connections: %w", platform, err)
		summary.CompletedAt = o.clock.Now()
		slog.ErrorContext(ctx, "Platform sync aborted", "platform", platform, "error", summary.Err)
		return summary
	}
	summary.Total = len(conns)
	slog.InfoContext(ctx, "Platform sync started", "platform", platform, "connections", summary.Total)

	pacer := o.pacer(platform)
	for i := range conns {
		if err := ctx.Err(); err != nil {
			summary.Err = err
			break
		}

		attemptCtx := correlation.WithID(ctx, correlation.NewID())
		res := o.SyncConnection(attemptCtx, &conns[i], 0)
		summary.add(res)
		o.metrics.AttemptFinished(string(platform), string(res.Outcome))

		if res.RateLimited {
			o.metrics.RateLimited(string(platform))
			slog.WarnContext(attemptCtx, "Rate limit hit, stopping platform run",
				"platform", platform,
				"connection_id", res.ConnectionID,
				"remaining", len(conns)-i-1)
			break
		}

		if i < len(conns)-1 {
			if err := pacer.Wait(ctx); err != nil {
				summary.Err = err
				break
			}
		}
	}

	summary.CompletedAt = o.clock.Now()
	slog.InfoContext(ctx, "Platform sync finished",
		"platform", platform,
		"total", summary.Total,
		"synced", summary.Synced,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"refreshed", summary.Refreshed,
		"rate_limited", summary.RateLimited,
		"duration", summary.CompletedAt.Sub(summary.StartedAt))
	return summary
}

// SyncConnection runs token, profile and content sync for one connection under its lease.
// limit <= 0 uses the platform's default content limit.
func (o *Orchestrator) SyncConnection(ctx context.Context, conn *domain.Connection, limit int) AttemptResult {
	ctx = correlation.Ensure(ctx)
	res := AttemptResult{ConnectionID: conn.ID, Platform: conn.Platform}
	startedAt := o.clock.Now()

	adapter, err := o.adapters.Get(conn.Platform)
	if err != nil {
		o.audit.Record(ctx, conn, domain.SyncTypeProfile, 0, startedAt, err)
		res.fail(err)
		return res
	}

	leaseKey := string(conn.Platform) + ":" + conn.ID.String()
	leaseToken, ok, err := o.lease.TryAcquire(ctx, leaseKey, o.cfg.LeaseTTL)
	if err != nil {
		o.audit.Record(ctx, conn, domain.SyncTypeProfile, 0, startedAt, err)
		res.fail(err)
		o.logAttempt(ctx, res)
		return res
	}
	if !ok {
		res.Outcome = OutcomeSkipped
		slog.InfoContext(ctx, "Connection sync already in progress elsewhere", "platform", conn.Platform, "connection_id", conn.ID)
		return res
	}
	defer func() {
		if err := o.lease.Release(context.WithoutCancel(ctx), leaseKey, leaseToken); err != nil {
			slog.WarnContext(ctx, "Failed to release sync lease", "platform", conn.Platform, "connection_id", conn.ID, "error", err)
		}
	}()

	token, err := o.tokens.EnsureValidToken(ctx, conn)
	if err != nil {
		o.audit.Record(ctx, conn, domain.SyncTypeProfile, 0, startedAt, err)
		res.fail(err)
		o.logAttempt(ctx, res)
		return res
	}
	res.Refreshed = token.Refreshed
	res.SoftRefreshFailure = token.SoftFailure

	if err := o.syncProfile(ctx, adapter, conn, token.AccessToken); err != nil {
		res.fail(err)
		o.logAttempt(ctx, res)
		return res
	}
	res.ProfileSynced = true

	if limit <= 0 {
		limit = o.cfg.ContentLimits[conn.Platform]
	}
	res.ItemsSynced, res.ItemsTotal, err = o.SyncContent(ctx, conn, token.AccessToken, limit)
	if err != nil {
		res.fail(err)
		o.logAttempt(ctx, res)
		return res
	}

	if err := o.conns.MarkSynced(ctx, conn.ID, o.clock.Now()); err != nil {
		res.fail(&domain.PersistenceError{Op: "mark connection synced", Err: err})
		o.logAttempt(ctx, res)
		return res
	}

	res.Outcome = OutcomeSynced
	o.logAttempt(ctx, res)
	return res
}

// syncProfile writes exactly one profile audit entry.
func (o *Orchestrator) syncProfile(ctx context.Context, adapter domain.PlatformAdapter, conn *domain.Connection, accessToken string) (err error) {
	startedAt := o.clock.Now()
	synced := 0
	defer func() {
		o.audit.Record(ctx, conn, domain.SyncTypeProfile, synced, startedAt, err)
	}()

	data, err := adapter.FetchProfile(ctx, accessToken)
	if err != nil {
		return err
	}

	now := o.clock.Now()
	profile, err := o.store.UpsertProfile(ctx, conn, *data, now)
	if err != nil {
		return &domain.PersistenceError{Op: "upsert profile", Err: err}
	}

	if err := o.store.AppendSnapshots(ctx, profile.Snapshots(now)); err != nil {
		return &domain.PersistenceError{Op: "append metric snapshots", Err: err}
	}

	synced = 1
	return nil
}

// SyncContent pulls up to limit recent items into the store and writes exactly one content audit entry.
// It requires a stored profile; without one nothing is fetched or written.
func (o *Orchestrator) SyncContent(ctx context.Context, conn *domain.Connection, accessToken string, limit int) (synced, total int, err error) {
	startedAt := o.clock.Now()
	defer func() {
		o.audit.Record(ctx, conn, domain.SyncTypeContent, synced, startedAt, err)
		if synced > 0 {
			o.metrics.ContentSynced(string(conn.Platform), synced)
		}
	}()

	profile, err := o.store.GetProfileByConnection(ctx, conn.ID)
	if errors.Is(err, domain.ErrProfileNotFound) {
		return 0, 0, &domain.PreconditionError{ConnectionID: conn.ID, Reason: "content sync requires a synced profile"}
	}
	if err != nil {
		return 0, 0, &domain.PersistenceError{Op: "load profile", Err: err}
	}

	adapter, err := o.adapters.Get(conn.Platform)
	if err != nil {
		return 0, 0, err
	}

	items, err := adapter.FetchContent(ctx, accessToken, profile.ContentRef, limit)
	if err != nil {
		return 0, 0, err
	}

	now := o.clock.Now()
	for _, item := range items {
		if _, err := o.store.UpsertContentItem(ctx, profile, item, now); err != nil {
			return synced, len(items), &domain.PersistenceError{Op: "upsert content item " + item.ExternalID, Err: err}
		}
		synced++
	}
	return synced, len(items), nil
}

func (o *Orchestrator) logAttempt(ctx context.Context, res AttemptResult) {
	attrs := []any{
		"platform", res.Platform,
		"connection_id", res.ConnectionID,
		"outcome", res.Outcome,
		"items_synced", res.ItemsSynced,
		"items_total", res.ItemsTotal,
		"refreshed", res.Refreshed,
	}
	if res.Err != nil {
		slog.WarnContext(ctx, "Connection sync failed", append(attrs, "error_code", domain.ErrorCode(res.Err), "error", res.Err)...)
		return
	}
	slog.InfoContext(ctx, "Connection synced", attrs...)
}
