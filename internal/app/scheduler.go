package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/creatorsync/internal/domain"
	"github.com/pscheid92/creatorsync/internal/platform/correlation"
)

var ErrJobRunning = errors.New("sync job already running")

const jobLeaseKey = "job:master"

// PlatformSyncer is the part of Orchestrator the master job drives.
type PlatformSyncer interface {
	SyncPlatform(ctx context.Context, platform domain.Platform) PlatformSummary
}

type RunSummary struct {
	StartedAt   time.Time
	CompletedAt time.Time
	Platforms   []PlatformSummary
}

// MasterJob walks every platform in turn with a cooldown in between.
type MasterJob struct {
	syncer    PlatformSyncer
	platforms []domain.Platform
	cooldown  time.Duration
	clock     clockwork.Clock

	leader    domain.SyncLease
	leaderTTL time.Duration

	running  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewMasterJob(syncer PlatformSyncer, cooldown time.Duration, clock clockwork.Clock) *MasterJob {
	return &MasterJob{
		syncer:    syncer,
		platforms: domain.Platforms,
		cooldown:  cooldown,
		clock:     clock,
		stopCh:    make(chan struct{}),
	}
}

// WithLeaderLease makes scheduled runs exclusive across instances sharing lease.
// ttl should exceed the longest expected run.
func (j *MasterJob) WithLeaderLease(lease domain.SyncLease, ttl time.Duration) *MasterJob {
	j.leader = lease
	j.leaderTTL = ttl
	return j
}

// Run performs one full pass. A second Run while one is in flight returns ErrJobRunning.
func (j *MasterJob) Run(ctx context.Context) (RunSummary, error) {
	if !j.running.CompareAndSwap(false, true) {
		return RunSummary{}, ErrJobRunning
	}
	defer j.running.Store(false)

	ctx = correlation.Ensure(ctx)
	run := RunSummary{StartedAt: j.clock.Now()}
	slog.InfoContext(ctx, "Sync job started", "platforms", len(j.platforms))

	for i, platform := range j.platforms {
		if i > 0 && j.cooldown > 0 {
			select {
			case <-j.clock.After(j.cooldown):
			case <-ctx.Done():
				run.CompletedAt = j.clock.Now()
				return run, ctx.Err()
			}
		}
		run.Platforms = append(run.Platforms, j.syncPlatform(ctx, platform))
	}

	run.CompletedAt = j.clock.Now()
	slog.InfoContext(ctx, "Sync job finished", "duration", run.CompletedAt.Sub(run.StartedAt))
	return run, nil
}

// syncPlatform keeps one platform's panic from taking down the rest of the run.
func (j *MasterJob) syncPlatform(ctx context.Context, platform domain.Platform) (summary PlatformSummary) {
	defer func() {
		if r := recover(); r != nil {
			now := j.clock.Now()
			summary = PlatformSummary{Platform: platform, StartedAt: now, CompletedAt: now, Err: fmt.Errorf("panic: %v", r)}
			slog.ErrorContext(ctx, "Platform sync panicked", "platform", platform, "panic", r)
		}
	}()

	summary = j.syncer.SyncPlatform(ctx, platform)
	if summary.Err != nil {
		slog.ErrorContext(ctx, "Platform sync failed", "platform", platform, "error", summary.Err)
	}
	return summary
}

// Start runs the job every interval until Stop is called or ctx is cancelled.
func (j *MasterJob) Start(ctx context.Context, interval time.Duration) {
	ticker := j.clock.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("Sync scheduler started", "interval", interval)
	for {
		select {
		case <-ticker.Chan():
			j.runSafely(ctx)
		case <-j.stopCh:
			slog.Info("Sync scheduler stopped")
			return
		case <-ctx.Done():
			slog.Info("Sync scheduler context cancelled")
			return
		}
	}
}

func (j *MasterJob) runSafely(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Sync job panicked", "panic", r)
		}
	}()

	if j.leader != nil {
		token, ok, err := j.leader.TryAcquire(ctx, jobLeaseKey, j.leaderTTL)
		if err != nil {
			slog.Error("Failed to acquire sync job lease", "error", err)
			return
		}
		if !ok {
			slog.Info("Sync job running on another instance, skipping tick")
			return
		}
		defer func() {
			if err := j.leader.Release(context.WithoutCancel(ctx), jobLeaseKey, token); err != nil {
				slog.Warn("Failed to release sync job lease", "error", err)
			}
		}()
	}

	if _, err := j.Run(correlation.WithID(ctx, correlation.NewID())); err != nil {
		if errors.Is(err, ErrJobRunning) {
			slog.Warn("Previous sync job still running, skipping tick")
			return
		}
		slog.Error("Sync job failed", "error", err)
	}
}

// Stop ends the Start loop. Safe to call more than once.
func (j *MasterJob) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
}
