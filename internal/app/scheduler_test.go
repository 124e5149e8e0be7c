package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/creatorsync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSyncer struct {
	mu             sync.Mutex
	calls          []domain.Platform
	syncPlatformFn func(ctx context.Context, platform domain.Platform) PlatformSummary
}

func (m *mockSyncer) SyncPlatform(ctx context.Context, platform domain.Platform) PlatformSummary {
	m.mu.Lock()
	m.calls = append(m.calls, platform)
	m.mu.Unlock()

	if m.syncPlatformFn != nil {
		return m.syncPlatformFn(ctx, platform)
	}
	return PlatformSummary{Platform: platform}
}

func (m *mockSyncer) getCalls() []domain.Platform {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Platform(nil), m.calls...)
}

func TestMasterJob_RunsPlatformsInOrder(t *testing.T) {
	syncer := &mockSyncer{}
	job := NewMasterJob(syncer, 0, clockwork.NewFakeClockAt(testNow))

	run, err := job.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, domain.Platforms, syncer.getCalls())
	require.Len(t, run.Platforms, 3)
	assert.Equal(t, domain.PlatformYouTube, run.Platforms[2].Platform)
}

func TestMasterJob_CooldownBetweenPlatforms(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	syncer := &mockSyncer{}
	job := NewMasterJob(syncer, 2*time.Minute, clock)

	done := make(chan RunSummary, 1)
	go func() {
		run, _ := job.Run(context.Background())
		done <- run
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for i := 1; i <= 2; i++ {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		assert.Len(t, syncer.getCalls(), i)
		clock.Advance(2 * time.Minute)
	}

	run := <-done
	assert.Len(t, syncer.getCalls(), 3)
	assert.Equal(t, 4*time.Minute, run.CompletedAt.Sub(run.StartedAt))
}

func TestMasterJob_CancelDuringCooldown(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	syncer := &mockSyncer{}
	job := NewMasterJob(syncer, time.Minute, clock)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := job.Run(ctx)
		errCh <- err
	}()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))
	cancel()

	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.Len(t, syncer.getCalls(), 1)
}

func TestMasterJob_RejectsOverlappingRuns(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	syncer := &mockSyncer{syncPlatformFn: func(_ context.Context, p domain.Platform) PlatformSummary {
		if p == domain.PlatformInstagram {
			close(entered)
			<-release
		}
		return PlatformSummary{Platform: p}
	}}
	job := NewMasterJob(syncer, 0, clockwork.NewFakeClockAt(testNow))

	errCh := make(chan error, 1)
	go func() {
		_, err := job.Run(context.Background())
		errCh <- err
	}()
	<-entered

	_, err := job.Run(context.Background())
	assert.ErrorIs(t, err, ErrJobRunning)

	close(release)
	require.NoError(t, <-errCh)

	_, err = job.Run(context.Background())
	assert.NoError(t, err, "the guard is released after a run")
}

func TestMasterJob_PanicIsolatedToPlatform(t *testing.T) {
	syncer := &mockSyncer{syncPlatformFn: func(_ context.Context, p domain.Platform) PlatformSummary {
		if p == domain.PlatformTikTok {
			panic("nil map")
		}
		return PlatformSummary{Platform: p, Synced: 1}
	}}
	job := NewMasterJob(syncer, 0, clockwork.NewFakeClockAt(testNow))

	run, err := job.Run(context.Background())

	require.NoError(t, err)
	require.Len(t, run.Platforms, 3)
	assert.ErrorContains(t, run.Platforms[1].Err, "nil map")
	assert.Equal(t, 1, run.Platforms[2].Synced)
}

func TestMasterJob_StartAndStop(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	ran := make(chan struct{}, 3)
	syncer := &mockSyncer{syncPlatformFn: func(_ context.Context, p domain.Platform) PlatformSummary {
		if p == domain.PlatformYouTube {
			ran <- struct{}{}
		}
		return PlatformSummary{Platform: p}
	}}
	job := NewMasterJob(syncer, 0, clock)

	stopped := make(chan struct{})
	go func() {
		job.Start(context.Background(), time.Hour)
		close(stopped)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(time.Hour)

	select {
	case <-ran:
	case <-ctx.Done():
		t.Fatal("scheduled run did not happen")
	}

	job.Stop()
	job.Stop()

	select {
	case <-stopped:
	case <-ctx.Done():
		t.Fatal("scheduler did not stop")
	}
}

func TestMasterJob_LeaderLeaseSkipsTick(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	lease := NewMemoryLease(clock)
	_, ok, err := lease.TryAcquire(context.Background(), jobLeaseKey, time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	syncer := &mockSyncer{}
	job := NewMasterJob(syncer, 0, clock).WithLeaderLease(lease, time.Hour)

	job.runSafely(context.Background())

	assert.Empty(t, syncer.getCalls(), "another instance holds the job lease")
}

func TestMasterJob_LeaderLeaseReleasedAfterRun(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	lease := NewMemoryLease(clock)
	syncer := &mockSyncer{}
	job := NewMasterJob(syncer, 0, clock).WithLeaderLease(lease, time.Hour)

	job.runSafely(context.Background())
	job.runSafely(context.Background())

	assert.Len(t, syncer.getCalls(), 6)
}
