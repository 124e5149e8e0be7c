package app

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// Pacer spaces out consecutive connection syncs on one platform.
type Pacer interface {
	Wait(ctx context.Context) error
}

// FixedDelay sleeps a constant duration on the given clock.
type FixedDelay struct {
	Delay time.Duration
	Clock clockwork.Clock
}

func (p FixedDelay) Wait(ctx context.Context) error {
	if p.Delay <= 0 {
		return ctx.Err()
	}
	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	select {
	case <-clock.After(p.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TokenBucket allows short bursts while holding the long-run rate to one call per interval.
type TokenBucket struct {
	limiter *rate.Limiter
}

func NewTokenBucket(every time.Duration, burst int) *TokenBucket {
	return &TokenBucket{limiter: rate.NewLimiter(rate.Every(every), burst)}
}

func (p *TokenBucket) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

type NoDelay struct{}

func (NoDelay) Wait(ctx context.Context) error { return ctx.Err() }
