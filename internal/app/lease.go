package app

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/creatorsync/internal/domain"
)

// MemoryLease is a single-process SyncLease. Use the Redis lease when running more than one instance.
type MemoryLease struct {
	clock clockwork.Clock

	mu      sync.Mutex
	holders map[string]leaseHolder
}

type leaseHolder struct {
	token     string
	expiresAt time.Time
}

var _ domain.SyncLease = (*MemoryLease)(nil)

func NewMemoryLease(clock clockwork.Clock) *MemoryLease {
	return &MemoryLease{clock: clock, holders: make(map[string]leaseHolder)}
}

func (l *MemoryLease) TryAcquire(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if h, ok := l.holders[key]; ok && now.Before(h.expiresAt) {
		return "", false, nil
	}

	token := uuid.NewString()
	l.holders[key] = leaseHolder{token: token, expiresAt: now.Add(ttl)}
	return token, true, nil
}

func (l *MemoryLease) Release(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if h, ok := l.holders[key]; ok && h.token == token {
		delete(l.holders, key)
	}
	return nil
}
