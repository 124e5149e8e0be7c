package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pscheid92/creatorsync/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const leaseKeyPrefix = "creatorsync:lease:"

// releaseScript deletes the key only while it still holds our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// Lease is a SETNX lock with TTL, shared by every instance pointed at the same Redis.
type Lease struct {
	rdb *goredis.Client
}

var _ domain.SyncLease = (*Lease)(nil)

func NewLease(rdb *goredis.Client) *Lease {
	return &Lease{rdb: rdb}
}

func (l *Lease) TryAcquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, leaseKeyPrefix+key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire lease %s: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release is a no-op when the lease expired and someone else took it.
func (l *Lease) Release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{leaseKeyPrefix + key}, token).Err(); err != nil {
		return fmt.Errorf("failed to release lease %s: %w", key, err)
	}
	return nil
}
