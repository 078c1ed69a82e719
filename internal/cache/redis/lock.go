package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/polymon/internal/domain"
)

// unlockScript releases a lock only when the stored token matches, so a
// holder whose TTL expired cannot release a lock someone else re-acquired.
const unlockScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager is the distributed lock the monitor passes take before a
// delta cycle. SETNX with a TTL plus a token-checked Lua unlock.
type LockManager struct {
	rdb    *redis.Client
	unlock *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:    c.Underlying(),
		unlock: redis.NewScript(unlockScript),
	}
}

var _ domain.LockManager = (*LockManager)(nil)

func lockKey(key string) string {
	return keyPrefix + "lock:" + key
}

// Acquire takes the lock for key with the given TTL. Returns
// domain.ErrLockHeld when another holder has it. The returned release
// function is idempotent and works even after the caller's context is
// cancelled.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	lk := lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlock.Run(releaseCtx, lm.rdb, []string{lk}, token).Err()
		})
	}
	return release, nil
}
