package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/polymon/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

// waitPollInterval paces the retry loop in Wait.
const waitPollInterval = 50 * time.Millisecond

// RateLimiter is a sliding-window limiter on Redis sorted sets. The window
// bookkeeping and the admit decision happen atomically in a Lua script.
type RateLimiter struct {
	rdb    *redis.Client
	script *redis.Script

	// waitLimit/waitWindow are the per-key budget Wait enforces. Allow
	// takes explicit parameters instead.
	waitLimit  int
	waitWindow time.Duration
}

// NewRateLimiter creates a RateLimiter. waitLimit and waitWindow configure
// the budget used by Wait, typically the per-chat outbound send limit.
func NewRateLimiter(c *Client, waitLimit int, waitWindow time.Duration) *RateLimiter {
	if waitLimit < 1 {
		waitLimit = 1
	}
	if waitWindow <= 0 {
		waitWindow = time.Second
	}
	return &RateLimiter{
		rdb:        c.Underlying(),
		script:     redis.NewScript(slidingWindowLua),
		waitLimit:  waitLimit,
		waitWindow: waitWindow,
	}
}

var _ domain.RateLimiter = (*RateLimiter)(nil)

func rateLimitKey(key string) string {
	return keyPrefix + "ratelimit:" + key
}

// Allow admits a request for key when fewer than limit requests happened in
// the trailing window. An admitted request is counted.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	result, err := rl.script.Run(
		ctx,
		rl.rdb,
		[]string{rateLimitKey(key)},
		time.Now().UnixMicro(),
		window.Microseconds(),
		limit,
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit allow %s: %w", key, err)
	}
	if len(result) < 2 {
		return false, fmt.Errorf("redis: rate limit allow %s: unexpected result length %d", key, len(result))
	}
	return result[0] == 1, nil
}

// Wait blocks until key has budget under the configured wait limit, polling
// at a fixed interval. Returns the context error when cancelled.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	for {
		allowed, err := rl.Allow(ctx, key, rl.waitLimit, rl.waitWindow)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		timer := time.NewTimer(waitPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("redis: rate limit wait %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}
