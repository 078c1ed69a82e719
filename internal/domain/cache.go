package domain

import (
	"context"
	"time"
)

// MarketCache provides fast market metadata lookups.
type MarketCache interface {
	Set(ctx context.Context, market Market) error
	Get(ctx context.Context, slug string) (Market, error)
	GetByToken(ctx context.Context, tokenID string) (Market, error)
	Invalidate(ctx context.Context, slug string) error
}

// LiquidityCache stores the last observed liquidity level per asset so
// the watcher can detect relative changes across book snapshots.
type LiquidityCache interface {
	SetLevel(ctx context.Context, assetID string, level float64, ts time.Time) error
	GetLevel(ctx context.Context, assetID string) (float64, time.Time, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams. The monitor publishes
// new-market discoveries on it; the bot consumes them for alert fan-out.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
