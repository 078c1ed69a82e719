package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/polymon/internal/domain"
	"github.com/redis/go-redis/v9"
)

// liquidityTTL keeps stale levels from surviving a long feed outage.
const liquidityTTL = 24 * time.Hour

// LiquidityCache implements domain.LiquidityCache using a Redis hash per
// asset holding the last observed book depth and its timestamp.
//
// Key schema:
//
//	liquidity:{assetID} - hash with fields "level" and "ts" (unix nanos)
type LiquidityCache struct {
	rdb *redis.Client
}

// NewLiquidityCache creates a LiquidityCache backed by the given Client.
func NewLiquidityCache(c *Client) *LiquidityCache {
	return &LiquidityCache{rdb: c.Underlying()}
}

func liquidityKey(assetID string) string { return keyPrefix + "liquidity:" + assetID }

// SetLevel records the observed liquidity level for an asset.
func (lc *LiquidityCache) SetLevel(ctx context.Context, assetID string, level float64, ts time.Time) error {
	key := liquidityKey(assetID)

	pipe := lc.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"level", strconv.FormatFloat(level, 'f', -1, 64),
		"ts", strconv.FormatInt(ts.UnixNano(), 10),
	)
	pipe.Expire(ctx, key, liquidityTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set liquidity level %s: %w", assetID, err)
	}
	return nil
}

// GetLevel returns the last observed liquidity level for an asset.
// It returns domain.ErrNotFound when no level has been recorded.
func (lc *LiquidityCache) GetLevel(ctx context.Context, assetID string) (float64, time.Time, error) {
	vals, err := lc.rdb.HGetAll(ctx, liquidityKey(assetID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, time.Time{}, fmt.Errorf("redis: get liquidity level %s: %w", assetID, err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}

	level, err := strconv.ParseFloat(vals["level"], 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse liquidity level %s: %w", assetID, err)
	}

	var ts time.Time
	if tsStr, ok := vals["ts"]; ok {
		if nanos, err := strconv.ParseInt(tsStr, 10, 64); err == nil {
			ts = time.Unix(0, nanos)
		}
	}

	return level, ts, nil
}

// Compile-time interface check.
var _ domain.LiquidityCache = (*LiquidityCache)(nil)
