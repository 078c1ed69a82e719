package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/polymon/internal/domain"
	"github.com/redis/go-redis/v9"
)

// marketTTL keeps cached metadata roughly as fresh as one sync cycle.
const marketTTL = 5 * time.Minute

// MarketCache implements domain.MarketCache. Markets are stored as JSON
// under their slug, with a reverse index from each CLOB token ID to the
// slug so the liquidity watcher can resolve book updates without hitting
// Postgres.
//
// Key schema:
//
//	polymon:market:{slug}          JSON Market
//	polymon:market:token:{tokenID} slug
type MarketCache struct {
	rdb *redis.Client
}

// NewMarketCache creates a MarketCache backed by the given Client.
func NewMarketCache(c *Client) *MarketCache {
	return &MarketCache{rdb: c.Underlying()}
}

func marketKey(slug string) string     { return keyPrefix + "market:" + slug }
func marketTokenKey(tok string) string { return keyPrefix + "market:token:" + tok }

// Set caches a market and its token index entries, all with the same TTL
// so the index cannot outlive the market it points at.
func (mc *MarketCache) Set(ctx context.Context, market domain.Market) error {
	data, err := json.Marshal(market)
	if err != nil {
		return fmt.Errorf("redis: marshal market %s: %w", market.Slug, err)
	}

	pipe := mc.rdb.TxPipeline()
	pipe.Set(ctx, marketKey(market.Slug), data, marketTTL)
	for _, tokenID := range market.TokenIDs {
		if tokenID != "" {
			pipe.Set(ctx, marketTokenKey(tokenID), market.Slug, marketTTL)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set market %s: %w", market.Slug, err)
	}
	return nil
}

// Get returns the cached market for slug, or domain.ErrNotFound.
func (mc *MarketCache) Get(ctx context.Context, slug string) (domain.Market, error) {
	data, err := mc.rdb.Get(ctx, marketKey(slug)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("redis: get market %s: %w", slug, err)
	}

	var market domain.Market
	if err := json.Unmarshal(data, &market); err != nil {
		return domain.Market{}, fmt.Errorf("redis: unmarshal market %s: %w", slug, err)
	}
	return market, nil
}

// GetByToken resolves a CLOB token ID through the reverse index. A dangling
// index entry behaves the same as a missing one.
func (mc *MarketCache) GetByToken(ctx context.Context, tokenID string) (domain.Market, error) {
	slug, err := mc.rdb.Get(ctx, marketTokenKey(tokenID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("redis: get market by token %s: %w", tokenID, err)
	}
	return mc.Get(ctx, slug)
}

// Invalidate drops a market and its token index entries. The market is
// read first to learn which index keys to remove.
func (mc *MarketCache) Invalidate(ctx context.Context, slug string) error {
	market, err := mc.Get(ctx, slug)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("redis: invalidate market %s: %w", slug, err)
	}

	keys := []string{marketKey(slug)}
	if err == nil {
		for _, tokenID := range market.TokenIDs {
			if tokenID != "" {
				keys = append(keys, marketTokenKey(tokenID))
			}
		}
	}

	if err := mc.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis: invalidate market %s: %w", slug, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.MarketCache = (*MarketCache)(nil)
