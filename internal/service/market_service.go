package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/polymon/internal/domain"
)

// MarketService serves market lookups for the bot, checking the cache
// before the persistent mirror.
type MarketService struct {
	markets domain.MarketStore
	cache   domain.MarketCache
	logger  *slog.Logger
}

// NewMarketService creates a MarketService with all required dependencies.
func NewMarketService(
	markets domain.MarketStore,
	cache domain.MarketCache,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		markets: markets,
		cache:   cache,
		logger:  logger.With(slog.String("component", "market_service")),
	}
}

// GetBySlug retrieves a market by slug, checking the cache first and
// falling back to the mirror on a miss.
func (s *MarketService) GetBySlug(ctx context.Context, slug string) (domain.Market, error) {
	m, err := s.cache.Get(ctx, slug)
	if err == nil {
		return m, nil
	}

	m, err = s.markets.GetBySlug(ctx, slug)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get by slug %q: %w", slug, err)
	}

	// Back-fill the cache; log but do not fail on cache write errors.
	if cacheErr := s.cache.Set(ctx, m); cacheErr != nil {
		s.logger.WarnContext(ctx, "cache set failed",
			slog.String("slug", slug),
			slog.String("error", cacheErr.Error()),
		)
	}

	return m, nil
}

// GetByToken resolves a market through the cache's token index. The index
// only exists for cached markets, so a miss is reported as not found; the
// mirror has no token column to fall back on.
func (s *MarketService) GetByToken(ctx context.Context, tokenID string) (domain.Market, error) {
	m, err := s.cache.GetByToken(ctx, tokenID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get by token %q: %w", tokenID, err)
	}
	return m, nil
}

// RefreshCached refreshes the cache entries for a batch of markets after a
// sync pass touched them. Each entry is invalidated before the rewrite so
// token index entries from a previous version do not linger.
func (s *MarketService) RefreshCached(ctx context.Context, markets []domain.Market) {
	for _, m := range markets {
		if err := s.cache.Invalidate(ctx, m.Slug); err != nil {
			s.logger.WarnContext(ctx, "cache invalidate failed",
				slog.String("slug", m.Slug),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := s.cache.Set(ctx, m); err != nil {
			s.logger.WarnContext(ctx, "cache refresh failed",
				slog.String("slug", m.Slug),
				slog.String("error", err.Error()),
			)
		}
	}
}

// ListActive returns active markets from the mirror, highest liquidity
// first.
func (s *MarketService) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := s.markets.ListActive(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list active: %w", err)
	}
	return markets, nil
}
