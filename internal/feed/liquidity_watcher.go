// Package feed watches the CLOB market WebSocket and raises liquidity
// alerts for subscribed chats.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alanyoungcy/polymon/internal/domain"
	"github.com/alanyoungcy/polymon/internal/platform/polymarket"
)

const (
	// refreshInterval is how often the watcher rebuilds its subscription
	// set so new /watch registrations take effect.
	refreshInterval = 5 * time.Minute
	// reconnectWait paces reconnect attempts after a dropped connection.
	reconnectWait = 2 * time.Second
	// idleWait is how long the watcher sleeps when nobody is watching
	// anything.
	idleWait = 30 * time.Second
)

// MarketResolver resolves a market by slug or by one of its CLOB token IDs.
type MarketResolver interface {
	GetBySlug(ctx context.Context, slug string) (domain.Market, error)
	GetByToken(ctx context.Context, tokenID string) (domain.Market, error)
}

// NotifyFunc delivers one alert text to a chat.
type NotifyFunc func(ctx context.Context, chatID int64, text string) error

// LiquidityWatcher subscribes to book updates for every watched market's
// CLOB tokens, tracks total depth per token, and alerts the watching chats
// when the depth moves more than the threshold relative to the previous
// observation.
type LiquidityWatcher struct {
	wsURL     string
	watches   domain.LiquiditySubscriptionStore
	markets   MarketResolver
	levels    domain.LiquidityCache
	notify    NotifyFunc
	threshold float64 // relative change, e.g. 0.2 for 20%
	logger    *slog.Logger
}

// NewLiquidityWatcher creates a LiquidityWatcher.
func NewLiquidityWatcher(
	wsURL string,
	watches domain.LiquiditySubscriptionStore,
	markets MarketResolver,
	levels domain.LiquidityCache,
	notify NotifyFunc,
	threshold float64,
	logger *slog.Logger,
) *LiquidityWatcher {
	return &LiquidityWatcher{
		wsURL:     wsURL,
		watches:   watches,
		markets:   markets,
		levels:    levels,
		notify:    notify,
		threshold: threshold,
		logger:    logger.With(slog.String("component", "liquidity_watcher")),
	}
}

// Run watches until the context is cancelled. The subscription set is
// rebuilt every refresh interval and after every disconnect.
func (w *LiquidityWatcher) Run(ctx context.Context) error {
	w.logger.Info("liquidity watcher started", slog.Float64("threshold", w.threshold))

	for {
		if ctx.Err() != nil {
			w.logger.Info("liquidity watcher stopped")
			return ctx.Err()
		}

		tokenSlugs, err := w.buildTokenSet(ctx)
		if err != nil {
			w.logger.Error("building token set failed", slog.String("error", err.Error()))
			if err := sleepCtx(ctx, reconnectWait); err != nil {
				return err
			}
			continue
		}
		if len(tokenSlugs) == 0 {
			w.logger.Debug("no liquidity watches registered")
			if err := sleepCtx(ctx, idleWait); err != nil {
				return err
			}
			continue
		}

		if err := w.runConnection(ctx, tokenSlugs); err != nil && ctx.Err() == nil {
			w.logger.Warn("feed disconnected, reconnecting", slog.String("error", err.Error()))
			if err := sleepCtx(ctx, reconnectWait); err != nil {
				return err
			}
		}
	}
}

// buildTokenSet maps every watched market's CLOB token IDs to the market
// slug. Watches on markets that have since closed are dropped for every
// watcher; there is no liquidity left to alert on.
func (w *LiquidityWatcher) buildTokenSet(ctx context.Context) (map[string]string, error) {
	subs, err := w.watches.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("feed: list watches: %w", err)
	}

	tokenSlugs := make(map[string]string)
	seen := make(map[string]bool)
	for _, sub := range subs {
		if seen[sub.MarketSlug] {
			continue
		}
		seen[sub.MarketSlug] = true

		market, err := w.markets.GetBySlug(ctx, sub.MarketSlug)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				w.logger.Warn("watched market missing from mirror", slog.String("slug", sub.MarketSlug))
				continue
			}
			return nil, fmt.Errorf("feed: resolve market %q: %w", sub.MarketSlug, err)
		}
		if market.Closed {
			w.logger.Info("dropping watches on closed market", slog.String("slug", market.Slug))
			if err := w.watches.RemoveByMarket(ctx, market.Slug); err != nil {
				w.logger.Error("removing closed market watches failed",
					slog.String("slug", market.Slug),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		for _, tokenID := range market.TokenIDs {
			if tokenID != "" {
				tokenSlugs[tokenID] = market.Slug
			}
		}
	}
	return tokenSlugs, nil
}

// runConnection holds one WebSocket session until the refresh interval
// elapses or the context is cancelled.
func (w *LiquidityWatcher) runConnection(ctx context.Context, tokenSlugs map[string]string) error {
	connCtx, cancel := context.WithTimeout(ctx, refreshInterval)
	defer cancel()

	client := polymarket.NewWSClient(w.wsURL)
	defer client.Close()

	client.OnBookUpdate(func(snap domain.OrderbookSnapshot) {
		w.handleBook(ctx, tokenSlugs, snap)
	})

	if err := client.Connect(connCtx); err != nil {
		return err
	}

	assetIDs := make([]string, 0, len(tokenSlugs))
	for tokenID := range tokenSlugs {
		assetIDs = append(assetIDs, tokenID)
	}
	if err := client.Subscribe(connCtx, "book", assetIDs); err != nil {
		return err
	}
	w.logger.Info("subscribed to book updates", slog.Int("assets", len(assetIDs)))

	select {
	case <-connCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Refresh interval elapsed; reconnect with a fresh subscription set.
		return nil
	case <-client.Done():
		return fmt.Errorf("feed: %w", domain.ErrWSDisconnect)
	}
}

// handleBook compares the snapshot's depth against the previous level and
// alerts the watching chats on a significant move.
func (w *LiquidityWatcher) handleBook(ctx context.Context, tokenSlugs map[string]string, snap domain.OrderbookSnapshot) {
	slug, ok := tokenSlugs[snap.AssetID]
	if !ok {
		// The mirror can re-key a market's tokens between refreshes. Resolve
		// through the token index before dropping the frame.
		market, err := w.markets.GetByToken(ctx, snap.AssetID)
		if err != nil {
			return
		}
		slug = market.Slug
		tokenSlugs[snap.AssetID] = slug
	}

	depth := snap.Depth()

	previous, _, err := w.levels.GetLevel(ctx, snap.AssetID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		w.logger.Error("reading previous level failed",
			slog.String("asset", snap.AssetID),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := w.levels.SetLevel(ctx, snap.AssetID, depth, snap.Timestamp); err != nil {
		w.logger.Error("storing level failed",
			slog.String("asset", snap.AssetID),
			slog.String("error", err.Error()),
		)
	}

	// First observation establishes the baseline.
	if errors.Is(err, domain.ErrNotFound) || previous <= 0 {
		return
	}

	change := math.Abs(depth-previous) / previous
	if change < w.threshold {
		return
	}

	w.alert(ctx, slug, previous, depth, change)
}

// alert notifies every chat watching the market. One failed delivery does
// not block the rest.
func (w *LiquidityWatcher) alert(ctx context.Context, slug string, previous, current, change float64) {
	subs, err := w.watches.ListByMarket(ctx, slug)
	if err != nil {
		w.logger.Error("listing watchers failed",
			slog.String("slug", slug),
			slog.String("error", err.Error()),
		)
		return
	}

	direction := "up"
	if current < previous {
		direction = "down"
	}
	text := fmt.Sprintf("Liquidity on %s moved %s %.0f%%: %.0f -> %.0f",
		slug, direction, change*100, previous, current)

	for _, sub := range subs {
		if err := w.notify(ctx, sub.ChatID, text); err != nil {
			w.logger.Error("liquidity alert delivery failed",
				slog.Int64("chat_id", sub.ChatID),
				slog.String("slug", slug),
				slog.String("error", err.Error()),
			)
		}
	}
}

// sleepCtx waits for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
