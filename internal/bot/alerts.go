package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polymon/internal/domain"
)

// NewMarketChannel is the signal bus channel the monitor publishes
// new-market discoveries on.
const NewMarketChannel = "markets:new"

// NewMarketStream is the durable log backing the channel. Pub/sub delivery
// is fire-and-forget; announcements published while the fanout is down are
// recovered from the stream at startup.
const NewMarketStream = "markets:new:log"

// replayBatch is how many stream entries one replay read fetches.
const replayBatch = 100

// PublishNewMarkets returns a hook for the market monitor that announces
// each newly mirrored market on the signal bus. Every announcement goes to
// both the live channel and the durable stream.
func PublishNewMarkets(bus domain.SignalBus, logger *slog.Logger) func(ctx context.Context, markets []domain.Market) {
	log := logger.With(slog.String("component", "market_announcer"))
	return func(ctx context.Context, markets []domain.Market) {
		for _, m := range markets {
			payload, err := json.Marshal(m)
			if err != nil {
				log.Error("marshal market failed",
					slog.String("slug", m.Slug),
					slog.String("error", err.Error()),
				)
				continue
			}
			if err := bus.StreamAppend(ctx, NewMarketStream, payload); err != nil {
				log.Error("append announcement failed",
					slog.String("slug", m.Slug),
					slog.String("error", err.Error()),
				)
			}
			if err := bus.Publish(ctx, NewMarketChannel, payload); err != nil {
				log.Error("publish market failed",
					slog.String("slug", m.Slug),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// AlertFanout consumes new-market announcements from the signal bus and
// delivers them to every subscribed chat. A failed send to one chat is
// logged and does not block delivery to the rest.
type AlertFanout struct {
	bus     domain.SignalBus
	subs    domain.SubscriberStore
	sender  MessageSender
	limiter domain.RateLimiter

	// recentWindow filters out back-catalogue markets: only markets whose
	// start date falls within the window are announced. Zero disables the
	// filter.
	recentWindow time.Duration

	// announced tracks slugs already fanned out this process, so a market
	// seen both in the stream replay and live is delivered once.
	announced map[string]struct{}

	logger *slog.Logger
}

// MessageSender delivers one outgoing message.
type MessageSender interface {
	SendMessage(ctx context.Context, msg OutgoingMessage) error
}

// NewAlertFanout creates an AlertFanout.
func NewAlertFanout(
	bus domain.SignalBus,
	subs domain.SubscriberStore,
	sender MessageSender,
	limiter domain.RateLimiter,
	recentWindow time.Duration,
	logger *slog.Logger,
) *AlertFanout {
	return &AlertFanout{
		bus:          bus,
		subs:         subs,
		sender:       sender,
		limiter:      limiter,
		recentWindow: recentWindow,
		announced:    make(map[string]struct{}),
		logger:       logger.With(slog.String("component", "alert_fanout")),
	}
}

// Run consumes announcements until the context is cancelled.
func (a *AlertFanout) Run(ctx context.Context) error {
	ch, err := a.bus.Subscribe(ctx, NewMarketChannel)
	if err != nil {
		return fmt.Errorf("bot: subscribe %s: %w", NewMarketChannel, err)
	}

	// Subscribe first, then replay: announcements arriving during the
	// replay are deduplicated, announcements before it would be lost.
	a.replay(ctx)

	a.logger.Info("alert fanout started")
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("alert fanout stopped")
			return ctx.Err()
		case payload, ok := <-ch:
			if !ok {
				a.logger.Info("alert fanout stopped")
				return ctx.Err()
			}
			a.handle(ctx, payload)
		}
	}
}

// replay catches up on announcements logged while the fanout was down.
// The recent-window filter in handle keeps old stream entries from being
// re-announced; with the filter disabled the replay is skipped, otherwise
// every entry in the log would fan out again on each restart.
func (a *AlertFanout) replay(ctx context.Context) {
	if a.recentWindow <= 0 {
		return
	}

	lastID := "0"
	for {
		msgs, err := a.bus.StreamRead(ctx, NewMarketStream, lastID, replayBatch)
		if err != nil {
			a.logger.Warn("announcement replay failed", slog.String("error", err.Error()))
			return
		}
		if len(msgs) == 0 {
			return
		}
		for _, msg := range msgs {
			a.handle(ctx, msg.Payload)
			lastID = msg.ID
		}
		if len(msgs) < replayBatch {
			return
		}
	}
}

// handle fans one announcement out to all subscribers.
func (a *AlertFanout) handle(ctx context.Context, payload []byte) {
	var market domain.Market
	if err := json.Unmarshal(payload, &market); err != nil {
		a.logger.Error("decode announcement failed", slog.String("error", err.Error()))
		return
	}

	if _, dup := a.announced[market.Slug]; dup {
		return
	}

	if !a.isRecent(market) {
		a.logger.Debug("skipping back-catalogue market", slog.String("slug", market.Slug))
		return
	}
	a.announced[market.Slug] = struct{}{}

	chatIDs, err := a.subs.List(ctx)
	if err != nil {
		a.logger.Error("list subscribers failed", slog.String("error", err.Error()))
		return
	}
	if len(chatIDs) == 0 {
		return
	}

	msgText := formatMarketAlert(market)
	keyboard := &InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{{
		{Text: "Market order", CallbackData: cbMarketOrder + market.Slug},
		{Text: "Limit order", CallbackData: cbLimitOrder + market.Slug},
	}}}

	delivered := 0
	for _, chatID := range chatIDs {
		if err := a.limiter.Wait(ctx, fmt.Sprintf("send:%d", chatID)); err != nil {
			a.logger.Warn("rate limit wait failed",
				slog.Int64("chat_id", chatID),
				slog.String("error", err.Error()),
			)
			continue
		}
		msg := OutgoingMessage{ChatID: chatID, Text: msgText, ReplyMarkup: keyboard}
		if err := a.sender.SendMessage(ctx, msg); err != nil {
			a.logger.Error("alert delivery failed",
				slog.Int64("chat_id", chatID),
				slog.String("error", err.Error()),
			)
			continue
		}
		delivered++
	}

	a.logger.Info("alert fanned out",
		slog.String("slug", market.Slug),
		slog.Int("subscribers", len(chatIDs)),
		slog.Int("delivered", delivered),
	)
}

// isRecent reports whether the market's start date falls within the
// configured recent window.
func (a *AlertFanout) isRecent(market domain.Market) bool {
	if a.recentWindow <= 0 || market.StartDate == nil {
		return true
	}
	return time.Since(*market.StartDate) <= a.recentWindow
}

// formatMarketAlert renders the announcement text for one market.
func formatMarketAlert(market domain.Market) string {
	text := "New market: " + market.Question + "\n" + market.Slug
	if market.Liquidity > 0 {
		text += fmt.Sprintf("\nLiquidity: %.0f USDC", market.Liquidity)
	}
	return text
}
