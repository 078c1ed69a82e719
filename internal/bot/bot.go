package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/polymon/internal/domain"
	"github.com/alanyoungcy/polymon/internal/service"
)

const (
	// pollTimeout is the server-side getUpdates hold time in seconds.
	pollTimeout = 60
	// pollErrorWait is how long the loop pauses after a failed poll.
	pollErrorWait = 3 * time.Second
	// ordersPageLimit caps how many orders a listing command shows.
	ordersPageLimit = 10
)

// API is the Telegram transport surface the bot needs. *Client satisfies
// it; tests inject fakes.
type API interface {
	GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error)
	SendMessage(ctx context.Context, msg OutgoingMessage) error
	AnswerCallbackQuery(ctx context.Context, callbackID, text string) error
}

// OrderReader lists previously placed orders.
type OrderReader interface {
	ListByOwner(ctx context.Context, chatID int64, opts domain.ListOpts) ([]domain.Order, error)
	ListByMarket(ctx context.Context, marketSlug string, opts domain.ListOpts) ([]domain.Order, error)
}

// StatusReporter produces the /status report.
type StatusReporter interface {
	Report(ctx context.Context) (service.Status, error)
}

// Bot long-polls Telegram for updates and routes them to command handlers
// and the order conversation.
type Bot struct {
	api     API
	flow    *Flow
	subs    domain.SubscriberStore
	watches domain.LiquiditySubscriptionStore
	orders  OrderReader
	markets MarketLookup
	status  StatusReporter
	limiter domain.RateLimiter
	logger  *slog.Logger
}

// New creates a Bot with all required dependencies.
func New(
	api API,
	flow *Flow,
	subs domain.SubscriberStore,
	watches domain.LiquiditySubscriptionStore,
	orders OrderReader,
	markets MarketLookup,
	status StatusReporter,
	limiter domain.RateLimiter,
	logger *slog.Logger,
) *Bot {
	return &Bot{
		api:     api,
		flow:    flow,
		subs:    subs,
		watches: watches,
		orders:  orders,
		markets: markets,
		status:  status,
		limiter: limiter,
		logger:  logger.With(slog.String("component", "bot")),
	}
}

// Run long-polls for updates until the context is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("bot started")

	var offset int64
	for {
		updates, err := b.api.GetUpdates(ctx, offset, pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				b.logger.Info("bot stopped")
				return ctx.Err()
			}
			b.logger.Error("poll failed", slog.String("error", err.Error()))
			timer := time.NewTimer(pollErrorWait)
			select {
			case <-ctx.Done():
				timer.Stop()
				b.logger.Info("bot stopped")
				return ctx.Err()
			case <-timer.C:
			}
			continue
		}

		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			b.handleUpdate(ctx, update)
		}
	}
}

// handleUpdate dispatches one update. Handler errors are logged, never
// fatal to the poll loop.
func (b *Bot) handleUpdate(ctx context.Context, update Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, *update.CallbackQuery)
	case update.Message != nil && update.Message.Text != "":
		b.handleMessage(ctx, *update.Message)
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb CallbackQuery) {
	if cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID
	userID := cb.From.ID

	reply, handled, err := b.flow.HandleCallback(ctx, chatID, userID, cb.Data)
	if err != nil {
		b.logger.Error("callback handling failed",
			slog.String("data", cb.Data),
			slog.String("error", err.Error()),
		)
		reply = Reply{Text: "Something went wrong, please try again."}
		handled = true
	}

	if ackErr := b.api.AnswerCallbackQuery(ctx, cb.ID, ""); ackErr != nil {
		b.logger.Warn("callback ack failed", slog.String("error", ackErr.Error()))
	}
	if handled && reply.Text != "" {
		b.send(ctx, chatID, reply)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg Message) {
	chatID := msg.Chat.ID
	var userID int64
	if msg.From != nil {
		userID = msg.From.ID
	}

	if strings.HasPrefix(msg.Text, "/") {
		b.handleCommand(ctx, chatID, userID, msg.Text)
		return
	}

	reply, handled, err := b.flow.HandleText(ctx, chatID, userID, msg.Text)
	if err != nil {
		b.logger.Error("text handling failed", slog.String("error", err.Error()))
		b.send(ctx, chatID, Reply{Text: "Something went wrong, please try again."})
		return
	}
	if handled {
		b.send(ctx, chatID, reply)
	}
}

func (b *Bot) handleCommand(ctx context.Context, chatID, userID int64, text string) {
	fields := strings.Fields(text)
	cmd := fields[0]
	// Commands in groups arrive as /cmd@botname.
	if at := strings.IndexByte(cmd, '@'); at > 0 {
		cmd = cmd[:at]
	}
	var arg string
	if len(fields) > 1 {
		arg = fields[1]
	}

	var reply Reply
	var err error

	switch cmd {
	case "/start":
		reply = Reply{Text: "Welcome to polymon.\n\n" + helpText}
	case "/help":
		reply = Reply{Text: helpText}
	case "/subscribe":
		reply, err = b.subscribe(ctx, chatID)
	case "/unsubscribe":
		reply, err = b.unsubscribe(ctx, chatID)
	case "/orders":
		reply, err = b.listOwnOrders(ctx, chatID)
	case "/market_orders":
		reply, err = b.listMarketOrders(ctx, arg)
	case "/watch":
		reply, err = b.watch(ctx, chatID, arg)
	case "/unwatch":
		reply, err = b.unwatch(ctx, chatID, arg)
	case "/status":
		reply, err = b.statusReport(ctx)
	case "/cancel":
		reply, err = b.flow.Cancel(ctx, chatID, userID)
	default:
		reply = Reply{Text: "Unknown command. " + helpHint}
	}

	if err != nil {
		b.logger.Error("command failed",
			slog.String("command", cmd),
			slog.String("error", err.Error()),
		)
		reply = Reply{Text: "Something went wrong, please try again."}
	}
	b.send(ctx, chatID, reply)
}

const helpHint = "Use /help for the command list."

const helpText = `Commands:
/subscribe - receive new market alerts
/unsubscribe - stop receiving alerts
/orders - your recent orders
/market_orders <slug> - orders for a market
/watch <slug> - alert on liquidity changes
/unwatch <slug> - stop liquidity alerts
/status - mirror and connectivity status
/cancel - abort an in-progress order`

func (b *Bot) subscribe(ctx context.Context, chatID int64) (Reply, error) {
	already, err := b.subs.IsSubscribed(ctx, chatID)
	if err != nil {
		return Reply{}, err
	}
	if already {
		return Reply{Text: "Already subscribed to new market alerts."}, nil
	}
	if err := b.subs.Subscribe(ctx, chatID); err != nil {
		return Reply{}, err
	}
	return Reply{Text: "Subscribed to new market alerts."}, nil
}

func (b *Bot) unsubscribe(ctx context.Context, chatID int64) (Reply, error) {
	if err := b.subs.Unsubscribe(ctx, chatID); err != nil {
		return Reply{}, err
	}
	return Reply{Text: "Unsubscribed from new market alerts."}, nil
}

func (b *Bot) listOwnOrders(ctx context.Context, chatID int64) (Reply, error) {
	orders, err := b.orders.ListByOwner(ctx, chatID, domain.ListOpts{Limit: ordersPageLimit})
	if err != nil {
		return Reply{}, err
	}
	if len(orders) == 0 {
		return Reply{Text: "No orders yet."}, nil
	}
	return Reply{Text: formatOrders(orders)}, nil
}

func (b *Bot) listMarketOrders(ctx context.Context, slug string) (Reply, error) {
	if slug == "" {
		return Reply{Text: "Usage: /market_orders <slug>"}, nil
	}
	orders, err := b.orders.ListByMarket(ctx, slug, domain.ListOpts{Limit: ordersPageLimit})
	if err != nil {
		return Reply{}, err
	}
	if len(orders) == 0 {
		return Reply{Text: fmt.Sprintf("No orders for %s.", slug)}, nil
	}
	return Reply{Text: formatOrders(orders)}, nil
}

func (b *Bot) watch(ctx context.Context, chatID int64, slug string) (Reply, error) {
	if slug == "" {
		return Reply{Text: "Usage: /watch <slug>"}, nil
	}
	if _, err := b.markets.GetBySlug(ctx, slug); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Reply{Text: fmt.Sprintf("Market %q not found.", slug)}, nil
		}
		return Reply{}, err
	}
	sub := domain.LiquiditySubscription{MarketSlug: slug, ChatID: chatID}
	if err := b.watches.Add(ctx, sub); err != nil {
		return Reply{}, err
	}
	return Reply{Text: fmt.Sprintf("Watching liquidity on %s.", slug)}, nil
}

func (b *Bot) unwatch(ctx context.Context, chatID int64, slug string) (Reply, error) {
	if slug == "" {
		return Reply{Text: "Usage: /unwatch <slug>"}, nil
	}
	if err := b.watches.Remove(ctx, slug, chatID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Reply{Text: fmt.Sprintf("You are not watching %s.", slug)}, nil
		}
		return Reply{}, err
	}
	return Reply{Text: fmt.Sprintf("Stopped watching %s.", slug)}, nil
}

func (b *Bot) statusReport(ctx context.Context) (Reply, error) {
	report, err := b.status.Report(ctx)
	if err != nil {
		return Reply{}, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Mirror: %d events, %d markets\n", report.Events, report.Markets)
	for name, state := range report.Components {
		fmt.Fprintf(&sb, "%s: %s\n", name, state)
	}
	return Reply{Text: strings.TrimRight(sb.String(), "\n")}, nil
}

// formatOrders renders an order listing, newest first.
func formatOrders(orders []domain.Order) string {
	var sb strings.Builder
	for _, o := range orders {
		fmt.Fprintf(&sb, "%s %s %s %.2f [%s]",
			strings.ToUpper(string(o.Side)), o.Type, o.MarketSlug, o.Size, o.Status)
		if o.ErrorText != "" {
			fmt.Fprintf(&sb, " %s", o.ErrorText)
		}
		sb.WriteByte('\n')
	}
	return strings.TrimRight(sb.String(), "\n")
}

// send delivers a reply to a chat, honouring the per-chat rate limit.
func (b *Bot) send(ctx context.Context, chatID int64, reply Reply) {
	if reply.Text == "" {
		return
	}
	if err := b.limiter.Wait(ctx, fmt.Sprintf("send:%d", chatID)); err != nil {
		b.logger.Warn("rate limit wait failed", slog.String("error", err.Error()))
		return
	}
	msg := OutgoingMessage{ChatID: chatID, Text: reply.Text, ReplyMarkup: reply.Keyboard}
	if err := b.api.SendMessage(ctx, msg); err != nil {
		b.logger.Error("send failed",
			slog.Int64("chat_id", chatID),
			slog.String("error", err.Error()),
		)
	}
}
