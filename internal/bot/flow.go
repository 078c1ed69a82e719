package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/alanyoungcy/polymon/internal/domain"
)

// Callback data prefixes used by the order conversation.
const (
	cbMarketOrder = "market_order:"
	cbLimitOrder  = "limit_order:"
	cbOutcome     = "outcome:"
	cbSide        = "side:"
)

// OrderSubmitter persists, signs, and submits an order, returning it with
// its final status.
type OrderSubmitter interface {
	Submit(ctx context.Context, order domain.Order) (domain.Order, error)
}

// MarketLookup resolves a market by slug.
type MarketLookup interface {
	GetBySlug(ctx context.Context, slug string) (domain.Market, error)
}

// Reply is what a conversation step wants sent back to the chat.
type Reply struct {
	Text     string
	Keyboard *InlineKeyboardMarkup
}

// Flow is the order conversation state machine. State lives in the session
// store keyed by (chat, user); each handler loads the session, applies the
// input, and either advances the state or re-prompts without moving.
type Flow struct {
	sessions domain.SessionStore
	markets  MarketLookup
	orders   OrderSubmitter
	logger   *slog.Logger
}

// NewFlow creates a Flow over the given session store and collaborators.
func NewFlow(sessions domain.SessionStore, markets MarketLookup, orders OrderSubmitter, logger *slog.Logger) *Flow {
	return &Flow{
		sessions: sessions,
		markets:  markets,
		orders:   orders,
		logger:   logger.With(slog.String("component", "order_flow")),
	}
}

// HandleCallback processes an inline keyboard press. It reports handled =
// false when the data does not belong to the order conversation.
func (f *Flow) HandleCallback(ctx context.Context, chatID, userID int64, data string) (Reply, bool, error) {
	switch {
	case strings.HasPrefix(data, cbMarketOrder):
		r, err := f.start(ctx, chatID, userID, strings.TrimPrefix(data, cbMarketOrder), domain.OrderTypeMarket)
		return r, true, err
	case strings.HasPrefix(data, cbLimitOrder):
		r, err := f.start(ctx, chatID, userID, strings.TrimPrefix(data, cbLimitOrder), domain.OrderTypeLimit)
		return r, true, err
	case strings.HasPrefix(data, cbOutcome):
		r, err := f.selectOutcome(ctx, chatID, userID, strings.TrimPrefix(data, cbOutcome))
		return r, true, err
	case strings.HasPrefix(data, cbSide):
		r, err := f.selectSide(ctx, chatID, userID, strings.TrimPrefix(data, cbSide))
		return r, true, err
	}
	return Reply{}, false, nil
}

// HandleText processes free-form text while a conversation is in progress.
// It reports handled = false when no session exists for the (chat, user).
func (f *Flow) HandleText(ctx context.Context, chatID, userID int64, text string) (Reply, bool, error) {
	sess, err := f.sessions.Get(ctx, chatID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Reply{}, false, nil
		}
		return Reply{}, false, fmt.Errorf("bot: load session: %w", err)
	}

	switch sess.State {
	case domain.FlowEnteringAmount:
		r, err := f.enterAmount(ctx, sess, text)
		return r, true, err
	case domain.FlowEnteringPrice:
		r, err := f.enterPrice(ctx, sess, text)
		return r, true, err
	}

	// A session exists but this state expects a button press, not text.
	return Reply{Text: "Please use the buttons above, or /cancel to abort."}, true, nil
}

// Cancel aborts any in-progress conversation for the (chat, user).
func (f *Flow) Cancel(ctx context.Context, chatID, userID int64) (Reply, error) {
	if err := f.sessions.Delete(ctx, chatID, userID); err != nil {
		return Reply{}, fmt.Errorf("bot: clear session: %w", err)
	}
	return Reply{Text: "Order cancelled."}, nil
}

// start opens a conversation at SelectingOutcome for the given market.
func (f *Flow) start(ctx context.Context, chatID, userID int64, slug string, orderType domain.OrderType) (Reply, error) {
	market, err := f.markets.GetBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Reply{Text: fmt.Sprintf("Market %q not found.", slug)}, nil
		}
		return Reply{}, fmt.Errorf("bot: look up market %q: %w", slug, err)
	}
	if len(market.Outcomes) == 0 {
		return Reply{Text: fmt.Sprintf("Market %q has no tradable outcomes.", slug)}, nil
	}

	sess := domain.FlowSession{
		ChatID:     chatID,
		UserID:     userID,
		State:      domain.FlowSelectingOutcome,
		MarketSlug: slug,
		OrderType:  orderType,
	}
	if err := f.sessions.Put(ctx, sess); err != nil {
		return Reply{}, fmt.Errorf("bot: save session: %w", err)
	}

	row := make([]InlineKeyboardButton, 0, len(market.Outcomes))
	for _, outcome := range market.Outcomes {
		row = append(row, InlineKeyboardButton{Text: outcome, CallbackData: cbOutcome + outcome})
	}

	return Reply{
		Text:     fmt.Sprintf("%s\n\nSelect an outcome:", market.Question),
		Keyboard: &InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{row}},
	}, nil
}

// selectOutcome records the chosen outcome and advances to SelectingSide.
func (f *Flow) selectOutcome(ctx context.Context, chatID, userID int64, outcome string) (Reply, error) {
	sess, err := f.sessions.Get(ctx, chatID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Reply{Text: "No order in progress. Use /help to get started."}, nil
		}
		return Reply{}, fmt.Errorf("bot: load session: %w", err)
	}
	if sess.State != domain.FlowSelectingOutcome {
		return Reply{Text: "Please use the buttons above, or /cancel to abort."}, nil
	}

	market, err := f.markets.GetBySlug(ctx, sess.MarketSlug)
	if err != nil {
		return Reply{}, fmt.Errorf("bot: look up market %q: %w", sess.MarketSlug, err)
	}

	tokenID := market.TokenForOutcome(outcome)
	if tokenID == "" {
		return Reply{Text: fmt.Sprintf("Unknown outcome %q, pick one of the buttons above.", outcome)}, nil
	}

	sess.State = domain.FlowSelectingSide
	sess.Outcome = outcome
	sess.TokenID = tokenID
	if err := f.sessions.Put(ctx, sess); err != nil {
		return Reply{}, fmt.Errorf("bot: save session: %w", err)
	}

	return Reply{
		Text: fmt.Sprintf("Outcome: %s\n\nBuy or sell?", outcome),
		Keyboard: &InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{{
			{Text: "Buy", CallbackData: cbSide + string(domain.OrderSideBuy)},
			{Text: "Sell", CallbackData: cbSide + string(domain.OrderSideSell)},
		}}},
	}, nil
}

// selectSide records the side and advances to EnteringAmount.
func (f *Flow) selectSide(ctx context.Context, chatID, userID int64, side string) (Reply, error) {
	sess, err := f.sessions.Get(ctx, chatID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Reply{Text: "No order in progress. Use /help to get started."}, nil
		}
		return Reply{}, fmt.Errorf("bot: load session: %w", err)
	}
	if sess.State != domain.FlowSelectingSide {
		return Reply{Text: "Please use the buttons above, or /cancel to abort."}, nil
	}

	orderSide := domain.OrderSide(side)
	if orderSide != domain.OrderSideBuy && orderSide != domain.OrderSideSell {
		return Reply{Text: "Pick Buy or Sell using the buttons above."}, nil
	}

	sess.State = domain.FlowEnteringAmount
	sess.Side = orderSide
	if err := f.sessions.Put(ctx, sess); err != nil {
		return Reply{}, fmt.Errorf("bot: save session: %w", err)
	}

	prompt := "Enter the number of shares:"
	if sess.OrderType == domain.OrderTypeMarket && orderSide == domain.OrderSideBuy {
		prompt = "Enter the amount in USDC:"
	}
	return Reply{Text: prompt}, nil
}

// enterAmount parses the amount. An unparseable or non-positive value
// re-prompts without leaving EnteringAmount. ParseFloat accepts "NaN" and
// "Inf", which would otherwise slip through a plain sign check.
func (f *Flow) enterAmount(ctx context.Context, sess domain.FlowSession, text string) (Reply, error) {
	amount, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil || math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return Reply{Text: "Invalid amount, enter a positive number:"}, nil
	}

	sess.Size = amount

	if sess.OrderType == domain.OrderTypeLimit {
		sess.State = domain.FlowEnteringPrice
		if err := f.sessions.Put(ctx, sess); err != nil {
			return Reply{}, fmt.Errorf("bot: save session: %w", err)
		}
		return Reply{Text: "Enter the limit price (between 0 and 1):"}, nil
	}

	// Market orders skip the price state and submit directly.
	return f.submit(ctx, sess, nil)
}

// enterPrice parses the limit price. A value outside [0,1] re-prompts
// without leaving EnteringPrice.
func (f *Flow) enterPrice(ctx context.Context, sess domain.FlowSession, text string) (Reply, error) {
	price, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil || math.IsNaN(price) || price < 0 || price > 1 {
		return Reply{Text: "Invalid price, enter a number between 0 and 1:"}, nil
	}
	return f.submit(ctx, sess, &price)
}

// submit builds the order from the finished session and hands it to the
// order service. The session is cleared whatever the outcome.
func (f *Flow) submit(ctx context.Context, sess domain.FlowSession, limitPrice *float64) (Reply, error) {
	if err := f.sessions.Delete(ctx, sess.ChatID, sess.UserID); err != nil {
		f.logger.Error("failed to clear session after submit",
			slog.Int64("chat_id", sess.ChatID),
			slog.Int64("user_id", sess.UserID),
			slog.String("error", err.Error()),
		)
	}

	order := domain.Order{
		MarketSlug: sess.MarketSlug,
		TokenID:    sess.TokenID,
		Outcome:    sess.Outcome,
		Side:       sess.Side,
		Type:       sess.OrderType,
		Size:       sess.Size,
		LimitPrice: limitPrice,
		ChatID:     sess.ChatID,
		UserID:     sess.UserID,
	}

	placed, err := f.orders.Submit(ctx, order)
	if err != nil {
		f.logger.Error("order submission failed",
			slog.String("market", sess.MarketSlug),
			slog.String("error", err.Error()),
		)
		return Reply{Text: "Order failed: " + err.Error()}, nil
	}

	if placed.Status == domain.OrderStatusFailed {
		return Reply{Text: fmt.Sprintf("Order rejected: %s", placed.ErrorText)}, nil
	}

	text := fmt.Sprintf("Order placed.\nID: %s", placed.ID)
	if placed.RemoteID != "" {
		text += "\nExchange ID: " + placed.RemoteID
	}
	if len(placed.TxHashes) > 0 {
		text += "\nTx: " + strings.Join(placed.TxHashes, ", ")
	}
	return Reply{Text: text}, nil
}
