package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polymon/internal/domain"
)

// SubscriberStore implements domain.SubscriberStore using PostgreSQL.
// Membership has set semantics: subscribing twice is a no-op.
type SubscriberStore struct {
	pool *pgxpool.Pool
}

// NewSubscriberStore creates a new SubscriberStore backed by the given pool.
func NewSubscriberStore(pool *pgxpool.Pool) *SubscriberStore {
	return &SubscriberStore{pool: pool}
}

// Subscribe registers a chat for new-market alerts.
func (s *SubscriberStore) Subscribe(ctx context.Context, chatID int64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO alert_subscribers (chat_id) VALUES ($1)
		 ON CONFLICT (chat_id) DO NOTHING`, chatID)
	if err != nil {
		return fmt.Errorf("postgres: subscribe chat %d: %w", chatID, err)
	}
	return nil
}

// Unsubscribe removes a chat from the alert list. Removing an absent chat
// is a no-op.
func (s *SubscriberStore) Unsubscribe(ctx context.Context, chatID int64) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM alert_subscribers WHERE chat_id = $1`, chatID)
	if err != nil {
		return fmt.Errorf("postgres: unsubscribe chat %d: %w", chatID, err)
	}
	return nil
}

// List returns all subscribed chat IDs.
func (s *SubscriberStore) List(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT chat_id FROM alert_subscribers ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list subscribers: %w", err)
	}
	defer rows.Close()

	var chatIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan subscriber: %w", err)
		}
		chatIDs = append(chatIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list subscribers rows: %w", err)
	}
	return chatIDs, nil
}

// IsSubscribed reports whether a chat receives new-market alerts.
func (s *SubscriberStore) IsSubscribed(ctx context.Context, chatID int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM alert_subscribers WHERE chat_id = $1)`,
		chatID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: check subscriber %d: %w", chatID, err)
	}
	return exists, nil
}

// LiquiditySubscriptionStore implements domain.LiquiditySubscriptionStore
// using PostgreSQL.
type LiquiditySubscriptionStore struct {
	pool *pgxpool.Pool
}

// NewLiquiditySubscriptionStore creates a new store backed by the given pool.
func NewLiquiditySubscriptionStore(pool *pgxpool.Pool) *LiquiditySubscriptionStore {
	return &LiquiditySubscriptionStore{pool: pool}
}

// Add registers a chat to be notified about liquidity changes on a market.
// Watching the same market twice from one chat is a no-op.
func (s *LiquiditySubscriptionStore) Add(ctx context.Context, sub domain.LiquiditySubscription) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO liquidity_subscriptions (market_slug, chat_id) VALUES ($1, $2)
		 ON CONFLICT (market_slug, chat_id) DO NOTHING`,
		sub.MarketSlug, sub.ChatID)
	if err != nil {
		return fmt.Errorf("postgres: add liquidity subscription %s/%d: %w", sub.MarketSlug, sub.ChatID, err)
	}
	return nil
}

// Remove deletes the watch on marketSlug for one chat.
func (s *LiquiditySubscriptionStore) Remove(ctx context.Context, marketSlug string, chatID int64) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM liquidity_subscriptions WHERE market_slug = $1 AND chat_id = $2`,
		marketSlug, chatID)
	if err != nil {
		return fmt.Errorf("postgres: remove liquidity subscription %s/%d: %w", marketSlug, chatID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// RemoveByMarket deletes all watches on marketSlug.
func (s *LiquiditySubscriptionStore) RemoveByMarket(ctx context.Context, marketSlug string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM liquidity_subscriptions WHERE market_slug = $1`, marketSlug)
	if err != nil {
		return fmt.Errorf("postgres: remove liquidity subscriptions for %s: %w", marketSlug, err)
	}
	return nil
}

const liquiditySubCols = `id, market_slug, chat_id, created_at`

func scanLiquiditySubs(rows pgx.Rows) ([]domain.LiquiditySubscription, error) {
	var subs []domain.LiquiditySubscription
	for rows.Next() {
		var sub domain.LiquiditySubscription
		if err := rows.Scan(&sub.ID, &sub.MarketSlug, &sub.ChatID, &sub.CreatedAt); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// ListByMarket returns all watches on the given market.
func (s *LiquiditySubscriptionStore) ListByMarket(ctx context.Context, marketSlug string) ([]domain.LiquiditySubscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+liquiditySubCols+` FROM liquidity_subscriptions WHERE market_slug = $1`,
		marketSlug)
	if err != nil {
		return nil, fmt.Errorf("postgres: list liquidity subscriptions for %s: %w", marketSlug, err)
	}
	defer rows.Close()

	subs, err := scanLiquiditySubs(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan liquidity subscriptions: %w", err)
	}
	return subs, nil
}

// ListAll returns every liquidity watch across all markets.
func (s *LiquiditySubscriptionStore) ListAll(ctx context.Context) ([]domain.LiquiditySubscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+liquiditySubCols+` FROM liquidity_subscriptions ORDER BY market_slug`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list liquidity subscriptions: %w", err)
	}
	defer rows.Close()

	subs, err := scanLiquiditySubs(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan liquidity subscriptions: %w", err)
	}
	return subs, nil
}
