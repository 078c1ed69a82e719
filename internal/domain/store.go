package domain

import "context"

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// EventStore persists mirrored events.
type EventStore interface {
	Upsert(ctx context.Context, event Event) error
	GetByID(ctx context.Context, id string) (Event, error)
	// ExistingIDs reports which of the given IDs are present in the mirror.
	ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error)
	Count(ctx context.Context) (int64, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]Event, error)
}

// MarketStore persists mirrored markets keyed by slug.
type MarketStore interface {
	Upsert(ctx context.Context, market Market) error
	GetBySlug(ctx context.Context, slug string) (Market, error)
	// ExistingSlugs reports which of the given slugs are present.
	ExistingSlugs(ctx context.Context, slugs []string) (map[string]bool, error)
	Count(ctx context.Context) (int64, error)
	ListActive(ctx context.Context, opts ListOpts) ([]Market, error)
	// List pages through the whole collection in slug order.
	List(ctx context.Context, opts ListOpts) ([]Market, error)
}

// OrderStore persists orders placed through the bot.
type OrderStore interface {
	Create(ctx context.Context, order Order) error
	// SetResult transitions a pending order to success or failed and stores
	// the remote order ID, transaction hashes, and error text.
	SetResult(ctx context.Context, id string, status OrderStatus, res OrderResult) error
	UpdateStatus(ctx context.Context, id string, status OrderStatus) error
	GetByID(ctx context.Context, id string) (Order, error)
	ListByOwner(ctx context.Context, chatID int64, opts ListOpts) ([]Order, error)
	ListByMarket(ctx context.Context, marketSlug string, opts ListOpts) ([]Order, error)
}

// SubscriberStore persists the set of chats receiving new-market alerts.
type SubscriberStore interface {
	Subscribe(ctx context.Context, chatID int64) error
	Unsubscribe(ctx context.Context, chatID int64) error
	List(ctx context.Context) ([]int64, error)
	IsSubscribed(ctx context.Context, chatID int64) (bool, error)
}

// LiquiditySubscriptionStore persists per-market liquidity watches.
type LiquiditySubscriptionStore interface {
	Add(ctx context.Context, sub LiquiditySubscription) error
	// Remove deletes the watch on marketSlug for one chat.
	Remove(ctx context.Context, marketSlug string, chatID int64) error
	// RemoveByMarket deletes all watches on marketSlug.
	RemoveByMarket(ctx context.Context, marketSlug string) error
	ListByMarket(ctx context.Context, marketSlug string) ([]LiquiditySubscription, error)
	ListAll(ctx context.Context) ([]LiquiditySubscription, error)
}

// SessionStore persists order-flow conversation sessions.
type SessionStore interface {
	Get(ctx context.Context, chatID, userID int64) (FlowSession, error)
	Put(ctx context.Context, sess FlowSession) error
	Delete(ctx context.Context, chatID, userID int64) error
}
