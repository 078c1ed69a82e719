package domain

import "time"

// AlertSubscriber is a chat registered for new-market alerts. Membership
// has set semantics: subscribing twice is a no-op.
type AlertSubscriber struct {
	ChatID    int64
	CreatedAt time.Time
}

// LiquiditySubscription ties a chat to liquidity changes on one market.
// Several chats may watch the same market; removal can be scoped to one
// chat or clear all watchers of the market.
type LiquiditySubscription struct {
	ID         int64
	MarketSlug string
	ChatID     int64
	CreatedAt  time.Time
}
