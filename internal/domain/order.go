package domain

import (
	"math"
	"time"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType distinguishes market orders from limit orders.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus tracks the order lifecycle. Orders are created PENDING and
// move to SUCCESS or FAILED once submission resolves; MATCHED is only
// reachable from SUCCESS.
type OrderStatus string

const (
	OrderStatusPending OrderStatus = "pending"
	OrderStatusSuccess OrderStatus = "success"
	OrderStatusFailed  OrderStatus = "failed"
	OrderStatusMatched OrderStatus = "matched"
)

// CanTransition reports whether a status change is allowed.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	switch s {
	case OrderStatusPending:
		return to == OrderStatusSuccess || to == OrderStatusFailed
	case OrderStatusSuccess:
		return to == OrderStatusMatched
	}
	return false
}

// Order represents an order placed through the bot.
type Order struct {
	ID         string // UUID assigned locally at creation
	MarketSlug string
	TokenID    string
	Outcome    string
	Side       OrderSide
	Type       OrderType
	Size       float64  // USDC notional for market orders, shares for limit
	LimitPrice *float64 // limit orders only, in [0,1]
	Status     OrderStatus
	RemoteID   string   // CLOB order ID after successful submission
	TxHashes   []string // settlement transaction hashes
	ErrorText  string   // populated when submission fails
	ChatID     int64
	UserID     int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Validate checks the order parameters before submission.
func (o Order) Validate() error {
	if o.MarketSlug == "" || o.TokenID == "" {
		return ErrInvalidOrder
	}
	// NaN compares false against every bound, so finiteness is checked
	// before the sign and range checks.
	if math.IsNaN(o.Size) || math.IsInf(o.Size, 0) || o.Size <= 0 {
		return ErrInvalidOrder
	}
	if o.Type == OrderTypeLimit {
		if o.LimitPrice == nil || math.IsNaN(*o.LimitPrice) || *o.LimitPrice < 0 || *o.LimitPrice > 1 {
			return ErrInvalidOrder
		}
	}
	return nil
}

// OrderResult wraps the CLOB response after order submission.
type OrderResult struct {
	Success  bool
	OrderID  string // remote CLOB order ID
	TxHashes []string
	ErrorMsg string
	Status   string // raw remote status, e.g. "matched", "live"
}
