package domain

import "time"

// FlowState enumerates the order conversation states.
type FlowState string

const (
	FlowSelectingOutcome FlowState = "selecting_outcome"
	FlowSelectingSide    FlowState = "selecting_side"
	FlowEnteringAmount   FlowState = "entering_amount"
	FlowEnteringPrice    FlowState = "entering_price"
)

// FlowSession is the per (chat, user) state of an in-progress order
// conversation. Sessions are stored out of process so a restart does not
// strand users mid-flow.
type FlowSession struct {
	ChatID     int64     `json:"chat_id"`
	UserID     int64     `json:"user_id"`
	State      FlowState `json:"state"`
	MarketSlug string    `json:"market_slug"`
	OrderType  OrderType `json:"order_type"`
	Outcome    string    `json:"outcome,omitempty"`
	TokenID    string    `json:"token_id,omitempty"`
	Side       OrderSide `json:"side,omitempty"`
	Size       float64   `json:"size,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}
