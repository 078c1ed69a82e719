package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func validLimitOrder() Order {
	price := 0.5
	return Order{
		MarketSlug: "us-election",
		TokenID:    "tok-yes",
		Side:       OrderSideBuy,
		Type:       OrderTypeLimit,
		Size:       10,
		LimitPrice: &price,
	}
}

func TestOrderValidate(t *testing.T) {
	nan := math.NaN()
	inf := math.Inf(1)
	high := 1.5

	tests := []struct {
		name    string
		mutate  func(*Order)
		wantErr bool
	}{
		{"valid limit", func(o *Order) {}, false},
		{"valid market", func(o *Order) {
			o.Type = OrderTypeMarket
			o.LimitPrice = nil
		}, false},
		{"missing slug", func(o *Order) { o.MarketSlug = "" }, true},
		{"missing token", func(o *Order) { o.TokenID = "" }, true},
		{"zero size", func(o *Order) { o.Size = 0 }, true},
		{"negative size", func(o *Order) { o.Size = -1 }, true},
		{"nan size", func(o *Order) { o.Size = nan }, true},
		{"inf size", func(o *Order) { o.Size = inf }, true},
		{"missing limit price", func(o *Order) { o.LimitPrice = nil }, true},
		{"nan limit price", func(o *Order) { o.LimitPrice = &nan }, true},
		{"limit price above one", func(o *Order) { o.LimitPrice = &high }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := validLimitOrder()
			tt.mutate(&order)

			err := order.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidOrder)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOrderStatusCanTransition(t *testing.T) {
	assert.True(t, OrderStatusPending.CanTransition(OrderStatusSuccess))
	assert.True(t, OrderStatusPending.CanTransition(OrderStatusFailed))
	assert.True(t, OrderStatusSuccess.CanTransition(OrderStatusMatched))

	// Terminal states and skipped hops stay closed.
	assert.False(t, OrderStatusPending.CanTransition(OrderStatusMatched))
	assert.False(t, OrderStatusFailed.CanTransition(OrderStatusSuccess))
	assert.False(t, OrderStatusMatched.CanTransition(OrderStatusSuccess))
	assert.False(t, OrderStatusSuccess.CanTransition(OrderStatusPending))
}
