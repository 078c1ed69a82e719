package service

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polymon/internal/crypto"
	"github.com/alanyoungcy/polymon/internal/domain"
	"github.com/alanyoungcy/polymon/internal/platform/polymarket"
)

type memOrders struct {
	created []domain.Order
	results map[string]domain.OrderResult
	status  map[string]domain.OrderStatus
}

func newMemOrders() *memOrders {
	return &memOrders{
		results: make(map[string]domain.OrderResult),
		status:  make(map[string]domain.OrderStatus),
	}
}

func (m *memOrders) Create(_ context.Context, order domain.Order) error {
	m.created = append(m.created, order)
	m.status[order.ID] = order.Status
	return nil
}

func (m *memOrders) SetResult(_ context.Context, id string, status domain.OrderStatus, res domain.OrderResult) error {
	m.status[id] = status
	m.results[id] = res
	return nil
}

func (m *memOrders) UpdateStatus(_ context.Context, id string, status domain.OrderStatus) error {
	m.status[id] = status
	return nil
}

func (m *memOrders) GetByID(_ context.Context, id string) (domain.Order, error) {
	for _, o := range m.created {
		if o.ID == id {
			o.Status = m.status[id]
			return o, nil
		}
	}
	return domain.Order{}, domain.ErrNotFound
}

func (m *memOrders) ListByOwner(context.Context, int64, domain.ListOpts) ([]domain.Order, error) {
	return m.created, nil
}

func (m *memOrders) ListByMarket(context.Context, string, domain.ListOpts) ([]domain.Order, error) {
	return m.created, nil
}

type stubLimiter struct {
	allowed bool
}

func (l *stubLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return l.allowed, nil
}

func (l *stubLimiter) Wait(context.Context, string) error { return nil }

type stubSigner struct {
	err error
}

func (s *stubSigner) SignOrder(crypto.OrderPayload) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "0xsigned", nil
}

func (s *stubSigner) Address() common.Address {
	return common.HexToAddress("0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf")
}

type stubClob struct {
	result domain.OrderResult
	err    error
	posted []polymarket.SignedOrder
}

func (c *stubClob) PostOrder(_ context.Context, payload polymarket.SignedOrder) (domain.OrderResult, error) {
	c.posted = append(c.posted, payload)
	if c.err != nil {
		return domain.OrderResult{}, c.err
	}
	return c.result, nil
}

func newOrderService(orders *memOrders, limiter *stubLimiter, signer *stubSigner, clob *stubClob) *OrderService {
	return NewOrderService(orders, limiter, signer, clob, slog.New(slog.DiscardHandler))
}

func marketBuy() domain.Order {
	return domain.Order{
		MarketSlug: "test-market",
		TokenID:    "12345",
		Outcome:    "Yes",
		Side:       domain.OrderSideBuy,
		Type:       domain.OrderTypeMarket,
		Size:       25,
		ChatID:     100,
	}
}

func TestSubmitMarketOrderSuccess(t *testing.T) {
	orders := newMemOrders()
	clob := &stubClob{result: domain.OrderResult{
		Success:  true,
		OrderID:  "remote-1",
		TxHashes: []string{"0xabc"},
	}}
	svc := newOrderService(orders, &stubLimiter{allowed: true}, &stubSigner{}, clob)

	out, err := svc.Submit(context.Background(), marketBuy())
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusSuccess, out.Status)
	assert.Equal(t, "remote-1", out.RemoteID)
	assert.Equal(t, []string{"0xabc"}, out.TxHashes)
	assert.NotEmpty(t, out.ID)

	// The row went through PENDING before SetResult finalized it.
	require.Len(t, orders.created, 1)
	assert.Equal(t, domain.OrderStatusPending, orders.created[0].Status)
	assert.Equal(t, domain.OrderStatusSuccess, orders.status[out.ID])

	require.Len(t, clob.posted, 1)
	signed := clob.posted[0]
	assert.Equal(t, "BUY", signed.Side)
	assert.Equal(t, "FOK", signed.OrderType)
	assert.Equal(t, "25000000", signed.MakerAmount.String())
	assert.Equal(t, "0xsigned", signed.Signature)
}

func TestSubmitLimitOrderAmounts(t *testing.T) {
	orders := newMemOrders()
	clob := &stubClob{result: domain.OrderResult{Success: true, OrderID: "remote-2"}}
	svc := newOrderService(orders, &stubLimiter{allowed: true}, &stubSigner{}, clob)

	price := 0.4
	order := marketBuy()
	order.Type = domain.OrderTypeLimit
	order.Size = 10 // shares
	order.LimitPrice = &price

	_, err := svc.Submit(context.Background(), order)
	require.NoError(t, err)

	require.Len(t, clob.posted, 1)
	signed := clob.posted[0]
	assert.Equal(t, "GTC", signed.OrderType)
	// A buy gives 10 * 0.4 USDC and receives 10 shares.
	assert.Equal(t, "4000000", signed.MakerAmount.String())
	assert.Equal(t, "10000000", signed.TakerAmount.String())
}

func TestSubmitMatchedOrderAdvancesStatus(t *testing.T) {
	orders := newMemOrders()
	clob := &stubClob{result: domain.OrderResult{
		Success: true,
		OrderID: "remote-3",
		Status:  "matched",
	}}
	svc := newOrderService(orders, &stubLimiter{allowed: true}, &stubSigner{}, clob)

	out, err := svc.Submit(context.Background(), marketBuy())
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusMatched, out.Status)
	assert.Equal(t, domain.OrderStatusMatched, orders.status[out.ID])
}

func TestSubmitLiveOrderStaysSuccess(t *testing.T) {
	orders := newMemOrders()
	clob := &stubClob{result: domain.OrderResult{
		Success: true,
		OrderID: "remote-4",
		Status:  "live",
	}}
	svc := newOrderService(orders, &stubLimiter{allowed: true}, &stubSigner{}, clob)

	out, err := svc.Submit(context.Background(), marketBuy())
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusSuccess, out.Status)
	assert.Equal(t, domain.OrderStatusSuccess, orders.status[out.ID])
}

func TestSubmitBaseUnitRounding(t *testing.T) {
	orders := newMemOrders()
	clob := &stubClob{result: domain.OrderResult{Success: true, OrderID: "remote-5"}}
	svc := newOrderService(orders, &stubLimiter{allowed: true}, &stubSigner{}, clob)

	order := marketBuy()
	order.Size = 0.29

	_, err := svc.Submit(context.Background(), order)
	require.NoError(t, err)

	require.Len(t, clob.posted, 1)
	// 0.29 * 1e6 is 289999.99... in float64; the conversion must round,
	// not truncate.
	assert.Equal(t, "290000", clob.posted[0].MakerAmount.String())
}

func TestSubmitExchangeRejection(t *testing.T) {
	orders := newMemOrders()
	clob := &stubClob{result: domain.OrderResult{
		Success:  false,
		ErrorMsg: "insufficient balance",
	}}
	svc := newOrderService(orders, &stubLimiter{allowed: true}, &stubSigner{}, clob)

	out, err := svc.Submit(context.Background(), marketBuy())

	// A rejection is an outcome, not an infrastructure failure.
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFailed, out.Status)
	assert.Equal(t, "insufficient balance", out.ErrorText)
	assert.Equal(t, domain.OrderStatusFailed, orders.status[out.ID])
}

func TestSubmitPostErrorRecordsFailure(t *testing.T) {
	orders := newMemOrders()
	clob := &stubClob{err: errors.New("connection reset")}
	svc := newOrderService(orders, &stubLimiter{allowed: true}, &stubSigner{}, clob)

	out, err := svc.Submit(context.Background(), marketBuy())
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusFailed, out.Status)
	assert.Contains(t, out.ErrorText, "connection reset")
	assert.Equal(t, domain.OrderStatusFailed, orders.status[out.ID])
}

func TestSubmitSigningFailure(t *testing.T) {
	orders := newMemOrders()
	clob := &stubClob{}
	svc := newOrderService(orders, &stubLimiter{allowed: true}, &stubSigner{err: errors.New("bad key")}, clob)

	out, err := svc.Submit(context.Background(), marketBuy())
	require.Error(t, err)

	assert.Equal(t, domain.OrderStatusFailed, out.Status)
	assert.Empty(t, clob.posted)
	assert.Equal(t, domain.OrderStatusFailed, orders.status[out.ID])
}

func TestSubmitInvalidOrder(t *testing.T) {
	orders := newMemOrders()
	clob := &stubClob{}
	svc := newOrderService(orders, &stubLimiter{allowed: true}, &stubSigner{}, clob)

	nan := math.NaN()
	negPrice := -0.1

	tests := []struct {
		name   string
		mutate func(*domain.Order)
	}{
		{"zero size", func(o *domain.Order) { o.Size = 0 }},
		{"negative size", func(o *domain.Order) { o.Size = -4 }},
		{"nan size", func(o *domain.Order) { o.Size = math.NaN() }},
		{"inf size", func(o *domain.Order) { o.Size = math.Inf(1) }},
		{"limit without price", func(o *domain.Order) { o.Type = domain.OrderTypeLimit }},
		{"nan limit price", func(o *domain.Order) {
			o.Type = domain.OrderTypeLimit
			o.LimitPrice = &nan
		}},
		{"negative limit price", func(o *domain.Order) {
			o.Type = domain.OrderTypeLimit
			o.LimitPrice = &negPrice
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := marketBuy()
			tt.mutate(&order)

			_, err := svc.Submit(context.Background(), order)
			assert.ErrorIs(t, err, domain.ErrInvalidOrder)
		})
	}

	assert.Empty(t, orders.created)
	assert.Empty(t, clob.posted)
}

func TestSubmitRateLimited(t *testing.T) {
	orders := newMemOrders()
	svc := newOrderService(orders, &stubLimiter{allowed: false}, &stubSigner{}, &stubClob{})

	_, err := svc.Submit(context.Background(), marketBuy())
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Empty(t, orders.created)
}
