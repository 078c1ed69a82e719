package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/polymon/internal/crypto"
	"github.com/alanyoungcy/polymon/internal/domain"
	"github.com/alanyoungcy/polymon/internal/platform/polymarket"
)

// usdcDecimals converts human-readable amounts into the 6-decimal base
// units the exchange contracts use.
const usdcDecimals = 1e6

// remoteStatusMatched is the CLOB status for an order filled on arrival.
const remoteStatusMatched = "matched"

// Signer abstracts EIP-712 order signing so the service layer never depends
// on concrete key-management implementations.
type Signer interface {
	SignOrder(payload crypto.OrderPayload) (string, error)
	Address() common.Address
}

// ClobPoster submits signed orders to the Polymarket CLOB API.
type ClobPoster interface {
	PostOrder(ctx context.Context, payload polymarket.SignedOrder) (domain.OrderResult, error)
}

// OrderService drives the order lifecycle: persist a pending order, sign
// and submit it, then record the outcome. Orders end in success (with the
// remote id and settlement hashes) or failed (with the error text); the
// pending row is never left behind silently.
type OrderService struct {
	orders  domain.OrderStore
	limiter domain.RateLimiter
	signer  Signer
	clob    ClobPoster
	logger  *slog.Logger
}

// NewOrderService creates an OrderService with all required dependencies.
func NewOrderService(
	orders domain.OrderStore,
	limiter domain.RateLimiter,
	signer Signer,
	clob ClobPoster,
	logger *slog.Logger,
) *OrderService {
	return &OrderService{
		orders:  orders,
		limiter: limiter,
		signer:  signer,
		clob:    clob,
		logger:  logger.With(slog.String("component", "order_service")),
	}
}

// Submit validates and persists a pending order, signs it, posts it to the
// CLOB, and records the result. The returned order reflects the final
// status; the error is non-nil only for infrastructure failures, not for
// orders the exchange rejected.
func (s *OrderService) Submit(ctx context.Context, order domain.Order) (domain.Order, error) {
	if err := order.Validate(); err != nil {
		return domain.Order{}, fmt.Errorf("order_service: validate: %w", err)
	}

	wallet := s.signer.Address().Hex()

	allowed, err := s.limiter.Allow(ctx, "orders:"+wallet, 10, time.Second)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: rate limiter: %w", err)
	}
	if !allowed {
		return domain.Order{}, fmt.Errorf("order_service: submit: %w", domain.ErrRateLimited)
	}

	order.ID = uuid.New().String()
	order.Status = domain.OrderStatusPending
	order.CreatedAt = time.Now().UTC()

	if err := s.orders.Create(ctx, order); err != nil {
		return domain.Order{}, fmt.Errorf("order_service: create order: %w", err)
	}

	signed, err := s.buildSignedOrder(order, wallet)
	if err != nil {
		res := domain.OrderResult{ErrorMsg: err.Error()}
		if setErr := s.orders.SetResult(ctx, order.ID, domain.OrderStatusFailed, res); setErr != nil {
			s.logger.Error("failed to record signing failure",
				slog.String("order_id", order.ID),
				slog.String("error", setErr.Error()),
			)
		}
		order.Status = domain.OrderStatusFailed
		order.ErrorText = err.Error()
		return order, fmt.Errorf("order_service: sign order: %w", err)
	}

	result, err := s.clob.PostOrder(ctx, signed)
	if err != nil {
		res := domain.OrderResult{ErrorMsg: err.Error()}
		if setErr := s.orders.SetResult(ctx, order.ID, domain.OrderStatusFailed, res); setErr != nil {
			s.logger.Error("failed to record submission failure",
				slog.String("order_id", order.ID),
				slog.String("error", setErr.Error()),
			)
		}
		order.Status = domain.OrderStatusFailed
		order.ErrorText = err.Error()
		return order, nil
	}

	status := domain.OrderStatusSuccess
	if !result.Success {
		status = domain.OrderStatusFailed
	}
	if err := s.orders.SetResult(ctx, order.ID, status, result); err != nil {
		return domain.Order{}, fmt.Errorf("order_service: set result %s: %w", order.ID, err)
	}

	// FOK orders usually come back already filled; advance past SUCCESS
	// when the exchange reports so. Losing the hop is tolerable, the order
	// just reads success until the next status refresh.
	if result.Status == remoteStatusMatched && status.CanTransition(domain.OrderStatusMatched) {
		if err := s.orders.UpdateStatus(ctx, order.ID, domain.OrderStatusMatched); err != nil {
			s.logger.Warn("failed to mark order matched",
				slog.String("order_id", order.ID),
				slog.String("error", err.Error()),
			)
		} else {
			status = domain.OrderStatusMatched
		}
	}

	order.Status = status
	order.RemoteID = result.OrderID
	order.TxHashes = result.TxHashes
	order.ErrorText = result.ErrorMsg

	s.logger.Info("order submitted",
		slog.String("order_id", order.ID),
		slog.String("market", order.MarketSlug),
		slog.String("side", string(order.Side)),
		slog.String("status", string(status)),
	)

	return order, nil
}

// buildSignedOrder converts the order to exchange base units and signs it.
//
// Market buys spend Size USDC; limit orders trade Size shares at the limit
// price. Maker is what the wallet gives, taker what it receives.
func (s *OrderService) buildSignedOrder(order domain.Order, wallet string) (polymarket.SignedOrder, error) {
	var makerAmount, takerAmount *big.Int
	var side string
	var sideInt int

	switch order.Side {
	case domain.OrderSideBuy:
		side, sideInt = "BUY", 0
	case domain.OrderSideSell:
		side, sideInt = "SELL", 1
	default:
		return polymarket.SignedOrder{}, domain.ErrInvalidOrder
	}

	orderType := "FOK"
	switch order.Type {
	case domain.OrderTypeMarket:
		// Size is USDC notional for buys, shares for sells; the FOK order
		// crosses the book at whatever price it finds.
		makerAmount, takerAmount = toBaseUnits(order.Size), big.NewInt(0)
	case domain.OrderTypeLimit:
		orderType = "GTC"
		price := *order.LimitPrice
		shares := toBaseUnits(order.Size)
		notional := toBaseUnits(order.Size * price)
		if sideInt == 0 {
			makerAmount, takerAmount = notional, shares
		} else {
			makerAmount, takerAmount = shares, notional
		}
	default:
		return polymarket.SignedOrder{}, domain.ErrInvalidOrder
	}

	payload := crypto.OrderPayload{
		Salt:          fmt.Sprintf("%d", time.Now().UnixNano()),
		Maker:         wallet,
		Signer:        wallet,
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       order.TokenID,
		MakerAmount:   makerAmount.String(),
		TakerAmount:   takerAmount.String(),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          sideInt,
		SignatureType: 0,
	}

	signature, err := s.signer.SignOrder(payload)
	if err != nil {
		return polymarket.SignedOrder{}, fmt.Errorf("%w: %v", domain.ErrSigningFailed, err)
	}

	return polymarket.SignedOrder{
		TokenID:     order.TokenID,
		MakerAmount: makerAmount,
		TakerAmount: takerAmount,
		Side:        side,
		OrderType:   orderType,
		Signature:   signature,
		Maker:       wallet,
	}, nil
}

// toBaseUnits converts a human-readable amount to 6-decimal base units.
// Rounds half-up: plain truncation turns amounts like 0.29 into 289999
// because the product is not exactly representable.
func toBaseUnits(amount float64) *big.Int {
	return big.NewInt(int64(math.Round(amount * usdcDecimals)))
}

// GetOrder retrieves a single order by its ID.
func (s *OrderService) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: get order %q: %w", id, err)
	}
	return order, nil
}

// ListByOwner returns orders placed from the given chat, newest first.
func (s *OrderService) ListByOwner(ctx context.Context, chatID int64, opts domain.ListOpts) ([]domain.Order, error) {
	orders, err := s.orders.ListByOwner(ctx, chatID, opts)
	if err != nil {
		return nil, fmt.Errorf("order_service: list by owner %d: %w", chatID, err)
	}
	return orders, nil
}

// ListByMarket returns orders for a specific market with pagination.
func (s *OrderService) ListByMarket(ctx context.Context, marketSlug string, opts domain.ListOpts) ([]domain.Order, error) {
	orders, err := s.orders.ListByMarket(ctx, marketSlug, opts)
	if err != nil {
		return nil, fmt.Errorf("order_service: list by market %q: %w", marketSlug, err)
	}
	return orders, nil
}
