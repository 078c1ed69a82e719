package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polymon/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Create inserts a new order. Orders always enter the store as pending.
func (s *OrderStore) Create(ctx context.Context, o domain.Order) error {
	const query = `
		INSERT INTO orders (
			id, market_slug, token_id, outcome, side, order_type,
			size, limit_price, status, remote_id, tx_hashes, error_text,
			chat_id, user_id, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, NOW(), NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		o.ID, o.MarketSlug, o.TokenID, o.Outcome,
		string(o.Side), string(o.Type),
		o.Size, o.LimitPrice, string(o.Status),
		o.RemoteID, o.TxHashes, o.ErrorText,
		o.ChatID, o.UserID,
	)
	if err != nil {
		return fmt.Errorf("postgres: create order %s: %w", o.ID, err)
	}
	return nil
}

// SetResult transitions a pending order to its submission outcome and stores
// the remote order ID, transaction hashes, and error text.
func (s *OrderStore) SetResult(ctx context.Context, id string, status domain.OrderStatus, res domain.OrderResult) error {
	const query = `
		UPDATE orders SET
			status     = $1,
			remote_id  = $2,
			tx_hashes  = $3,
			error_text = $4,
			updated_at = NOW()
		WHERE id = $5 AND status = 'pending'`

	tag, err := s.pool.Exec(ctx, query,
		string(status), res.OrderID, res.TxHashes, res.ErrorMsg, id)
	if err != nil {
		return fmt.Errorf("postgres: set order result %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateStatus changes the status of an existing order, enforcing the
// lifecycle in SQL so a concurrent writer cannot skip a state.
func (s *OrderStore) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	var from []string
	switch status {
	case domain.OrderStatusSuccess, domain.OrderStatusFailed:
		from = []string{string(domain.OrderStatusPending)}
	case domain.OrderStatusMatched:
		from = []string{string(domain.OrderStatusSuccess)}
	default:
		return fmt.Errorf("postgres: update order %s: %w", id, domain.ErrInvalidOrder)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET status = $1, updated_at = NOW()
		 WHERE id = $2 AND status = ANY($3)`,
		string(status), id, from)
	if err != nil {
		return fmt.Errorf("postgres: update order status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const orderCols = `id, market_slug, token_id, outcome, side, order_type,
	size, limit_price, status, remote_id, tx_hashes, error_text,
	chat_id, user_id, created_at, updated_at`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	var side, orderType, status string

	err := row.Scan(
		&o.ID, &o.MarketSlug, &o.TokenID, &o.Outcome,
		&side, &orderType,
		&o.Size, &o.LimitPrice, &status,
		&o.RemoteID, &o.TxHashes, &o.ErrorText,
		&o.ChatID, &o.UserID, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}

	o.Side = domain.OrderSide(side)
	o.Type = domain.OrderType(orderType)
	o.Status = domain.OrderStatus(status)
	return o, nil
}

func scanOrderRows(rows pgx.Rows) ([]domain.Order, error) {
	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// GetByID retrieves a single order by ID.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderCols+` FROM orders WHERE id = $1`, id)

	o, err := scanOrder(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

func (s *OrderStore) list(ctx context.Context, where string, keyArg any, opts domain.ListOpts) ([]domain.Order, error) {
	query := `SELECT ` + orderCols + ` FROM orders WHERE ` + where + ` ORDER BY created_at DESC`
	args := []any{keyArg}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan orders: %w", err)
	}
	return orders, nil
}

// ListByOwner returns orders placed from the given chat, newest first.
func (s *OrderStore) ListByOwner(ctx context.Context, chatID int64, opts domain.ListOpts) ([]domain.Order, error) {
	return s.list(ctx, "chat_id = $1", chatID, opts)
}

// ListByMarket returns orders for a given market, newest first.
func (s *OrderStore) ListByMarket(ctx context.Context, marketSlug string, opts domain.ListOpts) ([]domain.Order, error) {
	return s.list(ctx, "market_slug = $1", marketSlug, opts)
}
