package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polymon/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL. Markets are
// keyed by slug; upserts resolve conflicts against the slug primary key so
// replaying the same record is a no-op.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketUpsertQuery = `
	INSERT INTO markets (
		slug, id, event_id, question, condition_id,
		outcomes, outcome_prices, token_ids,
		liquidity, volume,
		active, closed, archived, accepting_orders, neg_risk,
		start_date, end_date, created_at, updated_at
	) VALUES (
		$1, $2, $3, $4, $5,
		$6, $7, $8,
		$9, $10,
		$11, $12, $13, $14, $15,
		$16, $17, NOW(), NOW()
	)
	ON CONFLICT (slug) DO UPDATE SET
		id               = EXCLUDED.id,
		event_id         = EXCLUDED.event_id,
		question         = EXCLUDED.question,
		condition_id     = EXCLUDED.condition_id,
		outcomes         = EXCLUDED.outcomes,
		outcome_prices   = EXCLUDED.outcome_prices,
		token_ids        = EXCLUDED.token_ids,
		liquidity        = EXCLUDED.liquidity,
		volume           = EXCLUDED.volume,
		active           = EXCLUDED.active,
		closed           = EXCLUDED.closed,
		archived         = EXCLUDED.archived,
		accepting_orders = EXCLUDED.accepting_orders,
		neg_risk         = EXCLUDED.neg_risk,
		start_date       = EXCLUDED.start_date,
		end_date         = EXCLUDED.end_date,
		updated_at       = NOW()`

func marketUpsertArgs(m domain.Market) []any {
	return []any{
		m.Slug, m.ID, m.EventID, m.Question, m.ConditionID,
		m.Outcomes, m.OutcomePrices, m.TokenIDs,
		m.Liquidity, m.Volume,
		m.Active, m.Closed, m.Archived, m.AcceptingOrders, m.NegRisk,
		m.StartDate, m.EndDate,
	}
}

// Upsert inserts or updates a single market keyed by slug.
func (s *MarketStore) Upsert(ctx context.Context, m domain.Market) error {
	if _, err := s.pool.Exec(ctx, marketUpsertQuery, marketUpsertArgs(m)...); err != nil {
		return fmt.Errorf("postgres: upsert market %s: %w", m.Slug, err)
	}
	return nil
}

const marketCols = `slug, id, event_id, question, condition_id,
	outcomes, outcome_prices, token_ids,
	liquidity, volume,
	active, closed, archived, accepting_orders, neg_risk,
	start_date, end_date, created_at, updated_at`

func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	err := row.Scan(
		&m.Slug, &m.ID, &m.EventID, &m.Question, &m.ConditionID,
		&m.Outcomes, &m.OutcomePrices, &m.TokenIDs,
		&m.Liquidity, &m.Volume,
		&m.Active, &m.Closed, &m.Archived, &m.AcceptingOrders, &m.NegRisk,
		&m.StartDate, &m.EndDate, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	return m, nil
}

// GetBySlug retrieves a market by its slug.
func (s *MarketStore) GetBySlug(ctx context.Context, slug string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE slug = $1`, slug)
	m, err := scanMarket(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market by slug %s: %w", slug, err)
	}
	return m, nil
}

// ExistingSlugs reports which of the given slugs are present in the mirror.
func (s *MarketStore) ExistingSlugs(ctx context.Context, slugs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(slugs))
	if len(slugs) == 0 {
		return out, nil
	}
	for _, slug := range slugs {
		out[slug] = false
	}

	rows, err := s.pool.Query(ctx,
		`SELECT slug FROM markets WHERE slug = ANY($1)`, slugs)
	if err != nil {
		return nil, fmt.Errorf("postgres: existing market slugs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, fmt.Errorf("postgres: scan market slug: %w", err)
		}
		out[slug] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: existing market slugs rows: %w", err)
	}
	return out, nil
}

// Count returns the total number of markets in the mirror.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM markets").Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}

// List pages through the whole collection in slug order.
func (s *MarketStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets ORDER BY slug`
	args := []any{}
	argIdx := 1

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
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return markets, nil
}

// ListActive returns active, order-accepting markets with pagination,
// highest liquidity first.
func (s *MarketStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets
		WHERE active AND NOT closed
		ORDER BY liquidity DESC`
	args := []any{}
	argIdx := 1

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
		return nil, fmt.Errorf("postgres: list active markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan active market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active markets rows: %w", err)
	}
	return markets, nil
}
