package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polymon/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

const eventUpsertQuery = `
	INSERT INTO events (
		id, ticker, slug, title, description,
		active, closed, archived, liquidity, volume,
		tags, start_date, end_date, created_at, updated_at
	) VALUES (
		$1, $2, $3, $4, $5,
		$6, $7, $8, $9, $10,
		$11, $12, $13, NOW(), NOW()
	)
	ON CONFLICT (id) DO UPDATE SET
		ticker      = EXCLUDED.ticker,
		slug        = EXCLUDED.slug,
		title       = EXCLUDED.title,
		description = EXCLUDED.description,
		active      = EXCLUDED.active,
		closed      = EXCLUDED.closed,
		archived    = EXCLUDED.archived,
		liquidity   = EXCLUDED.liquidity,
		volume      = EXCLUDED.volume,
		tags        = EXCLUDED.tags,
		start_date  = EXCLUDED.start_date,
		end_date    = EXCLUDED.end_date,
		updated_at  = NOW()`

func eventUpsertArgs(e domain.Event) []any {
	return []any{
		e.ID, e.Ticker, e.Slug, e.Title, e.Description,
		e.Active, e.Closed, e.Archived, e.Liquidity, e.Volume,
		e.Tags, e.StartDate, e.EndDate,
	}
}

// Upsert inserts or updates a single event keyed by its remote ID.
func (s *EventStore) Upsert(ctx context.Context, e domain.Event) error {
	if _, err := s.pool.Exec(ctx, eventUpsertQuery, eventUpsertArgs(e)...); err != nil {
		return fmt.Errorf("postgres: upsert event %s: %w", e.ID, err)
	}
	return nil
}

const eventCols = `id, ticker, slug, title, description,
	active, closed, archived, liquidity, volume,
	tags, start_date, end_date, created_at, updated_at`

func scanEvent(row pgx.Row) (domain.Event, error) {
	var e domain.Event
	err := row.Scan(
		&e.ID, &e.Ticker, &e.Slug, &e.Title, &e.Description,
		&e.Active, &e.Closed, &e.Archived, &e.Liquidity, &e.Volume,
		&e.Tags, &e.StartDate, &e.EndDate, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return domain.Event{}, err
	}
	return e, nil
}

// GetByID retrieves an event by its remote ID.
func (s *EventStore) GetByID(ctx context.Context, id string) (domain.Event, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+eventCols+` FROM events WHERE id = $1`, id)
	e, err := scanEvent(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Event{}, domain.ErrNotFound
		}
		return domain.Event{}, fmt.Errorf("postgres: get event %s: %w", id, err)
	}
	return e, nil
}

// ExistingIDs reports which of the given IDs are present in the mirror.
func (s *EventStore) ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	for _, id := range ids {
		out[id] = false
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id FROM events WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres: existing event ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan event id: %w", err)
		}
		out[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: existing event ids rows: %w", err)
	}
	return out, nil
}

// Count returns the total number of events in the mirror.
func (s *EventStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM events").Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count events: %w", err)
	}
	return count, nil
}

// ListRecent returns events ordered by creation time, newest first.
func (s *EventStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.Event, error) {
	query := `SELECT ` + eventCols + ` FROM events ORDER BY created_at DESC`
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
		return nil, fmt.Errorf("postgres: list recent events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list recent events rows: %w", err)
	}
	return events, nil
}
