package pipeline

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/polymon/internal/domain"
	"github.com/alanyoungcy/polymon/internal/retry"
)

// defaultEventPageSize matches the Gamma /events page size used upstream.
const defaultEventPageSize = 500

// EventFetcher retrieves event pages from the Gamma API.
type EventFetcher interface {
	GetEvents(ctx context.Context, limit, offset int) ([]domain.Event, error)
}

// MarketListFetcher walks the CLOB's cursor-paginated market listing to
// the end sentinel.
type MarketListFetcher interface {
	GetAllMarkets(ctx context.Context) ([]domain.Market, error)
}

// CurrentMarketsFetcher returns the current active-market slice the
// key-diff delta runs against.
type CurrentMarketsFetcher interface {
	ListCurrentMarkets(ctx context.Context) ([]domain.Market, error)
}

// NewEventSyncer wires the event collection: offset pagination with the
// count-offset delta policy, keyed by the remote event ID. A pageSize of
// zero or less falls back to the default.
func NewEventSyncer(fetcher EventFetcher, store domain.EventStore, pageSize int, governor *retry.Governor, logger *slog.Logger) *Syncer[domain.Event] {
	if pageSize <= 0 {
		pageSize = defaultEventPageSize
	}
	return New(Config[domain.Event]{
		Name:      "events",
		PageSize:  pageSize,
		Policy:    PolicyCountOffset,
		FetchPage: fetcher.GetEvents,
		Key:       domain.Event.NaturalKey,
		Validate:  domain.Event.Validate,
	}, eventMirror{store}, governor, logger)
}

// NewMarketSyncer wires the market collection: full cursor walk for the
// bootstrap, key-set difference against the current active slice for
// deltas, keyed by slug.
func NewMarketSyncer(all MarketListFetcher, current CurrentMarketsFetcher, store domain.MarketStore, governor *retry.Governor, logger *slog.Logger) *Syncer[domain.Market] {
	return New(Config[domain.Market]{
		Name:         "markets",
		Policy:       PolicyKeySet,
		FetchAll:     all.GetAllMarkets,
		FetchCurrent: current.ListCurrentMarkets,
		Key:          domain.Market.NaturalKey,
		Validate:     domain.Market.Validate,
	}, marketMirror{store}, governor, logger)
}

// eventMirror adapts domain.EventStore to the Mirror interface.
type eventMirror struct {
	store domain.EventStore
}

func (m eventMirror) Upsert(ctx context.Context, rec domain.Event) error {
	return m.store.Upsert(ctx, rec)
}

func (m eventMirror) Count(ctx context.Context) (int64, error) {
	return m.store.Count(ctx)
}

func (m eventMirror) ExistingKeys(ctx context.Context, keys []string) (map[string]bool, error) {
	return m.store.ExistingIDs(ctx, keys)
}

// marketMirror adapts domain.MarketStore to the Mirror interface.
type marketMirror struct {
	store domain.MarketStore
}

func (m marketMirror) Upsert(ctx context.Context, rec domain.Market) error {
	return m.store.Upsert(ctx, rec)
}

func (m marketMirror) Count(ctx context.Context) (int64, error) {
	return m.store.Count(ctx)
}

func (m marketMirror) ExistingKeys(ctx context.Context, keys []string) (map[string]bool, error) {
	return m.store.ExistingSlugs(ctx, keys)
}
