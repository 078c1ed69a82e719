package feed

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polymon/internal/domain"
)

type fakeWatchStore struct {
	subs    []domain.LiquiditySubscription
	removed []string
}

func (s *fakeWatchStore) Add(context.Context, domain.LiquiditySubscription) error { return nil }

func (s *fakeWatchStore) Remove(context.Context, string, int64) error { return nil }

func (s *fakeWatchStore) RemoveByMarket(_ context.Context, slug string) error {
	s.removed = append(s.removed, slug)
	kept := s.subs[:0]
	for _, sub := range s.subs {
		if sub.MarketSlug != slug {
			kept = append(kept, sub)
		}
	}
	s.subs = kept
	return nil
}

func (s *fakeWatchStore) ListByMarket(_ context.Context, slug string) ([]domain.LiquiditySubscription, error) {
	var out []domain.LiquiditySubscription
	for _, sub := range s.subs {
		if sub.MarketSlug == slug {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (s *fakeWatchStore) ListAll(context.Context) ([]domain.LiquiditySubscription, error) {
	return s.subs, nil
}

type fakeResolver struct {
	bySlug  map[string]domain.Market
	byToken map[string]domain.Market
}

func (r *fakeResolver) GetBySlug(_ context.Context, slug string) (domain.Market, error) {
	m, ok := r.bySlug[slug]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (r *fakeResolver) GetByToken(_ context.Context, tokenID string) (domain.Market, error) {
	m, ok := r.byToken[tokenID]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

type fakeLevels struct {
	levels map[string]float64
}

func newFakeLevels() *fakeLevels {
	return &fakeLevels{levels: make(map[string]float64)}
}

func (l *fakeLevels) SetLevel(_ context.Context, assetID string, level float64, _ time.Time) error {
	l.levels[assetID] = level
	return nil
}

func (l *fakeLevels) GetLevel(_ context.Context, assetID string) (float64, time.Time, error) {
	level, ok := l.levels[assetID]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return level, time.Time{}, nil
}

type capturedAlert struct {
	chatID int64
	text   string
}

func testWatcher(watches *fakeWatchStore, markets *fakeResolver, levels *fakeLevels, alerts *[]capturedAlert) *LiquidityWatcher {
	notify := func(_ context.Context, chatID int64, text string) error {
		*alerts = append(*alerts, capturedAlert{chatID: chatID, text: text})
		return nil
	}
	return NewLiquidityWatcher("wss://example", watches, markets, levels, notify, 0.2, slog.New(slog.DiscardHandler))
}

func snapshot(assetID string, size float64) domain.OrderbookSnapshot {
	return domain.OrderbookSnapshot{
		AssetID:   assetID,
		Bids:      []domain.PriceLevel{{Price: 0.5, Size: size}},
		Timestamp: time.Now(),
	}
}

func TestBuildTokenSetMapsWatchedTokens(t *testing.T) {
	watches := &fakeWatchStore{subs: []domain.LiquiditySubscription{
		{MarketSlug: "us-election", ChatID: 1},
		{MarketSlug: "us-election", ChatID: 2},
	}}
	markets := &fakeResolver{bySlug: map[string]domain.Market{
		"us-election": {Slug: "us-election", TokenIDs: []string{"tok-yes", "tok-no"}},
	}}
	var alerts []capturedAlert
	w := testWatcher(watches, markets, newFakeLevels(), &alerts)

	tokenSlugs, err := w.buildTokenSet(context.Background())
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"tok-yes": "us-election",
		"tok-no":  "us-election",
	}, tokenSlugs)
}

func TestBuildTokenSetDropsClosedMarketWatches(t *testing.T) {
	watches := &fakeWatchStore{subs: []domain.LiquiditySubscription{
		{MarketSlug: "settled-market", ChatID: 1},
		{MarketSlug: "live-market", ChatID: 1},
	}}
	markets := &fakeResolver{bySlug: map[string]domain.Market{
		"settled-market": {Slug: "settled-market", Closed: true, TokenIDs: []string{"tok-dead"}},
		"live-market":    {Slug: "live-market", TokenIDs: []string{"tok-live"}},
	}}
	var alerts []capturedAlert
	w := testWatcher(watches, markets, newFakeLevels(), &alerts)

	tokenSlugs, err := w.buildTokenSet(context.Background())
	require.NoError(t, err)

	// The closed market's watches are removed for every chat, not just
	// dropped from this pass.
	assert.Equal(t, []string{"settled-market"}, watches.removed)
	assert.Equal(t, map[string]string{"tok-live": "live-market"}, tokenSlugs)
	require.Len(t, watches.subs, 1)
	assert.Equal(t, "live-market", watches.subs[0].MarketSlug)
}

func TestBuildTokenSetSkipsMissingMarkets(t *testing.T) {
	watches := &fakeWatchStore{subs: []domain.LiquiditySubscription{
		{MarketSlug: "vanished", ChatID: 1},
	}}
	markets := &fakeResolver{bySlug: map[string]domain.Market{}}
	var alerts []capturedAlert
	w := testWatcher(watches, markets, newFakeLevels(), &alerts)

	tokenSlugs, err := w.buildTokenSet(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tokenSlugs)
	assert.Empty(t, watches.removed, "a missing market is not the same as a closed one")
}

func TestHandleBookAlertsOnThresholdMove(t *testing.T) {
	watches := &fakeWatchStore{subs: []domain.LiquiditySubscription{
		{MarketSlug: "us-election", ChatID: 42},
	}}
	markets := &fakeResolver{}
	var alerts []capturedAlert
	w := testWatcher(watches, markets, newFakeLevels(), &alerts)
	tokenSlugs := map[string]string{"tok-yes": "us-election"}
	ctx := context.Background()

	// First observation establishes the baseline, no alert.
	w.handleBook(ctx, tokenSlugs, snapshot("tok-yes", 1000))
	assert.Empty(t, alerts)

	// A 10% move stays under the 20% threshold.
	w.handleBook(ctx, tokenSlugs, snapshot("tok-yes", 1100))
	assert.Empty(t, alerts)

	// A 50% drop from the last level crosses it.
	w.handleBook(ctx, tokenSlugs, snapshot("tok-yes", 550))
	require.Len(t, alerts, 1)
	assert.Equal(t, int64(42), alerts[0].chatID)
	assert.Contains(t, alerts[0].text, "us-election")
	assert.Contains(t, alerts[0].text, "down")
}

func TestHandleBookResolvesUnknownAssetThroughTokenIndex(t *testing.T) {
	watches := &fakeWatchStore{subs: []domain.LiquiditySubscription{
		{MarketSlug: "us-election", ChatID: 42},
	}}
	markets := &fakeResolver{byToken: map[string]domain.Market{
		"tok-rekeyed": {Slug: "us-election", TokenIDs: []string{"tok-rekeyed"}},
	}}
	var alerts []capturedAlert
	w := testWatcher(watches, markets, newFakeLevels(), &alerts)
	tokenSlugs := map[string]string{}
	ctx := context.Background()

	w.handleBook(ctx, tokenSlugs, snapshot("tok-rekeyed", 1000))
	w.handleBook(ctx, tokenSlugs, snapshot("tok-rekeyed", 400))

	require.Len(t, alerts, 1, "frames for re-keyed tokens must still produce alerts")
	assert.Equal(t, "us-election", tokenSlugs["tok-rekeyed"])
}

func TestHandleBookDropsUnresolvableAsset(t *testing.T) {
	watches := &fakeWatchStore{}
	markets := &fakeResolver{}
	levels := newFakeLevels()
	var alerts []capturedAlert
	w := testWatcher(watches, markets, levels, &alerts)

	w.handleBook(context.Background(), map[string]string{}, snapshot("tok-stranger", 1000))

	assert.Empty(t, alerts)
	assert.Empty(t, levels.levels, "unwatched assets must not pollute the level cache")
}
