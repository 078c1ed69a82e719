package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polymon/internal/domain"
	"github.com/alanyoungcy/polymon/internal/retry"
)

// memMirror is an in-memory Mirror keyed by market slug.
type memMirror struct {
	mu sync.Mutex

	recs    map[string]domain.Market
	upserts int

	// failSlugs makes Upsert fail for the named slugs.
	failSlugs map[string]error
	// vanishSlugs makes records disappear before read-back, simulating a
	// persistence anomaly.
	vanishSlugs map[string]bool
}

func newMemMirror(seed ...domain.Market) *memMirror {
	m := &memMirror{recs: make(map[string]domain.Market)}
	for _, rec := range seed {
		m.recs[rec.Slug] = rec
	}
	return m
}

func (m *memMirror) Upsert(ctx context.Context, rec domain.Market) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failSlugs[rec.Slug]; ok {
		return err
	}
	m.upserts++
	if m.vanishSlugs[rec.Slug] {
		return nil
	}
	m.recs[rec.Slug] = rec
	return nil
}

func (m *memMirror) Count(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.recs)), nil
}

func (m *memMirror) ExistingKeys(ctx context.Context, keys []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool, len(keys))
	for _, k := range keys {
		_, ok := m.recs[k]
		out[k] = ok
	}
	return out, nil
}

func mkMarket(slug string) domain.Market {
	return domain.Market{Slug: slug, Question: "Will " + slug + " happen?"}
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testSyncer(cfg Config[domain.Market], mirror Mirror[domain.Market]) *Syncer[domain.Market] {
	if cfg.Key == nil {
		cfg.Key = domain.Market.NaturalKey
	}
	if cfg.Validate == nil {
		cfg.Validate = domain.Market.Validate
	}
	return New(cfg, mirror, retry.New(testLogger()), testLogger())
}

func TestBootstrapSkipsPopulatedMirror(t *testing.T) {
	mirror := newMemMirror(mkMarket("a"))

	fetched := false
	s := testSyncer(Config[domain.Market]{
		Name:     "markets",
		PageSize: 2,
		Policy:   PolicyCountOffset,
		FetchPage: func(ctx context.Context, limit, offset int) ([]domain.Market, error) {
			fetched = true
			return nil, nil
		},
	}, mirror)

	require.NoError(t, s.Bootstrap(context.Background()))
	assert.False(t, fetched, "bootstrap must not fetch when the mirror already holds records")
	assert.Equal(t, 0, mirror.upserts)
}

func TestBootstrapPagesUntilEmpty(t *testing.T) {
	mirror := newMemMirror()

	pages := [][]domain.Market{
		{mkMarket("a"), mkMarket("b")},
		{mkMarket("c"), mkMarket("d")},
		{mkMarket("e")},
	}
	var offsets []int
	s := testSyncer(Config[domain.Market]{
		Name:     "markets",
		PageSize: 2,
		Policy:   PolicyCountOffset,
		FetchPage: func(ctx context.Context, limit, offset int) ([]domain.Market, error) {
			offsets = append(offsets, offset)
			idx := offset / 2
			if idx >= len(pages) {
				return nil, nil
			}
			return pages[idx], nil
		},
	}, mirror)

	require.NoError(t, s.Bootstrap(context.Background()))
	assert.Equal(t, []int{0, 2, 4}, offsets)

	count, _ := mirror.Count(context.Background())
	assert.EqualValues(t, 5, count)
}

func TestFetchDeltaOffsetResumesAtLocalCount(t *testing.T) {
	mirror := newMemMirror(mkMarket("a"), mkMarket("b"), mkMarket("c"))

	var gotOffset int
	s := testSyncer(Config[domain.Market]{
		Name:     "markets",
		PageSize: 500,
		Policy:   PolicyCountOffset,
		FetchPage: func(ctx context.Context, limit, offset int) ([]domain.Market, error) {
			gotOffset = offset
			if offset >= 3 {
				return []domain.Market{mkMarket("d")}, nil
			}
			return nil, nil
		},
	}, mirror)

	delta, err := s.FetchDelta(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, gotOffset)
	require.Len(t, delta, 1)
	assert.Equal(t, "d", delta[0].Slug)
}

func TestFetchDeltaKeySetDifference(t *testing.T) {
	mirror := newMemMirror(mkMarket("a"), mkMarket("b"))

	s := testSyncer(Config[domain.Market]{
		Name:   "markets",
		Policy: PolicyKeySet,
		FetchCurrent: func(ctx context.Context) ([]domain.Market, error) {
			return []domain.Market{mkMarket("a"), mkMarket("b"), mkMarket("c")}, nil
		},
	}, mirror)

	delta, err := s.FetchDelta(context.Background())
	require.NoError(t, err)
	require.Len(t, delta, 1)
	assert.Equal(t, "c", delta[0].Slug)
}

func TestFetchDeltaKeySetNoChange(t *testing.T) {
	mirror := newMemMirror(mkMarket("a"), mkMarket("b"))

	s := testSyncer(Config[domain.Market]{
		Name:   "markets",
		Policy: PolicyKeySet,
		FetchCurrent: func(ctx context.Context) ([]domain.Market, error) {
			return []domain.Market{mkMarket("a"), mkMarket("b")}, nil
		},
	}, mirror)

	delta, err := s.FetchDelta(context.Background())
	require.NoError(t, err)
	assert.Empty(t, delta)
}

func TestUpsertDeltaRejectsInvalidIndividually(t *testing.T) {
	mirror := newMemMirror()
	s := testSyncer(Config[domain.Market]{Name: "markets", Policy: PolicyKeySet}, mirror)

	batch := []domain.Market{
		mkMarket("a"),
		{Slug: "b"}, // missing question
		mkMarket("c"),
	}

	rep, err := s.UpsertDelta(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Fetched)
	assert.Equal(t, 2, rep.Upserted)
	assert.Equal(t, 1, rep.Rejected)
	assert.Equal(t, 0, rep.Missing)
	assert.Equal(t, []string{"a", "c"}, rep.NewKeys)
}

func TestUpsertDeltaIsIdempotent(t *testing.T) {
	mirror := newMemMirror()
	s := testSyncer(Config[domain.Market]{Name: "markets", Policy: PolicyKeySet}, mirror)

	batch := []domain.Market{mkMarket("a")}

	_, err := s.UpsertDelta(context.Background(), batch)
	require.NoError(t, err)
	_, err = s.UpsertDelta(context.Background(), batch)
	require.NoError(t, err)

	count, _ := mirror.Count(context.Background())
	assert.EqualValues(t, 1, count, "upserting the same natural key twice must keep a single record")
}

func TestUpsertDeltaContinuesPastStoreFailures(t *testing.T) {
	mirror := newMemMirror()
	mirror.failSlugs = map[string]error{"b": fmt.Errorf("constraint violation")}
	s := testSyncer(Config[domain.Market]{Name: "markets", Policy: PolicyKeySet}, mirror)

	rep, err := s.UpsertDelta(context.Background(), []domain.Market{
		mkMarket("a"), mkMarket("b"), mkMarket("c"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Upserted)
	assert.Equal(t, 1, rep.Rejected)
}

func TestUpsertDeltaReportsPersistenceAnomaly(t *testing.T) {
	mirror := newMemMirror()
	mirror.vanishSlugs = map[string]bool{"b": true}
	s := testSyncer(Config[domain.Market]{Name: "markets", Policy: PolicyKeySet}, mirror)

	rep, err := s.UpsertDelta(context.Background(), []domain.Market{
		mkMarket("a"), mkMarket("b"),
	})
	require.NoError(t, err, "a persistence anomaly is logged, not fatal")
	assert.Equal(t, 2, rep.Upserted)
	assert.Equal(t, 1, rep.Missing)
}
