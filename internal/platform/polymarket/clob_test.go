package polymarket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polymon/internal/domain"
)

func TestClobGetAllMarketsCursorWalk(t *testing.T) {
	pages := map[string]ClobMarketsPage{
		"": {
			Data: []ClobMarket{
				{QuestionID: "q1", MarketSlug: "slug-a", Question: "A?"},
				{QuestionID: "q2", MarketSlug: "slug-b", Question: "B?"},
			},
			NextCursor: "MjA=",
		},
		"MjA=": {
			Data: []ClobMarket{
				{QuestionID: "q3", MarketSlug: "slug-c", Question: "C?"},
			},
			NextCursor: EndCursor,
		},
	}

	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		page, ok := pages[r.URL.Query().Get("next_cursor")]
		require.True(t, ok, "unexpected cursor %q", r.URL.Query().Get("next_cursor"))
		_ = json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	markets, err := NewClobClient(srv.URL, nil, nil).GetAllMarkets(context.Background())
	require.NoError(t, err)
	require.Len(t, markets, 3)
	assert.Equal(t, 2, requests)
	assert.Equal(t, "slug-a", markets[0].Slug)
	assert.Equal(t, "slug-c", markets[2].Slug)
}

func TestClobGetAllMarketsTokenMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ClobMarketsPage{
			Data: []ClobMarket{{
				QuestionID: "q1",
				MarketSlug: "with-tokens",
				Tokens: []ClobToken{
					{TokenID: "111", Outcome: "Yes", Price: 0.62},
					{TokenID: "222", Outcome: "No", Price: 0.38},
				},
			}},
			NextCursor: EndCursor,
		})
	}))
	defer srv.Close()

	markets, err := NewClobClient(srv.URL, nil, nil).GetAllMarkets(context.Background())
	require.NoError(t, err)
	require.Len(t, markets, 1)

	m := markets[0]
	assert.Equal(t, []string{"Yes", "No"}, m.Outcomes)
	assert.Equal(t, []float64{0.62, 0.38}, m.OutcomePrices)
	assert.Equal(t, []string{"111", "222"}, m.TokenIDs)
}

func TestClobGetMarketsPageRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewClobClient(srv.URL, nil, nil).GetMarketsPage(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}
