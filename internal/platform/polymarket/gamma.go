package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/polymon/internal/domain"
)

// currentMarketsLimit is the page size for the monitor's current-set fetch.
const currentMarketsLimit = 50

// GammaClient is the REST client for the Polymarket Gamma API, which
// provides event and market discovery and metadata.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGammaClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string) *GammaClient {
	return &GammaClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetEvents returns one page of events. An empty page signals the end of
// the collection.
func (g *GammaClient) GetEvents(ctx context.Context, limit, offset int) ([]domain.Event, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))

	body, err := g.doGet(ctx, "/events?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: get events: %w", err)
	}

	var apiEvents []APIEvent
	if err := json.Unmarshal(body, &apiEvents); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: decode events: %w", err)
	}

	events := make([]domain.Event, 0, len(apiEvents))
	for i := range apiEvents {
		events = append(events, apiEvents[i].ToDomainEvent())
	}
	return events, nil
}

// GetEvent returns a single event by its ID.
func (g *GammaClient) GetEvent(ctx context.Context, id string) (domain.Event, error) {
	body, err := g.doGet(ctx, "/events/"+url.PathEscape(id))
	if err != nil {
		return domain.Event{}, fmt.Errorf("polymarket/gamma: get event %s: %w", id, err)
	}

	var apiEvent APIEvent
	if err := json.Unmarshal(body, &apiEvent); err != nil {
		return domain.Event{}, fmt.Errorf("polymarket/gamma: decode event: %w", err)
	}
	return apiEvent.ToDomainEvent(), nil
}

// ListCurrentMarkets returns the current slice of active markets ordered
// by start date, newest first. The market monitor diffs this set against
// the mirror's slugs.
func (g *GammaClient) ListCurrentMarkets(ctx context.Context) ([]domain.Market, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(currentMarketsLimit))
	params.Set("offset", "0")
	params.Set("active", "true")
	params.Set("closed", "false")
	params.Set("archived", "false")
	params.Set("order", "startDate")
	params.Set("ascending", "false")

	body, err := g.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: list current markets: %w", err)
	}

	var apiMarkets []APIMarket
	if err := json.Unmarshal(body, &apiMarkets); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: decode markets: %w", err)
	}

	markets := make([]domain.Market, 0, len(apiMarkets))
	for i := range apiMarkets {
		markets = append(markets, apiMarkets[i].ToDomainMarket())
	}
	return markets, nil
}

// GetMarkets returns one page of markets by offset.
func (g *GammaClient) GetMarkets(ctx context.Context, limit, offset int) ([]domain.Market, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))

	body, err := g.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: get markets: %w", err)
	}

	var apiMarkets []APIMarket
	if err := json.Unmarshal(body, &apiMarkets); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: decode markets: %w", err)
	}

	markets := make([]domain.Market, 0, len(apiMarkets))
	for i := range apiMarkets {
		markets = append(markets, apiMarkets[i].ToDomainMarket())
	}
	return markets, nil
}

// GetMarketBySlug returns a single market looked up by its URL slug.
func (g *GammaClient) GetMarketBySlug(ctx context.Context, slug string) (domain.Market, error) {
	params := url.Values{}
	params.Set("slug", slug)

	body, err := g.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: get market by slug %s: %w", slug, err)
	}

	var apiMarkets []APIMarket
	if err := json.Unmarshal(body, &apiMarkets); err != nil {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: decode markets: %w", err)
	}
	if len(apiMarkets) == 0 {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: %w: slug=%s", domain.ErrNotFound, slug)
	}
	return apiMarkets[0].ToDomainMarket(), nil
}

// Health verifies the Gamma API answers. Used by the status command.
func (g *GammaClient) Health(ctx context.Context) error {
	params := url.Values{}
	params.Set("limit", "1")
	if _, err := g.doGet(ctx, "/markets?"+params.Encode()); err != nil {
		return fmt.Errorf("polymarket/gamma: health: %w", err)
	}
	return nil
}

// doGet sends an unauthenticated GET request to the Gamma API.
func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}

	return body, nil
}
