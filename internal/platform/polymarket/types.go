package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/polymon/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexFloat unmarshals from a JSON number or a numeric string. Gamma sends
// liquidity and volume as numbers on /events but strings on /markets.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexFloat(n)
	return nil
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APITag is a tag entry on a Gamma event.
type APITag struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Slug  string `json:"slug"`
}

// APIEvent represents an event as returned by the Polymarket Gamma API.
// An event groups one or more related markets.
type APIEvent struct {
	ID          string      `json:"id"`
	Ticker      string      `json:"ticker"`
	Slug        string      `json:"slug"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Active      flexBool    `json:"active"`
	Closed      flexBool    `json:"closed"`
	Archived    flexBool    `json:"archived"`
	Liquidity   flexFloat   `json:"liquidity"`
	Volume      flexFloat   `json:"volume"`
	StartDate   string      `json:"startDate"`
	EndDate     string      `json:"endDate"`
	CreatedAt   string      `json:"createdAt"`
	UpdatedAt   string      `json:"updatedAt"`
	Tags        []APITag    `json:"tags"`
	Markets     []APIMarket `json:"markets"`
}

// ToDomainEvent converts a Gamma APIEvent to a domain.Event.
func (e *APIEvent) ToDomainEvent() domain.Event {
	ev := domain.Event{
		ID:          e.ID,
		Ticker:      e.Ticker,
		Slug:        e.Slug,
		Title:       e.Title,
		Description: e.Description,
		Active:      bool(e.Active),
		Closed:      bool(e.Closed),
		Archived:    bool(e.Archived),
		Liquidity:   float64(e.Liquidity),
		Volume:      float64(e.Volume),
	}
	for _, t := range e.Tags {
		ev.Tags = append(ev.Tags, t.Label)
	}
	ev.StartDate = parseTimePtr(e.StartDate)
	ev.EndDate = parseTimePtr(e.EndDate)
	if t, err := time.Parse(time.RFC3339, e.CreatedAt); err == nil {
		ev.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, e.UpdatedAt); err == nil {
		ev.UpdatedAt = t
	}
	return ev
}

// APIMarket represents a market as returned by the Polymarket Gamma API.
type APIMarket struct {
	ID              string    `json:"id"`
	Question        string    `json:"question"`
	ConditionID     string    `json:"conditionId"`
	Slug            string    `json:"slug"`
	Active          flexBool  `json:"active"`
	Closed          flexBool  `json:"closed"`
	Archived        flexBool  `json:"archived"`
	AcceptingOrders flexBool  `json:"acceptingOrders"`
	NegRisk         bool      `json:"negRisk"`
	Outcomes        string    `json:"outcomes"`      // JSON-encoded: "[\"Yes\",\"No\"]"
	OutcomePrices   string    `json:"outcomePrices"` // JSON-encoded: "[\"0.5\",\"0.5\"]"
	ClobTokenIDs    string    `json:"clobTokenIds"`  // JSON-encoded: "[\"123\",\"456\"]"
	Liquidity       flexFloat `json:"liquidity"`
	Volume          flexFloat `json:"volume"`
	StartDate       string    `json:"startDate"`
	EndDate         string    `json:"endDate"`
	CreatedAt       string    `json:"createdAt"`
	UpdatedAt       string    `json:"updatedAt"`
	Description     string    `json:"description"`
}

// ToDomainMarket converts a Gamma APIMarket to a domain.Market. The
// JSON-encoded array fields are decoded here; records that fail the
// domain validation downstream are rejected there, not silently patched.
func (m *APIMarket) ToDomainMarket() domain.Market {
	dm := domain.Market{
		ID:              m.ID,
		Question:        m.Question,
		Slug:            m.Slug,
		ConditionID:     m.ConditionID,
		Active:          bool(m.Active),
		Closed:          bool(m.Closed),
		Archived:        bool(m.Archived),
		AcceptingOrders: bool(m.AcceptingOrders),
		NegRisk:         m.NegRisk,
		Liquidity:       float64(m.Liquidity),
		Volume:          float64(m.Volume),
	}

	dm.Outcomes = decodeStringArray(m.Outcomes)
	for _, p := range decodeStringArray(m.OutcomePrices) {
		v, _ := strconv.ParseFloat(p, 64)
		dm.OutcomePrices = append(dm.OutcomePrices, v)
	}
	dm.TokenIDs = decodeStringArray(m.ClobTokenIDs)

	dm.StartDate = parseTimePtr(m.StartDate)
	dm.EndDate = parseTimePtr(m.EndDate)
	if t, err := time.Parse(time.RFC3339, m.CreatedAt); err == nil {
		dm.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, m.UpdatedAt); err == nil {
		dm.UpdatedAt = t
	}

	return dm
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// EndCursor is the sentinel next_cursor value the CLOB API returns on the
// final page of a cursor-paginated listing.
const EndCursor = "LTE="

// ClobToken is a token entry inside a CLOB market response.
type ClobToken struct {
	TokenID string  `json:"token_id"`
	Outcome string  `json:"outcome"`
	Price   float64 `json:"price"`
	Winner  bool    `json:"winner"`
}

// ClobMarket represents a market as returned by the CLOB /markets endpoint.
type ClobMarket struct {
	ConditionID     string      `json:"condition_id"`
	QuestionID      string      `json:"question_id"`
	Question        string      `json:"question"`
	Description     string      `json:"description"`
	MarketSlug      string      `json:"market_slug"`
	Tokens          []ClobToken `json:"tokens"`
	Active          bool        `json:"active"`
	Closed          bool        `json:"closed"`
	Archived        bool        `json:"archived"`
	AcceptingOrders bool        `json:"accepting_orders"`
	NegRisk         bool        `json:"neg_risk"`
	EndDateISO      string      `json:"end_date_iso"`
	GameStartTime   string      `json:"game_start_time"`
	MinOrderSize    string      `json:"minimum_order_size"`
}

// ClobMarketsPage is one page of the cursor-paginated CLOB market listing.
type ClobMarketsPage struct {
	Data       []ClobMarket `json:"data"`
	NextCursor string       `json:"next_cursor"`
	Limit      int          `json:"limit"`
	Count      int          `json:"count"`
}

// ToDomainMarket converts a CLOB market to a domain.Market. The slug is
// the natural key of the mirror, so market_slug maps onto it.
func (m *ClobMarket) ToDomainMarket() domain.Market {
	dm := domain.Market{
		ID:              m.QuestionID,
		Question:        m.Question,
		Slug:            m.MarketSlug,
		ConditionID:     m.ConditionID,
		Active:          m.Active,
		Closed:          m.Closed,
		Archived:        m.Archived,
		AcceptingOrders: m.AcceptingOrders,
		NegRisk:         m.NegRisk,
	}
	for _, tok := range m.Tokens {
		dm.Outcomes = append(dm.Outcomes, tok.Outcome)
		dm.OutcomePrices = append(dm.OutcomePrices, tok.Price)
		dm.TokenIDs = append(dm.TokenIDs, tok.TokenID)
	}
	dm.EndDate = parseTimePtr(m.EndDateISO)
	return dm
}

// APIOrderResult is the response from placing an order via the CLOB API.
type APIOrderResult struct {
	Success            bool     `json:"success"`
	ErrorMsg           string   `json:"errorMsg,omitempty"`
	OrderID            string   `json:"orderID,omitempty"`
	Status             string   `json:"status,omitempty"`
	TransactionsHashes []string `json:"transactionsHashes,omitempty"`
}

// ToDomainOrderResult converts an APIOrderResult to a domain.OrderResult.
func (r *APIOrderResult) ToDomainOrderResult() domain.OrderResult {
	return domain.OrderResult{
		Success:  r.Success,
		OrderID:  r.OrderID,
		TxHashes: r.TransactionsHashes,
		ErrorMsg: r.ErrorMsg,
		Status:   r.Status,
	}
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// BookMessage represents a full orderbook snapshot delivered over WebSocket.
type BookMessage struct {
	AssetID   string         `json:"asset_id"`
	Market    string         `json:"market"`
	Bids      []WSPriceLevel `json:"bids"`
	Asks      []WSPriceLevel `json:"asks"`
	Timestamp string         `json:"timestamp"`
	Hash      string         `json:"hash"`
}

// WSPriceLevel is a single bid/ask level in the WebSocket orderbook data.
type WSPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// WSCommand is the JSON payload sent to the WebSocket to subscribe/unsubscribe.
type WSCommand struct {
	Type    string   `json:"type"` // "subscribe" or "unsubscribe"
	Channel string   `json:"channel,omitempty"`
	Assets  []string `json:"assets_ids,omitempty"`
	Markets []string `json:"markets,omitempty"`
}

// BookToDomainSnapshot converts a BookMessage to a domain.OrderbookSnapshot.
func BookToDomainSnapshot(b *BookMessage) domain.OrderbookSnapshot {
	snap := domain.OrderbookSnapshot{
		AssetID: b.AssetID,
	}

	for _, lvl := range b.Bids {
		p, _ := strconv.ParseFloat(lvl.Price, 64)
		s, _ := strconv.ParseFloat(lvl.Size, 64)
		snap.Bids = append(snap.Bids, domain.PriceLevel{Price: p, Size: s})
		if p > snap.BestBid {
			snap.BestBid = p
		}
	}
	for _, lvl := range b.Asks {
		p, _ := strconv.ParseFloat(lvl.Price, 64)
		s, _ := strconv.ParseFloat(lvl.Size, 64)
		snap.Asks = append(snap.Asks, domain.PriceLevel{Price: p, Size: s})
		if snap.BestAsk == 0 || p < snap.BestAsk {
			snap.BestAsk = p
		}
	}

	if snap.BestBid > 0 && snap.BestAsk > 0 {
		snap.MidPrice = (snap.BestBid + snap.BestAsk) / 2
	}

	if ts, err := strconv.ParseInt(b.Timestamp, 10, 64); err == nil {
		snap.Timestamp = time.UnixMilli(ts)
	} else if t, err := time.Parse(time.RFC3339, b.Timestamp); err == nil {
		snap.Timestamp = t
	} else {
		snap.Timestamp = time.Now()
	}

	return snap
}

// --------------------------------------------------------------------------
// helpers
// --------------------------------------------------------------------------

// decodeStringArray decodes a JSON-encoded string array field such as
// Gamma's "outcomes". Malformed input yields nil.
func decodeStringArray(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

// parseTimePtr parses an RFC3339 timestamp, returning nil when absent or
// malformed.
func parseTimePtr(s string) *time.Time {
	if s == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t
	}
	return nil
}
