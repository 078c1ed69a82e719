package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"github.com/alanyoungcy/polymon/internal/crypto"
	"github.com/alanyoungcy/polymon/internal/domain"
)

// ClobClient is the REST client for the Polymarket CLOB (Central Limit
// Order Book) API. It handles the cursor-paginated market listing used by
// the bootstrap and order placement.
type ClobClient struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	hmacAuth   *crypto.HMACAuth
}

// NewClobClient creates a new CLOB REST client.
//
// baseURL is the CLOB API root, e.g. "https://clob.polymarket.com".
// signer is the EIP-712 signer for order signatures and auth messages.
// hmac is the HMAC authenticator for API requests; pass nil and call
// DeriveAPIKey to obtain one.
func NewClobClient(baseURL string, signer *crypto.Signer, hmac *crypto.HMACAuth) *ClobClient {
	return &ClobClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		signer:   signer,
		hmacAuth: hmac,
	}
}

// GetMarketsPage returns one page of the cursor-paginated market listing.
// Pass an empty cursor for the first page. The returned page's NextCursor
// equals EndCursor once the listing is exhausted.
func (c *ClobClient) GetMarketsPage(ctx context.Context, cursor string) (ClobMarketsPage, error) {
	path := "/markets"
	if cursor != "" {
		params := url.Values{}
		params.Set("next_cursor", cursor)
		path += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return ClobMarketsPage{}, fmt.Errorf("polymarket/clob: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ClobMarketsPage{}, fmt.Errorf("polymarket/clob: get markets: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ClobMarketsPage{}, fmt.Errorf("polymarket/clob: read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return ClobMarketsPage{}, fmt.Errorf("polymarket/clob: get markets: %w", err)
	}

	var page ClobMarketsPage
	if err := json.Unmarshal(body, &page); err != nil {
		return ClobMarketsPage{}, fmt.Errorf("polymarket/clob: decode markets page: %w", err)
	}
	return page, nil
}

// GetAllMarkets walks the cursor pagination from the beginning until the
// end sentinel and returns every market as a domain value.
func (c *ClobClient) GetAllMarkets(ctx context.Context) ([]domain.Market, error) {
	var out []domain.Market
	cursor := ""
	for {
		page, err := c.GetMarketsPage(ctx, cursor)
		if err != nil {
			return nil, err
		}
		for i := range page.Data {
			out = append(out, page.Data[i].ToDomainMarket())
		}
		if page.NextCursor == EndCursor || page.NextCursor == "" {
			return out, nil
		}
		cursor = page.NextCursor
	}
}

// PostOrder submits a signed order to the CLOB API and returns the result.
// A rejected order is reported in the result, not as an error: the caller
// records the failure against the local order row.
func (c *ClobClient) PostOrder(ctx context.Context, payload SignedOrder) (domain.OrderResult, error) {
	body := map[string]any{
		"order": map[string]any{
			"tokenID":       payload.TokenID,
			"makerAmount":   payload.MakerAmount.String(),
			"takerAmount":   payload.TakerAmount.String(),
			"side":          payload.Side,
			"feeRateBps":    "0",
			"nonce":         "0",
			"expiration":    "0",
			"signatureType": 0,
			"signature":     payload.Signature,
			"maker":         payload.Maker,
			"signer":        payload.Maker,
			"taker":         "0x0000000000000000000000000000000000000000",
		},
		"owner":     payload.Maker,
		"orderType": payload.OrderType,
	}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodPost, "/order", body)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: post order: %w", err)
	}

	var apiResult APIOrderResult
	if err := json.Unmarshal(respBody, &apiResult); err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}

	return apiResult.ToDomainOrderResult(), nil
}

// SignedOrder is the signed payload PostOrder submits.
type SignedOrder struct {
	TokenID     string
	MakerAmount *big.Int
	TakerAmount *big.Int
	Side        string // "BUY" or "SELL"
	OrderType   string // "FOK" for market orders, "GTC" for limit
	Signature   string
	Maker       string
}

// DeriveAPIKey performs the CLOB auth flow to obtain an HMAC API key. It
// signs a ClobAuth EIP-712 message and sends it with L1 headers to the
// derive-api-key endpoint. Per Polymarket docs, L1 requires POLY_ADDRESS,
// POLY_SIGNATURE, POLY_TIMESTAMP, POLY_NONCE. On success it populates the
// client's hmacAuth field.
func (c *ClobClient) DeriveAPIKey(ctx context.Context) error {
	address := c.signer.Address().Hex()
	timestamp := time.Now().Unix()
	nonce := int64(0)

	sig, err := c.signer.SignAuthMessage(address, timestamp, nonce)
	if err != nil {
		return fmt.Errorf("polymarket/clob: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("polymarket/clob: create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", address)
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", fmt.Sprintf("%d", timestamp))
	req.Header.Set("POLY_NONCE", fmt.Sprintf("%d", nonce))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("polymarket/clob: auth request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: read auth response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("polymarket/clob: auth failed (HTTP %d): %s", resp.StatusCode, string(respBody))
	}

	var authResp struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(respBody, &authResp); err != nil {
		return fmt.Errorf("polymarket/clob: decode auth response: %w", err)
	}

	c.hmacAuth = &crypto.HMACAuth{
		Key:        authResp.APIKey,
		Secret:     authResp.Secret,
		Passphrase: authResp.Passphrase,
	}

	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doAuthenticatedRequest builds, signs (HMAC), sends, and reads an HTTP
// request against the CLOB API. It returns the raw response body.
func (c *ClobClient) doAuthenticatedRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// Apply HMAC authentication headers.
	if c.hmacAuth != nil {
		address := c.signer.Address().Hex()
		headers := c.hmacAuth.L2Headers(address, method, path, bodyStr)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch {
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	case statusCode >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrRemoteServer, statusCode, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
