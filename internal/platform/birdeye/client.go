// Package birdeye is the REST and WebSocket client for the Birdeye market
// data API, which provides Solana token prices, price history, and token
// overview metrics.
package birdeye

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/solwatch/solwatch/internal/domain"
)

// Client is the REST client for the Birdeye public API.
type Client struct {
	baseURL        string
	apiKey         string
	httpClient     *http.Client
	limiter        domain.RateLimiter
	requestsPerSec int
	historyWindow  time.Duration
}

var _ domain.PriceFeed = (*Client)(nil)

// NewClient creates a Birdeye REST client.
//
// baseURL is the API root, e.g. "https://public-api.birdeye.so". The limiter
// is optional; when set, every request first acquires a slot under the
// "birdeye" key at the configured requests-per-second budget.
func NewClient(baseURL, apiKey string, historyWindow time.Duration, requestsPerSec int, limiter domain.RateLimiter) *Client {
	if historyWindow <= 0 {
		historyWindow = time.Hour
	}
	if requestsPerSec <= 0 {
		requestsPerSec = 10
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		limiter:        limiter,
		requestsPerSec: requestsPerSec,
		historyWindow:  historyWindow,
	}
}

type priceResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Value      float64 `json:"value"`
		UpdateUnix int64   `json:"updateUnixTime"`
	} `json:"data"`
}

// GetPrice returns the current USD price for a token mint.
func (c *Client) GetPrice(ctx context.Context, mint string) (float64, error) {
	params := url.Values{}
	params.Set("address", mint)

	body, err := c.doGet(ctx, "/defi/price?"+params.Encode())
	if err != nil {
		return 0, fmt.Errorf("birdeye: get price %s: %w", mint, err)
	}

	var resp priceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("birdeye: decode price %s: %w", mint, err)
	}
	if !resp.Success || resp.Data.Value <= 0 {
		return 0, fmt.Errorf("birdeye: price %s: %w", mint, domain.ErrNotFound)
	}
	return resp.Data.Value, nil
}

type historyResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Items []struct {
			UnixTime int64   `json:"unixTime"`
			Value    float64 `json:"value"`
		} `json:"items"`
	} `json:"data"`
}

// GetHistoricalPrices returns minute-resolution price samples over the
// configured history window, oldest first.
func (c *Client) GetHistoricalPrices(ctx context.Context, mint string) ([]domain.PricePoint, error) {
	now := time.Now().UTC()
	params := url.Values{}
	params.Set("address", mint)
	params.Set("address_type", "token")
	params.Set("type", "1m")
	params.Set("time_from", strconv.FormatInt(now.Add(-c.historyWindow).Unix(), 10))
	params.Set("time_to", strconv.FormatInt(now.Unix(), 10))

	body, err := c.doGet(ctx, "/defi/history_price?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("birdeye: get history %s: %w", mint, err)
	}

	var resp historyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("birdeye: decode history %s: %w", mint, err)
	}

	points := make([]domain.PricePoint, 0, len(resp.Data.Items))
	for _, item := range resp.Data.Items {
		points = append(points, domain.PricePoint{
			Price: item.Value,
			At:    time.Unix(item.UnixTime, 0).UTC(),
		})
	}
	return points, nil
}

type overviewResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Symbol             string  `json:"symbol"`
		Price              float64 `json:"price"`
		Liquidity          float64 `json:"liquidity"`
		Volume24hUSD       float64 `json:"v24hUSD"`
		Holder             int     `json:"holder"`
		PriceChange24hPerc float64 `json:"priceChange24hPercent"`
	} `json:"data"`
}

// GetTokenOverview fetches the screening metrics for a mint. Sentiment and
// holder concentration are not part of the overview endpoint and are left at
// their zero values for the caller to fill.
func (c *Client) GetTokenOverview(ctx context.Context, mint string) (domain.TokenSnapshot, error) {
	params := url.Values{}
	params.Set("address", mint)

	body, err := c.doGet(ctx, "/defi/token_overview?"+params.Encode())
	if err != nil {
		return domain.TokenSnapshot{}, fmt.Errorf("birdeye: get overview %s: %w", mint, err)
	}

	var resp overviewResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.TokenSnapshot{}, fmt.Errorf("birdeye: decode overview %s: %w", mint, err)
	}
	if !resp.Success {
		return domain.TokenSnapshot{}, fmt.Errorf("birdeye: overview %s: %w", mint, domain.ErrNotFound)
	}

	return domain.TokenSnapshot{
		Mint:            mint,
		Symbol:          resp.Data.Symbol,
		Price:           resp.Data.Price,
		LiquidityUSD:    resp.Data.Liquidity,
		Volume24hUSD:    resp.Data.Volume24hUSD,
		HolderCount:     resp.Data.Holder,
		MomentumPercent: resp.Data.PriceChange24hPerc,
		ObservedAt:      time.Now().UTC(),
	}, nil
}

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, "birdeye", c.requestsPerSec, time.Second); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("x-chain", "solana")

	resp, err := c.httpClient.Do(req)
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

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case statusCode == http.StatusTooManyRequests:
		return domain.ErrRateLimited
	default:
		return fmt.Errorf("status %d: %s", statusCode, string(body))
	}
}
