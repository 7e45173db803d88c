package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/microstructure-engine/internal/collaborators"
)

// CatalogClient is a rate-limited, cursor-paginated REST fetcher
// implementing collaborators.CatalogFetcher (spec §4.1/§9, C8 input).
//
// Grounded on the teacher's RESTClient (internal/ingestion/rest.go):
// same golang.org/x/time/rate limiter and cursor-pagination loop,
// generalized off Kalshi-specific `KALSHI-ACCESS-*` headers onto the
// provider-neutral RequestSigner/SignedHeaders pattern, and off the
// teacher's hardcoded "Politics" category filter (internal/ingestion/
// series.go) onto a configurable optional Category.
type CatalogClient struct {
	baseURL    string
	category   string
	signer     *RequestSigner
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
}

// NewCatalogClient builds a fetcher against baseURL. signer may be nil
// for providers that don't require request signing; category, when
// non-empty, filters the fetched markets client-side (markets with no
// category are kept).
//
// REST calls are wrapped in a gobreaker.CircuitBreaker so a catalog
// provider outage trips open after repeated failures instead of every
// scan tick hanging on the full HTTP timeout.
func NewCatalogClient(baseURL, category string, signer *RequestSigner, requestsPerSecond int) *CatalogClient {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 10
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "catalog-rest",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &CatalogClient{
		baseURL:    baseURL,
		category:   category,
		signer:     signer,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
		breaker:    breaker,
	}
}

// signHeaders signs path and, if c.signer is set, attaches the
// resulting header triad to req.
func (c *CatalogClient) signHeaders(req *http.Request, path string) error {
	if c.signer == nil {
		return nil
	}
	headers, err := c.signer.SignRequest(req.Method, path, nil)
	if err != nil {
		return fmt.Errorf("ingestion: signing request: %w", err)
	}
	req.Header.Set(HeaderAccessKey, headers.AccessKey)
	req.Header.Set(HeaderAccessSignature, headers.AccessSignature)
	req.Header.Set(HeaderAccessTimestamp, headers.AccessTimestamp)
	return nil
}

// do executes req through the circuit breaker, closing the response
// body on any breaker-rejected attempt so callers only ever see an open
// resp.Body on success.
func (c *CatalogClient) do(req *http.Request) (*http.Response, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			resp.Body.Close()
			return nil, fmt.Errorf("ingestion: server error %d", resp.StatusCode)
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*http.Response), nil
}

type marketsPage struct {
	Markets []rawMarket `json:"markets"`
	Cursor  string      `json:"cursor"`
}

type rawMarket struct {
	Ticker        string            `json:"ticker"`
	Title         string            `json:"title"`
	Outcomes      []string          `json:"outcomes"`
	OutcomePrices []json.RawMessage `json:"outcome_prices"`
	Volume        float64           `json:"volume"`
	Status        string            `json:"status"`
	CreatedTime   *time.Time        `json:"created_time"`
	CloseTime     *time.Time        `json:"close_time"`
	Category      string            `json:"category"`
}

// FetchMarkets walks every page of the catalog, returning the full set
// of market summaries. Each page fetch honors the rate limiter before
// the request is made, matching the teacher's wait-then-call ordering.
func (c *CatalogClient) FetchMarkets(ctx context.Context) ([]collaborators.MarketSummary, error) {
	var out []collaborators.MarketSummary
	cursor := ""

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("ingestion: rate limiter wait: %w", err)
		}

		page, err := c.fetchPage(ctx, cursor)
		if err != nil {
			return nil, err
		}

		for _, m := range page.Markets {
			if c.category != "" && m.Category != "" && m.Category != c.category {
				continue
			}
			out = append(out, toSummary(m))
		}

		if page.Cursor == "" {
			break
		}
		cursor = page.Cursor
	}

	return out, nil
}

func (c *CatalogClient) fetchPage(ctx context.Context, cursor string) (marketsPage, error) {
	path := "/markets"
	url := c.baseURL + path
	if cursor != "" {
		url += "?cursor=" + cursor
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return marketsPage{}, fmt.Errorf("ingestion: building catalog request: %w", err)
	}

	if err := c.signHeaders(req, path); err != nil {
		return marketsPage{}, err
	}

	resp, err := c.do(req)
	if err != nil {
		return marketsPage{}, fmt.Errorf("ingestion: catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return marketsPage{}, fmt.Errorf("ingestion: catalog request returned %d: %s", resp.StatusCode, string(body))
	}

	var page marketsPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return marketsPage{}, fmt.Errorf("ingestion: decoding catalog page: %w", err)
	}
	return page, nil
}

// GetOrderbook fetches the current order book snapshot for a single
// market over REST, used to seed state on first subscription before
// the streaming connection takes over.
func (c *CatalogClient) GetOrderbook(ctx context.Context, marketID string) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("ingestion: rate limiter wait: %w", err)
	}

	path := fmt.Sprintf("/markets/%s/orderbook", marketID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("ingestion: building orderbook request: %w", err)
	}
	if err := c.signHeaders(req, path); err != nil {
		return nil, err
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("ingestion: orderbook request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("ingestion: orderbook request returned %d: %s", resp.StatusCode, string(body))
	}
	return io.ReadAll(resp.Body)
}

func toSummary(m rawMarket) collaborators.MarketSummary {
	prices := make([]float64, 0, len(m.OutcomePrices))
	for _, raw := range m.OutcomePrices {
		if v, err := decodeNumber(raw); err == nil {
			prices = append(prices, v)
		}
	}
	return collaborators.MarketSummary{
		ID:            m.Ticker,
		Question:      m.Title,
		Outcomes:      m.Outcomes,
		OutcomePrices: prices,
		VolumeNum:     m.Volume,
		Active:        m.Status == "active",
		Closed:        m.Status == "closed" || m.Status == "finalized",
		CreatedAt:     m.CreatedTime,
		EndDate:       m.CloseTime,
		Tags:          nil,
		Metadata:      map[string]interface{}{"category": m.Category},
	}
}
