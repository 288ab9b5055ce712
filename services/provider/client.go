// Package provider fetches quotes and news from a Finnhub-compatible REST API.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"market_feed_backend/metrics"
	"market_feed_backend/models"
)

const (
	endpointQuote = "quote"
	endpointNews  = "news"

	maxResponseBytes = 4 << 20
)

// Options configures a Client
type Options struct {
	APIKey            string
	QuoteURL          string
	NewsURL           string
	NewsCategory      string
	Timeout           time.Duration
	RateLimitLowWater int
}

// Client talks to the market data provider
type Client struct {
	opts       Options
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	clock      clockwork.Clock
	logger     *zap.SugaredLogger
}

// NewClient creates a provider client
func NewClient(opts Options, clock clockwork.Clock, logger *zap.SugaredLogger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.NewsCategory == "" {
		opts.NewsCategory = models.DefaultNewsCategory
	}

	c := &Client{
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.Timeout},
		clock:      clock,
		logger:     logger.Named("provider"),
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "provider",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || clientError(err) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warnw("Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			metrics.CircuitBreakerState.Set(float64(to))
		},
	})

	return c
}

// BreakerState exposes the current circuit breaker state
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

type quoteResponse struct {
	Current       float64 `json:"c"`
	High          float64 `json:"h"`
	Low           float64 `json:"l"`
	Open          float64 `json:"o"`
	PreviousClose float64 `json:"pc"`
	Timestamp     int64   `json:"t"`
}

type newsResponseItem struct {
	ID       int64  `json:"id"`
	Category string `json:"category"`
	Datetime int64  `json:"datetime"`
	Headline string `json:"headline"`
	Summary  string `json:"summary"`
	Source   string `json:"source"`
	URL      string `json:"url"`
	Image    string `json:"image"`
	Related  string `json:"related"`
}

// FetchQuote fetches the current quote for one symbol
func (c *Client) FetchQuote(ctx context.Context, symbol string) (models.Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return models.Quote{}, &FetchError{Endpoint: endpointQuote, Err: errors.New("empty symbol")}
	}

	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := c.get(ctx, endpointQuote, symbol, c.opts.QuoteURL, params)
	if err != nil {
		return models.Quote{}, err
	}

	var payload quoteResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return models.Quote{}, &FetchError{Endpoint: endpointQuote, Symbol: symbol, Err: fmt.Errorf("decode quote: %w", err)}
	}
	if payload.Current == 0 && payload.Timestamp == 0 {
		return models.Quote{}, &FetchError{Endpoint: endpointQuote, Symbol: symbol, Err: ErrNoData}
	}

	observedAt := c.clock.Now().UTC()
	if payload.Timestamp > 0 {
		observedAt = time.Unix(payload.Timestamp, 0).UTC()
	}

	return models.Quote{
		Symbol:        symbol,
		Price:         payload.Current,
		High:          payload.High,
		Low:           payload.Low,
		Open:          payload.Open,
		PreviousClose: payload.PreviousClose,
		ObservedAt:    observedAt,
	}, nil
}

// FetchQuotes fetches every symbol concurrently. A failed symbol is logged and
// left out; the remaining quotes keep the input order.
func (c *Client) FetchQuotes(ctx context.Context, symbols []string) []models.Quote {
	results := make([]*models.Quote, len(symbols))

	var g errgroup.Group
	for i, symbol := range symbols {
		g.Go(func() error {
			quote, err := c.FetchQuote(ctx, symbol)
			if err != nil {
				c.logger.Warnw("Failed to fetch quote", "symbol", symbol, "error", err)
				return nil
			}
			results[i] = &quote
			return nil
		})
	}
	_ = g.Wait()

	quotes := make([]models.Quote, 0, len(symbols))
	for _, quote := range results {
		if quote != nil {
			quotes = append(quotes, *quote)
		}
	}

	c.logger.Debugf("Fetched %d/%d quotes", len(quotes), len(symbols))
	return quotes
}

// FetchNewsBatch fetches the latest news and returns at most maxItems items.
// Items that cannot be decoded are skipped. maxItems <= 0 means no limit.
func (c *Client) FetchNewsBatch(ctx context.Context, maxItems int) ([]models.NewsItem, error) {
	params := url.Values{}
	params.Set("category", c.opts.NewsCategory)

	body, err := c.get(ctx, endpointNews, "", c.opts.NewsURL, params)
	if err != nil {
		return nil, err
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &FetchError{Endpoint: endpointNews, Err: fmt.Errorf("decode news list: %w", err)}
	}

	items := make([]models.NewsItem, 0, len(raw))
	for i, entry := range raw {
		if maxItems > 0 && len(items) >= maxItems {
			break
		}

		var payload newsResponseItem
		if err := json.Unmarshal(entry, &payload); err != nil {
			c.logger.Warnw("Skipping malformed news item", "index", i, "error", err)
			continue
		}
		if payload.Headline == "" && payload.URL == "" {
			c.logger.Warnw("Skipping empty news item", "index", i)
			continue
		}

		items = append(items, c.newsItem(payload))
	}

	return items, nil
}

func (c *Client) newsItem(payload newsResponseItem) models.NewsItem {
	publishedAt := c.clock.Now().UTC()
	if payload.Datetime > 0 {
		publishedAt = time.Unix(payload.Datetime, 0).UTC()
	}
	category := payload.Category
	if category == "" {
		category = models.DefaultNewsCategory
	}

	return models.NewsItem{
		ID:          payload.ID,
		Category:    category,
		Headline:    payload.Headline,
		Summary:     payload.Summary,
		Source:      payload.Source,
		URL:         payload.URL,
		Image:       payload.Image,
		Related:     payload.Related,
		PublishedAt: publishedAt,
	}
}

// get performs one GET through the circuit breaker and returns the body
func (c *Client) get(ctx context.Context, endpoint, symbol, baseURL string, params url.Values) ([]byte, error) {
	if c.opts.APIKey != "" {
		params.Set("token", c.opts.APIKey)
	}
	target := baseURL + "?" + params.Encode()

	result, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, &FetchError{Endpoint: endpoint, Symbol: symbol, Err: err}
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, &FetchError{Endpoint: endpoint, Symbol: symbol, Err: err}
		}
		defer resp.Body.Close()

		c.inspectRateLimit(endpoint, resp.Header)

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, &FetchError{Endpoint: endpoint, Symbol: symbol, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
		}
		if resp.StatusCode != http.StatusOK {
			return nil, &FetchError{
				Endpoint:   endpoint,
				Symbol:     symbol,
				StatusCode: resp.StatusCode,
				Err:        fmt.Errorf("unexpected response: %s", truncate(string(body), 200)),
			}
		}
		return body, nil
	})
	if err != nil {
		metrics.ProviderRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		var fetchErr *FetchError
		if errors.As(err, &fetchErr) {
			return nil, err
		}
		// breaker rejections (open / too many requests)
		return nil, &FetchError{Endpoint: endpoint, Symbol: symbol, Err: err}
	}

	metrics.ProviderRequestsTotal.WithLabelValues(endpoint, "ok").Inc()
	return result.([]byte), nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
