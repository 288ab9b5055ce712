package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *observer.ObservedLogs, *clockwork.FakeClock) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	core, logs := observer.New(zapcore.DebugLevel)
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC))

	client := NewClient(Options{
		APIKey:            "test-key",
		QuoteURL:          server.URL + "/quote",
		NewsURL:           server.URL + "/news",
		Timeout:           2 * time.Second,
		RateLimitLowWater: 5,
	}, clock, zap.New(core).Sugar())

	return client, logs, clock
}

func TestFetchQuote(t *testing.T) {
	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, "AAPL", r.URL.Query().Get("symbol"))
		assert.Equal(t, "test-key", r.URL.Query().Get("token"))
		fmt.Fprint(w, `{"c":189.25,"h":190.1,"l":187.5,"o":188,"pc":187.9,"t":1709300000}`)
	}))

	quote, err := client.FetchQuote(context.Background(), "aapl")
	require.NoError(t, err)

	assert.Equal(t, "AAPL", quote.Symbol)
	assert.Equal(t, 189.25, quote.Price)
	assert.Equal(t, 190.1, quote.High)
	assert.Equal(t, 187.5, quote.Low)
	assert.Equal(t, 188.0, quote.Open)
	assert.Equal(t, 187.9, quote.PreviousClose)
	assert.Equal(t, time.Unix(1709300000, 0).UTC(), quote.ObservedAt)
}

func TestFetchQuote_NoData(t *testing.T) {
	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"c":0,"h":0,"l":0,"o":0,"pc":0,"t":0}`)
	}))

	_, err := client.FetchQuote(context.Background(), "ZZZZ")
	require.Error(t, err)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "ZZZZ", fetchErr.Symbol)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestFetchQuote_HTTPError(t *testing.T) {
	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))

	_, err := client.FetchQuote(context.Background(), "MSFT")

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, http.StatusBadGateway, fetchErr.StatusCode)
	assert.Equal(t, "quote", fetchErr.Endpoint)
}

func TestFetchQuotes_IsolatesFailures(t *testing.T) {
	client, logs, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("symbol") {
		case "BAD":
			http.Error(w, "unknown symbol", http.StatusNotFound)
		case "AAPL":
			fmt.Fprint(w, `{"c":1,"h":1,"l":1,"o":1,"pc":1,"t":1}`)
		case "MSFT":
			fmt.Fprint(w, `{"c":2,"h":2,"l":2,"o":2,"pc":2,"t":1}`)
		case "TSLA":
			fmt.Fprint(w, `{"c":3,"h":3,"l":3,"o":3,"pc":3,"t":1}`)
		}
	}))

	quotes := client.FetchQuotes(context.Background(), []string{"AAPL", "BAD", "MSFT", "TSLA"})

	require.Len(t, quotes, 3)
	assert.Equal(t, "AAPL", quotes[0].Symbol)
	assert.Equal(t, "MSFT", quotes[1].Symbol)
	assert.Equal(t, "TSLA", quotes[2].Symbol)

	failures := logs.FilterMessage("Failed to fetch quote").All()
	require.Len(t, failures, 1)
	assert.Equal(t, "BAD", failures[0].ContextMap()["symbol"])
}

func TestFetchNewsBatch_SkipsMalformedAndTruncates(t *testing.T) {
	client, logs, clock := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "general", r.URL.Query().Get("category"))
		fmt.Fprint(w, `[
			{"id":1,"category":"general","datetime":1709300000,"headline":"one","source":"wire","url":"https://a"},
			{"id":"not-a-number","headline":"broken"},
			{"id":2,"datetime":0,"headline":"two","url":"https://b"},
			{"id":3,"category":"general","datetime":1709300100,"headline":"three","url":"https://c"},
			{"id":4,"category":"general","datetime":1709300200,"headline":"four","url":"https://d"}
		]`)
	}))

	items, err := client.FetchNewsBatch(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, int64(1), items[0].ID)
	assert.Equal(t, time.Unix(1709300000, 0).UTC(), items[0].PublishedAt)

	assert.Equal(t, int64(2), items[1].ID)
	assert.Equal(t, "general", items[1].Category)
	assert.Equal(t, clock.Now().UTC(), items[1].PublishedAt)

	assert.Equal(t, int64(3), items[2].ID)
	assert.Equal(t, 1, logs.FilterMessage("Skipping malformed news item").Len())
}

func TestFetchNewsBatch_NotAList(t *testing.T) {
	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":"invalid api key"}`)
	}))

	_, err := client.FetchNewsBatch(context.Background(), 10)

	var fetchErr *FetchError
	assert.ErrorAs(t, err, &fetchErr)
}

func TestRateLimitWarning(t *testing.T) {
	client, logs, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Ratelimit-Remaining", r.URL.Query().Get("symbol")[1:])
		w.Header().Set("X-Ratelimit-Reset", "1709300060")
		fmt.Fprint(w, `{"c":1,"h":1,"l":1,"o":1,"pc":1,"t":1}`)
	}))

	// remaining encoded after the first letter of the symbol
	_, err := client.FetchQuote(context.Background(), "A30")
	require.NoError(t, err)
	assert.Zero(t, logs.FilterMessage("Provider rate limit nearly exhausted").Len())

	_, err = client.FetchQuote(context.Background(), "A5")
	require.NoError(t, err)
	_, err = client.FetchQuote(context.Background(), "A2")
	require.NoError(t, err)

	warnings := logs.FilterMessage("Provider rate limit nearly exhausted").All()
	require.Len(t, warnings, 2)
	assert.EqualValues(t, 5, warnings[0].ContextMap()["remaining"])
	assert.EqualValues(t, 2, warnings[1].ContextMap()["remaining"])
}

func TestParseRateLimit(t *testing.T) {
	h := http.Header{}
	_, ok := ParseRateLimit(h)
	assert.False(t, ok)

	h.Set("X-Ratelimit-Remaining", "abc")
	_, ok = ParseRateLimit(h)
	assert.False(t, ok)

	h.Set("X-Ratelimit-Remaining", "12")
	h.Set("X-Ratelimit-Reset", "1709300060")
	hint, ok := ParseRateLimit(h)
	require.True(t, ok)
	assert.Equal(t, 12, hint.Remaining)
	assert.Equal(t, time.Unix(1709300060, 0).UTC(), hint.ResetAt)
}

func TestBreaker_IgnoresClientErrors(t *testing.T) {
	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))

	for i := 0; i < 10; i++ {
		_, err := client.FetchQuote(context.Background(), "NOPE")
		require.Error(t, err)
	}

	assert.Equal(t, gobreaker.StateClosed, client.BreakerState())
}

func TestBreaker_OpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))

	for i := 0; i < 5; i++ {
		_, _ = client.FetchQuote(context.Background(), "AAPL")
	}
	require.Equal(t, gobreaker.StateOpen, client.BreakerState())

	_, err := client.FetchQuote(context.Background(), "AAPL")
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.EqualValues(t, 5, calls.Load())
}
