package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFeedKind(t *testing.T) {
	kind, err := ParseFeedKind("stocks")
	require.NoError(t, err)
	assert.Equal(t, FeedStocks, kind)

	kind, err = ParseFeedKind(" News ")
	require.NoError(t, err)
	assert.Equal(t, FeedNews, kind)

	for _, bad := range []string{"", "crypto", "stock"} {
		_, err := ParseFeedKind(bad)
		assert.Error(t, err, bad)
	}
}

func TestQuoteSnapshot_RoundTripKeepsValues(t *testing.T) {
	observed := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	q := Quote{Symbol: "AAPL", Price: 189.25, High: 190.1, Low: 187.5, Open: 188, PreviousClose: 186.75, ObservedAt: observed}

	snap := NewQuoteSnapshot(q)
	assert.Equal(t, "189.25", snap.Price.String())
	assert.Equal(t, q, snap.Quote())
}
