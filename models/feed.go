package models

import (
	"fmt"
	"strings"
	"time"
)

// FeedKind is the category of live data a subscriber wants
type FeedKind string

const (
	FeedStocks FeedKind = "stocks"
	FeedNews   FeedKind = "news"
)

// FeedKinds lists every kind in pipeline order
var FeedKinds = []FeedKind{FeedStocks, FeedNews}

// ParseFeedKind maps a query value to a FeedKind
func ParseFeedKind(value string) (FeedKind, error) {
	switch FeedKind(strings.ToLower(strings.TrimSpace(value))) {
	case FeedStocks:
		return FeedStocks, nil
	case FeedNews:
		return FeedNews, nil
	}
	return "", fmt.Errorf("unknown feed kind %q", value)
}

// Quote is one price snapshot for a ticker symbol
type Quote struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Open          float64   `json:"open"`
	PreviousClose float64   `json:"previousClose"`
	ObservedAt    time.Time `json:"observedAt"`
}

// NewsItem is one provider news headline
type NewsItem struct {
	ID          int64     `json:"id"`
	Category    string    `json:"category"`
	Headline    string    `json:"headline"`
	Summary     string    `json:"summary"`
	Source      string    `json:"source"`
	URL         string    `json:"url"`
	Image       string    `json:"image"`
	Related     string    `json:"related"`
	PublishedAt time.Time `json:"publishedAt"`
}

// DefaultNewsCategory is used when a record carries no category
const DefaultNewsCategory = "general"
