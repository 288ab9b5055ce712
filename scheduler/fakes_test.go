package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"market_feed_backend/models"
)

var testNow = time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)

type fakeProvider struct {
	mu         sync.Mutex
	quotes     []models.Quote
	news       []models.NewsItem
	newsErr    error
	quoteCalls int
	newsCalls  int

	// when set, FetchQuotes signals entered and waits for release
	entered chan struct{}
	release chan struct{}
}

func (p *fakeProvider) FetchQuotes(ctx context.Context, symbols []string) []models.Quote {
	p.mu.Lock()
	p.quoteCalls++
	entered, release := p.entered, p.release
	quotes := append([]models.Quote(nil), p.quotes...)
	p.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
		<-release
	}
	return quotes
}

func (p *fakeProvider) FetchNewsBatch(ctx context.Context, maxItems int) ([]models.NewsItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.newsCalls++
	if p.newsErr != nil {
		return nil, p.newsErr
	}
	items := p.news
	if maxItems > 0 && len(items) > maxItems {
		items = items[:maxItems]
	}
	return append([]models.NewsItem(nil), items...), nil
}

func (p *fakeProvider) calls() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.quoteCalls, p.newsCalls
}

// memBus is an in-memory MessageBus that counts calls per topic
type memBus struct {
	mu       sync.Mutex
	topics   map[string][][]byte
	publish  map[string]int
	consumes map[string]int
}

func newMemBus() *memBus {
	return &memBus{topics: map[string][][]byte{}, publish: map[string]int{}, consumes: map[string]int{}}
}

func (b *memBus) Publish(ctx context.Context, topic string, record []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publish[topic]++
	b.topics[topic] = append(b.topics[topic], record)
	return nil
}

func (b *memBus) ConsumeLatest(ctx context.Context, topic string, count int) ([][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consumes[topic]++
	all := b.topics[topic]
	if len(all) > count {
		all = all[len(all)-count:]
	}
	return append([][]byte(nil), all...), nil
}

func (b *memBus) Close() error { return nil }

func (b *memBus) counts(topic string) (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.publish[topic], b.consumes[topic]
}

type fakeConn struct {
	mu   sync.Mutex
	open bool
	sent [][]byte
}

func newFakeConn() *fakeConn { return &fakeConn{open: true} }

func (c *fakeConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return errors.New("closed")
	}
	c.sent = append(c.sent, payload)
	return nil
}

func (c *fakeConn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	return nil
}

func (c *fakeConn) messages() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

func sampleQuotes() []models.Quote {
	return []models.Quote{
		{Symbol: "AAPL", Price: 189.25, High: 190, Low: 187, Open: 188, PreviousClose: 187.9, ObservedAt: testNow},
		{Symbol: "MSFT", Price: 410.5, High: 411, Low: 405, Open: 406, PreviousClose: 404, ObservedAt: testNow},
	}
}

func sampleNews() []models.NewsItem {
	return []models.NewsItem{
		{ID: 1, Category: "general", Headline: "Fed holds", URL: "https://example.com/1", PublishedAt: testNow},
		{ID: 2, Category: "general", Headline: "Oil slips", URL: "https://example.com/2", PublishedAt: testNow},
	}
}
