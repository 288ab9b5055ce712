package bus

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"market_feed_backend/metrics"
	"market_feed_backend/models"
)

// ParseOutcome describes how one tail line turned into a record
type ParseOutcome int

const (
	// Parsed means every field was present and well-formed
	Parsed ParseOutcome = iota
	// Defaulted means the record was kept after filling defaults
	Defaulted
	// Skipped means the line was dropped
	Skipped
)

func (o ParseOutcome) String() string {
	switch o {
	case Parsed:
		return "parsed"
	case Defaulted:
		return "defaulted"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// ConsumeParseError describes a dropped tail line
type ConsumeParseError struct {
	Topic string
	Line  int
	Err   error
}

func (e *ConsumeParseError) Error() string {
	return fmt.Sprintf("parse %s record %d: %v", e.Topic, e.Line, e.Err)
}

func (e *ConsumeParseError) Unwrap() error { return e.Err }

var (
	errNotObject     = errors.New("record is not a JSON object")
	errMissingSymbol = errors.New("quote has no symbol")
	errEmptyNews     = errors.New("news item has no headline or url")
)

// Decoder turns tail lines into typed records
type Decoder struct {
	clock  clockwork.Clock
	logger *zap.SugaredLogger
}

// NewDecoder creates a decoder. clock supplies default ids and timestamps.
func NewDecoder(clock clockwork.Clock, logger *zap.SugaredLogger) *Decoder {
	return &Decoder{clock: clock, logger: logger}
}

// EncodeQuotes marshals one record per quote
func EncodeQuotes(quotes []models.Quote) ([][]byte, error) {
	return encodeAll(quotes)
}

// EncodeNews marshals one record per news item
func EncodeNews(items []models.NewsItem) ([][]byte, error) {
	return encodeAll(items)
}

func encodeAll[T any](values []T) ([][]byte, error) {
	records := make([][]byte, 0, len(values))
	for _, v := range values {
		record, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// DecodeQuotes parses every line and keeps the ones that are not skipped
func (d *Decoder) DecodeQuotes(topic string, lines [][]byte) []models.Quote {
	quotes := make([]models.Quote, 0, len(lines))
	for i, line := range lines {
		quote, outcome, err := d.ParseQuote(line)
		if d.record(topic, i, outcome, err) {
			quotes = append(quotes, quote)
		}
	}
	return quotes
}

// DecodeNews parses every line and keeps the ones that are not skipped
func (d *Decoder) DecodeNews(topic string, lines [][]byte) []models.NewsItem {
	items := make([]models.NewsItem, 0, len(lines))
	for i, line := range lines {
		item, outcome, err := d.ParseNews(line)
		if d.record(topic, i, outcome, err) {
			items = append(items, item)
		}
	}
	return items
}

func (d *Decoder) record(topic string, line int, outcome ParseOutcome, err error) bool {
	switch outcome {
	case Skipped:
		metrics.BusParseFailures.WithLabelValues(topic).Inc()
		d.logger.Warnw("Dropping unparseable record", "error", &ConsumeParseError{Topic: topic, Line: line, Err: err})
		return false
	case Defaulted:
		metrics.BusRecordsDefaulted.WithLabelValues(topic).Inc()
	}
	return true
}

// ParseQuote parses one quote record. Missing or malformed numbers become 0,
// a missing timestamp becomes the current clock time.
func (d *Decoder) ParseQuote(line []byte) (models.Quote, ParseOutcome, error) {
	fields, err := decodeObject(line)
	if err != nil {
		return models.Quote{}, Skipped, err
	}

	symbol, _ := stringField(fields, "symbol")
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return models.Quote{}, Skipped, errMissingSymbol
	}

	outcome := Parsed
	number := func(key string) float64 {
		v, ok := numberField(fields, key)
		if !ok {
			outcome = Defaulted
		}
		return v
	}

	quote := models.Quote{
		Symbol:        symbol,
		Price:         number("price"),
		High:          number("high"),
		Low:           number("low"),
		Open:          number("open"),
		PreviousClose: number("previousClose"),
	}

	if ts, ok := timeField(fields, "observedAt"); ok {
		quote.ObservedAt = ts
	} else {
		quote.ObservedAt = d.clock.Now().UTC()
		outcome = Defaulted
	}

	return quote, outcome, nil
}

// ParseNews parses one news record. A missing or malformed id becomes the
// current clock in unix milliseconds and a missing category becomes "general".
func (d *Decoder) ParseNews(line []byte) (models.NewsItem, ParseOutcome, error) {
	fields, err := decodeObject(line)
	if err != nil {
		return models.NewsItem{}, Skipped, err
	}

	item := models.NewsItem{}
	item.Headline, _ = stringField(fields, "headline")
	item.URL, _ = stringField(fields, "url")
	if item.Headline == "" && item.URL == "" {
		return models.NewsItem{}, Skipped, errEmptyNews
	}
	item.Summary, _ = stringField(fields, "summary")
	item.Source, _ = stringField(fields, "source")
	item.Image, _ = stringField(fields, "image")
	item.Related, _ = stringField(fields, "related")

	outcome := Parsed
	now := d.clock.Now()

	if id, ok := idField(fields, "id"); ok && id > 0 {
		item.ID = id
	} else {
		item.ID = now.UnixMilli()
		outcome = Defaulted
	}

	if category, _ := stringField(fields, "category"); category != "" {
		item.Category = category
	} else {
		item.Category = models.DefaultNewsCategory
		outcome = Defaulted
	}

	if ts, ok := timeField(fields, "publishedAt"); ok {
		item.PublishedAt = ts
	} else {
		item.PublishedAt = now.UTC()
		outcome = Defaulted
	}

	return item, outcome, nil
}

func decodeObject(line []byte) (map[string]any, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return nil, errNotObject
	}

	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return fields, nil
}

func stringField(fields map[string]any, key string) (string, bool) {
	switch v := fields[key].(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	default:
		return "", false
	}
}

// numberField accepts finite JSON numbers and numeric strings
func numberField(fields map[string]any, key string) (float64, bool) {
	var raw string
	switch v := fields[key].(type) {
	case json.Number:
		raw = v.String()
	case string:
		raw = strings.TrimSpace(v)
	default:
		return 0, false
	}

	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// maxExactFloatInt is the largest integer a float64 holds without rounding
const maxExactFloatInt = 1 << 53

// idField accepts integer ids as JSON numbers or numeric strings. Fractional
// or out of range values are rejected.
func idField(fields map[string]any, key string) (int64, bool) {
	var raw string
	switch v := fields[key].(type) {
	case json.Number:
		raw = v.String()
	case string:
		raw = strings.TrimSpace(v)
	default:
		return 0, false
	}

	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n, true
	}

	// exponent forms such as 1.5e3
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > maxExactFloatInt {
		return 0, false
	}
	return int64(f), true
}

// timeField accepts RFC3339 strings and unix timestamps in seconds or milliseconds
func timeField(fields map[string]any, key string) (time.Time, bool) {
	switch v := fields[key].(type) {
	case string:
		ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(v))
		if err != nil {
			return time.Time{}, false
		}
		return ts.UTC(), true
	case json.Number:
		n, err := v.Int64()
		if err != nil || n <= 0 {
			return time.Time{}, false
		}
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), true
		}
		return time.Unix(n, 0).UTC(), true
	default:
		return time.Time{}, false
	}
}
