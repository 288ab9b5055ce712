package provider

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"market_feed_backend/metrics"
)

const (
	headerRemaining = "X-Ratelimit-Remaining"
	headerReset     = "X-Ratelimit-Reset"
)

// RateLimitHint is the quota information carried by one provider response
type RateLimitHint struct {
	Remaining int
	ResetAt   time.Time
}

// ParseRateLimit reads the rate-limit headers. ok is false when the
// remaining header is absent or not a number.
func ParseRateLimit(h http.Header) (hint RateLimitHint, ok bool) {
	raw := strings.TrimSpace(h.Get(headerRemaining))
	if raw == "" {
		return hint, false
	}
	remaining, err := strconv.Atoi(raw)
	if err != nil {
		return hint, false
	}
	hint.Remaining = remaining

	if reset, err := strconv.ParseInt(strings.TrimSpace(h.Get(headerReset)), 10, 64); err == nil && reset > 0 {
		hint.ResetAt = time.Unix(reset, 0).UTC()
	}
	return hint, true
}

func (c *Client) inspectRateLimit(endpoint string, h http.Header) {
	hint, ok := ParseRateLimit(h)
	if !ok {
		return
	}
	metrics.RateLimitRemaining.Set(float64(hint.Remaining))

	if hint.Remaining <= c.opts.RateLimitLowWater {
		metrics.RateLimitWarnings.Inc()
		c.logger.Warnw("Provider rate limit nearly exhausted",
			"endpoint", endpoint,
			"remaining", hint.Remaining,
			"reset_at", hint.ResetAt,
		)
	}
}
