package provider

import (
	"errors"
	"fmt"
)

// FetchError is returned when an upstream request fails or its response is
// unusable. Symbol is empty for news requests.
type FetchError struct {
	Endpoint   string
	Symbol     string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	target := e.Endpoint
	if e.Symbol != "" {
		target = fmt.Sprintf("%s %s", e.Endpoint, e.Symbol)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", target, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", target, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ErrNoData marks a quote response that carries no price for the symbol
var ErrNoData = errors.New("no data for symbol")

// clientError reports whether err is an upstream 4xx. Those are caller
// problems (bad symbol, bad key) and must not trip the breaker.
func clientError(err error) bool {
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.StatusCode >= 400 && fetchErr.StatusCode < 500
	}
	return false
}
