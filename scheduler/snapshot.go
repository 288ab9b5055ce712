package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"market_feed_backend/metrics"
	"market_feed_backend/models"
	"market_feed_backend/services/guard"
)

// ErrPollInProgress is returned when a poll is already running
var ErrPollInProgress = errors.New("snapshot poll already in progress")

// QuoteFetcher fetches quotes for a symbol list
type QuoteFetcher interface {
	FetchQuotes(ctx context.Context, symbols []string) []models.Quote
}

// SnapshotWriter persists quotes
type SnapshotWriter interface {
	SaveQuotes(ctx context.Context, quotes []models.Quote) error
}

// SnapshotPoller periodically persists quotes for the historical query. It is
// independent of subscribers and of the cycle guard.
type SnapshotPoller struct {
	provider QuoteFetcher
	store    SnapshotWriter
	symbols  []string
	timeout  time.Duration
	clock    clockwork.Clock
	running  atomic.Bool
	logger   *zap.SugaredLogger
}

// NewSnapshotPoller creates a poller
func NewSnapshotPoller(provider QuoteFetcher, store SnapshotWriter, symbols []string, timeout time.Duration, clock clockwork.Clock, logger *zap.SugaredLogger) *SnapshotPoller {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &SnapshotPoller{
		provider: provider,
		store:    store,
		symbols:  symbols,
		timeout:  timeout,
		clock:    clock,
		logger:   logger.Named("snapshot"),
	}
}

// Poll fetches and stores one snapshot. It returns the number of quotes saved.
func (p *SnapshotPoller) Poll(ctx context.Context) (int, error) {
	if !p.running.CompareAndSwap(false, true) {
		return 0, ErrPollInProgress
	}
	defer p.running.Store(false)

	quotes, err := guard.Run(ctx, p.clock, "snapshot fetch", p.timeout, func(ctx context.Context) ([]models.Quote, error) {
		return p.provider.FetchQuotes(ctx, p.symbols), nil
	})
	if err != nil {
		metrics.SnapshotWrites.WithLabelValues("error").Inc()
		return 0, err
	}
	if len(quotes) == 0 {
		metrics.SnapshotWrites.WithLabelValues("empty").Inc()
		return 0, nil
	}

	err = guard.RunVoid(ctx, p.clock, "snapshot save", p.timeout, func(ctx context.Context) error {
		return p.store.SaveQuotes(ctx, quotes)
	})
	if err != nil {
		metrics.SnapshotWrites.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("save snapshot: %w", err)
	}

	metrics.SnapshotWrites.WithLabelValues("ok").Inc()
	return len(quotes), nil
}

// Run is the scheduled entry point; failures are logged and retried next tick
func (p *SnapshotPoller) Run(ctx context.Context) {
	saved, err := p.Poll(ctx)
	switch {
	case errors.Is(err, ErrPollInProgress):
		p.logger.Debug("Snapshot poll already running, skipping")
	case err != nil:
		p.logger.Errorf("Snapshot poll failed: %v", err)
	default:
		p.logger.Infof("Saved snapshot of %d quotes", saved)
	}
}
