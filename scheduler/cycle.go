package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"market_feed_backend/metrics"
	"market_feed_backend/models"
	"market_feed_backend/services/bus"
	"market_feed_backend/services/guard"
	"market_feed_backend/services/registry"
)

// CycleOutcome labels how a cycle ended
type CycleOutcome string

const (
	OutcomeRan            CycleOutcome = "ran"
	OutcomeEmpty          CycleOutcome = "empty"
	OutcomeSkippedRunning CycleOutcome = "skipped_running"
	OutcomePanicked       CycleOutcome = "panicked"
)

var (
	errNoQuotes  = errors.New("no quotes fetched")
	errNoNews    = errors.New("no news fetched")
	errPublished = errors.New("no records published")

	errPipelinePanicked = errors.New("pipeline panicked")
)

// FeedProvider is the upstream data source
type FeedProvider interface {
	FetchQuotes(ctx context.Context, symbols []string) []models.Quote
	FetchNewsBatch(ctx context.Context, maxItems int) ([]models.NewsItem, error)
}

// Broadcaster delivers a batch to the subscribers of one feed kind
type Broadcaster interface {
	Send(kind models.FeedKind, payload any) (int, error)
}

// CycleOptions tunes the pipeline
type CycleOptions struct {
	Symbols          []string
	StocksTopic      string
	NewsTopic        string
	NewsProduceLimit int
	NewsConsumeLimit int
	NewsBatchSize    int
	NewsBatchDelay   time.Duration
	StageTimeout     time.Duration
	MaxEmptyCycles   int
}

// FeedResult is the outcome of one feed kind within a cycle
type FeedResult struct {
	Kind      models.FeedKind
	Fetched   int
	Published int
	Consumed  int
	Delivered int
	Err       error
}

// CycleReport summarizes one RunCycle call
type CycleReport struct {
	Outcome     CycleOutcome
	Swept       int
	EmptyCycles int
	Feeds       []FeedResult
}

// CycleRunner runs the fetch, publish, consume and broadcast pipeline for
// every feed kind that has subscribers. At most one cycle runs at a time.
type CycleRunner struct {
	state       *CycleState
	registry    *registry.Registry
	provider    FeedProvider
	bus         bus.MessageBus
	decoder     *bus.Decoder
	broadcaster Broadcaster
	newsLimiter *rate.Limiter
	clock       clockwork.Clock
	opts        CycleOptions
	logger      *zap.SugaredLogger

	triggers sync.WaitGroup
}

// NewCycleRunner wires the pipeline collaborators
func NewCycleRunner(
	opts CycleOptions,
	reg *registry.Registry,
	provider FeedProvider,
	messageBus bus.MessageBus,
	broadcaster Broadcaster,
	clock clockwork.Clock,
	logger *zap.SugaredLogger,
) *CycleRunner {
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = 15 * time.Second
	}
	if opts.StocksTopic == "" {
		opts.StocksTopic = string(models.FeedStocks)
	}
	if opts.NewsTopic == "" {
		opts.NewsTopic = string(models.FeedNews)
	}

	var limiter *rate.Limiter
	if opts.NewsBatchDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(opts.NewsBatchDelay), 1)
	}

	logger = logger.Named("cycle")
	return &CycleRunner{
		state:       &CycleState{},
		registry:    reg,
		provider:    provider,
		bus:         messageBus,
		decoder:     bus.NewDecoder(clock, logger),
		broadcaster: broadcaster,
		newsLimiter: limiter,
		clock:       clock,
		opts:        opts,
		logger:      logger,
	}
}

// State exposes the runner state for status reporting
func (r *CycleRunner) State() *CycleState {
	return r.state
}

// TriggerNow starts a cycle in the background unless one is already running
func (r *CycleRunner) TriggerNow(ctx context.Context) {
	if r.state.IsRunning() {
		r.logger.Debug("Immediate trigger ignored, cycle already running")
		return
	}

	r.triggers.Add(1)
	go func() {
		defer r.triggers.Done()
		r.RunCycle(ctx)
	}()
}

// Wait blocks until every cycle started by TriggerNow has returned
func (r *CycleRunner) Wait() {
	r.triggers.Wait()
}

// RunCycle runs one cycle. A call made while another cycle is running
// returns immediately with OutcomeSkippedRunning.
func (r *CycleRunner) RunCycle(ctx context.Context) (report CycleReport) {
	if !r.state.tryStart() {
		r.logger.Debug("Cycle already running, skipping")
		metrics.CyclesTotal.WithLabelValues(string(OutcomeSkippedRunning)).Inc()
		return CycleReport{Outcome: OutcomeSkippedRunning}
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Errorf("Cycle panicked: %v", rec)
			report.Outcome = OutcomePanicked
		}
		r.state.finish(r.clock.Now(), report.Outcome)
		metrics.CyclesTotal.WithLabelValues(string(report.Outcome)).Inc()
	}()

	report.Swept = r.registry.Sweep()
	if report.Swept > 0 {
		r.logger.Infof("Removed %d closed subscribers", report.Swept)
	}

	counts := r.registry.Counts()
	if counts[models.FeedStocks] == 0 && counts[models.FeedNews] == 0 {
		report.Outcome = OutcomeEmpty
		report.EmptyCycles = r.state.recordEmpty(r.opts.MaxEmptyCycles)
		metrics.ConsecutiveEmptyCycles.Set(float64(report.EmptyCycles))
		r.logger.Debugf("No subscribers, skipping cycle (empty cycles: %d)", report.EmptyCycles)
		return report
	}

	r.state.resetEmpty()
	metrics.ConsecutiveEmptyCycles.Set(0)
	report.Outcome = OutcomeRan

	for _, kind := range models.FeedKinds {
		if counts[kind] == 0 {
			continue
		}

		result := r.runFeed(ctx, kind)
		if errors.Is(result.Err, errPipelinePanicked) {
			report.Outcome = OutcomePanicked
		}

		if result.Err != nil {
			metrics.FeedPipelineTotal.WithLabelValues(string(kind), statusLabel(result.Err)).Inc()
			r.logger.Warnw("Feed pipeline failed, skipping broadcast", "feed", string(kind), "error", result.Err)
		} else {
			metrics.FeedPipelineTotal.WithLabelValues(string(kind), "ok").Inc()
			r.logger.Infof("Broadcast %d %s records to %d subscribers", result.Consumed, kind, result.Delivered)
		}
		report.Feeds = append(report.Feeds, result)
	}

	return report
}

// runFeed runs one kind's pipeline. A panic is turned into that kind's error
// so the remaining kinds still run.
func (r *CycleRunner) runFeed(ctx context.Context, kind models.FeedKind) (result FeedResult) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Errorf("%s pipeline panicked: %v", kind, rec)
			result = FeedResult{Kind: kind, Err: fmt.Errorf("%w: %v", errPipelinePanicked, rec)}
		}
	}()

	switch kind {
	case models.FeedStocks:
		return r.runStocks(ctx)
	case models.FeedNews:
		return r.runNews(ctx)
	}
	return FeedResult{Kind: kind, Err: fmt.Errorf("unknown feed kind %q", kind)}
}

func statusLabel(err error) string {
	if errors.Is(err, guard.ErrTimeout) {
		return "timeout"
	}
	if errors.Is(err, errPipelinePanicked) {
		return "panic"
	}
	return "error"
}

func (r *CycleRunner) runStocks(ctx context.Context) FeedResult {
	return runPipeline(ctx, r, pipeline[models.Quote]{
		kind:  models.FeedStocks,
		topic: r.opts.StocksTopic,
		count: len(r.opts.Symbols),
		fetch: func(ctx context.Context) ([]models.Quote, error) {
			quotes := r.provider.FetchQuotes(ctx, r.opts.Symbols)
			if len(quotes) == 0 {
				return nil, errNoQuotes
			}
			return quotes, nil
		},
		encode: bus.EncodeQuotes,
		publish: func(ctx context.Context, records [][]byte) (int, error) {
			return bus.PublishAll(ctx, r.bus, r.opts.StocksTopic, records, r.logger), nil
		},
		decode: r.decoder.DecodeQuotes,
	})
}

func (r *CycleRunner) runNews(ctx context.Context) FeedResult {
	return runPipeline(ctx, r, pipeline[models.NewsItem]{
		kind:  models.FeedNews,
		topic: r.opts.NewsTopic,
		count: r.opts.NewsConsumeLimit,
		fetch: func(ctx context.Context) ([]models.NewsItem, error) {
			items, err := r.provider.FetchNewsBatch(ctx, r.opts.NewsProduceLimit)
			if err != nil {
				return nil, err
			}
			if len(items) == 0 {
				return nil, errNoNews
			}
			return items, nil
		},
		encode: bus.EncodeNews,
		publish: func(ctx context.Context, records [][]byte) (int, error) {
			return bus.PublishThrottled(ctx, r.bus, r.opts.NewsTopic, records, r.opts.NewsBatchSize, r.newsLimiter, r.logger)
		},
		decode: r.decoder.DecodeNews,
	})
}

type pipeline[T any] struct {
	kind    models.FeedKind
	topic   string
	count   int
	fetch   func(context.Context) ([]T, error)
	encode  func([]T) ([][]byte, error)
	publish func(context.Context, [][]byte) (int, error)
	decode  func(topic string, lines [][]byte) []T
}

// runPipeline runs fetch, publish and consume under the stage timeout, then
// broadcasts the consumed batch
func runPipeline[T any](ctx context.Context, r *CycleRunner, p pipeline[T]) FeedResult {
	result := FeedResult{Kind: p.kind}
	stage := func(name string) (string, time.Time) {
		return fmt.Sprintf("%s %s", name, p.kind), r.clock.Now()
	}
	observe := func(name string, start time.Time) {
		metrics.StageDuration.WithLabelValues(string(p.kind), name).Observe(r.clock.Since(start).Seconds())
	}

	label, start := stage("fetch")
	fetched, err := guard.Run(ctx, r.clock, label, r.opts.StageTimeout, p.fetch)
	observe("fetch", start)
	if err != nil {
		result.Err = err
		return result
	}
	result.Fetched = len(fetched)

	records, err := p.encode(fetched)
	if err != nil {
		result.Err = fmt.Errorf("encode %s: %w", p.kind, err)
		return result
	}

	label, start = stage("publish")
	published, err := guard.Run(ctx, r.clock, label, r.opts.StageTimeout, func(ctx context.Context) (int, error) {
		n, err := p.publish(ctx, records)
		if err != nil {
			return n, err
		}
		if n == 0 {
			return 0, errPublished
		}
		return n, nil
	})
	observe("publish", start)
	if err != nil {
		result.Err = err
		return result
	}
	result.Published = published

	label, start = stage("consume")
	lines, err := guard.Run(ctx, r.clock, label, r.opts.StageTimeout, func(ctx context.Context) ([][]byte, error) {
		return r.bus.ConsumeLatest(ctx, p.topic, p.count)
	})
	observe("consume", start)
	if err != nil {
		result.Err = err
		return result
	}

	batch := p.decode(p.topic, lines)
	result.Consumed = len(batch)
	if len(batch) == 0 {
		r.logger.Infof("Nothing to broadcast for %s", p.kind)
		return result
	}

	delivered, err := r.broadcaster.Send(p.kind, batch)
	if err != nil {
		result.Err = err
		return result
	}
	result.Delivered = delivered
	return result
}
