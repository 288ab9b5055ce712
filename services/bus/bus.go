// Package bus is the append-only message log between producers and the
// broadcast path. Records are newline-free JSON documents; consumers read the
// most recent records of a topic.
package bus

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"market_feed_backend/metrics"
)

// MessageBus is implemented by every transport
type MessageBus interface {
	// Publish appends one record to topic
	Publish(ctx context.Context, topic string, record []byte) error
	// ConsumeLatest returns up to count most recent records of topic, oldest first
	ConsumeLatest(ctx context.Context, topic string, count int) ([][]byte, error)
	Close() error
}

// PublishError is the failure of a single record append
type PublishError struct {
	Topic string
	Index int
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish record %d to %s: %v", e.Index, e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// PublishAll publishes every record concurrently. A failed record is logged
// and does not affect the others. It returns how many records were appended.
func PublishAll(ctx context.Context, b MessageBus, topic string, records [][]byte, logger *zap.SugaredLogger) int {
	var (
		mu        sync.Mutex
		published int
		g         errgroup.Group
	)

	for i, record := range records {
		g.Go(func() error {
			if err := b.Publish(ctx, topic, record); err != nil {
				pubErr := &PublishError{Topic: topic, Index: i, Err: err}
				metrics.BusPublishTotal.WithLabelValues(topic, "error").Inc()
				logger.Warnw("Failed to publish record", "topic", topic, "index", i, "error", pubErr)
				return nil
			}
			metrics.BusPublishTotal.WithLabelValues(topic, "ok").Inc()
			mu.Lock()
			published++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return published
}

// PublishThrottled publishes records in sub-batches of batchSize. Records of
// one sub-batch go out concurrently; limiter paces the sub-batches.
func PublishThrottled(ctx context.Context, b MessageBus, topic string, records [][]byte, batchSize int, limiter *rate.Limiter, logger *zap.SugaredLogger) (int, error) {
	if batchSize <= 0 {
		batchSize = len(records)
	}

	published := 0
	for start := 0; start < len(records); start += batchSize {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return published, fmt.Errorf("throttle %s publish: %w", topic, err)
			}
		}
		end := min(start+batchSize, len(records))
		published += PublishAll(ctx, b, topic, records[start:end], logger)
	}

	return published, nil
}
