package bus

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisRecordField = "record"

// RedisBus keeps each topic in a Redis stream trimmed to roughly maxLen entries
type RedisBus struct {
	client *redis.Client
	maxLen int64
}

// NewRedisBus wraps client. The caller owns client unless Close is called.
func NewRedisBus(client *redis.Client, maxLen int64) *RedisBus {
	return &RedisBus{client: client, maxLen: maxLen}
}

func streamKey(topic string) string {
	return "bus:" + topic
}

// Publish appends record with XADD
func (b *RedisBus) Publish(ctx context.Context, topic string, record []byte) error {
	args := &redis.XAddArgs{
		Stream: streamKey(topic),
		Values: map[string]interface{}{redisRecordField: record},
	}
	if b.maxLen > 0 {
		args.MaxLen = b.maxLen
		args.Approx = true
	}
	if err := b.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", topic, err)
	}
	return nil
}

// ConsumeLatest reads the newest count entries and returns them oldest first
func (b *RedisBus) ConsumeLatest(ctx context.Context, topic string, count int) ([][]byte, error) {
	if count <= 0 {
		return nil, nil
	}

	entries, err := b.client.XRevRangeN(ctx, streamKey(topic), "+", "-", int64(count)).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange %s: %w", topic, err)
	}

	records := make([][]byte, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		switch v := entries[i].Values[redisRecordField].(type) {
		case string:
			records = append(records, []byte(v))
		case []byte:
			records = append(records, v)
		default:
			// unreadable entries become empty lines and are dropped by the decoder
			records = append(records, nil)
		}
	}
	return records, nil
}

// Close closes the underlying client
func (b *RedisBus) Close() error {
	return b.client.Close()
}
