package bus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaBus appends through a kafka.Writer and reads the tail of every
// partition directly from its leader
type KafkaBus struct {
	brokers []string
	writer  *kafka.Writer
	dialer  *kafka.Dialer
}

// NewKafkaBus creates a writer for brokers. Topics are set per message.
func NewKafkaBus(brokers []string) (*KafkaBus, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka bus needs at least one broker")
	}
	return &KafkaBus{
		brokers: brokers,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.LeastBytes{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
		},
		dialer: &kafka.Dialer{Timeout: 10 * time.Second},
	}, nil
}

// Publish writes record to topic
func (b *KafkaBus) Publish(ctx context.Context, topic string, record []byte) error {
	return b.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Value: record,
		Time:  time.Now(),
	})
}

// ConsumeLatest reads the last count messages of each partition and keeps
// the count newest by message time
func (b *KafkaBus) ConsumeLatest(ctx context.Context, topic string, count int) ([][]byte, error) {
	if count <= 0 {
		return nil, nil
	}

	partitions, err := b.partitions(ctx, topic)
	if err != nil {
		return nil, err
	}

	var messages []kafka.Message
	for _, p := range partitions {
		tail, err := b.readPartitionTail(ctx, topic, p, count)
		if err != nil {
			return nil, fmt.Errorf("read partition %d of %s: %w", p.ID, topic, err)
		}
		messages = append(messages, tail...)
	}

	return newestValues(messages, count), nil
}

func (b *KafkaBus) partitions(ctx context.Context, topic string) ([]kafka.Partition, error) {
	var lastErr error
	for _, broker := range b.brokers {
		conn, err := b.dialer.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		partitions, err := conn.ReadPartitions(topic)
		conn.Close()
		if err != nil {
			lastErr = err
			continue
		}
		return partitions, nil
	}
	return nil, fmt.Errorf("read partitions of %s: %w", topic, lastErr)
}

func (b *KafkaBus) readPartitionTail(ctx context.Context, topic string, p kafka.Partition, count int) ([]kafka.Message, error) {
	leader := net.JoinHostPort(p.Leader.Host, strconv.Itoa(p.Leader.Port))
	conn, err := b.dialer.DialLeader(ctx, "tcp", leader, topic, p.ID)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	} else {
		conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	}

	first, last, err := conn.ReadOffsets()
	if err != nil {
		return nil, err
	}
	start := max(first, last-int64(count))
	if start >= last {
		return nil, nil
	}
	if _, err := conn.Seek(start, kafka.SeekAbsolute); err != nil {
		return nil, err
	}

	messages := make([]kafka.Message, 0, last-start)
	for offset := start; offset < last; {
		batch := conn.ReadBatch(1, 10e6)
		read := 0
		for {
			msg, err := batch.ReadMessage()
			if err != nil {
				break
			}
			messages = append(messages, msg)
			offset = msg.Offset + 1
			read++
			if offset >= last {
				break
			}
		}
		if err := batch.Close(); err != nil && read == 0 {
			return messages, err
		}
		if read == 0 {
			break
		}
	}

	return messages, nil
}

// newestValues orders messages by time and returns the values of the last count
func newestValues(messages []kafka.Message, count int) [][]byte {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Time.Before(messages[j].Time)
	})
	if len(messages) > count {
		messages = messages[len(messages)-count:]
	}

	values := make([][]byte, 0, len(messages))
	for _, msg := range messages {
		values = append(values, msg.Value)
	}
	return values
}

// Close flushes pending writes
func (b *KafkaBus) Close() error {
	return b.writer.Close()
}
