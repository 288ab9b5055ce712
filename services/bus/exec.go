package bus

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
)

// ExecBus shells out to an external log CLI. The produce command receives the
// record on stdin, the consume command prints records one per line.
// {topic} and {count} in either command are substituted before running.
type ExecBus struct {
	produce []string
	consume []string
}

// NewExecBus parses both command templates
func NewExecBus(produceCommand, consumeCommand string) (*ExecBus, error) {
	produce := strings.Fields(produceCommand)
	consume := strings.Fields(consumeCommand)
	if len(produce) == 0 || len(consume) == 0 {
		return nil, errors.New("exec bus needs both a produce and a consume command")
	}
	return &ExecBus{produce: produce, consume: consume}, nil
}

func expand(template []string, topic string, count int) []string {
	replacer := strings.NewReplacer("{topic}", topic, "{count}", strconv.Itoa(count))
	args := make([]string, len(template))
	for i, part := range template {
		args[i] = replacer.Replace(part)
	}
	return args
}

// Publish runs the produce command with record on stdin
func (b *ExecBus) Publish(ctx context.Context, topic string, record []byte) error {
	args := expand(b.produce, topic, 1)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)

	stdin := make([]byte, 0, len(record)+1)
	stdin = append(stdin, record...)
	stdin = append(stdin, '\n')
	cmd.Stdin = bytes.NewReader(stdin)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("produce command: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// ConsumeLatest runs the consume command and keeps the last count lines of its output
func (b *ExecBus) ConsumeLatest(ctx context.Context, topic string, count int) ([][]byte, error) {
	if count <= 0 {
		return nil, nil
	}
	args := expand(b.consume, topic, count)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("consume command: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return tailLines(bytes.NewReader(out), count)
}

// Close is a no-op
func (b *ExecBus) Close() error { return nil }

// tailLines keeps the last count non-empty lines of r in a ring
func tailLines(r io.Reader, count int) ([][]byte, error) {
	ring := make([][]byte, count)
	seen := 0

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		ring[seen%count] = append([]byte(nil), line...)
		seen++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read tail: %w", err)
	}

	n := min(seen, count)
	out := make([][]byte, 0, n)
	for i := seen - n; i < seen; i++ {
		out = append(out, ring[i%count])
	}
	return out, nil
}
