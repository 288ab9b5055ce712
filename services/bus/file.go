package bus

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
)

const (
	defaultFileMaxLines = 10000
	tailChunkSize       = 32 * 1024
)

var topicPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// FileBus stores each topic as a newline-delimited file under one directory.
// A topic keeps at most maxLines after compaction; like an approximate MAXLEN
// the file may grow to twice that before it is rewritten.
type FileBus struct {
	dir      string
	maxLines int

	mu    sync.RWMutex
	lines map[string]int
}

// NewFileBus creates the bus directory if needed
func NewFileBus(dir string, maxLines int) (*FileBus, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create bus directory: %w", err)
	}
	if maxLines <= 0 {
		maxLines = defaultFileMaxLines
	}
	return &FileBus{dir: dir, maxLines: maxLines, lines: make(map[string]int)}, nil
}

func (b *FileBus) path(topic string) (string, error) {
	if !topicPattern.MatchString(topic) {
		return "", fmt.Errorf("invalid topic name %q", topic)
	}
	return filepath.Join(b.dir, topic+".log"), nil
}

// Publish appends record as one line, compacting the topic first when it has
// outgrown its limit
func (b *FileBus) Publish(ctx context.Context, topic string, record []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := b.path(topic)
	if err != nil {
		return err
	}
	if bytes.ContainsAny(record, "\r\n") {
		return errors.New("record contains a line break")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	lines, ok := b.lines[topic]
	if !ok {
		if lines, err = countLines(path); err != nil {
			return fmt.Errorf("count topic %s: %w", topic, err)
		}
	}
	if lines >= 2*b.maxLines {
		if lines, err = b.compact(path); err != nil {
			return fmt.Errorf("compact topic %s: %w", topic, err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open topic %s: %w", topic, err)
	}
	defer f.Close()

	line := make([]byte, 0, len(record)+1)
	line = append(line, record...)
	line = append(line, '\n')
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("append to topic %s: %w", topic, err)
	}
	b.lines[topic] = lines + 1
	return nil
}

// ConsumeLatest returns the last count lines of the topic file
func (b *FileBus) ConsumeLatest(ctx context.Context, topic string, count int) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if count <= 0 {
		return nil, nil
	}
	path, err := b.path(topic)
	if err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open topic %s: %w", topic, err)
	}
	defer f.Close()

	return readTail(f, count)
}

// Close is a no-op; files are opened per call
func (b *FileBus) Close() error { return nil }

// compact rewrites the topic file with its newest maxLines lines. Callers hold
// the write lock.
func (b *FileBus) compact(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	tail, err := readTail(f, b.maxLines)
	f.Close()
	if err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(b.dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	for _, line := range tail {
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, err
	}
	return len(tail), nil
}

// countLines counts newline-terminated lines; a missing file has none
func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	buf := make([]byte, tailChunkSize)
	lines := 0
	for {
		n, err := f.Read(buf)
		lines += bytes.Count(buf[:n], []byte{'\n'})
		if errors.Is(err, io.EOF) {
			return lines, nil
		}
		if err != nil {
			return 0, err
		}
	}
}

// readTail reads f backwards in chunks until it holds count complete lines
func readTail(f *os.File, count int) ([][]byte, error) {
	offset, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("seek tail: %w", err)
	}

	var buf []byte
	for offset > 0 {
		size := min(int64(tailChunkSize), offset)
		offset -= size

		chunk := make([]byte, int(size), int(size)+len(buf))
		n, err := f.ReadAt(chunk, offset)
		if n < len(chunk) {
			if err == nil {
				err = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("read tail: %w", err)
		}
		buf = append(chunk, buf...)

		if len(lastLines(buf, offset > 0, count)) >= count {
			break
		}
	}
	return lastLines(buf, offset > 0, count), nil
}

// lastLines returns up to count non-empty lines of buf, oldest first. When
// partial is set the first line may be cut and is ignored.
func lastLines(buf []byte, partial bool, count int) [][]byte {
	lines := bytes.Split(buf, []byte{'\n'})
	if partial {
		lines = lines[1:]
	}

	out := make([][]byte, 0, count)
	for i := len(lines) - 1; i >= 0 && len(out) < count; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) == 0 {
			continue
		}
		out = append(out, line)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
