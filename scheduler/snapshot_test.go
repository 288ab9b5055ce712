package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"market_feed_backend/models"
)

type memWriter struct {
	mu    sync.Mutex
	saved [][]models.Quote
	err   error
}

func (w *memWriter) SaveQuotes(ctx context.Context, quotes []models.Quote) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.saved = append(w.saved, quotes)
	return nil
}

func TestSnapshotPoller_SavesQuotes(t *testing.T) {
	provider := &fakeProvider{quotes: sampleQuotes()}
	writer := &memWriter{}
	poller := NewSnapshotPoller(provider, writer, []string{"AAPL", "MSFT"}, time.Second, clockwork.NewFakeClock(), zap.NewNop().Sugar())

	saved, err := poller.Poll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, saved)
	require.Len(t, writer.saved, 1)
	assert.Equal(t, sampleQuotes(), writer.saved[0])
}

func TestSnapshotPoller_SkipsOverlappingPolls(t *testing.T) {
	provider := &fakeProvider{
		quotes:  sampleQuotes(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	writer := &memWriter{}
	poller := NewSnapshotPoller(provider, writer, []string{"AAPL"}, time.Minute, clockwork.NewFakeClock(), zap.NewNop().Sugar())

	done := make(chan error, 1)
	go func() {
		_, err := poller.Poll(context.Background())
		done <- err
	}()
	<-provider.entered

	_, err := poller.Poll(context.Background())
	assert.ErrorIs(t, err, ErrPollInProgress)

	close(provider.release)
	require.NoError(t, <-done)

	quoteCalls, _ := provider.calls()
	assert.Equal(t, 1, quoteCalls)
}

func TestSnapshotPoller_StoreFailureIsRetriedNextTick(t *testing.T) {
	provider := &fakeProvider{quotes: sampleQuotes()}
	writer := &memWriter{err: errors.New("disk full")}
	poller := NewSnapshotPoller(provider, writer, []string{"AAPL"}, time.Second, clockwork.NewFakeClock(), zap.NewNop().Sugar())

	_, err := poller.Poll(context.Background())
	require.Error(t, err)

	writer.mu.Lock()
	writer.err = nil
	writer.mu.Unlock()

	saved, err := poller.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, saved)
}

func TestSnapshotPoller_NothingFetched(t *testing.T) {
	poller := NewSnapshotPoller(&fakeProvider{}, &memWriter{}, []string{"AAPL"}, time.Second, clockwork.NewFakeClock(), zap.NewNop().Sugar())

	saved, err := poller.Poll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, saved)
}
