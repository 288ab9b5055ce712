package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_ReturnsResultBeforeDeadline(t *testing.T) {
	clock := clockwork.NewFakeClock()

	value, err := Run(context.Background(), clock, "fetch", time.Second, func(context.Context) (int, error) {
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, value)
}

func TestRun_PassesOperationError(t *testing.T) {
	boom := errors.New("boom")

	_, err := Run(context.Background(), clockwork.NewFakeClock(), "fetch", time.Second, func(context.Context) (int, error) {
		return 0, boom
	})

	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestRun_TimesOutAndLeavesOperationRunning(t *testing.T) {
	clock := clockwork.NewFakeClock()
	release := make(chan struct{})
	finished := make(chan struct{})

	errCh := make(chan error, 1)
	go func() {
		_, err := Run(context.Background(), clock, "publish", 15*time.Second, func(ctx context.Context) (string, error) {
			<-release
			close(finished)
			return "late", nil
		})
		errCh <- err
	}()

	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	clock.Advance(15 * time.Second)

	err := <-errCh
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "publish", timeoutErr.Stage)
	assert.Equal(t, 15*time.Second, timeoutErr.After)

	// the abandoned operation still completes on its own
	close(release)
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("operation never completed after timeout")
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err := Run(ctx, clockwork.NewFakeClock(), "consume", time.Second, func(context.Context) (int, error) {
		called = true
		return 1, nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestRunVoid(t *testing.T) {
	err := RunVoid(context.Background(), clockwork.NewRealClock(), "noop", time.Second, func(context.Context) error {
		return nil
	})
	assert.NoError(t, err)
}

func TestRun_RecoversPanic(t *testing.T) {
	_, err := Run(context.Background(), clockwork.NewFakeClock(), "fetch", time.Second, func(context.Context) (int, error) {
		panic("nil map")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch panicked: nil map")
	assert.NotErrorIs(t, err, ErrTimeout)
}
