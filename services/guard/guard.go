// Package guard bounds a pipeline stage with a hard deadline.
//
// The guarded operation is not cancelled when the deadline fires. It keeps
// running with the caller's context and its result is discarded, so callers
// must tolerate a late, ignored completion.
package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrTimeout matches every *TimeoutError via errors.Is
var ErrTimeout = errors.New("stage timed out")

// TimeoutError reports which stage exceeded its deadline
type TimeoutError struct {
	Stage string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %v", e.Stage, e.After)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

type outcome[T any] struct {
	value T
	err   error
}

// Run races op against a deadline of d on clock.
// It returns op's result if op finishes first, a *TimeoutError if the deadline
// wins, or ctx.Err() if ctx ends first.
func Run[T any](ctx context.Context, clock clockwork.Clock, stage string, d time.Duration, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	// buffered so an abandoned op can always deliver and exit
	done := make(chan outcome[T], 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome[T]{err: fmt.Errorf("%s panicked: %v", stage, rec)}
			}
		}()
		value, err := op(ctx)
		done <- outcome[T]{value: value, err: err}
	}()

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case res := <-done:
		return res.value, res.err
	case <-timer.Chan():
		return zero, &TimeoutError{Stage: stage, After: d}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// RunVoid is Run for operations without a result
func RunVoid(ctx context.Context, clock clockwork.Clock, stage string, d time.Duration, op func(context.Context) error) error {
	_, err := Run(ctx, clock, stage, d, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
