package runctx

import (
	"context"
	"time"

	"sfdc-subscriber/internal/logging"
)

// RecvOrDone receives from in unless ctx ends first. ok is false when ctx
// ended or in was closed.
func RecvOrDone[T any](ctx context.Context, worker string, logger *logging.Logger, in <-chan T) (T, bool) {
	if logger == nil {
		panic("runctx.RecvOrDone: logger must not be nil")
	}
	select {
	case <-ctx.Done():
		logger.Debug("worker stopping: context done", logging.Field("worker", worker), logging.Field("error", ctx.Err()))
		var zero T
		return zero, false
	case v, ok := <-in:
		if !ok {
			logger.Debug("worker stopping: input closed", logging.Field("worker", worker))
		}
		return v, ok
	}
}

// SendOrDone sends value on out unless ctx ends first.
func SendOrDone[T any](ctx context.Context, worker string, logger *logging.Logger, out chan<- T, value T) bool {
	if logger == nil {
		panic("runctx.SendOrDone: logger must not be nil")
	}
	select {
	case <-ctx.Done():
		logger.Debug("send abandoned: context done", logging.Field("worker", worker), logging.Field("error", ctx.Err()))
		return false
	case out <- value:
		return true
	}
}

// Sleep waits for d or until ctx ends, returning ctx.Err() in the latter
// case. A non-positive d only checks ctx.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
