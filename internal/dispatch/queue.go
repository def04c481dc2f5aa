package dispatch

import (
	"context"
	"sync"

	"sfdc-subscriber/internal/bayeux"
	"sfdc-subscriber/internal/logging"
	"sfdc-subscriber/internal/runctx"
)

const defaultQueueSize = 256

// Queue hands events to a single worker goroutine so a slow handler does not
// hold up the poll loop. Order within the queue is preserved.
type Queue struct {
	target *Dispatcher
	logger *logging.Logger
	events chan bayeux.Event

	workerCtx context.Context
	cancel    context.CancelFunc
	done      chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewQueue starts the worker. size <= 0 uses a default capacity.
func NewQueue(ctx context.Context, target *Dispatcher, size int, logger *logging.Logger) *Queue {
	if logger == nil {
		panic("dispatch.NewQueue: logger must not be nil")
	}
	if size <= 0 {
		size = defaultQueueSize
	}
	workerCtx, cancel := context.WithCancel(ctx)
	q := &Queue{
		target:    target,
		logger:    logger,
		events:    make(chan bayeux.Event, size),
		workerCtx: workerCtx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go q.run()
	return q
}

// Dispatch enqueues ev, blocking while the queue is full. It gives up when
// ctx ends or the worker has stopped.
func (q *Queue) Dispatch(ctx context.Context, ev bayeux.Event) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.logger.Warn("dispatch queue closed; dropping event", logging.Field("event", ev))
		return
	}

	sendCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(q.workerCtx, cancel)
	defer stop()

	if !runctx.SendOrDone(sendCtx, "dispatch enqueue", q.logger, q.events, ev) {
		q.logger.Warn("event not queued", logging.Field("event", ev))
	}
}

// Close stops accepting events and waits for the worker to drain what is
// already queued. When ctx ends first the remaining events are abandoned.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.events)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		q.cancel()
		<-q.done
		return ctx.Err()
	}
}

func (q *Queue) run() {
	defer close(q.done)
	defer q.cancel()
	for {
		ev, ok := runctx.RecvOrDone(q.workerCtx, "dispatch worker", q.logger, q.events)
		if !ok {
			return
		}
		q.target.Dispatch(q.workerCtx, ev)
	}
}
