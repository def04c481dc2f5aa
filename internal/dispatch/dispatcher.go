package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"sfdc-subscriber/internal/bayeux"
	"sfdc-subscriber/internal/logging"
)

// Handler consumes one event. A returned error is logged and dropped.
type Handler func(ctx context.Context, ev bayeux.Event) error

// Dispatcher routes events to the handler registered for their channel.
// Handler failures never reach the caller.
type Dispatcher struct {
	logger *logging.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

func New(logger *logging.Logger) *Dispatcher {
	if logger == nil {
		panic("dispatch.New: logger must not be nil")
	}
	return &Dispatcher{logger: logger, handlers: map[string]Handler{}}
}

// Register maps channel to h, replacing any previous handler. It reports
// whether the channel was newly added.
func (d *Dispatcher) Register(channel string, h Handler) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, existed := d.handlers[channel]
	d.handlers[channel] = h
	return !existed
}

// Remove drops the mapping and reports whether one existed.
func (d *Dispatcher) Remove(channel string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, existed := d.handlers[channel]
	delete(d.handlers, channel)
	return existed
}

func (d *Dispatcher) Has(channel string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[channel]
	return ok
}

// Channels returns the registered channel names in sorted order.
func (d *Dispatcher) Channels() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.handlers))
	for channel := range d.handlers {
		out = append(out, channel)
	}
	sort.Strings(out)
	return out
}

// Dispatch invokes the channel's handler once. Events with no handler are
// dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, ev bayeux.Event) {
	d.mu.RLock()
	h, ok := d.handlers[ev.Channel]
	d.mu.RUnlock()
	if !ok || h == nil {
		d.logger.Debug("dropping event without handler", logging.Field("event", ev))
		return
	}
	if err := invoke(ctx, h, ev); err != nil {
		d.logger.Error("event handler failed",
			logging.Field("channel", ev.Channel),
			logging.Field("payload_id", ev.ID),
			logging.Field("error", err),
		)
	}
}

func invoke(ctx context.Context, h Handler, ev bayeux.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, ev)
}
