package subscriber

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"sfdc-subscriber/internal/bayeux"
	"sfdc-subscriber/internal/dispatch"
	"sfdc-subscriber/internal/logging"
	"sfdc-subscriber/internal/oauth"
	"sfdc-subscriber/internal/runctx"
	"sfdc-subscriber/internal/runstatus"
)

const teardownTimeout = 5 * time.Second

// ErrRetriesExhausted is reported by Err once MaxAttempts consecutive
// connection cycles have failed and the client is FAILED.
var ErrRetriesExhausted = errors.New("reconnect attempts exhausted")

type TokenProvider interface {
	Fetch(ctx context.Context) (oauth.AccessToken, error)
}

type Transport interface {
	Handshake(ctx context.Context, instanceURL string, token string) (*bayeux.Session, error)
	Subscribe(ctx context.Context, session *bayeux.Session, channel string) error
	Unsubscribe(ctx context.Context, session *bayeux.Session, channel string) error
	Poll(ctx context.Context, session *bayeux.Session) ([]bayeux.Event, error)
	Disconnect(ctx context.Context, session *bayeux.Session)
}

type Options struct {
	Backoff BackoffSettings
	// MaxAttempts bounds consecutive failed connection cycles. Zero retries
	// until Shutdown.
	MaxAttempts   int
	AsyncDispatch bool
	QueueSize     int
	OnStateChange func(from, to runstatus.State)
}

// Client owns one subscription session and the loop that keeps it alive.
// Its methods are safe for concurrent use.
type Client struct {
	provider  TokenProvider
	transport Transport
	opts      Options
	logger    *logging.Logger
	handlers  *dispatch.Dispatcher

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	mu      sync.Mutex
	state   runstatus.State
	session *bayeux.Session
	remote  map[string]struct{}
	pending map[string]chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

func New(provider TokenProvider, transport Transport, opts Options, logger *logging.Logger) *Client {
	if logger == nil {
		panic("subscriber.New: logger must not be nil")
	}
	if provider == nil || transport == nil {
		panic("subscriber.New: provider and transport must not be nil")
	}
	return &Client{
		provider:  provider,
		transport: transport,
		opts:      opts,
		logger:    logger,
		handlers:  dispatch.New(logger),
		sleep:     runctx.Sleep,
		now:       time.Now,
		state:     runstatus.Disconnected,
		remote:    map[string]struct{}{},
		pending:   map[string]chan struct{}{},
	}
}

// Connect starts the background loop and returns the current state. While a
// loop is running further calls only return the state. Canceling ctx stops
// the loop the same way Shutdown does.
func (c *Client) Connect(ctx context.Context) runstatus.State {
	c.mu.Lock()
	state := c.state
	if c.cancel != nil {
		c.mu.Unlock()
		c.logger.Debug("connect ignored; loop already running", logging.Field("state", state.String()))
		return state
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.err = nil
	go c.run(loopCtx, c.done)
	c.mu.Unlock()
	return state
}

// Shutdown stops the loop, sends a best-effort disconnect and waits for the
// loop to exit or ctx to end.
func (c *Client) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	if cancel == nil {
		// The loop already stopped on its own.
		from := c.state
		c.state = runstatus.Disconnected
		c.mu.Unlock()
		c.transitioned(from, runstatus.Disconnected)
		return nil
	}
	c.mu.Unlock()
	c.logger.Debug("shutdown requested")
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe maps channel to handler. While STREAMING a new channel is
// subscribed on the live session and a rejection is returned as
// *bayeux.SubscribeError with the mapping rolled back. Replacing the handler
// of a known channel never touches the transport. A call for a channel whose
// remote subscribe is still in flight waits for that outcome first.
func (c *Client) Subscribe(ctx context.Context, channel string, handler dispatch.Handler) error {
	channel = strings.TrimSpace(channel)
	if err := validateChannel(channel); err != nil {
		return &bayeux.SubscribeError{Channel: channel, Reason: err.Error()}
	}
	if handler == nil {
		return &bayeux.SubscribeError{Channel: channel, Reason: "handler is nil"}
	}

	c.mu.Lock()
	for {
		inflight, ok := c.pending[channel]
		if !ok {
			break
		}
		c.mu.Unlock()
		select {
		case <-inflight:
		case <-ctx.Done():
			return &bayeux.SubscribeError{Channel: channel, Reason: "canceled", Err: ctx.Err()}
		}
		c.mu.Lock()
	}
	added := c.handlers.Register(channel, handler)
	_, live := c.remote[channel]
	state, session := c.state, c.session
	if !added || live || state != runstatus.Streaming || session == nil {
		c.mu.Unlock()
		c.logger.Debug("registered channel handler",
			logging.Field("channel", channel),
			logging.Field("replaced", !added),
			logging.Field("state", state.String()),
		)
		return nil
	}
	inflight := make(chan struct{})
	c.pending[channel] = inflight
	c.mu.Unlock()

	err := c.transport.Subscribe(ctx, session, channel)

	c.mu.Lock()
	delete(c.pending, channel)
	close(inflight)
	switch {
	case c.session != session:
		// The loop moved to a new session, which subscribes every registered
		// channel on its own.
		c.mu.Unlock()
		return nil
	case err != nil:
		c.handlers.Remove(channel)
		c.mu.Unlock()
		c.logger.Warn("incremental subscribe failed",
			logging.Field("channel", channel),
			logging.Field("error", err),
		)
		var subErr *bayeux.SubscribeError
		if errors.As(err, &subErr) {
			return err
		}
		return &bayeux.SubscribeError{Channel: channel, Reason: "request failed", Err: err}
	case !c.handlers.Has(channel):
		c.mu.Unlock()
		c.logger.Debug("channel unsubscribed while subscribing", logging.Field("channel", channel))
		return nil
	}
	c.remote[channel] = struct{}{}
	c.mu.Unlock()
	c.logger.Info("subscribed", logging.Field("channel", channel))
	return nil
}

// Unsubscribe removes the mapping. When STREAMING the server is told too;
// a failure there is only logged. Unknown channels are ignored.
func (c *Client) Unsubscribe(ctx context.Context, channel string) {
	channel = strings.TrimSpace(channel)

	c.mu.Lock()
	if !c.handlers.Remove(channel) {
		c.mu.Unlock()
		return
	}
	_, live := c.remote[channel]
	delete(c.remote, channel)
	state, session := c.state, c.session
	c.mu.Unlock()

	c.logger.Info("unsubscribed", logging.Field("channel", channel))
	if !live || state != runstatus.Streaming || session == nil {
		return
	}
	if err := c.transport.Unsubscribe(ctx, session, channel); err != nil {
		c.logger.Warn("remote unsubscribe failed",
			logging.Field("channel", channel),
			logging.Field("error", err),
		)
	}
}

func (c *Client) State() runstatus.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed when the current loop exits. It is nil before Connect.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Err returns why the last loop stopped on its own, or nil after a
// cancellation.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	var sink eventSink = c.handlers
	var queue *dispatch.Queue
	if c.opts.AsyncDispatch {
		queue = dispatch.NewQueue(context.WithoutCancel(ctx), c.handlers, c.opts.QueueSize, c.logger)
		sink = queue
	}

	l := &runLoop{c: c, sink: sink, retry: newBackOff(c.opts.Backoff)}
	err := l.loop(ctx)
	c.finish(ctx, queue, err)
}

// finish tears down whatever session is left and records the final state.
func (c *Client) finish(ctx context.Context, queue *dispatch.Queue, err error) {
	teardownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()

	c.mu.Lock()
	session := c.session
	c.session = nil
	c.remote = map[string]struct{}{}
	c.mu.Unlock()

	if session != nil {
		c.transport.Disconnect(teardownCtx, session)
	}
	if queue != nil {
		if qerr := queue.Close(teardownCtx); qerr != nil {
			c.logger.Warn("dispatch queue did not drain", logging.Field("error", qerr))
		}
	}

	final := runstatus.Disconnected
	if errors.Is(err, ErrRetriesExhausted) {
		final = runstatus.Failed
	} else if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}

	c.mu.Lock()
	from := c.state
	c.state = final
	c.err = err
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()
	c.transitioned(from, final)
	c.logger.Debug("subscription loop exited", logging.Field("error", err))
}

func (c *Client) setState(to runstatus.State) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()
	c.transitioned(from, to)
}

// transitioned runs outside the lock so observers may call back into the
// client.
func (c *Client) transitioned(from, to runstatus.State) {
	if from == to {
		return
	}
	c.logger.Debug("connection state transition",
		logging.Field("from", from.String()),
		logging.Field("to", to.String()),
	)
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(from, to)
	}
}

func validateChannel(channel string) error {
	switch {
	case channel == "":
		return errors.New("channel is empty")
	case !strings.HasPrefix(channel, "/"):
		return fmt.Errorf("channel %q must start with /", channel)
	case strings.HasPrefix(channel, "/meta/"):
		return fmt.Errorf("channel %q is reserved", channel)
	}
	return nil
}
