package subscriber

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"sfdc-subscriber/internal/bayeux"
	"sfdc-subscriber/internal/logging"
	"sfdc-subscriber/internal/oauth"
	"sfdc-subscriber/internal/runstatus"
)

const (
	defaultBackoffInitial    = time.Second
	defaultBackoffMax        = time.Minute
	defaultBackoffMultiplier = 2.0
)

type BackoffSettings struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// Jitter is the randomization factor in [0,1]; 0 gives exact delays.
	Jitter float64
}

func newBackOff(s BackoffSettings) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.Initial
	if b.InitialInterval <= 0 {
		b.InitialInterval = defaultBackoffInitial
	}
	b.MaxInterval = s.Max
	if b.MaxInterval <= 0 {
		b.MaxInterval = defaultBackoffMax
	}
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	b.Multiplier = s.Multiplier
	if b.Multiplier < 1 {
		b.Multiplier = defaultBackoffMultiplier
	}
	b.RandomizationFactor = min(max(s.Jitter, 0), 1)
	b.Reset()
	return b
}

type eventSink interface {
	Dispatch(ctx context.Context, ev bayeux.Event)
}

type step int

const (
	stepRetry step = iota
	stepImmediate
	stepStop
)

// runLoop is the state owned by one loop goroutine. Only the token and the
// retry policy live here; shared state stays on Client.
type runLoop struct {
	c     *Client
	sink  eventSink
	retry *backoff.ExponentialBackOff

	token     oauth.AccessToken
	haveToken bool
	failures  int
	// skipped is set after an immediate re-auth or re-handshake and cleared
	// by the next successful poll. A second one in a row takes the backoff.
	skipped bool
}

func (l *runLoop) loop(ctx context.Context) error {
	c := l.c
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		next, err := l.cycle(ctx)
		switch next {
		case stepStop:
			return err
		case stepImmediate:
			continue
		}

		l.failures++
		if limit := c.opts.MaxAttempts; limit > 0 && l.failures >= limit {
			c.logger.Error("giving up after consecutive failures",
				logging.Field("attempts", l.failures),
				logging.Field("error", err),
			)
			return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, l.failures, err)
		}
		c.setState(runstatus.Reconnecting)
		delay := l.retry.NextBackOff()
		c.logger.Warn("connection cycle failed; retrying",
			logging.Field("attempt", l.failures),
			logging.Field("delay", delay.String()),
			logging.Field("error", err),
		)
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// cycle runs token fetch, handshake, subscribe and the poll loop once and
// says how the loop should continue.
func (l *runLoop) cycle(ctx context.Context) (step, error) {
	c := l.c

	if l.haveToken && l.token.Expired(c.now()) {
		c.logger.Info("access token expired; fetching a new one")
		l.dropToken()
	}
	if !l.haveToken {
		token, err := c.provider.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return stepStop, ctx.Err()
			}
			if oauth.IsInvalidClient(err) {
				c.logger.Error("client credentials rejected by the token endpoint", logging.Field("error", err))
			}
			return stepRetry, err
		}
		l.token, l.haveToken = token, true
	}

	c.setState(runstatus.Handshaking)
	session, err := c.transport.Handshake(ctx, l.token.InstanceURL, l.token.Token)
	if err != nil {
		if ctx.Err() != nil {
			return stepStop, ctx.Err()
		}
		if bayeux.IsAuthRejected(err) {
			l.dropToken()
		}
		return stepRetry, err
	}

	c.mu.Lock()
	c.session = session
	c.remote = map[string]struct{}{}
	c.mu.Unlock()
	c.logger.Info("session established",
		logging.Field("client_id", session.ClientID),
		logging.Field("advice", session.Advice()),
	)
	c.setState(runstatus.Connected)
	c.setState(runstatus.Subscribing)

	if err := l.subscribeAll(ctx, session); err != nil {
		if ctx.Err() != nil {
			return stepStop, ctx.Err()
		}
		l.abandon(session)
		if bayeux.IsAuthRejected(err) {
			l.dropToken()
		}
		return stepRetry, err
	}

	err = l.stream(ctx, session)
	if ctx.Err() != nil {
		return stepStop, ctx.Err()
	}
	l.abandon(session)

	rehandshake := bayeux.NeedsRehandshake(err)
	if bayeux.IsAuthRejected(err) {
		l.dropToken()
		rehandshake = true
	}
	if !rehandshake {
		return stepRetry, err
	}
	if l.skipped {
		c.logger.Warn("session rejected again before any poll succeeded", logging.Field("error", err))
		return stepRetry, err
	}
	l.skipped = true
	if bayeux.IsAuthRejected(err) {
		c.logger.Warn("access token rejected; re-authenticating", logging.Field("error", err))
	} else {
		c.logger.Info("server requested a new handshake", logging.Field("error", err))
	}
	c.setState(runstatus.Handshaking)
	return stepImmediate, err
}

// subscribeAll subscribes every registered channel, including ones added
// while it runs, then enters STREAMING.
func (l *runLoop) subscribeAll(ctx context.Context, session *bayeux.Session) error {
	c := l.c
	for {
		c.mu.Lock()
		var pending []string
		for _, channel := range c.handlers.Channels() {
			if _, ok := c.remote[channel]; !ok {
				pending = append(pending, channel)
			}
		}
		if len(pending) == 0 {
			from := c.state
			c.state = runstatus.Streaming
			c.mu.Unlock()
			c.transitioned(from, runstatus.Streaming)
			return nil
		}
		c.mu.Unlock()

		for _, channel := range pending {
			if err := c.transport.Subscribe(ctx, session, channel); err != nil {
				return err
			}
			c.mu.Lock()
			c.remote[channel] = struct{}{}
			c.mu.Unlock()
			c.logger.Info("subscribed", logging.Field("channel", channel))
		}
	}
}

// stream polls until an error. The retry policy is reset by the first
// successful poll of the session.
func (l *runLoop) stream(ctx context.Context, session *bayeux.Session) error {
	healthy := false
	for {
		events, err := l.c.transport.Poll(ctx, session)
		for _, ev := range events {
			l.sink.Dispatch(ctx, ev)
		}
		if err != nil {
			return err
		}
		if !healthy {
			healthy = true
			l.retry.Reset()
			l.failures = 0
			l.skipped = false
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// abandon forgets a dead session without a disconnect round trip.
func (l *runLoop) abandon(session *bayeux.Session) {
	c := l.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == session {
		c.session = nil
		c.remote = map[string]struct{}{}
	}
}

func (l *runLoop) dropToken() {
	l.token = oauth.AccessToken{}
	l.haveToken = false
}
