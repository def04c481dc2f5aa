package bayeux

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"sfdc-subscriber/internal/logging"
	"sfdc-subscriber/internal/runctx"
)

const (
	defaultRequestTimeout = 30 * time.Second
	// Used until the server advertises its own long-poll timeout.
	defaultPollTimeout = 110 * time.Second
	pollGrace          = 30 * time.Second
)

// Transport speaks Bayeux long-polling to {instance_url}/cometd/{version}.
// It is safe for concurrent use: a Subscribe may run while Poll is blocked.
type Transport struct {
	HTTP           *http.Client
	APIVersion     string
	ForceHTTP1     bool
	RequestTimeout time.Duration
	Logger         *logging.Logger

	nextID atomic.Uint64
	now    func() time.Time
}

// Session is one handshaken Bayeux client. Callers treat it as opaque.
type Session struct {
	ClientID string
	Endpoint string

	token string
	http  *http.Client

	mu          sync.Mutex
	advice      Advice
	connected   bool
	nextPollAt  time.Time
	pollTimeout time.Duration
}

func NewTransport(httpClient *http.Client, apiVersion string, logger *logging.Logger) *Transport {
	if logger == nil {
		panic("bayeux.NewTransport: logger must not be nil")
	}
	return &Transport{HTTP: httpClient, APIVersion: apiVersion, Logger: logger}
}

// EndpointURL builds the streaming endpoint for an instance.
func EndpointURL(instanceURL string, apiVersion string) string {
	version := strings.TrimPrefix(strings.TrimSpace(apiVersion), "v")
	return strings.TrimRight(strings.TrimSpace(instanceURL), "/") + "/cometd/" + version
}

// Handshake opens a session. The bearer token is sent on the handshake and on
// every later request of the session.
func (t *Transport) Handshake(ctx context.Context, instanceURL string, token string) (*Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, &HandshakeError{Reason: "cookie jar", Err: err}
	}
	session := &Session{
		Endpoint:    EndpointURL(instanceURL, t.APIVersion),
		token:       token,
		http:        t.sessionHTTP(jar),
		pollTimeout: defaultPollTimeout,
	}
	t.Logger.Debug("sending handshake", logging.Field("endpoint", session.Endpoint))

	reqCtx, cancel := context.WithTimeout(ctx, t.requestTimeout())
	defer cancel()
	replies, err := t.send(reqCtx, session, Message{
		Channel:                  channelHandshake,
		Version:                  protocolVersion,
		MinimumVersion:           protocolVersion,
		SupportedConnectionTypes: []string{longPolling},
	})
	if err != nil {
		if IsAuthRejected(err) {
			return nil, &HandshakeError{Reason: "authentication rejected", Err: err}
		}
		return nil, &HandshakeError{Reason: "request failed", Err: err}
	}

	reply, ok := findReply(replies, channelHandshake)
	if !ok {
		return nil, &HandshakeError{Reason: "no handshake reply"}
	}
	if !reply.Successful {
		herr := &HandshakeError{Reason: errorReason(reply.Error)}
		if errorCode(reply.Error) == http.StatusUnauthorized {
			herr.Err = ErrAuthRejected
		}
		t.Logger.Warn("handshake rejected",
			logging.Field("error", reply.Error),
			logging.Field("advice", reply.Advice),
		)
		return nil, herr
	}
	if strings.TrimSpace(reply.ClientID) == "" {
		return nil, &HandshakeError{Reason: "handshake reply has no clientId"}
	}

	session.ClientID = reply.ClientID
	session.applyAdvice(reply.Advice)
	t.Logger.Debug("handshake accepted", logging.Field("client_id", session.ClientID))
	return session, nil
}

func (t *Transport) Subscribe(ctx context.Context, session *Session, channel string) error {
	return t.changeSubscription(ctx, session, channelSubscribe, channel)
}

func (t *Transport) Unsubscribe(ctx context.Context, session *Session, channel string) error {
	return t.changeSubscription(ctx, session, channelUnsubscribe, channel)
}

func (t *Transport) changeSubscription(ctx context.Context, session *Session, meta string, channel string) error {
	if session == nil {
		return &SubscribeError{Channel: channel, Reason: "no session"}
	}
	t.Logger.Debug("sending "+meta, logging.Field("channel", channel), logging.Field("client_id", session.ClientID))

	reqCtx, cancel := context.WithTimeout(ctx, t.requestTimeout())
	defer cancel()
	replies, err := t.send(reqCtx, session, Message{
		Channel:      meta,
		ClientID:     session.ClientID,
		Subscription: channel,
	})
	if err != nil {
		return &SubscribeError{Channel: channel, Reason: "request failed", Err: err}
	}
	reply, ok := findReply(replies, meta)
	if !ok {
		return &SubscribeError{Channel: channel, Reason: "no " + meta + " reply"}
	}
	if !reply.Successful {
		serr := &SubscribeError{Channel: channel, Reason: errorReason(reply.Error)}
		switch errorCode(reply.Error) {
		case http.StatusUnauthorized:
			serr.Err = ErrAuthRejected
		case http.StatusForbidden:
			if isUnknownClient(reply.Error) {
				serr.Err = &TransportError{Reason: "unknown client", Rehandshake: true}
			}
		}
		t.Logger.Warn(meta+" rejected",
			logging.Field("channel", channel),
			logging.Field("error", reply.Error),
		)
		return serr
	}
	return nil
}

// Poll runs one /meta/connect cycle. It blocks until the server delivers
// data or its long-poll timeout elapses; a timeout yields an empty slice.
// When the connect reply fails after data arrived, both the events and the
// error are returned and the events should still be delivered.
func (t *Transport) Poll(ctx context.Context, session *Session) ([]Event, error) {
	if session == nil {
		return nil, &TransportError{Reason: "no session"}
	}
	if err := session.waitInterval(ctx); err != nil {
		return nil, &TransportError{Reason: "poll canceled", Err: err}
	}

	msg := Message{
		Channel:        channelConnect,
		ClientID:       session.ClientID,
		ConnectionType: longPolling,
	}
	timeout, first := session.beginPoll()
	if first {
		// The first connect returns immediately so the session is
		// established before the long poll starts.
		zero := int64(0)
		msg.Advice = &Advice{Timeout: &zero}
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout+pollGrace)
	defer cancel()
	replies, err := t.send(reqCtx, session, msg)
	if err != nil {
		if IsAuthRejected(err) {
			return nil, err
		}
		return nil, &TransportError{Reason: "connect request failed", Err: err}
	}

	receivedAt := t.clock()
	events := make([]Event, 0, len(replies))
	var connectReply *Message
	for i := range replies {
		reply := replies[i]
		switch {
		case reply.Channel == channelConnect:
			connectReply = &replies[i]
		case reply.isMeta():
			t.Logger.Debug("ignoring meta reply during poll", logging.Field("channel", reply.Channel))
		case len(reply.Data) > 0:
			events = append(events, newEvent(reply, receivedAt))
		}
	}

	if connectReply == nil {
		return events, nil
	}
	session.applyAdvice(connectReply.Advice)
	if connectReply.Successful {
		return events, nil
	}
	return events, connectFailure(*connectReply)
}

// Disconnect tells the server the session is ending. It is best effort and
// never fails.
func (t *Transport) Disconnect(ctx context.Context, session *Session) {
	if session == nil || session.ClientID == "" {
		return
	}
	reqCtx, cancel := context.WithTimeout(ctx, t.requestTimeout())
	defer cancel()
	if _, err := t.send(reqCtx, session, Message{Channel: channelDisconnect, ClientID: session.ClientID}); err != nil {
		t.Logger.Debug("disconnect request failed", logging.Field("error", err))
		return
	}
	t.Logger.Debug("session disconnected", logging.Field("client_id", session.ClientID))
}

func connectFailure(reply Message) error {
	code := errorCode(reply.Error)
	reason := errorReason(reply.Error)
	if reason == "" {
		reason = "connect unsuccessful"
	}
	if code == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s", ErrAuthRejected, reason)
	}
	rehandshake := isUnknownClient(reply.Error)
	if reply.Advice != nil {
		switch reply.Advice.Reconnect {
		case reconnectHandshake:
			rehandshake = true
		case reconnectNone:
			rehandshake = false
		}
	}
	return &TransportError{Reason: reason, Rehandshake: rehandshake}
}

func isUnknownClient(bayeuxErr string) bool {
	return errorCode(bayeuxErr) == http.StatusForbidden &&
		strings.Contains(strings.ToLower(bayeuxErr), "unknown client")
}

func (t *Transport) send(ctx context.Context, session *Session, msg Message) ([]Message, error) {
	msg.ID = strconv.FormatUint(t.nextID.Add(1), 10)
	body, err := json.Marshal([]Message{msg})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, session.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+session.token)

	resp, err := session.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, readErr := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if resp.StatusCode >= 400 {
		t.Logger.Warn("bayeux request failed",
			logging.Field("channel", msg.Channel),
			logging.Field("status", resp.Status),
			logging.Field("response", logging.FormatHTTPPayload(data)),
		)
		statusErr := &HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, &authRejected{status: statusErr}
		}
		return nil, statusErr
	}
	if readErr != nil {
		return nil, fmt.Errorf("read bayeux response: %w", readErr)
	}

	var replies []Message
	if err := json.Unmarshal(data, &replies); err != nil {
		// Some servers answer single messages without the array.
		var single Message
		if singleErr := json.Unmarshal(data, &single); singleErr != nil || single.Channel == "" {
			return nil, fmt.Errorf("invalid bayeux response: %w", err)
		}
		replies = []Message{single}
	}
	return replies, nil
}

func (t *Transport) sessionHTTP(jar http.CookieJar) *http.Client {
	base := t.HTTP
	if base == nil {
		base = http.DefaultClient
	}
	// Long polls outlive any whole-request timeout; deadlines come from the
	// per-request contexts instead.
	client := *base
	client.Timeout = 0
	client.Jar = jar
	if t.ForceHTTP1 {
		client.Transport = http1OnlyRoundTripper(client.Transport)
	}
	return &client
}

func (t *Transport) requestTimeout() time.Duration {
	if t.RequestTimeout > 0 {
		return t.RequestTimeout
	}
	return defaultRequestTimeout
}

func (t *Transport) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}

func (s *Session) applyAdvice(advice *Advice) {
	if advice == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advice = *advice
	if timeout, ok := advice.timeout(); ok && timeout > 0 {
		s.pollTimeout = timeout
	}
	if interval := advice.interval(); interval > 0 {
		s.nextPollAt = time.Now().Add(interval)
	} else {
		s.nextPollAt = time.Time{}
	}
}

func (s *Session) beginPoll() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	first := !s.connected
	s.connected = true
	return s.pollTimeout, first
}

func (s *Session) waitInterval(ctx context.Context) error {
	s.mu.Lock()
	wait := time.Until(s.nextPollAt)
	s.mu.Unlock()
	return runctx.Sleep(ctx, wait)
}

// Advice returns the most recent server advice for the session.
func (s *Session) Advice() Advice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advice
}

func http1OnlyRoundTripper(rt http.RoundTripper) http.RoundTripper {
	switch transport := rt.(type) {
	case nil:
		base, ok := http.DefaultTransport.(*http.Transport)
		if !ok {
			return rt
		}
		clone := base.Clone()
		disableHTTP2(clone)
		return clone
	case *http.Transport:
		clone := transport.Clone()
		disableHTTP2(clone)
		return clone
	default:
		// Custom transports (eg test round-trippers) may not support HTTP/2 anyway.
		return rt
	}
}

func disableHTTP2(transport *http.Transport) {
	transport.ForceAttemptHTTP2 = false
	transport.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
}
