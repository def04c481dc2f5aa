package bayeux

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

const (
	protocolVersion = "1.0"
	longPolling     = "long-polling"

	channelHandshake   = "/meta/handshake"
	channelConnect     = "/meta/connect"
	channelSubscribe   = "/meta/subscribe"
	channelUnsubscribe = "/meta/unsubscribe"
	channelDisconnect  = "/meta/disconnect"

	reconnectRetry     = "retry"
	reconnectHandshake = "handshake"
	reconnectNone      = "none"
)

// Message is one element of a Bayeux request or response array.
type Message struct {
	Channel                  string          `json:"channel"`
	ID                       string          `json:"id,omitempty"`
	ClientID                 string          `json:"clientId,omitempty"`
	Version                  string          `json:"version,omitempty"`
	MinimumVersion           string          `json:"minimumVersion,omitempty"`
	SupportedConnectionTypes []string        `json:"supportedConnectionTypes,omitempty"`
	ConnectionType           string          `json:"connectionType,omitempty"`
	Subscription             string          `json:"subscription,omitempty"`
	Successful               bool            `json:"successful,omitempty"`
	Error                    string          `json:"error,omitempty"`
	Advice                   *Advice         `json:"advice,omitempty"`
	Data                     json.RawMessage `json:"data,omitempty"`
	Ext                      json.RawMessage `json:"ext,omitempty"`
}

func (m Message) isMeta() bool {
	return strings.HasPrefix(m.Channel, "/meta/")
}

// Advice is the server's reconnect guidance. Durations are milliseconds on
// the wire.
type Advice struct {
	Reconnect       string `json:"reconnect,omitempty"`
	Interval        int64  `json:"interval,omitempty"`
	Timeout         *int64 `json:"timeout,omitempty"`
	MultipleClients bool   `json:"multiple-clients,omitempty"`
}

func (a *Advice) interval() time.Duration {
	if a == nil || a.Interval <= 0 {
		return 0
	}
	return time.Duration(a.Interval) * time.Millisecond
}

func (a *Advice) timeout() (time.Duration, bool) {
	if a == nil || a.Timeout == nil || *a.Timeout < 0 {
		return 0, false
	}
	return time.Duration(*a.Timeout) * time.Millisecond, true
}

// errorCode extracts the numeric prefix of a Bayeux error string such as
// "403::Unknown client".
func errorCode(bayeuxErr string) int {
	head, _, ok := strings.Cut(bayeuxErr, ":")
	if !ok {
		return 0
	}
	code, err := strconv.Atoi(strings.TrimSpace(head))
	if err != nil {
		return 0
	}
	return code
}

// errorReason returns the human part of a Bayeux error string.
func errorReason(bayeuxErr string) string {
	parts := strings.SplitN(bayeuxErr, ":", 3)
	if len(parts) == 3 {
		if reason := strings.TrimSpace(parts[2]); reason != "" {
			return reason
		}
	}
	return strings.TrimSpace(bayeuxErr)
}

func findReply(replies []Message, channel string) (Message, bool) {
	for _, reply := range replies {
		if reply.Channel == channel {
			return reply, true
		}
	}
	return Message{}, false
}
