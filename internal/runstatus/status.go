// Package runstatus defines the connection states reported by the
// subscription client.
package runstatus

type State int

const (
	Disconnected State = iota
	Handshaking
	Connected
	Subscribing
	Streaming
	Reconnecting
	Failed
)

var names = [...]string{
	Disconnected: "DISCONNECTED",
	Handshaking:  "HANDSHAKING",
	Connected:    "CONNECTED",
	Subscribing:  "SUBSCRIBING",
	Streaming:    "STREAMING",
	Reconnecting: "RECONNECTING",
	Failed:       "FAILED",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(names) {
		return "UNKNOWN"
	}
	return names[s]
}

// Active reports whether a control loop owns the state. Disconnected and
// Failed are the only states in which no loop is running.
func (s State) Active() bool {
	return s != Disconnected && s != Failed
}
