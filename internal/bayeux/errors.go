package bayeux

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrAuthRejected means the bearer token was refused. The owner must discard
// the token and fetch a new one; the transport never refreshes tokens.
var ErrAuthRejected = errors.New("bearer token rejected")

type HTTPStatusError struct {
	StatusCode int
	Status     string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "http request failed"
	}
	if e.Status != "" {
		return e.Status
	}
	return fmt.Sprintf("http status %d", e.StatusCode)
}

// HandshakeError reports a handshake the server refused or that could not be
// sent. Err is ErrAuthRejected for authentication failures.
type HandshakeError struct {
	Reason string
	Err    error
}

func (e *HandshakeError) Error() string {
	return "handshake failed: " + e.Reason
}

func (e *HandshakeError) Unwrap() error { return e.Err }

type SubscribeError struct {
	Channel string
	Reason  string
	Err     error
}

func (e *SubscribeError) Error() string {
	return fmt.Sprintf("subscribe %s failed: %s", e.Channel, e.Reason)
}

func (e *SubscribeError) Unwrap() error { return e.Err }

// TransportError is a failed connect cycle. Rehandshake is set when the
// server advised a fresh handshake, which the current token can still serve.
type TransportError struct {
	Reason      string
	Rehandshake bool
	Err         error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return "transport failed: " + e.Reason + ": " + e.Err.Error()
	}
	return "transport failed: " + e.Reason
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsAuthRejected reports whether err is an authentication failure, either an
// HTTP 401/403 or a Bayeux 401 error.
func IsAuthRejected(err error) bool {
	if errors.Is(err, ErrAuthRejected) {
		return true
	}
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	return statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode == http.StatusForbidden
}

// NeedsRehandshake reports whether err asks for a new handshake without a
// new token.
func NeedsRehandshake(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr) && transportErr.Rehandshake
}

// authRejected wraps a status error so both errors.Is(ErrAuthRejected) and
// errors.As(*HTTPStatusError) succeed.
type authRejected struct {
	status *HTTPStatusError
}

func (e *authRejected) Error() string { return ErrAuthRejected.Error() + ": " + e.status.Error() }

func (e *authRejected) Unwrap() []error { return []error{ErrAuthRejected, e.status} }
