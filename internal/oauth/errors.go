package oauth

import (
	"errors"
	"fmt"
	"net/http"
)

// AuthError reports a failed credential exchange. No token is returned with
// it and the caller must not proceed to connect.
type AuthError struct {
	Cause error
}

func (e *AuthError) Error() string {
	if e == nil || e.Cause == nil {
		return "oauth token request failed"
	}
	return "oauth token request failed: " + e.Cause.Error()
}

func (e *AuthError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// HTTPStatusError is a non-2xx token endpoint response. Code and Description
// carry the OAuth error body when the server sent one.
type HTTPStatusError struct {
	StatusCode  int
	Status      string
	Code        string
	Description string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "http request failed"
	}
	status := e.Status
	if status == "" {
		status = fmt.Sprintf("http status %d", e.StatusCode)
	}
	if e.Code == "" {
		return status
	}
	if e.Description == "" {
		return status + ": " + e.Code
	}
	return status + ": " + e.Code + " (" + e.Description + ")"
}

var (
	errMissingAccessToken = errors.New("token response has no access_token")
	errMissingInstanceURL = errors.New("token response has no instance_url")
)

// IsInvalidClient reports whether the endpoint rejected the credentials
// themselves rather than failing transiently.
func IsInvalidClient(err error) bool {
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	switch statusErr.Code {
	case "invalid_client", "invalid_client_id", "unauthorized_client", "invalid_grant":
		return true
	}
	return statusErr.StatusCode == http.StatusUnauthorized
}
