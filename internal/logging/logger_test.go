package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestLogger_WithAddsFieldsAndRedactsSecrets(t *testing.T) {
	var out bytes.Buffer
	logger := New(true)
	logger.SetOutput(&out)

	var events []Event
	unsubscribe := logger.Subscribe(func(event Event) { events = append(events, event) })
	defer unsubscribe()

	child := logger.With(Field("component", "oauth"))
	child.Info("token requested",
		Field("client_secret", Secret("super-secret")),
		Field("client_id", Masked("3MVG9abcdefghijkl")),
	)

	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	fields := events[0].Fields
	if fields["component"] != "oauth" {
		t.Fatalf("component field = %v", fields["component"])
	}
	if fields["client_secret"] != redactedPlaceholder {
		t.Fatalf("client_secret field = %v, want redacted", fields["client_secret"])
	}
	if strings.Contains(out.String(), "super-secret") {
		t.Fatalf("secret leaked to console output: %q", out.String())
	}
	if strings.Contains(out.String(), "3MVG9abcdefghijkl") {
		t.Fatalf("full client id leaked to console output: %q", out.String())
	}
}

func TestLogger_DebugHiddenUnlessEnabled(t *testing.T) {
	var out bytes.Buffer
	logger := New(false)
	logger.SetOutput(&out)

	logger.Debug("poll returned", Field("events", 0))
	if out.Len() != 0 {
		t.Fatalf("debug output written while disabled: %q", out.String())
	}

	logger.SetDebugEnabled(true)
	logger.Debug("poll returned", Field("events", 0))
	if !strings.Contains(out.String(), "poll returned") {
		t.Fatalf("debug output missing once enabled: %q", out.String())
	}
}

func TestLogger_TerminalOutputToggle(t *testing.T) {
	var out bytes.Buffer
	logger := New(false)
	logger.SetOutput(&out)
	logger.SetTerminalOutputEnabled(false)

	published := 0
	logger.Subscribe(func(Event) { published++ })
	logger.Warn("handshake rejected")

	if out.Len() != 0 {
		t.Fatalf("console output written while disabled: %q", out.String())
	}
	if published != 1 {
		t.Fatalf("published = %d, want 1", published)
	}
}
