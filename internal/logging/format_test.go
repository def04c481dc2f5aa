package logging

import (
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

type structPayload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestJSONValue_EmbeddedJSONSuffixIgnored(t *testing.T) {
	if _, ok := jsonValue(`500 Internal Server Error: {"message":"failed","status":500}`, ""); ok {
		t.Fatalf("expected text with a JSON suffix to stay inline")
	}
}

func TestJSONValue_StructField(t *testing.T) {
	pretty, ok := jsonValue(structPayload{Name: "abc", Count: 2}, "  ")
	if !ok {
		t.Fatalf("expected struct to be rendered as JSON")
	}
	if !strings.HasPrefix(pretty, "{\n") || !strings.Contains(pretty, `"name": "abc"`) {
		t.Fatalf("unexpected JSON %q", pretty)
	}
}

func TestFieldOrder_PayloadLast(t *testing.T) {
	keys := fieldOrder(map[string]any{
		"status":  "500",
		"payload": `{"message":"failed","status":500}`,
		"advice":  map[string]any{"reconnect": "retry"},
		"error":   "connect failed",
	})
	want := []string{"error", "status", "advice", "payload"}
	if strings.Join(keys, ",") != strings.Join(want, ",") {
		t.Fatalf("fieldOrder() = %v, want %v", keys, want)
	}
}

func TestFormatEventLine_SingleLine(t *testing.T) {
	line := FormatEventLine(Event{
		Time:    time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC),
		Level:   slog.LevelWarn,
		Message: "connect failed",
		Fields: map[string]any{
			"attempt": 3,
			"error":   "403::Unknown client",
			"payload": "{\n  \"id\": 42\n}",
		},
	})
	want := `2026-01-02T15:04:05.000Z WARN  connect failed attempt=3 error="403::Unknown client" payload={"id":42}` + "\n"
	if line != want {
		t.Fatalf("FormatEventLine() =\n%q\nwant\n%q", line, want)
	}
}

func TestFormatEventLine_StripsTerminalEscapes(t *testing.T) {
	line := FormatEventLine(Event{
		Message: "received \x1b[31mred\x1b[0m event",
		Fields:  map[string]any{"data": "plain \x1b[2Jtext"},
	})
	if strings.ContainsRune(line, '\x1b') {
		t.Fatalf("expected escape sequences to be stripped, got %q", line)
	}
	if !strings.Contains(line, "received red event") {
		t.Fatalf("message lost during sanitizing: %q", line)
	}
}

func TestFormatHTTPPayload(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "empty", raw: "  ", want: "<empty>"},
		{name: "object", raw: "{\n \"a\": \"<b>\" }", want: `{"a":"<b>"}`},
		{name: "quoted json", raw: `"{\"error\":\"invalid_client\"}"`, want: `{"error":"invalid_client"}`},
		{name: "text", raw: "Service Unavailable\n", want: "Service Unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatHTTPPayload([]byte(tt.raw)); got != tt.want {
				t.Fatalf("FormatHTTPPayload() = %q, want %q", got, tt.want)
			}
		})
	}

	long := strings.Repeat("x", payloadLimit+10)
	if got := FormatHTTPPayload([]byte(long)); !strings.HasSuffix(got, "…(clipped)") {
		t.Fatalf("long payload not clipped")
	}
}

func TestFieldMap_ResolvesValues(t *testing.T) {
	fields := fieldMap([]slog.Attr{
		Field("error", errors.New("boom")),
		Field("delay", 1500*time.Millisecond),
		Field("secret", Secret("hunter2")),
		slog.Group("event", slog.String("id", "evt-1")),
		{},
	})
	if fields["error"] != "boom" || fields["delay"] != "1.5s" || fields["secret"] != redactedPlaceholder {
		t.Fatalf("fieldMap() = %#v", fields)
	}
	group, ok := fields["event"].(map[string]any)
	if !ok || group["id"] != "evt-1" {
		t.Fatalf("group field = %#v", fields["event"])
	}
	if len(fields) != 4 {
		t.Fatalf("empty attr should be skipped: %#v", fields)
	}
}
