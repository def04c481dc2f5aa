package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

const payloadLimit = 64 << 10

// FormatEventLine renders event as a single plain line:
//
//	2026-01-02T15:04:05.000Z INFO  message key=value payload={"compact":"json"}
func FormatEventLine(event Event) string {
	var b strings.Builder
	b.WriteString(event.Time.Format("2006-01-02T15:04:05.000Z07:00"))
	fmt.Fprintf(&b, " %-5s ", strings.ToUpper(event.Level.String()))
	b.WriteString(sanitize(event.Message))
	for _, key := range fieldOrder(event.Fields) {
		b.WriteByte(' ')
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(inlineValue(event.Fields[key]))
	}
	b.WriteByte('\n')
	return b.String()
}

// FormatHTTPPayload prepares a response or event body for logging. JSON is
// re-encoded without HTML escaping and a JSON-quoted body is unwrapped first.
// Terminal escapes are stripped and very large bodies are clipped.
func FormatHTTPPayload(raw []byte) string {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "<empty>"
	}
	var quoted string
	if json.Unmarshal([]byte(text), &quoted) == nil {
		text = strings.TrimSpace(quoted)
	}
	if compact, ok := encodeJSONText(text, ""); ok {
		text = compact
	}
	text = sanitize(text)
	if len(text) > payloadLimit {
		text = text[:payloadLimit] + "…(clipped)"
	}
	return text
}

// sanitize removes terminal escape sequences from remote text.
func sanitize(value string) string {
	if !strings.ContainsRune(value, '\x1b') {
		return value
	}
	return ansi.Strip(value)
}

func inlineValue(value any) string {
	if value == nil {
		return "<nil>"
	}
	if compact, ok := jsonValue(value, ""); ok {
		return sanitize(compact)
	}
	text := sanitize(fmt.Sprint(value))
	if text == "" || strings.ContainsAny(text, " \t\r\n\"=") {
		return strconv.Quote(text)
	}
	return text
}

// jsonValue encodes containers (and strings holding a JSON object or array)
// with the given indent. Scalars report false.
func jsonValue(value any, indent string) (string, bool) {
	switch v := value.(type) {
	case string:
		return encodeJSONText(v, indent)
	case []byte:
		return encodeJSONText(string(v), indent)
	case json.RawMessage:
		return encodeJSONText(string(v), indent)
	}
	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return "", false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		return encodeJSON(rv.Interface(), indent)
	}
	return "", false
}

func encodeJSONText(text string, indent string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || (trimmed[0] != '{' && trimmed[0] != '[') {
		return "", false
	}
	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
		return "", false
	}
	return encodeJSON(decoded, indent)
}

func encodeJSON(value any, indent string) (string, bool) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(value); err != nil {
		return "", false
	}
	return strings.TrimSpace(buf.String()), true
}

// fieldOrder sorts keys with scalar fields first, then structured fields,
// then payload-like fields so bodies end up at the end of the line.
func fieldOrder(fields map[string]any) []string {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	rank := func(key string) int {
		if _, ok := jsonValue(fields[key], ""); !ok {
			return 0
		}
		if isPayloadKey(key) {
			return 2
		}
		return 1
	}
	sort.Slice(keys, func(i, j int) bool {
		ri, rj := rank(keys[i]), rank(keys[j])
		if ri != rj {
			return ri < rj
		}
		return keys[i] < keys[j]
	})
	return keys
}

func isPayloadKey(key string) bool {
	switch strings.ToLower(key) {
	case "payload", "response", "body", "data", "event":
		return true
	}
	return false
}
