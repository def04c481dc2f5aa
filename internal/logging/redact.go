package logging

import "log/slog"

const redactedPlaceholder = "<redacted>"

// Secret wraps a credential so it can be passed as a field without its value
// ever reaching a sink. Only presence is recorded.
type Secret string

func (s Secret) LogValue() slog.Value {
	if s == "" {
		return slog.StringValue("<empty>")
	}
	return slog.StringValue(redactedPlaceholder)
}

func (s Secret) String() string {
	return s.LogValue().String()
}

// Masked keeps a short prefix of an identifier such as a client id so log
// lines stay correlatable without exposing the full value.
func Masked(value string) string {
	const keep = 6
	if len(value) <= keep {
		return redactedPlaceholder
	}
	return value[:keep] + "…"
}
