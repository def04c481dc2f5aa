package logging

import (
	"fmt"
	"log/slog"
	"time"
)

// fieldMap flattens attrs into plain values that every sink can print or
// encode. LogValuers are resolved first, so redacting types never expose
// their underlying value.
func fieldMap(attrs []slog.Attr) map[string]any {
	var out map[string]any
	for _, attr := range attrs {
		if attr.Key == "" {
			continue
		}
		if out == nil {
			out = make(map[string]any, len(attrs))
		}
		out[attr.Key] = plainValue(attr.Value)
	}
	return out
}

func plainValue(v slog.Value) any {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindGroup:
		group := make(map[string]any, len(v.Group()))
		for _, attr := range v.Group() {
			if attr.Key != "" {
				group[attr.Key] = plainValue(attr.Value)
			}
		}
		return group
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339Nano)
	case slog.KindAny:
		switch x := v.Any().(type) {
		case nil:
			return nil
		case error:
			return x.Error()
		case fmt.Stringer:
			return x.String()
		default:
			return x
		}
	default:
		return v.Any()
	}
}
