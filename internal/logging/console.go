package logging

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

type consoleStyles struct {
	timestamp lipgloss.Style
	message   lipgloss.Style
	key       lipgloss.Style
	value     lipgloss.Style
	punct     lipgloss.Style
	box       lipgloss.Style
	levels    map[slog.Level]lipgloss.Style
}

var (
	stylesOnce sync.Once
	styles     consoleStyles
)

func console() consoleStyles {
	stylesOnce.Do(func() {
		// Only reached after shouldPrettyPrint accepted the writer.
		lipgloss.SetColorProfile(termenv.ANSI256)
		badge := lipgloss.NewStyle().Bold(true).Width(7).Align(lipgloss.Center)
		styles = consoleStyles{
			timestamp: lipgloss.NewStyle().Foreground(lipgloss.Color("243")),
			message:   lipgloss.NewStyle().Foreground(lipgloss.Color("254")),
			key:       lipgloss.NewStyle().Foreground(lipgloss.Color("110")),
			value:     lipgloss.NewStyle().Foreground(lipgloss.Color("223")),
			punct:     lipgloss.NewStyle().Foreground(lipgloss.Color("242")),
			box: lipgloss.NewStyle().
				Border(lipgloss.NormalBorder(), false, false, false, true).
				BorderForeground(lipgloss.Color("239")).
				PaddingLeft(1),
			levels: map[slog.Level]lipgloss.Style{
				slog.LevelDebug: badge.Foreground(lipgloss.Color("250")).Background(lipgloss.Color("237")),
				slog.LevelInfo:  badge.Foreground(lipgloss.Color("16")).Background(lipgloss.Color("73")),
				slog.LevelWarn:  badge.Foreground(lipgloss.Color("16")).Background(lipgloss.Color("179")),
				slog.LevelError: badge.Foreground(lipgloss.Color("231")).Background(lipgloss.Color("124")),
			},
		}
	})
	return styles
}

func (st consoleStyles) level(level slog.Level) string {
	bucket := slog.LevelError
	switch {
	case level <= slog.LevelDebug:
		bucket = slog.LevelDebug
	case level <= slog.LevelInfo:
		bucket = slog.LevelInfo
	case level <= slog.LevelWarn:
		bucket = slog.LevelWarn
	}
	return st.levels[bucket].Render(bucket.String())
}

// FormatEventANSI renders event for a color terminal. Structured fields are
// printed as indented JSON under the main line.
func FormatEventANSI(event Event) string {
	st := console()
	var b strings.Builder
	b.WriteString(st.timestamp.Render(event.Time.Format("15:04:05.000")))
	b.WriteByte(' ')
	b.WriteString(st.level(event.Level))
	b.WriteByte(' ')
	b.WriteString(st.message.Render(sanitize(event.Message)))

	var blocks []string
	for _, key := range fieldOrder(event.Fields) {
		value := event.Fields[key]
		if pretty, ok := jsonValue(value, "  "); ok {
			blocks = append(blocks, st.key.Render(key)+st.punct.Render(":")+"\n"+st.box.Render(colorizeJSON(st, sanitize(pretty))))
			continue
		}
		b.WriteByte(' ')
		b.WriteString(st.key.Render(key) + st.punct.Render("=") + st.value.Render(inlineValue(value)))
	}
	for _, block := range blocks {
		b.WriteString("\n  ")
		b.WriteString(strings.ReplaceAll(block, "\n", "\n  "))
	}
	b.WriteByte('\n')
	return b.String()
}

// colorizeJSON dims JSON punctuation outside string literals.
func colorizeJSON(st consoleStyles, pretty string) string {
	var b strings.Builder
	inString, escaped := false, false
	var run strings.Builder
	flush := func() {
		if run.Len() > 0 {
			b.WriteString(st.value.Render(run.String()))
			run.Reset()
		}
	}
	for _, r := range pretty {
		switch {
		case inString:
			run.WriteRune(r)
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
		case r == '"':
			inString = true
			run.WriteRune(r)
		case strings.ContainsRune("{}[]:,", r):
			flush()
			b.WriteString(st.punct.Render(string(r)))
		case r == '\n':
			flush()
			b.WriteRune(r)
		default:
			run.WriteRune(r)
		}
	}
	flush()
	return b.String()
}
