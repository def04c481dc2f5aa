package logging

import (
	"io"
	"os"
	"strings"

	"github.com/muesli/termenv"
)

// shouldPrettyPrint reports whether w is a color-capable terminal. NO_COLOR
// and dumb terminals always get plain lines.
func shouldPrettyPrint(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	term := strings.TrimSpace(os.Getenv("TERM"))
	if term == "" || term == "dumb" {
		return false
	}
	return termenv.NewOutput(w).Profile != termenv.Ascii
}
