package bubbletea

import (
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// sanitize makes server-provided message text safe to draw. Escape
// sequences are stripped, CRLF and lone CR become LF, and control
// characters other than tab and newline are dropped.
func sanitize(s string) string {
	s = ansi.Strip(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\r':
			return '\n'
		case r == '\t' || r == '\n':
			return r
		case r <= 0x1F || r == 0x7F:
			return -1
		default:
			return r
		}
	}, s)
}
