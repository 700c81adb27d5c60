// Package goldmark renders assistant answers, which are markdown, to
// ANSI-styled terminal output using goldmark for parsing and lipgloss for
// styling.
package goldmark

import (
	"strings"

	"github.com/fwojciec/docchat"
)

const defaultWidth = 80

// Render parses markdown source and returns ANSI-styled terminal output.
// Paragraphs and list items are word-wrapped to width. Code blocks and
// tables are rendered without reflow.
func Render(source string, width int, theme docchat.Theme) string {
	if source == "" {
		return ""
	}
	if width <= 0 {
		width = defaultWidth
	}
	return newRenderer(theme).render([]byte(source), width)
}

// RenderPartial renders an answer that is still streaming. An unterminated
// code fence is closed first so text after the opening fence renders as
// code rather than jumping between styles as fragments arrive.
func RenderPartial(source string, width int, theme docchat.Theme) string {
	return Render(closeOpenFence(source), width, theme)
}

// closeOpenFence appends a closing fence when source has an odd number of
// fence lines.
func closeOpenFence(source string) string {
	var fence string
	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimLeft(line, " ")
		for _, marker := range []string{"```", "~~~"} {
			if !strings.HasPrefix(trimmed, marker) {
				continue
			}
			switch {
			case fence == "":
				fence = marker
			case fence == marker && strings.TrimSpace(trimmed) == strings.Repeat(marker[:1], len(strings.TrimSpace(trimmed))):
				fence = ""
			}
		}
	}
	if fence == "" {
		return source
	}
	if !strings.HasSuffix(source, "\n") {
		source += "\n"
	}
	return source + fence
}
