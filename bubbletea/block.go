package bubbletea

import tea "github.com/charmbracelet/bubbletea"

// MessageBlock is a renderable element in the conversation.
// Unlike tea.Model, View takes a width parameter so the root model
// controls layout and blocks are testable in isolation.
type MessageBlock interface {
	Update(tea.Msg) (MessageBlock, tea.Cmd)
	View(width int) string
}

// blockSeparator returns the gap rendered between two adjacent blocks.
// A question and its answer sit closer together than two exchanges.
func blockSeparator(prev, curr MessageBlock) string {
	if _, ok := prev.(*UserMessageBlock); ok {
		if _, ok := curr.(*AssistantTextBlock); ok {
			return "\n"
		}
	}
	return "\n\n"
}
