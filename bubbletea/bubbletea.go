// Package bubbletea provides a Bubble Tea TUI for chatting with a document.
package bubbletea

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fwojciec/docchat"
)

// History is the part of the message store the TUI reads from.
type History interface {
	Snapshot(key docchat.CacheKey) *docchat.PaginatedCache
	FetchNextPage(ctx context.Context, key docchat.CacheKey) error
}

// Run creates and runs the Bubble Tea TUI program. It blocks until the program
// exits. The context is used for graceful shutdown: when cancelled, the
// program quits.
func Run(ctx context.Context, m Model) error {
	p := tea.NewProgram(m, tea.WithAltScreen())
	go func() {
		<-ctx.Done()
		p.Quit()
	}()
	_, err := p.Run()
	return err
}

// CacheChangedMsg signals that the conversation cache was mutated and the
// view should be rebuilt from a fresh snapshot.
type CacheChangedMsg struct{}

// TurnDoneMsg signals that a submitted turn has settled.
type TurnDoneMsg struct {
	Err error
}

// UploadStatusMsg carries the result of an upload status poll.
type UploadStatusMsg struct {
	Status docchat.UploadStatus
	Err    error
}

// OlderPageMsg signals that an older history page finished loading.
type OlderPageMsg struct {
	Err error
}

// ChangeFeed forwards store change notifications to the TUI. Notify never
// blocks: pending notifications coalesce, since every refresh reads the
// latest snapshot.
type ChangeFeed struct {
	ch chan struct{}
}

// NewChangeFeed creates a ChangeFeed.
func NewChangeFeed() *ChangeFeed {
	return &ChangeFeed{ch: make(chan struct{}, 1)}
}

// Notify records that key changed. It has the signature expected by
// memory.WithChangeHandler.
func (f *ChangeFeed) Notify(docchat.CacheKey) {
	select {
	case f.ch <- struct{}{}:
	default:
	}
}

// listenForChange waits for the next change notification.
func listenForChange(f *ChangeFeed) tea.Cmd {
	return func() tea.Msg {
		<-f.ch
		return CacheChangedMsg{}
	}
}
