package bubbletea

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/fwojciec/docchat"
	"github.com/mattn/go-runewidth"
)

var _ tea.Model = Model{}

// DefaultPollInterval is how often the upload status is polled until it
// settles.
const DefaultPollInterval = 500 * time.Millisecond

const statusCheckNotice = "Could not check the document status."

// Model is the Bubble Tea model for the docchat TUI.
type Model struct {
	// Input is the text input component. Exported for test access.
	Input textinput.Model
	// Viewport is the scrollable conversation. Exported for test access.
	Viewport viewport.Model

	ctrl         *docchat.Controller
	history      History
	status       docchat.StatusChecker
	feed         *ChangeFeed
	title        string
	pollInterval time.Duration
	theme        docchat.Theme
	styles       Styles

	blocks []MessageBlock
	// answers keeps assistant blocks across refreshes so their rendered
	// paragraphs stay cached. Keyed by message id.
	answers map[string]*AssistantTextBlock

	hasMore      bool
	loadingOlder bool
	checking     bool // awaiting the first upload status
	running      bool
	notice       string
	err          error
	ready        bool
}

// Option configures a Model.
type Option func(*Model)

// WithStatusChecker polls the document's upload status on start and keeps
// input disabled until the document accepts messages.
func WithStatusChecker(sc docchat.StatusChecker) Option {
	return func(m *Model) { m.status = sc }
}

// WithChangeFeed refreshes the view on every store mutation, which is how
// the answer appears while it streams.
func WithChangeFeed(f *ChangeFeed) Option {
	return func(m *Model) { m.feed = f }
}

// WithTitle sets the document name shown in the header.
func WithTitle(title string) Option {
	return func(m *Model) { m.title = title }
}

// WithPollInterval sets the upload status polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(m *Model) { m.pollInterval = d }
}

// New creates a TUI Model for the conversation driven by ctrl. The history
// must be the store ctrl mutates.
func New(ctrl *docchat.Controller, history History, theme docchat.Theme, opts ...Option) Model {
	ti := textinput.New()
	ti.Placeholder = "Ask a question about this document..."
	ti.Prompt = ""
	ti.Focus()
	ti.CharLimit = 0

	m := Model{
		Input:        ti,
		ctrl:         ctrl,
		history:      history,
		pollInterval: DefaultPollInterval,
		theme:        theme,
		styles:       NewStyles(theme),
		answers:      make(map[string]*AssistantTextBlock),
	}
	for _, opt := range opts {
		opt(&m)
	}
	if m.title == "" {
		m.title = ctrl.Key().FileID
	}
	if m.status != nil {
		m.checking = true
		m.Input.Blur()
	}
	return m
}

// Running returns whether a turn is in flight.
func (m Model) Running() bool { return m.running }

// Err returns the error of the last failed turn, if any.
func (m Model) Err() error { return m.err }

// Notice returns the failure notice currently shown, if any.
func (m Model) Notice() string { return m.notice }

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink}
	if m.feed != nil {
		cmds = append(cmds, listenForChange(m.feed))
	}
	if m.status != nil {
		cmds = append(cmds, m.pollStatus())
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m = m.handleWindowSize(msg)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case CacheChangedMsg:
		m = m.refresh()
		if m.feed != nil {
			return m, listenForChange(m.feed)
		}
		return m, nil

	case TurnDoneMsg:
		m.running = false
		m.Input.SetValue(m.ctrl.Input())
		m.Input.CursorEnd()
		if msg.Err != nil && docchat.Classify(msg.Err) != docchat.OutcomeCanceled {
			m.err = msg.Err
			m.notice = noticeFor(msg.Err)
		}
		m = m.refresh()
		cmd := m.focusInput()
		return m, cmd

	case UploadStatusMsg:
		return m.handleUploadStatus(msg)

	case statusTickMsg:
		return m, m.pollStatus()

	case OlderPageMsg:
		m.loadingOlder = false
		if msg.Err != nil {
			m.notice = "Could not load older messages."
		}
		m = m.refresh()
		return m, nil
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.Viewport, cmd = m.Viewport.Update(msg)
	cmds = append(cmds, cmd)

	if !m.running {
		m.Input, cmd = m.Input.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}

	var b strings.Builder

	b.WriteString(m.header())
	b.WriteString("\n")

	b.WriteString(m.Viewport.View())
	b.WriteString("\n")

	b.WriteString(m.statusLine())
	b.WriteString("\n")

	b.WriteString(m.Input.View())

	return b.String()
}

func (m Model) handleWindowSize(msg tea.WindowSizeMsg) Model {
	headerHeight := 1
	inputH := 1
	statusHeight := 1
	borderHeight := 3 // newlines between sections
	vpHeight := msg.Height - headerHeight - inputH - statusHeight - borderHeight

	if vpHeight < 1 {
		vpHeight = 1
	}

	if !m.ready {
		m.Viewport = viewport.New(msg.Width, vpHeight)
		m.ready = true
		m = m.refresh()
		m.Viewport.GotoBottom()
	} else {
		m.Viewport.Width = msg.Width
		m.Viewport.Height = vpHeight
		m.Viewport.SetContent(m.renderContent())
	}

	m.Input.Width = msg.Width
	return m
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		if m.running {
			m.ctrl.Cancel()
			return m, nil
		}
		return m, tea.Quit

	case tea.KeyEnter:
		if m.running || m.checking || !m.ctrl.UploadStatus().AcceptsMessages() {
			return m, nil
		}
		text := m.Input.Value()
		if strings.TrimSpace(text) == "" {
			return m, nil
		}
		return m.submit(text)

	case tea.KeyPgUp:
		var cmd tea.Cmd
		if m.Viewport.AtTop() && m.hasMore && !m.loadingOlder {
			m.loadingOlder = true
			m.Viewport.SetContent(m.renderContent())
			cmd = fetchOlder(m.history, m.ctrl.Key())
		}
		var vpCmd tea.Cmd
		m.Viewport, vpCmd = m.Viewport.Update(msg)
		return m, tea.Batch(cmd, vpCmd)
	}

	// Character keys go to the input only; 'j'/'k' are viewport scroll
	// keys as well as text.
	var cmds []tea.Cmd
	var cmd tea.Cmd
	if msg.Type != tea.KeyRunes {
		m.Viewport, cmd = m.Viewport.Update(msg)
		cmds = append(cmds, cmd)
	}
	if !m.running {
		m.Input, cmd = m.Input.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func (m Model) submit(text string) (tea.Model, tea.Cmd) {
	m.Input.SetValue("")
	m.Input.Blur()
	m.notice = ""
	m.err = nil
	m.running = true
	m = m.refresh()
	return m, submitTurn(m.ctrl, text)
}

func (m Model) handleUploadStatus(msg UploadStatusMsg) (tea.Model, tea.Cmd) {
	if msg.Err != nil {
		m.notice = statusCheckNotice
		m = m.refresh()
		return m, tickStatus(m.pollInterval)
	}
	m.checking = false
	m.ctrl.SetUploadStatus(msg.Status)
	if m.notice == statusCheckNotice {
		m.notice = ""
		m = m.refresh()
	}
	if !msg.Status.Settled() {
		m.Input.Blur()
		return m, tickStatus(m.pollInterval)
	}
	cmd := m.focusInput()
	return m, cmd
}

func (m *Model) focusInput() tea.Cmd {
	if m.running || m.checking || !m.ctrl.UploadStatus().AcceptsMessages() {
		m.Input.Blur()
		return nil
	}
	return m.Input.Focus()
}

// refresh rebuilds the blocks from a fresh snapshot of the conversation.
func (m Model) refresh() Model {
	cache := m.history.Snapshot(m.ctrl.Key())
	m.hasMore = cache.HasMore()

	seen := make(map[string]bool)
	m.blocks = m.blocks[:0:0]
	for _, msg := range cache.Messages() {
		if msg.IsUserMessage {
			m.blocks = append(m.blocks, NewUserMessageBlock(sanitize(msg.Text), m.styles))
			continue
		}
		block, ok := m.answers[msg.ID]
		if !ok {
			block = NewAssistantTextBlock(m.theme, m.styles)
			m.answers[msg.ID] = block
		}
		block.SetText(sanitize(msg.Text))
		block.SetPending(msg.IsPlaceholder())
		seen[msg.ID] = true
		m.blocks = append(m.blocks, block)
	}
	for id := range m.answers {
		if !seen[id] {
			delete(m.answers, id)
		}
	}
	if m.notice != "" {
		m.blocks = append(m.blocks, NewNoticeBlock(m.notice, m.styles))
	}

	if !m.ready {
		return m
	}
	follow := m.running || m.Viewport.AtBottom()
	m.Viewport.SetContent(m.renderContent())
	if follow {
		m.Viewport.GotoBottom()
	}
	return m
}

func (m Model) renderContent() string {
	var b strings.Builder
	switch {
	case m.loadingOlder:
		b.WriteString(m.styles.Muted.Render("Loading older messages..."))
		b.WriteString("\n\n")
	case m.hasMore:
		b.WriteString(m.styles.Muted.Render("PgUp for older messages"))
		b.WriteString("\n\n")
	}
	if len(m.blocks) == 0 {
		b.WriteString(m.styles.Muted.Render("You're all set! Ask your first question about this document."))
		return b.String()
	}
	for i, block := range m.blocks {
		if i > 0 {
			b.WriteString(blockSeparator(m.blocks[i-1], block))
		}
		b.WriteString(block.View(m.Viewport.Width))
	}
	return b.String()
}

func (m Model) header() string {
	return m.styles.Accent.Render(runewidth.Truncate(m.title, m.Viewport.Width, "…"))
}

func (m Model) statusLine() string {
	if m.checking {
		return m.styles.Muted.Render("Checking document...")
	}
	switch status := m.ctrl.UploadStatus(); {
	case status == docchat.UploadFailed:
		return m.styles.Error.Render("This PDF could not be processed.")
	case !status.AcceptsMessages():
		return m.styles.Muted.Render("Processing PDF...")
	}
	if m.running {
		if m.ctrl.Phase() == docchat.TurnSubmitting {
			return m.styles.Muted.Render("Sending... (Ctrl+C to stop)")
		}
		return m.styles.Muted.Render("Generating... (Ctrl+C to stop)")
	}
	return m.styles.Muted.Render("Enter to send, PgUp for history, Ctrl+C to quit")
}

// noticeFor returns the text shown for a failed turn.
func noticeFor(err error) string {
	switch {
	case errors.Is(err, docchat.ErrValidation):
		return "Cannot send: " + err.Error()
	case errors.Is(err, docchat.ErrDocumentNotReady):
		return "The document is still processing."
	default:
		return docchat.UserMessage(err)
	}
}

type statusTickMsg struct{}

func tickStatus(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg { return statusTickMsg{} })
}

func (m Model) pollStatus() tea.Cmd {
	sc, fileID := m.status, m.ctrl.Key().FileID
	if sc == nil {
		return nil
	}
	return func() tea.Msg {
		s, err := sc.UploadStatus(context.Background(), fileID)
		return UploadStatusMsg{Status: s, Err: err}
	}
}

// submitTurn runs the turn in a goroutine and signals completion. Cache
// mutations made during the turn reach the view through the change feed.
func submitTurn(ctrl *docchat.Controller, text string) tea.Cmd {
	return func() tea.Msg {
		return TurnDoneMsg{Err: ctrl.SubmitText(context.Background(), text)}
	}
}

func fetchOlder(h History, key docchat.CacheKey) tea.Cmd {
	return func() tea.Msg {
		return OlderPageMsg{Err: h.FetchNextPage(context.Background(), key)}
	}
}
