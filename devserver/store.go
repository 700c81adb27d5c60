package devserver

import (
	"errors"
	"strings"
	"time"

	"github.com/fwojciec/docchat"
)

var (
	errFileNotFound  = errors.New("file not found")
	errUnknownCursor = errors.New("unknown cursor")
)

type file struct {
	docchat.File
	status    docchat.UploadStatus
	pollsLeft int
	asked     int
	// messages are newest first, the order pages are served in.
	messages []docchat.Message
}

// AddFile registers a document with the given upload status and returns it.
func (s *Server) AddFile(name string, status docchat.UploadStatus) docchat.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := &file{
		File:      docchat.File{ID: s.newID(), Name: name, CreatedAt: s.now()},
		status:    status,
		pollsLeft: s.processingPolls,
	}
	s.files[f.ID] = f
	s.order = append(s.order, f.ID)
	return f.File
}

// AddMessages appends msgs, given oldest first, to the history of fileID.
func (s *Server) AddMessages(fileID string, msgs ...docchat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[fileID]
	if !ok {
		return errFileNotFound
	}
	for _, m := range msgs {
		f.prepend(m)
	}
	return nil
}

// Messages returns the history of fileID, newest first.
func (s *Server) Messages(fileID string) []docchat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[fileID]
	if !ok {
		return nil
	}
	return append([]docchat.Message(nil), f.messages...)
}

func (f *file) prepend(m docchat.Message) {
	f.messages = append([]docchat.Message{m}, f.messages...)
	f.MessageCount = len(f.messages)
}

func (s *Server) listFiles() []docchat.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]docchat.File, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, s.files[s.order[i]].File)
	}
	return out
}

// pollStatus reports the status of fileID, counting down the simulated
// processing phase.
func (s *Server) pollStatus(fileID string) (docchat.UploadStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[fileID]
	if !ok {
		return "", errFileNotFound
	}
	if f.pollsLeft > 0 {
		f.pollsLeft--
		return docchat.UploadProcessing, nil
	}
	return f.status, nil
}

// page returns up to limit messages starting at cursor, a message id, and
// the cursor of the following page.
func (s *Server) page(fileID, cursor string, limit int) ([]docchat.Message, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[fileID]
	if !ok {
		return nil, "", errFileNotFound
	}
	start := 0
	if cursor != "" {
		start = -1
		for i, m := range f.messages {
			if m.ID == cursor {
				start = i
				break
			}
		}
		if start < 0 {
			return nil, "", errUnknownCursor
		}
	}
	// Take one extra to learn whether another page follows.
	end := min(start+limit+1, len(f.messages))
	msgs := append([]docchat.Message(nil), f.messages[start:end]...)
	next := ""
	if len(msgs) > limit {
		next = msgs[limit].ID
		msgs = msgs[:limit]
	}
	return msgs, next, nil
}

// ask records a question, enforcing the status gate and the quota.
func (s *Server) ask(fileID, question string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[fileID]
	if !ok {
		return errFileNotFound
	}
	if !f.status.AcceptsMessages() || f.pollsLeft > 0 {
		return docchat.ErrDocumentNotReady
	}
	if s.quota > 0 && f.asked >= s.quota {
		return &docchat.QuotaError{Message: DefaultQuotaMessage, ResetAt: nextMonth(s.now())}
	}
	f.asked++
	f.prepend(docchat.Message{ID: s.newID(), Text: question, IsUserMessage: true, CreatedAt: s.now()})
	return nil
}

// answered stores a completed answer.
func (s *Server) answered(fileID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.files[fileID]; ok {
		f.prepend(docchat.Message{ID: s.newID(), Text: text, CreatedAt: s.now()})
	}
}

func (s *Server) loremAnswer(string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	paragraphs := []string{s.lorem.Paragraph(2, 4), s.lorem.Paragraph(1, 3)}
	return strings.Join(paragraphs, "\n\n")
}

func nextMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}
