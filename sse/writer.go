package sse

import (
	"encoding/json"
	"fmt"
	"io"
)

// Writer encodes events as data frames. Each frame is flushed when the
// underlying writer supports it, as an http.ResponseWriter does.
type Writer struct {
	w io.Writer
}

// NewWriter returns a Writer encoding frames to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// TextDelta writes a text-delta frame.
func (w *Writer) TextDelta(delta string) error {
	return w.frame(frame{Type: "text-delta", Delta: delta})
}

// Text writes a text frame carrying the complete answer so far.
func (w *Writer) Text(text string) error {
	return w.frame(frame{Type: "text", Text: text})
}

// Error writes an error frame.
func (w *Writer) Error(message string) error {
	return w.frame(frame{Type: "error", Message: message})
}

// Finish writes a finish frame.
func (w *Writer) Finish() error {
	return w.frame(frame{Type: "finish"})
}

// Done writes the terminal token.
func (w *Writer) Done() error {
	return w.Raw(doneToken)
}

// Raw writes payload as a data frame without encoding it.
func (w *Writer) Raw(payload string) error {
	if _, err := fmt.Fprintf(w.w, "%s %s\n\n", dataPrefix, payload); err != nil {
		return fmt.Errorf("sse: write frame: %w", err)
	}
	if f, ok := w.w.(interface{ Flush() }); ok {
		f.Flush()
	}
	return nil
}

func (w *Writer) frame(f frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("sse: %w", err)
	}
	return w.Raw(string(b))
}
