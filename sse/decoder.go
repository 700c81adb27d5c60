// Package sse decodes the answer event stream: newline-delimited
// "data: <json>" frames terminated by "data: [DONE]".
package sse

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/fwojciec/docchat"
	"github.com/rs/zerolog"
)

const (
	dataPrefix = "data:"
	doneToken  = "[DONE]"
)

// Skip reasons passed to the skip handler.
const (
	SkipMalformed   = "malformed"
	SkipUnknownType = "unknown_type"
)

// frame is the JSON payload of one data frame.
type frame struct {
	Type    string `json:"type"`
	Delta   string `json:"delta,omitempty"`
	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"`
}

// Decoder turns byte chunks into events. Frames may be split across chunks
// at any byte, including inside a multi-byte character. A Decoder is not
// safe for concurrent use.
type Decoder struct {
	buf    []byte
	done   bool
	logger zerolog.Logger
	onSkip func(reason string)
}

// Option configures a Decoder or Stream.
type Option func(*Decoder)

// WithLogger sets the logger used to report skipped frames.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Decoder) { d.logger = l }
}

// WithSkipHandler sets a callback invoked with SkipMalformed or
// SkipUnknownType for every frame that is dropped.
func WithSkipHandler(fn func(reason string)) Option {
	return func(d *Decoder) { d.onSkip = fn }
}

// NewDecoder creates a Decoder.
func NewDecoder(opts ...Option) *Decoder {
	d := &Decoder{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Feed appends chunk to the buffer and returns the events decoded from the
// frames it completes, in arrival order. After the terminal token has been
// seen, Feed returns nil.
func (d *Decoder) Feed(chunk []byte) []docchat.Event {
	if d.done {
		return nil
	}
	d.buf = append(d.buf, chunk...)

	var events []docchat.Event
	for !d.done {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := string(d.buf[:i])
		d.buf = d.buf[i+1:]
		if evt, ok := d.decodeLine(line); ok {
			events = append(events, evt)
		}
	}
	if d.done {
		d.buf = nil
	} else if len(d.buf) == 0 {
		// Release the consumed backing array.
		d.buf = nil
	}
	return events
}

// Done reports whether the terminal token has been decoded.
func (d *Decoder) Done() bool { return d.done }

// Close discards any incomplete trailing frame. It is not decoded.
func (d *Decoder) Close() {
	if len(d.buf) > 0 {
		d.logger.Debug().Int("bytes", len(d.buf)).Msg("discarding incomplete trailing frame")
	}
	d.buf = nil
}

func (d *Decoder) decodeLine(line string) (docchat.Event, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, dataPrefix) {
		return nil, false
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
	if payload == "" {
		return nil, false
	}
	if payload == doneToken {
		d.done = true
		return docchat.EventDone{}, true
	}

	var f frame
	if err := json.Unmarshal([]byte(payload), &f); err != nil {
		d.logger.Warn().Err(err).Str("payload", truncate(payload, 120)).Msg("skipping malformed frame")
		d.skip(SkipMalformed)
		return nil, false
	}

	switch f.Type {
	case "text-delta":
		return docchat.EventTextDelta{Delta: f.Delta}, true
	case "text":
		return docchat.EventText{Text: f.Text}, true
	case "error":
		return docchat.EventError{Message: f.Message}, true
	case "finish":
		return docchat.EventFinish{}, true
	default:
		d.logger.Debug().Str("type", f.Type).Msg("skipping frame of unknown type")
		d.skip(SkipUnknownType)
		return nil, false
	}
}

func (d *Decoder) skip(reason string) {
	if d.onSkip != nil {
		d.onSkip(reason)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
