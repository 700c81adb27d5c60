package sse

import (
	"errors"
	"fmt"
	"io"

	"github.com/fwojciec/docchat"
)

const readSize = 4 << 10

// Interface compliance check.
var _ docchat.Stream = (*Stream)(nil)

// Stream implements [docchat.Stream] by decoding an HTTP response body.
type Stream struct {
	body    io.ReadCloser
	dec     *Decoder
	buf     []byte
	pending []docchat.Event
	err     error // sticky; io.EOF once the stream has ended
}

// NewStream returns a Stream reading frames from body. The Stream owns body
// and closes it on Close.
func NewStream(body io.ReadCloser, opts ...Option) *Stream {
	return &Stream{
		body: body,
		dec:  NewDecoder(opts...),
		buf:  make([]byte, readSize),
	}
}

// Next returns the next event. It returns io.EOF after a terminal event or
// when the body ends, and a wrapped error if reading the body fails.
func (s *Stream) Next() (docchat.Event, error) {
	for {
		if len(s.pending) > 0 {
			evt := s.pending[0]
			s.pending = s.pending[1:]
			if docchat.IsTerminal(evt) {
				s.pending = nil
				s.end(io.EOF)
			}
			return evt, nil
		}
		if s.err != nil {
			return nil, s.err
		}

		n, err := s.body.Read(s.buf)
		if n > 0 {
			s.pending = s.dec.Feed(s.buf[:n])
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			s.end(io.EOF)
		default:
			s.end(fmt.Errorf("sse: read body: %w", err))
		}
	}
}

// Close closes the underlying body.
func (s *Stream) Close() error {
	s.pending = nil
	if s.err == nil {
		s.end(io.EOF)
	}
	return s.body.Close()
}

// end records the sticky error. Events already decoded are still delivered.
func (s *Stream) end(err error) {
	s.err = err
	s.dec.Close()
}
