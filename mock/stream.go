package mock

import (
	"io"

	"github.com/fwojciec/docchat"
)

// Interface compliance check.
var _ docchat.Stream = (*Stream)(nil)

// Stream is a test double for docchat.Stream.
// NextFn panics when nil to catch missing setup. CloseFn is nil-safe because
// callers commonly defer stream.Close() and it rarely needs custom behavior.
type Stream struct {
	NextFn  func() (docchat.Event, error)
	CloseFn func() error
}

// Next delegates to NextFn.
func (s *Stream) Next() (docchat.Event, error) {
	return s.NextFn()
}

// Close delegates to CloseFn. Returns nil when CloseFn is not set.
func (s *Stream) Close() error {
	if s.CloseFn == nil {
		return nil
	}
	return s.CloseFn()
}

// Events returns a Stream that yields events in order and then err, or
// io.EOF when err is nil.
func Events(err error, events ...docchat.Event) *Stream {
	if err == nil {
		err = io.EOF
	}
	i := 0
	return &Stream{
		NextFn: func() (docchat.Event, error) {
			if i < len(events) {
				i++
				return events[i-1], nil
			}
			return nil, err
		},
	}
}
