package docchat

// Stream uses a pull-based iterator pattern over a decoded answer stream.
// Cancellation flows through the context passed to Sender.Send.
//
// Next returns events in arrival order. After a terminal event (EventError,
// EventFinish, EventDone) or when the body ends without one, Next returns
// io.EOF. Any other error is a transport failure.
type Stream interface {
	Next() (Event, error)
	Close() error
}
