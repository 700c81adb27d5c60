package docchat

// Event is a sealed interface representing one decoded stream event.
// Transport errors come from Stream.Next's error return, not from events.
// The unexported marker method prevents external implementations.
type Event interface {
	event()
}

// EventTextDelta is an incremental fragment appended to the running answer.
type EventTextDelta struct {
	Delta string
}

func (EventTextDelta) event() {}

// EventText replaces the running answer with the complete-so-far text.
type EventText struct {
	Text string
}

func (EventText) event() {}

// EventError signals that the producer failed. Terminal.
type EventError struct {
	Message string
}

func (EventError) event() {}

// EventFinish signals successful completion. Terminal.
type EventFinish struct{}

func (EventFinish) event() {}

// EventDone is the explicit end-of-stream marker. Terminal.
type EventDone struct{}

func (EventDone) event() {}

// IsTerminal reports whether evt ends the stream.
func IsTerminal(evt Event) bool {
	switch evt.(type) {
	case EventError, EventFinish, EventDone:
		return true
	default:
		return false
	}
}

// Interface compliance checks.
var (
	_ Event = EventTextDelta{}
	_ Event = EventText{}
	_ Event = EventError{}
	_ Event = EventFinish{}
	_ Event = EventDone{}
)
