package docchat

// Accumulator folds text events into the in-progress answer.
// The zero value is an empty answer ready for use.
type Accumulator struct {
	text string
}

// Apply folds evt into the answer and returns the new value. The boolean
// is false for events that carry no text, in which case the answer is
// unchanged.
func (a *Accumulator) Apply(evt Event) (string, bool) {
	switch e := evt.(type) {
	case EventTextDelta:
		a.text += e.Delta
	case EventText:
		a.text = e.Text
	default:
		return a.text, false
	}
	return a.text, true
}

// String returns the answer accumulated so far.
func (a *Accumulator) String() string { return a.text }
