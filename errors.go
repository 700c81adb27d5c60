package docchat

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure modes.
var (
	// ErrValidation indicates a message failed validation.
	ErrValidation = errors.New("validation error")

	// ErrTurnInProgress indicates a submission while another turn is active.
	ErrTurnInProgress = errors.New("a message is already being answered")

	// ErrDocumentNotReady indicates the document is still processing or
	// failed to process.
	ErrDocumentNotReady = errors.New("document is not ready")

	// ErrStreamTimeout indicates the answer stream exceeded its maximum duration.
	ErrStreamTimeout = errors.New("answer stream timed out")

	// ErrProducer indicates the server emitted an error event mid-stream.
	ErrProducer = errors.New("server failed to generate an answer")
)

// QuotaError is returned when the server refuses a message because the
// user's message quota is exhausted.
type QuotaError struct {
	Message string
	ResetAt time.Time // zero when the server did not say
}

func (e *QuotaError) Error() string {
	if e.Message != "" {
		return "quota exceeded: " + e.Message
	}
	return "quota exceeded"
}

// UserMessage returns the notice shown to the user, naming the date more
// messages become available when known.
func (e *QuotaError) UserMessage() string {
	if !e.ResetAt.IsZero() {
		return fmt.Sprintf("You've reached your message limit. You can send more messages on %s.", e.ResetAt.Format("Jan 2, 2006"))
	}
	if e.Message != "" {
		return e.Message
	}
	return "You've reached your message limit."
}

// HTTPError is a non-success response other than a quota refusal.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// TurnOutcome classifies how a turn ended.
type TurnOutcome string

const (
	OutcomeSuccess   TurnOutcome = "success"
	OutcomeQuota     TurnOutcome = "quota"
	OutcomeTransport TurnOutcome = "transport"
	OutcomeProducer  TurnOutcome = "producer"
	OutcomeTimeout   TurnOutcome = "timeout"
	OutcomeCanceled  TurnOutcome = "canceled"
)

// Classify maps the error a turn ended with to its outcome.
func Classify(err error) TurnOutcome {
	var qe *QuotaError
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.As(err, &qe):
		return OutcomeQuota
	case errors.Is(err, ErrStreamTimeout):
		return OutcomeTimeout
	case errors.Is(err, ErrProducer):
		return OutcomeProducer
	case errors.Is(err, context.Canceled):
		return OutcomeCanceled
	default:
		return OutcomeTransport
	}
}

// UserMessage returns the failure notice for err as shown to the user.
func UserMessage(err error) string {
	var qe *QuotaError
	if errors.As(err, &qe) {
		return qe.UserMessage()
	}
	switch Classify(err) {
	case OutcomeTimeout:
		return "The answer took too long. Please try again."
	case OutcomeProducer:
		return "The assistant could not answer. Please try again."
	default:
		return "Error sending question! Please try again or refresh the page."
	}
}
