package docchat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TurnPhase is the state of the turn state machine.
type TurnPhase int

const (
	TurnIdle       TurnPhase = iota // No turn; submissions accepted.
	TurnSubmitting                  // Optimistic insert done, awaiting response.
	TurnStreaming                   // Reading answer events.
	TurnSettling                    // Reconciling the cache with the server.
)

func (p TurnPhase) String() string {
	switch p {
	case TurnIdle:
		return "idle"
	case TurnSubmitting:
		return "submitting"
	case TurnStreaming:
		return "streaming"
	case TurnSettling:
		return "settling"
	default:
		return fmt.Sprintf("TurnPhase(%d)", int(p))
	}
}

// Observer receives turn lifecycle notifications, typically for metrics.
type Observer interface {
	TurnStarted(key CacheKey)
	TurnSettled(key CacheKey, outcome TurnOutcome, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) TurnStarted(CacheKey)                             {}
func (nopObserver) TurnSettled(CacheKey, TurnOutcome, time.Duration) {}

// Controller runs conversational turns for one conversation. It owns the
// input buffer and the turn state machine; the cache is written only
// through the MessageStore primitives.
type Controller struct {
	key    CacheKey
	store  MessageStore
	sender Sender

	policy            ReconciliationPolicy
	logger            zerolog.Logger
	observer          Observer
	notify            func(error)
	newID             func() string
	now               func() time.Time
	maxStreamDuration time.Duration
	maxMessageLength  int

	// gen identifies the current turn. Mutations from a turn whose
	// generation is no longer current are dropped.
	gen atomic.Uint64
	// mutMu makes the generation check and the store call in mutate
	// atomic with respect to Abandon.
	mutMu sync.Mutex

	mu     sync.Mutex
	phase  TurnPhase
	input  string
	status UploadStatus
	cancel context.CancelFunc
	// stopSettle cancels the turn's reconciliation. Only Abandon calls it.
	stopSettle context.CancelFunc
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. The default discards output.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithObserver sets the turn lifecycle observer.
func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observer = o }
}

// WithNotifier sets the callback that surfaces a failed turn to the user.
// It is not called for turns the user cancelled.
func WithNotifier(fn func(error)) Option {
	return func(c *Controller) { c.notify = fn }
}

// WithReconciliationPolicy replaces the default InvalidatePolicy.
func WithReconciliationPolicy(p ReconciliationPolicy) Option {
	return func(c *Controller) { c.policy = p }
}

// WithMaxStreamDuration bounds how long a turn may wait for its answer.
// Zero means no limit.
func WithMaxStreamDuration(d time.Duration) Option {
	return func(c *Controller) { c.maxStreamDuration = d }
}

// WithMaxMessageLength sets the message length limit in user-perceived
// characters. Zero disables the limit.
func WithMaxMessageLength(n int) Option {
	return func(c *Controller) { c.maxMessageLength = n }
}

// WithIDGenerator sets the generator for optimistic message ids.
func WithIDGenerator(fn func() string) Option {
	return func(c *Controller) { c.newID = fn }
}

// WithClock sets the time source for optimistic message timestamps.
func WithClock(fn func() time.Time) Option {
	return func(c *Controller) { c.now = fn }
}

// NewController creates a Controller for the conversation at key.
func NewController(key CacheKey, store MessageStore, sender Sender, opts ...Option) *Controller {
	c := &Controller{
		key:              key,
		store:            store,
		sender:           sender,
		policy:           InvalidatePolicy{},
		logger:           zerolog.Nop(),
		observer:         nopObserver{},
		newID:            uuid.NewString,
		now:              time.Now,
		maxMessageLength: DefaultMaxMessageLength,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key returns the cache key of the conversation.
func (c *Controller) Key() CacheKey { return c.key }

// Phase returns the current turn phase.
func (c *Controller) Phase() TurnPhase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Input returns the input buffer.
func (c *Controller) Input() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.input
}

// SetInput replaces the input buffer.
func (c *Controller) SetInput(s string) {
	c.mu.Lock()
	c.input = s
	c.mu.Unlock()
}

// SetUploadStatus records the document's processing status. Submission is
// refused while the document is processing or failed.
func (c *Controller) SetUploadStatus(s UploadStatus) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// UploadStatus returns the last recorded upload status.
func (c *Controller) UploadStatus() UploadStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// CanSubmit reports whether Submit would start a turn with a non-blank input.
func (c *Controller) CanSubmit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase == TurnIdle && c.status.AcceptsMessages()
}

// SubmitText sets the input buffer to text and submits it.
func (c *Controller) SubmitText(ctx context.Context, text string) error {
	c.mu.Lock()
	if c.phase != TurnIdle {
		c.mu.Unlock()
		return ErrTurnInProgress
	}
	c.input = text
	c.mu.Unlock()
	return c.Submit(ctx)
}

// Cancel stops the in-flight turn. The turn takes the error path: the
// cache is rolled back and the input restored, without a user notice.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

// Abandon discards the in-flight turn, for example when the user leaves
// the conversation. The abandoned turn makes no further cache mutations
// and the controller returns to idle immediately.
func (c *Controller) Abandon() {
	c.mutMu.Lock()
	defer c.mutMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen.Add(1)
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.stopSettle != nil {
		c.stopSettle()
		c.stopSettle = nil
	}
	c.phase = TurnIdle
}

// turn is the ephemeral state of one submission.
type turn struct {
	gen      uint64
	text     string
	snapshot *PaginatedCache
	started  time.Time
}

// Submit runs one turn with the input buffer as the message. It blocks
// until the turn settles and returns the error that aborted it, or nil.
// It returns ErrTurnInProgress while another turn is active.
func (c *Controller) Submit(ctx context.Context) error {
	c.mu.Lock()
	if c.phase != TurnIdle {
		c.mu.Unlock()
		return ErrTurnInProgress
	}
	if !c.status.AcceptsMessages() {
		status := c.status
		c.mu.Unlock()
		return fmt.Errorf("upload status %s: %w", status, ErrDocumentNotReady)
	}
	text := c.input
	if err := ValidateMessage(text, c.maxMessageLength); err != nil {
		c.mu.Unlock()
		return err
	}
	t := &turn{
		gen:     c.gen.Add(1),
		text:    text,
		started: c.now(),
	}
	settleCtx, stopSettle := context.WithCancel(context.WithoutCancel(ctx))
	defer stopSettle()
	var cancel context.CancelFunc
	if c.maxStreamDuration > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.maxStreamDuration)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	c.cancel = cancel
	c.stopSettle = stopSettle
	c.phase = TurnSubmitting
	c.input = ""
	c.mu.Unlock()

	c.observer.TurnStarted(c.key)
	c.logger.Debug().Str("file_id", c.key.FileID).Uint64("turn", t.gen).Msg("turn started")

	message := strings.TrimSpace(text)
	c.mutate(t, func() {
		// Snapshot before the optimistic insert; the snapshot is never
		// mutated. A placeholder left by an abandoned turn is dropped so
		// this turn's answer lands above its own question.
		t.snapshot = c.store.Snapshot(c.key)
		if cleaned, ok := withoutPlaceholder(t.snapshot); ok {
			c.store.Restore(c.key, cleaned)
			t.snapshot = cleaned
		}
		c.store.PrependUserMessage(c.key, Message{
			ID:            c.newID(),
			Text:          message,
			IsUserMessage: true,
			CreatedAt:     c.now(),
		})
	})

	stream, err := c.sender.Send(ctx, SendRequest{FileID: c.key.FileID, Message: message})
	if err != nil {
		return c.fail(ctx, settleCtx, t, err)
	}
	defer stream.Close()

	if !c.setPhase(t, TurnStreaming) {
		return context.Canceled
	}

	var acc Accumulator
	for {
		evt, err := stream.Next()
		if err == io.EOF {
			// A body that ends without a terminal event is a success.
			break
		}
		if err != nil {
			return c.fail(ctx, settleCtx, t, err)
		}
		if e, ok := evt.(EventError); ok {
			return c.fail(ctx, settleCtx, t, producerError(e))
		}
		if answer, ok := acc.Apply(evt); ok {
			c.mutate(t, func() { c.store.UpsertAssistantPlaceholder(c.key, answer) })
		}
		if IsTerminal(evt) {
			break
		}
	}

	c.settle(settleCtx, t, OutcomeSuccess)
	return nil
}

// fail runs the error path: restore the input and the pre-turn cache,
// notify the user, then settle.
func (c *Controller) fail(ctx, settleCtx context.Context, t *turn, err error) error {
	err = turnError(ctx, err)
	if !c.isCurrent(t) {
		return err
	}

	c.mu.Lock()
	c.input = t.text
	c.mu.Unlock()
	c.mutate(t, func() { c.store.Restore(c.key, t.snapshot) })

	outcome := Classify(err)
	c.logger.Warn().Err(err).Str("file_id", c.key.FileID).Str("outcome", string(outcome)).Msg("turn failed")
	if outcome != OutcomeCanceled && c.notify != nil {
		c.notify(err)
	}

	c.settle(settleCtx, t, outcome)
	return err
}

// settle reconciles the cache with the server and returns to idle.
func (c *Controller) settle(ctx context.Context, t *turn, outcome TurnOutcome) {
	if !c.setPhase(t, TurnSettling) {
		return
	}
	if err := c.policy.Reconcile(ctx, c.store, c.key, outcome); err != nil {
		c.logger.Warn().Err(err).Str("file_id", c.key.FileID).Msg("reconcile failed")
	}
	if !c.isCurrent(t) {
		return
	}

	elapsed := c.now().Sub(t.started)
	c.observer.TurnSettled(c.key, outcome, elapsed)
	c.logger.Debug().Str("file_id", c.key.FileID).Uint64("turn", t.gen).
		Str("outcome", string(outcome)).Dur("elapsed", elapsed).Msg("turn settled")

	c.mu.Lock()
	if c.gen.Load() == t.gen {
		c.phase = TurnIdle
		c.cancel = nil
		c.stopSettle = nil
	}
	c.mu.Unlock()
}

// setPhase moves t to phase. It returns false if t has been abandoned.
func (c *Controller) setPhase(t *turn, phase TurnPhase) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen.Load() != t.gen {
		return false
	}
	c.phase = phase
	return true
}

func (c *Controller) isCurrent(t *turn) bool {
	return c.gen.Load() == t.gen
}

// mutate applies fn to the store only while t is the current turn.
func (c *Controller) mutate(t *turn, fn func()) {
	c.mutMu.Lock()
	defer c.mutMu.Unlock()
	if !c.isCurrent(t) {
		c.logger.Debug().Uint64("turn", t.gen).Msg("dropping mutation from abandoned turn")
		return
	}
	fn()
}

// withoutPlaceholder returns a copy of cache without placeholder messages.
// It reports false when cache holds none.
func withoutPlaceholder(cache *PaginatedCache) (*PaginatedCache, bool) {
	if cache == nil {
		return nil, false
	}
	found := false
	out := cache.Clone()
	for i, p := range out.Pages {
		msgs := p.Messages[:0]
		for _, m := range p.Messages {
			if m.IsPlaceholder() {
				found = true
				continue
			}
			msgs = append(msgs, m)
		}
		out.Pages[i].Messages = msgs
	}
	return out, found
}

// turnError attributes err to the turn's context when that context ended,
// since transports report cancellation inconsistently.
func turnError(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrStreamTimeout, err)
	case errors.Is(ctx.Err(), context.Canceled) && !errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w", context.Canceled, err)
	default:
		return err
	}
}

func producerError(e EventError) error {
	if e.Message == "" {
		return ErrProducer
	}
	return fmt.Errorf("%w: %s", ErrProducer, e.Message)
}
