package docchat_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fwojciec/docchat"
	"github.com/fwojciec/docchat/memory"
	"github.com/fwojciec/docchat/mock"
	"github.com/fwojciec/docchat/sse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testKey  = docchat.NewCacheKey("file-1", 10)
	testTime = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
)

// policySpy records reconciliation calls. It runs the default policy.
type policySpy struct {
	mu       sync.Mutex
	outcomes []docchat.TurnOutcome
	phases   []docchat.TurnPhase
	ctrl     *docchat.Controller
	err      error
}

func (p *policySpy) Reconcile(ctx context.Context, store docchat.MessageStore, key docchat.CacheKey, outcome docchat.TurnOutcome) error {
	p.mu.Lock()
	p.outcomes = append(p.outcomes, outcome)
	if p.ctrl != nil {
		p.phases = append(p.phases, p.ctrl.Phase())
	}
	p.mu.Unlock()
	if err := (docchat.InvalidatePolicy{}).Reconcile(ctx, store, key, outcome); err != nil {
		return err
	}
	return p.err
}

func (p *policySpy) Outcomes() []docchat.TurnOutcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]docchat.TurnOutcome(nil), p.outcomes...)
}

// observerSpy records lifecycle notifications.
type observerSpy struct {
	mu       sync.Mutex
	started  int
	outcomes []docchat.TurnOutcome
}

func (o *observerSpy) TurnStarted(docchat.CacheKey) {
	o.mu.Lock()
	o.started++
	o.mu.Unlock()
}

func (o *observerSpy) TurnSettled(_ docchat.CacheKey, outcome docchat.TurnOutcome, _ time.Duration) {
	o.mu.Lock()
	o.outcomes = append(o.outcomes, outcome)
	o.mu.Unlock()
}

type fixture struct {
	store    *memory.Store
	policy   *policySpy
	observer *observerSpy
	notices  []error
	ctrl     *docchat.Controller
	// maxPlaceholders is the most placeholders any intermediate cache held.
	maxPlaceholders int
	// sawPlaceholder reports whether any intermediate cache held one.
	sawPlaceholder bool
}

func newFixture(t *testing.T, sender docchat.Sender, opts ...docchat.Option) *fixture {
	t.Helper()
	f := &fixture{policy: &policySpy{}, observer: &observerSpy{}}
	var mu sync.Mutex
	f.store = memory.New(
		memory.WithClock(func() time.Time { return testTime }),
		memory.WithChangeHandler(func(key docchat.CacheKey) {
			n := placeholders(f.store.Snapshot(key))
			mu.Lock()
			defer mu.Unlock()
			if n > f.maxPlaceholders {
				f.maxPlaceholders = n
			}
			if n > 0 {
				f.sawPlaceholder = true
			}
		}),
	)
	base := []docchat.Option{
		docchat.WithReconciliationPolicy(f.policy),
		docchat.WithObserver(f.observer),
		docchat.WithNotifier(func(err error) { f.notices = append(f.notices, err) }),
		docchat.WithIDGenerator(func() string { return "local-1" }),
		docchat.WithClock(func() time.Time { return testTime }),
	}
	f.ctrl = docchat.NewController(testKey, f.store, sender, append(base, opts...)...)
	f.policy.ctrl = f.ctrl
	return f
}

func placeholders(c *docchat.PaginatedCache) int {
	n := 0
	if c == nil {
		return 0
	}
	for _, p := range c.Pages {
		for _, m := range p.Messages {
			if m.IsPlaceholder() {
				n++
			}
		}
	}
	return n
}

func senderOf(stream docchat.Stream) *mock.Sender {
	return &mock.Sender{
		SendFn: func(context.Context, docchat.SendRequest) (docchat.Stream, error) {
			return stream, nil
		},
	}
}

func existingHistory() *docchat.PaginatedCache {
	return &docchat.PaginatedCache{
		Pages: []docchat.Page{
			{Messages: []docchat.Message{
				{ID: "m2", Text: "It is about cats.", CreatedAt: testTime},
				{ID: "m1", Text: "What is this about?", IsUserMessage: true, CreatedAt: testTime},
			}, NextCursor: "m0"},
			{Messages: []docchat.Message{{ID: "m0", Text: "hello", IsUserMessage: true, CreatedAt: testTime}}},
		},
		PageParams: []string{"", "m0"},
	}
}

func TestController_Submit_StreamsAnswer(t *testing.T) {
	t.Parallel()

	var gotReq docchat.SendRequest
	sender := &mock.Sender{
		SendFn: func(_ context.Context, req docchat.SendRequest) (docchat.Stream, error) {
			gotReq = req
			return mock.Events(nil,
				docchat.EventTextDelta{Delta: "Hello"},
				docchat.EventFinish{},
			), nil
		},
	}
	f := newFixture(t, sender)

	err := f.ctrl.SubmitText(context.Background(), "hi")

	require.NoError(t, err)
	assert.Equal(t, docchat.SendRequest{FileID: "file-1", Message: "hi"}, gotReq)
	snap := f.store.Snapshot(testKey)
	require.NotNil(t, snap)
	require.Len(t, snap.Pages, 1)
	assert.Equal(t, []docchat.Message{
		{ID: docchat.SentinelID, Text: "Hello", CreatedAt: testTime},
		{ID: "local-1", Text: "hi", IsUserMessage: true, CreatedAt: testTime},
	}, snap.Pages[0].Messages)
	assert.Equal(t, []docchat.TurnOutcome{docchat.OutcomeSuccess}, f.policy.Outcomes())
	assert.True(t, f.store.Stale(testKey))
	assert.Equal(t, docchat.TurnIdle, f.ctrl.Phase())
	assert.Empty(t, f.ctrl.Input())
	assert.Empty(t, f.notices)
}

func TestController_Submit_DecodedWireStream(t *testing.T) {
	t.Parallel()

	body := "data: not-json\n\n" + `data: {"type":"text","text":"ok"}` + "\n\ndata: [DONE]\n\n"
	sender := &mock.Sender{
		SendFn: func(context.Context, docchat.SendRequest) (docchat.Stream, error) {
			return sse.NewStream(io.NopCloser(strings.NewReader(body))), nil
		},
	}
	f := newFixture(t, sender)

	require.NoError(t, f.ctrl.SubmitText(context.Background(), "hi"))

	page := f.store.Snapshot(testKey).Pages[0]
	assert.Equal(t, docchat.SentinelID, page.Messages[0].ID)
	assert.Equal(t, "ok", page.Messages[0].Text)
	assert.Equal(t, []docchat.TurnOutcome{docchat.OutcomeSuccess}, f.policy.Outcomes())
}

func TestController_Submit_QuotaRollsBack(t *testing.T) {
	t.Parallel()

	quota := &docchat.QuotaError{Message: "limit", ResetAt: time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)}
	sender := &mock.Sender{
		SendFn: func(context.Context, docchat.SendRequest) (docchat.Stream, error) {
			return nil, quota
		},
	}
	f := newFixture(t, sender)

	err := f.ctrl.SubmitText(context.Background(), "hi")

	assert.ErrorIs(t, err, quota)
	assert.Nil(t, f.store.Snapshot(testKey))
	assert.Equal(t, "hi", f.ctrl.Input())
	assert.False(t, f.sawPlaceholder)
	require.Len(t, f.notices, 1)
	assert.Contains(t, docchat.UserMessage(f.notices[0]), "Nov 1, 2026")
	assert.Equal(t, []docchat.TurnOutcome{docchat.OutcomeQuota}, f.policy.Outcomes())
	assert.Equal(t, docchat.TurnIdle, f.ctrl.Phase())
}

func TestController_Submit_StreamEndWithoutTerminal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, senderOf(mock.Events(nil,
		docchat.EventTextDelta{Delta: "Hel"},
		docchat.EventTextDelta{Delta: "lo"},
	)))

	err := f.ctrl.SubmitText(context.Background(), "hi")

	require.NoError(t, err)
	assert.Equal(t, "Hello", f.store.Snapshot(testKey).Pages[0].Messages[0].Text)
	assert.Equal(t, []docchat.TurnOutcome{docchat.OutcomeSuccess}, f.policy.Outcomes())
	assert.Empty(t, f.notices)
}

func TestController_Submit_SinglePlaceholder(t *testing.T) {
	t.Parallel()

	events := []docchat.Event{
		docchat.EventTextDelta{Delta: "a"},
		docchat.EventTextDelta{Delta: ""},
		docchat.EventText{Text: "replaced"},
		docchat.EventTextDelta{Delta: " more"},
		docchat.EventText{Text: "replaced more"},
		docchat.EventTextDelta{Delta: "!"},
		docchat.EventDone{},
	}
	f := newFixture(t, senderOf(mock.Events(nil, events...)))
	f.store.Put(testKey, existingHistory())

	require.NoError(t, f.ctrl.SubmitText(context.Background(), "and dogs?"))

	assert.Equal(t, 1, f.maxPlaceholders)
	snap := f.store.Snapshot(testKey)
	assert.Equal(t, 1, placeholders(snap))
	assert.Equal(t, "replaced more!", snap.Pages[0].Messages[0].Text)
	// Older pages are untouched.
	assert.Equal(t, existingHistory().Pages[1], snap.Pages[1])
	assert.Equal(t, existingHistory().Pages[0].Messages, snap.Pages[0].Messages[2:])
}

func TestController_Submit_TransportErrorRollsBack(t *testing.T) {
	t.Parallel()

	reset := errors.New("connection reset")
	f := newFixture(t, senderOf(mock.Events(reset,
		docchat.EventTextDelta{Delta: "par"},
		docchat.EventTextDelta{Delta: "tial"},
	)))
	f.store.Put(testKey, existingHistory())
	before := f.store.Snapshot(testKey)

	err := f.ctrl.SubmitText(context.Background(), "and dogs?")

	assert.ErrorIs(t, err, reset)
	assert.True(t, f.sawPlaceholder)
	after := f.store.Snapshot(testKey)
	assert.Equal(t, before, after)
	assert.Zero(t, placeholders(after))
	assert.Equal(t, "and dogs?", f.ctrl.Input())
	require.Len(t, f.notices, 1)
	assert.Equal(t, "Error sending question! Please try again or refresh the page.", docchat.UserMessage(f.notices[0]))
	assert.Equal(t, []docchat.TurnOutcome{docchat.OutcomeTransport}, f.policy.Outcomes())
}

func TestController_Submit_ProducerErrorRollsBack(t *testing.T) {
	t.Parallel()

	f := newFixture(t, senderOf(mock.Events(nil,
		docchat.EventTextDelta{Delta: "par"},
		docchat.EventError{Message: "model overloaded"},
		docchat.EventTextDelta{Delta: "never"},
	)))

	err := f.ctrl.SubmitText(context.Background(), "  hi  ")

	assert.ErrorIs(t, err, docchat.ErrProducer)
	assert.Contains(t, err.Error(), "model overloaded")
	assert.Nil(t, f.store.Snapshot(testKey))
	assert.Equal(t, "  hi  ", f.ctrl.Input())
	assert.Len(t, f.notices, 1)
	assert.Equal(t, []docchat.TurnOutcome{docchat.OutcomeProducer}, f.policy.Outcomes())
}

func TestController_Submit_HTTPError(t *testing.T) {
	t.Parallel()

	sender := &mock.Sender{
		SendFn: func(context.Context, docchat.SendRequest) (docchat.Stream, error) {
			return nil, &docchat.HTTPError{StatusCode: 500, Body: "boom"}
		},
	}
	f := newFixture(t, sender)

	err := f.ctrl.SubmitText(context.Background(), "hi")

	var he *docchat.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Nil(t, f.store.Snapshot(testKey))
	assert.Equal(t, "hi", f.ctrl.Input())
	assert.Equal(t, []docchat.TurnOutcome{docchat.OutcomeTransport}, f.policy.Outcomes())
}

func TestController_Submit_TrimsOutgoingMessage(t *testing.T) {
	t.Parallel()

	var got string
	sender := &mock.Sender{
		SendFn: func(_ context.Context, req docchat.SendRequest) (docchat.Stream, error) {
			got = req.Message
			return mock.Events(nil), nil
		},
	}
	f := newFixture(t, sender)

	require.NoError(t, f.ctrl.SubmitText(context.Background(), "  hi \n"))

	assert.Equal(t, "hi", got)
	// The optimistic question matches what was sent.
	msgs := f.store.Snapshot(testKey).Pages[0].Messages
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Text)
}

func TestController_Submit_Phases(t *testing.T) {
	t.Parallel()

	var f *fixture
	var during []docchat.TurnPhase
	var inputs []string
	sender := &mock.Sender{
		SendFn: func(context.Context, docchat.SendRequest) (docchat.Stream, error) {
			during = append(during, f.ctrl.Phase())
			inputs = append(inputs, f.ctrl.Input())
			return &mock.Stream{NextFn: func() (docchat.Event, error) {
				during = append(during, f.ctrl.Phase())
				return nil, io.EOF
			}}, nil
		},
	}
	f = newFixture(t, sender)

	require.NoError(t, f.ctrl.SubmitText(context.Background(), "hi"))

	assert.Equal(t, []docchat.TurnPhase{docchat.TurnSubmitting, docchat.TurnStreaming}, during)
	assert.Equal(t, []string{""}, inputs)
	assert.Equal(t, []docchat.TurnPhase{docchat.TurnSettling}, f.policy.phases)
	assert.Equal(t, docchat.TurnIdle, f.ctrl.Phase())
	assert.Equal(t, 1, f.observer.started)
	assert.Equal(t, []docchat.TurnOutcome{docchat.OutcomeSuccess}, f.observer.outcomes)
}

func TestController_Submit_Rejections(t *testing.T) {
	t.Parallel()

	noSend := &mock.Sender{
		SendFn: func(context.Context, docchat.SendRequest) (docchat.Stream, error) {
			t.Error("unexpected send")
			return nil, errors.New("unexpected")
		},
	}

	t.Run("blank input", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, noSend)
		f.ctrl.SetInput("   ")

		err := f.ctrl.Submit(context.Background())

		assert.ErrorIs(t, err, docchat.ErrValidation)
		assert.Equal(t, "   ", f.ctrl.Input())
		assert.Nil(t, f.store.Snapshot(testKey))
		assert.Empty(t, f.policy.Outcomes())
	})

	t.Run("too long", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, noSend, docchat.WithMaxMessageLength(3))

		err := f.ctrl.SubmitText(context.Background(), "abcd")

		assert.ErrorIs(t, err, docchat.ErrValidation)
		assert.Equal(t, "abcd", f.ctrl.Input())
	})

	for _, status := range []docchat.UploadStatus{docchat.UploadProcessing, docchat.UploadFailed} {
		t.Run("upload "+string(status), func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, noSend)
			f.ctrl.SetUploadStatus(status)

			err := f.ctrl.SubmitText(context.Background(), "hi")

			assert.ErrorIs(t, err, docchat.ErrDocumentNotReady)
			assert.False(t, f.ctrl.CanSubmit())
			assert.Equal(t, "hi", f.ctrl.Input())
			assert.Nil(t, f.store.Snapshot(testKey))
		})
	}

	t.Run("upload success accepts", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, senderOf(mock.Events(nil)))
		f.ctrl.SetUploadStatus(docchat.UploadSuccess)

		assert.True(t, f.ctrl.CanSubmit())
		assert.NoError(t, f.ctrl.SubmitText(context.Background(), "hi"))
	})
}

// blockingSender returns a stream that yields one delta and then blocks
// until the turn's context ends.
func blockingSender(started chan<- struct{}) *mock.Sender {
	return &mock.Sender{
		SendFn: func(ctx context.Context, _ docchat.SendRequest) (docchat.Stream, error) {
			calls := 0
			return &mock.Stream{NextFn: func() (docchat.Event, error) {
				calls++
				if calls == 1 {
					return docchat.EventTextDelta{Delta: "par"}, nil
				}
				if calls == 2 {
					close(started)
				}
				<-ctx.Done()
				return nil, ctx.Err()
			}}, nil
		},
	}
}

func TestController_Submit_InProgress(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	f := newFixture(t, blockingSender(started))
	errc := make(chan error, 1)
	go func() { errc <- f.ctrl.SubmitText(context.Background(), "first") }()
	<-started

	assert.False(t, f.ctrl.CanSubmit())
	assert.ErrorIs(t, f.ctrl.SubmitText(context.Background(), "second"), docchat.ErrTurnInProgress)
	assert.ErrorIs(t, f.ctrl.Submit(context.Background()), docchat.ErrTurnInProgress)
	assert.Empty(t, f.ctrl.Input())

	f.ctrl.Cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
}

func TestController_Cancel(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	f := newFixture(t, blockingSender(started))
	f.store.Put(testKey, existingHistory())
	before := f.store.Snapshot(testKey)
	errc := make(chan error, 1)
	go func() { errc <- f.ctrl.SubmitText(context.Background(), "and dogs?") }()
	<-started

	f.ctrl.Cancel()
	err := <-errc

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, before, f.store.Snapshot(testKey))
	assert.Equal(t, "and dogs?", f.ctrl.Input())
	assert.Empty(t, f.notices)
	assert.Equal(t, []docchat.TurnOutcome{docchat.OutcomeCanceled}, f.policy.Outcomes())
	assert.Equal(t, docchat.TurnIdle, f.ctrl.Phase())
}

func TestController_Submit_ParentContextCanceled(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	f := newFixture(t, blockingSender(started))
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- f.ctrl.SubmitText(ctx, "hi") }()
	<-started

	cancel()
	err := <-errc

	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, f.store.Snapshot(testKey))
	// Settling still runs on a context that outlives the turn's.
	assert.Equal(t, []docchat.TurnOutcome{docchat.OutcomeCanceled}, f.policy.Outcomes())
}

func TestController_Abandon(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	f := newFixture(t, blockingSender(started))
	errc := make(chan error, 1)
	go func() { errc <- f.ctrl.SubmitText(context.Background(), "hi") }()
	<-started
	before := f.store.Snapshot(testKey)

	f.ctrl.Abandon()

	assert.Equal(t, docchat.TurnIdle, f.ctrl.Phase())
	assert.ErrorIs(t, <-errc, context.Canceled)
	// The abandoned turn neither rolls back nor reconciles.
	assert.Equal(t, before, f.store.Snapshot(testKey))
	assert.Empty(t, f.policy.Outcomes())
	assert.Empty(t, f.notices)
	assert.Empty(t, f.ctrl.Input())
}

func TestController_Abandon_NewTurnProceeds(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	var stale context.Context
	release := make(chan struct{})
	turns := 0
	sender := &mock.Sender{
		SendFn: func(ctx context.Context, _ docchat.SendRequest) (docchat.Stream, error) {
			turns++
			if turns == 1 {
				stale = ctx
				close(started)
				delivered := false
				return &mock.Stream{NextFn: func() (docchat.Event, error) {
					<-release
					if delivered {
						return nil, io.EOF
					}
					delivered = true
					return docchat.EventText{Text: "stale answer"}, nil
				}}, nil
			}
			return mock.Events(nil, docchat.EventText{Text: "fresh answer"}), nil
		},
	}
	f := newFixture(t, sender)
	errc := make(chan error, 1)
	go func() { errc <- f.ctrl.SubmitText(context.Background(), "old") }()
	<-started

	f.ctrl.Abandon()
	require.ErrorIs(t, stale.Err(), context.Canceled)
	require.NoError(t, f.ctrl.SubmitText(context.Background(), "new"))
	close(release)
	<-errc

	page := f.store.Snapshot(testKey).Pages[0]
	assert.Equal(t, "fresh answer", page.Messages[0].Text)
	assert.Equal(t, 1, placeholders(f.store.Snapshot(testKey)))
	assert.Equal(t, []docchat.TurnOutcome{docchat.OutcomeSuccess}, f.policy.Outcomes())
}

func TestController_Abandon_DuringSettle(t *testing.T) {
	t.Parallel()

	refetching := make(chan struct{})
	release := make(chan struct{})
	var staleFetch context.Context
	var fetches atomic.Int32
	fetcher := &mock.HistoryFetcher{
		FetchPageFn: func(ctx context.Context, _, _ string, _ int) (docchat.Page, error) {
			if fetches.Add(1) == 1 {
				staleFetch = ctx
				close(refetching)
				<-release
			}
			return docchat.Page{Messages: []docchat.Message{
				{ID: "srv-1", Text: "old", IsUserMessage: true, CreatedAt: testTime},
			}}, nil
		},
	}

	midAnswer := make(chan struct{})
	finish := make(chan struct{})
	turns := 0
	sender := &mock.Sender{
		SendFn: func(context.Context, docchat.SendRequest) (docchat.Stream, error) {
			turns++
			if turns == 1 {
				return mock.Events(nil, docchat.EventText{Text: "a1"}), nil
			}
			n := 0
			return &mock.Stream{NextFn: func() (docchat.Event, error) {
				n++
				if n == 1 {
					return docchat.EventTextDelta{Delta: "a2"}, nil
				}
				if n == 2 {
					close(midAnswer)
					<-finish
				}
				return nil, io.EOF
			}}, nil
		},
	}

	var ids atomic.Int32
	store := memory.New(memory.WithFetcher(fetcher))
	ctrl := docchat.NewController(testKey, store, sender,
		docchat.WithIDGenerator(func() string { return fmt.Sprintf("local-%d", ids.Add(1)) }),
	)

	errc1 := make(chan error, 1)
	go func() { errc1 <- ctrl.SubmitText(context.Background(), "old") }()
	<-refetching

	ctrl.Abandon()
	require.ErrorIs(t, staleFetch.Err(), context.Canceled)

	errc2 := make(chan error, 1)
	go func() { errc2 <- ctrl.SubmitText(context.Background(), "new") }()
	<-midAnswer

	want := []docchat.Message{
		{ID: docchat.SentinelID, Text: "a2", CreatedAt: testTime},
		{ID: "local-2", Text: "new", IsUserMessage: true},
		{ID: "local-1", Text: "old", IsUserMessage: true},
	}
	assertPage0 := func() {
		t.Helper()
		got := store.Snapshot(testKey).Pages[0].Messages
		require.Len(t, got, len(want))
		for i := range want {
			assert.Equal(t, want[i].ID, got[i].ID)
			assert.Equal(t, want[i].Text, got[i].Text)
			assert.Equal(t, want[i].IsUserMessage, got[i].IsUserMessage)
		}
	}
	assertPage0()

	// The abandoned refetch completes but must not replace the new turn's entries.
	close(release)
	require.NoError(t, <-errc1)
	assertPage0()
	assert.Equal(t, docchat.TurnStreaming, ctrl.Phase())

	close(finish)
	require.NoError(t, <-errc2)
	snap := store.Snapshot(testKey)
	assert.Zero(t, placeholders(snap))
	assert.Equal(t, "srv-1", snap.Pages[0].Messages[0].ID)
	assert.Equal(t, docchat.TurnIdle, ctrl.Phase())
}

func TestController_Abandon_WaitsForInFlightMutation(t *testing.T) {
	t.Parallel()

	upserting := make(chan struct{})
	resume := make(chan struct{})
	var once sync.Once
	var store *memory.Store
	store = memory.New(memory.WithChangeHandler(func(key docchat.CacheKey) {
		if placeholders(store.Snapshot(key)) > 0 {
			once.Do(func() {
				close(upserting)
				<-resume
			})
		}
	}))
	abandoned := make(chan struct{})
	n := 0
	ctrl := docchat.NewController(testKey, store, senderOf(&mock.Stream{NextFn: func() (docchat.Event, error) {
		n++
		switch n {
		case 1:
			return docchat.EventTextDelta{Delta: "partial"}, nil
		case 2:
			<-abandoned
			return docchat.EventTextDelta{Delta: " more"}, nil
		default:
			return nil, io.EOF
		}
	}}))

	errc := make(chan error, 1)
	go func() { errc <- ctrl.SubmitText(context.Background(), "hi") }()
	<-upserting

	go func() {
		ctrl.Abandon()
		close(abandoned)
	}()
	isClosed := func() bool {
		select {
		case <-abandoned:
			return true
		default:
			return false
		}
	}
	assert.Never(t, isClosed, 50*time.Millisecond, 5*time.Millisecond)

	close(resume)
	require.Eventually(t, isClosed, time.Second, 5*time.Millisecond)
	require.NoError(t, <-errc)

	// The mutation in flight when Abandon was called completed; later ones were dropped.
	msgs := store.Snapshot(testKey).Pages[0].Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, docchat.SentinelID, msgs[0].ID)
	assert.Equal(t, "partial", msgs[0].Text)
	assert.Equal(t, docchat.TurnIdle, ctrl.Phase())
}

func TestController_MaxStreamDuration(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	f := newFixture(t, blockingSender(started), docchat.WithMaxStreamDuration(20*time.Millisecond))

	err := f.ctrl.SubmitText(context.Background(), "hi")

	assert.ErrorIs(t, err, docchat.ErrStreamTimeout)
	assert.Nil(t, f.store.Snapshot(testKey))
	assert.Equal(t, "hi", f.ctrl.Input())
	require.Len(t, f.notices, 1)
	assert.Equal(t, docchat.OutcomeTimeout, docchat.Classify(f.notices[0]))
	assert.Equal(t, []docchat.TurnOutcome{docchat.OutcomeTimeout}, f.policy.Outcomes())
}

func TestController_ReconcileErrorIsNotFatal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, senderOf(mock.Events(nil, docchat.EventTextDelta{Delta: "ok"})))
	f.policy.err = errors.New("refetch failed")

	err := f.ctrl.SubmitText(context.Background(), "hi")

	assert.NoError(t, err)
	assert.Equal(t, docchat.TurnIdle, f.ctrl.Phase())
	assert.Empty(t, f.notices)
}

func TestController_InvalidateReplacesOptimisticEntries(t *testing.T) {
	t.Parallel()

	fetcher := &mock.HistoryFetcher{
		FetchPageFn: func(_ context.Context, fileID, cursor string, limit int) (docchat.Page, error) {
			return docchat.Page{Messages: []docchat.Message{
				{ID: "srv-2", Text: "Hello", CreatedAt: testTime},
				{ID: "srv-1", Text: "hi", IsUserMessage: true, CreatedAt: testTime},
			}}, nil
		},
	}
	store := memory.New(memory.WithFetcher(fetcher))
	ctrl := docchat.NewController(testKey, store, senderOf(mock.Events(nil, docchat.EventTextDelta{Delta: "Hello"})))

	require.NoError(t, ctrl.SubmitText(context.Background(), "hi"))

	snap := store.Snapshot(testKey)
	assert.Zero(t, placeholders(snap))
	assert.Equal(t, "srv-2", snap.Pages[0].Messages[0].ID)
	assert.Equal(t, "srv-1", snap.Pages[0].Messages[1].ID)
	assert.False(t, store.Stale(testKey))
}

func TestTurnPhase_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "idle", docchat.TurnIdle.String())
	assert.Equal(t, "submitting", docchat.TurnSubmitting.String())
	assert.Equal(t, "streaming", docchat.TurnStreaming.String())
	assert.Equal(t, "settling", docchat.TurnSettling.String())
	assert.Equal(t, "TurnPhase(9)", docchat.TurnPhase(9).String())
}
