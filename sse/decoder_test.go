package sse_test

import (
	"bytes"
	"testing"

	"github.com/fwojciec/docchat"
	"github.com/fwojciec/docchat/sse"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// accumulate runs events through an Accumulator and returns the result.
func accumulate(events []docchat.Event) string {
	var acc docchat.Accumulator
	for _, evt := range events {
		acc.Apply(evt)
	}
	return acc.String()
}

// feedAll feeds chunks in order and returns every decoded event.
func feedAll(d *sse.Decoder, chunks ...string) []docchat.Event {
	var events []docchat.Event
	for _, c := range chunks {
		events = append(events, d.Feed([]byte(c))...)
	}
	return events
}

func TestDecoder_Feed(t *testing.T) {
	t.Parallel()

	t.Run("decodes every frame type", func(t *testing.T) {
		t.Parallel()
		d := sse.NewDecoder()
		events := feedAll(d,
			`data: {"type":"text-delta","delta":"Hel"}`+"\n",
			`data: {"type":"text","text":"Hello"}`+"\n",
			`data: {"type":"error","message":"boom"}`+"\n",
			`data: {"type":"finish"}`+"\n",
			"data: [DONE]\n",
		)
		assert.Equal(t, []docchat.Event{
			docchat.EventTextDelta{Delta: "Hel"},
			docchat.EventText{Text: "Hello"},
			docchat.EventError{Message: "boom"},
			docchat.EventFinish{},
			docchat.EventDone{},
		}, events)
	})

	t.Run("frame split mid-line is reassembled", func(t *testing.T) {
		t.Parallel()
		d := sse.NewDecoder()
		events := feedAll(d,
			`data: {"type":"text-delta","delta":"Hel`,
			`lo"}`+"\n\ndata: [DONE]\n",
		)
		assert.Equal(t, []docchat.Event{
			docchat.EventTextDelta{Delta: "Hello"},
			docchat.EventDone{},
		}, events)
	})

	t.Run("result is independent of chunk boundaries", func(t *testing.T) {
		t.Parallel()
		input := `data: {"type":"text-delta","delta":"Hel"}` + "\n" +
			`data: {"type":"text-delta","delta":"lo ✓ wörld"}` + "\n\n" +
			"data: [DONE]\n"
		whole := feedAll(sse.NewDecoder(), input)
		require.Equal(t, "Hello ✓ wörld", accumulate(whole))

		b := []byte(input)
		for i := 0; i <= len(b); i++ {
			for j := i; j <= len(b); j++ {
				d := sse.NewDecoder()
				var got []docchat.Event
				got = append(got, d.Feed(b[:i])...)
				got = append(got, d.Feed(b[i:j])...)
				got = append(got, d.Feed(b[j:])...)
				if !assert.Equal(t, whole, got, "split at %d and %d", i, j) {
					return
				}
			}
		}
	})

	t.Run("byte-at-a-time feeding", func(t *testing.T) {
		t.Parallel()
		input := []byte(`data: {"type":"text","text":"日本語"}` + "\ndata: [DONE]\n")
		d := sse.NewDecoder()
		var got []docchat.Event
		for _, c := range input {
			got = append(got, d.Feed([]byte{c})...)
		}
		assert.Equal(t, "日本語", accumulate(got))
		assert.True(t, d.Done())
	})

	t.Run("malformed frame is skipped", func(t *testing.T) {
		t.Parallel()
		var reasons []string
		var logs bytes.Buffer
		d := sse.NewDecoder(
			sse.WithLogger(zerolog.New(&logs)),
			sse.WithSkipHandler(func(r string) { reasons = append(reasons, r) }),
		)
		events := feedAll(d,
			"data: not-json\n\n",
			`data: {"type":"text","text":"ok"}`+"\n\n",
			"data: [DONE]\n\n",
		)
		assert.Equal(t, "ok", accumulate(events))
		assert.Equal(t, []string{sse.SkipMalformed}, reasons)
		assert.Contains(t, logs.String(), "malformed frame")
	})

	t.Run("unknown types are skipped", func(t *testing.T) {
		t.Parallel()
		var reasons []string
		d := sse.NewDecoder(sse.WithSkipHandler(func(r string) { reasons = append(reasons, r) }))
		events := feedAll(d,
			`data: {"type":"step-start"}`+"\n",
			`data: {"type":"text-delta","delta":"a"}`+"\n",
			`data: {}`+"\n",
		)
		assert.Equal(t, []docchat.Event{docchat.EventTextDelta{Delta: "a"}}, events)
		assert.Equal(t, []string{sse.SkipUnknownType, sse.SkipUnknownType}, reasons)
	})

	t.Run("ignores lines without the data prefix", func(t *testing.T) {
		t.Parallel()
		d := sse.NewDecoder()
		events := feedAll(d,
			": keep-alive\n",
			"event: message\n",
			"id: 7\n",
			"data:\n",
			"data:    \n",
			"   data: {\"type\":\"text-delta\",\"delta\":\"x\"}   \r\n",
		)
		assert.Equal(t, []docchat.Event{docchat.EventTextDelta{Delta: "x"}}, events)
	})

	t.Run("prefix without a space", func(t *testing.T) {
		t.Parallel()
		d := sse.NewDecoder()
		events := feedAll(d, `data:{"type":"text-delta","delta":"x"}`+"\ndata:[DONE]\n")
		assert.Equal(t, []docchat.Event{docchat.EventTextDelta{Delta: "x"}, docchat.EventDone{}}, events)
	})

	t.Run("stops after the terminal token", func(t *testing.T) {
		t.Parallel()
		d := sse.NewDecoder()
		events := feedAll(d,
			"data: [DONE]\n"+`data: {"type":"text-delta","delta":"late"}`+"\n",
			`data: {"type":"text-delta","delta":"later"}`+"\n",
		)
		assert.Equal(t, []docchat.Event{docchat.EventDone{}}, events)
		assert.True(t, d.Done())
	})

	t.Run("text replaces accumulated deltas", func(t *testing.T) {
		t.Parallel()
		d := sse.NewDecoder()
		events := feedAll(d,
			`data: {"type":"text-delta","delta":"draft"}`+"\n",
			`data: {"type":"text","text":"final"}`+"\n",
			`data: {"type":"text-delta","delta":"!"}`+"\n",
		)
		assert.Equal(t, "final!", accumulate(events))
	})
}

func TestDecoder_Close(t *testing.T) {
	t.Parallel()

	d := sse.NewDecoder()
	events := d.Feed([]byte(`data: {"type":"text-delta","delta":"kept"}` + "\n" + `data: {"type":"text-delta","delta":"tail"}`))
	d.Close()

	assert.Equal(t, []docchat.Event{docchat.EventTextDelta{Delta: "kept"}}, events)
	assert.Empty(t, d.Feed([]byte("\n")))
}
