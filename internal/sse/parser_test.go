package sse

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleStream = ": keep-alive\n" +
	"event: response.created\n" +
	"data: {\"id\":\"resp_1\"}\n" +
	"\n" +
	"id: 7\n" +
	"retry: 1000\n" +
	"data: {\"delta\":\"héllo\"}\n" +
	"\n" +
	"event: response.output_text.delta\r\n" +
	"data: line one\r\n" +
	"data: line two\r\n" +
	"\r\n" +
	"event: ping\n" +
	"\n" +
	"data: {\"usage\":{\"input_tokens\":3,\"output_tokens\":4}}\n" +
	"\n" +
	"data: [DONE]\n" +
	"\n"

func expectedEvents() []Event {
	return []Event{
		{Type: "response.created", Data: `{"id":"resp_1"}`},
		{Type: DefaultEventType, Data: `{"delta":"héllo"}`},
		{Type: "response.output_text.delta", Data: "line one\nline two"},
		{Type: DefaultEventType, Data: `{"usage":{"input_tokens":3,"output_tokens":4}}`},
		{Type: DefaultEventType, Data: "[DONE]", Done: true},
	}
}

func TestParserWholeInput(t *testing.T) {
	var p Parser
	events := p.Feed([]byte(sampleStream))
	events = append(events, p.Flush()...)
	assert.Equal(t, expectedEvents(), events)
}

func TestParserEverySingleSplit(t *testing.T) {
	input := []byte(sampleStream)
	for i := 0; i <= len(input); i++ {
		var p Parser
		events := p.Feed(input[:i])
		events = append(events, p.Feed(input[i:])...)
		events = append(events, p.Flush()...)
		require.Equal(t, expectedEvents(), events, "split at %d", i)
	}
}

func TestParserByteAtATime(t *testing.T) {
	var (
		p      Parser
		events []Event
	)
	for _, b := range []byte(sampleStream) {
		events = append(events, p.Feed([]byte{b})...)
	}
	events = append(events, p.Flush()...)
	assert.Equal(t, expectedEvents(), events)
}

func TestParserFieldsAcrossChunks(t *testing.T) {
	var p Parser
	assert.Empty(t, p.Feed([]byte("event: tool.result\n")))
	assert.Empty(t, p.Feed([]byte("da")))
	assert.Empty(t, p.Feed([]byte("ta: {\"ok\":true}\n")))
	assert.Equal(t, []Event{{Type: "tool.result", Data: `{"ok":true}`}}, p.Feed([]byte("\n")))
}

func TestParserFlushDispatchesUnterminatedEvent(t *testing.T) {
	var p Parser
	assert.Empty(t, p.Feed([]byte("event: final\ndata: tail")))
	assert.Equal(t, []Event{{Type: "final", Data: "tail"}}, p.Flush())
	assert.Empty(t, p.Flush())
}

func TestParserDataWithoutSpaceAndEmptyData(t *testing.T) {
	var p Parser
	events := p.Feed([]byte("data:compact\n\ndata\ndata: \n\n"))
	assert.Equal(t, []Event{
		{Type: DefaultEventType, Data: "compact"},
		{Type: DefaultEventType, Data: "\n"},
	}, events)
}

func TestDecoderMatchesParser(t *testing.T) {
	dec := NewDecoder(iotest.OneByteReader(strings.NewReader(sampleStream)))
	var events []Event
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
	assert.Equal(t, expectedEvents(), events)

	_, err := dec.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecoderSurfacesReadError(t *testing.T) {
	boom := errors.New("connection reset")
	r := io.MultiReader(strings.NewReader("data: one\n\n"), iotest.ErrReader(boom))
	dec := NewDecoder(r)

	ev, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, "one", ev.Data)

	_, err = dec.Next()
	assert.ErrorIs(t, err, boom)
}

func TestWriterFrames(t *testing.T) {
	rec := httptest.NewRecorder()
	SetHeaders(rec.Header())
	w := NewWriter(rec)

	require.NoError(t, w.WriteEvent("response.output_text.delta", "a\nb"))
	require.NoError(t, w.WriteError("upstream timeout"))
	require.NoError(t, w.WriteDone())

	assert.Equal(t,
		"event: response.output_text.delta\ndata: a\ndata: b\n\n"+
			"event: error\ndata: {\"error\":\"upstream timeout\",\"ok\":false}\n\n"+
			"event: done\ndata: [DONE]\n\n",
		rec.Body.String(),
	)
	assert.True(t, rec.Flushed)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
}

func TestWriterOutputRoundTrips(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewWriter(rec)
	for _, ev := range expectedEvents() {
		if ev.Done {
			require.NoError(t, w.WriteDone())
			continue
		}
		require.NoError(t, w.WriteEvent(ev.Type, ev.Data))
	}

	var p Parser
	events := append(p.Feed(rec.Body.Bytes()), p.Flush()...)
	want := expectedEvents()
	want[len(want)-1].Type = "done"
	assert.Equal(t, want, events)
}
