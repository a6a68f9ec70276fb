// Package sse decodes and encodes text/event-stream frames.
package sse

import (
	"bytes"
	"strings"
)

const (
	DefaultEventType = "message"
	doneSentinel     = "[DONE]"
)

// Event is one dispatched server-sent event. Done marks the OpenAI-style
// "data: [DONE]" terminator.
type Event struct {
	Type string
	Data string
	Done bool
}

// Parser is a push parser. Chunks may split lines, fields and events at
// any byte; the sequence of dispatched events depends only on the
// concatenated input.
type Parser struct {
	partial   []byte
	eventType string
	data      []string
	hasData   bool
}

// Feed consumes chunk and returns every event completed by it.
func (p *Parser) Feed(chunk []byte) []Event {
	p.partial = append(p.partial, chunk...)

	var events []Event
	for {
		idx := bytes.IndexByte(p.partial, '\n')
		if idx < 0 {
			break
		}
		line := p.partial[:idx]
		if ev, ok := p.line(line); ok {
			events = append(events, ev)
		}
		p.partial = p.partial[idx+1:]
	}
	if len(p.partial) == 0 {
		p.partial = nil
	}
	return events
}

// Flush ends the stream. A trailing line without a newline and an event
// without its blank-line terminator are still dispatched.
func (p *Parser) Flush() []Event {
	var events []Event
	if len(p.partial) > 0 {
		if ev, ok := p.line(p.partial); ok {
			events = append(events, ev)
		}
		p.partial = nil
	}
	if ev, ok := p.dispatch(); ok {
		events = append(events, ev)
	}
	return events
}

// Pending reports the bytes held for an unterminated line.
func (p *Parser) Pending() int {
	return len(p.partial)
}

func (p *Parser) line(raw []byte) (Event, bool) {
	raw = bytes.TrimSuffix(raw, []byte("\r"))
	if len(raw) == 0 {
		return p.dispatch()
	}
	if raw[0] == ':' {
		return Event{}, false
	}

	field, value := string(raw), ""
	if idx := bytes.IndexByte(raw, ':'); idx >= 0 {
		field = string(raw[:idx])
		value = strings.TrimPrefix(string(raw[idx+1:]), " ")
	}

	switch field {
	case "event":
		p.eventType = value
	case "data":
		p.data = append(p.data, value)
		p.hasData = true
	}
	// id, retry and unknown fields carry nothing the relay needs.
	return Event{}, false
}

func (p *Parser) dispatch() (Event, bool) {
	defer func() {
		p.eventType = ""
		p.data = p.data[:0]
		p.hasData = false
	}()

	if !p.hasData {
		return Event{}, false
	}
	ev := Event{
		Type: p.eventType,
		Data: strings.Join(p.data, "\n"),
	}
	if ev.Type == "" {
		ev.Type = DefaultEventType
	}
	if strings.TrimSpace(ev.Data) == doneSentinel {
		ev.Done = true
	}
	return ev, true
}
