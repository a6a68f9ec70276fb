package sse

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// SetHeaders marks a response as an unbuffered event stream.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// Writer encodes frames and flushes after each one.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

func NewWriter(w http.ResponseWriter) *Writer {
	wr := &Writer{w: w}
	if fl, ok := w.(http.Flusher); ok {
		wr.flusher = fl
	}
	return wr
}

// WriteEvent writes one frame. Multi-line data becomes several data lines.
func (w *Writer) WriteEvent(eventType, data string) error {
	var b strings.Builder
	if eventType != "" {
		b.WriteString("event: ")
		b.WriteString(eventType)
		b.WriteByte('\n')
	}
	for _, line := range strings.Split(data, "\n") {
		b.WriteString("data: ")
		b.WriteString(strings.TrimSuffix(line, "\r"))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	if _, err := io.WriteString(w.w, b.String()); err != nil {
		return err
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}

func (w *Writer) WriteDone() error {
	return w.WriteEvent("done", doneSentinel)
}

func (w *Writer) WriteError(message string) error {
	payload, err := json.Marshal(map[string]any{
		"ok":    false,
		"error": message,
	})
	if err != nil {
		return err
	}
	return w.WriteEvent("error", string(payload))
}
