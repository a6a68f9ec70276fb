package sse

import (
	"errors"
	"io"
)

const (
	readBufferSize = 32 << 10
	MaxLineBytes   = 1 << 20
)

var ErrLineTooLong = errors.New("sse: line exceeds limit")

// Decoder is the pull counterpart of Parser.
type Decoder struct {
	r      io.Reader
	parser Parser
	buf    []byte
	queue  []Event
	err    error
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r, buf: make([]byte, readBufferSize)}
}

// Next returns the next event, io.EOF after the last one, or the
// underlying read error.
func (d *Decoder) Next() (Event, error) {
	for len(d.queue) == 0 {
		if d.err != nil {
			return Event{}, d.err
		}

		n, err := d.r.Read(d.buf)
		if n > 0 {
			d.queue = append(d.queue, d.parser.Feed(d.buf[:n])...)
			if d.parser.Pending() > MaxLineBytes {
				d.err = ErrLineTooLong
			}
		}
		switch {
		case errors.Is(err, io.EOF):
			d.queue = append(d.queue, d.parser.Flush()...)
			d.err = io.EOF
		case err != nil:
			d.err = err
		}
	}

	ev := d.queue[0]
	d.queue = d.queue[1:]
	return ev, nil
}
