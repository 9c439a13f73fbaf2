package http1

import (
	"errors"
	"fmt"
	"io"

	"github.com/YuanQin2000/datax/internal/octet"
	"github.com/YuanQin2000/datax/internal/status"
)

// SerializeState is the position of a RequestWriter.
type SerializeState uint8

const (
	SerializeStartLine SerializeState = iota
	SerializeHeaderField
	SerializePayload
	SerializeComplete
)

const (
	streamBlockSize = 4 << 10
	// A body stream that keeps returning (0, nil) would stall the request:
	// no readiness edge follows while the buffer still has room.
	maxEmptyReads = 100
)

var crlf = []byte("\r\n")

// RequestWriter serializes one request into an octet.Buffer, resuming
// where it stopped whenever the buffer fills. Header lines are never
// split across calls: the anchor indexes the next whole line to write.
type RequestWriter struct {
	line   RequestLine
	header *HeaderField

	body    []byte
	stream  io.Reader
	pending []byte
	final   bool

	state  SerializeState
	lines  [][]byte
	anchor int
	sent   int

	arena   *LazyBuffer
	scratch []byte
}

func NewRequestWriter(line RequestLine, header *HeaderField) *RequestWriter {
	return &RequestWriter{line: line, header: header, arena: NewLazyBuffer(2048)}
}

// SetBody attaches an in-memory body; the caller sets Content-Length.
func (w *RequestWriter) SetBody(body []byte) {
	w.body = body
	w.stream = nil
}

// SetBodyStream attaches a body of unknown length sent with chunked
// transfer coding; the caller sets Transfer-Encoding. The reader is read
// on the loop thread and must not block.
func (w *RequestWriter) SetBodyStream(r io.Reader) {
	w.stream = r
	w.body = nil
}

func (w *RequestWriter) State() SerializeState { return w.state }
func (w *RequestWriter) Line() RequestLine      { return w.line }
func (w *RequestWriter) Header() *HeaderField   { return w.header }

// Reset rewinds the writer so the request can be sent again. A streamed
// body that has been partly consumed cannot be replayed.
func (w *RequestWriter) Reset() error {
	if w.stream != nil && w.state >= SerializePayload {
		return fmt.Errorf("streamed body cannot be replayed: %w", status.IllegalParameter)
	}
	w.state = SerializeStartLine
	w.anchor = 0
	w.sent = 0
	w.pending = nil
	w.final = false
	return nil
}

// Serialize writes as much of the request as fits. It returns nil once
// the request is complete and status.InProgress when out is full.
func (w *RequestWriter) Serialize(out *octet.Buffer) error {
	for {
		switch w.state {
		case SerializeStartLine:
			w.arena.Reset()
			w.scratch = w.line.AppendTo(w.scratch[:0])
			w.lines = append(w.lines[:0], w.arena.Copy(w.scratch))
			w.lines = append(w.lines, w.header.Render(w.arena)...)
			w.lines = append(w.lines, crlf)
			w.anchor = 0
			w.state = SerializeHeaderField

		case SerializeHeaderField:
			for w.anchor < len(w.lines) {
				l := w.lines[w.anchor]
				if len(l) > out.Capacity() {
					return fmt.Errorf("header line of %d bytes exceeds buffer: %w", len(l), status.NoMemory)
				}
				if out.FreeLength()+out.FrontHole() < len(l) {
					return status.InProgress
				}
				out.Append(l)
				w.anchor++
			}
			w.state = SerializePayload

		case SerializePayload:
			done, err := w.writeBody(out)
			if err != nil {
				return err
			}
			if !done {
				return status.InProgress
			}
			w.state = SerializeComplete

		case SerializeComplete:
			return nil
		}
	}
}

func (w *RequestWriter) writeBody(out *octet.Buffer) (bool, error) {
	if w.stream == nil {
		for w.sent < len(w.body) {
			n := out.Append(w.body[w.sent:])
			if n == 0 {
				return false, nil
			}
			w.sent += n
		}
		return true, nil
	}

	for {
		if len(w.pending) == 0 {
			if w.final {
				return true, nil
			}
			if err := w.nextChunk(); err != nil {
				return false, err
			}
			continue
		}
		n := out.Append(w.pending)
		w.pending = w.pending[n:]
		if len(w.pending) > 0 {
			return false, nil
		}
	}
}

func (w *RequestWriter) nextChunk() error {
	if cap(w.scratch) < streamBlockSize {
		w.scratch = make([]byte, streamBlockSize)
	}
	buf := w.scratch[:streamBlockSize]
	var (
		n   int
		err error
	)
	for i := 0; n == 0 && err == nil; i++ {
		if i == maxEmptyReads {
			return fmt.Errorf("read request body: %v: %w", io.ErrNoProgress, status.IllegalParameter)
		}
		n, err = w.stream.Read(buf)
	}
	if n > 0 {
		w.pending = AppendChunk(nil, buf[:n])
	}
	switch {
	case errors.Is(err, io.EOF):
		w.pending = AppendChunk(w.pending, nil)
		w.final = true
	case err != nil:
		return fmt.Errorf("read request body: %v: %w", err, status.IllegalParameter)
	}
	return nil
}
