package http1

import (
	"bytes"
	"fmt"

	"github.com/YuanQin2000/datax/internal/codec"
	"github.com/YuanQin2000/datax/internal/status"
)

// ParseState is the position of a ResponseParser.
type ParseState uint8

const (
	ParseStateStatusLine ParseState = iota
	ParseStateHeaderField
	ParseStatePayload
	ParseStateComplete
)

func (s ParseState) String() string {
	switch s {
	case ParseStateStatusLine:
		return "status-line"
	case ParseStateHeaderField:
		return "header-field"
	case ParseStatePayload:
		return "payload"
	}
	return "complete"
}

// ResponseOptions configure a ResponseParser.
type ResponseOptions struct {
	// Method of the request being answered; HEAD and CONNECT change the
	// body rules.
	Method Method
	// Config selects the field table, ResponseConfig when nil.
	Config         *FieldConfig
	MaxHeaderBytes int
	// Decode applies Content-Encoding. MaxDecodedBytes caps the decoded
	// size (0 means unlimited).
	Decode          bool
	MaxDecodedBytes int64
	// OnHead runs once the final (non 1xx) header block is parsed and may
	// veto the response by returning an error.
	OnHead func(*ResponseParser) error
	// OnData receives decoded body bytes. The slice is only valid during
	// the call.
	OnData func([]byte)
	// SkipBody discards the body after OnHead even if one is present.
	SkipBody bool
}

// ResponseParser parses one response incrementally. Parse can be fed the
// input split at arbitrary points and reports how many bytes it consumed.
type ResponseParser struct {
	opts    ResponseOptions
	state   ParseState
	line    []byte
	status  StatusLine
	header  *HeaderField
	headers *HeaderParser
	payload *PayloadDecoder
	interim int
}

func NewResponseParser(opts ResponseOptions) *ResponseParser {
	if opts.Config == nil {
		opts.Config = ResponseConfig
	}
	p := &ResponseParser{opts: opts}
	p.header = NewHeaderField(opts.Config)
	p.headers = NewHeaderParser(p.header, opts.MaxHeaderBytes)
	return p
}

func (p *ResponseParser) State() ParseState     { return p.state }
func (p *ResponseParser) Status() StatusLine    { return p.status }
func (p *ResponseParser) Header() *HeaderField  { return p.header }
func (p *ResponseParser) Method() Method        { return p.opts.Method }
func (p *ResponseParser) Complete() bool        { return p.state == ParseStateComplete }
func (p *ResponseParser) InterimResponses() int { return p.interim }

// SkipBody makes the parser discard the body; valid from OnHead.
func (p *ResponseParser) SkipBody() { p.opts.SkipBody = true }

// Trailer returns trailer fields of a chunked body.
func (p *ResponseParser) Trailer() *HeaderField {
	if p.payload == nil {
		return nil
	}
	return p.payload.Chunks().Trailer()
}

// BodyErr reports a decoding failure of the body. The response framing
// was still honored.
func (p *ResponseParser) BodyErr() error {
	if p.payload == nil {
		return nil
	}
	return p.payload.Err()
}

// Framing returns the body framing chosen for the current response.
func (p *ResponseParser) Framing() Framing {
	if p.payload == nil {
		return FramingNone
	}
	return p.payload.Chunks().Framing()
}

// Reset clears all state so the same request can be answered again.
func (p *ResponseParser) Reset() {
	p.Close()
	p.state = ParseStateStatusLine
	p.line = p.line[:0]
	p.status = StatusLine{}
	p.header.Reset()
	p.headers.Reset(p.header)
	p.payload = nil
	p.interim = 0
}

// Parse consumes response bytes. It returns nil when the response is
// complete, status.InProgress when more input is needed, or an error
// that invalidates the connection.
func (p *ResponseParser) Parse(data []byte) (int, error) {
	consumed := 0
	for {
		switch p.state {
		case ParseStateStatusLine:
			rest := data[consumed:]
			i := bytes.IndexByte(rest, '\n')
			if i < 0 {
				if len(p.line)+len(rest) > p.headers.limit {
					return consumed, fmt.Errorf("status line too long: %w", status.ProtocolMalformed)
				}
				p.line = append(p.line, rest...)
				return len(data), status.InProgress
			}
			p.line = append(p.line, rest[:i]...)
			consumed += i + 1
			line := trimEOL(p.line)
			if len(line) == 0 {
				// Tolerate stray empty lines ahead of a response.
				p.line = p.line[:0]
				continue
			}
			st, err := ParseStatusLine(line)
			p.line = p.line[:0]
			if err != nil {
				return consumed, err
			}
			p.status = st
			p.state = ParseStateHeaderField

		case ParseStateHeaderField:
			n, err := p.headers.Parse(data[consumed:])
			consumed += n
			if err != nil {
				return consumed, err
			}
			if p.status.Code/100 == 1 && p.status.Code != 101 {
				p.interim++
				p.header.Reset()
				p.headers.Reset(p.header)
				p.state = ParseStateStatusLine
				continue
			}
			if p.opts.OnHead != nil {
				if err := p.opts.OnHead(p); err != nil {
					return consumed, err
				}
			}
			if err := p.setupPayload(); err != nil {
				return consumed, err
			}
			p.state = ParseStatePayload

		case ParseStatePayload:
			n, err := p.payload.Process(data[consumed:])
			consumed += n
			if err != nil {
				return consumed, err
			}
			p.state = ParseStateComplete

		case ParseStateComplete:
			return consumed, nil
		}
	}
}

// BodyFraming applies the message length rules of RFC 9112 section 6.3.
func BodyFraming(method Method, code int, h *HeaderField) (Framing, int64) {
	switch {
	case method == MethodHead, BodyForbidden(code):
		return FramingNone, 0
	case method == MethodConnect && code/100 == 2:
		return FramingNone, 0
	}
	if h.Has(FieldTransferEncoding) {
		if h.Chunked() {
			return FramingChunked, 0
		}
		return FramingUnknown, 0
	}
	if n, ok := h.ContentLength(); ok {
		if n == 0 {
			return FramingNone, 0
		}
		return FramingLength, n
	}
	return FramingUnknown, 0
}

func (p *ResponseParser) setupPayload() error {
	framing, length := BodyFraming(p.opts.Method, p.status.Code, p.header)
	var trailer *HeaderField
	if framing == FramingChunked {
		trailer = NewHeaderField(TrailerConfig)
	}
	chunks := NewChunkParser(framing, length, trailer)

	if p.opts.SkipBody || framing == FramingNone {
		p.payload = NewPayloadDecoder(chunks, nil, nil)
		return nil
	}

	var dec codec.Decompressor
	var err error
	if p.opts.Decode {
		var layers []string
		// Transfer codings other than chunked wrap the content codings.
		layers = append(layers, p.header.ContentCodings()...)
		for _, tc := range p.header.TransferCodings() {
			if tc != "chunked" {
				layers = append(layers, tc)
			}
		}
		dec, err = codec.NewChain(layers, p.opts.MaxDecodedBytes)
		if err != nil {
			// An unknown coding fails this body only; bytes are still framed.
			pd := NewPayloadDecoder(chunks, nil, nil)
			pd.err = err
			p.payload = pd
			return nil
		}
	}
	p.payload = NewPayloadDecoder(chunks, dec, p.opts.OnData)
	return nil
}

// HandlePeerClosed reports whether a close right now completes the
// response cleanly.
func (p *ResponseParser) HandlePeerClosed() bool {
	switch p.state {
	case ParseStateComplete:
		return true
	case ParseStatePayload:
		if p.payload.HandlePeerClosed() {
			p.state = ParseStateComplete
			return true
		}
	}
	return false
}

// Close stops any decoder goroutine of an unfinished body.
func (p *ResponseParser) Close() {
	if p.payload != nil {
		p.payload.Close()
	}
}
