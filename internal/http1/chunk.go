package http1

import (
	"fmt"

	"github.com/YuanQin2000/datax/internal/status"
)

// Framing is how the end of a message body is determined.
type Framing uint8

const (
	FramingNone Framing = iota
	FramingLength
	// FramingUnknown bodies end when the peer closes the connection.
	FramingUnknown
	FramingChunked
)

func (f Framing) String() string {
	switch f {
	case FramingLength:
		return "content-length"
	case FramingUnknown:
		return "until-close"
	case FramingChunked:
		return "chunked"
	}
	return "none"
}

type chunkState uint8

const (
	chunkSize chunkState = iota
	chunkExt
	chunkSizeLF
	chunkData
	chunkDataCR
	chunkDataLF
	chunkTrailer
	chunkDone
)

// maxChunkSizeDigits keeps the chunk size within int64.
const maxChunkSizeDigits = 15

// ChunkParser tracks body framing and, for chunked bodies, the position
// inside the chunk stream. Body bytes are handed to a deliver callback as
// sub-slices of the input; the callback must copy what it keeps.
type ChunkParser struct {
	framing   Framing
	remaining int64
	state     chunkState
	digits    int
	trailer   *HeaderParser
	done      bool
}

// NewChunkParser creates a parser for the given framing. length is used
// only with FramingLength. trailer receives chunked trailer fields and may
// be nil to discard them.
func NewChunkParser(framing Framing, length int64, trailer *HeaderField) *ChunkParser {
	p := &ChunkParser{framing: framing}
	switch framing {
	case FramingNone:
		p.done = true
	case FramingLength:
		p.remaining = length
		p.done = length == 0
	case FramingChunked:
		if trailer == nil {
			trailer = NewHeaderField(TrailerConfig)
		}
		p.trailer = NewHeaderParser(trailer, DefaultMaxHeaderBytes)
	}
	return p
}

func (p *ChunkParser) Framing() Framing { return p.framing }
func (p *ChunkParser) Done() bool       { return p.done }

// Remaining is the byte count still owed for the whole body (length
// framing) or the current chunk (chunked framing).
func (p *ChunkParser) Remaining() int64 { return p.remaining }

// Process consumes body bytes from data. It returns nil when the body is
// complete, status.InProgress when more input is needed, or an error. An
// error from deliver aborts processing and is returned as is.
func (p *ChunkParser) Process(data []byte, deliver func([]byte) error) (int, error) {
	if p.done {
		return 0, nil
	}
	switch p.framing {
	case FramingLength:
		n := len(data)
		if int64(n) > p.remaining {
			n = int(p.remaining)
		}
		if n > 0 {
			if err := deliver(data[:n]); err != nil {
				return 0, err
			}
		}
		p.remaining -= int64(n)
		if p.remaining == 0 {
			p.done = true
			return n, nil
		}
		return n, status.InProgress
	case FramingUnknown:
		if len(data) > 0 {
			if err := deliver(data); err != nil {
				return 0, err
			}
		}
		return len(data), status.InProgress
	case FramingChunked:
		return p.processChunked(data, deliver)
	}
	return 0, nil
}

func (p *ChunkParser) processChunked(data []byte, deliver func([]byte) error) (int, error) {
	i := 0
	for i < len(data) {
		c := data[i]
		switch p.state {
		case chunkSize:
			if v, ok := unhex(c); ok {
				if p.digits == maxChunkSizeDigits {
					return i, fmt.Errorf("chunk size too large: %w", status.ProtocolMalformed)
				}
				p.remaining = p.remaining<<4 | int64(v)
				p.digits++
				i++
				continue
			}
			if p.digits == 0 {
				return i, fmt.Errorf("chunk size starts with %q: %w", c, status.ProtocolMalformed)
			}
			switch c {
			case ';', ' ', '\t':
				p.state = chunkExt
			case '\r':
				p.state = chunkSizeLF
			case '\n':
				p.endSizeLine()
			default:
				return i, fmt.Errorf("bad chunk size byte %q: %w", c, status.ProtocolMalformed)
			}
			i++
		case chunkExt:
			// Chunk extensions are skipped.
			if c == '\n' {
				p.endSizeLine()
			}
			i++
		case chunkSizeLF:
			if c != '\n' {
				return i, fmt.Errorf("chunk size line missing LF: %w", status.ProtocolMalformed)
			}
			p.endSizeLine()
			i++
		case chunkData:
			n := len(data) - i
			if int64(n) > p.remaining {
				n = int(p.remaining)
			}
			if err := deliver(data[i : i+n]); err != nil {
				return i, err
			}
			i += n
			p.remaining -= int64(n)
			if p.remaining == 0 {
				p.state = chunkDataCR
			}
		case chunkDataCR:
			switch c {
			case '\r':
				p.state = chunkDataLF
			case '\n':
				p.state = chunkSize
			default:
				return i, fmt.Errorf("chunk data not followed by CRLF: %w", status.ProtocolMalformed)
			}
			i++
		case chunkDataLF:
			if c != '\n' {
				return i, fmt.Errorf("chunk data not followed by CRLF: %w", status.ProtocolMalformed)
			}
			p.state = chunkSize
			i++
		case chunkTrailer:
			n, err := p.trailer.Parse(data[i:])
			i += n
			if err != nil {
				return i, err
			}
			p.state = chunkDone
			p.done = true
			return i, nil
		}
	}
	return i, status.InProgress
}

func (p *ChunkParser) endSizeLine() {
	p.digits = 0
	if p.remaining == 0 {
		p.state = chunkTrailer
		return
	}
	p.state = chunkData
}

// HandlePeerClosed reports whether a peer close at this point ends the
// body cleanly: the terminal chunk was seen or the length was unknown.
func (p *ChunkParser) HandlePeerClosed() bool {
	if p.done {
		return true
	}
	if p.framing == FramingUnknown {
		p.done = true
		return true
	}
	return false
}

// Trailer returns the chunked trailer fields, if any.
func (p *ChunkParser) Trailer() *HeaderField {
	if p.trailer == nil {
		return nil
	}
	return p.trailer.Header()
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// AppendChunk frames p as one chunk. An empty p produces the terminal
// chunk with an empty trailer.
func AppendChunk(dst, p []byte) []byte {
	if len(p) == 0 {
		return append(dst, "0\r\n\r\n"...)
	}
	const hexDigits = "0123456789abcdef"
	var tmp [16]byte
	i := len(tmp)
	for n := len(p); n > 0; n >>= 4 {
		i--
		tmp[i] = hexDigits[n&0xf]
	}
	dst = append(dst, tmp[i:]...)
	dst = append(dst, '\r', '\n')
	dst = append(dst, p...)
	return append(dst, '\r', '\n')
}
