package http1

import (
	"bytes"
	"fmt"

	"golang.org/x/net/http/httpguts"

	"github.com/YuanQin2000/datax/internal/status"
)

// DefaultMaxHeaderBytes bounds one header block (or trailer block).
const DefaultMaxHeaderBytes = 64 << 10

// HeaderParser is a resumable parser for a block of header lines ending
// with an empty line. Parse always consumes every byte it is given unless
// it hits the end of the block or an error; a partial line is buffered
// internally, so callers can feed input split at any point.
type HeaderParser struct {
	header *HeaderField
	limit  int
	total  int

	line    []byte // physical line split across Parse calls
	logical []byte // last complete line, held until we know it is not folded
	pending bool
	done    bool
}

func NewHeaderParser(h *HeaderField, limit int) *HeaderParser {
	if limit <= 0 {
		limit = DefaultMaxHeaderBytes
	}
	return &HeaderParser{header: h, limit: limit}
}

func (p *HeaderParser) Header() *HeaderField { return p.header }
func (p *HeaderParser) Done() bool           { return p.done }

// Reset prepares the parser for a new block into h.
func (p *HeaderParser) Reset(h *HeaderField) {
	p.header = h
	p.total = 0
	p.line = p.line[:0]
	p.logical = p.logical[:0]
	p.pending = false
	p.done = false
}

// Parse consumes header bytes. It returns nil once the terminating empty
// line was consumed, status.InProgress when more input is needed, or a
// malformed error.
func (p *HeaderParser) Parse(data []byte) (int, error) {
	if p.done {
		return 0, nil
	}
	consumed := 0
	for consumed < len(data) {
		rest := data[consumed:]
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			if err := p.account(len(rest)); err != nil {
				return consumed, err
			}
			p.line = append(p.line, rest...)
			return len(data), status.InProgress
		}
		seg := rest[:i+1]
		consumed += len(seg)
		if err := p.account(len(seg)); err != nil {
			return consumed, err
		}

		phys := seg
		if len(p.line) > 0 {
			p.line = append(p.line, seg...)
			phys = p.line
		}
		phys = trimEOL(phys)

		if len(phys) == 0 {
			err := p.commit()
			p.line = p.line[:0]
			if err != nil {
				return consumed, err
			}
			p.done = true
			return consumed, nil
		}

		if phys[0] == ' ' || phys[0] == '\t' {
			// obs-fold: continuation of the previous line.
			if !p.pending {
				return consumed, fmt.Errorf("continuation without field: %w", status.ProtocolMalformed)
			}
			p.logical = append(p.logical, ' ')
			p.logical = append(p.logical, trimOWS(phys)...)
		} else {
			if err := p.commit(); err != nil {
				return consumed, err
			}
			p.logical = append(p.logical[:0], phys...)
			p.pending = true
		}
		p.line = p.line[:0]
	}
	return consumed, status.InProgress
}

func (p *HeaderParser) account(n int) error {
	p.total += n
	if p.total > p.limit {
		return fmt.Errorf("header block exceeds %d bytes: %w", p.limit, status.ProtocolMalformed)
	}
	return nil
}

func (p *HeaderParser) commit() error {
	if !p.pending {
		return nil
	}
	p.pending = false
	colon := bytes.IndexByte(p.logical, ':')
	if colon <= 0 {
		return fmt.Errorf("field line without name %q: %w", p.logical, status.ProtocolMalformed)
	}
	name := string(p.logical[:colon])
	if !httpguts.ValidHeaderFieldName(name) {
		return fmt.Errorf("invalid field name %q: %w", name, status.ProtocolMalformed)
	}
	value := trimOWS(p.logical[colon+1:])
	if !httpguts.ValidHeaderFieldValue(string(value)) {
		return fmt.Errorf("invalid value for %s: %w", name, status.ProtocolMalformed)
	}
	return p.header.Put(name, value)
}

func trimEOL(b []byte) []byte {
	b = bytes.TrimSuffix(b, []byte{'\n'})
	return bytes.TrimSuffix(b, []byte{'\r'})
}
