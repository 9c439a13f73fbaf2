package http1

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/YuanQin2000/datax/internal/status"
)

// Version is an HTTP protocol version.
type Version struct {
	Major, Minor uint8
}

var (
	HTTP10 = Version{1, 0}
	HTTP11 = Version{1, 1}
)

func (v Version) String() string {
	return "HTTP/" + strconv.Itoa(int(v.Major)) + "." + strconv.Itoa(int(v.Minor))
}

func (v Version) AppendTo(dst []byte) []byte {
	return append(dst, 'H', 'T', 'T', 'P', '/', '0'+v.Major, '.', '0'+v.Minor)
}

// AtLeast reports whether v >= o.
func (v Version) AtLeast(o Version) bool {
	return v.Major > o.Major || (v.Major == o.Major && v.Minor >= o.Minor)
}

// ParseVersion parses "HTTP/x.y" with single digit components.
func ParseVersion(b []byte) (Version, error) {
	if len(b) != 8 || !bytes.HasPrefix(b, []byte("HTTP/")) || b[6] != '.' ||
		!isDigit(b[5]) || !isDigit(b[7]) {
		return Version{}, fmt.Errorf("bad version %q: %w", b, status.ProtocolMalformed)
	}
	return Version{b[5] - '0', b[7] - '0'}, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// RequestLine is "METHOD SP target SP version".
type RequestLine struct {
	Method  Method
	Target  string
	Version Version
}

func (l RequestLine) AppendTo(dst []byte) []byte {
	dst = append(dst, l.Method.String()...)
	dst = append(dst, ' ')
	dst = append(dst, l.Target...)
	dst = append(dst, ' ')
	dst = l.Version.AppendTo(dst)
	return append(dst, '\r', '\n')
}

// ParseRequestLine parses a request line without its line terminator.
func ParseRequestLine(line []byte) (RequestLine, error) {
	first := bytes.IndexByte(line, ' ')
	last := bytes.LastIndexByte(line, ' ')
	if first <= 0 || last <= first+1 {
		return RequestLine{}, fmt.Errorf("bad request line %q: %w", line, status.ProtocolMalformed)
	}
	m, ok := ParseMethod(string(line[:first]))
	if !ok {
		return RequestLine{}, fmt.Errorf("unknown method %q: %w", line[:first], status.ProtocolMalformed)
	}
	v, err := ParseVersion(line[last+1:])
	if err != nil {
		return RequestLine{}, err
	}
	return RequestLine{Method: m, Target: string(line[first+1 : last]), Version: v}, nil
}

// StatusLine is "version SP code SP reason".
type StatusLine struct {
	Version Version
	Code    int
	Reason  string
}

func (l StatusLine) AppendTo(dst []byte) []byte {
	dst = l.Version.AppendTo(dst)
	dst = append(dst, ' ')
	dst = strconv.AppendInt(dst, int64(l.Code), 10)
	dst = append(dst, ' ')
	dst = append(dst, l.Reason...)
	return append(dst, '\r', '\n')
}

// ParseStatusLine parses a status line without its line terminator. The
// reason phrase may be empty and the space before it may be missing.
func ParseStatusLine(line []byte) (StatusLine, error) {
	if len(line) < 12 || line[8] != ' ' {
		return StatusLine{}, fmt.Errorf("bad status line %q: %w", line, status.ProtocolMalformed)
	}
	v, err := ParseVersion(line[:8])
	if err != nil {
		return StatusLine{}, err
	}
	if v.Major != 1 {
		return StatusLine{}, fmt.Errorf("unsupported version %s: %w", v, status.ProtocolError)
	}
	c := line[9:12]
	if !isDigit(c[0]) || !isDigit(c[1]) || !isDigit(c[2]) || c[0] == '0' {
		return StatusLine{}, fmt.Errorf("bad status code %q: %w", c, status.ProtocolMalformed)
	}
	code := int(c[0]-'0')*100 + int(c[1]-'0')*10 + int(c[2]-'0')
	var reason string
	if len(line) > 12 {
		if line[12] != ' ' {
			return StatusLine{}, fmt.Errorf("bad status line %q: %w", line, status.ProtocolMalformed)
		}
		reason = string(line[13:])
	}
	return StatusLine{Version: v, Code: code, Reason: reason}, nil
}
