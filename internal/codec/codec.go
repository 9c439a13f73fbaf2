// Package codec provides push-style streaming decompressors for HTTP
// content codings. A response body arrives in arbitrary slices on the loop
// thread; each Decompressor accepts those slices and hands back whatever
// decoded output they produce, keeping state between calls.
package codec

import (
	"bufio"
	"compress/flate"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/YuanQin2000/datax/internal/status"
)

// Decompressor decodes one content-coded stream.
//
// Process feeds the next slice of encoded input and returns the decoded
// blocks it produced. Finish signals end of input and returns the rest.
// Close releases resources and must be called exactly once, including
// when the body is abandoned midway.
type Decompressor interface {
	Process(in []byte) ([][]byte, error)
	Finish() ([][]byte, error)
	Close()
}

// Supported content codings. "compress" (LZW) is deliberately absent:
// compress/lzw does not implement the Unix compress container.
const (
	EncodingGzip     = "gzip"
	EncodingXGzip    = "x-gzip"
	EncodingDeflate  = "deflate"
	EncodingBrotli   = "br"
	EncodingIdentity = "identity"
)

// ErrUnsupported is returned for codings this package cannot decode.
var ErrUnsupported = fmt.Errorf("unsupported content coding: %w", status.IllegalParameter)

// Supported reports whether name can be decoded.
func Supported(name string) bool {
	switch normalize(name) {
	case EncodingGzip, EncodingXGzip, EncodingDeflate, EncodingBrotli, EncodingIdentity:
		return true
	}
	return false
}

// AcceptEncoding is the Accept-Encoding value matching what New can decode.
const AcceptEncoding = "br, gzip, deflate"

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// New returns a decompressor for a single coding. Identity yields a nil
// Decompressor and no error. limit caps the total decoded size; zero
// means unlimited.
func New(encoding string, limit int64) (Decompressor, error) {
	var open func(io.Reader) (io.Reader, func(), error)
	switch normalize(encoding) {
	case EncodingIdentity, "":
		return nil, nil
	case EncodingGzip, EncodingXGzip:
		open = openGzip
	case EncodingDeflate:
		open = openDeflate
	case EncodingBrotli:
		open = openBrotli
	default:
		return nil, fmt.Errorf("%q: %w", encoding, ErrUnsupported)
	}
	return newStream(open, limit), nil
}

// NewChain returns a decompressor for a list of codings in the order they
// were applied (the Content-Encoding order). Decoding runs in reverse.
func NewChain(encodings []string, limit int64) (Decompressor, error) {
	var layers []Decompressor
	for i := len(encodings) - 1; i >= 0; i-- {
		d, err := New(encodings[i], limit)
		if err != nil {
			for _, l := range layers {
				l.Close()
			}
			return nil, err
		}
		if d != nil {
			layers = append(layers, d)
		}
	}
	switch len(layers) {
	case 0:
		return nil, nil
	case 1:
		return layers[0], nil
	}
	return &chain{layers: layers}, nil
}

func openGzip(r io.Reader) (io.Reader, func(), error) {
	zr, err := getGzipReader(r)
	if err != nil {
		return nil, nil, err
	}
	return zr, func() { putGzipReader(zr) }, nil
}

func openBrotli(r io.Reader) (io.Reader, func(), error) {
	br, err := getBrotliReader(r)
	if err != nil {
		return nil, nil, err
	}
	return br, func() { putBrotliReader(br) }, nil
}

// openDeflate accepts both the zlib-wrapped stream RFC 9110 asks for and
// the raw deflate stream many servers send instead.
func openDeflate(r io.Reader) (io.Reader, func(), error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(2)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, nil, err
	}
	if len(head) == 2 && isZlibHeader(head[0], head[1]) {
		zr, err := zlib.NewReader(br)
		if err != nil {
			return nil, nil, err
		}
		return zr, func() { zr.Close() }, nil
	}
	fr := flate.NewReader(br)
	return fr, func() { fr.Close() }, nil
}

func isZlibHeader(cmf, flg byte) bool {
	return cmf&0x0f == 8 && cmf>>4 <= 7 && (uint16(cmf)<<8|uint16(flg))%31 == 0
}

// chain pipes the output of each layer into the next.
type chain struct {
	layers []Decompressor
}

func (c *chain) Process(in []byte) ([][]byte, error) {
	return c.run(0, [][]byte{in}, false)
}

func (c *chain) Finish() ([][]byte, error) {
	return c.run(0, nil, true)
}

func (c *chain) run(from int, blocks [][]byte, finish bool) ([][]byte, error) {
	for i := from; i < len(c.layers); i++ {
		var next [][]byte
		for _, b := range blocks {
			out, err := c.layers[i].Process(b)
			if err != nil {
				return nil, err
			}
			next = append(next, out...)
		}
		if finish {
			out, err := c.layers[i].Finish()
			if err != nil {
				return nil, err
			}
			next = append(next, out...)
		}
		blocks = next
	}
	return blocks, nil
}

func (c *chain) Close() {
	for _, l := range c.layers {
		l.Close()
	}
}
