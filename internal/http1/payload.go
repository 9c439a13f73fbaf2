package http1

import (
	"github.com/YuanQin2000/datax/internal/codec"
)

// PayloadDecoder couples body framing with an optional decompressor and
// forwards decoded bytes to a sink. Decoding failures are recorded and
// the remaining raw body is still consumed, so one bad body never
// desynchronizes the connection it arrived on.
type PayloadDecoder struct {
	chunks   *ChunkParser
	decoder  codec.Decompressor
	sink     func([]byte)
	err      error
	finished bool
	raw      int64
	decoded  int64
}

// NewPayloadDecoder takes ownership of decoder, which may be nil.
func NewPayloadDecoder(chunks *ChunkParser, decoder codec.Decompressor, sink func([]byte)) *PayloadDecoder {
	if sink == nil {
		sink = func([]byte) {}
	}
	return &PayloadDecoder{chunks: chunks, decoder: decoder, sink: sink}
}

func (d *PayloadDecoder) Chunks() *ChunkParser { return d.chunks }

// Err is the decoding error of this body, if any.
func (d *PayloadDecoder) Err() error { return d.err }

// RawBytes and DecodedBytes count body bytes before and after decoding.
func (d *PayloadDecoder) RawBytes() int64     { return d.raw }
func (d *PayloadDecoder) DecodedBytes() int64 { return d.decoded }

// Process consumes body bytes; see ChunkParser.Process.
func (d *PayloadDecoder) Process(data []byte) (int, error) {
	n, err := d.chunks.Process(data, d.feed)
	if err == nil {
		d.finish()
	}
	return n, err
}

// HandlePeerClosed reports whether the close ended the body cleanly.
func (d *PayloadDecoder) HandlePeerClosed() bool {
	if !d.chunks.HandlePeerClosed() {
		return false
	}
	d.finish()
	return true
}

func (d *PayloadDecoder) feed(p []byte) error {
	d.raw += int64(len(p))
	if d.err != nil {
		return nil
	}
	if d.decoder == nil {
		d.emit(p)
		return nil
	}
	blocks, err := d.decoder.Process(p)
	for _, b := range blocks {
		d.emit(b)
	}
	if err != nil {
		d.fail(err)
	}
	return nil
}

func (d *PayloadDecoder) emit(b []byte) {
	if len(b) == 0 {
		return
	}
	d.decoded += int64(len(b))
	d.sink(b)
}

func (d *PayloadDecoder) fail(err error) {
	d.err = err
	d.decoder.Close()
	d.decoder = nil
}

func (d *PayloadDecoder) finish() {
	if d.finished {
		return
	}
	d.finished = true
	if d.decoder == nil {
		return
	}
	blocks, err := d.decoder.Finish()
	for _, b := range blocks {
		d.emit(b)
	}
	if err != nil {
		d.err = err
	}
	d.decoder.Close()
	d.decoder = nil
}

// Close abandons the body and stops any decoder goroutine.
func (d *PayloadDecoder) Close() {
	if d.decoder != nil {
		d.decoder.Close()
		d.decoder = nil
	}
}
