package http1

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuanQin2000/datax/internal/status"
)

func collect(dst *[]byte) func([]byte) error {
	return func(p []byte) error {
		*dst = append(*dst, p...)
		return nil
	}
}

func encodeChunks(payload []byte, sizes []int) []byte {
	var out []byte
	for len(payload) > 0 {
		n := sizes[0]
		sizes = append(sizes[1:], sizes[0])
		if n > len(payload) {
			n = len(payload)
		}
		out = AppendChunk(out, payload[:n])
		payload = payload[n:]
	}
	return AppendChunk(out, nil)
}

func TestChunkParser_RoundTripAnySplit(t *testing.T) {
	payload := make([]byte, 700)
	rand.New(rand.NewSource(3)).Read(payload)
	wire := encodeChunks(payload, []int{1, 17, 255, 256, 4096})
	wire = append(wire, "NEXT"...)

	for split := 0; split < len(wire)-4; split++ {
		var got []byte
		p := NewChunkParser(FramingChunked, 0, nil)
		n1, err := p.Process(wire[:split], collect(&got))
		if err == nil {
			t.Fatalf("complete before terminal chunk at split %d", split)
		}
		require.ErrorIs(t, err, status.InProgress)
		require.Equal(t, split, n1)

		n2, err := p.Process(wire[split:], collect(&got))
		require.NoError(t, err, "split %d", split)
		assert.Equal(t, len(wire)-4, n1+n2, "terminal chunk ends consumption at split %d", split)
		require.True(t, bytes.Equal(payload, got), "split %d", split)
		assert.True(t, p.HandlePeerClosed())
	}
}

func TestChunkParser_ExtensionsAndTrailer(t *testing.T) {
	wire := "5;name=value\r\nhello\r\n6 ; x\r\n world\r\n0\r\nExpires: 0\r\nX-Checksum: abc\r\n\r\n"
	trailer := NewHeaderField(TrailerConfig)
	p := NewChunkParser(FramingChunked, 0, trailer)
	var got []byte
	n, err := p.Process([]byte(wire), collect(&got))
	require.NoError(t, err)
	assert.Equal(t, len(wire), n)
	assert.Equal(t, "hello world", string(got))
	assert.Equal(t, []string{"abc"}, p.Trailer().Extension("X-Checksum"))
	assert.True(t, p.Trailer().Has(FieldExpires))
}

func TestChunkParser_MalformedSizeConsumesNothing(t *testing.T) {
	var got []byte
	p := NewChunkParser(FramingChunked, 0, nil)
	n, err := p.Process([]byte("zz\r\nabc"), collect(&got))
	assert.Equal(t, 0, n)
	assert.Equal(t, status.ProtocolMalformed, status.Of(err))
	assert.Empty(t, got)

	p = NewChunkParser(FramingChunked, 0, nil)
	_, err = p.Process([]byte("3\r\nabcX"), collect(&got))
	assert.Equal(t, status.ProtocolMalformed, status.Of(err), "data must end with CRLF")

	p = NewChunkParser(FramingChunked, 0, nil)
	_, err = p.Process([]byte("1000000000000000\r\n"), collect(&got))
	assert.Equal(t, status.ProtocolMalformed, status.Of(err), "size overflow")
}

func TestChunkParser_PeerClosedSemantics(t *testing.T) {
	var sink []byte
	chunked := NewChunkParser(FramingChunked, 0, nil)
	_, err := chunked.Process([]byte("4\r\nab"), collect(&sink))
	require.ErrorIs(t, err, status.InProgress)
	assert.False(t, chunked.HandlePeerClosed(), "close inside a chunk is a truncated body")

	unknown := NewChunkParser(FramingUnknown, 0, nil)
	_, err = unknown.Process([]byte("anything"), collect(&sink))
	require.ErrorIs(t, err, status.InProgress)
	assert.True(t, unknown.HandlePeerClosed())

	fixed := NewChunkParser(FramingLength, 10, nil)
	n, err := fixed.Process([]byte("12345"), collect(&sink))
	require.ErrorIs(t, err, status.InProgress)
	assert.Equal(t, 5, n)
	assert.Equal(t, int64(5), fixed.Remaining())
	assert.False(t, fixed.HandlePeerClosed())
	n, err = fixed.Process([]byte("67890EXTRA"), collect(&sink))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.True(t, fixed.HandlePeerClosed())

	assert.True(t, NewChunkParser(FramingNone, 0, nil).Done())
}

func TestAppendChunk(t *testing.T) {
	assert.Equal(t, "1a\r\n"+string(bytes.Repeat([]byte{'x'}, 26))+"\r\n", string(AppendChunk(nil, bytes.Repeat([]byte{'x'}, 26))))
	assert.Equal(t, "0\r\n\r\n", string(AppendChunk(nil, nil)))
}
