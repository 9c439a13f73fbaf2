package codec

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/YuanQin2000/datax/internal/status"
)

func sample(n int) []byte {
	r := rand.New(rand.NewSource(42))
	words := []string{"alpha ", "beta ", "gamma ", "delta\n"}
	var b bytes.Buffer
	for b.Len() < n {
		b.WriteString(words[r.Intn(len(words))])
	}
	return b.Bytes()[:n]
}

func gzipped(t *testing.T, p []byte) []byte {
	var b bytes.Buffer
	w := gzip.NewWriter(&b)
	_, err := w.Write(p)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return b.Bytes()
}

func zlibbed(t *testing.T, p []byte) []byte {
	var b bytes.Buffer
	w := zlib.NewWriter(&b)
	_, err := w.Write(p)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return b.Bytes()
}

func rawDeflated(t *testing.T, p []byte) []byte {
	var b bytes.Buffer
	w, err := flate.NewWriter(&b, flate.BestSpeed)
	require.NoError(t, err)
	_, err = w.Write(p)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return b.Bytes()
}

func brotlied(t *testing.T, p []byte) []byte {
	var b bytes.Buffer
	w := brotli.NewWriter(&b)
	_, err := w.Write(p)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return b.Bytes()
}

// decodeInSlices pushes enc through d in slices of the given size.
func decodeInSlices(t *testing.T, d Decompressor, enc []byte, size int) ([]byte, error) {
	t.Helper()
	defer d.Close()
	var out bytes.Buffer
	for len(enc) > 0 {
		n := size
		if n > len(enc) {
			n = len(enc)
		}
		blocks, err := d.Process(enc[:n])
		for _, b := range blocks {
			out.Write(b)
		}
		if err != nil {
			return out.Bytes(), err
		}
		enc = enc[n:]
	}
	blocks, err := d.Finish()
	for _, b := range blocks {
		out.Write(b)
	}
	return out.Bytes(), err
}

func TestDecompressor_Codings(t *testing.T) {
	defer goleak.VerifyNone(t)
	plain := sample(100 << 10)

	tests := []struct {
		name     string
		encoding string
		encode   func(*testing.T, []byte) []byte
	}{
		{"gzip", "gzip", gzipped},
		{"x-gzip", "X-Gzip", gzipped},
		{"deflate zlib", "deflate", zlibbed},
		{"deflate raw", "deflate", rawDeflated},
		{"brotli", "br", brotlied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := tt.encode(t, plain)
			for _, size := range []int{1, 7, 4096, len(enc)} {
				d, err := New(tt.encoding, 0)
				require.NoError(t, err)
				got, err := decodeInSlices(t, d, enc, size)
				require.NoError(t, err, "slice size %d", size)
				require.True(t, bytes.Equal(plain, got), "slice size %d", size)
			}
		})
	}
}

// within fails the test instead of hanging when fn does not return.
func within(t *testing.T, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("decompressor did not return")
	}
}

func TestDecompressor_RepeatedHandOffs(t *testing.T) {
	defer goleak.VerifyNone(t)
	plain := sample(8 << 10)
	enc := gzipped(t, plain)
	half := len(enc) / 2

	t.Run("process then finish", func(t *testing.T) {
		d, err := New("gzip", 0)
		require.NoError(t, err)
		defer d.Close()
		var got bytes.Buffer
		within(t, func() {
			blocks, err := d.Process(enc)
			require.NoError(t, err)
			for _, b := range blocks {
				got.Write(b)
			}
			blocks, err = d.Finish()
			require.NoError(t, err)
			for _, b := range blocks {
				got.Write(b)
			}
		})
		assert.True(t, bytes.Equal(plain, got.Bytes()))
	})

	t.Run("two slices then finish", func(t *testing.T) {
		d, err := New("gzip", 0)
		require.NoError(t, err)
		defer d.Close()
		var got bytes.Buffer
		within(t, func() {
			for _, part := range [][]byte{enc[:half], enc[half:]} {
				blocks, err := d.Process(part)
				require.NoError(t, err)
				for _, b := range blocks {
					got.Write(b)
				}
			}
			blocks, err := d.Finish()
			require.NoError(t, err)
			for _, b := range blocks {
				got.Write(b)
			}
		})
		assert.True(t, bytes.Equal(plain, got.Bytes()))
	})

	t.Run("finish twice", func(t *testing.T) {
		d, err := New("deflate", 0)
		require.NoError(t, err)
		defer d.Close()
		within(t, func() {
			_, err := d.Process(zlibbed(t, plain))
			require.NoError(t, err)
			_, err = d.Finish()
			require.NoError(t, err)
			_, err = d.Finish()
			require.NoError(t, err)
			_, err = d.Process([]byte{1})
			assert.Equal(t, status.Inactive, status.Of(err))
		})
	})
}

func TestDecompressor_Identity(t *testing.T) {
	d, err := New("identity", 0)
	assert.NoError(t, err)
	assert.Nil(t, d)
	assert.True(t, Supported("BR"))
	assert.False(t, Supported("compress"))
}

func TestDecompressor_Unsupported(t *testing.T) {
	_, err := New("compress", 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.IllegalParameter))
}

func TestDecompressor_MalformedInput(t *testing.T) {
	defer goleak.VerifyNone(t)
	d, err := New("gzip", 0)
	require.NoError(t, err)
	_, err = decodeInSlices(t, d, []byte("definitely not gzip data"), 5)
	require.Error(t, err)
	assert.Equal(t, status.ProtocolMalformed, status.Of(err))
}

func TestDecompressor_TruncatedInput(t *testing.T) {
	defer goleak.VerifyNone(t)
	enc := gzipped(t, sample(4096))
	d, err := New("gzip", 0)
	require.NoError(t, err)
	_, err = decodeInSlices(t, d, enc[:len(enc)/2], 64)
	require.Error(t, err)
	assert.Equal(t, status.ProtocolMalformed, status.Of(err))
}

func TestDecompressor_LimitMapsToNoMemory(t *testing.T) {
	defer goleak.VerifyNone(t)
	enc := gzipped(t, bytes.Repeat([]byte{'z'}, 1<<20))
	d, err := New("gzip", 64<<10)
	require.NoError(t, err)
	_, err = decodeInSlices(t, d, enc, 512)
	require.Error(t, err)
	assert.Equal(t, status.NoMemory, status.Of(err))
}

func TestDecompressor_CloseMidStreamStopsGoroutine(t *testing.T) {
	defer goleak.VerifyNone(t)
	enc := gzipped(t, sample(64<<10))
	d, err := New("gzip", 0)
	require.NoError(t, err)
	_, err = d.Process(enc[:100])
	require.NoError(t, err)
	d.Close()
	d.Close()
}

func TestDecompressor_EmptyBody(t *testing.T) {
	defer goleak.VerifyNone(t)
	d, err := New("gzip", 0)
	require.NoError(t, err)
	defer d.Close()
	out, err := d.Finish()
	assert.NoError(t, err)
	assert.Empty(t, out)
}

func TestNewChain_DecodesInReverseOrder(t *testing.T) {
	defer goleak.VerifyNone(t)
	plain := sample(32 << 10)
	// Applied deflate first, then gzip: "Content-Encoding: deflate, gzip".
	enc := gzipped(t, zlibbed(t, plain))

	d, err := NewChain([]string{"deflate", "gzip"}, 0)
	require.NoError(t, err)
	got, err := decodeInSlices(t, d, enc, 333)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(plain, got))

	d, err = NewChain([]string{"identity"}, 0)
	assert.NoError(t, err)
	assert.Nil(t, d)

	_, err = NewChain([]string{"gzip", "compress"}, 0)
	assert.ErrorIs(t, err, ErrUnsupported)
}
