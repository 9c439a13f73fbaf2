// Package octet provides a fixed-capacity byte buffer with separate data and
// free cursors, used as the staging area between sockets and protocol
// parsers/serializers.
package octet

import "fmt"

// Buffer is a fixed backing array split into three regions:
//
//	[0, data)     front hole, already consumed
//	[data, free)  readable data
//	[free, cap)   tail free space
//
// The buffer never grows. When the tail is exhausted the caller is told so
// and must drain data first.
type Buffer struct {
	store []byte
	data  int
	free  int
	// fragment is the relocation threshold, capacity/16 with a floor of one.
	fragment int
	owned    bool
}

// New allocates a buffer with a self-owned store of the given size.
func New(size int) *Buffer {
	if size <= 0 {
		panic(fmt.Sprintf("octet: invalid buffer size %d", size))
	}
	b := NewWith(make([]byte, size))
	b.owned = true
	return b
}

// NewWith wraps a caller-owned store. The store must not be touched by the
// caller while the Buffer is in use.
func NewWith(store []byte) *Buffer {
	if len(store) == 0 {
		panic("octet: empty store")
	}
	fragment := len(store) >> 4
	if fragment < 1 {
		fragment = 1
	}
	return &Buffer{store: store, fragment: fragment}
}

func (b *Buffer) Capacity() int   { return len(b.store) }
func (b *Buffer) DataLength() int { return b.free - b.data }
func (b *Buffer) FreeLength() int { return len(b.store) - b.free }
func (b *Buffer) FrontHole() int  { return b.data }
func (b *Buffer) IsEmpty() bool   { return b.free == b.data }
func (b *Buffer) IsFull() bool    { return b.free == len(b.store) }

// Owned reports whether the store was allocated by New.
func (b *Buffer) Owned() bool { return b.owned }

// FragmentThreshold returns the size below which data is considered a
// fragment worth relocating.
func (b *Buffer) FragmentThreshold() int { return b.fragment }

// Data returns the readable region. The slice aliases the store and is only
// valid until the next mutation.
func (b *Buffer) Data() []byte { return b.store[b.data:b.free] }

// FreeBuffer returns the tail free region for an external writer, which
// must report what it wrote through SetPushInLength.
func (b *Buffer) FreeBuffer() []byte { return b.store[b.free:] }

// Append copies as many bytes of p as fit and returns the count. Existing
// data is moved to the front first when the tail alone cannot hold p.
func (b *Buffer) Append(p []byte) int {
	if len(p) > b.FreeLength() && b.data > 0 {
		b.RelocationData()
	}
	n := copy(b.store[b.free:], p)
	b.free += n
	return n
}

// SetPushInLength commits n bytes written directly into FreeBuffer.
func (b *Buffer) SetPushInLength(n int) {
	if n < 0 || n > b.FreeLength() {
		panic(fmt.Sprintf("octet: push-in length %d out of range [0,%d]", n, b.FreeLength()))
	}
	b.free += n
}

// SetPopOutLength marks n bytes of data as consumed. With relocate set the
// remaining data may be moved to the front when it has become a fragment.
func (b *Buffer) SetPopOutLength(n int, relocate bool) {
	if n < 0 || n > b.DataLength() {
		panic(fmt.Sprintf("octet: pop-out length %d out of range [0,%d]", n, b.DataLength()))
	}
	b.data += n
	if b.data == b.free {
		b.data, b.free = 0, 0
		return
	}
	if relocate {
		b.RelocationDataIfNecessary()
	}
}

// RelocationDataIfNecessary moves data to the front only when the data is a
// small fragment and the front hole is large enough to make the move pay.
func (b *Buffer) RelocationDataIfNecessary() bool {
	if b.DataLength() < b.fragment && b.data >= b.fragment {
		b.RelocationData()
		return true
	}
	return false
}

// RelocationData unconditionally moves data to offset zero.
func (b *Buffer) RelocationData() {
	if b.data == 0 {
		return
	}
	n := copy(b.store, b.store[b.data:b.free])
	b.data, b.free = 0, n
}

// Reset discards all data.
func (b *Buffer) Reset() {
	b.data, b.free = 0, 0
}

func (b *Buffer) String() string {
	return fmt.Sprintf("octet.Buffer{cap=%d data=%d free=%d}", len(b.store), b.data, b.free)
}
