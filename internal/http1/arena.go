package http1

// LazyBuffer is a bump allocator for short-lived message bytes (rendered
// header lines, accumulated start lines). Blocks are allocated on first
// use and kept across Reset, so a request that is serialized again after a
// connection reset does not allocate.
type LazyBuffer struct {
	blockSize int
	blocks    [][]byte
	cur       int
	used      int
}

func NewLazyBuffer(blockSize int) *LazyBuffer {
	if blockSize <= 0 {
		blockSize = 1024
	}
	return &LazyBuffer{blockSize: blockSize}
}

// Alloc returns a zeroed slice of length n owned by the arena. The slice
// has no spare capacity, so appending to it never clobbers a neighbor.
func (a *LazyBuffer) Alloc(n int) []byte {
	if n <= 0 {
		return nil
	}
	if n > a.blockSize {
		// Oversized requests get a private block that is not reused.
		return make([]byte, n)
	}
	for {
		if a.cur < len(a.blocks) {
			blk := a.blocks[a.cur]
			if a.used+n <= len(blk) {
				p := blk[a.used : a.used+n : a.used+n]
				a.used += n
				clear(p)
				return p
			}
			a.cur++
			a.used = 0
			continue
		}
		a.blocks = append(a.blocks, make([]byte, a.blockSize))
	}
}

// Copy duplicates b into the arena.
func (a *LazyBuffer) Copy(b []byte) []byte {
	p := a.Alloc(len(b))
	copy(p, b)
	return p
}

// Reset releases every allocation at once. Slices handed out earlier must
// no longer be used.
func (a *LazyBuffer) Reset() {
	a.cur = 0
	a.used = 0
}

// Blocks reports how many blocks have been allocated so far.
func (a *LazyBuffer) Blocks() int { return len(a.blocks) }
