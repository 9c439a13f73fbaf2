package transport

import (
	"github.com/YuanQin2000/datax/internal/status"
)

var errIllegal = status.IllegalParameter

// IOContext is the byte stream under a Connection: a plain socket or a
// TLS session wrapping one. Read and Write never block; they return
// status.InProgress when the kernel has nothing to give or take, and Read
// returns status.Inactive at end of stream.
type IOContext interface {
	FD() int
	// Connect completes a nonblocking connect: nil once established,
	// status.InProgress while pending.
	Connect() error
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	// Flush pushes bytes the context buffered internally.
	Flush() error
	Close() error
}
