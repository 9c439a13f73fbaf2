package transport

// secureIO is an IOContext whose handshake runs off the loop thread.
// notify is called exactly once, from the handshake goroutine.
type secureIO interface {
	IOContext
	Start(notify func(error))
	Established() bool
}

// wouldBlock is returned by the descriptor adapter instead of EAGAIN once
// the session runs on the loop. tls.Conn keeps its state intact across
// temporary errors.
type wouldBlock struct{}

func (wouldBlock) Error() string   { return "operation would block" }
func (wouldBlock) Timeout() bool   { return true }
func (wouldBlock) Temporary() bool { return true }
