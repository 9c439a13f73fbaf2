// Package reactor implements the single-threaded event loop: an epoll
// backed Poller that dispatches socket readiness straight to registered
// clients, a cross-thread control channel, a Looper that owns one OS thread
// and a deadline sorted TimerManager.
//
// Every Client callback runs on the loop thread. Other goroutines only talk
// to the loop through messages.
package reactor

import "time"

// Client is an object registered with a Poller. All callbacks are invoked
// on the loop thread.
type Client interface {
	FD() int
	OnIncomingData()
	OnOutgoingReady()
	OnPeerClosed()
	OnError(err error)
}

// AttachObserver is implemented by clients that want to know when their
// registration has actually been applied on the loop thread.
type AttachObserver interface {
	OnAttached(ok bool)
	OnDetached()
}

// MessageKind tags a control message.
type MessageKind uint8

const (
	MsgNone MessageKind = iota
	MsgAddClient
	MsgRemoveClient
	MsgAsyncTask
	MsgStartTimer
	MsgStopTimer
	MsgExit
	// MsgExtCommand and MsgUser are delivered to the Looper's Runner.
	MsgExtCommand
	MsgUser
)

func (k MessageKind) String() string {
	switch k {
	case MsgAddClient:
		return "add-client"
	case MsgRemoveClient:
		return "remove-client"
	case MsgAsyncTask:
		return "async-task"
	case MsgStartTimer:
		return "start-timer"
	case MsgStopTimer:
		return "stop-timer"
	case MsgExit:
		return "exit"
	case MsgExtCommand:
		return "ext-command"
	case MsgUser:
		return "user"
	}
	return "none"
}

// Message is the unit carried by a MessageSwitch.
type Message struct {
	Kind    MessageKind
	Client  Client
	Owned   bool
	Command any
	Task    func()

	timer timerSpec
	done  chan struct{}
}

type timerSpec struct {
	id       TimerID
	delay    time.Duration
	interval time.Duration
	fn       func()
}

// IsSystem reports whether the Looper handles the message itself.
func (m *Message) IsSystem() bool {
	return m.Kind != MsgExtCommand && m.Kind != MsgUser
}

func (m *Message) complete() {
	if m.done != nil {
		close(m.done)
		m.done = nil
	}
}

// MessageSwitch is the control plane a Looper reads from. ReadMessage
// blocks for at most timeout (a negative timeout blocks indefinitely) and
// returns a nil message when nothing arrived.
type MessageSwitch interface {
	ReadMessage(timeout time.Duration) (*Message, error)
	WriteMessage(msg *Message) error
	Close() error
}

// threadBinder is implemented by switches that need the loop thread id.
type threadBinder interface {
	BindThread(tid int)
}
