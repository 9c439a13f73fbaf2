//go:build linux

package reactor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/YuanQin2000/datax/internal/status"
)

const (
	defaultControlQueue = 1024
	defaultEventGrowth  = 64

	clientEvents = unix.EPOLLIN | unix.EPOLLOUT | unix.EPOLLRDHUP | unix.EPOLLET
)

// PollerConfig sizes the control channel and the epoll event batch.
type PollerConfig struct {
	ControlQueueSize int
	EventGrowth      int
}

type registration struct {
	client Client
	owned  bool
}

// Poller is the epoll reactor. Readiness events are dispatched directly to
// clients inside ReadMessage; control messages arrive through a buffered
// channel whose writers bump an eventfd registered in the same epoll set.
type Poller struct {
	epfd   int
	wakefd int

	clients map[int]*registration
	events  []unix.EpollEvent
	growth  int

	control     chan *Message
	cache       []*Message
	undelivered func(*Message)

	tid      atomic.Int32
	quit     chan struct{}
	quitOnce sync.Once
	mu       sync.RWMutex // guards fd lifetime against concurrent writers
	closed   bool

	logger *zap.Logger
}

func NewPoller(cfg PollerConfig, logger *zap.Logger) (*Poller, error) {
	if cfg.ControlQueueSize <= 0 {
		cfg.ControlQueueSize = defaultControlQueue
	}
	if cfg.EventGrowth <= 0 {
		cfg.EventGrowth = defaultEventGrowth
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, fmt.Errorf("epoll add wake fd: %w", err)
	}

	return &Poller{
		epfd:    epfd,
		wakefd:  wakefd,
		clients: make(map[int]*registration),
		events:  make([]unix.EpollEvent, cfg.EventGrowth),
		growth:  cfg.EventGrowth,
		control: make(chan *Message, cfg.ControlQueueSize),
		quit:    make(chan struct{}),
		logger:  logger.Named("poller"),
	}, nil
}

// BindThread records the loop thread. Called by the Looper.
func (p *Poller) BindThread(tid int) { p.tid.Store(int32(tid)) }

// OnUndelivered sets fn to receive the user messages still queued when the
// poller closes. Set it before the loop starts.
func (p *Poller) OnUndelivered(fn func(*Message)) { p.undelivered = fn }

// InLoop reports whether the caller is the bound loop thread.
func (p *Poller) InLoop() bool {
	tid := p.tid.Load()
	return tid != 0 && tid == int32(gettid())
}

// ClientCount is only meaningful on the loop thread.
func (p *Poller) ClientCount() int { return len(p.clients) }

// AddClient registers c. On the loop thread the registration is applied
// before returning; elsewhere it is queued and the outcome is reported via
// AttachObserver.
func (p *Poller) AddClient(c Client, owned bool) error {
	if p.InLoop() {
		return p.addClient(c, owned)
	}
	return p.WriteMessage(&Message{Kind: MsgAddClient, Client: c, Owned: owned})
}

func (p *Poller) RemoveClient(c Client) error {
	if p.InLoop() {
		return p.removeClient(c)
	}
	return p.WriteMessage(&Message{Kind: MsgRemoveClient, Client: c})
}

// SendExtCommand forwards an opaque command to the Looper's Runner.
func (p *Poller) SendExtCommand(cmd any) error {
	return p.WriteMessage(&Message{Kind: MsgExtCommand, Command: cmd})
}

// PostAsyncTask schedules fn on the loop thread.
func (p *Poller) PostAsyncTask(fn func()) error {
	return p.WriteMessage(&Message{Kind: MsgAsyncTask, Task: fn})
}

// Exit asks the owning Looper to leave its loop.
func (p *Poller) Exit() error {
	return p.WriteMessage(&Message{Kind: MsgExit})
}

func (p *Poller) addClient(c Client, owned bool) error {
	fd := c.FD()
	if fd < 0 {
		notifyAttached(c, false)
		return fmt.Errorf("add client fd %d: %w", fd, status.IllegalParameter)
	}
	if _, dup := p.clients[fd]; dup {
		notifyAttached(c, false)
		return fmt.Errorf("add client fd %d already registered: %w", fd, status.IllegalParameter)
	}
	ev := unix.EpollEvent{Events: clientEvents, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		notifyAttached(c, false)
		return fmt.Errorf("epoll add fd %d: %w", fd, status.Classify(err))
	}
	p.clients[fd] = &registration{client: c, owned: owned}
	if need := len(p.clients) + 1; need > len(p.events) {
		p.events = make([]unix.EpollEvent, len(p.events)+p.growth)
	}
	notifyAttached(c, true)
	return nil
}

func (p *Poller) removeClient(c Client) error {
	fd := c.FD()
	reg, ok := p.clients[fd]
	if !ok || reg.client != c {
		return fmt.Errorf("remove client fd %d: %w", fd, status.Inactive)
	}
	delete(p.clients, fd)
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		p.logger.Debug("epoll del failed", zap.Int("fd", fd), zap.Error(err))
	}
	if o, ok := c.(AttachObserver); ok {
		o.OnDetached()
	}
	return nil
}

func notifyAttached(c Client, ok bool) {
	if o, is := c.(AttachObserver); is {
		o.OnAttached(ok)
	}
}

// WriteMessage queues msg for the loop thread. From the loop thread itself
// the message goes straight to the local cache, so the loop never blocks on
// its own channel.
func (p *Poller) WriteMessage(msg *Message) error {
	if p.InLoop() {
		p.cache = append(p.cache, msg)
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return status.Inactive
	}
	select {
	case p.control <- msg:
	case <-p.quit:
		return status.Inactive
	}

	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	if _, err := unix.Write(p.wakefd, one[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
		// The message is queued; the next wakeup will pick it up.
		p.logger.Debug("eventfd write failed", zap.Error(err))
	}
	return nil
}

// ReadMessage waits for readiness, dispatches data-plane events to clients
// and returns the next control message, if any. Add and remove requests
// are applied in queue order and never returned.
func (p *Poller) ReadMessage(timeout time.Duration) (*Message, error) {
	if msg := p.nextCached(); msg != nil {
		return msg, nil
	}

	ms := -1
	if timeout >= 0 {
		ms = int((timeout + time.Millisecond - 1) / time.Millisecond)
	}
	n, err := unix.EpollWait(p.epfd, p.events, ms)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, fmt.Errorf("epoll wait: %w", err)
	}

	woken := false
	for i := 0; i < n; i++ {
		ev := p.events[i]
		fd := int(ev.Fd)
		if fd == p.wakefd {
			woken = true
			continue
		}
		p.dispatch(fd, ev.Events)
	}
	if woken {
		p.drainControl()
	}
	return p.nextCached(), nil
}

func (p *Poller) dispatch(fd int, events uint32) {
	reg, ok := p.clients[fd]
	if !ok {
		return
	}
	c := reg.client

	if events&unix.EPOLLERR != 0 {
		c.OnError(socketError(fd))
		return
	}
	if events&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
		c.OnIncomingData()
		if !p.stillRegistered(fd, c) {
			return
		}
	}
	if events&unix.EPOLLOUT != 0 {
		c.OnOutgoingReady()
		if !p.stillRegistered(fd, c) {
			return
		}
	}
	if events&(unix.EPOLLRDHUP|unix.EPOLLHUP) != 0 {
		c.OnPeerClosed()
	}
}

func (p *Poller) stillRegistered(fd int, c Client) bool {
	reg, ok := p.clients[fd]
	return ok && reg.client == c
}

func socketError(fd int) error {
	v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil || v == 0 {
		return status.IOError
	}
	return fmt.Errorf("socket error: %w", syscall.Errno(v))
}

func (p *Poller) drainControl() {
	var buf [8]byte
	for {
		if _, err := unix.Read(p.wakefd, buf[:]); err != nil {
			break
		}
	}
	for {
		select {
		case msg := <-p.control:
			p.cache = append(p.cache, msg)
		default:
			return
		}
	}
}

func (p *Poller) nextCached() *Message {
	for len(p.cache) > 0 {
		msg := p.cache[0]
		p.cache[0] = nil
		p.cache = p.cache[1:]
		switch msg.Kind {
		case MsgAddClient:
			if err := p.addClient(msg.Client, msg.Owned); err != nil {
				p.logger.Debug("queued add failed", zap.Error(err))
			}
			msg.complete()
		case MsgRemoveClient:
			if err := p.removeClient(msg.Client); err != nil {
				p.logger.Debug("queued remove failed", zap.Error(err))
			}
			msg.complete()
		default:
			return msg
		}
	}
	p.cache = nil
	return nil
}

// Close detaches every client, closing the owned ones, and releases the
// epoll and eventfd handles. It must run on the loop thread or after the
// loop has stopped; the Looper calls it on its way out.
func (p *Poller) Close() error {
	// Writers blocked on a full channel hold the read lock; release them
	// before waiting for the write lock.
	p.quitOnce.Do(func() { close(p.quit) })
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	for fd, reg := range p.clients {
		delete(p.clients, fd)
		unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
		if o, ok := reg.client.(AttachObserver); ok {
			o.OnDetached()
		}
		if reg.owned {
			if closer, ok := reg.client.(io.Closer); ok {
				if err := closer.Close(); err != nil {
					p.logger.Debug("owned client close failed", zap.Int("fd", fd), zap.Error(err))
				}
			}
		}
	}

	// Unblock synchronous senders still waiting on undelivered messages.
	for _, msg := range p.cache {
		p.discard(msg)
	}
	p.cache = nil
	for {
		select {
		case msg := <-p.control:
			p.discard(msg)
			continue
		default:
		}
		break
	}

	err1 := unix.Close(p.wakefd)
	err2 := unix.Close(p.epfd)
	if err1 != nil {
		return err1
	}
	return err2
}

func (p *Poller) discard(msg *Message) {
	if p.undelivered != nil && !msg.IsSystem() {
		p.undelivered(msg)
	}
	msg.complete()
}
