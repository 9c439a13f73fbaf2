package transport

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/YuanQin2000/datax/internal/octet"
	"github.com/YuanQin2000/datax/internal/reactor"
	"github.com/YuanQin2000/datax/internal/status"
)

type connState uint8

const (
	stateConnecting connState = iota
	stateHandshaking
	stateEstablished
	stateTerminated
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateHandshaking:
		return "handshaking"
	case stateEstablished:
		return "established"
	}
	return "terminated"
}

// ClosedFunc is told that a connection left service. requeue holds the
// requests that were never answered and can be sent again.
type ClosedFunc func(c *Connection, requeue []Request, err error)

// Connection is one peer socket registered with the Poller. It owns the
// inbound and outbound buffers and the request queues; all of its methods
// run on the loop thread.
type Connection struct {
	id     string
	key    Key
	cfg    *Configure
	host   Host
	ctx    IOContext
	logger *zap.Logger

	in  *octet.Buffer
	out *octet.Buffer

	state      connState
	controller Controller
	idle       Controller

	pending []Request
	waiting []Request
	sending Request

	attached   bool
	retiring   bool
	closing    bool
	lastActive time.Time
	timer      reactor.TimerID
	timerSet   bool
	onClosed   ClosedFunc

	now func() time.Time
}

// NewConnection wraps an IOContext whose connect is in progress. The
// caller registers it with the Poller.
func NewConnection(cfg *Configure, ctx IOContext, host Host, onClosed ClosedFunc, logger *zap.Logger) *Connection {
	id := uuid.NewString()
	c := &Connection{
		id:       id,
		key:      cfg.Key(),
		cfg:      cfg,
		host:     host,
		ctx:      ctx,
		in:       octet.New(cfg.inSize()),
		out:      octet.New(cfg.outSize()),
		onClosed: onClosed,
		now:      time.Now,
	}
	c.logger = logger.Named("connection").With(zap.String("peer", c.key.String()), zap.String("conn_id", id))
	c.idle = &pipeline{c: c}
	c.controller = c.idle
	c.lastActive = c.now()

	if cfg.ConnectTimeout > 0 && host != nil {
		if id, err := host.StartTimer(cfg.ConnectTimeout, 0, c.onConnectTimeout); err == nil {
			c.timer, c.timerSet = id, true
		}
	}
	return c
}

func (c *Connection) ID() string             { return c.id }
func (c *Connection) Key() Key               { return c.key }
func (c *Connection) FD() int                { return c.ctx.FD() }
func (c *Connection) Terminated() bool       { return c.state == stateTerminated }
func (c *Connection) LastActive() time.Time  { return c.lastActive }
func (c *Connection) Controller() Controller { return c.controller }

// IsIdle reports whether no request is queued, in flight or outstanding.
func (c *Connection) IsIdle() bool {
	return len(c.pending) == 0 && len(c.waiting) == 0 && c.sending == nil
}

func (c *Connection) OnAttached(ok bool) {
	c.attached = ok
	if !ok {
		c.terminate(fmt.Errorf("poller registration failed: %w", status.IOError))
	}
}

func (c *Connection) OnDetached() { c.attached = false }

// PushRequest queues req behind the pending requests.
func (c *Connection) PushRequest(req Request) error {
	return c.push(req, false)
}

// PushInstantRequest queues req ahead of the pending requests.
func (c *Connection) PushInstantRequest(req Request) error {
	return c.push(req, true)
}

func (c *Connection) push(req Request, instant bool) error {
	if c.state == stateTerminated || c.retiring || c.closing {
		return status.Inactive
	}
	if instant {
		c.pending = append([]Request{req}, c.pending...)
	} else {
		c.pending = append(c.pending, req)
	}
	c.lastActive = c.now()
	c.pump()
	return nil
}

// SetController replaces the active protocol controller.
func (c *Connection) SetController(ctrl Controller) {
	if ctrl == nil {
		ctrl = c.idle
	}
	c.controller = ctrl
}

// EndTunnel restores the pipelining controller after a tunnel has been
// negotiated.
func (c *Connection) EndTunnel() { c.SetController(nil) }

// ActivateSecure swaps the plain context for a TLS session. It is only
// valid while no plaintext byte is buffered in either direction.
func (c *Connection) ActivateSecure() error {
	if _, ok := c.ctx.(secureIO); ok {
		return fmt.Errorf("secure session already active: %w", status.IllegalParameter)
	}
	if !c.in.IsEmpty() || !c.out.IsEmpty() {
		return fmt.Errorf("%d inbound and %d outbound plaintext bytes pending: %w",
			c.in.DataLength(), c.out.DataLength(), status.ProtocolError)
	}
	sec, err := newSecureContext(c.ctx, c.cfg.TLS, c.cfg.HandshakeTimeout)
	if err != nil {
		return err
	}
	c.ctx = sec
	c.state = stateHandshaking
	host := c.host
	sec.Start(func(err error) {
		if perr := host.PostAsyncTask(func() { c.onHandshake(err) }); perr != nil {
			c.logger.Debug("handshake result dropped", zap.Error(perr))
		}
	})
	c.logger.Debug("tls handshake started")
	return nil
}

func (c *Connection) onHandshake(err error) {
	if c.state != stateHandshaking {
		return
	}
	if err != nil {
		c.terminate(err)
		return
	}
	c.logger.Debug("tls established")
	c.established()
	// Readiness edges seen during the handshake were not consumed.
	c.OnIncomingData()
	c.pump()
}

func (c *Connection) onConnectTimeout() {
	c.timerSet = false
	if c.state == stateConnecting || c.state == stateHandshaking {
		c.terminate(fmt.Errorf("no connection after %s: %w", c.cfg.ConnectTimeout, status.ConnectFailed))
	}
}

func (c *Connection) established() {
	c.state = stateEstablished
	if c.timerSet {
		_ = c.host.StopTimer(c.timer)
		c.timerSet = false
	}
}

// finishConnect advances a pending connect and reports whether the
// connection is ready for data.
func (c *Connection) finishConnect() bool {
	if c.state != stateConnecting {
		return c.state == stateEstablished
	}
	err := c.ctx.Connect()
	if errors.Is(err, status.InProgress) {
		return false
	}
	if err != nil {
		c.terminate(err)
		return false
	}
	c.logger.Debug("connected")
	switch {
	case c.cfg.Tunnel != nil:
		c.state = stateEstablished
		c.controller = c.cfg.Tunnel(c)
	case c.cfg.Secure:
		if err := c.ActivateSecure(); err != nil {
			c.terminate(err)
		}
		return false
	default:
		c.established()
	}
	return true
}

func (c *Connection) OnOutgoingReady() {
	if !c.finishConnect() {
		return
	}
	if blocked, err := c.flush(); err != nil {
		c.terminate(err)
		return
	} else if blocked {
		return
	}
	c.pump()
}

func (c *Connection) OnIncomingData() {
	if !c.finishConnect() {
		return
	}
	for c.state == stateEstablished {
		if c.in.FreeLength() == 0 {
			c.in.RelocationData()
			if c.in.IsFull() {
				c.terminate(fmt.Errorf("inbound buffer stalled at %d bytes: %w", c.in.DataLength(), status.NoMemory))
				return
			}
		}
		n, err := c.ctx.Read(c.in.FreeBuffer())
		if n > 0 {
			c.in.SetPushInLength(n)
			c.lastActive = c.now()
			if herr := c.controller.HandleData(c.in); herr != nil {
				c.terminate(herr)
				return
			}
			if c.retireIfDone() {
				return
			}
		}
		switch {
		case err == nil:
			continue
		case errors.Is(err, status.InProgress):
			c.pump()
			return
		case errors.Is(err, status.Inactive):
			c.handlePeerClosed()
			return
		default:
			c.terminate(err)
			return
		}
	}
}

func (c *Connection) OnPeerClosed() {
	if c.state == stateEstablished {
		// Drain what arrived before the FIN.
		c.OnIncomingData()
	}
	switch c.state {
	case stateTerminated:
	case stateConnecting:
		c.terminate(fmt.Errorf("peer closed during connect: %w", status.ConnectFailed))
	case stateHandshaking:
		// The handshake goroutine reports the failure.
	default:
		c.handlePeerClosed()
	}
}

func (c *Connection) OnError(err error) {
	if c.state == stateConnecting || c.state == stateHandshaking {
		c.terminate(fmt.Errorf("connect %s: %v: %w", c.key.Addr, err, status.ConnectFailed))
		return
	}
	c.terminate(fmt.Errorf("socket error: %v: %w", err, status.IOError))
}

// Close terminates the connection and fails every queued request with
// status.Inactive.
func (c *Connection) Close() error {
	c.terminate(status.Inactive)
	return nil
}

// Retire stops accepting requests and closes the connection once the
// outstanding responses are in.
func (c *Connection) Retire() {
	c.retiring = true
	c.retireIfDone()
}

// retireIfDone closes a connection that was asked to stop once nothing
// more is expected on it. A response without keep-alive closes at once and
// hands every unanswered request back for requeueing.
func (c *Connection) retireIfDone() bool {
	switch {
	case c.state == stateTerminated:
		return true
	case c.closing:
		requeue := append(c.waiting, c.takeUnsent()...)
		c.waiting = nil
		c.shutdown(nil, nil, requeue)
		return true
	case !c.retiring:
		return false
	case len(c.waiting) > 0 || c.sending != nil:
		return false
	}
	c.shutdown(nil, nil, c.takeUnsent())
	return true
}

func (c *Connection) handlePeerClosed() {
	if c.state == stateTerminated {
		return
	}
	err := c.controller.HandlePeerClosed()
	switch {
	case err != nil && c.controller != c.idle:
		c.terminate(err)
	case err != nil:
		failed := c.waiting
		c.waiting = nil
		c.shutdown(err, failed, c.takeUnsent())
	default:
		requeue := append(c.waiting, c.takeUnsent()...)
		c.waiting = nil
		c.logger.Debug("peer closed", zap.Int("requeued", len(requeue)))
		c.shutdown(nil, nil, requeue)
	}
}

// pump serializes as much as possible and writes it out.
func (c *Connection) pump() {
	for c.state == stateEstablished {
		genErr := c.controller.GenerateData(c.out)
		if genErr != nil && !errors.Is(genErr, status.InProgress) {
			c.terminate(genErr)
			return
		}
		if c.out.IsEmpty() {
			return
		}
		blocked, err := c.flush()
		if err != nil {
			c.terminate(err)
			return
		}
		if blocked || genErr == nil {
			return
		}
	}
}

// flush writes the outbound buffer and reports whether the socket pushed
// back.
func (c *Connection) flush() (bool, error) {
	for !c.out.IsEmpty() {
		n, err := c.ctx.Write(c.out.Data())
		if n > 0 {
			c.out.SetPopOutLength(n, true)
			c.lastActive = c.now()
		}
		if errors.Is(err, status.InProgress) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
	}
	if err := c.ctx.Flush(); err != nil {
		if errors.Is(err, status.InProgress) {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

func (c *Connection) takeUnsent() []Request {
	unsent := c.pending
	if c.sending != nil {
		unsent = append([]Request{c.sending}, unsent...)
	}
	c.pending, c.sending = nil, nil
	return unsent
}

// terminate fails every request with err.
func (c *Connection) terminate(err error) {
	if c.state == stateTerminated {
		return
	}
	failed := append(c.waiting, c.takeUnsent()...)
	c.waiting = nil
	c.shutdown(err, failed, nil)
}

func (c *Connection) shutdown(err error, failed, requeue []Request) {
	if c.state == stateTerminated {
		return
	}
	prev := c.state
	c.state = stateTerminated
	if c.timerSet {
		_ = c.host.StopTimer(c.timer)
		c.timerSet = false
	}
	if c.attached {
		if rerr := c.host.RemoveClient(c); rerr != nil {
			c.logger.Debug("remove client failed", zap.Error(rerr))
		}
		c.attached = false
	}
	if cerr := c.ctx.Close(); cerr != nil {
		c.logger.Debug("close failed", zap.Error(cerr))
	}
	c.in.Reset()
	c.out.Reset()

	if err != nil {
		c.logger.Debug("connection terminated",
			zap.Stringer("state", prev), zap.Int("failed", len(failed)), zap.Error(err))
	} else {
		c.logger.Debug("connection closed", zap.Int("requeued", len(requeue)))
	}
	for _, req := range failed {
		req.OnTerminated(err)
	}
	if c.onClosed != nil {
		c.onClosed(c, requeue, err)
		return
	}
	for _, req := range requeue {
		req.OnTerminated(status.Inactive)
	}
}

// pipeline is the default controller: FIFO request pipelining.
type pipeline struct {
	c *Connection
}

// nextSendable pops the next pending request if the queue discipline
// allows sending it now.
func (p *pipeline) nextSendable() Request {
	c := p.c
	if len(c.pending) == 0 || c.retiring || c.closing {
		return nil
	}
	req := c.pending[0]
	if n := len(c.waiting); n > 0 {
		if !c.cfg.Pipelining || !req.IsPipeline() || !c.waiting[n-1].IsPipeline() {
			return nil
		}
		if c.cfg.MaxPipeline > 0 && n >= c.cfg.MaxPipeline {
			return nil
		}
	}
	c.pending[0] = nil
	c.pending = c.pending[1:]
	return req
}

func (p *pipeline) GenerateData(out *octet.Buffer) error {
	c := p.c
	for {
		if c.sending == nil {
			if c.sending = p.nextSendable(); c.sending == nil {
				return nil
			}
		}
		if err := c.sending.Serialize(out); err != nil {
			return err
		}
		req := c.sending
		c.sending = nil
		if req.HasResponse() {
			c.waiting = append(c.waiting, req)
		} else {
			req.OnTerminated(nil)
		}
	}
}

func (p *pipeline) HandleData(in *octet.Buffer) error {
	c := p.c
	for !in.IsEmpty() {
		if len(c.waiting) == 0 {
			return fmt.Errorf("%d unsolicited bytes: %w", in.DataLength(), status.ProtocolError)
		}
		req := c.waiting[0]
		n, err := req.OnResponse(in.Data())
		in.SetPopOutLength(n, true)
		if errors.Is(err, status.InProgress) {
			return nil
		}
		if err != nil {
			return err
		}
		c.waiting[0] = nil
		c.waiting = c.waiting[1:]
		keep := req.KeepAlive()
		req.OnTerminated(nil)
		if !keep {
			c.closing = true
			return nil
		}
	}
	return nil
}

func (p *pipeline) HandlePeerClosed() error {
	c := p.c
	if len(c.waiting) == 0 {
		return nil
	}
	head := c.waiting[0]
	if head.OnPeerClosed() {
		c.waiting[0] = nil
		c.waiting = c.waiting[1:]
		head.OnTerminated(nil)
		return nil
	}
	return fmt.Errorf("peer closed with %d responses outstanding: %w", len(c.waiting), status.ProtocolError)
}
