package transport

import (
	"fmt"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/YuanQin2000/datax/internal/reactor"
	"github.com/YuanQin2000/datax/internal/status"
)

// DialFunc opens the plain context of a new connection.
type DialFunc func(addr netip.AddrPort, cfg *Configure) (IOContext, error)

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	Poller reactor.PollerConfig
	// IdleTimeout retires connections idle for that long; zero disables
	// eviction.
	IdleTimeout time.Duration
	Dial        DialFunc
}

type pushCommand struct {
	req     Request
	instant bool
}

// Runner owns the connection registry of one Looper. Requests are pushed
// from any goroutine and routed on the loop thread to the connection of
// their Key, which is created on first use.
type Runner struct {
	poller *reactor.Poller
	looper *reactor.Looper
	host   Host
	dial   DialFunc
	logger *zap.Logger

	conns   map[Key]*Connection
	idle    time.Duration
	evictID reactor.TimerID
	evictOn bool
	closed  bool

	now func() time.Time
}

// NewRunner creates the poller and the looper and starts the loop.
func NewRunner(cfg RunnerConfig, logger *zap.Logger) (*Runner, error) {
	poller, err := reactor.NewPoller(cfg.Poller, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Dial == nil {
		cfg.Dial = DialSocket
	}
	r := &Runner{
		poller: poller,
		dial:   cfg.Dial,
		logger: logger.Named("runner"),
		conns:  make(map[Key]*Connection),
		idle:   cfg.IdleTimeout,
		now:    time.Now,
	}
	poller.OnUndelivered(r.onUndelivered)
	r.looper = reactor.NewLooper("transport", poller, r, logger)
	r.host = loopHost{poller: poller, looper: r.looper}
	r.looper.Start()

	if r.idle > 0 {
		interval := r.idle / 2
		if interval < time.Second {
			interval = time.Second
		}
		id, err := r.looper.StartTimer(interval, interval, r.evictIdle)
		if err != nil {
			r.looper.Exit()
			return nil, err
		}
		r.evictID, r.evictOn = id, true
	}
	return r, nil
}

func (r *Runner) Looper() *reactor.Looper { return r.looper }
func (r *Runner) Poller() *reactor.Poller { return r.poller }

// PushRequest routes req to its connection behind already queued
// requests. It never runs inline, even on the loop thread.
func (r *Runner) PushRequest(req Request) error {
	return r.poller.SendExtCommand(pushCommand{req: req})
}

// PushInstantRequest routes req ahead of queued requests.
func (r *Runner) PushInstantRequest(req Request) error {
	return r.poller.SendExtCommand(pushCommand{req: req, instant: true})
}

// OnMessage implements reactor.Runner.
func (r *Runner) OnMessage(msg *reactor.Message) {
	switch cmd := msg.Command.(type) {
	case pushCommand:
		r.push(cmd.req, cmd.instant)
	default:
		r.logger.Debug("unknown command", zap.Stringer("kind", msg.Kind), zap.Any("command", msg.Command))
	}
}

// onUndelivered fails requests pushed after the loop stopped reading.
func (r *Runner) onUndelivered(msg *reactor.Message) {
	if cmd, ok := msg.Command.(pushCommand); ok {
		cmd.req.OnTerminated(status.Inactive)
	}
}

func (r *Runner) push(req Request, instant bool) {
	if r.closed {
		req.OnTerminated(status.Inactive)
		return
	}
	cfg := req.Configure()
	if cfg == nil {
		req.OnTerminated(fmt.Errorf("request without configure: %w", status.IllegalParameter))
		return
	}
	if err := cfg.validate(); err != nil {
		req.OnTerminated(err)
		return
	}

	key := cfg.Key()
	if conn := r.conns[key]; conn != nil && !conn.Terminated() {
		if err := conn.push(req, instant); err == nil {
			return
		}
		// Retiring connections take no new work.
		delete(r.conns, key)
	}
	conn, err := r.open(cfg)
	if err != nil {
		req.OnTerminated(err)
		return
	}
	if err := conn.push(req, instant); err != nil {
		req.OnTerminated(err)
	}
}

func (r *Runner) open(cfg *Configure) (*Connection, error) {
	ctx, err := r.dial(cfg.Addr, cfg)
	if err != nil {
		return nil, err
	}
	conn := NewConnection(cfg, ctx, r.host, r.onClosed, r.logger)
	if err := r.poller.AddClient(conn, true); err != nil {
		return nil, err
	}
	r.conns[conn.Key()] = conn
	r.logger.Debug("connection opened", zap.Stringer("peer", conn.Key()), zap.String("conn_id", conn.ID()))
	return conn, nil
}

func (r *Runner) onClosed(c *Connection, requeue []Request, err error) {
	if r.conns[c.Key()] == c {
		delete(r.conns, c.Key())
	}
	for _, req := range requeue {
		if r.closed {
			req.OnTerminated(status.Inactive)
			continue
		}
		if rerr := req.OnReset(); rerr != nil {
			req.OnTerminated(rerr)
			continue
		}
		r.push(req, false)
	}
}

func (r *Runner) evictIdle() {
	now := r.now()
	for _, conn := range r.conns {
		if conn.IsIdle() && now.Sub(conn.LastActive()) >= r.idle {
			r.logger.Debug("evicting idle connection", zap.Stringer("peer", conn.Key()))
			conn.Retire()
		}
	}
}

// ConnectionCount is only meaningful on the loop thread.
func (r *Runner) ConnectionCount() int { return len(r.conns) }

// Connection returns the live connection for key, on the loop thread.
func (r *Runner) Connection(key Key) *Connection { return r.conns[key] }

// Close fails every queued request with status.Inactive, closes all
// connections and stops the loop.
func (r *Runner) Close() error {
	err := r.looper.RunSync(r.closeAll)
	r.looper.Exit()
	return err
}

func (r *Runner) closeAll() {
	if r.closed {
		return
	}
	r.closed = true
	if r.evictOn {
		_ = r.looper.StopTimer(r.evictID)
		r.evictOn = false
	}
	for _, conn := range r.conns {
		conn.Close()
	}
}
