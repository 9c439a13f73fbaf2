// Package transport carries requests over pooled nonblocking connections
// driven by the reactor. A Connection pipelines the requests queued on it
// and matches responses strictly FIFO; a Runner owns the connection
// registry of one loop.
package transport

import (
	"crypto/tls"
	"fmt"
	"net/netip"
	"time"

	"github.com/YuanQin2000/datax/internal/octet"
	"github.com/YuanQin2000/datax/internal/reactor"
)

// Request is one exchange queued on a Connection. Every method is called
// on the loop thread.
type Request interface {
	// Serialize writes the request into out. It returns nil once the whole
	// request is written and status.InProgress when out is full.
	Serialize(out *octet.Buffer) error
	// OnResponse consumes response bytes and reports how many it used. It
	// returns nil once the response is complete and status.InProgress
	// while more input is needed.
	OnResponse(data []byte) (int, error)
	// OnPeerClosed reports whether a close by the peer completes the
	// response in flight.
	OnPeerClosed() bool
	// OnTerminated is the terminal callback, err is nil on success.
	OnTerminated(err error)
	// OnReset rewinds a request whose connection retired before it was
	// answered so it can be sent again elsewhere.
	OnReset() error

	HasResponse() bool
	// IsPipeline reports whether the request may be sent while earlier
	// responses are outstanding.
	IsPipeline() bool
	// KeepAlive is asked after a completed response: false retires the
	// connection.
	KeepAlive() bool
	Configure() *Configure
}

// Controller is the protocol strategy of a Connection.
type Controller interface {
	// GenerateData fills out. nil means nothing more to send right now,
	// status.InProgress means out is full.
	GenerateData(out *octet.Buffer) error
	// HandleData consumes inbound bytes from in. An error terminates the
	// connection.
	HandleData(in *octet.Buffer) error
	HandlePeerClosed() error
}

// TunnelFactory builds the controller that negotiates a tunnel once the
// TCP connection is up. The controller hands the connection back with
// Connection.EndTunnel.
type TunnelFactory func(c *Connection) Controller

// Key identifies a pooled connection.
type Key struct {
	Addr   netip.AddrPort
	Secure bool
	// Tunnel is the authority reached through a CONNECT proxy at Addr.
	Tunnel string
}

func (k Key) String() string {
	s := k.Addr.String()
	if k.Tunnel != "" {
		s += "->" + k.Tunnel
	}
	if k.Secure {
		s += "+tls"
	}
	return s
}

// Configure describes how to reach a peer and how to run the connection.
type Configure struct {
	Addr       netip.AddrPort
	Secure     bool
	ServerName string
	TLS        *tls.Config

	Tunnel       TunnelFactory
	TunnelTarget string

	InBufferSize  int
	OutBufferSize int

	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	NoDelay          bool
	KeepAlive        time.Duration

	Pipelining  bool
	MaxPipeline int
}

const (
	DefaultBufferSize       = 16 << 10
	DefaultConnectTimeout   = 15 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
)

func (c *Configure) Key() Key {
	return Key{Addr: c.Addr, Secure: c.Secure, Tunnel: c.TunnelTarget}
}

func (c *Configure) inSize() int {
	if c.InBufferSize > 0 {
		return c.InBufferSize
	}
	return DefaultBufferSize
}

func (c *Configure) outSize() int {
	if c.OutBufferSize > 0 {
		return c.OutBufferSize
	}
	return DefaultBufferSize
}

func (c *Configure) validate() error {
	if !c.Addr.IsValid() || c.Addr.Port() == 0 {
		return fmt.Errorf("invalid peer address %q: %w", c.Addr, errIllegal)
	}
	if c.Tunnel != nil && c.TunnelTarget == "" {
		return fmt.Errorf("tunnel without target: %w", errIllegal)
	}
	return nil
}

// Host is the loop a Connection lives on.
type Host interface {
	RemoveClient(c reactor.Client) error
	PostAsyncTask(fn func()) error
	StartTimer(delay, interval time.Duration, fn func()) (reactor.TimerID, error)
	StopTimer(id reactor.TimerID) error
}

// loopHost joins a Poller with the Looper driving it.
type loopHost struct {
	poller *reactor.Poller
	looper *reactor.Looper
}

func (h loopHost) RemoveClient(c reactor.Client) error { return h.poller.RemoveClient(c) }
func (h loopHost) PostAsyncTask(fn func()) error       { return h.poller.PostAsyncTask(fn) }
func (h loopHost) StartTimer(delay, interval time.Duration, fn func()) (reactor.TimerID, error) {
	return h.looper.StartTimer(delay, interval, fn)
}
func (h loopHost) StopTimer(id reactor.TimerID) error { return h.looper.StopTimer(id) }
