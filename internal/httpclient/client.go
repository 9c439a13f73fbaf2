// Package httpclient composes the HTTP/1.1 engine and the transport into
// concrete request lifecycles: a Request is routed to a pooled connection,
// follows redirects by chaining a new Request, and reaches https origins
// behind a proxy through a CONNECT tunnel.
package httpclient

import (
	"context"
	"fmt"
	"net/netip"
	"net/url"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/YuanQin2000/datax/internal/codec"
	"github.com/YuanQin2000/datax/internal/cookie"
	"github.com/YuanQin2000/datax/internal/http1"
	"github.com/YuanQin2000/datax/internal/reactor"
	"github.com/YuanQin2000/datax/internal/status"
	"github.com/YuanQin2000/datax/internal/transport"
)

// Handler receives the outcome of a Request. Callbacks run on the loop
// thread and must not block; req is always the request the caller
// started, also for responses reached through redirects.
type Handler interface {
	// OnHeader delivers the final response head. resp is only valid
	// during the call.
	OnHeader(req *Request, resp *Response)
	// OnData delivers decoded body bytes, valid during the call.
	OnData(req *Request, p []byte)
	// OnComplete is called exactly once; err is nil on success.
	OnComplete(req *Request, err error)
}

// IndicationObserver is an optional Handler extension told about every
// response head, redirects included.
type IndicationObserver interface {
	OnIndication(req *Request, ind http1.Indication, resp *Response)
}

// RedirectObserver is an optional Handler extension told when a redirect
// is followed.
type RedirectObserver interface {
	OnRedirect(req *Request, from, to *url.URL, code int)
}

// Response is a view of a parsed response head.
type Response struct {
	URL        *url.URL
	Status     int
	Reason     string
	Version    http1.Version
	Indication http1.Indication
	Header     *http1.HeaderField
}

// Options configure a Stack.
type Options struct {
	Dialer *transport.DialerConfig

	UserAgent    string
	MaxRedirects int
	// MaxHeaderBytes caps one response head; 0 selects the engine default.
	MaxHeaderBytes int
	// DecodeBody applies Content-Encoding and advertises AcceptEncoding.
	DecodeBody      bool
	AcceptEncoding  string
	MaxDecodedBytes int64
	// DefaultHeaders are added to every request unless it sets them.
	DefaultHeaders map[string]string

	// Cookies is the cookie store; nil selects a fresh JarStore unless
	// DisableCookies is set.
	Cookies        cookie.Store
	DisableCookies bool

	ResolveTimeout time.Duration
	IdleTimeout    time.Duration
	Poller         reactor.PollerConfig
}

const (
	DefaultUserAgent    = "datax/1.0"
	DefaultMaxRedirects = 10
)

func DefaultOptions() Options {
	return Options{
		Dialer:          transport.NewDialerConfig(),
		UserAgent:       DefaultUserAgent,
		MaxRedirects:    DefaultMaxRedirects,
		DecodeBody:      true,
		AcceptEncoding:  codec.AcceptEncoding,
		MaxDecodedBytes: 64 << 20,
		ResolveTimeout:  10 * time.Second,
		IdleTimeout:     90 * time.Second,
	}
}

const redirectQueueSize = 256

// Stack owns one transport Runner and everything requests share: the
// resolver, the dialer settings and the cookie store.
type Stack struct {
	opts     Options
	dialer   *transport.DialerConfig
	runner   *transport.Runner
	resolver *transport.Resolver
	cookies  cookie.Store
	logger   *zap.Logger

	// Redirect targets are resolved on their own looper so the transport
	// thread never waits on DNS.
	redirects    *reactor.MemQueue
	redirectLoop *reactor.Looper

	proxy     *url.URL
	proxyAuth string

	ctx    context.Context
	cancel context.CancelFunc
	nextID atomic.Uint64
}

// NewStack starts the loop thread of a client stack.
func NewStack(opts Options, logger *zap.Logger) (*Stack, error) {
	s, err := newStack(opts, logger)
	if err != nil {
		return nil, err
	}
	runner, err := transport.NewRunner(transport.RunnerConfig{
		Poller:      opts.Poller,
		IdleTimeout: opts.IdleTimeout,
	}, s.logger)
	if err != nil {
		s.cancel()
		return nil, fmt.Errorf("failed to start transport: %w", err)
	}
	s.runner = runner

	s.redirects = reactor.NewMemQueue(redirectQueueSize)
	s.redirectLoop = reactor.NewLooper("redirect", s.redirects, nil, s.logger)
	s.redirectLoop.Start()
	return s, nil
}

// newStack builds the shared state without a loop.
func newStack(opts Options, logger *zap.Logger) (*Stack, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dialer := opts.Dialer.Clone()
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.DecodeBody && opts.AcceptEncoding == "" {
		opts.AcceptEncoding = codec.AcceptEncoding
	}
	if opts.MaxRedirects < 0 {
		opts.MaxRedirects = 0
	}

	store := opts.Cookies
	if store == nil && !opts.DisableCookies {
		jar, err := cookie.NewJarStore()
		if err != nil {
			return nil, err
		}
		store = jar
	}
	if opts.DisableCookies {
		store = nil
	}

	s := &Stack{
		opts:     opts,
		dialer:   dialer,
		resolver: transport.NewResolver(dialer.Resolver, opts.ResolveTimeout),
		cookies:  store,
		logger:   logger.Named("httpclient"),
	}
	if dialer.ProxyURL != nil {
		if dialer.ProxyURL.Hostname() == "" {
			return nil, fmt.Errorf("proxy url %q has no host: %w", dialer.ProxyURL, status.IllegalParameter)
		}
		s.proxy = dialer.ProxyURL
		s.proxyAuth = transport.ProxyAuthorization(dialer.ProxyURL)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

func (s *Stack) Runner() *transport.Runner { return s.runner }
func (s *Stack) Cookies() cookie.Store     { return s.cookies }

// Close fails outstanding requests with status.Inactive and stops the
// loops. The transport stops first so no redirect is queued afterwards;
// queued redirects then fail on the cancelled context.
func (s *Stack) Close() error {
	s.cancel()
	var err error
	if s.runner != nil {
		err = s.runner.Close()
	}
	if s.redirectLoop != nil {
		s.redirectLoop.Exit()
	}
	return err
}

// followRedirect schedules fn on the redirect looper. It fails with
// status.NoMemory when too many redirects are waiting.
func (s *Stack) followRedirect(fn func()) error {
	if s.redirects == nil {
		return fmt.Errorf("stack has no redirect loop: %w", status.Inactive)
	}
	return s.redirects.TryWriteMessage(&reactor.Message{Kind: reactor.MsgAsyncTask, Task: fn})
}

// resolve maps host and port to a peer address.
func (s *Stack) resolve(ctx context.Context, host string, port uint16) (netip.AddrPort, error) {
	addr, err := s.resolver.QueryIPv4Address(ctx, host)
	if err != nil {
		return netip.AddrPort{}, err
	}
	return netip.AddrPortFrom(addr, port), nil
}

// proxyPeer returns the proxy host and port.
func (s *Stack) proxyPeer() (string, uint16, error) {
	port := s.proxy.Port()
	if port == "" {
		port = "80"
		if s.proxy.Scheme == "https" {
			port = "443"
		}
	}
	n, err := strconv.ParseUint(port, 10, 16)
	if err != nil || n == 0 {
		return "", 0, fmt.Errorf("bad proxy port %q: %w", port, status.IllegalParameter)
	}
	return s.proxy.Hostname(), uint16(n), nil
}

// tunnelFactory negotiates CONNECT to authority on a fresh proxy
// connection.
func (s *Stack) tunnelFactory(authority string, secure bool) transport.TunnelFactory {
	return func(c *transport.Connection) transport.Controller {
		sess, err := NewConnectSession(authority, s.opts.UserAgent, s.proxyAuth, secure, c, s.logger)
		if err != nil {
			return failedSession(err)
		}
		return sess
	}
}

// defaultHeaders returns DefaultHeaders in a stable order.
func (s *Stack) defaultHeaders() [][2]string {
	if len(s.opts.DefaultHeaders) == 0 {
		return nil
	}
	names := make([]string, 0, len(s.opts.DefaultHeaders))
	for name := range s.opts.DefaultHeaders {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([][2]string, 0, len(names))
	for _, name := range names {
		out = append(out, [2]string{name, s.opts.DefaultHeaders[name]})
	}
	return out
}
