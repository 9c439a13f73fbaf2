package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/net/idna"

	"github.com/YuanQin2000/datax/internal/cookie"
	"github.com/YuanQin2000/datax/internal/http1"
	"github.com/YuanQin2000/datax/internal/octet"
	"github.com/YuanQin2000/datax/internal/status"
	"github.com/YuanQin2000/datax/internal/transport"
)

// errTooManyRedirects fails a request whose redirect chain is too long.
var errTooManyRedirects = errors.New("too many redirects")

// Request is one HTTP exchange. It implements transport.Request; after
// Start every method runs on the loop thread.
type Request struct {
	stack   *Stack
	id      uint64
	method  http1.Method
	url     *url.URL
	handler Handler
	logger  *zap.Logger

	fields [][2]string
	body   []byte
	stream io.Reader

	root     *Request
	redirect *Request
	hops     int

	started  atomic.Bool
	finished atomic.Bool

	host      string
	port      uint16
	authority string
	secure    bool
	proxied   bool

	header    *http1.HeaderField
	writer    *http1.RequestWriter
	parser    *http1.ResponseParser
	cfg       *transport.Configure
	delivered bool
	err       error
}

var _ transport.Request = (*Request)(nil)

// NewRequest creates a request for rawURL. method is matched case
// insensitively; only http and https URLs are accepted.
func (s *Stack) NewRequest(method, rawURL string, handler Handler) (*Request, error) {
	m, ok := http1.ParseMethod(method)
	if !ok || m == http1.MethodConnect {
		return nil, fmt.Errorf("unsupported method %q: %w", method, status.IllegalParameter)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("bad url %q: %v: %w", rawURL, err, status.IllegalParameter)
	}
	if handler == nil {
		return nil, fmt.Errorf("request without handler: %w", status.IllegalParameter)
	}
	return s.newRequest(m, u, handler)
}

func (s *Stack) newRequest(m http1.Method, u *url.URL, handler Handler) (*Request, error) {
	r := &Request{
		stack:   s,
		id:      s.nextID.Add(1),
		method:  m,
		url:     u,
		handler: handler,
	}
	r.root = r
	r.logger = s.logger.With(zap.Uint64("session", r.id))
	if err := r.locate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Request) ID() uint64           { return r.id }
func (r *Request) Method() http1.Method { return r.method }
func (r *Request) URL() *url.URL        { return r.url }
func (r *Request) Root() *Request       { return r.root }
func (r *Request) RedirectTo() *Request { return r.redirect }
func (r *Request) Hops() int            { return r.hops }

// Configure implements transport.Request; nil before Start.
func (r *Request) Configure() *transport.Configure { return r.cfg }

// SetHeader sets a request field by name, replacing earlier values.
// Framing fields are derived from the body and ignored here.
func (r *Request) SetHeader(name, value string) {
	for i := range r.fields {
		if strings.EqualFold(r.fields[i][0], name) {
			r.fields[i][1] = value
			return
		}
	}
	r.fields = append(r.fields, [2]string{name, value})
}

// SetBody attaches a body sent with Content-Length.
func (r *Request) SetBody(body []byte) {
	r.body, r.stream = body, nil
}

// SetBodyStream attaches a body of unknown length sent chunked. The
// reader is drained on the loop thread and must not block; a streamed
// request is never pipelined nor replayed.
func (r *Request) SetBodyStream(stream io.Reader) {
	r.stream, r.body = stream, nil
}

// locate validates the URL and derives the peer and the authority.
func (r *Request) locate() error {
	switch strings.ToLower(r.url.Scheme) {
	case "http":
	case "https":
		r.secure = true
	default:
		return fmt.Errorf("unsupported scheme %q: %w", r.url.Scheme, status.IllegalParameter)
	}
	if r.url.Hostname() == "" {
		return fmt.Errorf("url %q has no host: %w", r.url, status.IllegalParameter)
	}

	host := r.url.Hostname()
	if !strings.Contains(host, ":") {
		ascii, err := idna.Lookup.ToASCII(host)
		if err != nil {
			return fmt.Errorf("bad host %q: %v: %w", host, err, status.IllegalParameter)
		}
		host = ascii
	}
	r.host = host

	port := r.url.Port()
	defaultPort := "80"
	if r.secure {
		defaultPort = "443"
	}
	if port == "" {
		port = defaultPort
	}
	n, err := strconv.ParseUint(port, 10, 16)
	if err != nil || n == 0 {
		return fmt.Errorf("bad port %q: %w", port, status.IllegalParameter)
	}
	r.port = uint16(n)

	r.authority = host
	if strings.Contains(host, ":") {
		r.authority = "[" + host + "]"
	}
	if port != defaultPort {
		r.authority += ":" + port
	}
	r.proxied = r.stack.proxy != nil
	return nil
}

// target is the request-target: origin form, or absolute form when a
// plain request goes through the proxy.
func (r *Request) target() string {
	if r.proxied && !r.secure {
		u := *r.url
		u.Host = r.authority
		u.User = nil
		u.Fragment, u.RawFragment = "", ""
		return u.String()
	}
	return r.url.RequestURI()
}

// build renders the request head and prepares the writer and the parser.
func (r *Request) build() error {
	s := r.stack
	h := http1.NewHeaderField(http1.RequestConfig)
	h.Set(http1.FieldHost, http1.String(r.authority))
	if err := h.SetText(http1.FieldUserAgent, s.opts.UserAgent); err != nil {
		h.SetExtension("User-Agent", s.opts.UserAgent)
	}
	if s.opts.DecodeBody && s.opts.AcceptEncoding != "" {
		if err := h.SetText(http1.FieldAcceptEncoding, s.opts.AcceptEncoding); err != nil {
			return fmt.Errorf("accept-encoding: %w", err)
		}
	}
	for _, f := range s.defaultHeaders() {
		if err := putField(h, f[0], f[1]); err != nil {
			return err
		}
	}
	for _, f := range r.fields {
		if err := putField(h, f[0], f[1]); err != nil {
			return err
		}
	}

	if jar := cookie.Header(s.cookies, r.url); jar != "" {
		text := jar
		if h.Has(http1.FieldCookie) {
			text = h.Text(http1.FieldCookie) + "; " + jar
		}
		if err := h.SetText(http1.FieldCookie, text); err != nil {
			r.logger.Debug("cookie field dropped", zap.Error(err))
		}
	}
	if r.proxied && !r.secure && s.proxyAuth != "" {
		h.Set(http1.FieldProxyAuthorization, http1.String(s.proxyAuth))
	}

	switch {
	case r.stream != nil:
		h.Set(http1.FieldTransferEncoding, http1.ParamToken{Token: "chunked"})
	case len(r.body) > 0 || r.method == http1.MethodPost || r.method == http1.MethodPut || r.method == http1.MethodPatch:
		h.Set(http1.FieldContentLength, http1.Integer(len(r.body)))
	}

	r.header = h
	r.writer = http1.NewRequestWriter(http1.RequestLine{
		Method:  r.method,
		Target:  r.target(),
		Version: http1.HTTP11,
	}, h)
	switch {
	case r.stream != nil:
		r.writer.SetBodyStream(r.stream)
	case len(r.body) > 0:
		r.writer.SetBody(r.body)
	}
	r.parser = http1.NewResponseParser(http1.ResponseOptions{
		Method:          r.method,
		MaxHeaderBytes:  s.opts.MaxHeaderBytes,
		Decode:          s.opts.DecodeBody,
		MaxDecodedBytes: s.opts.MaxDecodedBytes,
		OnHead:          r.onHead,
		OnData:          r.onData,
	})
	return nil
}

// putField stores a caller supplied field. Framing fields and Expect are
// owned by the engine.
func putField(h *http1.HeaderField, name, value string) error {
	id, known := h.Config().Lookup(name)
	if !known {
		h.SetExtension(name, value)
		return nil
	}
	switch id {
	case http1.FieldHost, http1.FieldContentLength, http1.FieldTransferEncoding, http1.FieldExpect:
		return nil
	}
	if err := h.SetText(id, value); err != nil {
		return fmt.Errorf("field %s: %w", name, err)
	}
	return nil
}

// Start resolves the peer and queues the request. It blocks on DNS and
// must not be called on the loop thread.
func (r *Request) Start(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return fmt.Errorf("request %d already started: %w", r.id, status.IllegalParameter)
	}
	if err := r.build(); err != nil {
		return err
	}
	cfg, err := r.configure(ctx)
	if err != nil {
		return err
	}
	r.cfg = cfg
	r.logger.Debug("request started",
		zap.Stringer("method", r.method), zap.String("url", r.url.Redacted()), zap.Stringer("peer", cfg.Key()))
	if r.stack.runner == nil {
		return fmt.Errorf("stack has no transport: %w", status.Inactive)
	}
	return r.stack.runner.PushRequest(r)
}

func (r *Request) configure(ctx context.Context) (*transport.Configure, error) {
	s := r.stack
	if !r.proxied {
		peer, err := s.resolve(ctx, r.host, r.port)
		if err != nil {
			return nil, err
		}
		return s.dialer.Configure(peer, r.secure, r.authority, nil), nil
	}

	host, port, err := s.proxyPeer()
	if err != nil {
		return nil, err
	}
	peer, err := s.resolve(ctx, host, port)
	if err != nil {
		return nil, err
	}
	if r.secure {
		authority := r.host + ":" + strconv.Itoa(int(r.port))
		if strings.Contains(r.host, ":") {
			authority = "[" + r.host + "]:" + strconv.Itoa(int(r.port))
		}
		return s.dialer.Configure(peer, true, authority, s.tunnelFactory(authority, true)), nil
	}
	return s.dialer.Configure(peer, false, s.proxy.Host, nil), nil
}

// Serialize implements transport.Request.
func (r *Request) Serialize(out *octet.Buffer) error {
	return r.writer.Serialize(out)
}

// OnResponse implements transport.Request.
func (r *Request) OnResponse(data []byte) (int, error) {
	return r.parser.Parse(data)
}

func (r *Request) OnPeerClosed() bool {
	return r.parser.HandlePeerClosed()
}

func (r *Request) HasResponse() bool { return true }

// IsPipeline allows pipelining for idempotent methods with a replayable
// body.
func (r *Request) IsPipeline() bool {
	return r.method.Idempotent() && r.stream == nil
}

func (r *Request) KeepAlive() bool {
	if r.header.HasToken(http1.FieldConnection, "close") {
		return false
	}
	return r.parser.Header().KeepAlive(r.parser.Status().Version)
}

// OnReset rewinds a request whose connection retired before answering.
func (r *Request) OnReset() error {
	if r.delivered {
		return fmt.Errorf("response of request %d already delivered: %w", r.id, status.ProtocolError)
	}
	if err := r.writer.Reset(); err != nil {
		return err
	}
	r.parser.Reset()
	r.redirect = nil
	r.err = nil
	return nil
}

// OnTerminated implements transport.Request. A successful exchange that
// ends in a redirect starts the chained request instead of completing.
func (r *Request) OnTerminated(err error) {
	r.parser.Close()
	if err == nil {
		err = r.err
	}
	if err == nil {
		err = r.parser.BodyErr()
	}
	if err == nil && r.redirect != nil {
		r.startRedirect()
		return
	}
	r.complete(err)
}

func (r *Request) complete(err error) {
	root := r.root
	if !root.finished.CompareAndSwap(false, true) {
		return
	}
	if err != nil {
		r.logger.Debug("request failed", zap.Stringer("code", status.Of(err)), zap.Error(err))
	} else {
		r.logger.Debug("request complete", zap.Int("status", r.parser.Status().Code), zap.Int("hops", r.hops))
	}
	root.handler.OnComplete(root, err)
}

func (r *Request) response(p *http1.ResponseParser) *Response {
	st := p.Status()
	return &Response{
		URL:        r.url,
		Status:     st.Code,
		Reason:     st.Reason,
		Version:    st.Version,
		Indication: http1.Indicate(st.Code),
		Header:     p.Header(),
	}
}

func (r *Request) onHead(p *http1.ResponseParser) error {
	resp := r.response(p)
	if r.stack.cookies != nil {
		for _, v := range p.Header().Get(http1.FieldSetCookie) {
			if !r.stack.cookies.SetCookie(r.url, v.String()) {
				r.logger.Debug("cookie refused", zap.String("set_cookie", v.String()))
			}
		}
	}
	root := r.root
	if obs, ok := root.handler.(IndicationObserver); ok {
		obs.OnIndication(root, resp.Indication, resp)
	}

	if http1.IsRedirect(resp.Status) {
		if loc, ok := p.Header().Location(); ok {
			next, err := r.redirectRequest(resp.Status, loc)
			switch {
			case errors.Is(err, errTooManyRedirects):
				r.err = fmt.Errorf("stopped after %d redirects: %w", r.hops, status.ProtocolError)
				p.SkipBody()
				return nil
			case err != nil:
				r.logger.Debug("redirect not followed", zap.String("location", loc), zap.Error(err))
			default:
				r.redirect = next
				p.SkipBody()
				if obs, ok := root.handler.(RedirectObserver); ok {
					obs.OnRedirect(root, r.url, next.url, resp.Status)
				}
				return nil
			}
		}
	}

	r.delivered = true
	root.handler.OnHeader(root, resp)
	return nil
}

func (r *Request) onData(p []byte) {
	if r.redirect != nil || r.err != nil {
		return
	}
	r.root.handler.OnData(r.root, p)
}

// startRedirect hands the chained request to the redirect looper since
// starting it resolves a name.
func (r *Request) startRedirect() {
	next := r.redirect
	s := r.stack
	r.logger.Debug("following redirect", zap.String("location", next.url.Redacted()), zap.Int("hop", next.hops))
	fail := func(err error) {
		done := func() { next.complete(err) }
		if s.runner == nil || s.runner.Poller().PostAsyncTask(done) != nil {
			done()
		}
	}
	err := s.followRedirect(func() {
		if err := next.Start(s.ctx); err != nil {
			fail(err)
		}
	})
	if err != nil {
		// Still on the loop thread.
		next.complete(err)
	}
}
