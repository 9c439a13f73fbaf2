package httpclient

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/YuanQin2000/datax/internal/http1"
	"github.com/YuanQin2000/datax/internal/octet"
	"github.com/YuanQin2000/datax/internal/status"
	"github.com/YuanQin2000/datax/internal/transport"
)

// SessionState is the progress of a CONNECT negotiation.
type SessionState uint8

const (
	SessionInitiate SessionState = iota
	SessionSendingInvite
	SessionRecvingResp
	SessionSuccess
	SessionFailed
)

func (s SessionState) String() string {
	switch s {
	case SessionInitiate:
		return "initiate"
	case SessionSendingInvite:
		return "sending-invite"
	case SessionRecvingResp:
		return "recving-resp"
	case SessionSuccess:
		return "success"
	}
	return "failed"
}

// Tunnel is the connection a ConnectSession negotiates on.
type Tunnel interface {
	// ActivateSecure starts TLS over the tunnel; no plaintext byte may be
	// buffered.
	ActivateSecure() error
	// EndTunnel hands the connection back to request pipelining.
	EndTunnel()
}

// ConnectSession asks a proxy for a byte tunnel with CONNECT. The request
// is built once at construction; a 200 reply switches the connection to
// TLS, when requested, before any protected byte is exchanged.
type ConnectSession struct {
	tunnel Tunnel
	secure bool
	target string
	state  SessionState
	writer *http1.RequestWriter
	parser *http1.ResponseParser
	err    error
	logger *zap.Logger
}

var _ transport.Controller = (*ConnectSession)(nil)

// NewConnectSession builds the CONNECT request for target, given either
// as an authority ("example.com:443") or as a URL whose scheme supplies
// the default port. proxyAuth is the Proxy-Authorization value, empty for
// none.
func NewConnectSession(target, userAgent, proxyAuth string, secure bool, tunnel Tunnel, logger *zap.Logger) (*ConnectSession, error) {
	authority, err := connectAuthority(target)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	h := http1.NewHeaderField(http1.RequestConfig)
	h.Set(http1.FieldHost, http1.String(authority))
	if userAgent != "" {
		if err := h.SetText(http1.FieldUserAgent, userAgent); err != nil {
			return nil, fmt.Errorf("user-agent: %w", err)
		}
	}
	if proxyAuth != "" {
		h.Set(http1.FieldProxyAuthorization, http1.String(proxyAuth))
	}

	s := &ConnectSession{
		tunnel: tunnel,
		secure: secure,
		target: authority,
		logger: logger.Named("connect").With(zap.String("target", authority)),
	}
	s.writer = http1.NewRequestWriter(http1.RequestLine{
		Method:  http1.MethodConnect,
		Target:  authority,
		Version: http1.HTTP11,
	}, h)
	s.parser = http1.NewResponseParser(http1.ResponseOptions{
		Method: http1.MethodConnect,
		Config: http1.TunnelConfig,
		OnHead: s.onHead,
	})
	return s, nil
}

// failedSession is a controller that fails the connection with err.
func failedSession(err error) *ConnectSession {
	return &ConnectSession{state: SessionFailed, err: err, logger: zap.NewNop()}
}

func connectAuthority(target string) (string, error) {
	if strings.Contains(target, "://") {
		u, err := url.Parse(target)
		if err != nil {
			return "", fmt.Errorf("bad tunnel target %q: %v: %w", target, err, status.IllegalParameter)
		}
		port := u.Port()
		if port == "" {
			switch strings.ToLower(u.Scheme) {
			case "https":
				port = "443"
			case "http":
				port = "80"
			}
		}
		target = net.JoinHostPort(u.Hostname(), port)
	}
	host, port, err := net.SplitHostPort(target)
	if err != nil || host == "" || port == "" {
		return "", fmt.Errorf("tunnel target %q needs host and port: %w", target, status.IllegalParameter)
	}
	return net.JoinHostPort(host, port), nil
}

func (s *ConnectSession) State() SessionState { return s.state }
func (s *ConnectSession) Target() string      { return s.target }

// Err returns the reason of a failed negotiation.
func (s *ConnectSession) Err() error { return s.err }

// GenerateData writes the CONNECT request.
func (s *ConnectSession) GenerateData(out *octet.Buffer) error {
	switch s.state {
	case SessionInitiate:
		s.state = SessionSendingInvite
		s.logger.Debug("sending invite")
	case SessionSendingInvite:
	case SessionFailed:
		return s.err
	default:
		return nil
	}
	err := s.writer.Serialize(out)
	if err == nil {
		s.state = SessionRecvingResp
		return nil
	}
	if status.Of(err) == status.InProgress {
		return err
	}
	return s.fail(err)
}

// HandleData parses the proxy reply.
func (s *ConnectSession) HandleData(in *octet.Buffer) error {
	switch s.state {
	case SessionRecvingResp:
	case SessionFailed:
		return s.err
	default:
		return s.fail(fmt.Errorf("%d bytes before the invite was sent: %w", in.DataLength(), status.ProtocolError))
	}

	n, err := s.parser.Parse(in.Data())
	in.SetPopOutLength(n, true)
	switch status.Of(err) {
	case status.InProgress:
		return nil
	case status.Success:
	case status.ConnectFailed:
		return s.fail(err)
	default:
		return s.fail(fmt.Errorf("tunnel reply: %v: %w", err, status.ConnectFailed))
	}

	if !in.IsEmpty() {
		// The origin may not speak before the tunnel is handed over.
		return s.fail(fmt.Errorf("%d bytes after tunnel reply: %w", in.DataLength(), status.ProtocolError))
	}
	s.state = SessionSuccess
	s.logger.Debug("tunnel established")
	if s.secure {
		if err := s.tunnel.ActivateSecure(); err != nil {
			return s.fail(err)
		}
	}
	s.tunnel.EndTunnel()
	return nil
}

func (s *ConnectSession) onHead(p *http1.ResponseParser) error {
	st := p.Status()
	if st.Code != 200 {
		return fmt.Errorf("proxy refused tunnel to %s with %d %s: %w", s.target, st.Code, st.Reason, status.ConnectFailed)
	}
	return nil
}

// HandlePeerClosed fails the negotiation: the proxy hung up before the
// tunnel was handed over.
func (s *ConnectSession) HandlePeerClosed() error {
	if s.state == SessionFailed {
		return s.err
	}
	return s.fail(fmt.Errorf("proxy closed during %s: %w", s.state, status.ConnectFailed))
}

func (s *ConnectSession) fail(err error) error {
	s.state = SessionFailed
	s.err = err
	s.logger.Debug("tunnel failed", zap.Error(err))
	return err
}
