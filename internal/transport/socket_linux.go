//go:build linux

package transport

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"golang.org/x/sys/unix"

	"github.com/YuanQin2000/datax/internal/status"
)

// socketContext is a nonblocking TCP socket.
type socketContext struct {
	fd        int
	peer      netip.AddrPort
	connected bool
}

// DialSocket opens a nonblocking socket and starts connecting to addr.
// The connect completes later, signalled by writability.
func DialSocket(addr netip.AddrPort, cfg *Configure) (IOContext, error) {
	domain := unix.AF_INET
	if addr.Addr().Is6() && !addr.Addr().Is4In6() {
		domain = unix.AF_INET6
	}
	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", status.Classify(err))
	}
	s := &socketContext{fd: fd, peer: addr}
	if err := s.configure(cfg); err != nil {
		unix.Close(fd)
		return nil, err
	}

	err = unix.Connect(fd, sockaddr(addr, domain))
	switch {
	case err == nil:
		s.connected = true
	case errors.Is(err, unix.EINPROGRESS), errors.Is(err, unix.EINTR):
	default:
		unix.Close(fd)
		return nil, fmt.Errorf("connect %s: %v: %w", addr, err, status.ConnectFailed)
	}
	return s, nil
}

func sockaddr(addr netip.AddrPort, domain int) unix.Sockaddr {
	if domain == unix.AF_INET {
		return &unix.SockaddrInet4{Port: int(addr.Port()), Addr: addr.Addr().Unmap().As4()}
	}
	return &unix.SockaddrInet6{Port: int(addr.Port()), Addr: addr.Addr().As16()}
}

func (s *socketContext) configure(cfg *Configure) error {
	if cfg == nil {
		return nil
	}
	if cfg.NoDelay {
		if err := unix.SetsockoptInt(s.fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
			return fmt.Errorf("set TCP_NODELAY: %w", status.Classify(err))
		}
	}
	if cfg.KeepAlive > 0 {
		// Keep-alive is best effort.
		_ = unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
		secs := int(cfg.KeepAlive / time.Second)
		if secs < 1 {
			secs = 1
		}
		_ = unix.SetsockoptInt(s.fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, secs)
		_ = unix.SetsockoptInt(s.fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, secs)
	}
	return nil
}

func (s *socketContext) FD() int { return s.fd }

func (s *socketContext) Connect() error {
	if s.connected {
		return nil
	}
	if s.fd < 0 {
		return status.Inactive
	}
	v, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return fmt.Errorf("connect %s: %w", s.peer, status.Classify(err))
	}
	if v != 0 {
		return fmt.Errorf("connect %s: %v: %w", s.peer, unix.Errno(v), status.ConnectFailed)
	}
	if _, err := unix.Getpeername(s.fd); err != nil {
		if errors.Is(err, unix.ENOTCONN) {
			return status.InProgress
		}
		return fmt.Errorf("connect %s: %v: %w", s.peer, err, status.ConnectFailed)
	}
	s.connected = true
	return nil
}

func (s *socketContext) Read(p []byte) (int, error) {
	for {
		n, err := unix.Read(s.fd, p)
		switch {
		case err == nil && n == 0 && len(p) > 0:
			return 0, status.Inactive
		case err == nil:
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, status.InProgress
		}
		return 0, fmt.Errorf("read %s: %w", s.peer, status.Classify(err))
	}
}

func (s *socketContext) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := unix.Write(s.fd, p[written:])
		if n > 0 {
			written += n
		}
		switch {
		case err == nil:
			continue
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return written, status.InProgress
		}
		return written, fmt.Errorf("write %s: %w", s.peer, status.Classify(err))
	}
	return written, nil
}

func (s *socketContext) Flush() error { return nil }

func (s *socketContext) Close() error {
	if s.fd < 0 {
		return nil
	}
	fd := s.fd
	s.fd = -1
	return unix.Close(fd)
}
