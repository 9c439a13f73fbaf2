//go:build linux

package transport

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/YuanQin2000/datax/internal/status"
)

// fdConn presents a nonblocking descriptor as a net.Conn. In blocking mode
// (handshake only) it waits with poll(2) up to the deadline; otherwise
// reads report wouldBlock and writes that cannot complete are kept in a
// spill buffer flushed on the next writable edge.
type fdConn struct {
	fd       int
	blocking atomic.Bool
	deadline time.Time
	spill    []byte
}

func (c *fdConn) Read(p []byte) (int, error) {
	for {
		n, err := unix.Read(c.fd, p)
		switch {
		case err == nil && n == 0 && len(p) > 0:
			return 0, io.EOF
		case err == nil:
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case !errors.Is(err, unix.EAGAIN):
			return 0, err
		case !c.blocking.Load():
			return 0, wouldBlock{}
		}
		if err := c.wait(unix.POLLIN); err != nil {
			return 0, err
		}
	}
}

func (c *fdConn) Write(p []byte) (int, error) {
	if c.blocking.Load() {
		written := 0
		for written < len(p) {
			n, err := c.writeSome(p[written:])
			written += n
			if err != nil {
				return written, err
			}
			if written < len(p) {
				if err := c.wait(unix.POLLOUT); err != nil {
					return written, err
				}
			}
		}
		return written, nil
	}

	total := len(p)
	if len(c.spill) == 0 {
		n, err := c.writeSome(p)
		if err != nil {
			return n, err
		}
		p = p[n:]
	}
	c.spill = append(c.spill, p...)
	return total, nil
}

// writeSome writes until the kernel pushes back.
func (c *fdConn) writeSome(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := unix.Write(c.fd, p[written:])
		if n > 0 {
			written += n
		}
		switch {
		case err == nil, errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return written, nil
		}
		return written, err
	}
	return written, nil
}

// flush drains the spill buffer; status.InProgress when some remains.
func (c *fdConn) flush() error {
	if len(c.spill) == 0 {
		return nil
	}
	n, err := c.writeSome(c.spill)
	c.spill = c.spill[n:]
	if err != nil {
		return status.Classify(err)
	}
	if len(c.spill) > 0 {
		return status.InProgress
	}
	c.spill = nil
	return nil
}

func (c *fdConn) wait(events int16) error {
	timeout := -1
	if !c.deadline.IsZero() {
		left := time.Until(c.deadline)
		if left <= 0 {
			return os.ErrDeadlineExceeded
		}
		timeout = int((left + time.Millisecond - 1) / time.Millisecond)
	}
	fds := []unix.PollFd{{Fd: int32(c.fd), Events: events}}
	for {
		n, err := unix.Poll(fds, timeout)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return os.ErrDeadlineExceeded
		}
		return nil
	}
}

// The descriptor belongs to the socket context.
func (c *fdConn) Close() error                       { return nil }
func (c *fdConn) LocalAddr() net.Addr                { return sockAddr(unix.Getsockname(c.fd)) }
func (c *fdConn) RemoteAddr() net.Addr               { return sockAddr(unix.Getpeername(c.fd)) }
func (c *fdConn) SetDeadline(t time.Time) error      { c.deadline = t; return nil }
func (c *fdConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *fdConn) SetWriteDeadline(t time.Time) error { return nil }

func sockAddr(sa unix.Sockaddr, err error) net.Addr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(a.Addr[:]), Port: a.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(a.Addr[:]), Port: a.Port}
	}
	return &net.TCPAddr{}
}

// secureContext runs a TLS client session over a connected socket.
type secureContext struct {
	inner   IOContext
	raw     *fdConn
	tls     *tls.Conn
	timeout time.Duration

	started     bool
	established atomic.Bool
	hsDone      chan struct{}
}

func newSecureContext(inner IOContext, cfg *tls.Config, timeout time.Duration) (secureIO, error) {
	if cfg == nil {
		return nil, fmt.Errorf("tls config missing: %w", status.IllegalParameter)
	}
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	raw := &fdConn{fd: inner.FD()}
	return &secureContext{
		inner:   inner,
		raw:     raw,
		tls:     tls.Client(raw, cfg),
		timeout: timeout,
		hsDone:  make(chan struct{}),
	}, nil
}

func (s *secureContext) FD() int           { return s.inner.FD() }
func (s *secureContext) Established() bool { return s.established.Load() }

func (s *secureContext) Start(notify func(error)) {
	s.started = true
	s.raw.blocking.Store(true)
	s.raw.deadline = time.Now().Add(s.timeout)
	go func() {
		err := s.tls.Handshake()
		s.raw.deadline = time.Time{}
		s.raw.blocking.Store(false)
		if err == nil {
			s.established.Store(true)
		} else {
			err = fmt.Errorf("tls handshake: %v: %w", err, status.ConnectFailed)
		}
		close(s.hsDone)
		notify(err)
	}()
}

func (s *secureContext) Connect() error {
	if s.established.Load() {
		return nil
	}
	return status.InProgress
}

func (s *secureContext) Read(p []byte) (int, error) {
	if !s.established.Load() {
		return 0, status.InProgress
	}
	n, err := s.tls.Read(p)
	if n > 0 {
		return n, nil
	}
	var nerr net.Error
	switch {
	case err == nil:
		return 0, status.InProgress
	case errors.As(err, &nerr) && nerr.Timeout():
		return 0, status.InProgress
	case errors.Is(err, io.EOF):
		return 0, status.Inactive
	}
	return 0, fmt.Errorf("tls read: %v: %w", err, status.IOError)
}

func (s *secureContext) Write(p []byte) (int, error) {
	if !s.established.Load() {
		return 0, status.InProgress
	}
	if err := s.raw.flush(); err != nil {
		return 0, err
	}
	n, err := s.tls.Write(p)
	if err != nil {
		return n, fmt.Errorf("tls write: %v: %w", err, status.IOError)
	}
	return n, nil
}

func (s *secureContext) Flush() error { return s.raw.flush() }

func (s *secureContext) Close() error {
	if s.started {
		select {
		case <-s.hsDone:
		default:
			// Wake the handshake goroutine out of poll and wait for it.
			_ = unix.Shutdown(s.inner.FD(), unix.SHUT_RDWR)
			<-s.hsDone
		}
	}
	return s.inner.Close()
}
