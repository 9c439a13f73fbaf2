// internal/status/status.go
package status

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
)

// Code is the flat result taxonomy shared by every layer of the stack.
// A Code is itself an error so it can be returned directly, wrapped with
// fmt.Errorf("...: %w", code) and tested with errors.Is.
type Code int

const (
	Success Code = iota
	// InProgress means the operation needs more input or more buffer room
	// and must be resumed later. It is never fatal.
	InProgress
	// Inactive means the target is closed or not yet started.
	Inactive
	ProtocolMalformed
	ProtocolError
	ConnectFailed
	IOError
	NoMemory
	IllegalParameter
	Unknown
)

var codeNames = [...]string{
	Success:           "success",
	InProgress:        "in progress",
	Inactive:          "inactive",
	ProtocolMalformed: "protocol malformed",
	ProtocolError:     "protocol error",
	ConnectFailed:     "connect failed",
	IOError:           "i/o error",
	NoMemory:          "no memory",
	IllegalParameter:  "illegal parameter",
	Unknown:           "unknown error",
}

func (c Code) String() string {
	if c < 0 || int(c) >= len(codeNames) {
		return codeNames[Unknown]
	}
	return codeNames[c]
}

func (c Code) Error() string { return c.String() }

// Fatal reports whether the code terminates the object that produced it.
func (c Code) Fatal() bool {
	return c != Success && c != InProgress
}

// Of extracts the Code carried by err. A nil error is Success; anything
// that carries no Code is classified as an OS/runtime error.
func Of(err error) Code {
	if err == nil {
		return Success
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return Classify(err)
}

// Classify maps a raw OS or runtime error onto the taxonomy. It is applied
// once where a syscall result crosses into the stack.
func Classify(err error) Code {
	if err == nil {
		return Success
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.EAGAIN, syscall.EINPROGRESS, syscall.EALREADY, syscall.EINTR:
			return InProgress
		case syscall.ECONNREFUSED, syscall.ETIMEDOUT, syscall.EHOSTUNREACH,
			syscall.ENETUNREACH, syscall.EADDRNOTAVAIL:
			return ConnectFailed
		case syscall.ENOMEM, syscall.ENOBUFS:
			return NoMemory
		case syscall.EINVAL, syscall.EBADF, syscall.EFAULT, syscall.ENOTSOCK:
			return IllegalParameter
		case syscall.EPIPE, syscall.ECONNRESET, syscall.ECONNABORTED, syscall.ENOTCONN:
			return IOError
		}
		return IOError
	}

	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		return Inactive
	case errors.Is(err, io.ErrUnexpectedEOF):
		return ProtocolMalformed
	case errors.Is(err, context.DeadlineExceeded):
		return ConnectFailed
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ConnectFailed
	}
	return Unknown
}
