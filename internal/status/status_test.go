package status

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCode_ErrorAndString(t *testing.T) {
	assert.Equal(t, "in progress", InProgress.Error())
	assert.Equal(t, "connect failed", ConnectFailed.String())
	assert.Equal(t, "unknown error", Code(99).String())
	assert.False(t, InProgress.Fatal())
	assert.True(t, ProtocolMalformed.Fatal())
}

func TestOf_UnwrapsWrappedCodes(t *testing.T) {
	err := fmt.Errorf("chunk header: %w", ProtocolMalformed)
	assert.Equal(t, ProtocolMalformed, Of(err))
	assert.True(t, errors.Is(err, ProtocolMalformed))
	assert.Equal(t, Success, Of(nil))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"would block", syscall.EAGAIN, InProgress},
		{"connect in progress", syscall.EINPROGRESS, InProgress},
		{"refused", syscall.ECONNREFUSED, ConnectFailed},
		{"unreachable wrapped", fmt.Errorf("connect: %w", syscall.EHOSTUNREACH), ConnectFailed},
		{"reset", syscall.ECONNRESET, IOError},
		{"broken pipe", syscall.EPIPE, IOError},
		{"nomem", syscall.ENOMEM, NoMemory},
		{"bad fd", syscall.EBADF, IllegalParameter},
		{"eof", io.EOF, Inactive},
		{"closed", net.ErrClosed, Inactive},
		{"unexpected eof", io.ErrUnexpectedEOF, ProtocolMalformed},
		{"deadline", context.DeadlineExceeded, ConnectFailed},
		{"dns", &net.DNSError{Err: "no such host", Name: "x.invalid"}, ConnectFailed},
		{"opaque", errors.New("boom"), Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
