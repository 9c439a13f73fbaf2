//go:build !linux

package transport

import (
	"crypto/tls"
	"net/netip"
	"time"

	"github.com/YuanQin2000/datax/internal/status"
)

func DialSocket(addr netip.AddrPort, cfg *Configure) (IOContext, error) {
	return nil, status.Inactive
}

func newSecureContext(inner IOContext, cfg *tls.Config, timeout time.Duration) (secureIO, error) {
	return nil, status.Inactive
}
