package transport

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/YuanQin2000/datax/internal/status"
)

// Resolver is the blocking name lookup used before a request is routed.
// Address literals never touch the network.
type Resolver struct {
	resolver *net.Resolver
	timeout  time.Duration
}

func NewResolver(r *net.Resolver, timeout time.Duration) *Resolver {
	if r == nil {
		r = net.DefaultResolver
	}
	return &Resolver{resolver: r, timeout: timeout}
}

// QueryIPv4Address returns the first IPv4 address of host.
func (r *Resolver) QueryIPv4Address(ctx context.Context, host string) (netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.Unmap(), nil
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	addrs, err := r.resolver.LookupNetIP(ctx, "ip4", host)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("resolve %s: %v: %w", host, err, status.Classify(err))
	}
	for _, a := range addrs {
		if a = a.Unmap(); a.Is4() {
			return a, nil
		}
	}
	return netip.Addr{}, fmt.Errorf("resolve %s: no IPv4 address: %w", host, status.ConnectFailed)
}
